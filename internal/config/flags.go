package config

import (
	"time"

	"github.com/spf13/pflag"
)

// Flag names shared by every command.
const (
	FlagBackend       = "backend"
	FlagTimeout       = "timeout"
	FlagLimitUpload   = "limit-upload"
	FlagLimitDownload = "limit-download"
	FlagRefreshLead   = "refresh-lead"
)

// RegisterFlags declares the configuration flags on fs. Defaults shown in
// help come from LoadDefaults; only flags the user actually set override
// the file.
func RegisterFlags(fs *pflag.FlagSet) {
	var d Config
	d.LoadDefaults()
	fs.String(FlagBackend, d.Backend, "storage backend: disk or cloud")
	fs.Duration(FlagTimeout, d.Timeout, "abort the operation after this long (0 = no timeout)")
	fs.Int(FlagLimitUpload, d.UploadLimitKiB, "upload rate limit in KiB/s (0 = unlimited)")
	fs.Int(FlagLimitDownload, d.DownloadLimitKiB, "download rate limit in KiB/s (0 = unlimited)")
	fs.Duration(FlagRefreshLead, d.OAuth.RefreshLead, "refresh the access token this long before it expires")
}

// ApplyFlags overlays cfg with every flag in fs that was set on the command line.
func ApplyFlags(cfg *Config, fs *pflag.FlagSet) error {
	var err error
	fs.Visit(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		switch f.Name {
		case FlagBackend:
			cfg.Backend, err = fs.GetString(f.Name)
		case FlagTimeout:
			cfg.Timeout, err = fs.GetDuration(f.Name)
		case FlagLimitUpload:
			cfg.UploadLimitKiB, err = fs.GetInt(f.Name)
		case FlagLimitDownload:
			cfg.DownloadLimitKiB, err = fs.GetInt(f.Name)
		case FlagRefreshLead:
			var lead time.Duration
			lead, err = fs.GetDuration(f.Name)
			cfg.OAuth.RefreshLead = lead
		}
	})
	if err != nil {
		return err
	}
	return cfg.Validate()
}
