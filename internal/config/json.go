package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// Duration accepts either a Go duration string ("168h") or integer seconds.
type Duration time.Duration

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(v)
		return nil
	}
	var secs int64
	if err := json.Unmarshal(b, &secs); err != nil {
		return fmt.Errorf("duration must be a string or integer seconds: %s", b)
	}
	*d = Duration(time.Duration(secs) * time.Second)
	return nil
}

// jsonConfig is the on-disk shape of config.json. Pointer fields tell an
// absent key apart from a zero value.
type jsonConfig struct {
	Backend          *string   `json:"backend"`
	ServerRoot       *string   `json:"server_root"`
	UploadLimitKiB   *int      `json:"upload_limit_kib"`
	DownloadLimitKiB *int      `json:"download_limit_kib"`
	Timeout          *Duration `json:"timeout"`

	Disk *struct {
		APIURL   *string `json:"api_url"`
		PageSize *int    `json:"page_size"`
	} `json:"disk"`

	Cloud *struct {
		Endpoint     *string `json:"endpoint"`
		Region       *string `json:"region"`
		StorageClass *string `json:"storage_class"`
	} `json:"cloud"`

	OAuth *struct {
		AuthorizeURL *string   `json:"authorize_url"`
		TokenURL     *string   `json:"token_url"`
		RedirectURI  *string   `json:"redirect_uri"`
		RefreshLead  *Duration `json:"refresh_lead"`
		ReauthLead   *Duration `json:"reauth_lead"`
	} `json:"oauth"`
}

// parseJSON overlays cfg with the values present in the file at path.
// A missing file leaves cfg untouched.
func parseJSON(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var jc jsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	setString(&cfg.Backend, jc.Backend)
	setString(&cfg.ServerRoot, jc.ServerRoot)
	setInt(&cfg.UploadLimitKiB, jc.UploadLimitKiB)
	setInt(&cfg.DownloadLimitKiB, jc.DownloadLimitKiB)
	setDuration(&cfg.Timeout, jc.Timeout)

	if d := jc.Disk; d != nil {
		setString(&cfg.Disk.APIURL, d.APIURL)
		setInt(&cfg.Disk.PageSize, d.PageSize)
	}
	if c := jc.Cloud; c != nil {
		setString(&cfg.Cloud.Endpoint, c.Endpoint)
		setString(&cfg.Cloud.Region, c.Region)
		setString(&cfg.Cloud.StorageClass, c.StorageClass)
	}
	if o := jc.OAuth; o != nil {
		setString(&cfg.OAuth.AuthorizeURL, o.AuthorizeURL)
		setString(&cfg.OAuth.TokenURL, o.TokenURL)
		setString(&cfg.OAuth.RedirectURI, o.RedirectURI)
		setDuration(&cfg.OAuth.RefreshLead, o.RefreshLead)
		setDuration(&cfg.OAuth.ReauthLead, o.ReauthLead)
	}
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *Duration) {
	if v != nil {
		*dst = time.Duration(*v)
	}
}
