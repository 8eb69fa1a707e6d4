package config

import (
	"fmt"
	"time"
)

// Backend names accepted by Config.Backend.
const (
	BackendDisk  = "disk"
	BackendCloud = "cloud"
)

// Config holds the immutable runtime settings of one invocation. It is built
// once by Load and passed to every component constructor.
type Config struct {
	// Backend selects the storage provider: "disk" or "cloud".
	Backend string

	// ServerRoot is the remote folder that holds projects on the disk provider.
	ServerRoot string

	Disk  DiskConfig
	Cloud CloudConfig
	OAuth OAuthConfig

	// UploadLimitKiB and DownloadLimitKiB throttle transfers; 0 means unlimited.
	UploadLimitKiB   int
	DownloadLimitKiB int

	// Timeout bounds a whole operation; 0 means no timeout.
	Timeout time.Duration
}

// DiskConfig configures the token-authenticated file API.
type DiskConfig struct {
	APIURL   string
	PageSize int
}

// CloudConfig configures the S3-compatible object store.
type CloudConfig struct {
	Endpoint     string
	Region       string
	StorageClass string
}

// OAuthConfig configures the authorization flow for the disk provider.
type OAuthConfig struct {
	AuthorizeURL string
	TokenURL     string
	RedirectURI  string

	// RefreshLead is how long before expiry a token is refreshed.
	RefreshLead time.Duration
	// ReauthLead is how long before expiry a token is considered due and
	// re-authorization is required instead of a refresh.
	ReauthLead time.Duration
}

// LoadDefaults populates c with defaults.
func (c *Config) LoadDefaults() {
	c.Backend = BackendDisk
	c.ServerRoot = "/git"
	c.Disk = DiskConfig{
		APIURL:   "https://cloud-api.yandex.net/v1/disk",
		PageSize: 20,
	}
	c.Cloud = CloudConfig{
		Endpoint:     "https://storage.yandexcloud.net",
		Region:       "ru-central1",
		StorageClass: "COLD",
	}
	c.OAuth = OAuthConfig{
		AuthorizeURL: "https://oauth.yandex.ru/authorize",
		TokenURL:     "https://oauth.yandex.ru/token",
		RedirectURI:  "gitback://token",
		RefreshLead:  7 * 24 * time.Hour,
		ReauthLead:   30 * time.Minute,
	}
	c.UploadLimitKiB = 0
	c.DownloadLimitKiB = 0
	c.Timeout = 0
}

// Validate reports settings that cannot work.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendDisk, BackendCloud:
	default:
		return fmt.Errorf("unknown backend %q (want %q or %q)", c.Backend, BackendDisk, BackendCloud)
	}
	if c.Disk.PageSize <= 0 {
		return fmt.Errorf("page size must be positive, got %d", c.Disk.PageSize)
	}
	if c.UploadLimitKiB < 0 || c.DownloadLimitKiB < 0 {
		return fmt.Errorf("transfer limits must not be negative")
	}
	if c.OAuth.RefreshLead < c.OAuth.ReauthLead {
		return fmt.Errorf("refresh lead %s is shorter than re-authorization lead %s", c.OAuth.RefreshLead, c.OAuth.ReauthLead)
	}
	return nil
}

// Load builds a Config from defaults, then the JSON file at paths.Config
// if it exists. Flag overrides are applied by the caller with ApplyFlags.
func Load(paths *Paths) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseJSON(cfg, paths.Config); err != nil {
		return nil, err
	}
	return cfg, nil
}
