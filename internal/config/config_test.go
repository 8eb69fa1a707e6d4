package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) *Paths {
	t.Helper()
	p := NewPaths(t.TempDir())
	require.NoError(t, os.WriteFile(p.Config, []byte(body), 0o600))
	return p
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	p := NewPaths(t.TempDir())

	cfg, err := Load(p)
	require.NoError(t, err)

	var want Config
	want.LoadDefaults()
	if diff := cmp.Diff(&want, cfg); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}
	assert.NoError(t, cfg.Validate())
}

func TestLoad_JSONOverlaysOnlyPresentKeys(t *testing.T) {
	p := writeConfig(t, `{
		"backend": "cloud",
		"upload_limit_kib": 512,
		"cloud": {"storage_class": "STANDARD"},
		"oauth": {"refresh_lead": "48h", "reauth_lead": 600}
	}`)

	cfg, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, BackendCloud, cfg.Backend)
	assert.Equal(t, 512, cfg.UploadLimitKiB)
	assert.Equal(t, "STANDARD", cfg.Cloud.StorageClass)
	assert.Equal(t, "ru-central1", cfg.Cloud.Region, "untouched keys keep defaults")
	assert.Equal(t, 48*time.Hour, cfg.OAuth.RefreshLead)
	assert.Equal(t, 10*time.Minute, cfg.OAuth.ReauthLead)
	assert.Equal(t, "/git", cfg.ServerRoot)
}

func TestLoad_InvalidJSON(t *testing.T) {
	p := writeConfig(t, `{"backend":`)
	_, err := Load(p)
	require.Error(t, err)
}

func TestLoad_InvalidDuration(t *testing.T) {
	p := writeConfig(t, `{"timeout": "soon"}`)
	_, err := Load(p)
	require.Error(t, err)
}

func TestApplyFlags(t *testing.T) {
	newFlags := func(t *testing.T, args ...string) *pflag.FlagSet {
		t.Helper()
		fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
		RegisterFlags(fs)
		require.NoError(t, fs.Parse(args))
		return fs
	}

	t.Run("unset flags keep file values", func(t *testing.T) {
		cfg := &Config{}
		cfg.LoadDefaults()
		cfg.Backend = BackendCloud

		require.NoError(t, ApplyFlags(cfg, newFlags(t)))
		assert.Equal(t, BackendCloud, cfg.Backend)
	})

	t.Run("set flags win", func(t *testing.T) {
		cfg := &Config{}
		cfg.LoadDefaults()

		fs := newFlags(t, "--backend=cloud", "--limit-download=64", "--timeout=5m", "--refresh-lead=72h")
		require.NoError(t, ApplyFlags(cfg, fs))
		assert.Equal(t, BackendCloud, cfg.Backend)
		assert.Equal(t, 64, cfg.DownloadLimitKiB)
		assert.Equal(t, 5*time.Minute, cfg.Timeout)
		assert.Equal(t, 72*time.Hour, cfg.OAuth.RefreshLead)
	})

	t.Run("unknown backend is rejected", func(t *testing.T) {
		cfg := &Config{}
		cfg.LoadDefaults()
		err := ApplyFlags(cfg, newFlags(t, "--backend=ftp"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown backend")
	})

	t.Run("refresh lead shorter than reauth lead is rejected", func(t *testing.T) {
		cfg := &Config{}
		cfg.LoadDefaults()
		err := ApplyFlags(cfg, newFlags(t, "--refresh-lead=10m"))
		require.Error(t, err)
	})
}

func TestPathsUseFilepath(t *testing.T) {
	p := NewPaths("root")
	assert.Equal(t, filepath.Join("root", "credentials"), p.Credentials)
}
