package credentials

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danieljhkim/gitback/internal/cryptox"
	"github.com/danieljhkim/gitback/internal/fsops"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(fsops.NewRealFS(), filepath.Join(t.TempDir(), "credentials"))
}

func writeRaw(t *testing.T, s *Store, name, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(s.Dir(), 0700))
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), name), []byte(body), 0600))
}

func TestArchiveKey_GeneratedOnceAndPersisted(t *testing.T) {
	s := newTestStore(t)

	first, err := s.ArchiveKey()
	require.NoError(t, err)
	require.NoError(t, first.Validate())

	second, err := s.ArchiveKey()
	require.NoError(t, err)
	assert.True(t, first.Equal(second), "second call must return the persisted key")

	info, err := os.Stat(filepath.Join(s.Dir(), ArchiveKeyFileName))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestArchiveKey_ReadsExistingRecord(t *testing.T) {
	s := newTestStore(t)
	key, err := cryptox.GenerateKey()
	require.NoError(t, err)
	writeRaw(t, s, ArchiveKeyFileName, `{"crypt":"`+cryptox.MarshalKey(key)+`"}`)

	got, err := s.ArchiveKey()
	require.NoError(t, err)
	assert.True(t, key.Equal(got))
}

func TestArchiveKey_MalformedIsNotRegenerated(t *testing.T) {
	s := newTestStore(t)
	writeRaw(t, s, ArchiveKeyFileName, `{"crypt":"not-a-key"}`)

	_, err := s.ArchiveKey()
	require.ErrorIs(t, err, ErrCredentialMalformed)

	data, _ := os.ReadFile(filepath.Join(s.Dir(), ArchiveKeyFileName))
	assert.Contains(t, string(data), "not-a-key", "a malformed key must never be overwritten")
}

func TestCloudAccount(t *testing.T) {
	t.Run("missing", func(t *testing.T) {
		_, err := newTestStore(t).CloudAccount()
		require.ErrorIs(t, err, ErrCredentialMissing)
	})

	t.Run("malformed json", func(t *testing.T) {
		s := newTestStore(t)
		writeRaw(t, s, CloudAccountFileName, `{`)
		_, err := s.CloudAccount()
		require.ErrorIs(t, err, ErrCredentialMalformed)
	})

	t.Run("missing field", func(t *testing.T) {
		s := newTestStore(t)
		writeRaw(t, s, CloudAccountFileName, `{"bucket":"b","accessKeyId":"id"}`)
		_, err := s.CloudAccount()
		require.ErrorIs(t, err, ErrCredentialMalformed)
	})

	t.Run("save and load", func(t *testing.T) {
		s := newTestStore(t)
		want := &CloudAccount{Bucket: "backups", AccessKeyID: "AKID", AccessKey: "secret"}
		require.NoError(t, s.SaveCloudAccount(want))

		got, err := s.CloudAccount()
		require.NoError(t, err)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("CloudAccount mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestAppCredentials(t *testing.T) {
	s := newTestStore(t)

	_, err := s.AppCredentials()
	require.ErrorIs(t, err, ErrCredentialMissing)

	writeRaw(t, s, AppFileName, `{"id":"client"}`)
	_, err = s.AppCredentials()
	require.ErrorIs(t, err, ErrCredentialMalformed)

	require.NoError(t, s.SaveAppCredentials(&App{ID: "client", Secret: "shh"}))
	app, err := s.AppCredentials()
	require.NoError(t, err)
	assert.Equal(t, "client", app.ID)
	assert.Equal(t, "shh", app.Secret)
}

func TestToken_SaveLoadOverwrite(t *testing.T) {
	s := newTestStore(t)

	_, err := s.LoadToken()
	require.True(t, errors.Is(err, ErrCredentialMissing))

	issued := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	first := &Token{AccessToken: "a1", RefreshToken: "r1", ExpiresInSeconds: 3600, IssuedAt: issued}
	require.NoError(t, s.SaveToken(first))

	second := &Token{AccessToken: "a2", RefreshToken: "r2", ExpiresInSeconds: 7200, IssuedAt: issued.Add(time.Hour)}
	require.NoError(t, s.SaveToken(second))

	got, err := s.LoadToken()
	require.NoError(t, err)
	if diff := cmp.Diff(second, got); diff != "" {
		t.Errorf("token mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, issued.Add(3*time.Hour), got.ExpiresAt())
}
