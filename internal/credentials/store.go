// Package credentials persists the secrets gitback needs: the OAuth app
// identity, the access token, the archive encryption key and the cloud
// service-account key. Each lives in its own JSON file so that one can be
// replaced without touching the others.
package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/danieljhkim/gitback/internal/cryptox"
	"github.com/danieljhkim/gitback/internal/fsops"
)

// File names under the credentials directory.
const (
	AppFileName          = "app.json"
	ArchiveKeyFileName   = "archive_key.json"
	CloudAccountFileName = "cloud_account.json"
	TokenFileName        = "token.json"
)

// App identifies the OAuth application registered with the disk provider.
type App struct {
	ID     string `json:"id"`
	Secret string `json:"secret"`
}

// CloudAccount is the service-account static key of the S3-compatible store.
type CloudAccount struct {
	Bucket      string `json:"bucket"`
	AccessKeyID string `json:"accessKeyId"`
	AccessKey   string `json:"accessKey"`
}

// Token is the persisted OAuth bearer token.
type Token struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	ExpiresInSeconds int64     `json:"expiresInSeconds"`
	IssuedAt         time.Time `json:"issuedAt"`
}

// ExpiresIn returns the token lifetime.
func (t *Token) ExpiresIn() time.Duration {
	return time.Duration(t.ExpiresInSeconds) * time.Second
}

// ExpiresAt returns the instant the provider stops accepting the token.
func (t *Token) ExpiresAt() time.Time {
	return t.IssuedAt.Add(t.ExpiresIn())
}

type archiveKeyRecord struct {
	Crypt string `json:"crypt"`
}

// Store reads and writes credential files in one directory.
type Store struct {
	fs  fsops.FS
	dir string
}

// NewStore creates a Store rooted at dir.
func NewStore(fs fsops.FS, dir string) *Store {
	return &Store{fs: fs, dir: dir}
}

// Dir returns the credentials directory.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}

// AppCredentials loads the OAuth app identity.
func (s *Store) AppCredentials() (*App, error) {
	var app App
	if err := s.load(AppFileName, &app); err != nil {
		return nil, err
	}
	if app.ID == "" || app.Secret == "" {
		return nil, fmt.Errorf("%w: %s requires id and secret", ErrCredentialMalformed, AppFileName)
	}
	return &app, nil
}

// SaveAppCredentials writes the OAuth app identity.
func (s *Store) SaveAppCredentials(app *App) error {
	return s.save(AppFileName, app)
}

// CloudAccount loads the cloud service-account key.
func (s *Store) CloudAccount() (*CloudAccount, error) {
	var acc CloudAccount
	if err := s.load(CloudAccountFileName, &acc); err != nil {
		return nil, err
	}
	if acc.Bucket == "" || acc.AccessKeyID == "" || acc.AccessKey == "" {
		return nil, fmt.Errorf("%w: %s requires bucket, accessKeyId and accessKey", ErrCredentialMalformed, CloudAccountFileName)
	}
	return &acc, nil
}

// SaveCloudAccount writes the cloud service-account key.
func (s *Store) SaveCloudAccount(acc *CloudAccount) error {
	return s.save(CloudAccountFileName, acc)
}

// LoadToken loads the persisted token. ErrCredentialMissing means no
// authorization has completed yet.
func (s *Store) LoadToken() (*Token, error) {
	var tok Token
	if err := s.load(TokenFileName, &tok); err != nil {
		return nil, err
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("%w: %s has no accessToken", ErrCredentialMalformed, TokenFileName)
	}
	return &tok, nil
}

// SaveToken replaces the persisted token.
func (s *Store) SaveToken(tok *Token) error {
	return s.save(TokenFileName, tok)
}

// ArchiveKey returns the archive encryption key, generating and persisting
// one on first use. The value returned on bootstrap is the one re-read from
// disk, so a concurrent first run converges on whichever write landed last.
func (s *Store) ArchiveKey() (cryptox.Key, error) {
	key, err := s.loadArchiveKey()
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, ErrCredentialMissing) {
		return cryptox.Key{}, err
	}

	generated, err := cryptox.GenerateKey()
	if err != nil {
		return cryptox.Key{}, fmt.Errorf("failed to generate archive key: %w", err)
	}
	if err := s.save(ArchiveKeyFileName, &archiveKeyRecord{Crypt: cryptox.MarshalKey(generated)}); err != nil {
		return cryptox.Key{}, err
	}
	return s.loadArchiveKey()
}

func (s *Store) loadArchiveKey() (cryptox.Key, error) {
	var rec archiveKeyRecord
	if err := s.load(ArchiveKeyFileName, &rec); err != nil {
		return cryptox.Key{}, err
	}
	key, err := cryptox.UnmarshalKey(rec.Crypt)
	if err != nil {
		return cryptox.Key{}, fmt.Errorf("%w: %s: %v", ErrCredentialMalformed, ArchiveKeyFileName, err)
	}
	return key, nil
}

func (s *Store) load(name string, v any) error {
	data, err := s.fs.ReadFile(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrCredentialMissing, s.path(name))
		}
		return fmt.Errorf("failed to read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCredentialMalformed, name, err)
	}
	return nil
}

func (s *Store) save(name string, v any) error {
	if err := s.fs.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("failed to create credentials directory: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}
	if err := s.fs.AtomicWrite(s.path(name), data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}
