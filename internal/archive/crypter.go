package archive

import (
	"fmt"

	"github.com/danieljhkim/gitback/internal/cryptox"
	"github.com/danieljhkim/gitback/internal/fsops"
)

// KeySource resolves the archive encryption key.
type KeySource interface {
	ArchiveKey() (cryptox.Key, error)
}

// Crypter encrypts and decrypts archive blobs in place.
type Crypter struct {
	keys KeySource
	fs   fsops.FS
}

// NewCrypter creates a Crypter.
func NewCrypter(keys KeySource, fs fsops.FS) *Crypter {
	return &Crypter{keys: keys, fs: fs}
}

// EncryptFile replaces the file at path with its ciphertext.
func (c *Crypter) EncryptFile(path string) error {
	return c.transform(path, cryptox.Encrypt)
}

// DecryptFile replaces the file at path with its plaintext. On failure the
// file is left as it was and the error wraps cryptox.ErrCipher.
func (c *Crypter) DecryptFile(path string) error {
	return c.transform(path, cryptox.Decrypt)
}

func (c *Crypter) transform(path string, fn func([]byte, cryptox.Key) ([]byte, error)) error {
	key, err := c.keys.ArchiveKey()
	if err != nil {
		return fmt.Errorf("failed to load archive key: %w", err)
	}
	data, err := c.fs.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read archive: %w", err)
	}
	out, err := fn(data, key)
	if err != nil {
		return err
	}
	if err := c.fs.AtomicWrite(path, out, 0600); err != nil {
		return fmt.Errorf("failed to write archive: %w", err)
	}
	return nil
}
