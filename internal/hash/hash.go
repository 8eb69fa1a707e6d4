// Package hash provides the digest primitives used for request signing and
// upload payload hashes.
//
// Everything is SHA-256 based: plain digests for canonical requests and
// payloads, and HMAC-SHA-256 for the signing-key chain. Hasher streams a file
// so large archives are hashed without being loaded into memory.
package hash

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// EmptySHA256Hex is the hex SHA-256 digest of empty input.
const EmptySHA256Hex = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

// SHA256 returns the SHA-256 digest of data.
func SHA256(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// SHA256Hex returns the lower-case hex SHA-256 digest of data.
func SHA256Hex(data []byte) string {
	return hex.EncodeToString(SHA256(data))
}

// HMACSHA256 returns HMAC-SHA-256 of data keyed by key.
func HMACSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write(data)
	return mac.Sum(nil)
}

// Hasher provides an abstraction for file hashing operations.
type Hasher interface {
	// HashFile computes the hex digest of the file at the given path.
	HashFile(path string) (string, error)
}

// SHA256Hasher implements Hasher using SHA-256.
type SHA256Hasher struct{}

// NewSHA256Hasher creates a new SHA256Hasher.
func NewSHA256Hasher() *SHA256Hasher {
	return &SHA256Hasher{}
}

// HashFile computes the SHA-256 hash of the file at the given path.
func (h *SHA256Hasher) HashFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// FakeHasher returns preset digests, falling back to the empty-input digest.
type FakeHasher struct {
	hashes map[string]string
	Calls  []string
}

// NewFakeHasher creates a new FakeHasher.
func NewFakeHasher() *FakeHasher {
	return &FakeHasher{hashes: make(map[string]string)}
}

// SetHash sets the digest returned for path.
func (h *FakeHasher) SetHash(path, hash string) {
	h.hashes[path] = hash
}

// HashFile returns the preset digest for path.
func (h *FakeHasher) HashFile(path string) (string, error) {
	h.Calls = append(h.Calls, path)
	if hash, ok := h.hashes[path]; ok {
		return hash, nil
	}
	return EmptySHA256Hex, nil
}
