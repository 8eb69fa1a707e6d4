// Package cryptox implements the symmetric cipher applied to archive blobs
// in transit: AES-256-CBC with PKCS#7 padding and a random 32-byte key plus
// 16-byte IV generated once per installation.
package cryptox

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32
	// IVSize is the CBC initialization vector length in bytes.
	IVSize = aes.BlockSize
)

// ErrCipher marks every encryption or decryption failure.
var ErrCipher = errors.New("cipher failure")

// Key is an AES-256-CBC key with its fixed IV.
type Key struct {
	Key []byte
	IV  []byte
}

// Validate checks the key and IV lengths.
func (k Key) Validate() error {
	if len(k.Key) != KeySize {
		return fmt.Errorf("%w: key must be %d bytes, got %d", ErrCipher, KeySize, len(k.Key))
	}
	if len(k.IV) != IVSize {
		return fmt.Errorf("%w: iv must be %d bytes, got %d", ErrCipher, IVSize, len(k.IV))
	}
	return nil
}

// Equal reports whether two keys have identical material.
func (k Key) Equal(o Key) bool {
	return bytes.Equal(k.Key, o.Key) && bytes.Equal(k.IV, o.IV)
}

// GenerateKey draws 48 random bytes: the first 32 form the key, the last 16 the IV.
func GenerateKey() (Key, error) {
	buf := make([]byte, KeySize+IVSize)
	if _, err := rand.Read(buf); err != nil {
		return Key{}, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return Key{Key: buf[:KeySize], IV: buf[KeySize:]}, nil
}

// Encrypt pads data with PKCS#7 and encrypts it with AES-256-CBC.
func Encrypt(data []byte, k Key) ([]byte, error) {
	block, err := newBlock(k)
	if err != nil {
		return nil, err
	}
	padded := pad(data, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, k.IV).CryptBlocks(out, padded)
	return out, nil
}

// Decrypt reverses Encrypt. Ciphertext that is empty, not block aligned or
// carries invalid padding yields an error wrapping ErrCipher.
func Decrypt(data []byte, k Key) ([]byte, error) {
	block, err := newBlock(k)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d is not a positive multiple of %d", ErrCipher, len(data), aes.BlockSize)
	}
	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, k.IV).CryptBlocks(out, data)
	return unpad(out, aes.BlockSize)
}

func newBlock(k Key) (cipher.Block, error) {
	if err := k.Validate(); err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(k.Key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCipher, err)
	}
	return block, nil
}

func pad(data []byte, size int) []byte {
	n := size - len(data)%size
	out := make([]byte, len(data), len(data)+n)
	copy(out, data)
	return append(out, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(data []byte, size int) ([]byte, error) {
	n := int(data[len(data)-1])
	if n == 0 || n > size || n > len(data) {
		return nil, fmt.Errorf("%w: invalid padding", ErrCipher)
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, fmt.Errorf("%w: invalid padding", ErrCipher)
		}
	}
	return data[:len(data)-n], nil
}
