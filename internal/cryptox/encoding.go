package cryptox

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// Encoding selects a textual representation of bytes.
type Encoding int

const (
	Raw Encoding = iota
	Base64
	Hex
)

// String returns the encoding name.
func (e Encoding) String() string {
	switch e {
	case Raw:
		return "raw"
	case Base64:
		return "base64"
	case Hex:
		return "hex"
	default:
		return fmt.Sprintf("Encoding(%d)", int(e))
	}
}

// Encode renders b in the given encoding.
func Encode(b []byte, enc Encoding) (string, error) {
	switch enc {
	case Raw:
		return string(b), nil
	case Base64:
		return base64.StdEncoding.EncodeToString(b), nil
	case Hex:
		return hex.EncodeToString(b), nil
	default:
		return "", fmt.Errorf("unsupported encoding %s", enc)
	}
}

// Decode parses s from the given encoding.
func Decode(s string, enc Encoding) ([]byte, error) {
	switch enc {
	case Raw:
		return []byte(s), nil
	case Base64:
		return base64.StdEncoding.DecodeString(s)
	case Hex:
		return hex.DecodeString(s)
	default:
		return nil, fmt.Errorf("unsupported encoding %s", enc)
	}
}

// MarshalKey renders k as "<base64 key>:<base64 iv>".
func MarshalKey(k Key) string {
	return base64.StdEncoding.EncodeToString(k.Key) + ":" + base64.StdEncoding.EncodeToString(k.IV)
}

// UnmarshalKey parses the form produced by MarshalKey and validates lengths.
func UnmarshalKey(s string) (Key, error) {
	keyPart, ivPart, ok := strings.Cut(s, ":")
	if !ok {
		return Key{}, fmt.Errorf("key must have the form <key>:<iv>")
	}
	key, err := Decode(keyPart, Base64)
	if err != nil {
		return Key{}, fmt.Errorf("invalid key encoding: %w", err)
	}
	iv, err := Decode(ivPart, Base64)
	if err != nil {
		return Key{}, fmt.Errorf("invalid iv encoding: %w", err)
	}
	k := Key{Key: key, IV: iv}
	if err := k.Validate(); err != nil {
		return Key{}, err
	}
	return k, nil
}
