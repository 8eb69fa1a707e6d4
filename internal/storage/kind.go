package storage

import "fmt"

// Kind selects a backend implementation.
type Kind string

const (
	// KindDisk is the token-authenticated file API.
	KindDisk Kind = "disk"
	// KindCloud is the S3-compatible object store.
	KindCloud Kind = "cloud"
)

// ParseKind validates a backend name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindDisk, KindCloud:
		return k, nil
	default:
		return "", fmt.Errorf("unknown backend %q (want %q or %q)", s, KindDisk, KindCloud)
	}
}
