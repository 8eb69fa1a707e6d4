// Package fsops provides filesystem operations with safety guarantees.
//
// All local state in gitback (mirrors, archives, version counters and
// credential files) is touched through the FS interface. Small state files
// are replaced with atomic writes so an interrupted run never leaves a
// half-written counter or credential behind.
package fsops

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FS provides an abstraction for filesystem operations.
type FS interface {
	// MkdirAll creates a directory and all parent directories.
	MkdirAll(path string, perm os.FileMode) error

	// Remove removes a file or empty directory.
	Remove(path string) error

	// RemoveAll removes a path and all its contents. A missing path is not an error.
	RemoveAll(path string) error

	// AtomicWrite writes data to path atomically using temp file + rename.
	AtomicWrite(path string, data []byte, perm os.FileMode) error

	// ReadFile reads the entire contents of a file.
	ReadFile(path string) ([]byte, error)

	// ReadDir lists the entry names of a directory.
	ReadDir(path string) ([]string, error)

	// Exists checks if a path exists.
	Exists(path string) (bool, error)

	// ValidateIdentifier validates a project or repository name.
	ValidateIdentifier(id string) error
}

// RealFS implements FS using actual OS operations.
type RealFS struct{}

// NewRealFS creates a new RealFS.
func NewRealFS() *RealFS {
	return &RealFS{}
}

// MkdirAll creates a directory and all parent directories.
func (fs *RealFS) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

// Remove removes a file or empty directory.
func (fs *RealFS) Remove(path string) error {
	return os.Remove(path)
}

// RemoveAll removes a path and all its contents.
func (fs *RealFS) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

// AtomicWrite writes data to path atomically using temp file + rename.
func (fs *RealFS) AtomicWrite(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}

	// Temp file lives next to the target so the rename stays on one device.
	tmpFile, err := os.CreateTemp(dir, ".gitback-tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	defer func() {
		if tmpFile != nil {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	tmpFile = nil
	return nil
}

// ReadFile reads the entire contents of a file.
func (fs *RealFS) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// ReadDir lists the entry names of a directory in lexical order.
func (fs *RealFS) ReadDir(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

// Exists checks if a path exists.
func (fs *RealFS) Exists(path string) (bool, error) {
	_, err := os.Lstat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// ValidateIdentifier validates a project or repository name. Names become
// path components both locally and remotely, so separators and traversal
// are rejected.
func (fs *RealFS) ValidateIdentifier(id string) error {
	return ValidateIdentifier(id)
}

// ValidateIdentifier is the FS-independent form of RealFS.ValidateIdentifier.
func ValidateIdentifier(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("invalid identifier: empty")
	}
	if strings.ContainsAny(id, `/\`) || strings.Contains(id, string(filepath.Separator)) {
		return fmt.Errorf("invalid identifier %q: must not contain path separators", id)
	}
	if id == "." || id == ".." || strings.HasPrefix(id, "..") {
		return fmt.Errorf("invalid identifier %q: path traversal not allowed", id)
	}
	if strings.ContainsAny(id, "?#&%") {
		return fmt.Errorf("invalid identifier %q: must not contain URL metacharacters", id)
	}
	return nil
}
