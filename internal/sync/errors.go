package sync

import (
	"errors"
	"fmt"

	"github.com/danieljhkim/gitback/internal/storage"
)

var (
	// ErrVersionConflict is returned when the remote copy is newer than the local one.
	ErrVersionConflict = errors.New("remote version is newer")

	// ErrMirrorMissing is returned when an operation needs a local mirror that does not exist.
	ErrMirrorMissing = errors.New("local mirror not found")

	// ErrTargetExists is returned by Clone when the target directory is already present.
	ErrTargetExists = errors.New("target directory already exists")
)

// VersionConflictError reports a push rejected because the remote version is newer.
type VersionConflictError struct {
	Ref    storage.RepoRef
	Local  uint64
	Remote uint64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("%s: remote version %d is newer than local version %d, pull first", e.Ref, e.Remote, e.Local)
}

func (e *VersionConflictError) Unwrap() error {
	return ErrVersionConflict
}
