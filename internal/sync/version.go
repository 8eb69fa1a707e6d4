package sync

import (
	"context"
	"errors"
	"fmt"
	iofs "io/fs"

	"go.uber.org/zap"

	"github.com/danieljhkim/gitback/internal/config"
	"github.com/danieljhkim/gitback/internal/fsops"
	"github.com/danieljhkim/gitback/internal/storage"
)

// VersionStore persists local version counters next to the mirrors.
type VersionStore struct {
	fs    fsops.FS
	paths *config.Paths
}

// NewVersionStore creates a VersionStore rooted at paths.Data.
func NewVersionStore(fs fsops.FS, paths *config.Paths) *VersionStore {
	return &VersionStore{fs: fs, paths: paths}
}

// Load returns the local version of ref. A missing file is version 0.
func (v *VersionStore) Load(ref storage.RepoRef) (uint64, error) {
	data, err := v.fs.ReadFile(v.paths.VersionPath(ref.Project, ref.Repo))
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read local version: %w", err)
	}
	version, err := storage.ParseVersion(data)
	if err != nil {
		return 0, fmt.Errorf("failed to parse local version: %w", err)
	}
	return version, nil
}

// Save writes the local version of ref.
func (v *VersionStore) Save(ref storage.RepoRef, version uint64) error {
	if err := v.fs.AtomicWrite(v.paths.VersionPath(ref.Project, ref.Repo), storage.FormatVersion(version), 0644); err != nil {
		return fmt.Errorf("failed to write local version: %w", err)
	}
	return nil
}

// Reconciler compares local and remote version counters around a push.
// It remembers the remote value seen by CheckBeforePush so the counter can
// be advanced after the upload without a second round trip.
type Reconciler struct {
	backend  storage.Backend
	versions *VersionStore
	logger   *zap.Logger
	observed map[storage.RepoRef]uint64
}

// NewReconciler creates a Reconciler for one backend.
func NewReconciler(backend storage.Backend, versions *VersionStore, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		backend:  backend,
		versions: versions,
		logger:   logger,
		observed: make(map[storage.RepoRef]uint64),
	}
}

// ReceiveVersion fetches the remote version of ref. A repository without a
// remote counter is at version 0. With overwrite the value also becomes the
// local version.
func (r *Reconciler) ReceiveVersion(ctx context.Context, ref storage.RepoRef, overwrite bool) (uint64, error) {
	remote, err := r.backend.ReceiveVersion(ctx, ref)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return 0, fmt.Errorf("failed to receive remote version: %w", err)
		}
		r.logger.Debug("remote version missing", zap.String("repo", ref.String()))
		remote = 0
	}

	if overwrite {
		if err := r.versions.Save(ref, remote); err != nil {
			return 0, err
		}
	}
	return remote, nil
}

// CheckBeforePush fails with *VersionConflictError when the remote version
// is greater than the local one. The local counter is never modified here.
func (r *Reconciler) CheckBeforePush(ctx context.Context, ref storage.RepoRef) error {
	local, err := r.versions.Load(ref)
	if err != nil {
		return err
	}
	remote, err := r.ReceiveVersion(ctx, ref, false)
	if err != nil {
		return err
	}

	r.logger.Debug("version check",
		zap.String("repo", ref.String()),
		zap.Uint64("local", local),
		zap.Uint64("remote", remote),
	)

	if remote > local {
		return &VersionConflictError{Ref: ref, Local: local, Remote: remote}
	}
	r.observed[ref] = remote
	return nil
}

// AfterSuccessfulPush advances the local counter past both the local value
// and the remote value observed by CheckBeforePush, then uploads it. The
// upload is best effort: a failure is logged and the new version is still
// returned.
func (r *Reconciler) AfterSuccessfulPush(ctx context.Context, ref storage.RepoRef) (uint64, error) {
	remoteBefore, ok := r.observed[ref]
	if !ok {
		return 0, fmt.Errorf("no version check recorded for %s", ref)
	}
	delete(r.observed, ref)

	local, err := r.versions.Load(ref)
	if err != nil {
		return 0, err
	}

	next := max(local, remoteBefore) + 1
	if err := r.versions.Save(ref, next); err != nil {
		return 0, err
	}

	if err := r.backend.SendVersion(ctx, ref, next); err != nil {
		r.logger.Warn("failed to send version",
			zap.String("repo", ref.String()),
			zap.Uint64("version", next),
			zap.Error(err),
		)
	}
	return next, nil
}
