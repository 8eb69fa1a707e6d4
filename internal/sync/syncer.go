// Package sync moves repositories between working copies, local bare
// mirrors and a storage backend.
//
// A push updates the mirror from the working copy, checks the version
// counters, then packs, encrypts and uploads the mirror. A pull does the
// reverse. The temporary archive next to the mirror is removed on every exit
// path except a failed decryption, which leaves it for inspection.
package sync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/danieljhkim/gitback/internal/archive"
	"github.com/danieljhkim/gitback/internal/config"
	"github.com/danieljhkim/gitback/internal/cryptox"
	"github.com/danieljhkim/gitback/internal/fsops"
	"github.com/danieljhkim/gitback/internal/gitx"
	"github.com/danieljhkim/gitback/internal/storage"
)

// Crypter encrypts and decrypts an archive file in place.
type Crypter interface {
	EncryptFile(path string) error
	DecryptFile(path string) error
}

var _ Crypter = (*archive.Crypter)(nil)

// Syncer orchestrates push, pull, clone and migrate.
type Syncer struct {
	backend  storage.Backend
	mirrors  gitx.MirrorManager
	codec    archive.Codec
	crypter  Crypter
	versions *VersionStore
	fs       fsops.FS
	paths    *config.Paths
	logger   *zap.Logger
}

// New creates a new Syncer with the specified dependencies.
func New(
	backend storage.Backend,
	mirrors gitx.MirrorManager,
	codec archive.Codec,
	crypter Crypter,
	versions *VersionStore,
	fs fsops.FS,
	paths *config.Paths,
	logger *zap.Logger,
) *Syncer {
	return &Syncer{
		backend:  backend,
		mirrors:  mirrors,
		codec:    codec,
		crypter:  crypter,
		versions: versions,
		fs:       fs,
		paths:    paths,
		logger:   logger,
	}
}

// RefForWorkingDir derives the repository identity of a working copy: the
// repository is the directory name and the project is its parent's name.
func RefForWorkingDir(root string) (storage.RepoRef, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return storage.RepoRef{}, fmt.Errorf("failed to get absolute path: %w", err)
	}
	ref := storage.RepoRef{
		Project: filepath.Base(filepath.Dir(abs)),
		Repo:    filepath.Base(abs),
	}
	if err := ref.Validate(); err != nil {
		return storage.RepoRef{}, fmt.Errorf("cannot derive repository from %s: %w", abs, err)
	}
	return ref, nil
}

// Push updates the mirror from the working copy when one is given and
// uploads the mirror to the backend.
func (s *Syncer) Push(ctx context.Context, req *PushRequest) (*PushResult, error) {
	ref := req.Ref
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	log := s.logger.With(zap.String("repo", ref.String()), zap.String("backend", s.backend.Name()))
	mirrorDir := s.paths.MirrorDir(ref.Project, ref.Repo)

	exists, err := s.mirrors.MirrorExists(mirrorDir)
	if err != nil {
		return nil, err
	}
	if req.WorkingDir == "" && !exists {
		return nil, fmt.Errorf("%w: %s", ErrMirrorMissing, mirrorDir)
	}

	// A refused push must not touch the working copy or the mirror.
	reconciler := NewReconciler(s.backend, s.versions, log)
	if err := reconciler.CheckBeforePush(ctx, ref); err != nil {
		return nil, err
	}

	created := false
	switch {
	case req.WorkingDir != "" && !exists:
		log.Info("creating mirror", zap.String("working_dir", req.WorkingDir))
		if err := s.mirrors.CloneWorkingToMirror(ctx, req.WorkingDir, mirrorDir); err != nil {
			return nil, err
		}
		created = true
	case req.WorkingDir != "":
		log.Info("pushing working copy to mirror", zap.String("working_dir", req.WorkingDir))
		if err := s.mirrors.PushWorkingToMirror(ctx, req.WorkingDir); err != nil {
			return nil, err
		}
	}

	version, size, err := s.upload(ctx, s.backend, reconciler, ref, log)
	if err != nil {
		return nil, err
	}

	return &PushResult{
		Ref:           ref,
		Repo:          ref.String(),
		Backend:       s.backend.Name(),
		MirrorCreated: created,
		Version:       version,
		ArchiveBytes:  size,
	}, nil
}

// Pull replaces the mirror with the backend copy and, when a working copy
// is given, pulls it from the mirror.
func (s *Syncer) Pull(ctx context.Context, req *PullRequest) (*PullResult, error) {
	ref := req.Ref
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	log := s.logger.With(zap.String("repo", ref.String()), zap.String("backend", s.backend.Name()))

	version, err := s.download(ctx, s.backend, ref, log)
	if err != nil {
		return nil, err
	}

	result := &PullResult{
		Ref:     ref,
		Repo:    ref.String(),
		Backend: s.backend.Name(),
		Version: version,
	}

	if req.WorkingDir != "" {
		mirrorDir := s.paths.MirrorDir(ref.Project, ref.Repo)
		if err := s.mirrors.ChangeWorkingRemote(ctx, req.WorkingDir, mirrorDir); err != nil {
			return nil, err
		}
		if err := s.mirrors.PullMirrorToWorking(ctx, req.WorkingDir); err != nil {
			return nil, err
		}
		result.WorkingUpdated = true
	}

	return result, nil
}

// Clone downloads a repository and clones it into <TargetDir>/<project>/<repo>.
func (s *Syncer) Clone(ctx context.Context, req *CloneRequest) (*CloneResult, error) {
	ref := req.Ref
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	log := s.logger.With(zap.String("repo", ref.String()), zap.String("backend", s.backend.Name()))

	target := filepath.Join(req.TargetDir, ref.Project, ref.Repo)
	exists, err := s.fs.Exists(target)
	if err != nil {
		return nil, fmt.Errorf("failed to check target: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrTargetExists, target)
	}

	version, err := s.download(ctx, s.backend, ref, log)
	if err != nil {
		return nil, err
	}

	mirrorDir := s.paths.MirrorDir(ref.Project, ref.Repo)
	if err := s.mirrors.CloneMirrorToWorking(ctx, mirrorDir, target); err != nil {
		return nil, err
	}
	log.Info("cloned", zap.String("target", target))

	return &CloneResult{
		Ref:       ref,
		Repo:      ref.String(),
		Backend:   s.backend.Name(),
		Version:   version,
		TargetDir: target,
	}, nil
}

// List returns the repositories stored on the backend.
func (s *Syncer) List(ctx context.Context) (*ListResult, error) {
	projects, err := s.backend.ListRepositories(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}
	return &ListResult{Backend: s.backend.Name(), Projects: projects}, nil
}

// Migrate copies a repository from one backend to another through the
// local mirror. Working copies are not touched.
func (s *Syncer) Migrate(ctx context.Context, from, to storage.Backend, ref storage.RepoRef) (*MigrateResult, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	if from == to {
		return nil, fmt.Errorf("cannot migrate %s to itself", from.Name())
	}
	log := s.logger.With(zap.String("repo", ref.String()), zap.String("from", from.Name()), zap.String("to", to.Name()))

	if _, err := s.download(ctx, from, ref, log); err != nil {
		return nil, fmt.Errorf("failed to pull from %s: %w", from.Name(), err)
	}
	reconciler := NewReconciler(to, s.versions, log)
	if err := reconciler.CheckBeforePush(ctx, ref); err != nil {
		return nil, fmt.Errorf("failed to push to %s: %w", to.Name(), err)
	}
	version, _, err := s.upload(ctx, to, reconciler, ref, log)
	if err != nil {
		return nil, fmt.Errorf("failed to push to %s: %w", to.Name(), err)
	}

	return &MigrateResult{
		Ref:     ref,
		Repo:    ref.String(),
		From:    from.Name(),
		To:      to.Name(),
		Version: version,
	}, nil
}

// Clear removes the local mirror, archive and version file of ref.
func (s *Syncer) Clear(ref storage.RepoRef) (*ClearResult, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}

	result := &ClearResult{}
	for _, path := range []string{
		s.paths.MirrorDir(ref.Project, ref.Repo),
		s.paths.ArchivePath(ref.Project, ref.Repo),
		s.paths.VersionPath(ref.Project, ref.Repo),
	} {
		removed, err := s.removePath(path)
		if err != nil {
			return nil, err
		}
		if removed {
			result.Removed = append(result.Removed, path)
		}
	}

	// Drop the project directory once it is empty.
	projectDir := s.paths.ProjectDir(ref.Project)
	if names, err := s.fs.ReadDir(projectDir); err == nil && len(names) == 0 {
		_ = s.fs.Remove(projectDir)
	}

	s.logger.Info("cleared local copy", zap.String("repo", ref.String()), zap.Int("removed", len(result.Removed)))
	return result, nil
}

// ClearAll removes every project under the data directory.
func (s *Syncer) ClearAll() (*ClearResult, error) {
	names, err := s.fs.ReadDir(s.paths.Data)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &ClearResult{}, nil
		}
		return nil, fmt.Errorf("failed to read data directory: %w", err)
	}

	result := &ClearResult{}
	for _, name := range names {
		path := filepath.Join(s.paths.Data, name)
		if err := s.fs.RemoveAll(path); err != nil {
			return nil, fmt.Errorf("failed to remove %s: %w", path, err)
		}
		result.Removed = append(result.Removed, path)
	}

	s.logger.Info("cleared all local copies", zap.Int("removed", len(result.Removed)))
	return result, nil
}

// upload packs, encrypts and sends the mirror of ref. The caller has
// already passed reconciler.CheckBeforePush for ref.
func (s *Syncer) upload(ctx context.Context, backend storage.Backend, reconciler *Reconciler, ref storage.RepoRef, log *zap.Logger) (uint64, int64, error) {
	mirrorDir := s.paths.MirrorDir(ref.Project, ref.Repo)
	archivePath := s.paths.ArchivePath(ref.Project, ref.Repo)
	defer s.removeArchive(archivePath, log)

	if err := s.codec.Pack(ctx, mirrorDir, archivePath); err != nil {
		return 0, 0, fmt.Errorf("failed to pack mirror: %w", err)
	}
	if err := s.crypter.EncryptFile(archivePath); err != nil {
		return 0, 0, fmt.Errorf("failed to encrypt archive: %w", err)
	}

	info, err := os.Stat(archivePath)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to stat archive: %w", err)
	}

	log.Info("sending archive", zap.Int64("bytes", info.Size()))
	if err := backend.SendArchive(ctx, ref, archivePath); err != nil {
		return 0, 0, fmt.Errorf("failed to send archive: %w", err)
	}

	version, err := reconciler.AfterSuccessfulPush(ctx, ref)
	if err != nil {
		return 0, 0, err
	}
	log.Info("pushed", zap.Uint64("version", version))
	return version, info.Size(), nil
}

// download receives, decrypts and unpacks ref's archive over the local
// mirror, then adopts the remote version.
func (s *Syncer) download(ctx context.Context, backend storage.Backend, ref storage.RepoRef, log *zap.Logger) (version uint64, err error) {
	projectDir := s.paths.ProjectDir(ref.Project)
	if err := s.fs.MkdirAll(projectDir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create project directory: %w", err)
	}

	archivePath := s.paths.ArchivePath(ref.Project, ref.Repo)
	defer func() {
		if errors.Is(err, cryptox.ErrCipher) {
			log.Warn("archive left in place after decrypt failure", zap.String("path", archivePath))
			return
		}
		s.removeArchive(archivePath, log)
	}()

	log.Info("receiving archive")
	if err := backend.ReceiveArchive(ctx, ref, archivePath); err != nil {
		return 0, fmt.Errorf("failed to receive archive: %w", err)
	}
	if err := s.crypter.DecryptFile(archivePath); err != nil {
		return 0, fmt.Errorf("failed to decrypt archive: %w", err)
	}
	if err := s.codec.Unpack(ctx, archivePath, s.paths.MirrorDir(ref.Project, ref.Repo)); err != nil {
		return 0, fmt.Errorf("failed to unpack archive: %w", err)
	}

	reconciler := NewReconciler(backend, s.versions, log)
	version, err = reconciler.ReceiveVersion(ctx, ref, true)
	if err != nil {
		return 0, err
	}
	log.Info("pulled", zap.Uint64("version", version))
	return version, nil
}

func (s *Syncer) removeArchive(path string, log *zap.Logger) {
	if _, err := s.removePath(path); err != nil {
		log.Warn("failed to remove archive", zap.String("path", path), zap.Error(err))
	}
}

// removePath removes path recursively and reports whether it existed.
func (s *Syncer) removePath(path string) (bool, error) {
	exists, err := s.fs.Exists(path)
	if err != nil {
		return false, fmt.Errorf("failed to check %s: %w", path, err)
	}
	if !exists {
		return false, nil
	}
	if err := s.fs.RemoveAll(path); err != nil {
		return false, fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return true, nil
}
