package sync

import (
	"context"
	"crypto/aes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/danieljhkim/gitback/internal/archive"
	"github.com/danieljhkim/gitback/internal/config"
	"github.com/danieljhkim/gitback/internal/cryptox"
	"github.com/danieljhkim/gitback/internal/fsops"
	"github.com/danieljhkim/gitback/internal/gitx"
	"github.com/danieljhkim/gitback/internal/storage"
	"github.com/danieljhkim/gitback/internal/storage/memory"
)

type staticKey struct{ key cryptox.Key }

func (s staticKey) ArchiveKey() (cryptox.Key, error) { return s.key, nil }

type fixture struct {
	paths    *config.Paths
	backend  *memory.Backend
	mirrors  *gitx.FakeMirrorManager
	versions *VersionStore
	syncer   *Syncer
	ref      storage.RepoRef
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	key, err := cryptox.GenerateKey()
	require.NoError(t, err)

	fs := fsops.NewRealFS()
	paths := config.NewPaths(t.TempDir())
	require.NoError(t, paths.EnsureDirectories())

	f := &fixture{
		paths:    paths,
		backend:  memory.New(),
		mirrors:  gitx.NewFakeMirrorManager(),
		versions: NewVersionStore(fs, paths),
		ref:      storage.RepoRef{Project: "proj", Repo: "app"},
	}
	f.syncer = New(f.backend, f.mirrors, archive.TarGz{}, archive.NewCrypter(staticKey{key}, fs), f.versions, fs, paths, zap.NewNop())
	return f
}

func (f *fixture) mirrorDir() string {
	return f.paths.MirrorDir(f.ref.Project, f.ref.Repo)
}

func (f *fixture) archivePath() string {
	return f.paths.ArchivePath(f.ref.Project, f.ref.Repo)
}

// writeMirror creates a fake bare repository with a couple of files.
func (f *fixture) writeMirror(t *testing.T) {
	t.Helper()
	dir := f.mirrorDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "refs", "heads"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "HEAD"), []byte("ref: refs/heads/main\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "refs", "heads", "main"), []byte("0123456789abcdef\n"), 0o644))
}

func (f *fixture) localVersion(t *testing.T) uint64 {
	t.Helper()
	v, err := f.versions.Load(f.ref)
	require.NoError(t, err)
	return v
}

func (f *fixture) setVersions(t *testing.T, local, remote uint64) {
	t.Helper()
	require.NoError(t, f.versions.Save(f.ref, local))
	f.backend.Put(f.ref.Project, f.ref.VersionName(), storage.FormatVersion(remote))
	f.backend.Calls = nil
}

func snapshot(t *testing.T, root string) map[string]string {
	t.Helper()
	files := make(map[string]string)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	require.NoError(t, err)
	return files
}

func TestPush_CreatesMirrorFromWorkingCopy(t *testing.T) {
	f := newFixture(t)

	result, err := f.syncer.Push(context.Background(), &PushRequest{Ref: f.ref, WorkingDir: "/work/proj/app"})
	require.NoError(t, err)

	assert.True(t, result.MirrorCreated)
	assert.Equal(t, uint64(1), result.Version)
	assert.Equal(t, "proj/app", result.Repo)
	assert.Positive(t, result.ArchiveBytes)
	assert.Equal(t, []string{"clone-to-mirror"}, f.mirrors.Ops())

	assert.Equal(t, uint64(1), f.localVersion(t))
	remote, ok := f.backend.Get("proj", "app.version")
	require.True(t, ok)
	assert.Equal(t, "1", string(remote))

	_, ok = f.backend.Get("proj", "app.git.tar.gz")
	assert.True(t, ok)
	assert.NoFileExists(t, f.archivePath())
}

func TestPush_ExistingMirrorPushesWorkingCopy(t *testing.T) {
	f := newFixture(t)
	f.writeMirror(t)

	result, err := f.syncer.Push(context.Background(), &PushRequest{Ref: f.ref, WorkingDir: "/work/proj/app"})
	require.NoError(t, err)

	assert.False(t, result.MirrorCreated)
	assert.Equal(t, []string{"push"}, f.mirrors.Ops())
}

func TestPush_MirrorOnly(t *testing.T) {
	f := newFixture(t)

	_, err := f.syncer.Push(context.Background(), &PushRequest{Ref: f.ref})
	assert.ErrorIs(t, err, ErrMirrorMissing)

	f.writeMirror(t)
	_, err = f.syncer.Push(context.Background(), &PushRequest{Ref: f.ref})
	require.NoError(t, err)
	assert.Empty(t, f.mirrors.Calls)
}

func TestPush_VersionConflict(t *testing.T) {
	f := newFixture(t)
	f.writeMirror(t)
	f.setVersions(t, 3, 5)

	_, err := f.syncer.Push(context.Background(), &PushRequest{Ref: f.ref})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrVersionConflict)

	var conflict *VersionConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, uint64(3), conflict.Local)
	assert.Equal(t, uint64(5), conflict.Remote)

	assert.Equal(t, uint64(3), f.localVersion(t))
	assert.Equal(t, []string{"ReceiveVersion"}, f.backend.Calls)
	assert.NoFileExists(t, f.archivePath())
}

func TestPush_VersionConflictLeavesWorkingCopyAlone(t *testing.T) {
	tests := []struct {
		name          string
		mirror        bool
		local, remote uint64
	}{
		{name: "first push", mirror: false, local: 0, remote: 5},
		{name: "existing mirror", mirror: true, local: 3, remote: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.mirror {
				f.writeMirror(t)
			}
			f.setVersions(t, tt.local, tt.remote)
			before := map[string]string{}
			if tt.mirror {
				before = snapshot(t, f.mirrorDir())
			}

			_, err := f.syncer.Push(context.Background(), &PushRequest{Ref: f.ref, WorkingDir: "/work/proj/app"})
			assert.ErrorIs(t, err, ErrVersionConflict)

			assert.Empty(t, f.mirrors.Calls)
			assert.Equal(t, tt.local, f.localVersion(t))
			assert.NoFileExists(t, f.archivePath())
			if tt.mirror {
				assert.Equal(t, before, snapshot(t, f.mirrorDir()))
			} else {
				assert.NoDirExists(t, f.mirrorDir())
			}
		})
	}
}

func TestPush_VersionAdvances(t *testing.T) {
	tests := []struct {
		name          string
		local, remote uint64
		want          uint64
	}{
		{name: "equal", local: 3, remote: 3, want: 4},
		{name: "remote behind", local: 3, remote: 1, want: 4},
		{name: "both zero", local: 0, remote: 0, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.writeMirror(t)
			f.setVersions(t, tt.local, tt.remote)

			result, err := f.syncer.Push(context.Background(), &PushRequest{Ref: f.ref})
			require.NoError(t, err)
			assert.Equal(t, tt.want, result.Version)
			assert.Equal(t, tt.want, f.localVersion(t))
		})
	}
}

func TestPush_SendArchiveFailureCleansUp(t *testing.T) {
	f := newFixture(t)
	f.writeMirror(t)
	f.setVersions(t, 2, 2)
	f.backend.SendArchiveErr = storage.Transport("upload archive", errors.New("connection reset"))

	_, err := f.syncer.Push(context.Background(), &PushRequest{Ref: f.ref})
	assert.ErrorIs(t, err, storage.ErrTransport)

	assert.NoFileExists(t, f.archivePath())
	assert.Equal(t, uint64(2), f.localVersion(t))
	assert.NotContains(t, f.backend.Calls, "SendVersion")
}

func TestPush_SendVersionFailureIsBestEffort(t *testing.T) {
	f := newFixture(t)
	f.writeMirror(t)
	f.setVersions(t, 2, 2)
	f.backend.SendVersionErr = &storage.RemoteError{Op: "upload version", StatusCode: 500}

	result, err := f.syncer.Push(context.Background(), &PushRequest{Ref: f.ref})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), result.Version)
	assert.Equal(t, uint64(3), f.localVersion(t))
}

func TestPushPull_RoundTrip(t *testing.T) {
	f := newFixture(t)
	f.writeMirror(t)
	before := snapshot(t, f.mirrorDir())

	_, err := f.syncer.Push(context.Background(), &PushRequest{Ref: f.ref})
	require.NoError(t, err)

	// The uploaded blob is AES ciphertext.
	blob, ok := f.backend.Get("proj", "app.git.tar.gz")
	require.True(t, ok)
	assert.Zero(t, len(blob)%aes.BlockSize)

	_, err = f.syncer.Clear(f.ref)
	require.NoError(t, err)
	assert.NoDirExists(t, f.mirrorDir())

	result, err := f.syncer.Pull(context.Background(), &PullRequest{Ref: f.ref})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), result.Version)
	assert.False(t, result.WorkingUpdated)
	assert.Equal(t, uint64(1), f.localVersion(t))

	if diff := cmp.Diff(before, snapshot(t, f.mirrorDir())); diff != "" {
		t.Errorf("mirror mismatch after round trip (-want +got):\n%s", diff)
	}
	assert.NoFileExists(t, f.archivePath())
}

func TestPull_UpdatesWorkingCopy(t *testing.T) {
	f := newFixture(t)
	f.writeMirror(t)
	_, err := f.syncer.Push(context.Background(), &PushRequest{Ref: f.ref})
	require.NoError(t, err)

	result, err := f.syncer.Pull(context.Background(), &PullRequest{Ref: f.ref, WorkingDir: "/work/proj/app"})
	require.NoError(t, err)
	assert.True(t, result.WorkingUpdated)
	assert.Equal(t, []string{"set-remote", "pull"}, f.mirrors.Ops())
	assert.Equal(t, f.mirrorDir(), f.mirrors.Calls[0].Other)
}

func TestPull_OverwritesLocalVersion(t *testing.T) {
	f := newFixture(t)
	f.writeMirror(t)
	_, err := f.syncer.Push(context.Background(), &PushRequest{Ref: f.ref})
	require.NoError(t, err)
	f.setVersions(t, 9, 4)

	result, err := f.syncer.Pull(context.Background(), &PullRequest{Ref: f.ref})
	require.NoError(t, err)
	assert.Equal(t, uint64(4), result.Version)
	assert.Equal(t, uint64(4), f.localVersion(t))
}

func TestPull_DecryptFailureKeepsArchive(t *testing.T) {
	f := newFixture(t)
	f.backend.Put("proj", "app.git.tar.gz", []byte("garbage"))

	_, err := f.syncer.Pull(context.Background(), &PullRequest{Ref: f.ref})
	require.Error(t, err)
	assert.ErrorIs(t, err, cryptox.ErrCipher)

	assert.FileExists(t, f.archivePath())
	assert.NoDirExists(t, f.mirrorDir())
}

func TestPull_MissingArchive(t *testing.T) {
	f := newFixture(t)

	_, err := f.syncer.Pull(context.Background(), &PullRequest{Ref: f.ref, WorkingDir: "/work/proj/app"})
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.NoFileExists(t, f.archivePath())
	assert.Empty(t, f.mirrors.Calls)
}

func TestClone(t *testing.T) {
	f := newFixture(t)
	f.writeMirror(t)
	_, err := f.syncer.Push(context.Background(), &PushRequest{Ref: f.ref})
	require.NoError(t, err)

	targetRoot := t.TempDir()
	result, err := f.syncer.Clone(context.Background(), &CloneRequest{Ref: f.ref, TargetDir: targetRoot})
	require.NoError(t, err)

	want := filepath.Join(targetRoot, "proj", "app")
	assert.Equal(t, want, result.TargetDir)
	assert.Equal(t, uint64(1), result.Version)
	assert.DirExists(t, want)
	require.Len(t, f.mirrors.Calls, 1)
	assert.Equal(t, gitx.MirrorCall{Op: "clone-to-working", Dir: f.mirrorDir(), Other: want}, f.mirrors.Calls[0])

	// Existing targets are refused before anything is downloaded.
	f.backend.Calls = nil
	_, err = f.syncer.Clone(context.Background(), &CloneRequest{Ref: f.ref, TargetDir: targetRoot})
	assert.ErrorIs(t, err, ErrTargetExists)
	assert.Empty(t, f.backend.Calls)
}

func TestList(t *testing.T) {
	f := newFixture(t)
	f.backend.Put("proj", "a.git.tar.gz", []byte("x"))
	f.backend.Put("proj", "notes.txt", []byte("x"))
	f.backend.Put("proj2", "b.git.tar.gz", []byte("x"))

	result, err := f.syncer.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "memory", result.Backend)
	assert.Equal(t, map[string][]string{"proj": {"a"}, "proj2": {"b"}}, result.Projects)

	f.backend.ListErr = errors.New("boom")
	_, err = f.syncer.List(context.Background())
	assert.Error(t, err)
}

func TestMigrate(t *testing.T) {
	f := newFixture(t)
	f.writeMirror(t)
	_, err := f.syncer.Push(context.Background(), &PushRequest{Ref: f.ref})
	require.NoError(t, err)
	_, err = f.syncer.Push(context.Background(), &PushRequest{Ref: f.ref})
	require.NoError(t, err)

	to := memory.New()
	result, err := f.syncer.Migrate(context.Background(), f.backend, to, f.ref)
	require.NoError(t, err)

	// Pull adopts version 2 from the source, the push to an empty target
	// advances it.
	assert.Equal(t, uint64(3), result.Version)
	got, ok := to.Get("proj", "app.version")
	require.True(t, ok)
	assert.Equal(t, "3", string(got))
	_, ok = to.Get("proj", "app.git.tar.gz")
	assert.True(t, ok)
	assert.Empty(t, f.mirrors.Calls)

	_, err = f.syncer.Migrate(context.Background(), to, to, f.ref)
	assert.Error(t, err)
}

func TestMigrate_TargetNewer(t *testing.T) {
	f := newFixture(t)
	f.writeMirror(t)
	_, err := f.syncer.Push(context.Background(), &PushRequest{Ref: f.ref})
	require.NoError(t, err)

	to := memory.New()
	to.Put("proj", "app.version", []byte("7"))

	_, err = f.syncer.Migrate(context.Background(), f.backend, to, f.ref)
	assert.ErrorIs(t, err, ErrVersionConflict)
	_, ok := to.Get("proj", "app.git.tar.gz")
	assert.False(t, ok)
}

func TestClear(t *testing.T) {
	f := newFixture(t)
	f.writeMirror(t)
	require.NoError(t, f.versions.Save(f.ref, 4))

	other := storage.RepoRef{Project: "proj", Repo: "other"}
	require.NoError(t, f.versions.Save(other, 1))

	result, err := f.syncer.Clear(f.ref)
	require.NoError(t, err)
	assert.Equal(t, []string{f.mirrorDir(), f.paths.VersionPath("proj", "app")}, result.Removed)
	assert.NoDirExists(t, f.mirrorDir())
	assert.FileExists(t, f.paths.VersionPath("proj", "other"))

	_, err = f.syncer.Clear(other)
	require.NoError(t, err)
	assert.NoDirExists(t, f.paths.ProjectDir("proj"))

	_, err = f.syncer.Clear(storage.RepoRef{Project: "..", Repo: "x"})
	assert.Error(t, err)
}

func TestClearAll(t *testing.T) {
	f := newFixture(t)
	f.writeMirror(t)
	require.NoError(t, f.versions.Save(storage.RepoRef{Project: "second", Repo: "b"}, 1))

	result, err := f.syncer.ClearAll()
	require.NoError(t, err)
	assert.Len(t, result.Removed, 2)

	names, err := os.ReadDir(f.paths.Data)
	require.NoError(t, err)
	assert.Empty(t, names)

	require.NoError(t, os.RemoveAll(f.paths.Data))
	result, err = f.syncer.ClearAll()
	require.NoError(t, err)
	assert.Empty(t, result.Removed)
}

func TestRefForWorkingDir(t *testing.T) {
	ref, err := RefForWorkingDir(filepath.Join(t.TempDir(), "proj", "app"))
	require.NoError(t, err)
	assert.Equal(t, storage.RepoRef{Project: "proj", Repo: "app"}, ref)

	_, err = RefForWorkingDir(string(filepath.Separator))
	assert.Error(t, err)
}
