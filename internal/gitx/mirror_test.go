package gitx

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

func git(t *testing.T, dir string, args ...string) string {
	t.Helper()
	out, err := NewRealMirrorManager().runGit(context.Background(), dir, args...)
	require.NoError(t, err, "git %v", args)
	return out
}

// setupWorkingRepo creates a repository with one commit on main.
func setupWorkingRepo(t *testing.T, parent, name string) string {
	t.Helper()

	dir := filepath.Join(parent, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	git(t, dir, "init")
	git(t, dir, "symbolic-ref", "HEAD", "refs/heads/main")
	configureUser(t, dir)
	commitFile(t, dir, "README.md", "hello\n")
	return dir
}

func configureUser(t *testing.T, dir string) {
	t.Helper()
	git(t, dir, "config", "user.email", "test@example.com")
	git(t, dir, "config", "user.name", "Test User")
	git(t, dir, "config", "commit.gpgsign", "false")
	git(t, dir, "config", "pull.rebase", "false")
}

func commitFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	git(t, dir, "add", name)
	git(t, dir, "commit", "-m", "update "+name)
}

func TestDiscover(t *testing.T) {
	requireGit(t)
	tmp := t.TempDir()
	working := setupWorkingRepo(t, tmp, "app")
	sub := filepath.Join(working, "a", "b")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	g := NewRealMirrorManager()
	root, err := g.Discover(sub)
	require.NoError(t, err)

	want, err := filepath.EvalSymlinks(working)
	require.NoError(t, err)
	got, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDiscover_NotRepository(t *testing.T) {
	// Without a git ancestor the walk ends at the filesystem root.
	dir := t.TempDir()
	if _, err := NewRealMirrorManager().Discover(filepath.Dir(dir)); err == nil {
		t.Skip("temp dir is inside a git repository")
	}
	_, err := NewRealMirrorManager().Discover(dir)
	assert.True(t, errors.Is(err, ErrNotRepository))
}

func TestMirrorLifecycle(t *testing.T) {
	requireGit(t)
	ctx := context.Background()
	tmp := t.TempDir()
	g := NewRealMirrorManager()

	working := setupWorkingRepo(t, filepath.Join(tmp, "src", "proj"), "app")
	mirror := filepath.Join(tmp, "data", "proj", "app.git")

	exists, err := g.MirrorExists(mirror)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, g.CloneWorkingToMirror(ctx, working, mirror))
	exists, err = g.MirrorExists(mirror)
	require.NoError(t, err)
	assert.True(t, exists)

	absMirror, err := filepath.Abs(mirror)
	require.NoError(t, err)
	assert.Equal(t, absMirror, git(t, working, "remote", "get-url", "origin"))

	// First push has no upstream yet.
	commitFile(t, working, "main.go", "package main\n")
	require.NoError(t, g.PushWorkingToMirror(ctx, working))
	assert.Equal(t, git(t, working, "rev-parse", "HEAD"), git(t, mirror, "rev-parse", "main"))
	assert.Equal(t, "origin/main", git(t, working, "rev-parse", "--abbrev-ref", "--symbolic-full-name", "@{u}"))

	// Second push goes through the configured upstream.
	commitFile(t, working, "main.go", "package main\n\nfunc main() {}\n")
	require.NoError(t, g.PushWorkingToMirror(ctx, working))
	assert.Equal(t, git(t, working, "rev-parse", "HEAD"), git(t, mirror, "rev-parse", "main"))

	target := filepath.Join(tmp, "restore", "proj", "app")
	require.NoError(t, g.CloneMirrorToWorking(ctx, mirror, target))
	assert.Equal(t, git(t, mirror, "rev-parse", "main"), git(t, target, "rev-parse", "HEAD"))

	err = g.CloneMirrorToWorking(ctx, mirror, target)
	assert.Error(t, err)

	configureUser(t, target)
	commitFile(t, target, "NOTES.md", "from restore\n")
	require.NoError(t, g.PushWorkingToMirror(ctx, target))

	require.NoError(t, g.PullMirrorToWorking(ctx, working))
	assert.Equal(t, git(t, target, "rev-parse", "HEAD"), git(t, working, "rev-parse", "HEAD"))
}

func TestChangeWorkingRemote_AddsMissingOrigin(t *testing.T) {
	requireGit(t)
	ctx := context.Background()
	tmp := t.TempDir()
	g := NewRealMirrorManager()

	working := setupWorkingRepo(t, tmp, "app")
	mirror := filepath.Join(tmp, "mirror.git")

	require.NoError(t, g.ChangeWorkingRemote(ctx, working, mirror))
	assert.Equal(t, mirror, git(t, working, "remote", "get-url", "origin"))

	other := filepath.Join(tmp, "other.git")
	require.NoError(t, g.ChangeWorkingRemote(ctx, working, other))
	assert.Equal(t, other, git(t, working, "remote", "get-url", "origin"))
}

func TestPushWorkingToMirror_DetachedHead(t *testing.T) {
	requireGit(t)
	tmp := t.TempDir()
	working := setupWorkingRepo(t, tmp, "app")
	git(t, working, "checkout", "--detach")

	err := NewRealMirrorManager().PushWorkingToMirror(context.Background(), working)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "detached HEAD")
}

func TestRunGit_CanceledContext(t *testing.T) {
	requireGit(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRealMirrorManager().runGit(ctx, t.TempDir(), "status")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFakeMirrorManager(t *testing.T) {
	ctx := context.Background()
	tmp := t.TempDir()
	f := NewFakeMirrorManager()
	mirror := filepath.Join(tmp, "proj", "app.git")

	exists, err := f.MirrorExists(mirror)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, f.CloneWorkingToMirror(ctx, "/work/app", mirror))
	exists, err = f.MirrorExists(mirror)
	require.NoError(t, err)
	assert.True(t, exists)

	f.PushErr = errors.New("boom")
	assert.EqualError(t, f.PushWorkingToMirror(ctx, "/work/app"), "boom")
	assert.Equal(t, []string{"clone-to-mirror", "push"}, f.Ops())
}
