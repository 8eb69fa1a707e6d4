package integration

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/danieljhkim/gitback/internal/archive"
	"github.com/danieljhkim/gitback/internal/config"
	"github.com/danieljhkim/gitback/internal/credentials"
	"github.com/danieljhkim/gitback/internal/fsops"
	"github.com/danieljhkim/gitback/internal/gitx"
	"github.com/danieljhkim/gitback/internal/storage"
	"github.com/danieljhkim/gitback/internal/sync"
)

// machine is one gitback installation: its own data root and credentials,
// sharing a backend and an archive key with the others.
type machine struct {
	paths  *config.Paths
	syncer *sync.Syncer
}

func newMachine(t *testing.T, backend storage.Backend, keyFile []byte) *machine {
	t.Helper()

	fs := fsops.NewRealFS()
	paths := config.NewPaths(t.TempDir())
	if err := paths.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}

	creds := credentials.NewStore(fs, paths.Credentials)
	if keyFile != nil {
		if err := os.WriteFile(filepath.Join(paths.Credentials, credentials.ArchiveKeyFileName), keyFile, 0600); err != nil {
			t.Fatal(err)
		}
	}

	s := sync.New(
		backend,
		gitx.NewRealMirrorManager(),
		archive.TarGz{},
		archive.NewCrypter(creds, fs),
		sync.NewVersionStore(fs, paths),
		fs,
		paths,
		zaptest.NewLogger(t),
	)
	return &machine{paths: paths, syncer: s}
}

// archiveKeyFile returns the key file of m, generating the key if needed.
func (m *machine) archiveKeyFile(t *testing.T) []byte {
	t.Helper()
	creds := credentials.NewStore(fsops.NewRealFS(), m.paths.Credentials)
	if _, err := creds.ArchiveKey(); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(m.paths.Credentials, credentials.ArchiveKeyFileName))
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v failed: %v\n%s", args, err, out)
	}
	return strings.TrimSpace(string(out))
}

func configureUser(t *testing.T, dir string) {
	t.Helper()
	runGit(t, dir, "config", "user.email", "test@example.com")
	runGit(t, dir, "config", "user.name", "Test User")
	runGit(t, dir, "config", "commit.gpgsign", "false")
	runGit(t, dir, "config", "pull.rebase", "false")
}

// newWorkingRepo creates <parent>/<project>/<repo> with one commit on main.
func newWorkingRepo(t *testing.T, parent, project, repo string) string {
	t.Helper()
	dir := filepath.Join(parent, project, repo)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	runGit(t, dir, "init")
	runGit(t, dir, "symbolic-ref", "HEAD", "refs/heads/main")
	configureUser(t, dir)
	commit(t, dir, "README.md", "hello\n")
	return dir
}

func commit(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	runGit(t, dir, "add", name)
	runGit(t, dir, "commit", "-m", "update "+name)
}
