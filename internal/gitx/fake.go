package gitx

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// MirrorCall records one FakeMirrorManager invocation.
type MirrorCall struct {
	Op  string
	Dir string
	// Other is the second directory argument, if any.
	Other string
}

// FakeMirrorManager is a test double that records operations. Mirror and
// clone operations create the directories on disk so that archive code can
// work on them.
type FakeMirrorManager struct {
	Calls []MirrorCall

	// Root is returned by Discover when set.
	Root string

	DiscoverErr     error
	CloneMirrorErr  error
	PushErr         error
	PullErr         error
	CloneWorkingErr error
	RemoteErr       error
}

// NewFakeMirrorManager creates a new FakeMirrorManager.
func NewFakeMirrorManager() *FakeMirrorManager {
	return &FakeMirrorManager{}
}

func (f *FakeMirrorManager) record(op, dir, other string) {
	f.Calls = append(f.Calls, MirrorCall{Op: op, Dir: dir, Other: other})
}

// Ops returns the recorded operation names in order.
func (f *FakeMirrorManager) Ops() []string {
	ops := make([]string, 0, len(f.Calls))
	for _, c := range f.Calls {
		ops = append(ops, c.Op)
	}
	return ops
}

func (f *FakeMirrorManager) Discover(cwd string) (string, error) {
	f.record("discover", cwd, "")
	if f.DiscoverErr != nil {
		return "", f.DiscoverErr
	}
	if f.Root != "" {
		return f.Root, nil
	}
	return cwd, nil
}

func (f *FakeMirrorManager) MirrorExists(mirrorDir string) (bool, error) {
	_, err := os.Stat(filepath.Join(mirrorDir, "HEAD"))
	return err == nil, nil
}

func (f *FakeMirrorManager) CloneWorkingToMirror(ctx context.Context, workingDir, mirrorDir string) error {
	f.record("clone-to-mirror", workingDir, mirrorDir)
	if f.CloneMirrorErr != nil {
		return f.CloneMirrorErr
	}
	return writeFakeMirror(mirrorDir)
}

func (f *FakeMirrorManager) PushWorkingToMirror(ctx context.Context, workingDir string) error {
	f.record("push", workingDir, "")
	return f.PushErr
}

func (f *FakeMirrorManager) PullMirrorToWorking(ctx context.Context, workingDir string) error {
	f.record("pull", workingDir, "")
	return f.PullErr
}

func (f *FakeMirrorManager) CloneMirrorToWorking(ctx context.Context, mirrorDir, targetDir string) error {
	f.record("clone-to-working", mirrorDir, targetDir)
	if f.CloneWorkingErr != nil {
		return f.CloneWorkingErr
	}
	if _, err := os.Stat(targetDir); err == nil {
		return fmt.Errorf("target %s already exists", targetDir)
	}
	return os.MkdirAll(targetDir, 0o755)
}

func (f *FakeMirrorManager) ChangeWorkingRemote(ctx context.Context, workingDir, mirrorDir string) error {
	f.record("set-remote", workingDir, mirrorDir)
	return f.RemoteErr
}

func writeFakeMirror(mirrorDir string) error {
	if err := os.MkdirAll(filepath.Join(mirrorDir, "refs", "heads"), 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(mirrorDir, "HEAD"), []byte("ref: refs/heads/main\n"), 0o644)
}
