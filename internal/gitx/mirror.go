// Package gitx drives the git executable for the local bare mirrors.
//
// Each backed-up repository has a working copy somewhere on disk and a bare
// mirror under the data root. The working copy's "origin" points at the
// mirror; the mirror is what gets archived and shipped to a backend.
package gitx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ErrNotRepository is returned by Discover outside a git working tree.
var ErrNotRepository = errors.New("not in a git repository")

// MirrorManager manages a working copy and its bare mirror.
type MirrorManager interface {
	// Discover finds the working tree root starting from cwd.
	Discover(cwd string) (root string, err error)

	// MirrorExists reports whether mirrorDir holds a bare repository.
	MirrorExists(mirrorDir string) (bool, error)

	// CloneWorkingToMirror creates mirrorDir as a bare clone of workingDir
	// and points the working copy's origin at it.
	CloneWorkingToMirror(ctx context.Context, workingDir, mirrorDir string) error

	// PushWorkingToMirror pushes the current branch of workingDir to its
	// origin, setting the upstream on first push.
	PushWorkingToMirror(ctx context.Context, workingDir string) error

	// PullMirrorToWorking pulls the current branch of workingDir from origin.
	PullMirrorToWorking(ctx context.Context, workingDir string) error

	// CloneMirrorToWorking clones mirrorDir into targetDir, which must not exist.
	CloneMirrorToWorking(ctx context.Context, mirrorDir, targetDir string) error

	// ChangeWorkingRemote points workingDir's origin at mirrorDir, adding
	// the remote when missing.
	ChangeWorkingRemote(ctx context.Context, workingDir, mirrorDir string) error
}

// RealMirrorManager implements MirrorManager with the git executable.
type RealMirrorManager struct {
	// Binary is the git executable; "git" when empty.
	Binary string
}

// NewRealMirrorManager creates a new RealMirrorManager.
func NewRealMirrorManager() *RealMirrorManager {
	return &RealMirrorManager{Binary: "git"}
}

// runGit executes git in dir and returns trimmed stdout.
func (g *RealMirrorManager) runGit(ctx context.Context, dir string, args ...string) (string, error) {
	bin := g.Binary
	if bin == "" {
		bin = "git"
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("git %s: %w", args[0], ctxErr)
		}
		return "", fmt.Errorf("git %s failed: %w\nstderr: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}

	return strings.TrimSpace(stdout.String()), nil
}

// Discover finds the working tree root by walking up from cwd looking for .git.
func (g *RealMirrorManager) Discover(cwd string) (string, error) {
	absPath, err := filepath.Abs(cwd)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	current := absPath
	for {
		gitDir := filepath.Join(current, ".git")
		if info, err := os.Stat(gitDir); err == nil {
			// .git can be a directory or a file (for worktrees/submodules)
			if info.IsDir() || info.Mode().IsRegular() {
				return current, nil
			}
		}

		parent := filepath.Dir(current)
		if parent == current {
			return "", fmt.Errorf("%w: %s", ErrNotRepository, absPath)
		}
		current = parent
	}
}

// MirrorExists checks for the HEAD file every bare repository carries.
func (g *RealMirrorManager) MirrorExists(mirrorDir string) (bool, error) {
	info, err := os.Stat(filepath.Join(mirrorDir, "HEAD"))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat mirror: %w", err)
	}
	return info.Mode().IsRegular(), nil
}

func (g *RealMirrorManager) CloneWorkingToMirror(ctx context.Context, workingDir, mirrorDir string) error {
	parent := filepath.Dir(mirrorDir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("failed to create project directory: %w", err)
	}

	absWorking, err := filepath.Abs(workingDir)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}

	if _, err := g.runGit(ctx, parent, "clone", "--bare", absWorking, filepath.Base(mirrorDir)); err != nil {
		return fmt.Errorf("failed to create mirror: %w", err)
	}

	return g.ChangeWorkingRemote(ctx, workingDir, mirrorDir)
}

func (g *RealMirrorManager) PushWorkingToMirror(ctx context.Context, workingDir string) error {
	branch, err := g.runGit(ctx, workingDir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return fmt.Errorf("failed to resolve current branch: %w", err)
	}
	if branch == "HEAD" {
		return fmt.Errorf("cannot push from a detached HEAD in %s", workingDir)
	}

	args := []string{"push"}
	if _, err := g.runGit(ctx, workingDir, "rev-parse", "--abbrev-ref", "--symbolic-full-name", "@{u}"); err != nil {
		args = append(args, "--set-upstream", "origin", branch)
	}

	if _, err := g.runGit(ctx, workingDir, args...); err != nil {
		return fmt.Errorf("failed to push to mirror: %w", err)
	}
	return nil
}

func (g *RealMirrorManager) PullMirrorToWorking(ctx context.Context, workingDir string) error {
	if _, err := g.runGit(ctx, workingDir, "pull"); err != nil {
		return fmt.Errorf("failed to pull from mirror: %w", err)
	}
	return nil
}

func (g *RealMirrorManager) CloneMirrorToWorking(ctx context.Context, mirrorDir, targetDir string) error {
	if _, err := os.Stat(targetDir); err == nil {
		return fmt.Errorf("target %s already exists", targetDir)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to stat target: %w", err)
	}

	parent := filepath.Dir(targetDir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("failed to create target parent: %w", err)
	}

	absMirror, err := filepath.Abs(mirrorDir)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}

	if _, err := g.runGit(ctx, parent, "clone", absMirror, filepath.Base(targetDir)); err != nil {
		return fmt.Errorf("failed to clone mirror: %w", err)
	}
	return nil
}

func (g *RealMirrorManager) ChangeWorkingRemote(ctx context.Context, workingDir, mirrorDir string) error {
	absMirror, err := filepath.Abs(mirrorDir)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}

	if _, err := g.runGit(ctx, workingDir, "remote", "get-url", "origin"); err == nil {
		if _, err := g.runGit(ctx, workingDir, "remote", "set-url", "origin", absMirror); err != nil {
			return fmt.Errorf("failed to update remote: %w", err)
		}
		return nil
	}

	if _, err := g.runGit(ctx, workingDir, "remote", "add", "origin", absMirror); err != nil {
		return fmt.Errorf("failed to add remote: %w", err)
	}
	return nil
}
