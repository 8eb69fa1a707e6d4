// Package config manages gitback configuration and filesystem paths.
//
// The default root is ~/.gitback/ and can be moved with GITBACK_ROOT. It
// holds data/ (bare mirrors, archives and version counters per project),
// credentials/ (app id, archive key, cloud account, token), config.json and
// the operation log.
package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// RootEnv names the environment variable that overrides the root directory.
const RootEnv = "GITBACK_ROOT"

// Paths contains all the filesystem paths used by gitback.
type Paths struct {
	// Root is the base directory for all gitback data (default: ~/.gitback)
	Root string

	// Data holds one directory per project with mirrors, archives and versions
	Data string

	// Credentials holds the JSON credential files
	Credentials string

	// Config is the path to the optional config file
	Config string

	// Log is the path to the operation log
	Log string
}

// DefaultPaths returns the default paths, honoring GITBACK_ROOT.
func DefaultPaths() (*Paths, error) {
	root := os.Getenv(RootEnv)
	if root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		root = filepath.Join(home, ".gitback")
	}
	return NewPaths(root), nil
}

// NewPaths lays out the gitback tree under root.
func NewPaths(root string) *Paths {
	return &Paths{
		Root:        root,
		Data:        filepath.Join(root, "data"),
		Credentials: filepath.Join(root, "credentials"),
		Config:      filepath.Join(root, "config.json"),
		Log:         filepath.Join(root, "gitback.log"),
	}
}

// EnsureDirectories creates all necessary directories if they don't exist.
func (p *Paths) EnsureDirectories() error {
	for _, dir := range []string{p.Root, p.Data} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	// Credentials are private to the user.
	if err := os.MkdirAll(p.Credentials, 0700); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", p.Credentials, err)
	}
	return nil
}

// ProjectDir returns the local directory of a project.
func (p *Paths) ProjectDir(project string) string {
	return filepath.Join(p.Data, project)
}

// MirrorDir returns the bare mirror directory of a repository.
func (p *Paths) MirrorDir(project, repo string) string {
	return filepath.Join(p.Data, project, repo+".git")
}

// ArchivePath returns the transient archive blob of a repository.
func (p *Paths) ArchivePath(project, repo string) string {
	return filepath.Join(p.Data, project, repo+".git.tar.gz")
}

// VersionPath returns the local version counter file of a repository.
func (p *Paths) VersionPath(project, repo string) string {
	return filepath.Join(p.Data, project, repo+".version")
}
