// Package storage defines the contract shared by the remote providers.
//
// A Backend moves two kinds of objects per repository: the encrypted
// archive blob "<repo>.git.tar.gz" and the decimal version counter
// "<repo>.version", both under a per-project folder. Every call is a single
// attempt; retries are the caller's decision.
package storage

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/danieljhkim/gitback/internal/fsops"
)

const (
	// ArchiveSuffix is the compound extension of archive blobs.
	ArchiveSuffix = ".git.tar.gz"
	// VersionSuffix is the extension of version counter files.
	VersionSuffix = ".version"
	// MirrorSuffix is the extension of local bare mirrors.
	MirrorSuffix = ".git"
)

// Backend is a remote store for repository archives and version counters.
type Backend interface {
	// Name returns the backend kind for logs and messages.
	Name() string

	// SendArchive uploads the file at localPath as ref's archive,
	// creating the project folder when needed.
	SendArchive(ctx context.Context, ref RepoRef, localPath string) error

	// ReceiveArchive downloads ref's archive to localPath.
	ReceiveArchive(ctx context.Context, ref RepoRef, localPath string) error

	// SendVersion stores ref's version counter.
	SendVersion(ctx context.Context, ref RepoRef, version uint64) error

	// ReceiveVersion fetches ref's version counter. A missing counter
	// yields an error wrapping ErrNotFound.
	ReceiveVersion(ctx context.Context, ref RepoRef) (uint64, error)

	// ListRepositories returns project name -> repository names. Projects
	// without repositories are omitted.
	ListRepositories(ctx context.Context) (map[string][]string, error)
}

// RepoRef identifies one repository inside a project.
type RepoRef struct {
	Project string
	Repo    string
}

// ParseRepoRef parses "project/repo".
func ParseRepoRef(s string) (RepoRef, error) {
	project, repo, ok := strings.Cut(s, "/")
	if !ok {
		return RepoRef{}, fmt.Errorf("invalid repository %q: expected project/repo", s)
	}
	ref := RepoRef{Project: project, Repo: repo}
	if err := ref.Validate(); err != nil {
		return RepoRef{}, err
	}
	return ref, nil
}

// Validate checks both names are safe path components.
func (r RepoRef) Validate() error {
	if err := fsops.ValidateIdentifier(r.Project); err != nil {
		return fmt.Errorf("project: %w", err)
	}
	if err := fsops.ValidateIdentifier(r.Repo); err != nil {
		return fmt.Errorf("repository: %w", err)
	}
	return nil
}

func (r RepoRef) String() string {
	return r.Project + "/" + r.Repo
}

// ArchiveName returns the archive file name, e.g. "app.git.tar.gz".
func (r RepoRef) ArchiveName() string {
	return r.Repo + ArchiveSuffix
}

// VersionName returns the version file name, e.g. "app.version".
func (r RepoRef) VersionName() string {
	return r.Repo + VersionSuffix
}

// MirrorName returns the bare mirror directory name, e.g. "app.git".
func (r RepoRef) MirrorName() string {
	return r.Repo + MirrorSuffix
}

// RepoNameFromArchive strips ArchiveSuffix from an archive file name.
// Names without the suffix, or with nothing before it, are rejected.
func RepoNameFromArchive(name string) (string, bool) {
	repo, ok := strings.CutSuffix(name, ArchiveSuffix)
	if !ok || repo == "" || strings.Contains(repo, "/") {
		return "", false
	}
	return repo, true
}

// Catalog accumulates project -> repositories while listing.
type Catalog map[string][]string

// AddArchive records file name under project if it is an archive and
// reports whether it was.
func (c Catalog) AddArchive(project, name string) bool {
	repo, ok := RepoNameFromArchive(name)
	if !ok || project == "" {
		return false
	}
	c[project] = append(c[project], repo)
	return true
}

// Sorted returns the catalog with repositories in lexical order.
func (c Catalog) Sorted() map[string][]string {
	out := make(map[string][]string, len(c))
	for project, repos := range c {
		if len(repos) == 0 {
			continue
		}
		sorted := append([]string(nil), repos...)
		sort.Strings(sorted)
		out[project] = sorted
	}
	return out
}

// ParseVersion parses a decimal version counter body.
func ParseVersion(body []byte) (uint64, error) {
	s := strings.TrimSpace(string(body))
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid version %q: %w", s, err)
	}
	return v, nil
}

// FormatVersion renders a version counter body.
func FormatVersion(v uint64) []byte {
	return strconv.AppendUint(nil, v, 10)
}
