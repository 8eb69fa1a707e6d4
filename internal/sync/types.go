package sync

import "github.com/danieljhkim/gitback/internal/storage"

// PushRequest contains parameters for pushing a repository to a backend.
type PushRequest struct {
	// Ref identifies the repository
	Ref storage.RepoRef

	// WorkingDir is the working copy to push into the mirror first (optional).
	// Without it only the existing mirror is uploaded.
	WorkingDir string
}

// PushResult contains the result of a push operation.
type PushResult struct {
	Ref     storage.RepoRef `json:"-"`
	Repo    string          `json:"repo"`
	Backend string          `json:"backend"`

	// MirrorCreated indicates the mirror was cloned from the working copy
	MirrorCreated bool `json:"mirror_created"`

	// Version is the counter after the push
	Version uint64 `json:"version"`

	// ArchiveBytes is the size of the uploaded encrypted archive
	ArchiveBytes int64 `json:"archive_bytes"`
}

// PullRequest contains parameters for pulling a repository from a backend.
type PullRequest struct {
	// Ref identifies the repository
	Ref storage.RepoRef

	// WorkingDir is the working copy to update from the mirror (optional).
	WorkingDir string
}

// PullResult contains the result of a pull operation.
type PullResult struct {
	Ref     storage.RepoRef `json:"-"`
	Repo    string          `json:"repo"`
	Backend string          `json:"backend"`

	// Version is the remote counter that became the local one
	Version uint64 `json:"version"`

	// WorkingUpdated indicates the working copy was pulled from the mirror
	WorkingUpdated bool `json:"working_updated"`
}

// CloneRequest contains parameters for cloning a repository from a backend.
type CloneRequest struct {
	Ref storage.RepoRef

	// TargetDir is the directory that receives <project>/<repo>.
	TargetDir string
}

// CloneResult contains the result of a clone operation.
type CloneResult struct {
	Ref       storage.RepoRef `json:"-"`
	Repo      string          `json:"repo"`
	Backend   string          `json:"backend"`
	Version   uint64          `json:"version"`
	TargetDir string          `json:"target_dir"`
}

// ListResult contains the repositories stored on a backend.
type ListResult struct {
	Backend  string              `json:"backend"`
	Projects map[string][]string `json:"projects"`
}

// MigrateResult contains the result of a migrate operation.
type MigrateResult struct {
	Ref     storage.RepoRef `json:"-"`
	Repo    string          `json:"repo"`
	From    string          `json:"from"`
	To      string          `json:"to"`
	Version uint64          `json:"version"`
}

// ClearResult lists the local paths that were removed.
type ClearResult struct {
	Removed []string `json:"removed"`
}
