// Package memory is an in-process Backend for tests.
package memory

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/danieljhkim/gitback/internal/storage"
)

// Backend keeps archives and versions in maps keyed by "project/file".
type Backend struct {
	mu       sync.Mutex
	objects  map[string][]byte
	projects map[string]bool

	// Per-operation injected failures.
	SendArchiveErr    error
	ReceiveArchiveErr error
	SendVersionErr    error
	ReceiveVersionErr error
	ListErr           error

	// Calls records operation names in order.
	Calls []string
}

// New creates an empty Backend.
func New() *Backend {
	return &Backend{objects: make(map[string][]byte), projects: make(map[string]bool)}
}

func (b *Backend) Name() string { return "memory" }

func key(project, name string) string { return project + "/" + name }

func (b *Backend) record(op string) {
	b.Calls = append(b.Calls, op)
}

// SendArchive stores the file contents at localPath.
func (b *Backend) SendArchive(ctx context.Context, ref storage.RepoRef, localPath string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("SendArchive")
	if b.SendArchiveErr != nil {
		return b.SendArchiveErr
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("failed to read archive: %w", err)
	}
	b.projects[ref.Project] = true
	b.objects[key(ref.Project, ref.ArchiveName())] = data
	return nil
}

// ReceiveArchive writes the stored archive to localPath.
func (b *Backend) ReceiveArchive(ctx context.Context, ref storage.RepoRef, localPath string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("ReceiveArchive")
	if b.ReceiveArchiveErr != nil {
		return b.ReceiveArchiveErr
	}
	data, ok := b.objects[key(ref.Project, ref.ArchiveName())]
	if !ok {
		return fmt.Errorf("download %s: %w", ref, storage.ErrNotFound)
	}
	return os.WriteFile(localPath, data, 0644)
}

// SendVersion stores the version counter.
func (b *Backend) SendVersion(ctx context.Context, ref storage.RepoRef, version uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("SendVersion")
	if b.SendVersionErr != nil {
		return b.SendVersionErr
	}
	b.projects[ref.Project] = true
	b.objects[key(ref.Project, ref.VersionName())] = storage.FormatVersion(version)
	return nil
}

// ReceiveVersion returns the stored version counter.
func (b *Backend) ReceiveVersion(ctx context.Context, ref storage.RepoRef) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("ReceiveVersion")
	if b.ReceiveVersionErr != nil {
		return 0, b.ReceiveVersionErr
	}
	data, ok := b.objects[key(ref.Project, ref.VersionName())]
	if !ok {
		return 0, fmt.Errorf("version of %s: %w", ref, storage.ErrNotFound)
	}
	return storage.ParseVersion(data)
}

// ListRepositories lists archives per project.
func (b *Backend) ListRepositories(ctx context.Context) (map[string][]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("ListRepositories")
	if b.ListErr != nil {
		return nil, b.ListErr
	}
	catalog := storage.Catalog{}
	for k := range b.objects {
		for project := range b.projects {
			if name, ok := cutProject(k, project); ok {
				catalog.AddArchive(project, name)
			}
		}
	}
	return catalog.Sorted(), nil
}

func cutProject(k, project string) (string, bool) {
	prefix := project + "/"
	if len(k) <= len(prefix) || k[:len(prefix)] != prefix {
		return "", false
	}
	return k[len(prefix):], true
}

// Put seeds a raw object, e.g. a foreign file that listing must ignore.
func (b *Backend) Put(project, name string, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.projects[project] = true
	b.objects[key(project, name)] = data
}

// Get returns a raw object.
func (b *Backend) Get(project, name string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key(project, name)]
	return data, ok
}
