package fsops

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidateIdentifier(t *testing.T) {
	tests := []struct {
		name      string
		id        string
		wantError bool
	}{
		{name: "plain name", id: "backend", wantError: false},
		{name: "dashes and dots", id: "my-repo.v2", wantError: false},
		{name: "hidden-looking name", id: ".dotfiles", wantError: false},
		{name: "empty", id: "", wantError: true},
		{name: "blank", id: "   ", wantError: true},
		{name: "forward slash", id: "a/b", wantError: true},
		{name: "backslash", id: `a\b`, wantError: true},
		{name: "dot", id: ".", wantError: true},
		{name: "dot dot", id: "..", wantError: true},
		{name: "dot dot prefix", id: "..hidden", wantError: true},
		{name: "query char", id: "repo?x=1", wantError: true},
		{name: "percent", id: "repo%20", wantError: true},
	}

	fs := NewRealFS()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := fs.ValidateIdentifier(tt.id)
			if (err != nil) != tt.wantError {
				t.Errorf("ValidateIdentifier(%q) error = %v, wantError %v", tt.id, err, tt.wantError)
			}
		})
	}
}

func TestRealFS_Exists(t *testing.T) {
	tmpDir := t.TempDir()
	fs := NewRealFS()

	file := filepath.Join(tmpDir, "f")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	for _, tc := range []struct {
		path string
		want bool
	}{
		{file, true},
		{tmpDir, true},
		{filepath.Join(tmpDir, "missing"), false},
	} {
		got, err := fs.Exists(tc.path)
		if err != nil {
			t.Fatalf("Exists(%s) error: %v", tc.path, err)
		}
		if got != tc.want {
			t.Errorf("Exists(%s) = %v, want %v", tc.path, got, tc.want)
		}
	}
}

func TestRealFS_AtomicWrite(t *testing.T) {
	tmpDir := t.TempDir()
	fs := NewRealFS()

	t.Run("creates parent directories", func(t *testing.T) {
		path := filepath.Join(tmpDir, "a", "b", "repo.version")
		if err := fs.AtomicWrite(path, []byte("7"), 0644); err != nil {
			t.Fatalf("AtomicWrite failed: %v", err)
		}
		data, err := fs.ReadFile(path)
		if err != nil {
			t.Fatalf("ReadFile failed: %v", err)
		}
		if string(data) != "7" {
			t.Errorf("content = %q, want %q", data, "7")
		}
	})

	t.Run("overwrites and applies mode", func(t *testing.T) {
		path := filepath.Join(tmpDir, "token.json")
		if err := fs.AtomicWrite(path, []byte("old"), 0644); err != nil {
			t.Fatalf("first write failed: %v", err)
		}
		if err := fs.AtomicWrite(path, []byte("new"), 0600); err != nil {
			t.Fatalf("second write failed: %v", err)
		}
		data, _ := os.ReadFile(path)
		if string(data) != "new" {
			t.Errorf("content = %q, want %q", data, "new")
		}
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("stat failed: %v", err)
		}
		if info.Mode().Perm() != 0600 {
			t.Errorf("mode = %v, want 0600", info.Mode().Perm())
		}
	})

	t.Run("leaves no temp files", func(t *testing.T) {
		names, err := fs.ReadDir(tmpDir)
		if err != nil {
			t.Fatalf("ReadDir failed: %v", err)
		}
		for _, n := range names {
			if filepath.Ext(n) == "" && len(n) > 12 && n[:12] == ".gitback-tmp" {
				t.Errorf("temp file left behind: %s", n)
			}
		}
	})
}

func TestRealFS_RemoveAll_MissingPath(t *testing.T) {
	fs := NewRealFS()
	if err := fs.RemoveAll(filepath.Join(t.TempDir(), "missing.git.tar.gz")); err != nil {
		t.Errorf("RemoveAll on missing path returned %v", err)
	}
}

func TestRealFS_ReadDir_Sorted(t *testing.T) {
	tmpDir := t.TempDir()
	fs := NewRealFS()
	for _, n := range []string{"b", "a", "c"} {
		if err := os.WriteFile(filepath.Join(tmpDir, n), nil, 0644); err != nil {
			t.Fatal(err)
		}
	}
	names, err := fs.ReadDir(tmpDir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(names) != 3 || names[0] != "a" || names[2] != "c" {
		t.Errorf("ReadDir = %v", names)
	}
}
