package hash

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
)

func TestSHA256Hex_KnownVectors(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", EmptySHA256Hex},
		{"abc", "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"},
	}
	for _, tt := range tests {
		if got := SHA256Hex([]byte(tt.in)); got != tt.want {
			t.Errorf("SHA256Hex(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestHMACSHA256_RFC4231Case2(t *testing.T) {
	got := hex.EncodeToString(HMACSHA256([]byte("Jefe"), []byte("what do ya want for nothing?")))
	want := "5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843"
	if got != want {
		t.Errorf("HMACSHA256 = %s, want %s", got, want)
	}
}

func TestSHA256Hasher_HashFile(t *testing.T) {
	tmpDir := t.TempDir()
	hasher := NewSHA256Hasher()

	t.Run("matches in-memory digest", func(t *testing.T) {
		path := filepath.Join(tmpDir, "blob")
		content := []byte("hello world")
		if err := os.WriteFile(path, content, 0644); err != nil {
			t.Fatalf("failed to write test file: %v", err)
		}

		got, err := hasher.HashFile(path)
		if err != nil {
			t.Fatalf("HashFile failed: %v", err)
		}
		if got != SHA256Hex(content) {
			t.Errorf("HashFile = %s, want %s", got, SHA256Hex(content))
		}
	})

	t.Run("empty file", func(t *testing.T) {
		path := filepath.Join(tmpDir, "empty")
		if err := os.WriteFile(path, nil, 0644); err != nil {
			t.Fatalf("failed to write test file: %v", err)
		}
		got, err := hasher.HashFile(path)
		if err != nil {
			t.Fatalf("HashFile failed: %v", err)
		}
		if got != EmptySHA256Hex {
			t.Errorf("HashFile(empty) = %s", got)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := hasher.HashFile(filepath.Join(tmpDir, "nope")); err == nil {
			t.Error("expected error for missing file")
		}
	})
}

func TestFakeHasher(t *testing.T) {
	h := NewFakeHasher()
	h.SetHash("/a", "deadbeef")

	if got, _ := h.HashFile("/a"); got != "deadbeef" {
		t.Errorf("HashFile(/a) = %s", got)
	}
	if got, _ := h.HashFile("/b"); got != EmptySHA256Hex {
		t.Errorf("HashFile(/b) = %s", got)
	}
	if len(h.Calls) != 2 {
		t.Errorf("Calls = %v", h.Calls)
	}
}
