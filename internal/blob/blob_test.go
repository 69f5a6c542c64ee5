package blob

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestPut_WritesAndReturnsURI(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, "http://localhost:8080/static/")

	uri, err := s.Put("01REQ_result.png", []byte("png-bytes"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if uri != "http://localhost:8080/static/01REQ_result.png" {
		t.Fatalf("unexpected uri %q", uri)
	}

	data, err := os.ReadFile(filepath.Join(dir, "01REQ_result.png"))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "png-bytes" {
		t.Fatalf("content mismatch: %q", data)
	}
}

func TestPut_NestedKey(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, "http://cdn.example.com")

	uri, err := s.Put("outputs/2026/x.mp4", []byte("v"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if uri != "http://cdn.example.com/outputs/2026/x.mp4" {
		t.Fatalf("unexpected uri %q", uri)
	}
	if _, err := os.Stat(filepath.Join(dir, "outputs", "2026", "x.mp4")); err != nil {
		t.Fatalf("file missing: %v", err)
	}
}

func TestPut_RejectsEscapingKeys(t *testing.T) {
	s := NewStore(t.TempDir(), "http://localhost/static")
	for _, key := range []string{"", "   ", "../evil", "a/../../evil", "/"} {
		if _, err := s.Put(key, []byte("x")); !errors.Is(err, ErrBadKey) {
			t.Fatalf("key %q: expected ErrBadKey, got %v", key, err)
		}
	}
}
