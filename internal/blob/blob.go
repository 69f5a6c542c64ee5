package blob

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

var ErrBadKey = errors.New("invalid storage key")

// Store writes operator-uploaded artifacts under a local directory and
// returns the URL they are served from.
type Store struct {
	baseDir string
	baseURL string
}

func NewStore(baseDir, baseURL string) *Store {
	return &Store{baseDir: baseDir, baseURL: strings.TrimRight(baseURL, "/")}
}

// Dir returns the directory served as the static file root.
func (s *Store) Dir() string { return s.baseDir }

// Put stores data under pathKey and returns a retrievable URI. Keys are
// slash-separated relative paths; anything escaping the base directory is
// rejected.
func (s *Store) Put(pathKey string, data []byte) (string, error) {
	pathKey = strings.TrimLeft(strings.TrimSpace(pathKey), "/")
	if pathKey == "" {
		return "", ErrBadKey
	}
	clean := filepath.Clean(filepath.FromSlash(pathKey))
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", ErrBadKey
	}
	dst := filepath.Join(s.baseDir, clean)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return "", err
	}
	return s.baseURL + "/" + filepath.ToSlash(clean), nil
}
