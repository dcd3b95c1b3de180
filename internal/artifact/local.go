package artifact

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore writes objects under a base directory and serves them from a
// public URL base. Intended for local development.
type LocalStore struct {
	baseDir string
	baseURL string
}

// NewLocalStore builds a filesystem-backed store.
func NewLocalStore(baseDir, baseURL string) (*LocalStore, error) {
	if baseDir == "" {
		baseDir = "uploads"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &LocalStore{baseDir: baseDir, baseURL: baseURL}, nil
}

func (l *LocalStore) pathFor(key string) string {
	// Rooting the key before cleaning collapses any ".." segments, so a key
	// can never address a path outside the base directory.
	key = filepath.Clean(string(filepath.Separator) + filepath.FromSlash(key))
	key = strings.TrimPrefix(key, string(filepath.Separator))
	return filepath.Join(l.baseDir, key)
}

func (l *LocalStore) Put(_ context.Context, key string, body []byte, _ string) (Stored, error) {
	path := l.pathFor(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Stored{}, fmt.Errorf("create dirs: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return Stored{}, fmt.Errorf("write file: %w", err)
	}
	return Stored{
		Key:   key,
		URL:   joinURL(l.baseURL, "uploads/"+key),
		Bytes: int64(len(body)),
	}, nil
}

func (l *LocalStore) Delete(_ context.Context, key string) error {
	err := os.Remove(l.pathFor(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}
