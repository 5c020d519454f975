package scraper

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// SessionStore persists one opaque session blob per site.
// Load returns nil, nil when nothing is stored.
type SessionStore interface {
	Load(ctx context.Context, site string) ([]byte, error)
	Save(ctx context.Context, site string, blob []byte) error
}

// FileSessionStore keeps blobs as <dir>/<site>.json.
type FileSessionStore struct {
	Dir string
}

func NewFileSessionStore(dir string) *FileSessionStore {
	return &FileSessionStore{Dir: dir}
}

func (s *FileSessionStore) path(site string) string {
	return filepath.Join(s.Dir, filepath.Base(site)+".json")
}

func (s *FileSessionStore) Load(_ context.Context, site string) ([]byte, error) {
	data, err := os.ReadFile(s.path(site))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session %s: %w", site, err)
	}
	return data, nil
}

func (s *FileSessionStore) Save(_ context.Context, site string, blob []byte) error {
	if err := os.MkdirAll(s.Dir, 0700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	tmp := s.path(site) + ".tmp"
	if err := os.WriteFile(tmp, blob, 0600); err != nil {
		return fmt.Errorf("write session %s: %w", site, err)
	}
	return os.Rename(tmp, s.path(site))
}
