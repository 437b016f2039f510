package watermark

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/openmined/remotesync/internal/utils"
)

// FileStore keeps each key as a small text file below a root directory.
type FileStore struct {
	root string
}

func NewFileStore(root string) (*FileStore, error) {
	root, err := utils.ResolvePath(root)
	if err != nil {
		return nil, fmt.Errorf("resolve watermark dir: %w", err)
	}
	if err := utils.EnsureDir(root); err != nil {
		return nil, fmt.Errorf("create watermark dir %s: %w", root, err)
	}
	return &FileStore{root: root}, nil
}

func (s *FileStore) path(key string) (string, error) {
	rel := filepath.FromSlash(strings.TrimPrefix(key, "/"))
	p := filepath.Join(s.root, rel)
	if rel == "" || !strings.HasPrefix(p, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid watermark key %q", key)
	}
	return p, nil
}

func (s *FileStore) Exists(_ context.Context, key string) (bool, error) {
	p, err := s.path(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *FileStore) Read(_ context.Context, key string) (time.Time, error) {
	p, err := s.path(key)
	if err != nil {
		return time.Time{}, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return time.Time{}, ErrNotFound
		}
		return time.Time{}, err
	}
	return decode(data)
}

// Write replaces the value atomically through a temporary file.
func (s *FileStore) Write(_ context.Context, key string, t time.Time) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := utils.EnsureParent(p); err != nil {
		return err
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, encode(t), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, p)
}

func (s *FileStore) Close() error { return nil }

var _ Store = (*FileStore)(nil)
