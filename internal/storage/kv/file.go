package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// FileStore keeps all keys in a single JSON object on disk. Writes replace
// the file atomically through a temp file and rename.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore ensures the parent directory exists and returns a store bound
// to path.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("file store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure dir: %w", err)
	}
	return &FileStore{path: path}, nil
}

// Get reads a single key.
func (s *FileStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items, err := s.loadUnlocked()
	if err != nil {
		return "", false, err
	}
	value, ok := items[key]
	return value, ok, nil
}

// Set writes a key and rewrites the file.
func (s *FileStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	items, err := s.loadUnlocked()
	if err != nil {
		return err
	}
	items[key] = value
	return s.saveUnlocked(items)
}

func (s *FileStore) loadUnlocked() (map[string]string, error) {
	items := make(map[string]string)
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return items, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	if err := json.NewDecoder(f).Decode(&items); err != nil {
		if errors.Is(err, io.EOF) {
			return make(map[string]string), nil
		}
		return nil, fmt.Errorf("decode %s: %w", s.path, err)
	}
	return items, nil
}

func (s *FileStore) saveUnlocked(items map[string]string) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(items); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("encode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}
