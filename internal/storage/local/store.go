// Package local persists the property collection as a JSON file on disk.
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/storage"
)

// DefaultFileName is the collection file created inside the data directory.
const DefaultFileName = "properties.json"

// Config captures the parameters for the file-backed store.
type Config struct {
	// DataDir is the directory holding the collection file.
	DataDir string `mapstructure:"data_dir"`
	// FileName overrides DefaultFileName.
	FileName string `mapstructure:"file_name"`
}

// Store writes the collection to a single JSON file. Writes go to a temp
// file in the same directory followed by a rename, so readers never observe
// a partial document.
type Store struct {
	mu   sync.Mutex
	path string
}

// New creates the data directory if needed and verifies it is writable.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.DataDir) == "" {
		return nil, errors.New("data directory is required")
	}
	info, err := os.Stat(cfg.DataDir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if mkErr := os.MkdirAll(cfg.DataDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to stat data directory: %w", err)
	case !info.IsDir():
		return nil, errors.New("data directory path is not a directory")
	}

	name := cfg.FileName
	if name == "" {
		name = DefaultFileName
	}
	if name != filepath.Base(name) {
		return nil, fmt.Errorf("file name %q must not contain a path", name)
	}
	return &Store{path: filepath.Join(cfg.DataDir, name)}, nil
}

// Path returns the collection file location.
func (s *Store) Path() string {
	return s.path
}

// Load reads the collection. A missing file is an empty collection.
func (s *Store) Load(_ context.Context) ([]crawler.Property, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

// Update reads, applies fn, and atomically replaces the file.
func (s *Store) Update(ctx context.Context, fn crawler.UpdateFunc) ([]crawler.Property, error) {
	if err := ctx.Err(); err != nil {
		return nil, err //nolint:wrapcheck
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.read()
	if err != nil {
		return nil, err
	}
	next, err := storage.Apply(current, fn)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}
	if err := s.write(next); err != nil {
		return nil, err
	}
	return crawler.CloneAll(next), nil
}

func (s *Store) read() ([]crawler.Property, error) {
	// #nosec G304 -- path is fixed at construction.
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []crawler.Property{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	props, err := storage.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	return props, nil
}

func (s *Store) write(props []crawler.Property) error {
	data, err := storage.Marshal(props)
	if err != nil {
		return err //nolint:wrapcheck
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".properties-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}
