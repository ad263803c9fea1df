// Package cache persists typed record collections to keyed files so a crawl
// can skip network fetches for data already captured on disk. Entries are
// write-once per key (a save is a full-file overwrite) and removed only by
// an explicit clear; there is no TTL or eviction.
package cache

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrNotFound is returned by Read for a key that was never saved. Callers
// either check Exists first or handle this error.
var ErrNotFound = errors.New("cache entry not found")

// Backend serialises record collections to and from a single file. Each
// backend declares its own file extension; callers never hardcode it.
type Backend[T any] interface {
	Ext() string
	Write(w io.Writer, records []T) error
	Read(r io.Reader) ([]T, error)
}

// Store writes record collections under {root}/{folder}/{key}{ext}.
// It is not synchronised: the ingestion scheduler guarantees a single
// active crawl owns the cache directory.
type Store[T any] struct {
	root    string
	backend Backend[T]
}

// NewStore creates a cache store rooted at root using the given backend.
func NewStore[T any](root string, backend Backend[T]) *Store[T] {
	return &Store[T]{root: root, backend: backend}
}

// Ext returns the backend's file extension, including the leading dot.
func (s *Store[T]) Ext() string {
	return s.backend.Ext()
}

func (s *Store[T]) path(folder, key string) string {
	return filepath.Join(s.root, folder, key+s.backend.Ext())
}

// Exists reports whether a cache entry exists for (folder, key).
func (s *Store[T]) Exists(folder, key string) bool {
	_, err := os.Stat(s.path(folder, key))
	return err == nil
}

// Save overwrites the cache entry for (folder, key) with records, creating
// the target directory if absent.
func (s *Store[T]) Save(folder, key string, records []T) error {
	dir := filepath.Join(s.root, folder)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory %s: %w", dir, err)
	}

	path := s.path(folder, key)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create cache file %s: %w", path, err)
	}

	if err := s.backend.Write(f, records); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("failed to write cache file %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close cache file %s: %w", path, err)
	}

	log.Debug().
		Str("path", path).
		Int("records", len(records)).
		Msg("Saved cache entry")

	return nil
}

// Read loads the records saved under (folder, key). Returns ErrNotFound if
// the entry does not exist.
func (s *Store[T]) Read(folder, key string) ([]T, error) {
	path := s.path(folder, key)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, folder, key)
		}
		return nil, fmt.Errorf("failed to open cache file %s: %w", path, err)
	}
	defer f.Close()

	records, err := s.backend.Read(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache file %s: %w", path, err)
	}
	return records, nil
}

// Clear deletes every cache file under folder. Callers scope folder to a
// chain subdirectory so clearing is chain-scoped; date identifies the run
// being cleared for audit logging.
func (s *Store[T]) Clear(folder string, date time.Time) error {
	dir := filepath.Join(s.root, folder)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to list cache directory %s: %w", dir, err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), s.backend.Ext()) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			return fmt.Errorf("failed to remove cache file %s: %w", entry.Name(), err)
		}
		removed++
	}

	log.Info().
		Str("folder", folder).
		Str("date", date.Format("2006-01-02")).
		Int("removed", removed).
		Msg("Cleared cache entries")

	return nil
}
