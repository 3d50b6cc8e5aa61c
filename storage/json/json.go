// Package json persists an index struct as a single JSON file guarded by a
// cross-process lock. Readers get a decoded copy; writers decode, mutate,
// and atomically rewrite.
package json

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/playpenhq/playpen/lock"
	"github.com/playpenhq/playpen/storage"
)

// compile-time interface check happens in callers via storage.Store[T].

// Store implements storage.Store[T] on a JSON file.
type Store[T any] struct {
	path   string
	locker lock.Locker
}

// New creates a Store backed by path, serialized by locker.
func New[T any](path string, locker lock.Locker) *Store[T] {
	return &Store[T]{path: path, locker: locker}
}

var _ storage.Store[struct{}] = (*Store[struct{}])(nil)

// With runs fn with read access to the decoded index.
func (s *Store[T]) With(ctx context.Context, fn func(*T) error) error {
	return lock.WithLock(ctx, s.locker, func() error {
		idx, err := s.load()
		if err != nil {
			return err
		}
		return fn(idx)
	})
}

// Update runs fn on the decoded index and persists it when fn returns nil.
// The write goes through a temp file + rename so a crash mid-write never
// leaves a truncated index.
func (s *Store[T]) Update(ctx context.Context, fn func(*T) error) error {
	return lock.WithLock(ctx, s.locker, func() error {
		idx, err := s.load()
		if err != nil {
			return err
		}
		if err := fn(idx); err != nil {
			return err
		}
		return s.save(idx)
	})
}

func (s *Store[T]) load() (*T, error) {
	idx := new(T)
	data, err := os.ReadFile(s.path) //nolint:gosec // internal index path
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// First use: empty index.
	case err != nil:
		return nil, fmt.Errorf("read index %s: %w", s.path, err)
	case len(data) > 0:
		if err := json.Unmarshal(data, idx); err != nil {
			return nil, fmt.Errorf("decode index %s: %w", s.path, err)
		}
	}
	if initer, ok := any(idx).(storage.Initer); ok {
		initer.Init()
	}
	return idx, nil
}

func (s *Store[T]) save(idx *T) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("encode index %s: %w", s.path, err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write index %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("commit index %s: %w", s.path, err)
	}
	return nil
}

// EnsureDir creates the parent directory of the index path.
func EnsureDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}
