package json

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/playpenhq/playpen/lock"
)

type testIndex struct {
	Entries map[string]int `json:"entries"`
}

func (i *testIndex) Init() {
	if i.Entries == nil {
		i.Entries = make(map[string]int)
	}
}

func newTestStore(t *testing.T) *Store[testIndex] {
	t.Helper()
	dir := t.TempDir()
	locker := lock.NewFile(filepath.Join(dir, "index.lock"))
	return New[testIndex](filepath.Join(dir, "index.json"), locker)
}

func TestEmptyFileYieldsInitializedIndex(t *testing.T) {
	s := newTestStore(t)
	err := s.With(context.Background(), func(idx *testIndex) error {
		if idx.Entries == nil {
			t.Fatal("Init must allocate the map")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("with: %v", err)
	}
}

func TestUpdatePersistsAcrossLoads(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Update(ctx, func(idx *testIndex) error {
		idx.Entries["a"] = 1
		return nil
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	if err := s.With(ctx, func(idx *testIndex) error {
		if idx.Entries["a"] != 1 {
			t.Fatalf("expected persisted entry, got %+v", idx.Entries)
		}
		return nil
	}); err != nil {
		t.Fatalf("with: %v", err)
	}
}

func TestUpdateErrorDiscardsMutation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Update(ctx, func(idx *testIndex) error {
		idx.Entries["a"] = 1
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected propagated error, got %v", err)
	}

	s.With(ctx, func(idx *testIndex) error {
		if len(idx.Entries) != 0 {
			t.Fatalf("failed update must not persist, got %+v", idx.Entries)
		}
		return nil
	})
}

func TestWithDiscardsMutation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.With(ctx, func(idx *testIndex) error {
		idx.Entries["leak"] = 1
		return nil
	})
	s.With(ctx, func(idx *testIndex) error {
		if len(idx.Entries) != 0 {
			t.Fatal("With must be read-only")
		}
		return nil
	})
}

func TestCorruptIndexFails(t *testing.T) {
	s := newTestStore(t)
	if err := os.WriteFile(s.path, []byte("{broken"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	err := s.With(context.Background(), func(*testIndex) error { return nil })
	if err == nil {
		t.Fatal("expected decode error")
	}
}
