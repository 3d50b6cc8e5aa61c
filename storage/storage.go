package storage

import "context"

// Initer is implemented by index types that need post-load initialization
// (typically allocating nil maps after JSON decode of an empty file).
type Initer interface {
	Init()
}

// Store is a typed view over a persisted index of type T. All access runs
// under the store's cross-process lock; fn always receives a fully
// initialized *T.
type Store[T any] interface {
	// With runs fn with read access to the index. Mutations are discarded.
	With(ctx context.Context, fn func(*T) error) error
	// Update runs fn and persists the mutated index if fn returns nil.
	Update(ctx context.Context, fn func(*T) error) error
}
