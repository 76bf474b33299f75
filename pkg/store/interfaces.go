package store

import (
	"context"
)

// StateStore handles persistent raw application state. Values survive even
// when the settings engine cannot start, so crash-safe backups live here.
type StateStore interface {
	GetState(ctx context.Context, key string) (string, bool)
	SetState(ctx context.Context, key, val string) error
	DeleteState(ctx context.Context, key string) error
}

// Store is the full raw state repository.
type Store interface {
	StateStore

	// ListState returns every entry whose key starts with prefix.
	ListState(ctx context.Context, prefix string) (map[string]string, error)

	// Close closes the store connection.
	Close() error
}
