// Package store persists transfer state documents so an interrupted transfer
// can be resumed.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no document exists for an id
var ErrNotFound = errors.New("transfer not found")

// Store keeps one JSON document per transfer id
type Store interface {
	Put(ctx context.Context, id string, doc []byte) error
	Get(ctx context.Context, id string) ([]byte, error)
	// List returns every stored id in ascending order
	List(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, id string) error
}
