package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key has no value.
var ErrNotFound = errors.New("store: not found")

// KVStore mirrors CLN's datastore/listdatastore/deldatastore RPC trio.
// Keys are slash-free path segments (CLN's own convention); this package
// always prefixes with []string{"nip47", "connections"}.
type KVStore interface {
	Set(ctx context.Context, key []string, value []byte) error
	Get(ctx context.Context, key []string) ([]byte, error)
	List(ctx context.Context, prefix []string) (map[string][]byte, error)
	Delete(ctx context.Context, key []string) error
}
