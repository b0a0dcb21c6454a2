package node

import (
	"context"
	"errors"

	"github.com/nip47bridge/cln-nwc-bridge/internal/store"
)

// DatastoreKV adapts a NodeClient's datastore RPCs to store.KVStore, the
// production path for the Connection Store when running as a real CLN
// plugin (as opposed to the standalone dev daemon's bbolt-backed store).
type DatastoreKV struct {
	Client NodeClient
}

var _ store.KVStore = DatastoreKV{}

func (d DatastoreKV) Set(ctx context.Context, key []string, value []byte) error {
	return d.Client.DatastoreSet(ctx, key, value)
}

func (d DatastoreKV) Get(ctx context.Context, key []string) ([]byte, error) {
	v, err := d.Client.DatastoreGet(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (d DatastoreKV) List(ctx context.Context, prefix []string) (map[string][]byte, error) {
	return d.Client.DatastoreList(ctx, prefix)
}

func (d DatastoreKV) Delete(ctx context.Context, key []string) error {
	return d.Client.DatastoreDelete(ctx, key)
}
