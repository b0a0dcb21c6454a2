package store

import (
	"context"
	"strings"

	"go.etcd.io/bbolt"
)

var connectionsBucket = []byte("nip47_connections")

// BoltKV is a go.etcd.io/bbolt backed KVStore, used by the standalone dev
// daemon and by tests in place of a real CLN datastore RPC connection.
type BoltKV struct {
	db *bbolt.DB
}

// OpenBoltKV opens (creating if absent) a bbolt database at path and
// ensures the connections bucket exists.
func OpenBoltKV(path string) (*BoltKV, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(connectionsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltKV{db: db}, nil
}

func (b *BoltKV) Close() error {
	return b.db.Close()
}

func boltKey(key []string) []byte {
	return []byte(strings.Join(key, "/"))
}

func (b *BoltKV) Set(ctx context.Context, key []string, value []byte) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(connectionsBucket).Put(boltKey(key), value)
	})
}

func (b *BoltKV) Get(ctx context.Context, key []string) ([]byte, error) {
	var out []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(connectionsBucket).Get(boltKey(key))
		if v == nil {
			return ErrNotFound
		}
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *BoltKV) List(ctx context.Context, prefix []string) (map[string][]byte, error) {
	p := boltKey(prefix)
	out := make(map[string][]byte)
	err := b.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(connectionsBucket).Cursor()
		for k, v := c.Seek(p); k != nil && strings.HasPrefix(string(k), string(p)); k, v = c.Next() {
			out[string(k)] = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *BoltKV) Delete(ctx context.Context, key []string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(connectionsBucket).Delete(boltKey(key))
	})
}

var _ KVStore = (*BoltKV)(nil)
