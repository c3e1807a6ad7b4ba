package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
)

// badgerStore is the embedded-KV production Store implementation. Since
// this platform is single-tenant (one shared broadcast channel), an
// embedded store is a legitimate production backend, not just a dev shim.
// Each logical document is stored as an 8-byte big-endian version prefix
// followed by the raw JSON value, so UpdateIfVersion can implement
// optimistic concurrency (§9) on top of badger's own per-key transactions
// without needing a second bookkeeping key.
type badgerStore struct {
	db *badger.DB
}

// NewBadger opens (or creates) a badger database rooted at dir.
func NewBadger(dir string) (Store, error) {
	opts := badger.DefaultOptions(dir).WithLoggingLevel(badger.WARNING)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("store: open badger at %q: %w", dir, err)
	}
	return &badgerStore{db: db}, nil
}

func badgerKey(collection, key string) []byte {
	return []byte(collection + "\x00" + key)
}

func encodeEnvelope(version uint64, value []byte) []byte {
	buf := make([]byte, 8+len(value))
	binary.BigEndian.PutUint64(buf[:8], version)
	copy(buf[8:], value)
	return buf
}

func decodeEnvelope(raw []byte) (uint64, []byte) {
	if len(raw) < 8 {
		return 0, raw
	}
	return binary.BigEndian.Uint64(raw[:8]), raw[8:]
}

func (b *badgerStore) Get(_ context.Context, collection, key string) ([]byte, error) {
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(collection, key))
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			_, v := decodeEnvelope(val)
			out = append([]byte(nil), v...)
			return nil
		})
	})
	return out, err
}

func (b *badgerStore) GetWithVersion(_ context.Context, collection, key string) (Document, error) {
	var doc Document
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(collection, key))
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			ver, v := decodeEnvelope(val)
			doc = Document{Value: append([]byte(nil), v...), Version: ver}
			return nil
		})
	})
	return doc, err
}

func (b *badgerStore) Set(_ context.Context, collection, key string, value []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		var version uint64
		if item, err := txn.Get(badgerKey(collection, key)); err == nil {
			_ = item.Value(func(val []byte) error {
				version, _ = decodeEnvelope(val)
				return nil
			})
			version++
		}
		return txn.Set(badgerKey(collection, key), encodeEnvelope(version, value))
	})
}

func (b *badgerStore) Update(_ context.Context, collection, key string, fn Mutator) error {
	return b.db.Update(func(txn *badger.Txn) error {
		var current []byte
		var version uint64
		found := false
		item, err := txn.Get(badgerKey(collection, key))
		switch {
		case err == nil:
			found = true
			if verr := item.Value(func(val []byte) error {
				version, current = decodeEnvelope(val)
				current = append([]byte(nil), current...)
				return nil
			}); verr != nil {
				return verr
			}
		case err == badger.ErrKeyNotFound:
			// not found, proceed with empty current
		default:
			return err
		}
		next, err := fn(current, found)
		if err != nil {
			return err
		}
		nextVersion := version
		if found {
			nextVersion++
		}
		return txn.Set(badgerKey(collection, key), encodeEnvelope(nextVersion, next))
	})
}

func (b *badgerStore) UpdateIfVersion(_ context.Context, collection, key string, expectedVersion uint64, next []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		var version uint64
		item, err := txn.Get(badgerKey(collection, key))
		switch {
		case err == nil:
			if verr := item.Value(func(val []byte) error {
				version, _ = decodeEnvelope(val)
				return nil
			}); verr != nil {
				return verr
			}
		case err == badger.ErrKeyNotFound:
			version = 0
		default:
			return err
		}
		if version != expectedVersion {
			return ErrVersionConflict
		}
		return txn.Set(badgerKey(collection, key), encodeEnvelope(version+1, next))
	})
}

func (b *badgerStore) Delete(_ context.Context, collection, key string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(badgerKey(collection, key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
}

func (b *badgerStore) Query(_ context.Context, collection string, filter func(key string, value []byte) bool) (map[string][]byte, error) {
	out := map[string][]byte{}
	prefix := []byte(collection + "\x00")
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			fullKey := string(item.Key())
			key := fullKey[len(prefix):]
			var value []byte
			if err := item.Value(func(val []byte) error {
				_, v := decodeEnvelope(val)
				value = append([]byte(nil), v...)
				return nil
			}); err != nil {
				return err
			}
			if filter == nil || filter(key, value) {
				out[key] = value
			}
		}
		return nil
	})
	return out, err
}

func (b *badgerStore) Increment(ctx context.Context, collection, key, field string, delta int64) (int64, error) {
	var result int64
	err := b.Update(ctx, collection, key, func(current []byte, found bool) ([]byte, error) {
		obj := map[string]any{}
		if found && len(current) > 0 {
			if err := json.Unmarshal(current, &obj); err != nil {
				return nil, fmt.Errorf("store: increment decode: %w", err)
			}
		}
		var existing float64
		if v, ok := obj[field]; ok {
			if n, ok := v.(float64); ok {
				existing = n
			}
		}
		result = int64(existing) + delta
		obj[field] = result
		return json.Marshal(obj)
	})
	return result, err
}

func (b *badgerStore) Close() error { return b.db.Close() }
