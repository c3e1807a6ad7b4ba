package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// memStore is the in-process Store implementation: a map of collections to
// key->document, guarded by one store-wide RWMutex and per-key locks for
// read-modify-write sequences. Used for tests and the single-node
// gochannel-only dev mode.
type memStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]*entry
	keyLocks    sync.Map // string "collection/key" -> *sync.Mutex
}

type entry struct {
	value   []byte
	version uint64
}

// NewMemory returns a fresh in-process Store.
func NewMemory() Store {
	return &memStore{collections: map[string]map[string]*entry{}}
}

func (m *memStore) lockFor(collection, key string) *sync.Mutex {
	lk, _ := m.keyLocks.LoadOrStore(collection+"/"+key, &sync.Mutex{})
	return lk.(*sync.Mutex)
}

func (m *memStore) col(collection string, create bool) map[string]*entry {
	m.mu.RLock()
	c, ok := m.collections[collection]
	m.mu.RUnlock()
	if ok || !create {
		return c
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok = m.collections[collection]; ok {
		return c
	}
	c = map[string]*entry{}
	m.collections[collection] = c
	return c
}

func (m *memStore) Get(_ context.Context, collection, key string) ([]byte, error) {
	c := m.col(collection, false)
	if c == nil {
		return nil, ErrNotFound
	}
	lk := m.lockFor(collection, key)
	lk.Lock()
	defer lk.Unlock()
	m.mu.RLock()
	e, ok := c[key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

func (m *memStore) GetWithVersion(_ context.Context, collection, key string) (Document, error) {
	c := m.col(collection, false)
	if c == nil {
		return Document{}, ErrNotFound
	}
	lk := m.lockFor(collection, key)
	lk.Lock()
	defer lk.Unlock()
	m.mu.RLock()
	e, ok := c[key]
	m.mu.RUnlock()
	if !ok {
		return Document{}, ErrNotFound
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return Document{Value: out, Version: e.version}, nil
}

func (m *memStore) Set(_ context.Context, collection, key string, value []byte) error {
	c := m.col(collection, true)
	lk := m.lockFor(collection, key)
	lk.Lock()
	defer lk.Unlock()
	m.mu.Lock()
	cur := c[key]
	var v uint64
	if cur != nil {
		v = cur.version + 1
	}
	c[key] = &entry{value: append([]byte(nil), value...), version: v}
	m.mu.Unlock()
	return nil
}

func (m *memStore) Update(ctx context.Context, collection, key string, fn Mutator) error {
	c := m.col(collection, true)
	lk := m.lockFor(collection, key)
	lk.Lock()
	defer lk.Unlock()

	m.mu.RLock()
	cur, found := c[key]
	m.mu.RUnlock()

	var curVal []byte
	if found {
		curVal = cur.value
	}
	next, err := fn(curVal, found)
	if err != nil {
		return err
	}
	m.mu.Lock()
	var v uint64
	if found {
		v = cur.version + 1
	}
	c[key] = &entry{value: next, version: v}
	m.mu.Unlock()
	return nil
}

func (m *memStore) UpdateIfVersion(_ context.Context, collection, key string, expectedVersion uint64, next []byte) error {
	c := m.col(collection, true)
	lk := m.lockFor(collection, key)
	lk.Lock()
	defer lk.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	cur, found := c[key]
	var curVersion uint64
	if found {
		curVersion = cur.version
	}
	if curVersion != expectedVersion {
		return ErrVersionConflict
	}
	c[key] = &entry{value: next, version: curVersion + 1}
	return nil
}

func (m *memStore) Delete(_ context.Context, collection, key string) error {
	c := m.col(collection, false)
	if c == nil {
		return nil
	}
	lk := m.lockFor(collection, key)
	lk.Lock()
	defer lk.Unlock()
	m.mu.Lock()
	delete(c, key)
	m.mu.Unlock()
	return nil
}

func (m *memStore) Query(_ context.Context, collection string, filter func(key string, value []byte) bool) (map[string][]byte, error) {
	c := m.col(collection, false)
	out := map[string][]byte{}
	if c == nil {
		return out, nil
	}
	m.mu.RLock()
	snapshot := make(map[string]*entry, len(c))
	for k, v := range c {
		snapshot[k] = v
	}
	m.mu.RUnlock()
	for k, e := range snapshot {
		if filter == nil || filter(k, e.value) {
			out[k] = e.value
		}
	}
	return out, nil
}

func (m *memStore) Increment(ctx context.Context, collection, key, field string, delta int64) (int64, error) {
	var result int64
	err := m.Update(ctx, collection, key, func(current []byte, found bool) ([]byte, error) {
		obj := map[string]any{}
		if found && len(current) > 0 {
			if err := json.Unmarshal(current, &obj); err != nil {
				return nil, fmt.Errorf("store: increment decode: %w", err)
			}
		}
		var existing float64
		if v, ok := obj[field]; ok {
			switch n := v.(type) {
			case float64:
				existing = n
			}
		}
		result = int64(existing) + delta
		obj[field] = result
		out, err := json.Marshal(obj)
		if err != nil {
			return nil, fmt.Errorf("store: increment encode: %w", err)
		}
		return out, nil
	})
	if err != nil {
		return 0, err
	}
	return result, nil
}

func (m *memStore) Close() error { return nil }
