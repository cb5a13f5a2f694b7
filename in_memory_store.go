package aetree

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

type inMemoryStore struct {
	entries map[string][]byte
	l       sync.Mutex
}

// NewInMemoryStore provides a Persist that keeps rows in a map, usually for testing.
func NewInMemoryStore() Persist {
	return &inMemoryStore{}
}

func (ims *inMemoryStore) Store(ctx context.Context, key string, value []byte) error {
	ims.l.Lock()
	if ims.entries == nil {
		ims.entries = map[string][]byte{key: value}
	} else {
		ims.entries[key] = value
	}
	ims.l.Unlock()
	return nil
}

func (ims *inMemoryStore) Load(ctx context.Context, key string) ([]byte, error) {
	ims.l.Lock()
	value, ok := ims.entries[key]
	ims.l.Unlock()
	if !ok {
		return nil, fmt.Errorf("inMemoryStore entry not found for %s", key)
	}
	return value, nil
}

func (ims *inMemoryStore) Delete(ctx context.Context, key string) error {
	ims.l.Lock()
	delete(ims.entries, key)
	ims.l.Unlock()
	return nil
}

// List yields names in sorted order, from a snapshot taken when it is called.
func (ims *inMemoryStore) List(ctx context.Context, f func(string) error) error {
	ims.l.Lock()
	names := make([]string, 0, len(ims.entries))
	for name := range ims.entries {
		names = append(names, name)
	}
	ims.l.Unlock()
	sort.Strings(names)
	for _, name := range names {
		if err := f(name); err != nil {
			return err
		}
	}
	return nil
}
