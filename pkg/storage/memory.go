package storage

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store for tests.
type MemoryStore struct {
	// HeadErr, when set, is returned by Exists.
	HeadErr error
	// PutErr, when set, is returned by Put.
	PutErr error

	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	heads   int
	puts    int
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string][]byte),
		types:   make(map[string]string),
	}
}

func (m *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heads++
	if m.HeadErr != nil {
		return false, m.HeadErr
	}
	_, ok := m.objects[key]
	return ok, nil
}

func (m *MemoryStore) Put(ctx context.Context, key string, body []byte, contentType string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	if m.PutErr != nil {
		return m.PutErr
	}
	m.objects[key] = append([]byte(nil), body...)
	m.types[key] = contentType
	return nil
}

func (m *MemoryStore) URL(key string) string {
	return "memory://" + key
}

// Get returns the stored object body, for test assertions.
func (m *MemoryStore) Get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[key]
	return b, ok
}

func (m *MemoryStore) Puts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts
}

func (m *MemoryStore) Heads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.heads
}

var _ Store = (*MemoryStore)(nil)
