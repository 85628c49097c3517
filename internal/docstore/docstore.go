// Package docstore persists rendered documents keyed by identifier.
package docstore

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned by Get when no document is stored under the key
var ErrNotFound = errors.New("document not found")

// Store is the document store collaborator
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// Memory keeps documents in process memory. It is used in development and tests.
type Memory struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{docs: make(map[string][]byte)}
}

// Put implements Store
func (m *Memory) Put(ctx context.Context, key string, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[key] = cp
	return nil
}

// Get implements Store
func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.docs[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}
