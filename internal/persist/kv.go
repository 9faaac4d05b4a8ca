// Package persist saves and restores workbench state through a byte-oriented
// key-value backend.
package persist

import (
	"context"
	"errors"
	"sync"
)

// Storage keys
const (
	StateKey = "workbench_state_v1"
	ModeKey  = "workbench_mode_v1"
)

// ErrNotFound is returned by KV.Get for absent keys
var ErrNotFound = errors.New("key not found")

// KV is the persistence collaborator
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Close() error
}

// MemoryKV keeps values in process memory
type MemoryKV struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryKV creates an empty in-memory backend
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string][]byte)}
}

// Get returns a copy of the stored value
func (m *MemoryKV) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Set stores a copy of value
func (m *MemoryKV) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

// Close is a no-op
func (m *MemoryKV) Close() error {
	return nil
}
