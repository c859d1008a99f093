package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

var _ Store = (*Memory)(nil)

// Memory keeps blobs in a map keyed by their sha256.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string][]byte
	gets  int
}

func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte)}
}

func (m *Memory) Put(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	id := "sha256-" + hex.EncodeToString(sum[:])

	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[id] = append([]byte(nil), data...)
	return id, nil
}

func (m *Memory) Get(ctx context.Context, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	b, ok := m.blobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), b...), nil
}

func (m *Memory) Ping(context.Context) error { return nil }

// Gets returns how many Get calls reached the store.
func (m *Memory) Gets() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gets
}

// Len returns the number of stored blobs.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}
