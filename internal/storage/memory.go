package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

// MemoryStorage keeps blobs in process, for tests and local runs without a
// bucket.
type MemoryStorage struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{objects: make(map[string][]byte)}
}

func (m *MemoryStorage) Upload(_ context.Context, bucket, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return fmt.Errorf("read upload body: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[bucket+"/"+path] = b
	return nil
}

func (m *MemoryStorage) Download(_ context.Context, bucket, path string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.objects[bucket+"/"+path]
	if !ok {
		return nil, fmt.Errorf("download %s: %w", path, ErrObjectNotFound)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *MemoryStorage) Delete(_ context.Context, bucket, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, bucket+"/"+path)
	return nil
}
