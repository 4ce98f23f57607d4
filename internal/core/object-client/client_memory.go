package objectclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

// MemoryObjectClient keeps objects in process memory. It backs the memory
// storage driver and tests.
type MemoryObjectClient struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryObjectClient() *MemoryObjectClient {
	return &MemoryObjectClient{objects: make(map[string][]byte)}
}

func objectPath(bucket, key string) string { return bucket + "/" + key }

func (m *MemoryObjectClient) UploadFile(ctx context.Context, bucket, key string, data []byte, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	m.mu.Lock()
	m.objects[objectPath(bucket, key)] = cp
	m.mu.Unlock()
	return "memory://" + objectPath(bucket, key), nil
}

func (m *MemoryObjectClient) DeleteFile(_ context.Context, bucket, key string) error {
	m.mu.Lock()
	delete(m.objects, objectPath(bucket, key))
	m.mu.Unlock()
	return nil
}

func (m *MemoryObjectClient) GetFile(ctx context.Context, bucket, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[objectPath(bucket, key)]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, bucket, key)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (m *MemoryObjectClient) StatFile(_ context.Context, bucket, key string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[objectPath(bucket, key)]
	if !ok {
		return 0, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, bucket, key)
	}
	return int64(len(data)), nil
}

func (m *MemoryObjectClient) GetObjectReader(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	data, err := m.GetFile(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}
