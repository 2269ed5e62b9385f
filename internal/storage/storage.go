// Package storage abstracts where audio blobs live. Providers exchange
// references, not bytes; the orchestrator only resolves references when a
// client downloads a result.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"masterchain.app/orchestrator/common/id"
)

var ErrBlobNotFound = errors.New("blob not found")

type Storage interface {
	Put(ctx context.Context, data []byte, contentType string) (string, error)
	Get(ctx context.Context, ref string) ([]byte, string, error)
}

type memoryBlob struct {
	data        []byte
	contentType string
}

// Memory keeps blobs in process. Used in development and tests.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string]memoryBlob
}

func NewMemory() *Memory {
	return &Memory{blobs: make(map[string]memoryBlob)}
}

func (m *Memory) Put(_ context.Context, data []byte, contentType string) (string, error) {
	ref := fmt.Sprintf("mem://%d", id.New())
	m.mu.Lock()
	m.blobs[ref] = memoryBlob{data: append([]byte(nil), data...), contentType: contentType}
	m.mu.Unlock()
	return ref, nil
}

func (m *Memory) Get(_ context.Context, ref string) ([]byte, string, error) {
	m.mu.RLock()
	blob, ok := m.blobs[ref]
	m.mu.RUnlock()
	if !ok {
		return nil, "", ErrBlobNotFound
	}
	return blob.data, blob.contentType, nil
}

var _ Storage = (*Memory)(nil)
