package signedurl

import (
	"bytes"
	"io"
	"strings"
	"sync"

	"github.com/roach88/runledger/internal/hashing"
)

// BlobSource is the capability the handler needs from blob storage.
// *attachments.Store satisfies it; MemorySource is an in-process stand-in.
type BlobSource interface {
	Open(sha string) (io.ReadCloser, bool, error)
}

// MemorySource is a BlobSource backed by a map, for tests and for
// deployments that serve a fixed set of blobs.
type MemorySource struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemorySource returns an empty MemorySource.
func NewMemorySource() *MemorySource {
	return &MemorySource{blobs: make(map[string][]byte)}
}

// Add stores data and returns its digest.
func (m *MemorySource) Add(data []byte) string {
	sha := hashing.HashBytes(data)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[sha] = append([]byte(nil), data...)
	return sha
}

// Open implements BlobSource.
func (m *MemorySource) Open(sha string) (io.ReadCloser, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[strings.ToLower(sha)]
	if !ok {
		return nil, false, nil
	}
	return io.NopCloser(bytes.NewReader(data)), true, nil
}
