package contentstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"

	"github.com/praveen5665/bmail/internal/apierrors"
)

var rawPrefix = cid.NewPrefixV1(cid.Raw, mh.SHA2_256)

// MemoryStore keeps content in process memory under CIDv1 raw sha2-256 ids,
// the same ids a Kubo node assigns to small files.
type MemoryStore struct {
	mu      sync.RWMutex
	content map[string][]byte
}

// NewMemory returns an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{content: make(map[string][]byte)}
}

// ID returns the content id data is stored under.
func ID(data []byte) (string, error) {
	c, err := rawPrefix.Sum(data)
	if err != nil {
		return "", err
	}
	return c.String(), nil
}

// Upload stores v and returns its content id.
func (m *MemoryStore) Upload(_ context.Context, v any) (string, error) {
	data, err := Encode(v)
	if err != nil {
		return "", err
	}
	id, err := ID(data)
	if err != nil {
		return "", fmt.Errorf("%w: %v", apierrors.ErrStorageUnavailable, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.content[id] = append([]byte(nil), data...)
	return id, nil
}

// Fetch returns the content stored under contentID.
func (m *MemoryStore) Fetch(_ context.Context, contentID string) ([]byte, error) {
	if _, err := ParseID(contentID); err != nil {
		return nil, &apierrors.ContentUnavailableError{ContentID: contentID, Err: err}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.content[contentID]
	if !ok {
		return nil, &apierrors.ContentUnavailableError{ContentID: contentID, Attempts: 1, Err: apierrors.ErrNotFound}
	}
	return append([]byte(nil), data...), nil
}

// Len returns the number of stored items.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.content)
}
