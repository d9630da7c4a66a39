package keystore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"
)

// ErrNoEntry is returned by a Backend that holds no value for a key.
var ErrNoEntry = errors.New("keystore: no such entry")

// Backend is a string key-value store. Implementations must be safe for
// concurrent use.
type Backend interface {
	Name() string
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key, value string) error
	Close() error
}

const (
	metadataBucket = "metadata"
	keysBucket     = "private_keys"
	versionKey     = "version"
	schemaVersion  = 0
)

// record is the CBOR encoded value stored in the bolt backend.
type record struct {
	Key      string `cbor:"1,keyasint"`
	Value    string `cbor:"2,keyasint"`
	StoredAt int64  `cbor:"3,keyasint"`
}

// BoltBackend stores entries in a bbolt database.
type BoltBackend struct {
	db  *bolt.DB
	now func() time.Time
}

// OpenBolt opens or creates the database at path. A database held open by
// another process fails after timeout instead of blocking.
func OpenBolt(path string, timeout time.Duration) (*BoltBackend, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, err
	}

	if err = db.Update(func(tx *bolt.Tx) error {
		bkt, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return err
		}
		if _, err = tx.CreateBucketIfNotExists([]byte(keysBucket)); err != nil {
			return err
		}

		if b := bkt.Get([]byte(versionKey)); b != nil {
			if len(b) != 1 || b[0] != schemaVersion {
				return fmt.Errorf("keystore: incompatible version: %d", uint(b[0]))
			}
			return nil
		}
		return bkt.Put([]byte(versionKey), []byte{schemaVersion})
	}); err != nil {
		db.Close()
		return nil, err
	}

	return &BoltBackend{db: db, now: time.Now}, nil
}

// Name implements Backend.
func (b *BoltBackend) Name() string { return "bolt" }

// Get implements Backend.
func (b *BoltBackend) Get(_ context.Context, key string) (string, error) {
	var rec record
	err := b.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(keysBucket)).Get([]byte(key))
		if raw == nil {
			return ErrNoEntry
		}
		return cbor.Unmarshal(raw, &rec)
	})
	if err != nil {
		return "", err
	}
	return rec.Value, nil
}

// Put implements Backend.
func (b *BoltBackend) Put(_ context.Context, key, value string) error {
	raw, err := cbor.Marshal(&record{Key: key, Value: value, StoredAt: b.now().Unix()})
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(keysBucket)).Put([]byte(key), raw)
	})
}

// Close implements Backend.
func (b *BoltBackend) Close() error {
	return b.db.Close()
}

// FileBackend stores one file per key in a directory.
type FileBackend struct {
	dir string
	mu  sync.RWMutex
}

// OpenFile creates dir if needed and returns a backend rooted there.
func OpenFile(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	return &FileBackend{dir: dir}, nil
}

func (f *FileBackend) path(key string) string {
	return filepath.Join(f.dir, url.PathEscape(key))
}

// Name implements Backend.
func (f *FileBackend) Name() string { return "file" }

// Get implements Backend.
func (f *FileBackend) Get(_ context.Context, key string) (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	data, err := os.ReadFile(f.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNoEntry
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Put implements Backend. The value is written to a temporary file and
// renamed into place.
func (f *FileBackend) Put(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	tmp, err := os.CreateTemp(f.dir, ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.WriteString(value); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0600); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), f.path(key))
}

// Close implements Backend.
func (f *FileBackend) Close() error { return nil }

// MemoryBackend keeps entries in process memory.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]string
}

// NewMemory returns an empty in-memory backend.
func NewMemory() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string]string)}
}

// Name implements Backend.
func (m *MemoryBackend) Name() string { return "memory" }

// Get implements Backend.
func (m *MemoryBackend) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.entries[key]
	if !ok {
		return "", ErrNoEntry
	}
	return v, nil
}

// Put implements Backend.
func (m *MemoryBackend) Put(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = value
	return nil
}

// Close implements Backend.
func (m *MemoryBackend) Close() error { return nil }
