package tokens

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/tradelane-dev/marketauth/internal/autherr"
)

// MemoryStore implements Store with an in-process map of raw string entries,
// mirroring the key/value layout of the durable backends. Useful for tests
// and ephemeral sessions.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

// Save stores the serialized record under the primary key, then the access
// token under the legacy mirror key.
func (m *MemoryStore) Save(ctx context.Context, rec *Record) error {
	if rec == nil {
		return autherr.New(autherr.PersistenceFailure, "refusing to save nil record")
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return autherr.Wrap(err, autherr.PersistenceFailure, "failed to serialize token record")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[PrimaryKey] = string(data)
	m.data[MirrorKey] = rec.AccessToken
	return nil
}

// Load deserializes the primary key. Absent entries return (nil, nil).
func (m *MemoryStore) Load(ctx context.Context) (*Record, error) {
	m.mu.RLock()
	raw, ok := m.data[PrimaryKey]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, autherr.Wrap(err, autherr.PersistenceFailure, "stored token record is corrupt")
	}
	return &rec, nil
}

// Clear removes both keys. Idempotent.
func (m *MemoryStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, PrimaryKey)
	delete(m.data, MirrorKey)
	return nil
}

// SetRaw writes an arbitrary value under a key, bypassing serialization.
// This is the debug/test injection path the manager only observes through
// the reconciliation poll.
func (m *MemoryStore) SetRaw(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
}

// Raw reads the raw value stored under a key.
func (m *MemoryStore) Raw(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok
}
