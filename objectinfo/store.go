package objectinfo

import (
	"context"
	"sync"
	"time"
)

// Record is a cached raw object-info payload.
type Record struct {
	Key       string
	Raw       []byte
	FetchedAt time.Time
}

// Store persists raw object-info payloads keyed by server address.
type Store interface {
	// Get returns the record for key, or ErrNotFound.
	Get(ctx context.Context, key string) (Record, error)
	// Put replaces the record for key.
	Put(ctx context.Context, key string, raw []byte, fetchedAt time.Time) error
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Get(_ context.Context, key string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key]
	if !ok {
		return Record{}, ErrNotFound
	}
	rec.Raw = append([]byte(nil), rec.Raw...)
	return rec, nil
}

func (s *MemoryStore) Put(_ context.Context, key string, raw []byte, fetchedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = Record{
		Key:       key,
		Raw:       append([]byte(nil), raw...),
		FetchedAt: fetchedAt,
	}
	return nil
}
