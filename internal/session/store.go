package session

import (
	"context"
	"sync"
	"time"
)

// Record is a server-side session: who is logged in and until when.
type Record struct {
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Store defines the session persistence interface.
// Get returns the record if present and not expired, Set stores a record with TTL.
type Store interface {
	Get(ctx context.Context, id string) (Record, bool, error)
	Set(ctx context.Context, id string, rec Record, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
}

// MemoryStore implements Store using an in-memory map with TTL-based
// expiration. Expired entries are removed on access; Sweep removes the rest.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]Record
}

// NewMemoryStore creates a new in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]Record)}
}

// Get retrieves the session record for id if present and not expired.
// Returns (rec, true, nil) on hit, (zero, false, nil) on miss or expiry.
func (s *MemoryStore) Get(ctx context.Context, id string) (Record, bool, error) {
	if ctx.Err() != nil {
		return Record{}, false, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.data[id]
	if !ok {
		return Record{}, false, nil
	}
	if time.Now().After(rec.ExpiresAt) {
		delete(s.data, id)
		return Record{}, false, nil
	}
	return rec, true, nil
}

// Set stores the session record with the specified TTL.
func (s *MemoryStore) Set(ctx context.Context, id string, rec Record, ttl time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	rec.ExpiresAt = time.Now().Add(ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[id] = rec
	return nil
}

// Delete removes the session record. Deleting a missing id is not an error.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, id)
	return nil
}

// Sweep removes all expired records and returns how many were dropped.
func (s *MemoryStore) Sweep() int {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, rec := range s.data {
		if now.After(rec.ExpiresAt) {
			delete(s.data, id)
			n++
		}
	}
	return n
}

// Len returns the number of stored records, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}
