package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/acarlson/user-account-service/internal/models"
)

// MemoryStore implements Store with a mutex-guarded map. Default backend for
// development and tests; contents do not survive a restart.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]models.User
}

// NewMemoryStore creates an empty in-memory user store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]models.User)}
}

// Create implements Store.Create.
func (s *MemoryStore) Create(ctx context.Context, user models.User) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.Name]; ok {
		return ErrUserExists
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	s.users[user.Name] = user
	return nil
}

// Get implements Store.Get.
func (s *MemoryStore) Get(ctx context.Context, name string) (models.User, error) {
	if ctx.Err() != nil {
		return models.User{}, ctx.Err()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[name]
	if !ok {
		return models.User{}, ErrUserNotFound
	}
	return user, nil
}

// UpdateData implements Store.UpdateData.
func (s *MemoryStore) UpdateData(ctx context.Context, name string, data json.RawMessage) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[name]
	if !ok {
		return ErrUserNotFound
	}
	user.Data = data
	user.UpdatedAt = time.Now().UTC()
	s.users[name] = user
	return nil
}

// Delete implements Store.Delete.
func (s *MemoryStore) Delete(ctx context.Context, name string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[name]; !ok {
		return ErrUserNotFound
	}
	delete(s.users, name)
	return nil
}

// Ping implements Store.Ping. Always healthy.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close implements Store.Close. No resources to release.
func (s *MemoryStore) Close() error {
	return nil
}
