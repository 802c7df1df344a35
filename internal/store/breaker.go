package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/acarlson/user-account-service/internal/circuitbreaker"
	"github.com/acarlson/user-account-service/internal/models"
)

// BreakerStore wraps a Store with a circuit breaker so that a struggling
// backend sheds load instead of queueing every request behind a dead
// connection. Domain errors (ErrUserExists, ErrUserNotFound) do not count as
// backend failures.
type BreakerStore struct {
	inner Store
	cb    *circuitbreaker.CircuitBreaker
}

// WithBreaker wraps inner with the given circuit breaker.
func WithBreaker(inner Store, cb *circuitbreaker.CircuitBreaker) *BreakerStore {
	return &BreakerStore{inner: inner, cb: cb}
}

// isDomainErr reports whether err is an expected outcome rather than a
// backend failure.
func isDomainErr(err error) bool {
	return errors.Is(err, ErrUserExists) || errors.Is(err, ErrUserNotFound)
}

// call runs fn through the breaker, passing domain errors through without
// tripping it.
func (s *BreakerStore) call(ctx context.Context, fn func() error) error {
	var domainErr error
	err := s.cb.Call(ctx, func() error {
		if err := fn(); err != nil {
			if isDomainErr(err) {
				domainErr = err
				return nil
			}
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	return domainErr
}

// Create implements Store.Create.
func (s *BreakerStore) Create(ctx context.Context, user models.User) error {
	return s.call(ctx, func() error { return s.inner.Create(ctx, user) })
}

// Get implements Store.Get.
func (s *BreakerStore) Get(ctx context.Context, name string) (models.User, error) {
	var user models.User
	err := s.call(ctx, func() error {
		var err error
		user, err = s.inner.Get(ctx, name)
		return err
	})
	if err != nil {
		return models.User{}, err
	}
	return user, nil
}

// UpdateData implements Store.UpdateData.
func (s *BreakerStore) UpdateData(ctx context.Context, name string, data json.RawMessage) error {
	return s.call(ctx, func() error { return s.inner.UpdateData(ctx, name, data) })
}

// Delete implements Store.Delete.
func (s *BreakerStore) Delete(ctx context.Context, name string) error {
	return s.call(ctx, func() error { return s.inner.Delete(ctx, name) })
}

// Ping implements Store.Ping. Pings bypass the breaker so health checks can
// observe recovery while the circuit is open.
func (s *BreakerStore) Ping(ctx context.Context) error {
	return s.inner.Ping(ctx)
}

// Close implements Store.Close.
func (s *BreakerStore) Close() error {
	return s.inner.Close()
}
