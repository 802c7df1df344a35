package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/acarlson/user-account-service/internal/circuitbreaker"
	"github.com/acarlson/user-account-service/internal/models"
)

// flakyStore fails every call with failErr when set, otherwise delegates to
// an in-memory store.
type flakyStore struct {
	inner   *MemoryStore
	failErr error
	calls   int
}

func (f *flakyStore) Create(ctx context.Context, user models.User) error {
	f.calls++
	if f.failErr != nil {
		return f.failErr
	}
	return f.inner.Create(ctx, user)
}

func (f *flakyStore) Get(ctx context.Context, name string) (models.User, error) {
	f.calls++
	if f.failErr != nil {
		return models.User{}, f.failErr
	}
	return f.inner.Get(ctx, name)
}

func (f *flakyStore) UpdateData(ctx context.Context, name string, data json.RawMessage) error {
	f.calls++
	if f.failErr != nil {
		return f.failErr
	}
	return f.inner.UpdateData(ctx, name, data)
}

func (f *flakyStore) Delete(ctx context.Context, name string) error {
	f.calls++
	if f.failErr != nil {
		return f.failErr
	}
	return f.inner.Delete(ctx, name)
}

func (f *flakyStore) Ping(ctx context.Context) error {
	if f.failErr != nil {
		return f.failErr
	}
	return f.inner.Ping(ctx)
}

func (f *flakyStore) Close() error { return nil }

func newBreakerUnderTest(inner Store, failureThreshold int) *BreakerStore {
	cb := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: failureThreshold,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
		Component:        "user_store",
	})
	return WithBreaker(inner, cb)
}

func TestBreakerStore_PassesThroughOnSuccess(t *testing.T) {
	flaky := &flakyStore{inner: NewMemoryStore()}
	s := newBreakerUnderTest(flaky, 3)
	ctx := context.Background()

	if err := s.Create(ctx, models.User{Name: "pat", PasswordHash: "h"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	got, err := s.Get(ctx, "pat")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Name != "pat" {
		t.Errorf("Name = %q, want %q", got.Name, "pat")
	}
}

func TestBreakerStore_DomainErrorsDoNotTrip(t *testing.T) {
	flaky := &flakyStore{inner: NewMemoryStore()}
	s := newBreakerUnderTest(flaky, 2)
	ctx := context.Background()

	if err := s.Create(ctx, models.User{Name: "pat"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	// Repeated duplicates and lookups of missing users are expected outcomes,
	// not backend failures.
	for i := 0; i < 5; i++ {
		if err := s.Create(ctx, models.User{Name: "pat"}); !errors.Is(err, ErrUserExists) {
			t.Fatalf("Create() duplicate error = %v, want ErrUserExists", err)
		}
		if _, err := s.Get(ctx, "ghost"); !errors.Is(err, ErrUserNotFound) {
			t.Fatalf("Get() missing error = %v, want ErrUserNotFound", err)
		}
	}

	// The circuit stays closed, so a real call still reaches the backend.
	if _, err := s.Get(ctx, "pat"); err != nil {
		t.Errorf("Get() error = %v, want nil (circuit should be closed)", err)
	}
}

func TestBreakerStore_OpensOnBackendFailures(t *testing.T) {
	backendErr := errors.New("connection refused")
	flaky := &flakyStore{inner: NewMemoryStore(), failErr: backendErr}
	s := newBreakerUnderTest(flaky, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := s.Get(ctx, "pat"); !errors.Is(err, backendErr) {
			t.Fatalf("Get() error = %v, want backend error", err)
		}
	}

	// Circuit is open; backend is no longer called.
	before := flaky.calls
	if _, err := s.Get(ctx, "pat"); !errors.Is(err, circuitbreaker.ErrOpen) {
		t.Errorf("Get() error = %v, want ErrOpen", err)
	}
	if flaky.calls != before {
		t.Error("backend called while circuit open")
	}
}

func TestBreakerStore_PingBypassesBreaker(t *testing.T) {
	backendErr := errors.New("connection refused")
	flaky := &flakyStore{inner: NewMemoryStore(), failErr: backendErr}
	s := newBreakerUnderTest(flaky, 1)
	ctx := context.Background()

	s.Get(ctx, "pat") // trips the circuit

	// Ping still reaches the backend so health checks see real state.
	if err := s.Ping(ctx); !errors.Is(err, backendErr) {
		t.Errorf("Ping() error = %v, want backend error", err)
	}
	flaky.failErr = nil
	if err := s.Ping(ctx); err != nil {
		t.Errorf("Ping() after recovery error = %v", err)
	}
}
