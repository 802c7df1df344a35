//go:build integration
// +build integration

package testhelpers

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/acarlson/user-account-service/internal/session"
	"github.com/acarlson/user-account-service/internal/store"
)

// PostgresDSN returns the test database DSN, or skips the test when
// POSTGRES_TEST_DSN is not set.
func PostgresDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set, skipping integration test")
	}
	return dsn
}

// MemcachedAddrs returns the memcached server list, or skips the test when
// MEMCACHED_ADDRS is not set.
func MemcachedAddrs(t *testing.T) string {
	t.Helper()
	addrs := os.Getenv("MEMCACHED_ADDRS")
	if addrs == "" {
		t.Skip("MEMCACHED_ADDRS not set, skipping integration test")
	}
	return addrs
}

// SetupPostgresStore connects to the test database and returns the store with
// a cleanup that removes created users and closes the pool.
func SetupPostgresStore(t *testing.T, usernames ...string) *store.PostgresStore {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	st, err := store.NewPostgresStore(ctx, store.PostgresConfig{
		DSN:             PostgresDSN(t),
		ConnectAttempts: 2,
	})
	if err != nil {
		t.Fatalf("NewPostgresStore() error = %v", err)
	}
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, name := range usernames {
			_ = st.Delete(cleanupCtx, name)
		}
		_ = st.Close()
	})
	return st
}

// SetupMemcachedStore connects to memcached and returns the session store with
// a cleanup that closes idle connections.
func SetupMemcachedStore(t *testing.T) *session.MemcachedStore {
	t.Helper()
	st, err := session.NewMemcachedStore(MemcachedAddrs(t), 500*time.Millisecond, 2)
	if err != nil {
		t.Fatalf("NewMemcachedStore() error = %v", err)
	}
	if err := st.Ping(); err != nil {
		t.Skipf("memcached not reachable: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}
