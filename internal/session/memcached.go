package session

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

const keyPrefix = "session:"

// MemcachedStore implements Store using memcached. Expiry is delegated to the
// server, so no sweep is needed for this backend.
type MemcachedStore struct {
	client *memcache.Client
}

// NewMemcachedStore creates a MemcachedStore. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and
// maxIdleConns configure the client; both use package defaults if zero.
func NewMemcachedStore(addrs string, timeout time.Duration, maxIdleConns int) (*MemcachedStore, error) {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedStore{client: client}, nil
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

func (s *MemcachedStore) key(id string) string {
	return keyPrefix + id
}

// Get implements Store.Get. Returns false, nil on miss; false, err on error.
func (s *MemcachedStore) Get(ctx context.Context, id string) (Record, bool, error) {
	if ctx.Err() != nil {
		return Record{}, false, ctx.Err()
	}
	item, err := s.client.Get(s.key(id))
	if err != nil {
		if err == memcache.ErrCacheMiss {
			return Record{}, false, nil
		}
		return Record{}, false, err
	}
	var rec Record
	if err := json.Unmarshal(item.Value, &rec); err != nil {
		return Record{}, false, err
	}
	if time.Now().After(rec.ExpiresAt) {
		return Record{}, false, nil
	}
	return rec, true, nil
}

// Set implements Store.Set.
func (s *MemcachedStore) Set(ctx context.Context, id string, rec Record, ttl time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	rec.ExpiresAt = time.Now().Add(ttl)
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	expSec := int32(ttl.Seconds())
	const maxRelativeExp = 30 * 24 * 60 * 60 // 30 days
	if expSec <= 0 || expSec > maxRelativeExp {
		expSec = 24 * 3600 // fallback 24h if invalid
	}
	return s.client.Set(&memcache.Item{
		Key:        s.key(id),
		Value:      raw,
		Expiration: expSec,
	})
}

// Delete implements Store.Delete. Misses are not errors.
func (s *MemcachedStore) Delete(ctx context.Context, id string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	err := s.client.Delete(s.key(id))
	if err == memcache.ErrCacheMiss {
		return nil
	}
	return err
}

// Ping checks if memcached is reachable. Used for health checks.
func (s *MemcachedStore) Ping() error {
	return s.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (s *MemcachedStore) Close() error {
	return s.client.Close()
}
