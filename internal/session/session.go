package session

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// CookieName is the session cookie set on login. Matches the key clients of
// the previous deployment already carry.
const CookieName = "api.session.id"

// DefaultTTL is how long a login session stays valid.
const DefaultTTL = 24 * time.Hour

// Manager issues, resolves, and destroys login sessions against a Store.
type Manager struct {
	store Store
	ttl   time.Duration
}

// NewManager creates a Manager. ttl <= 0 falls back to DefaultTTL.
func NewManager(store Store, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{store: store, ttl: ttl}
}

// TTL returns the configured session lifetime.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Create establishes a session for username and returns the opaque session ID.
func (m *Manager) Create(ctx context.Context, username string) (string, error) {
	id := uuid.New().String()
	rec := Record{
		Username:  username,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.store.Set(ctx, id, rec, m.ttl); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return id, nil
}

// Get resolves a session ID to its record. Returns false for unknown or
// expired sessions.
func (m *Manager) Get(ctx context.Context, id string) (Record, bool, error) {
	if id == "" {
		return Record{}, false, nil
	}
	return m.store.Get(ctx, id)
}

// Destroy removes the session. Unknown IDs are a no-op.
func (m *Manager) Destroy(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if err := m.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("destroy session: %w", err)
	}
	return nil
}

// NewCookie returns the session cookie to set after login.
func (m *Manager) NewCookie(id string) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(m.ttl.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

// ExpiredCookie returns a cookie that clears the session cookie on logout.
func ExpiredCookie() *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

// IDFromRequest extracts the session ID from the request cookie, or "".
func IDFromRequest(r *http.Request) string {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return ""
	}
	return c.Value
}
