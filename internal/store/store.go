package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/acarlson/user-account-service/internal/models"
)

// ErrUserExists is returned by Create when the username is already registered.
var ErrUserExists = errors.New("user already exists")

// ErrUserNotFound is returned when no user has the given name.
var ErrUserNotFound = errors.New("user not found")

// Store defines the user datastore interface. Implementations: in-memory for
// dev/tests, postgres for production.
type Store interface {
	// Create persists a new user. Returns ErrUserExists on duplicate name.
	Create(ctx context.Context, user models.User) error
	// Get returns the user by name. Returns ErrUserNotFound when absent.
	Get(ctx context.Context, name string) (models.User, error)
	// UpdateData replaces the user's profile document and bumps UpdatedAt.
	UpdateData(ctx context.Context, name string, data json.RawMessage) error
	// Delete removes the user. Returns ErrUserNotFound when absent.
	Delete(ctx context.Context, name string) error
	// Ping checks backend reachability. Used by health checks.
	Ping(ctx context.Context) error
	// Close releases backend resources. Call during shutdown.
	Close() error
}
