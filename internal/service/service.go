package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/acarlson/user-account-service/internal/auth"
	"github.com/acarlson/user-account-service/internal/models"
	"github.com/acarlson/user-account-service/internal/observability"
	"github.com/acarlson/user-account-service/internal/session"
	"github.com/acarlson/user-account-service/internal/store"
	"github.com/acarlson/user-account-service/internal/validation"
)

// ErrInvalidCredentials is returned for both unknown users and wrong passwords
// so login responses do not reveal which usernames exist.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrInvalidData is returned when a profile document is not valid JSON.
var ErrInvalidData = errors.New("profile data must be valid JSON")

// Limits holds the account field bounds from config.
type Limits struct {
	UsernameMin int
	UsernameMax int
	PasswordMin int
	PasswordMax int
}

// AccountService implements signup, authentication, and profile management
// over the user datastore and the session manager.
type AccountService struct {
	store    store.Store
	sessions *session.Manager
	limits   Limits
}

// NewAccountService creates an AccountService with the provided dependencies.
func NewAccountService(st store.Store, sessions *session.Manager, limits Limits) *AccountService {
	if limits.UsernameMin <= 0 {
		limits.UsernameMin = 3
	}
	if limits.UsernameMax <= 0 {
		limits.UsernameMax = 64
	}
	if limits.PasswordMin <= 0 {
		limits.PasswordMin = 8
	}
	if limits.PasswordMax <= 0 {
		limits.PasswordMax = 128
	}
	return &AccountService{store: st, sessions: sessions, limits: limits}
}

// loggerFromContext extracts a zap.Logger from request context if present.
// Returns nil if logger is not found or context is invalid.
func loggerFromContext(ctx context.Context) *zap.Logger {
	if v := ctx.Value("logger"); v != nil {
		if l, ok := v.(*zap.Logger); ok && l != nil {
			return l
		}
	}
	return nil
}

// NormalizeUsername lowercases and trims a username so lookups and cache keys
// are case-insensitive.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// Signup validates input, rejects duplicates, hashes the password, and
// persists the new user. data, when non-empty, must be valid JSON.
func (s *AccountService) Signup(ctx context.Context, username, password string, data json.RawMessage) (models.User, error) {
	logger := loggerFromContext(ctx)

	name, err := validation.ValidateUsername(username, s.limits.UsernameMin, s.limits.UsernameMax)
	if err != nil {
		observability.SignupsTotal.WithLabelValues("invalid").Inc()
		return models.User{}, err
	}
	if err := validation.ValidatePassword(password, s.limits.PasswordMin, s.limits.PasswordMax); err != nil {
		observability.SignupsTotal.WithLabelValues("invalid").Inc()
		return models.User{}, err
	}
	name = NormalizeUsername(name)
	if len(data) > 0 && !json.Valid(data) {
		observability.SignupsTotal.WithLabelValues("invalid").Inc()
		return models.User{}, ErrInvalidData
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		observability.SignupsTotal.WithLabelValues("error").Inc()
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}

	user := models.User{
		Name:         name,
		PasswordHash: hash,
		Data:         data,
		CreatedAt:    time.Now().UTC(),
	}
	start := time.Now()
	err = s.store.Create(ctx, user)
	observability.ObserveStoreOperation("create", ignoreDomain(err), time.Since(start))
	if err != nil {
		if errors.Is(err, store.ErrUserExists) {
			observability.SignupsTotal.WithLabelValues("duplicate").Inc()
			return models.User{}, err
		}
		observability.SignupsTotal.WithLabelValues("error").Inc()
		return models.User{}, fmt.Errorf("signup %s: %w", name, err)
	}
	observability.SignupsTotal.WithLabelValues("created").Inc()
	if logger != nil {
		logger.Info("user signed up", zap.String("username", name))
	}
	return user, nil
}

// Authenticate verifies credentials. Unknown users and wrong passwords both
// return ErrInvalidCredentials.
func (s *AccountService) Authenticate(ctx context.Context, creds models.Credentials) (models.User, error) {
	name := NormalizeUsername(creds.Username)
	if name == "" {
		return models.User{}, ErrInvalidCredentials
	}
	start := time.Now()
	user, err := s.store.Get(ctx, name)
	observability.ObserveStoreOperation("get", ignoreDomain(err), time.Since(start))
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return models.User{}, ErrInvalidCredentials
		}
		return models.User{}, fmt.Errorf("authenticate %s: %w", name, err)
	}
	ok, err := auth.CheckPassword(creds.Password, user.PasswordHash)
	if err != nil {
		return models.User{}, fmt.Errorf("authenticate %s: %w", name, err)
	}
	if !ok {
		return models.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// Login authenticates and establishes a session. Returns the session ID and
// the user record.
func (s *AccountService) Login(ctx context.Context, creds models.Credentials) (string, models.User, error) {
	logger := loggerFromContext(ctx)
	user, err := s.Authenticate(ctx, creds)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			observability.LoginsTotal.WithLabelValues("invalid_credentials").Inc()
		} else {
			observability.LoginsTotal.WithLabelValues("error").Inc()
		}
		return "", models.User{}, err
	}
	id, err := s.sessions.Create(ctx, user.Name)
	if err != nil {
		observability.LoginsTotal.WithLabelValues("error").Inc()
		return "", models.User{}, err
	}
	observability.LoginsTotal.WithLabelValues("success").Inc()
	if logger != nil {
		logger.Info("user logged in", zap.String("username", user.Name))
	}
	return id, user, nil
}

// Logout destroys the session. Unknown session IDs are a no-op, so logout is
// idempotent.
func (s *AccountService) Logout(ctx context.Context, sessionID string) error {
	if err := s.sessions.Destroy(ctx, sessionID); err != nil {
		return err
	}
	observability.LogoutsTotal.Inc()
	return nil
}

// Profile returns the user record for the given name.
func (s *AccountService) Profile(ctx context.Context, username string) (models.User, error) {
	name := NormalizeUsername(username)
	start := time.Now()
	user, err := s.store.Get(ctx, name)
	observability.ObserveStoreOperation("get", ignoreDomain(err), time.Since(start))
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return models.User{}, err
		}
		return models.User{}, fmt.Errorf("profile %s: %w", name, err)
	}
	return user, nil
}

// UpdateData replaces the user's profile document.
func (s *AccountService) UpdateData(ctx context.Context, username string, data json.RawMessage) error {
	name := NormalizeUsername(username)
	if len(data) > 0 && !json.Valid(data) {
		return ErrInvalidData
	}
	start := time.Now()
	err := s.store.UpdateData(ctx, name, data)
	observability.ObserveStoreOperation("update", ignoreDomain(err), time.Since(start))
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return err
		}
		return fmt.Errorf("update %s: %w", name, err)
	}
	if logger := loggerFromContext(ctx); logger != nil {
		logger.Debug("user data updated", zap.String("username", name))
	}
	return nil
}

// DeleteAccount removes the user and tears down the session that authorized
// the deletion.
func (s *AccountService) DeleteAccount(ctx context.Context, username, sessionID string) error {
	name := NormalizeUsername(username)
	start := time.Now()
	err := s.store.Delete(ctx, name)
	observability.ObserveStoreOperation("delete", ignoreDomain(err), time.Since(start))
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return err
		}
		return fmt.Errorf("delete %s: %w", name, err)
	}
	if err := s.sessions.Destroy(ctx, sessionID); err != nil {
		return err
	}
	if logger := loggerFromContext(ctx); logger != nil {
		logger.Info("user deleted", zap.String("username", name))
	}
	return nil
}

// Sessions exposes the session manager for handlers that need cookie helpers.
func (s *AccountService) Sessions() *session.Manager {
	return s.sessions
}

// ignoreDomain filters expected domain outcomes out of store error metrics.
func ignoreDomain(err error) error {
	if errors.Is(err, store.ErrUserExists) || errors.Is(err, store.ErrUserNotFound) {
		return nil
	}
	return err
}
