package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/acarlson/user-account-service/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
    name        TEXT PRIMARY KEY,
    pw_hash     TEXT NOT NULL,
    data        JSONB,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// uniqueViolation is the postgres error code for duplicate primary key inserts.
const uniqueViolation = "23505"

// PostgresStore implements Store over database/sql with the pgx stdlib driver.
type PostgresStore struct {
	db *sql.DB
}

// PostgresConfig holds connection parameters for the user store.
type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectAttempts int
	ConnectBaseDelay time.Duration
	ConnectMaxDelay  time.Duration
}

// NewPostgresStore opens a pooled connection, verifies reachability with
// exponential-backoff retry, and bootstraps the schema.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres: DSN is required")
	}
	if cfg.ConnectAttempts <= 0 {
		cfg.ConnectAttempts = 5
	}
	if cfg.ConnectBaseDelay <= 0 {
		cfg.ConnectBaseDelay = 200 * time.Millisecond
	}
	if cfg.ConnectMaxDelay <= 0 {
		cfg.ConnectMaxDelay = 5 * time.Second
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	var lastErr error
	for attempt := 0; attempt < cfg.ConnectAttempts; attempt++ {
		if attempt > 0 {
			delay := connectBackoff(attempt, cfg.ConnectBaseDelay, cfg.ConnectMaxDelay)
			select {
			case <-ctx.Done():
				_ = db.Close()
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
		if lastErr = db.PingContext(ctx); lastErr == nil {
			break
		}
	}
	if lastErr != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping after %d attempts: %w", cfg.ConnectAttempts, lastErr)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// connectBackoff returns base * 2^(attempt-1) capped at max.
func connectBackoff(attempt int, base, max time.Duration) time.Duration {
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	if d > max {
		return max
	}
	return d
}

// Create implements Store.Create. Duplicate names map to ErrUserExists.
func (s *PostgresStore) Create(ctx context.Context, user models.User) error {
	const query = `
        INSERT INTO users (name, pw_hash, data, created_at, updated_at)
        VALUES ($1, $2, $3, now(), now())
    `
	var data any
	if len(user.Data) > 0 {
		data = []byte(user.Data)
	}
	_, err := s.db.ExecContext(ctx, query, user.Name, user.PasswordHash, data)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrUserExists
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// Get implements Store.Get.
func (s *PostgresStore) Get(ctx context.Context, name string) (models.User, error) {
	const query = `
        SELECT name, pw_hash, data, created_at, updated_at
          FROM users
         WHERE name = $1
    `
	var u models.User
	var data sql.NullString
	err := s.db.QueryRowContext(ctx, query, name).Scan(&u.Name, &u.PasswordHash, &data, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, ErrUserNotFound
		}
		return models.User{}, fmt.Errorf("get user: %w", err)
	}
	if data.Valid {
		u.Data = json.RawMessage(data.String)
	}
	return u, nil
}

// UpdateData implements Store.UpdateData.
func (s *PostgresStore) UpdateData(ctx context.Context, name string, data json.RawMessage) error {
	const query = `
        UPDATE users
           SET data = $2, updated_at = now()
         WHERE name = $1
    `
	var v any
	if len(data) > 0 {
		v = []byte(data)
	}
	res, err := s.db.ExecContext(ctx, query, name, v)
	if err != nil {
		return fmt.Errorf("update user data: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user data: %w", err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// Delete implements Store.Delete.
func (s *PostgresStore) Delete(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// Ping implements Store.Ping.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements Store.Close.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
