package models

import (
	"encoding/json"
	"time"
)

// User is an account record as stored in the datastore.
// Data holds the caller-supplied profile document verbatim.
type User struct {
	Name         string          `json:"username"`
	PasswordHash string          `json:"-"`
	Data         json.RawMessage `json:"data,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// Credentials carries a plain-text login attempt. Never logged, never stored.
type Credentials struct {
	Username string
	Password string
}
