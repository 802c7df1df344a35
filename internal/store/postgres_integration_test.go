//go:build integration
// +build integration

package store_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/acarlson/user-account-service/internal/models"
	"github.com/acarlson/user-account-service/internal/store"
	"github.com/acarlson/user-account-service/internal/testhelpers"
)

func TestPostgresStore_CRUD(t *testing.T) {
	st := testhelpers.SetupPostgresStore(t, "it_pat")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	user := models.User{
		Name:         "it_pat",
		PasswordHash: "$argon2id$v=19$m=65536,t=2,p=1$c2FsdA$aGFzaA",
		Data:         json.RawMessage(`{"city":"Austin"}`),
	}
	if err := st.Create(ctx, user); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := st.Get(ctx, "it_pat")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.PasswordHash != user.PasswordHash {
		t.Errorf("PasswordHash = %q, want stored hash", got.PasswordHash)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("timestamps not populated by insert")
	}

	if err := st.Create(ctx, user); !errors.Is(err, store.ErrUserExists) {
		t.Errorf("Create() duplicate error = %v, want ErrUserExists", err)
	}

	if err := st.UpdateData(ctx, "it_pat", json.RawMessage(`{"city":"Dallas"}`)); err != nil {
		t.Fatalf("UpdateData() error = %v", err)
	}
	got, err = st.Get(ctx, "it_pat")
	if err != nil {
		t.Fatalf("Get() after update error = %v", err)
	}
	var doc map[string]string
	if err := json.Unmarshal(got.Data, &doc); err != nil || doc["city"] != "Dallas" {
		t.Errorf("Data = %s, want updated document", got.Data)
	}

	if err := st.Delete(ctx, "it_pat"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := st.Get(ctx, "it_pat"); !errors.Is(err, store.ErrUserNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrUserNotFound", err)
	}
	if err := st.Delete(ctx, "it_pat"); !errors.Is(err, store.ErrUserNotFound) {
		t.Errorf("Delete() missing error = %v, want ErrUserNotFound", err)
	}
}

func TestPostgresStore_Ping(t *testing.T) {
	st := testhelpers.SetupPostgresStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := st.Ping(ctx); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}
