package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/acarlson/user-account-service/internal/auth"
	"github.com/acarlson/user-account-service/internal/models"
	"github.com/acarlson/user-account-service/internal/session"
	"github.com/acarlson/user-account-service/internal/store"
	"github.com/acarlson/user-account-service/internal/validation"
)

// failingStore returns err from every operation. Simulates an unreachable
// datastore.
type failingStore struct {
	err error
}

func (f *failingStore) Create(ctx context.Context, user models.User) error { return f.err }
func (f *failingStore) Get(ctx context.Context, name string) (models.User, error) {
	return models.User{}, f.err
}
func (f *failingStore) UpdateData(ctx context.Context, name string, data json.RawMessage) error {
	return f.err
}
func (f *failingStore) Delete(ctx context.Context, name string) error { return f.err }
func (f *failingStore) Ping(ctx context.Context) error                { return f.err }
func (f *failingStore) Close() error                                  { return nil }

func newTestService() *AccountService {
	sessions := session.NewManager(session.NewMemoryStore(), time.Minute)
	return NewAccountService(store.NewMemoryStore(), sessions, Limits{})
}

func signupTestUser(t *testing.T, svc *AccountService, name, password string) models.User {
	t.Helper()
	user, err := svc.Signup(context.Background(), name, password, nil)
	if err != nil {
		t.Fatalf("Signup(%q) error = %v", name, err)
	}
	return user
}

func TestSignup_CreatesUser(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	user, err := svc.Signup(ctx, "Pat.Ng", "greatsecret", json.RawMessage(`{"city":"Austin"}`))
	if err != nil {
		t.Fatalf("Signup() error = %v", err)
	}
	if user.Name != "pat.ng" {
		t.Errorf("Name = %q, want normalized %q", user.Name, "pat.ng")
	}
	if user.PasswordHash == "" || user.PasswordHash == "greatsecret" {
		t.Error("password was not hashed")
	}
	if !strings.HasPrefix(user.PasswordHash, "$argon2id$") {
		t.Errorf("PasswordHash = %q, want argon2id encoding", user.PasswordHash)
	}

	stored, err := svc.Profile(ctx, "PAT.NG")
	if err != nil {
		t.Fatalf("Profile() error = %v", err)
	}
	if string(stored.Data) != `{"city":"Austin"}` {
		t.Errorf("Data = %s, want signup document", stored.Data)
	}
}

func TestSignup_Duplicate(t *testing.T) {
	svc := newTestService()
	signupTestUser(t, svc, "pat", "greatsecret")

	_, err := svc.Signup(context.Background(), "pat", "othersecret", nil)
	if !errors.Is(err, store.ErrUserExists) {
		t.Errorf("Signup() duplicate error = %v, want ErrUserExists", err)
	}

	// Case variants are the same account.
	_, err = svc.Signup(context.Background(), "PAT", "othersecret", nil)
	if !errors.Is(err, store.ErrUserExists) {
		t.Errorf("Signup() case-variant error = %v, want ErrUserExists", err)
	}
}

func TestSignup_ValidationErrors(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	if _, err := svc.Signup(ctx, "", "greatsecret", nil); !errors.Is(err, validation.ErrUsernameEmpty) {
		t.Errorf("Signup(empty name) error = %v, want ErrUsernameEmpty", err)
	}
	if _, err := svc.Signup(ctx, "pat", "short", nil); !errors.Is(err, validation.ErrPasswordTooShort) {
		t.Errorf("Signup(short password) error = %v, want ErrPasswordTooShort", err)
	}
	if _, err := svc.Signup(ctx, "pat", "greatsecret", json.RawMessage(`{not json`)); !errors.Is(err, ErrInvalidData) {
		t.Errorf("Signup(bad data) error = %v, want ErrInvalidData", err)
	}
}

func TestSignup_StoreFailure(t *testing.T) {
	sessions := session.NewManager(session.NewMemoryStore(), time.Minute)
	backendErr := errors.New("connection refused")
	svc := NewAccountService(&failingStore{err: backendErr}, sessions, Limits{})

	_, err := svc.Signup(context.Background(), "pat", "greatsecret", nil)
	if !errors.Is(err, backendErr) {
		t.Errorf("Signup() error = %v, want wrapped backend error", err)
	}
}

func TestAuthenticate(t *testing.T) {
	svc := newTestService()
	signupTestUser(t, svc, "pat", "greatsecret")
	ctx := context.Background()

	user, err := svc.Authenticate(ctx, models.Credentials{Username: "pat", Password: "greatsecret"})
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if user.Name != "pat" {
		t.Errorf("Name = %q, want %q", user.Name, "pat")
	}

	// Wrong password and unknown user are indistinguishable.
	_, err = svc.Authenticate(ctx, models.Credentials{Username: "pat", Password: "wrongsecret"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Authenticate(wrong password) error = %v, want ErrInvalidCredentials", err)
	}
	_, err = svc.Authenticate(ctx, models.Credentials{Username: "ghost", Password: "greatsecret"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Authenticate(unknown user) error = %v, want ErrInvalidCredentials", err)
	}
	_, err = svc.Authenticate(ctx, models.Credentials{Username: "", Password: "greatsecret"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Authenticate(empty user) error = %v, want ErrInvalidCredentials", err)
	}
}

func TestLogin_EstablishesSession(t *testing.T) {
	svc := newTestService()
	signupTestUser(t, svc, "pat", "greatsecret")
	ctx := context.Background()

	id, user, err := svc.Login(ctx, models.Credentials{Username: "PAT", Password: "greatsecret"})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if id == "" {
		t.Fatal("Login() returned empty session id")
	}
	if user.Name != "pat" {
		t.Errorf("Name = %q, want %q", user.Name, "pat")
	}

	rec, ok, err := svc.Sessions().Get(ctx, id)
	if err != nil || !ok {
		t.Fatalf("Sessions().Get() = (ok=%v, err=%v), want hit", ok, err)
	}
	if rec.Username != "pat" {
		t.Errorf("session Username = %q, want %q", rec.Username, "pat")
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	svc := newTestService()
	signupTestUser(t, svc, "pat", "greatsecret")

	id, _, err := svc.Login(context.Background(), models.Credentials{Username: "pat", Password: "nope-nope"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Login() error = %v, want ErrInvalidCredentials", err)
	}
	if id != "" {
		t.Errorf("Login() session id = %q, want empty on failure", id)
	}
}

func TestLogout_Idempotent(t *testing.T) {
	svc := newTestService()
	signupTestUser(t, svc, "pat", "greatsecret")
	ctx := context.Background()

	id, _, err := svc.Login(ctx, models.Credentials{Username: "pat", Password: "greatsecret"})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	if err := svc.Logout(ctx, id); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if _, ok, _ := svc.Sessions().Get(ctx, id); ok {
		t.Error("session survives Logout")
	}
	// Logging out again, or with an unknown id, is a no-op.
	if err := svc.Logout(ctx, id); err != nil {
		t.Errorf("Logout() repeat error = %v", err)
	}
	if err := svc.Logout(ctx, ""); err != nil {
		t.Errorf("Logout(\"\") error = %v", err)
	}
}

func TestProfile_NotFound(t *testing.T) {
	svc := newTestService()
	_, err := svc.Profile(context.Background(), "ghost")
	if !errors.Is(err, store.ErrUserNotFound) {
		t.Errorf("Profile() error = %v, want ErrUserNotFound", err)
	}
}

func TestUpdateData(t *testing.T) {
	svc := newTestService()
	signupTestUser(t, svc, "pat", "greatsecret")
	ctx := context.Background()

	if err := svc.UpdateData(ctx, "pat", json.RawMessage(`{"theme":"dark"}`)); err != nil {
		t.Fatalf("UpdateData() error = %v", err)
	}
	user, err := svc.Profile(ctx, "pat")
	if err != nil {
		t.Fatalf("Profile() error = %v", err)
	}
	if string(user.Data) != `{"theme":"dark"}` {
		t.Errorf("Data = %s, want updated document", user.Data)
	}

	if err := svc.UpdateData(ctx, "pat", json.RawMessage(`not json`)); !errors.Is(err, ErrInvalidData) {
		t.Errorf("UpdateData(bad json) error = %v, want ErrInvalidData", err)
	}
	if err := svc.UpdateData(ctx, "ghost", json.RawMessage(`{}`)); !errors.Is(err, store.ErrUserNotFound) {
		t.Errorf("UpdateData(missing user) error = %v, want ErrUserNotFound", err)
	}
}

func TestDeleteAccount(t *testing.T) {
	svc := newTestService()
	signupTestUser(t, svc, "pat", "greatsecret")
	ctx := context.Background()

	id, _, err := svc.Login(ctx, models.Credentials{Username: "pat", Password: "greatsecret"})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	if err := svc.DeleteAccount(ctx, "pat", id); err != nil {
		t.Fatalf("DeleteAccount() error = %v", err)
	}
	if _, err := svc.Profile(ctx, "pat"); !errors.Is(err, store.ErrUserNotFound) {
		t.Errorf("Profile() after delete error = %v, want ErrUserNotFound", err)
	}
	if _, ok, _ := svc.Sessions().Get(ctx, id); ok {
		t.Error("session survives account deletion")
	}

	if err := svc.DeleteAccount(ctx, "pat", ""); !errors.Is(err, store.ErrUserNotFound) {
		t.Errorf("DeleteAccount() missing error = %v, want ErrUserNotFound", err)
	}
}

func TestNormalizeUsername(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Pat", "pat"},
		{"  PAT.NG  ", "pat.ng"},
		{"already", "already"},
	}
	for _, tt := range tests {
		if got := NormalizeUsername(tt.in); got != tt.want {
			t.Errorf("NormalizeUsername(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPasswordRoundTripThroughService(t *testing.T) {
	svc := newTestService()
	user := signupTestUser(t, svc, "pat", "greatsecret")

	ok, err := auth.CheckPassword("greatsecret", user.PasswordHash)
	if err != nil {
		t.Fatalf("CheckPassword() error = %v", err)
	}
	if !ok {
		t.Error("stored hash does not verify the signup password")
	}
}
