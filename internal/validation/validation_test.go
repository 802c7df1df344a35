package validation

import (
	"errors"
	"testing"
)

func TestValidateUsername(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr error
	}{
		{name: "simple", in: "pat", want: "pat"},
		{name: "dotted", in: "pat.ng", want: "pat.ng"},
		{name: "trimmed", in: "  cruzbustamante  ", want: "cruzbustamante"},
		{name: "digits and separators", in: "user_42-a", want: "user_42-a"},
		{name: "unicode letters", in: "søren", want: "søren"},
		{name: "empty", in: "", wantErr: ErrUsernameEmpty},
		{name: "whitespace only", in: "   ", wantErr: ErrUsernameEmpty},
		{name: "too short", in: "ab", wantErr: ErrUsernameTooShort},
		{name: "too long", in: "aaaaaaaaaaaaaaaaaaaaa", wantErr: ErrUsernameTooLong},
		{name: "space inside", in: "pat ng", wantErr: ErrUsernameInvalidChars},
		{name: "slash", in: "pat/ng", wantErr: ErrUsernameInvalidChars},
		{name: "leading dot", in: ".patng", wantErr: ErrUsernameInvalidChars},
		{name: "trailing hyphen", in: "patng-", wantErr: ErrUsernameInvalidChars},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateUsername(tt.in, 3, 20)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("ValidateUsername(%q) error = %v, want %v", tt.in, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateUsername(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ValidateUsername(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestValidateUsername_NoBounds(t *testing.T) {
	// Zero min/max disables the length checks.
	got, err := ValidateUsername("x", 0, 0)
	if err != nil {
		t.Fatalf("ValidateUsername() error = %v", err)
	}
	if got != "x" {
		t.Errorf("ValidateUsername() = %q, want %q", got, "x")
	}
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr error
	}{
		{name: "ok", in: "greatsecret"},
		{name: "exactly min", in: "12345678"},
		{name: "too short", in: "short"},
		{name: "empty", in: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePassword(tt.in, 8, 128)
			if len([]rune(tt.in)) < 8 {
				if !errors.Is(err, ErrPasswordTooShort) {
					t.Errorf("ValidatePassword(%q) error = %v, want ErrPasswordTooShort", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Errorf("ValidatePassword(%q) error = %v", tt.in, err)
			}
		})
	}
}

func TestValidatePassword_TooLong(t *testing.T) {
	long := make([]rune, 129)
	for i := range long {
		long[i] = 'a'
	}
	if err := ValidatePassword(string(long), 8, 128); !errors.Is(err, ErrPasswordTooLong) {
		t.Errorf("ValidatePassword(len 129) error = %v, want ErrPasswordTooLong", err)
	}
}
