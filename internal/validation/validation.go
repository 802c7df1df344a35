package validation

import (
	"errors"
	"strings"
	"unicode"
)

// ErrUsernameEmpty is returned when username is empty or whitespace-only after trim.
var ErrUsernameEmpty = errors.New("username is required")

// ErrUsernameTooShort is returned when username length is below the minimum.
var ErrUsernameTooShort = errors.New("username too short")

// ErrUsernameTooLong is returned when username length exceeds the maximum.
var ErrUsernameTooLong = errors.New("username too long")

// ErrUsernameInvalidChars is returned when username contains disallowed characters
// or starts/ends with a separator.
var ErrUsernameInvalidChars = errors.New("username contains invalid characters")

// ErrPasswordTooShort is returned when password length is below the minimum.
var ErrPasswordTooShort = errors.New("password too short")

// ErrPasswordTooLong is returned when password length exceeds the maximum.
var ErrPasswordTooLong = errors.New("password too long")

// ValidateUsername trims the input, enforces length bounds (minLen, maxLen in runes),
// and restricts to letters (Unicode), digits, dot, underscore, hyphen. Separators may
// not lead or trail. Returns the trimmed string or an error suitable for 400
// INVALID_USERNAME responses. Case normalization is left to the service layer.
func ValidateUsername(input string, minLen, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	n := len(r)
	if n == 0 {
		return "", ErrUsernameEmpty
	}
	if minLen > 0 && n < minLen {
		return "", ErrUsernameTooShort
	}
	if maxLen > 0 && n > maxLen {
		return "", ErrUsernameTooLong
	}
	for _, c := range r {
		if !isAllowedUsernameRune(c) {
			return "", ErrUsernameInvalidChars
		}
	}
	if isSeparator(r[0]) || isSeparator(r[n-1]) {
		return "", ErrUsernameInvalidChars
	}
	return s, nil
}

// ValidatePassword enforces length bounds in runes. The password is otherwise
// unrestricted; it is hashed, never stored or echoed.
func ValidatePassword(input string, minLen, maxLen int) error {
	n := len([]rune(input))
	if minLen > 0 && n < minLen {
		return ErrPasswordTooShort
	}
	if maxLen > 0 && n > maxLen {
		return ErrPasswordTooLong
	}
	return nil
}

// isAllowedUsernameRune returns true for letters (Unicode), digits, dot, underscore, hyphen.
func isAllowedUsernameRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	return isSeparator(r)
}

func isSeparator(r rune) bool {
	switch r {
	case '.', '_', '-':
		return true
	}
	return false
}
