package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	hashTime    = 2
	hashMemory  = 64 * 1024 // KiB
	hashThreads = 1
	hashKeyLen  = 32
	saltLen     = 16
)

// ErrHashMalformed is returned when a stored hash cannot be parsed.
var ErrHashMalformed = errors.New("password hash malformed")

// ErrHashUnsupported is returned for hash variants other than argon2i/argon2id.
var ErrHashUnsupported = errors.New("password hash variant unsupported")

// HashPassword derives an argon2id hash with a fresh random salt and returns it
// in PHC string format, e.g.
// $argon2id$v=19$m=65536,t=2,p=1$<salt-b64>$<hash-b64>.
func HashPassword(password string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	key := argon2.IDKey([]byte(password), salt, hashTime, hashMemory, hashThreads, hashKeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, hashMemory, hashTime, hashThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key)), nil
}

// CheckPassword reports whether password matches the stored PHC-format hash.
// Both argon2id and argon2i hashes are accepted. Comparison is constant-time.
func CheckPassword(password, encoded string) (bool, error) {
	params, salt, want, err := decodeHash(encoded)
	if err != nil {
		return false, err
	}
	var got []byte
	switch params.variant {
	case "argon2id":
		got = argon2.IDKey([]byte(password), salt, params.time, params.memory, params.threads, uint32(len(want)))
	case "argon2i":
		got = argon2.Key([]byte(password), salt, params.time, params.memory, params.threads, uint32(len(want)))
	}
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

type hashParams struct {
	variant string
	memory  uint32
	time    uint32
	threads uint8
}

// decodeHash parses $<variant>$v=19$m=..,t=..,p=..$<salt>$<hash>.
func decodeHash(encoded string) (hashParams, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return hashParams{}, nil, nil, ErrHashMalformed
	}
	p := hashParams{variant: parts[1]}
	if p.variant != "argon2id" && p.variant != "argon2i" {
		return hashParams{}, nil, nil, ErrHashUnsupported
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return hashParams{}, nil, nil, ErrHashMalformed
	}
	if version != argon2.Version {
		return hashParams{}, nil, nil, fmt.Errorf("%w: version %d", ErrHashUnsupported, version)
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &p.threads); err != nil {
		return hashParams{}, nil, nil, ErrHashMalformed
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return hashParams{}, nil, nil, ErrHashMalformed
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(hash) == 0 {
		return hashParams{}, nil, nil, ErrHashMalformed
	}
	return p, salt, hash, nil
}
