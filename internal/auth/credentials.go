// Package auth implements the authentication domain: credential hashing,
// the account and session operations behind the REST API, and the guards
// (rate limiting, admin JWT, audit) wrapped around them.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

// ErrUnknownAlgorithm is returned when a stored or requested hash algorithm
// is not supported. Only argon2 is.
var ErrUnknownAlgorithm = errors.New("unknown algorithm")

// HashAlgorithm is the only password hash this service writes or verifies.
const HashAlgorithm = "argon2"

// Salt length bounds, inclusive. Every salt character is drawn uniformly
// from the printable ASCII range 32..126.
const (
	SaltMinLength = 50
	SaltMaxLength = 60

	saltCharLow  = 32
	saltCharHigh = 126
)

// Argon2i parameters. Changing any of these invalidates every stored hash,
// so treat them as part of the data format.
const (
	argonTime    = 5
	argonMemory  = 32 * 1024
	argonThreads = 4
	argonKeyLen  = 32
)

// PBKDF2 parameters for the password equivalent derivation.
const (
	pbkdf2Iterations = 10000
	pbkdf2KeyLen     = 32
)

// SessionKeyBytes is the entropy of an opaque session key before hex
// encoding.
const SessionKeyBytes = 32

// GenerateSalt returns a fresh random salt: uniform length between
// SaltMinLength and SaltMaxLength, each character uniform over printable
// ASCII.
func GenerateSalt() (string, error) {
	span, err := rand.Int(rand.Reader, big.NewInt(SaltMaxLength-SaltMinLength+1))
	if err != nil {
		return "", fmt.Errorf("failed to draw salt length: %w", err)
	}
	length := SaltMinLength + int(span.Int64())

	buf := make([]byte, length)
	charRange := big.NewInt(saltCharHigh - saltCharLow + 1)
	for i := range buf {
		c, err := rand.Int(rand.Reader, charRange)
		if err != nil {
			return "", fmt.Errorf("failed to draw salt character: %w", err)
		}
		buf[i] = byte(saltCharLow + c.Int64())
	}
	return string(buf), nil
}

// HashPassword derives the stored hash for a raw password and salt using
// the named algorithm. The result is lowercase hex.
func HashPassword(raw, salt, algorithm string) (string, error) {
	if algorithm != HashAlgorithm {
		return "", fmt.Errorf("%w %q", ErrUnknownAlgorithm, algorithm)
	}
	sum := argon2.Key([]byte(raw), []byte(salt), argonTime, argonMemory, argonThreads, argonKeyLen)
	return hex.EncodeToString(sum), nil
}

// VerifyPassword reports whether raw, salted and hashed with the named
// algorithm, matches the stored hash. The comparison is constant time.
func VerifyPassword(raw, salt, stored, algorithm string) (bool, error) {
	computed, err := HashPassword(raw, salt, algorithm)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare([]byte(computed), []byte(stored)) == 1, nil
}

// PasswordEquivalent derives a deterministic stand-in for a password from
// secret material, for callers that must configure credentials without
// storing the actual password. The user identity salts the derivation so
// equal inputs for different users yield different equivalents.
func PasswordEquivalent(raw, username, org string) string {
	key := pbkdf2.Key([]byte(raw), []byte(username+"@"+org), pbkdf2Iterations, pbkdf2KeyLen, sha256.New)
	return hex.EncodeToString(key)
}

// GenerateSessionKey returns a fresh opaque session key, SessionKeyBytes of
// entropy hex encoded.
func GenerateSessionKey() (string, error) {
	buf := make([]byte, SessionKeyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to draw session key: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
