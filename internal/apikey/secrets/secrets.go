// Package secrets generates, hashes and verifies API key secrets.
package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	dErrors "gatehouse/pkg/domain-errors"
)

// dummyHash is compared against when there is no stored hash, so a missing
// record costs the same as a wrong secret.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("gatehouse-dummy-secret"), bcrypt.DefaultCost)

// Generate creates a cryptographically secure random secret.
func Generate() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("could not generate secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Hash creates a bcrypt hash of the provided secret for storage.
func Hash(secret string) (string, error) {
	if secret == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "secret cannot be empty")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", dErrors.New(dErrors.CodeInvalidInput, "secret is too long")
		}
		return "", fmt.Errorf("could not hash secret: %w", err)
	}
	return string(hashed), nil
}

// Verify checks a presented secret against a stored hash. A missing secret or
// hash and any mismatch all fail with invalid-api-key-secret.
func Verify(secret, hash string) error {
	if hash == "" {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(secret))
		return dErrors.New(dErrors.CodeInvalidAPIKeySecret, "invalid api key secret")
	}
	if secret == "" {
		return dErrors.New(dErrors.CodeInvalidAPIKeySecret, "api key secret is required")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return dErrors.New(dErrors.CodeInvalidAPIKeySecret, "invalid api key secret")
		}
		return dErrors.Wrap(err, dErrors.CodeInvalidAPIKeySecret, "stored secret hash is unusable")
	}
	return nil
}
