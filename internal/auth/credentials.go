// Package auth decides who may use the vault: it verifies credentials at
// login, turns a session cookie into an allow/deny decision, and signs the
// cookie so clients cannot forge session ids.
package auth

import (
	"crypto/subtle"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ErrAuthRequired means the request carries no live session.
var ErrAuthRequired = errors.New("authentication required")

// bcryptPrefixes identify stored values that are bcrypt hashes rather than
// plaintext passwords.
var bcryptPrefixes = []string{"$2a$", "$2b$", "$2y$"}

// Credentials is the read-only username to password table loaded from
// configuration. Values may be plaintext or bcrypt hashes.
type Credentials struct {
	users map[string]string
}

// NewCredentials copies users so later changes to the map have no effect.
func NewCredentials(users map[string]string) *Credentials {
	c := &Credentials{users: make(map[string]string, len(users))}
	for u, p := range users {
		c.users[u] = p
	}

	return c
}

// Verify reports whether password is correct for username. Plaintext
// comparisons run in constant time.
func (c *Credentials) Verify(username, password string) bool {
	stored, ok := c.users[username]
	if !ok || stored == "" {
		return false
	}

	if IsHashed(stored) {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
	}

	return subtle.ConstantTimeCompare([]byte(stored), []byte(password)) == 1
}

// Len returns the number of configured users.
func (c *Credentials) Len() int {
	return len(c.users)
}

// IsHashed reports whether a stored password is a bcrypt hash.
func IsHashed(stored string) bool {
	for _, p := range bcryptPrefixes {
		if strings.HasPrefix(stored, p) {
			return true
		}
	}

	return false
}

// HashPassword returns a bcrypt hash suitable for VALID_CREDENTIALS.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}

	return string(hash), nil
}
