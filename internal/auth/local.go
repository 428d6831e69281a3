package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/argon2"
)

const (
	// argon2Time is the number of iterations (time cost) for Argon2id.
	argon2Time = 2

	// argon2Memory is the memory cost in KiB for Argon2id (64 MiB).
	argon2Memory = 64 * 1024

	argon2Threads = 2
	argon2KeyLen  = 32
	argon2SaltLen = 16

	refreshTokenBytes = 32
)

// LocalProvider authenticates the single configured admin account
// against an Argon2id password hash. Unlike a multi-user system there
// is no user table: the username and hash come straight from daemon
// configuration.
type LocalProvider struct {
	username     string
	passwordHash string
}

// NewLocalProvider returns a LocalProvider for the given admin
// username and Argon2id password hash (as produced by HashPassword).
func NewLocalProvider(username, passwordHash string) *LocalProvider {
	return &LocalProvider{username: username, passwordHash: passwordHash}
}

// ProviderType implements AuthProvider.
func (p *LocalProvider) ProviderType() string { return "local" }

// Authenticate checks username/password against the configured admin
// identity, returning the identity's email-equivalent subject on
// success. It never distinguishes "no such user" from "wrong
// password" in its return value, to avoid leaking which failed.
func (p *LocalProvider) Authenticate(username, password string) (string, bool) {
	if !constantTimeEqualString(username, p.username) {
		return "", false
	}
	if !verifyPassword(password, p.passwordHash) {
		return "", false
	}
	return p.username, true
}

// HashPassword returns an Argon2id hash of the given plaintext
// password, in "saltHex:hashHex" format. Used by configuration
// tooling to produce the hash stored in the daemon's config file; the
// plaintext password itself is never persisted.
func HashPassword(password string) (string, error) {
	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("auth: generating password salt: %w", err)
	}
	hash := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(hash), nil
}

// verifyPassword checks a plaintext password against a stored
// Argon2id hash. An invalid hash format simply fails verification.
func verifyPassword(password, stored string) bool {
	saltHex, hashHex, ok := splitHash(stored)
	if !ok {
		return false
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return false
	}
	expectedHash, err := hex.DecodeString(hashHex)
	if err != nil {
		return false
	}
	actual := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, uint32(len(expectedHash)))
	return constantTimeEqual(actual, expectedHash)
}

// hashRefreshToken returns the SHA-256 hex digest of a raw refresh
// token. Only the hash is kept in the in-memory refresh store.
func hashRefreshToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// generateRefreshToken returns a cryptographically random hex-encoded
// token string.
func generateRefreshToken() (string, error) {
	b := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func splitHash(s string) (salt, hash string, ok bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := range a {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}

func constantTimeEqualString(a, b string) bool {
	return constantTimeEqual([]byte(a), []byte(b))
}
