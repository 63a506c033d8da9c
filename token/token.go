package token

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"
)

const rawTokenBytes = 32 // 256 bits of entropy

// Issued carries the result of a token issuance. Raw must only ever travel
// through the email link; Fingerprint is what gets persisted.
type Issued struct {
	Raw         string
	Fingerprint string
	ExpiresAt   time.Time
}

// Authority generates and verifies password reset tokens. It holds no
// state; the clock is injected so expiry is testable.
type Authority struct {
	ttl time.Duration
	now func() time.Time
}

// NewAuthority creates a token authority with the given token lifetime.
func NewAuthority(ttl time.Duration) *Authority {
	return &Authority{ttl: ttl, now: time.Now}
}

// NewAuthorityWithClock is NewAuthority with an injectable clock for tests.
func NewAuthorityWithClock(ttl time.Duration, now func() time.Time) *Authority {
	return &Authority{ttl: ttl, now: now}
}

// Issue generates a new random reset token together with its storable
// fingerprint and expiry.
func (a *Authority) Issue() (Issued, error) {
	b := make([]byte, rawTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return Issued{}, err
	}

	raw := hex.EncodeToString(b)
	return Issued{
		Raw:         raw,
		Fingerprint: Fingerprint(raw),
		ExpiresAt:   a.now().Add(a.ttl),
	}, nil
}

// Verify recomputes the fingerprint of raw and compares it against the
// stored fingerprint in constant time, and checks that the token has not
// expired. Both conditions must hold.
func (a *Authority) Verify(raw, storedFingerprint string, expiresAt time.Time) bool {
	if raw == "" || storedFingerprint == "" {
		return false
	}

	computed := Fingerprint(raw)
	match := subtle.ConstantTimeCompare([]byte(computed), []byte(storedFingerprint)) == 1

	return match && a.now().Before(expiresAt)
}

// Fingerprint returns the hex-encoded SHA-256 digest of the raw token.
// The digest is one-way; the raw token cannot be recovered from it.
func Fingerprint(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
