package model

import "time"

// ResetToken is the live reset state for one account. It is keyed by the
// token fingerprint and owns its own lifecycle; the user document never
// carries reset state.
type ResetToken struct {
	UserID      string    `json:"userId"`
	Fingerprint string    `json:"fingerprint"` // SHA-256 of the raw token; the raw token is never stored
	IssuedAt    time.Time `json:"issuedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
	Attempts    int       `json:"attempts"`
}

// Expired reports whether the token is past its lifetime at the given
// instant. Expiry is enforced at lookup time, not by a background sweep.
func (t *ResetToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
