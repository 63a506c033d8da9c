package model

import "time"

// User represents a registered user (for internal storage)
type User struct {
	ID           string    `json:"id"`           // UUID
	Email        string    `json:"email"`        // Email address (unique, lowercase)
	PasswordHash string    `json:"passwordHash"` // Bcrypt password hash (stored but not exposed in API)
	CreatedAt    time.Time `json:"createdAt"`    // Registration timestamp
	Active       bool      `json:"active"`       // Account status (can be disabled by admin)
}
