package utils

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/Yutman/Nexus-Trade/config"
)

// ValidatePassword validates a candidate password against the configured
// rules. It returns the first failing rule's error only, so length failures
// stay distinguishable from character-class failures. Pure function, no I/O.
func ValidatePassword(password string, rules config.PasswordRulesConfig) error {
	// Check length first
	if len(password) < rules.MinLength {
		return fmt.Errorf("password must be at least %d characters", rules.MinLength)
	}
	if len(password) > rules.MaxLength {
		return fmt.Errorf("password must not exceed %d characters", rules.MaxLength)
	}

	// Check letter requirement
	if rules.RequireLetter && !containsLetter(password) {
		return fmt.Errorf("password must include at least 1 letter and 1 number")
	}

	// Check digit requirement
	if rules.RequireDigit && !containsDigit(password) {
		return fmt.Errorf("password must include at least 1 letter and 1 number")
	}

	return nil
}

// GetPasswordRequirements returns a human-readable string of password requirements
func GetPasswordRequirements(rules config.PasswordRulesConfig) string {
	var requirements []string

	requirements = append(requirements, fmt.Sprintf("%d-%d characters", rules.MinLength, rules.MaxLength))

	if rules.RequireLetter {
		requirements = append(requirements, "at least one letter")
	}
	if rules.RequireDigit {
		requirements = append(requirements, "at least one digit")
	}

	return strings.Join(requirements, ", ")
}

// Helper functions
func containsLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

func containsDigit(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
