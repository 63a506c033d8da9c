package model

// ForgotPasswordRequest represents the reset request body
type ForgotPasswordRequest struct {
	Email string `json:"email" example:"user@example.com"`
}

// ResetPasswordRequest represents password reset with token
type ResetPasswordRequest struct {
	Token       string `json:"token" example:"9f86d081884c7d659a2feaa0c55ad015..."`
	NewPassword string `json:"newPassword" example:"NewSecurePassword123"`
}

// VerifyTokenResponse represents the token verification probe response
type VerifyTokenResponse struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message,omitempty"`
}

// MessageResponse is the generic success-shaped response body
type MessageResponse struct {
	Message string `json:"message"`
}
