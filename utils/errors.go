package utils

import "errors"

var (
	ErrInvalidRequest        = errors.New("invalid request")
	ErrRateLimited           = errors.New("rate limited")
	ErrTokenInvalidOrExpired = errors.New("token invalid or expired")
	ErrPolicyViolation       = errors.New("password policy violation")
	ErrDownstreamFailure     = errors.New("downstream failure")
	ErrUserNotFound          = errors.New("user not found")
	ErrResetNotFound         = errors.New("reset token not found")
)
