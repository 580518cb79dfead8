package identity

import "errors"

var (
	ErrEmailTaken       = errors.New("email already in use")
	ErrUserNotFound     = errors.New("user not found")
	ErrWrongPassword    = errors.New("wrong password")
	ErrEmailNotVerified = errors.New("email not verified")
	ErrWeakPassword     = errors.New("password too short")
	ErrInvalidToken     = errors.New("invalid or expired token")
	ErrGoogleDisabled   = errors.New("google sign-in is not configured")
)
