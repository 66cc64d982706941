package commonerrors

import "errors"

var (
	ErrMissingRequiredEnv = errors.New("missing required environment variable")
	ErrInvalidJWTSecret   = errors.New("JWT_SECRET must be at least 32 bytes")
	ErrEmptyUUID          = errors.New("uuid cannot be empty")
)
