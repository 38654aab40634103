package auth

import "errors"

var (
	ErrUnauthorized = errors.New("auth: unauthorized")
	ErrForbidden    = errors.New("auth: forbidden")
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrNotFound indicates the requested source does not exist.
	ErrNotFound = errors.New("auth: resource not found")
)
