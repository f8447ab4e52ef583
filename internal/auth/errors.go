package auth

import "errors"

var (
	// ErrInvalidToken indicates the token could not be decoded or failed validation.
	ErrInvalidToken = errors.New("auth: invalid token")
	ErrInvalidRole  = errors.New("auth: invalid role")

	errMissingSecret = errors.New("auth: signing secret is not configured")
)
