package auth

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength matches the backend registration rule.
const MinPasswordLength = 6

var ErrWeakPassword = errors.New("auth: password must be at least 6 characters")

// HashPassword returns a bcrypt hash suitable for the fake backend's user table.
func HashPassword(password string) (string, error) {
	if len(strings.TrimSpace(password)) < MinPasswordLength {
		return "", ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches hash.
func CheckPassword(hash, password string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
