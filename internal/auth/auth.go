package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "smartwaste"

// Claims is the payload of the backend bearer credential. The subject is the
// account email; role is one of ADMIN, COLLECTOR or USER.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// ExpiresAt decodes the exp claim without verifying the signature. The client
// never holds the signing key; it only needs to know when to stop sending.
func ExpiresAt(token string) (time.Time, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return time.Time{}, ErrInvalidToken
	}
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, fmt.Errorf("%w: exp claim missing", ErrInvalidToken)
	}
	return claims.ExpiresAt.Time, nil
}

// Expired reports whether token is unusable at now. A token that cannot be
// decoded counts as expired.
func Expired(token string, now time.Time) bool {
	exp, err := ExpiresAt(token)
	if err != nil {
		return true
	}
	return !now.Before(exp)
}

// GenerateToken signs an HS256 credential for subject with the given role.
// Only the local fake backend issues tokens.
func GenerateToken(secret []byte, subject string, role Role, ttl time.Duration) (string, time.Time, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", time.Time{}, errors.New("subject is required")
	}
	if len(secret) == 0 {
		return "", time.Time{}, errMissingSecret
	}
	if ttl <= 0 {
		return "", time.Time{}, errors.New("ttl must be greater than zero")
	}
	now := time.Now().UTC()
	exp := now.Add(ttl)
	claims := Claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// ParseAndValidate verifies signature, issuer and expiry.
func ParseAndValidate(secret []byte, token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	if len(secret) == 0 {
		return nil, errMissingSecret
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	if _, err := ParseRole(claims.Role); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
