package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("test-secret")

func signExpiringAt(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := Claims{
		Role: "USER",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   "user@example.com",
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return token
}

func TestGenerateAndValidate(t *testing.T) {
	token, exp, err := GenerateToken(testSecret, "admin@example.com", RoleAdmin, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if time.Until(exp) <= 0 {
		t.Fatalf("expected future expiry, got %v", exp)
	}
	claims, err := ParseAndValidate(testSecret, token)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if claims.Subject != "admin@example.com" || claims.Role != "ADMIN" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if _, err := ParseAndValidate([]byte("other"), token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for wrong secret, got %v", err)
	}
}

func TestExpiresAtDecodesWithoutSecret(t *testing.T) {
	want := time.Now().Add(90 * time.Minute).Truncate(time.Second)
	token := signExpiringAt(t, want)

	got, err := ExpiresAt(token)
	if err != nil {
		t.Fatalf("ExpiresAt: %v", err)
	}
	if !got.Equal(want) {
		t.Fatalf("ExpiresAt=%v, want %v", got, want)
	}
}

func TestExpired(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name  string
		token string
		want  bool
	}{
		{name: "future", token: signExpiringAt(t, now.Add(time.Hour)), want: false},
		{name: "past", token: signExpiringAt(t, now.Add(-time.Minute)), want: true},
		{name: "empty", token: "", want: true},
		{name: "garbage", token: "not.a.jwt", want: true},
		{name: "two parts", token: "abc.def", want: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Expired(tc.token, now); got != tc.want {
				t.Fatalf("Expired()=%v, want %v", got, tc.want)
			}
		})
	}
}

func TestParseRole(t *testing.T) {
	for _, raw := range []string{"admin", " COLLECTOR ", "User"} {
		if _, err := ParseRole(raw); err != nil {
			t.Fatalf("ParseRole(%q): %v", raw, err)
		}
	}
	if _, err := ParseRole("operator"); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
	if RoleAdmin.Registrable() || !RoleCollector.Registrable() {
		t.Fatal("registrable roles mismatch")
	}
}

func TestPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("secret123")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !CheckPassword(hash, "secret123") || CheckPassword(hash, "wrong") {
		t.Fatal("password check mismatch")
	}
	if _, err := HashPassword("abc"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
}

func TestClaimsContext(t *testing.T) {
	ctx := ContextWithClaims(context.Background(), &Claims{Role: "ADMIN"})
	c, ok := ClaimsFromContext(ctx)
	if !ok || c.Role != "ADMIN" {
		t.Fatalf("claims not found: %v %v", c, ok)
	}
	if _, ok := ClaimsFromContext(context.Background()); ok {
		t.Fatal("unexpected claims on empty context")
	}
}
