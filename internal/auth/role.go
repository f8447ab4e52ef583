package auth

import (
	"fmt"
	"strings"
)

// Role is the closed set of account roles.
type Role string

const (
	RoleAdmin     Role = "ADMIN"
	RoleCollector Role = "COLLECTOR"
	RoleUser      Role = "USER"
)

// ParseRole accepts any casing and surrounding whitespace.
func ParseRole(raw string) (Role, error) {
	switch r := Role(strings.ToUpper(strings.TrimSpace(raw))); r {
	case RoleAdmin, RoleCollector, RoleUser:
		return r, nil
	default:
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidRole, raw)
	}
}

// Registrable reports whether an account with this role may be created
// through self-registration. Admin accounts are provisioned out of band.
func (r Role) Registrable() bool {
	return r == RoleUser || r == RoleCollector
}

func (r Role) String() string { return string(r) }
