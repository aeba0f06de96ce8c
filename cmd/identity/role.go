package identity

import "strings"

// Role tags a user and every token issued to them.
type Role string

const (
	RoleViewer  Role = "viewer"
	RoleManager Role = "manager"
	RoleAdmin   Role = "admin"
)

// Roles lists every known role, least privileged first.
func Roles() []Role { return []Role{RoleViewer, RoleManager, RoleAdmin} }

// ParseRole accepts any letter case ("Admin", "ADMIN") and returns the canonical role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", ErrInvalidRole
	}
	return r, nil
}

// Valid reports whether r is one of the canonical roles.
func (r Role) Valid() bool {
	switch r {
	case RoleViewer, RoleManager, RoleAdmin:
		return true
	}
	return false
}

func (r Role) String() string { return string(r) }
