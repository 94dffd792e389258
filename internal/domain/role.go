package domain

import "strings"

type Role string

const (
	RoleFarmer Role = "farmer"
	RoleDoctor Role = "doctor"
)

func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", invalid("role %q is not one of farmer|doctor", s)
	}
	return r, nil
}

func (r Role) Valid() bool {
	return r == RoleFarmer || r == RoleDoctor
}

func (r Role) Counterpart() Role {
	switch r {
	case RoleFarmer:
		return RoleDoctor
	case RoleDoctor:
		return RoleFarmer
	default:
		return ""
	}
}

func (r Role) String() string { return string(r) }
