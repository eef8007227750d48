package auth

import "fmt"

// Role is the closed set of crib operator roles. Authorization is always a
// capability check against this enumeration, never a raw string comparison.
type Role string

const (
	RoleOfficer    Role = "OFFICER"
	RoleSupervisor Role = "SUPERVISOR"
	RoleOperator   Role = "OPERATOR"
)

// ParseRole validates an externally supplied role value.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleOfficer, RoleSupervisor, RoleOperator:
		return Role(s), nil
	}
	return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, s)
}

// Valid reports whether the role belongs to the closed enumeration.
func (r Role) Valid() bool {
	switch r {
	case RoleOfficer, RoleSupervisor, RoleOperator:
		return true
	}
	return false
}

// Privileged reports whether at most one active session may hold the role
// system-wide. Privileged roles model a singular physical responsibility:
// one officer counter, one supervisor approver.
func (r Role) Privileged() bool {
	return r == RoleOfficer || r == RoleSupervisor
}
