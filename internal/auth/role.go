package auth

import (
	"fmt"
	"strings"
)

// Role is the closed set of portal roles
type Role string

const (
	RoleUser        Role = "USER"
	RoleAdmin       Role = "ADMIN"
	RoleNodeOfficer Role = "NODE_OFFICER"
)

// Roles lists every valid role
var Roles = []Role{RoleUser, RoleAdmin, RoleNodeOfficer}

// ParseRole converts a stored or transmitted role string to a Role.
// Matching is case-insensitive; unknown values are rejected.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToUpper(strings.TrimSpace(s))) {
	case RoleUser:
		return RoleUser, nil
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleNodeOfficer:
		return RoleNodeOfficer, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAdmin, RoleNodeOfficer:
		return true
	default:
		return false
	}
}

func (r Role) String() string {
	return string(r)
}

// Label is the human readable role name used in page shells
func (r Role) Label() string {
	switch r {
	case RoleUser:
		return "User"
	case RoleAdmin:
		return "Administrator"
	case RoleNodeOfficer:
		return "Node Officer"
	default:
		return "Unknown"
	}
}

// CanEditMetadata reports whether the role may create or modify metadata records
func (r Role) CanEditMetadata() bool {
	switch r {
	case RoleAdmin, RoleNodeOfficer:
		return true
	case RoleUser:
		return false
	default:
		return false
	}
}
