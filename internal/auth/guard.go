package auth

import (
	"errors"
	"time"
)

var (
	// ErrUnauthenticated means no valid session exists; callers redirect to sign-in
	ErrUnauthenticated = errors.New("authentication required")
	// ErrForbidden means a session exists but its role is not allowed
	ErrForbidden = errors.New("insufficient role")
)

// AuthUser is the read-only projection of a user carried by a session
type AuthUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

// Session is the authenticated context for a request
type Session struct {
	ID        string    `json:"id"`
	User      AuthUser  `json:"user"`
	ExpiresAt time.Time `json:"expires_at"`
	// AuthMethod is "cookie", "bearer" or "mock"
	AuthMethod string `json:"auth_method"`
}

// Active reports whether the session exists and has not expired at now
func (s *Session) Active(now time.Time) bool {
	return s != nil && now.Before(s.ExpiresAt)
}

// RequireAuth gates access by session and role.
// An empty allowed set admits every authenticated role.
func RequireAuth(session *Session, allowed ...Role) (AuthUser, error) {
	return RequireAuthAt(time.Now(), session, allowed...)
}

// RequireAuthAt is RequireAuth evaluated at a fixed instant
func RequireAuthAt(now time.Time, session *Session, allowed ...Role) (AuthUser, error) {
	if !session.Active(now) {
		return AuthUser{}, ErrUnauthenticated
	}

	user := session.User
	if !user.Role.Valid() {
		return AuthUser{}, ErrForbidden
	}
	if len(allowed) == 0 {
		return user, nil
	}

	for _, role := range allowed {
		if roleMatches(user.Role, role) {
			return user, nil
		}
	}
	return AuthUser{}, ErrForbidden
}

func roleMatches(have, want Role) bool {
	switch want {
	case RoleUser:
		return have == RoleUser
	case RoleAdmin:
		return have == RoleAdmin
	case RoleNodeOfficer:
		return have == RoleNodeOfficer
	default:
		return false
	}
}
