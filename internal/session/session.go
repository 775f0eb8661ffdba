// Package session adapts the portal's auth endpoints into a session store for
// client surfaces: read the current session, sign in, sign out.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/ngdi-portal/portal/internal/auth"
	clientauth "github.com/ngdi-portal/portal/internal/cli/auth"
	"github.com/ngdi-portal/portal/internal/cli/client"
)

// Session is a time-bounded proof of authentication
type Session struct {
	UserID string
	Email  string
	Role   auth.Role
	Expiry time.Time
}

// Valid reports whether the session names a user with a known role and has not expired
func (s *Session) Valid(now time.Time) bool {
	return s != nil && s.UserID != "" && s.Role.Valid() && now.Before(s.Expiry)
}

// User projects the session onto the authenticated user
func (s *Session) User() auth.AuthUser {
	return auth.AuthUser{ID: s.UserID, Email: s.Email, Role: s.Role}
}

// Credentials are what a user signs in with
type Credentials struct {
	Email    string
	Password string
}

// ErrorKind classifies a failed sign-in
type ErrorKind string

const (
	KindInvalidCredentials ErrorKind = "invalid_credentials"
	KindTransport          ErrorKind = "transport"
	KindUnexpected         ErrorKind = "unexpected"
)

// AuthError is the error value of a failed sign-in
type AuthError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Kind)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Store reads and changes the caller's session
type Store interface {
	// GetSession never fails: any error collapses to nil
	GetSession(ctx context.Context) *Session
	SignIn(ctx context.Context, creds Credentials) (*Session, error)
	SignOut(ctx context.Context) error
}

// HTTPStore is a Store backed by the portal API, persisting the token in a TokenStore
type HTTPStore struct {
	client *client.Client
	tokens clientauth.TokenStore
	logger zerolog.Logger
	now    func() time.Time
}

// NewHTTPStore creates a store talking to the portal behind c
func NewHTTPStore(c *client.Client, tokens clientauth.TokenStore, logger zerolog.Logger) *HTTPStore {
	return &HTTPStore{
		client: c,
		tokens: tokens,
		logger: logger,
		now:    time.Now,
	}
}

// GetSession returns the active session, or nil when there is none or the
// portal cannot be reached
func (s *HTTPStore) GetSession(ctx context.Context) *Session {
	token, err := s.tokens.LoadToken(s.client.BaseURL())
	if err != nil {
		if !errors.Is(err, clientauth.ErrNotAuthenticated) {
			s.logger.Warn().Err(err).Msg("Failed to load session token")
		}
		return nil
	}
	s.client.SetToken(token)

	info, err := s.client.Session(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to fetch session")
		return nil
	}
	if info == nil {
		return nil
	}

	sess := &Session{
		UserID: info.User.ID,
		Email:  info.User.Email,
		Role:   info.User.Role,
		Expiry: info.ExpiresAt,
	}
	if !sess.Valid(s.now()) {
		return nil
	}
	return sess
}

// SignIn exchanges credentials for a session and stores its token
func (s *HTTPStore) SignIn(ctx context.Context, creds Credentials) (*Session, error) {
	resp, err := s.client.Login(ctx, creds.Email, creds.Password)
	if err != nil {
		return nil, classify(err)
	}

	sess := &Session{
		UserID: resp.User.ID,
		Email:  resp.User.Email,
		Role:   resp.User.Role,
		Expiry: resp.ExpiresAt,
	}
	if !sess.Valid(s.now()) {
		s.client.SetToken("")
		s.logger.Warn().
			Str("role", string(resp.User.Role)).
			Time("expires_at", resp.ExpiresAt).
			Msg("Portal returned an unusable session")
		return nil, &AuthError{Kind: KindUnexpected, Message: "portal returned an invalid session"}
	}

	if err := s.tokens.SaveToken(s.client.BaseURL(), resp.Token); err != nil {
		return nil, &AuthError{Kind: KindUnexpected, Message: "failed to store session token", Err: err}
	}
	return sess, nil
}

// SignOut revokes the session on the portal, best effort, then forgets the token
func (s *HTTPStore) SignOut(ctx context.Context) error {
	token, err := s.tokens.LoadToken(s.client.BaseURL())
	if err != nil {
		if errors.Is(err, clientauth.ErrNotAuthenticated) {
			return nil
		}
		return err
	}

	s.client.SetToken(token)
	if err := s.client.Logout(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to revoke session on the portal")
	}
	s.client.SetToken("")

	if err := s.tokens.DeleteToken(s.client.BaseURL()); err != nil {
		return fmt.Errorf("failed to forget session token: %w", err)
	}
	return nil
}

func classify(err error) *AuthError {
	var verr *client.ValidationError
	if errors.As(err, &verr) {
		return &AuthError{Kind: KindInvalidCredentials, Message: verr.Error(), Err: err}
	}

	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Status == http.StatusUnauthorized {
			return &AuthError{Kind: KindInvalidCredentials, Message: apiErr.Message, Err: err}
		}
		return &AuthError{Kind: KindUnexpected, Message: apiErr.Message, Err: err}
	}

	return &AuthError{Kind: KindTransport, Message: "could not reach the portal", Err: err}
}
