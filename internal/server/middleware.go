package server

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/ngdi-portal/portal/internal/accounts"
	"github.com/ngdi-portal/portal/internal/auth"
)

const (
	bearerPrefix      = "Bearer "
	sessionCookieName = "ngdi_session"
	sessionContextKey = "session"
)

var (
	ErrInvalidAuthFormat = errors.New("invalid authorization header format")
	ErrEmptyToken        = errors.New("empty token")
)

func setSession(c *gin.Context, session *auth.Session) {
	c.Set(sessionContextKey, session)
}

// GetSession returns the session resolved for this request, or nil
func GetSession(c *gin.Context) *auth.Session {
	v, exists := c.Get(sessionContextKey)
	if !exists {
		return nil
	}
	session, _ := v.(*auth.Session)
	return session
}

// extractBearerToken returns "" with no error when the header is absent
func extractBearerToken(authHeader string) (string, error) {
	if authHeader == "" {
		return "", nil
	}

	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return "", ErrInvalidAuthFormat
	}

	token := strings.TrimSpace(strings.TrimPrefix(authHeader, bearerPrefix))
	if token == "" {
		return "", ErrEmptyToken
	}

	return token, nil
}

func respondWithError(c *gin.Context, log zerolog.Logger, statusCode int, err error, message string) {
	log.Warn().Err(err).Str("path", c.Request.URL.Path).Msg(message)
	c.JSON(statusCode, gin.H{"error": message})
	c.Abort()
}

// sessionMiddleware resolves the caller's session from a bearer token or the session
// cookie. It never rejects a request; guards decide what a missing session means.
func (s *Server) sessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, method, err := s.requestToken(c)
		if err != nil {
			s.logger.Debug().Err(err).Msg("Ignoring malformed authorization header")
		}
		if token == "" {
			c.Next()
			return
		}

		if method == "bearer" && s.config.MockAuthEnabled() && token == s.config.Auth.MockAdminToken {
			setSession(c, s.mockAdminSession())
			c.Next()
			return
		}

		session, err := s.accounts.Resolve(c.Request.Context(), token)
		if err != nil {
			s.logger.Debug().Err(err).Str("auth_method", method).Msg("Session not resolved")
			if method == "cookie" && errors.Is(err, accounts.ErrSessionRevoked) {
				s.clearSessionCookie(c)
			}
			c.Next()
			return
		}

		session.AuthMethod = method
		setSession(c, session)
		c.Next()
	}
}

func (s *Server) requestToken(c *gin.Context) (token, method string, err error) {
	token, err = extractBearerToken(c.GetHeader("Authorization"))
	if token != "" {
		return token, "bearer", nil
	}
	if cookie, cerr := c.Cookie(sessionCookieName); cerr == nil && cookie != "" {
		return cookie, "cookie", err
	}
	return "", "", err
}

func (s *Server) mockAdminSession() *auth.Session {
	return &auth.Session{
		ID: "mock",
		User: auth.AuthUser{
			ID:    "mock-admin",
			Email: "admin@mock.local",
			Role:  auth.RoleAdmin,
		},
		ExpiresAt:  time.Now().Add(s.config.Auth.SessionTTL),
		AuthMethod: "mock",
	}
}

func (s *Server) setSessionCookie(c *gin.Context, token string, expiresAt time.Time) {
	maxAge := int(time.Until(expiresAt).Seconds())
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(sessionCookieName, token, maxAge, "/", "", s.config.IsProduction(), true)
}

func (s *Server) clearSessionCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(sessionCookieName, "", -1, "/", "", s.config.IsProduction(), true)
}

// csrfExempt skips the token check for calls that carry no ambient browser credentials.
// Only a well-formed bearer header counts: anything else falls back to the cookie.
func csrfExempt(c *gin.Context) bool {
	if token, err := extractBearerToken(c.GetHeader("Authorization")); err == nil && token != "" {
		return true
	}
	if strings.HasPrefix(c.Request.URL.Path, "/api/") {
		_, err := c.Cookie(sessionCookieName)
		return err != nil
	}
	return false
}

// RequireAPI gates an API route: 401 without a session, 403 when the role is not allowed
func RequireAPI(log zerolog.Logger, allowed ...auth.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, err := auth.RequireAuth(GetSession(c), allowed...)
		switch {
		case err == nil:
			c.Next()
		case errors.Is(err, auth.ErrUnauthenticated):
			respondWithError(c, log, http.StatusUnauthorized, err, "Unauthorized")
		case errors.Is(err, auth.ErrForbidden):
			respondWithError(c, log, http.StatusForbidden, err, "Insufficient permissions")
		default:
			respondWithError(c, log, http.StatusInternalServerError, err, "Internal server error")
		}
	}
}

// RequirePage gates a page: redirect to sign-in without a session, forbidden page otherwise
func RequirePage(forbidden gin.HandlerFunc, allowed ...auth.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, err := auth.RequireAuth(GetSession(c), allowed...)
		switch {
		case err == nil:
			c.Next()
		case errors.Is(err, auth.ErrUnauthenticated):
			c.Redirect(http.StatusSeeOther, "/login?next="+url.QueryEscape(c.Request.URL.RequestURI()))
			c.Abort()
		default:
			forbidden(c)
			c.Abort()
		}
	}
}

// safeNext only allows local absolute paths as post-login destinations
func safeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return "/dashboard"
	}
	return next
}
