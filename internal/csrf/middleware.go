package csrf

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const contextKey = "csrf_token"

// Options configures the middleware
type Options struct {
	// Strict rejects mutating requests that carry no token at all.
	// When false such requests pass, a mismatched token is still rejected.
	Strict bool
	// Secure marks the cookie Secure
	Secure bool
	// Exempt skips the check for a request, e.g. bearer-authenticated API calls
	Exempt func(c *gin.Context) bool
}

// Middleware ensures every response has a token cookie and checks mutating requests
func Middleware(opts Options, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		cookieToken, _ := c.Cookie(CookieName)

		if Mutating(c.Request.Method) && (opts.Exempt == nil || !opts.Exempt(c)) {
			sent := c.GetHeader(HeaderName)
			if sent == "" {
				sent = c.PostForm(FormField)
			}

			switch {
			case sent == "" && !opts.Strict:
				log.Debug().Str("path", c.Request.URL.Path).Msg("Mutating request without CSRF token allowed")
			case !Equal(sent, cookieToken):
				log.Warn().
					Str("path", c.Request.URL.Path).
					Bool("token_sent", sent != "").
					Msg("CSRF token mismatch")
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Invalid CSRF token"})
				return
			}
		}

		token := cookieToken
		if token == "" {
			var err error
			token, err = NewToken()
			if err != nil {
				log.Error().Err(err).Msg("Failed to issue CSRF token")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
				return
			}
			c.SetSameSite(http.SameSiteLaxMode)
			// readable by page scripts, which echo it back in the header
			c.SetCookie(CookieName, token, 0, "/", "", opts.Secure, false)
		}
		c.Set(contextKey, token)

		c.Next()
	}
}

// Token returns the token bound to the current request for embedding in markup
func Token(c *gin.Context) string {
	return c.GetString(contextKey)
}
