package server

import (
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ngdi-portal/portal/internal/accounts"
	"github.com/ngdi-portal/portal/internal/auth"
	"github.com/ngdi-portal/portal/internal/csrf"
	"github.com/ngdi-portal/portal/internal/metadata"
	"github.com/ngdi-portal/portal/internal/models"
)

//go:embed templates/*.html
var templateFS embed.FS

func loadTemplates() (*template.Template, error) {
	tmpl, err := template.New("").Funcs(template.FuncMap{
		"add": func(a, b int) int { return a + b },
		"sub": func(a, b int) int { return a - b },
	}).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	return tmpl, nil
}

// pageData is shared by every page shell
type pageData struct {
	Title     string
	User      *auth.AuthUser
	CSRFToken string

	// login
	Email  string
	Next   string
	Error  string
	Fields map[string]string

	// dashboard
	RoleLabel   string
	RecordCount int64
	CanEdit     bool

	// metadata
	Page    *metadata.Page
	HasNext bool

	// admin
	Users []models.User

	// error
	Heading string
	Message string
	Retry   string
}

func (s *Server) page(c *gin.Context, title string) pageData {
	data := pageData{
		Title:     title,
		CSRFToken: csrf.Token(c),
		Fields:    map[string]string{},
	}
	if session := GetSession(c); session != nil {
		user := session.User
		data.User = &user
	}
	return data
}

func (s *Server) homePage(c *gin.Context) {
	c.HTML(http.StatusOK, "home.html", s.page(c, "Home"))
}

func (s *Server) loginPage(c *gin.Context) {
	data := s.page(c, "Sign in")
	data.Next = safeNext(c.Query("next"))
	if data.User != nil {
		c.Redirect(http.StatusSeeOther, data.Next)
		return
	}
	c.HTML(http.StatusOK, "login.html", data)
}

func (s *Server) loginSubmit(c *gin.Context) {
	data := s.page(c, "Sign in")
	data.Email = strings.TrimSpace(c.PostForm("email"))
	data.Next = safeNext(c.PostForm("next"))
	password := c.PostForm("password")

	if data.Email == "" {
		data.Fields["email"] = "is required"
	}
	if password == "" {
		data.Fields["password"] = "is required"
	}
	if len(data.Fields) > 0 {
		c.HTML(http.StatusUnprocessableEntity, "login.html", data)
		return
	}

	issued, err := s.accounts.SignIn(c.Request.Context(), data.Email, password, clientInfo(c))
	if err != nil {
		if errors.Is(err, accounts.ErrInvalidCredentials) {
			data.Error = "Invalid email or password"
			c.HTML(http.StatusUnauthorized, "login.html", data)
			return
		}
		panic(err)
	}

	s.logger.Info().Str("user_id", issued.Session.User.ID).Msg("User signed in via page")
	s.setSessionCookie(c, issued.Token, issued.Session.ExpiresAt)
	c.Redirect(http.StatusSeeOther, data.Next)
}

func (s *Server) logoutSubmit(c *gin.Context) {
	s.endSession(c)
	c.Redirect(http.StatusSeeOther, "/")
}

func (s *Server) dashboardPage(c *gin.Context) {
	data := s.page(c, "Dashboard")
	data.RoleLabel = data.User.Role.Label()
	data.CanEdit = data.User.Role.CanEditMetadata()

	page, err := s.metadata.List(c.Request.Context(), metadata.ListQuery{Limit: 1})
	if err != nil {
		panic(err)
	}
	data.RecordCount = page.Total

	c.HTML(http.StatusOK, "dashboard.html", data)
}

func (s *Server) metadataPage(c *gin.Context) {
	data := s.page(c, "Metadata")
	status := http.StatusOK

	var q metadata.ListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		s.logger.Debug().Err(err).Str("query", c.Request.URL.RawQuery).Msg("Invalid metadata page query")
		q = metadata.ListQuery{}
		data.Fields["page"] = "page and limit must be integers"
		status = http.StatusUnprocessableEntity
	}

	page, err := s.metadata.List(c.Request.Context(), q)
	if err != nil {
		panic(err)
	}

	data.Page = page
	data.HasNext = int64(page.Page*page.Limit) < page.Total
	c.HTML(status, "metadata.html", data)
}

func (s *Server) adminPage(c *gin.Context) {
	users, err := s.accounts.ListUsers(c.Request.Context())
	if err != nil {
		panic(err)
	}

	data := s.page(c, "Administration")
	data.Users = users
	c.HTML(http.StatusOK, "admin.html", data)
}

func (s *Server) renderForbidden(c *gin.Context) {
	data := s.page(c, "Forbidden")
	data.Heading = "Access denied"
	data.Message = "Your account does not have permission to view this page."
	c.HTML(http.StatusForbidden, "error.html", data)
}

func (s *Server) notFound(c *gin.Context) {
	if isAPIRequest(c) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
		return
	}
	data := s.page(c, "Not found")
	data.Heading = "Page not found"
	data.Message = "The page you requested does not exist."
	c.HTML(http.StatusNotFound, "error.html", data)
}

// errorBoundary turns panics into a recoverable error page (or JSON for the API)
func (s *Server) errorBoundary() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, recovered any) {
		s.logger.Error().
			Interface("panic", recovered).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Msg("Recovered from panic")

		if isAPIRequest(c) {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}

		data := s.page(c, "Error")
		data.Heading = "Something went wrong"
		data.Message = "An unexpected error occurred while loading this page."
		data.Retry = c.Request.URL.RequestURI()
		if c.Request.Method != http.MethodGet {
			data.Retry = "/"
			if ref, err := url.Parse(c.Request.Referer()); err == nil && ref.Path != "" {
				data.Retry = safeNext(ref.RequestURI())
			}
		}
		c.HTML(http.StatusInternalServerError, "error.html", data)
		c.Abort()
	})
}

func isAPIRequest(c *gin.Context) bool {
	return strings.HasPrefix(c.Request.URL.Path, "/api/")
}
