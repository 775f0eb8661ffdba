// Package server
//
// @title NGDI Portal API
// @version 1.0
// @description Metadata management and authentication for the NGDI portal
// @host localhost:8080
// @BasePath /
package server

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/ngdi-portal/portal/internal/accounts"
	"github.com/ngdi-portal/portal/internal/auth"
	"github.com/ngdi-portal/portal/internal/config"
	"github.com/ngdi-portal/portal/internal/csrf"
	"github.com/ngdi-portal/portal/internal/database"
	"github.com/ngdi-portal/portal/internal/metadata"
	"github.com/ngdi-portal/portal/internal/tasks"
)

// Server represents the HTTP server
type Server struct {
	router    *gin.Engine
	db        *gorm.DB
	config    *config.Config
	logger    zerolog.Logger
	tokens    *auth.TokenIssuer
	accounts  *accounts.Service
	metadata  *metadata.Service
	templates *template.Template
	enqueuer  tasks.Enqueuer
	version   string
}

// Option customises a Server
type Option func(*Server)

// WithEnqueuer routes background work through a task queue instead of running it inline
func WithEnqueuer(e tasks.Enqueuer) Option {
	return func(s *Server) { s.enqueuer = e }
}

// New opens the database and creates a server instance
func New(cfg *config.Config, zlog zerolog.Logger, version string, opts ...Option) (*Server, error) {
	db, err := database.Open(cfg.Database.URL, zlog)
	if err != nil {
		return nil, err
	}
	return NewWithDB(cfg, db, zlog, version, opts...)
}

// NewWithDB creates a server on an already migrated database
func NewWithDB(cfg *config.Config, db *gorm.DB, zlog zerolog.Logger, version string, opts ...Option) (*Server, error) {
	secret := cfg.Auth.JWTSecret
	if secret == "" {
		// No secret configured - use the one persisted on first start
		persisted, err := accounts.LoadOrCreateSecret(db)
		if err != nil {
			return nil, err
		}
		secret = persisted
		zlog.Debug().Msg("Loaded JWT secret from database")
	}
	tokens := auth.NewTokenIssuer(secret, cfg.Auth.SessionTTL)

	if err := configureValidator(); err != nil {
		return nil, fmt.Errorf("failed to configure validator: %w", err)
	}

	tmpl, err := loadTemplates()
	if err != nil {
		return nil, err
	}

	server := &Server{
		db:        db,
		config:    cfg,
		logger:    zlog,
		tokens:    tokens,
		accounts:  accounts.NewService(db, tokens, zlog),
		metadata:  metadata.NewService(db, zlog),
		templates: tmpl,
		version:   version,
	}
	for _, opt := range opts {
		opt(server)
	}

	if cfg.MockAuthEnabled() {
		zlog.Warn().Msg("Mock authentication enabled - MOCK_ADMIN_TOKEN grants admin access")
	}

	server.setupRouter()

	return server, nil
}

// configureValidator makes gin's validator report JSON field names and know portal tags
func configureValidator() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return errors.New("unexpected validator engine")
	}

	v.RegisterTagNameFunc(jsonFieldName)

	return v.RegisterValidation("role", func(fl validator.FieldLevel) bool {
		_, err := auth.ParseRole(fl.Field().String())
		return err == nil
	})
}

// setupRouter configures the Gin router with routes and middleware
func (s *Server) setupRouter() {
	if s.config.Environment == config.EnvTest {
		gin.SetMode(gin.TestMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.router.SetHTMLTemplate(s.templates)

	s.router.Use(s.errorBoundary())
	s.router.Use(s.loggingMiddleware())

	s.router.Use(cors.New(cors.Config{
		AllowOrigins:     s.config.HTTP.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization", csrf.HeaderName},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	s.router.Use(s.sessionMiddleware())
	s.router.Use(csrf.Middleware(csrf.Options{
		Strict: s.config.CSRF.Strict,
		Secure: s.config.IsProduction(),
		Exempt: csrfExempt,
	}, s.logger))

	s.router.NoRoute(s.notFound)

	// Health check endpoint (no auth required)
	s.router.GET("/api/health", s.healthCheck)
	s.router.GET("/health", s.healthCheck)

	// Public auth endpoints
	s.router.POST("/api/setup", s.setupFirstAdmin)
	s.router.POST("/api/auth/login", s.login)
	s.router.POST("/api/auth/logout", s.logout)
	s.router.GET("/api/auth/session", s.getSession)

	if !s.config.IsProduction() {
		s.router.GET("/api/debug/auth", s.debugAuth)
	}

	api := s.router.Group("/api")
	api.Use(RequireAPI(s.logger))
	{
		api.GET("/auth/me", s.getCurrentUser)

		api.GET("/metadata", s.listMetadata)
		api.GET("/metadata/:id", s.getMetadata)

		editors := api.Group("/metadata")
		editors.Use(RequireAPI(s.logger, auth.RoleAdmin, auth.RoleNodeOfficer))
		{
			editors.POST("", s.createMetadata)
			editors.PUT("/:id", s.updateMetadata)
			editors.DELETE("/:id", s.deleteMetadata)
		}

		// User management (admin only)
		userRoutes := api.Group("/users")
		userRoutes.Use(RequireAPI(s.logger, auth.RoleAdmin))
		{
			userRoutes.GET("", s.listUsers)
			userRoutes.POST("", s.createUser)
			userRoutes.PATCH("/:id", s.updateUserRole)
			userRoutes.DELETE("/:id", s.deleteUser)
		}

		adminRoutes := api.Group("/admin")
		adminRoutes.Use(RequireAPI(s.logger, auth.RoleAdmin))
		{
			adminRoutes.POST("/sessions/purge", s.purgeSessions)
		}
	}

	// Pages
	s.router.GET("/", s.homePage)
	s.router.GET("/login", s.loginPage)
	s.router.POST("/login", s.loginSubmit)
	s.router.POST("/logout", s.logoutSubmit)
	s.router.GET("/dashboard", RequirePage(s.renderForbidden), s.dashboardPage)
	s.router.GET("/metadata", RequirePage(s.renderForbidden), s.metadataPage)
	s.router.GET("/admin", RequirePage(s.renderForbidden, auth.RoleAdmin), s.adminPage)
}

// loggingMiddleware creates a custom logging middleware using zerolog
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start)

		s.logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", duration).
			Str("client_ip", c.ClientIP()).
			Msg("HTTP request")
	}
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// GetDB returns the database connection for use by workers
func (s *Server) GetDB() *gorm.DB {
	return s.db
}

// Accounts returns the accounts service for use by workers
func (s *Server) Accounts() *accounts.Service {
	return s.accounts
}

// Start runs the HTTP server until SIGINT/SIGTERM
func (s *Server) Start() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	srv := &http.Server{
		Addr:              s.config.HTTP.Addr,
		Handler:           s.router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.config.HTTP.Addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.logger.Error().Err(err).Msg("HTTP server error")
		return err
	case <-sigChan:
	}
	s.logger.Info().Msg("Received shutdown signal, shutting down gracefully...")

	if closer, ok := s.enqueuer.(*asynq.Client); ok && closer != nil {
		if err := closer.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("Error closing Asynq client")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error().Err(err).Msg("Error shutting down HTTP server")
		return err
	}

	s.logger.Info().Msg("Server shutdown complete")

	if err := database.Close(s.db); err != nil {
		s.logger.Error().Err(err).Msg("Error closing database")
	} else {
		s.logger.Info().Msg("Database closed successfully")
	}

	return nil
}
