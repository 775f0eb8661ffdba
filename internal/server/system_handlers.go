package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ngdi-portal/portal/internal/tasks"
)

// @Router /api/health [get]
// @Success 200 {object} map[string]interface{}
func (s *Server) healthCheck(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{
		"status":    "online",
		"timestamp": time.Now().UTC(),
		"service":   "ngdi-portal",
		"version":   s.version,
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if sqlDB, err := s.db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
		body["database"] = "unreachable"
	}

	c.JSON(status, body)
}

// debugAuth reports which auth settings are present, never their values.
// Only registered outside production.
func (s *Server) debugAuth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"environment":           s.config.Environment,
		"client_id_present":     s.config.Auth.ClientID != "",
		"client_secret_present": s.config.Auth.ClientSecret != "",
		"jwt_secret_from_env":   s.config.Auth.JWTSecret != "",
		"mock_auth_enabled":     s.config.MockAuthEnabled(),
		"api_base_url":          s.config.HTTP.APIBaseURL,
		"session_ttl":           s.config.Auth.SessionTTL.String(),
		"csrf_strict":           s.config.CSRF.Strict,
	})
}

// @Summary Purge expired sessions
// @Description Enqueues the purge task, or runs it inline when no queue is configured
// @Tags admin
// @Security BearerAuth
// @Success 202 {object} map[string]interface{}
// @Success 200 {object} map[string]interface{}
// @Router /api/admin/sessions/purge [post]
func (s *Server) purgeSessions(c *gin.Context) {
	requestedBy := GetSession(c).User.ID

	if s.enqueuer != nil {
		task, err := tasks.NewPurgeExpiredSessionsTask(requestedBy)
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to build purge task")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
		info, err := s.enqueuer.Enqueue(task)
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to enqueue purge task")
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Task queue unavailable"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"task_id": info.ID, "queue": info.Queue})
		return
	}

	removed, err := s.accounts.PurgeExpired(c.Request.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to purge sessions")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	s.logger.Info().Int64("removed", removed).Str("requested_by", requestedBy).Msg("Expired sessions purged")
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}
