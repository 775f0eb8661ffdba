package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ngdi-portal/portal/internal/accounts"
	"github.com/ngdi-portal/portal/internal/auth"
	"github.com/ngdi-portal/portal/internal/models"
)

// SetupRequest represents the first-run setup request
type SetupRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Name     string `json:"name" binding:"required"`
}

// LoginRequest represents a login request
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse represents a login response
type LoginResponse struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      *UserDetail `json:"user"`
}

// SessionResponse is the body of GET /api/auth/session when a session exists
type SessionResponse struct {
	User       auth.AuthUser `json:"user"`
	ExpiresAt  time.Time     `json:"expires_at"`
	AuthMethod string        `json:"auth_method"`
}

// UserDetail represents user information returned in responses
type UserDetail struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      auth.Role `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateUserRequest represents a request to create a new user
type CreateUserRequest struct {
	Email    string    `json:"email" binding:"required,email"`
	Name     string    `json:"name" binding:"required"`
	Password string    `json:"password" binding:"required,min=8"`
	Role     auth.Role `json:"role" binding:"required,role"`
}

// UpdateUserRoleRequest changes a user's role
type UpdateUserRoleRequest struct {
	Role auth.Role `json:"role" binding:"required,role"`
}

func userDetail(user *models.User) *UserDetail {
	return &UserDetail{
		ID:        user.ID,
		Email:     user.Email,
		Name:      user.Name,
		Role:      user.Role,
		CreatedAt: user.CreatedAt,
	}
}

func clientInfo(c *gin.Context) accounts.ClientInfo {
	return accounts.ClientInfo{UserAgent: c.Request.UserAgent(), IP: c.ClientIP()}
}

// @Summary First-run setup
// @Description Creates the first admin user (only works if no users exist)
// @Tags auth
// @Accept json
// @Produce json
// @Param request body SetupRequest true "Setup request"
// @Success 200 {object} LoginResponse
// @Failure 409 {object} map[string]interface{}
// @Failure 422 {object} map[string]interface{}
// @Router /api/setup [post]
func (s *Server) setupFirstAdmin(c *gin.Context) {
	var req SetupRequest
	if !s.bindJSON(c, &req) {
		return
	}

	user, err := s.accounts.SetupFirstAdmin(c.Request.Context(), accounts.NewUser{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
	})
	if err != nil {
		if errors.Is(err, accounts.ErrSetupCompleted) {
			c.JSON(http.StatusConflict, gin.H{"error": "Setup already completed"})
			return
		}
		s.logger.Error().Err(err).Msg("Failed to create admin user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create user"})
		return
	}

	issued, err := s.accounts.IssueSession(c.Request.Context(), user, clientInfo(c))
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to issue session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	s.logger.Info().Str("user_id", user.ID).Str("email", user.Email).Msg("First admin user created")

	s.setSessionCookie(c, issued.Token, issued.Session.ExpiresAt)
	c.JSON(http.StatusOK, LoginResponse{
		Token:     issued.Token,
		ExpiresAt: issued.Session.ExpiresAt,
		User:      userDetail(user),
	})
}

// @Summary Login
// @Description Authenticate with email and password
// @Tags auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login request"
// @Success 200 {object} LoginResponse
// @Failure 401 {object} map[string]interface{}
// @Failure 422 {object} map[string]interface{}
// @Router /api/auth/login [post]
func (s *Server) login(c *gin.Context) {
	var req LoginRequest
	if !s.bindJSON(c, &req) {
		return
	}

	issued, err := s.accounts.SignIn(c.Request.Context(), req.Email, req.Password, clientInfo(c))
	if err != nil {
		if errors.Is(err, accounts.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
			return
		}
		s.logger.Error().Err(err).Msg("Failed to sign in")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	user, err := s.accounts.GetUser(c.Request.Context(), issued.Session.User.ID)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to load signed-in user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	s.logger.Info().Str("user_id", user.ID).Str("email", user.Email).Msg("User logged in")

	s.setSessionCookie(c, issued.Token, issued.Session.ExpiresAt)
	c.JSON(http.StatusOK, LoginResponse{
		Token:     issued.Token,
		ExpiresAt: issued.Session.ExpiresAt,
		User:      userDetail(user),
	})
}

// @Summary Logout
// @Description Revokes the current session, if any. Always succeeds.
// @Tags auth
// @Success 204
// @Router /api/auth/logout [post]
func (s *Server) logout(c *gin.Context) {
	s.endSession(c)
	c.Status(http.StatusNoContent)
}

func (s *Server) endSession(c *gin.Context) {
	if session := GetSession(c); session != nil && session.AuthMethod != "mock" {
		if err := s.accounts.Revoke(c.Request.Context(), session.ID); err != nil {
			s.logger.Error().Err(err).Str("session_id", session.ID).Msg("Failed to revoke session")
		} else {
			s.logger.Info().Str("user_id", session.User.ID).Msg("User logged out")
		}
	}
	s.clearSessionCookie(c)
}

// @Summary Current session
// @Description Returns the caller's session, or null when there is none
// @Tags auth
// @Produce json
// @Success 200 {object} SessionResponse
// @Router /api/auth/session [get]
func (s *Server) getSession(c *gin.Context) {
	session := GetSession(c)
	if !session.Active(time.Now()) {
		c.JSON(http.StatusOK, nil)
		return
	}
	c.JSON(http.StatusOK, SessionResponse{
		User:       session.User,
		ExpiresAt:  session.ExpiresAt,
		AuthMethod: session.AuthMethod,
	})
}

// @Summary Get current user
// @Tags auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} UserDetail
// @Failure 401 {object} map[string]interface{}
// @Router /api/auth/me [get]
func (s *Server) getCurrentUser(c *gin.Context) {
	session := GetSession(c)
	if session.AuthMethod == "mock" {
		c.JSON(http.StatusOK, UserDetail{ID: session.User.ID, Email: session.User.Email, Name: "Mock Admin", Role: session.User.Role})
		return
	}

	user, err := s.accounts.GetUser(c.Request.Context(), session.User.ID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", session.User.ID).Msg("Failed to find user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, userDetail(user))
}

// @Summary List users
// @Tags users
// @Produce json
// @Security BearerAuth
// @Success 200 {array} UserDetail
// @Router /api/users [get]
func (s *Server) listUsers(c *gin.Context) {
	users, err := s.accounts.ListUsers(c.Request.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list users")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	details := make([]*UserDetail, len(users))
	for i := range users {
		details[i] = userDetail(&users[i])
	}

	c.JSON(http.StatusOK, details)
}

// @Summary Create user
// @Tags users
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body CreateUserRequest true "Create user request"
// @Success 201 {object} UserDetail
// @Failure 409 {object} map[string]interface{}
// @Failure 422 {object} map[string]interface{}
// @Router /api/users [post]
func (s *Server) createUser(c *gin.Context) {
	var req CreateUserRequest
	if !s.bindJSON(c, &req) {
		return
	}
	role, _ := auth.ParseRole(string(req.Role))

	user, err := s.accounts.CreateUser(c.Request.Context(), accounts.NewUser{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
		Role:     role,
	})
	if err != nil {
		if errors.Is(err, accounts.ErrEmailTaken) {
			respondValidation(c, map[string]string{"email": "is already registered"})
			return
		}
		s.logger.Error().Err(err).Msg("Failed to create user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create user"})
		return
	}

	s.logger.Info().
		Str("user_id", user.ID).
		Str("role", string(user.Role)).
		Str("created_by", GetSession(c).User.ID).
		Msg("User created")

	c.JSON(http.StatusCreated, userDetail(user))
}

// @Summary Change a user's role
// @Tags users
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "User ID"
// @Param request body UpdateUserRoleRequest true "New role"
// @Success 200 {object} UserDetail
// @Router /api/users/{id} [patch]
func (s *Server) updateUserRole(c *gin.Context) {
	userID := c.Param("id")

	var req UpdateUserRoleRequest
	if !s.bindJSON(c, &req) {
		return
	}
	role, _ := auth.ParseRole(string(req.Role))

	if userID == GetSession(c).User.ID && role != auth.RoleAdmin {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot remove your own admin role"})
		return
	}

	user, err := s.accounts.SetRole(c.Request.Context(), userID, role)
	if err != nil {
		if errors.Is(err, accounts.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to update role")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update user"})
		return
	}

	s.logger.Info().Str("user_id", userID).Str("role", string(role)).Msg("User role changed")
	c.JSON(http.StatusOK, userDetail(user))
}

// @Summary Delete user
// @Description Delete a user (admin only, cannot delete self)
// @Tags users
// @Security BearerAuth
// @Param id path string true "User ID"
// @Success 204
// @Router /api/users/{id} [delete]
func (s *Server) deleteUser(c *gin.Context) {
	userID := c.Param("id")
	session := GetSession(c)

	if userID == session.User.ID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot delete yourself"})
		return
	}

	if err := s.accounts.DeleteUser(c.Request.Context(), userID); err != nil {
		if errors.Is(err, accounts.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		s.logger.Error().Err(err).Msg("Failed to delete user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete user"})
		return
	}

	s.logger.Info().
		Str("user_id", userID).
		Str("deleted_by", session.User.ID).
		Msg("User deleted")

	c.Status(http.StatusNoContent)
}
