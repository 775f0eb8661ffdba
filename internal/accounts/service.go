package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/ngdi-portal/portal/internal/auth"
	"github.com/ngdi-portal/portal/internal/models"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrUserNotFound       = errors.New("user not found")
	ErrSessionRevoked     = errors.New("session revoked")
	ErrSetupCompleted     = errors.New("setup already completed")
)

// Service owns users and the server-side session rows behind issued tokens
type Service struct {
	db     *gorm.DB
	tokens *auth.TokenIssuer
	logger zerolog.Logger
	now    func() time.Time
}

// NewService creates an accounts service
func NewService(db *gorm.DB, tokens *auth.TokenIssuer, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		tokens: tokens,
		logger: logger,
		now:    time.Now,
	}
}

// NewUser describes an account to be created
type NewUser struct {
	Email    string
	Password string
	Name     string
	Role     auth.Role
}

// Issued is the result of a successful sign-in
type Issued struct {
	Token   string
	Session *auth.Session
}

// ClientInfo is recorded alongside new sessions
type ClientInfo struct {
	UserAgent string
	IP        string
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateUser hashes the password and persists a new user
func (s *Service) CreateUser(ctx context.Context, in NewUser) (*models.User, error) {
	user, err := newUserRecord(in)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return insertUser(tx, user)
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

func newUserRecord(in NewUser) (*models.User, error) {
	if !in.Role.Valid() {
		return nil, fmt.Errorf("invalid role %q", in.Role)
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	return &models.User{
		Email:        normalizeEmail(in.Email),
		PasswordHash: hash,
		Name:         in.Name,
		Role:         in.Role,
	}, nil
}

func insertUser(tx *gorm.DB, user *models.User) error {
	var count int64
	if err := tx.Model(&models.User{}).Where("email = ?", user.Email).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrEmailTaken
	}
	return tx.Create(user).Error
}

// SetupFirstAdmin creates the initial ADMIN account; it fails once any user exists.
// The setup marker is written first so concurrent calls queue on the write lock
// and the later one sees the committed admin.
func (s *Service) SetupFirstAdmin(ctx context.Context, in NewUser) (*models.User, error) {
	in.Role = auth.RoleAdmin
	user, err := newUserRecord(in)
	if err != nil {
		return nil, err
	}

	now := s.now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Config{}).Where("1 = 1").
			Update("setup_completed_at", &now).Error; err != nil {
			return fmt.Errorf("failed to record setup completion: %w", err)
		}

		var count int64
		if err := tx.Model(&models.User{}).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to count users: %w", err)
		}
		if count > 0 {
			return ErrSetupCompleted
		}
		return insertUser(tx, user)
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// Authenticate checks credentials; unknown email and wrong password are indistinguishable
func (s *Service) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	if err := auth.VerifyPassword(password, user.PasswordHash); err != nil {
		return nil, ErrInvalidCredentials
	}
	return &user, nil
}

// SignIn authenticates and issues a new session token
func (s *Service) SignIn(ctx context.Context, email, password string, client ClientInfo) (*Issued, error) {
	user, err := s.Authenticate(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return s.IssueSession(ctx, user, client)
}

// IssueSession signs a token and persists the session row it references
func (s *Service) IssueSession(ctx context.Context, user *models.User, client ClientInfo) (*Issued, error) {
	sessionID := ulid.Make().String()

	token, expiresAt, err := s.tokens.Generate(sessionID, user.AuthUser())
	if err != nil {
		return nil, err
	}

	row := &models.Session{
		BaseModel: models.BaseModel{ID: sessionID},
		UserID:    user.ID,
		ExpiresAt: expiresAt.UTC(),
		UserAgent: client.UserAgent,
		ClientIP:  client.IP,
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return &Issued{
		Token: token,
		Session: &auth.Session{
			ID:         row.ID,
			User:       user.AuthUser(),
			ExpiresAt:  expiresAt,
			AuthMethod: "password",
		},
	}, nil
}

// Resolve validates a token and confirms its session row still exists.
// The returned user reflects the current persisted record, so role changes apply immediately.
func (s *Service) Resolve(ctx context.Context, token string) (*auth.Session, error) {
	claims, err := s.tokens.Validate(token)
	if err != nil {
		return nil, err
	}

	var row models.Session
	err = s.db.WithContext(ctx).Preload("User").Where("id = ?", claims.SessionID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionRevoked
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if !s.now().Before(row.ExpiresAt) {
		return nil, ErrSessionRevoked
	}
	if row.User.ID == "" {
		return nil, ErrUserNotFound
	}

	return &auth.Session{
		ID:        row.ID,
		User:      row.User.AuthUser(),
		ExpiresAt: row.ExpiresAt,
	}, nil
}

// Revoke deletes a session row; revoking an unknown session is not an error
func (s *Service) Revoke(ctx context.Context, sessionID string) error {
	if err := s.db.WithContext(ctx).Where("id = ?", sessionID).Delete(&models.Session{}).Error; err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}

// PurgeExpired removes session rows that expired before now and returns how many were removed
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at <= ?", s.now().UTC()).Delete(&models.Session{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to purge sessions: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// GetUser loads a user by id
func (s *Service) GetUser(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := models.FindByID(s.db.WithContext(ctx), id, &user); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// ListUsers returns all users, newest first
func (s *Service) ListUsers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

// SetRole changes a user's role; existing sessions pick it up on their next request
func (s *Service) SetRole(ctx context.Context, id string, role auth.Role) (*models.User, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("invalid role %q", role)
	}
	user, err := s.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(user).Update("role", role).Error; err != nil {
		return nil, fmt.Errorf("failed to update role: %w", err)
	}
	user.Role = role
	return user, nil
}

// DeleteUser removes a user together with their sessions
func (s *Service) DeleteUser(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", id).Delete(&models.Session{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&models.User{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrUserNotFound
		}
		return nil
	})
}
