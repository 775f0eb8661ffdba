package models

import (
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"

	"github.com/ngdi-portal/portal/internal/auth"
)

// BaseModel provides common fields and auto-generated ULID for all models
type BaseModel struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(26)"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// BeforeCreate generates a ULID for the ID field if it's empty
func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = ulid.Make().String()
	}
	return nil
}

// Config is the singleton row holding portal-wide settings (only one row should exist)
type Config struct {
	BaseModel
	// Used when JWT_SECRET is not provided; generated on first start (64 hex chars)
	JWTSecret string `json:"-" gorm:"type:varchar(64);not null"`
	// Set once the first admin has been created through /api/setup
	SetupCompletedAt *time.Time `json:"setup_completed_at"`
}

// User represents a portal account
type User struct {
	BaseModel
	Email        string    `json:"email" gorm:"uniqueIndex;not null"`
	PasswordHash string    `json:"-" gorm:"not null"`
	Name         string    `json:"name"`
	Role         auth.Role `json:"role" gorm:"type:varchar(16);not null;default:USER"`
	UpdatedAt    time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// AuthUser returns the read-only projection carried by sessions
func (u *User) AuthUser() auth.AuthUser {
	return auth.AuthUser{ID: u.ID, Email: u.Email, Role: u.Role}
}

// Session is the server-side record behind an issued session token.
// Deleting the row revokes the token even before it expires.
type Session struct {
	BaseModel
	UserID    string    `json:"user_id" gorm:"index;not null"`
	ExpiresAt time.Time `json:"expires_at" gorm:"index;not null"`
	UserAgent string    `json:"user_agent"`
	ClientIP  string    `json:"client_ip"`

	User User `json:"-" gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
}

// BoundingBox is a geographic extent in WGS84 degrees
type BoundingBox struct {
	West  float64 `json:"west"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	North float64 `json:"north"`
}

// MetadataRecord describes a dataset published through the portal
type MetadataRecord struct {
	BaseModel
	Title        string         `json:"title" gorm:"not null;index"`
	Abstract     string         `json:"abstract" gorm:"type:text"`
	Organization string         `json:"organization" gorm:"index"`
	Keywords     []string       `json:"keywords" gorm:"serializer:json"`
	BBox         *BoundingBox   `json:"bbox,omitempty" gorm:"serializer:json"`
	Properties   map[string]any `json:"properties,omitempty" gorm:"serializer:json"`
	CreatedByID  string         `json:"created_by_id" gorm:"index"`
	UpdatedAt    time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
}

// AutoMigrate runs database migrations for all models
func AutoMigrate(db *gorm.DB) error {
	models := []interface{}{
		&Config{}, &User{}, &Session{}, &MetadataRecord{},
	}

	return db.AutoMigrate(models...)
}

// FindByID safely finds a record by string ID
func FindByID[T any](db *gorm.DB, id string, model *T) error {
	return db.Where("id = ?", id).First(model).Error
}
