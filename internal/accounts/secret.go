package accounts

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/ngdi-portal/portal/internal/models"
)

// LoadOrCreateSecret returns the persisted JWT secret, generating it on first start
func LoadOrCreateSecret(db *gorm.DB) (string, error) {
	var cfg models.Config
	err := db.First(&cfg).Error
	if err == nil {
		return cfg.JWTSecret, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("failed to load config: %w", err)
	}

	// 64 hex characters = 32 bytes of randomness
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", fmt.Errorf("failed to generate JWT secret: %w", err)
	}

	cfg = models.Config{JWTSecret: hex.EncodeToString(secretBytes)}
	if err := db.Create(&cfg).Error; err != nil {
		return "", fmt.Errorf("failed to persist config: %w", err)
	}
	return cfg.JWTSecret, nil
}
