// Package auth keeps CLI session tokens in the OS keychain, one per portal URL.
package auth

import (
	"errors"
	"fmt"
	"sync"

	"github.com/zalando/go-keyring"
)

const (
	service = "ngdi-cli"
)

// ErrNotAuthenticated is returned when no token is stored for a portal
var ErrNotAuthenticated = errors.New("not authenticated. Please run 'ngdi login' first")

// TokenStore defines the interface for token storage operations
// This allows us to mock the keyring in tests
type TokenStore interface {
	SaveToken(baseURL, token string) error
	LoadToken(baseURL string) (string, error)
	DeleteToken(baseURL string) error
}

// Keyring implements TokenStore using the OS keyring
type Keyring struct{}

var Default TokenStore = Keyring{}

// getKeyringKey returns a unique key for storing tokens per portal
func getKeyringKey(baseURL string) string {
	return fmt.Sprintf("session-%s", baseURL)
}

// SaveToken persists the token securely in the OS keychain/credential manager
func (Keyring) SaveToken(baseURL, token string) error {
	if err := keyring.Set(service, getKeyringKey(baseURL), token); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

// LoadToken retrieves the token from the OS keychain/credential manager
func (Keyring) LoadToken(baseURL string) (string, error) {
	token, err := keyring.Get(service, getKeyringKey(baseURL))
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrNotAuthenticated
		}
		return "", fmt.Errorf("failed to load token: %w", err)
	}
	return token, nil
}

// DeleteToken removes the token from the OS keychain/credential manager
func (Keyring) DeleteToken(baseURL string) error {
	if err := keyring.Delete(service, getKeyringKey(baseURL)); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil // Already deleted
		}
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}

// MemoryStore is a TokenStore kept in process memory, used in tests and
// when the OS keychain is unavailable
type MemoryStore struct {
	mu     sync.Mutex
	tokens map[string]string
}

// NewMemoryStore returns an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tokens: make(map[string]string)}
}

func (m *MemoryStore) SaveToken(baseURL, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[baseURL] = token
	return nil
}

func (m *MemoryStore) LoadToken(baseURL string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	token, ok := m.tokens[baseURL]
	if !ok {
		return "", ErrNotAuthenticated
	}
	return token, nil
}

func (m *MemoryStore) DeleteToken(baseURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, baseURL)
	return nil
}
