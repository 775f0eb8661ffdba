package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuerName = "ngdi-portal"

var errSecretNotSet = errors.New("JWT secret not initialized")

// JWTClaims represents the session token claims
type JWTClaims struct {
	SessionID string `json:"sid"`
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	Role      Role   `json:"role"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies session tokens with an HMAC secret.
// One issuer is owned by the server; there is no package-level secret.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer creates an issuer; ttl bounds every token it signs
func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// TTL returns the lifetime of issued tokens
func (i *TokenIssuer) TTL() time.Duration {
	return i.ttl
}

// Generate creates a signed token for the given session id and user
func (i *TokenIssuer) Generate(sessionID string, user AuthUser) (string, time.Time, error) {
	if len(i.secret) == 0 {
		return "", time.Time{}, errSecretNotSet
	}

	now := i.now()
	expiresAt := now.Add(i.ttl)
	claims := JWTClaims{
		SessionID: sessionID,
		UserID:    user.ID,
		Email:     user.Email,
		Role:      user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuerName,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Validate verifies a token and returns its claims
func (i *TokenIssuer) Validate(tokenString string) (*JWTClaims, error) {
	if len(i.secret) == 0 {
		return nil, errSecretNotSet
	}

	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return i.secret, nil
	},
		jwt.WithIssuer(issuerName),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if !claims.Role.Valid() {
		return nil, fmt.Errorf("invalid role claim %q", claims.Role)
	}
	return claims, nil
}

// User returns the user projection carried by the claims
func (c *JWTClaims) User() AuthUser {
	return AuthUser{ID: c.UserID, Email: c.Email, Role: c.Role}
}
