// Package auth resolves bearer tokens to user identities.
//
// Tokens are HS256 JWTs whose subject is the username. The signing secret
// lives in the system config table and is created on first start.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jshsakura/oc-terminal-list/internal/database"
)

const (
	// SecretConfigKey is the system config key holding the signing secret.
	SecretConfigKey = "jwt_secret_key"
	// DefaultTokenTTL is the lifetime of issued tokens.
	DefaultTokenTTL = 24 * time.Hour
)

var ErrInvalidToken = errors.New("invalid token")

// Resolver maps a token to the identity it was issued for.
type Resolver interface {
	Resolve(token string) (string, error)
}

// SecretStore persists the signing secret.
type SecretStore interface {
	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

// LoadOrCreateSecret returns the stored signing secret, generating and
// storing a new one if none exists. It must complete before any token is
// issued or checked.
func LoadOrCreateSecret(ctx context.Context, store SecretStore) ([]byte, error) {
	secret, err := store.GetConfig(ctx, SecretConfigKey)
	if err == nil && secret != "" {
		return []byte(secret), nil
	}
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("read signing secret: %w", err)
	}

	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generate signing secret: %w", err)
	}
	secret = base64.RawURLEncoding.EncodeToString(b)
	if err := store.SetConfig(ctx, SecretConfigKey, secret); err != nil {
		return nil, fmt.Errorf("store signing secret: %w", err)
	}
	return []byte(secret), nil
}

// JWT issues and verifies HS256 tokens.
type JWT struct {
	secret []byte
	ttl    time.Duration
}

func NewJWT(secret []byte, ttl time.Duration) *JWT {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &JWT{secret: secret, ttl: ttl}
}

// Issue returns a signed token for username.
func (j *JWT) Issue(username string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(j.ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Resolve verifies token and returns its subject.
func (j *JWT) Resolve(token string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return j.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}
