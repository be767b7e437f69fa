// Package auth handles OAuth login, session tokens and tool credentials.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/xiaot623/gogo/assistant/internal/domain"
)

var (
	ErrAuthDisabled = errors.New("auth disabled: no signing secret")
	ErrInvalidToken = errors.New("invalid session token")
)

// Claims are the JWT claims of a session token.
type Claims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// SessionManager signs and verifies session tokens.
type SessionManager struct {
	secret []byte
	ttl    time.Duration
}

// NewSessionManager builds a session manager with the given secret and lifetime.
func NewSessionManager(secret string, ttl time.Duration) *SessionManager {
	return &SessionManager{secret: []byte(secret), ttl: ttl}
}

// TTL returns the session lifetime.
func (m *SessionManager) TTL() time.Duration { return m.ttl }

// Issue returns a signed session token for the user.
func (m *SessionManager) Issue(user *domain.User) (string, error) {
	if m == nil || len(m.secret) == 0 {
		return "", ErrAuthDisabled
	}
	if user == nil || strings.TrimSpace(user.ID) == "" {
		return "", errors.New("user id required")
	}

	now := time.Now()
	claims := Claims{
		Email: user.Email,
		Name:  user.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// Verify parses a session token and returns the user it names.
func (m *SessionManager) Verify(token string) (*domain.User, error) {
	if m == nil || len(m.secret) == 0 {
		return nil, ErrAuthDisabled
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return &domain.User{ID: claims.Subject, Email: claims.Email, Name: claims.Name}, nil
}
