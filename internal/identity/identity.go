// Package identity resolves the caller for an HTTP or WebSocket request:
// JWT verification, the query-param fallback WebSocket clients need because
// they cannot set headers during the handshake, and anonymous fallback to
// PUBLIC tier. Adapted from the teacher's internal/auth.JWTManager.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/signalzero/core/internal/domain"
)

// Claims is the JWT payload SignalZero issues and verifies: an opaque
// userId and the caller's subscription tier.
type Claims struct {
	UserID string `json:"userId"`
	Tier   string `json:"tier"`
	jwt.RegisteredClaims
}

// Manager signs and verifies Claims.
type Manager struct {
	secretKey     []byte
	tokenDuration time.Duration
}

// NewManager builds a Manager over secretKey.
func NewManager(secretKey string, tokenDuration time.Duration) *Manager {
	return &Manager{secretKey: []byte(secretKey), tokenDuration: tokenDuration}
}

// Issue signs a new token for userID at tier.
func (m *Manager) Issue(userID string, tier domain.Tier) (string, error) {
	claims := &Claims{
		UserID: userID,
		Tier:   string(tier),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(m.tokenDuration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    "signalzero",
			Subject:   userID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secretKey)
}

// Verify parses and validates a token string, returning its Claims.
func (m *Manager) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secretKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// Identity is the resolved caller for one request: an optional userID
// (nil for anonymous) and its tier.
type Identity struct {
	UserID *uuid.UUID
	Tier   domain.Tier
}

// Resolve extracts a bearer token from the Authorization header, falling
// back to the "token" query parameter for WebSocket handshakes that cannot
// set headers, then falls back further to an anonymous PUBLIC identity when
// requireAuth is false.
func Resolve(r *http.Request, mgr *Manager, requireAuth bool) (Identity, error) {
	token := extractFromHeader(r)
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		if requireAuth {
			return Identity{}, errors.New("missing credentials")
		}
		return Identity{Tier: domain.TierPublic}, nil
	}

	claims, err := mgr.Verify(token)
	if err != nil {
		return Identity{}, err
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return Identity{}, fmt.Errorf("invalid userId claim: %w", err)
	}
	tier := domain.Tier(claims.Tier)
	if !tier.Valid() {
		tier = domain.TierPublic
	}
	return Identity{UserID: &userID, Tier: tier}, nil
}

func extractFromHeader(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return ""
	}
	return strings.TrimPrefix(authHeader, bearerPrefix)
}

type contextKey string

const identityContextKey contextKey = "signalzero-identity"

// WithContext stores id on ctx.
func WithContext(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

// FromContext retrieves the Identity stored by WithContext.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey).(Identity)
	return id, ok
}
