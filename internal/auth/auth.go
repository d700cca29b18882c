// Package auth provides request authentication for the hub: bearer-token
// validation for frontend-facing routes and the shared-secret signed transport
// used on every internal hop.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrUnauthorized is returned when a bearer token is missing, malformed,
// expired, or signed with the wrong key.
var ErrUnauthorized = errors.New("unauthorized")

// Claims are the JWT claims minted by the main server for frontend users.
type Claims struct {
	UserID    string `json:"uid"`
	CompanyID string `json:"org"`
	jwt.RegisteredClaims
}

// Identity is the authenticated caller of a frontend-facing route.
type Identity struct {
	UserID    string
	CompanyID string
}

// TokenService validates (and, for tests and tooling, issues) user bearer
// tokens.
type TokenService struct {
	secret []byte
	expiry time.Duration
}

// NewTokenService creates a TokenService over the shared JWT secret.
func NewTokenService(secret string, expiry time.Duration) *TokenService {
	return &TokenService{secret: []byte(secret), expiry: expiry}
}

// ValidateToken parses a bearer token and returns the caller's identity.
func (t *TokenService) ValidateToken(tokenStr string) (*Identity, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		return nil, ErrUnauthorized
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, ErrUnauthorized
	}

	return &Identity{UserID: claims.UserID, CompanyID: claims.CompanyID}, nil
}

// GenerateToken issues a signed bearer token for a user. The hub itself never
// mints tokens in production; this exists for local setups and tests.
func (t *TokenService) GenerateToken(userID, companyID string) (string, error) {
	claims := &Claims{
		UserID:    userID,
		CompanyID: companyID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(t.expiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}
