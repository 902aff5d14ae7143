// ABOUTME: JWT token verification for authenticating connections and requests
// ABOUTME: Uses HS256 signing with a shared secret; yields an Identity (id + role)

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized covers every credential failure: malformed token, bad
// signature, expiry, missing claims. Callers never learn which check failed.
var ErrUnauthorized = errors.New("unauthorized")

// Role distinguishes the two sides of the marketplace.
type Role string

const (
	RoleClient Role = "client"
	RoleWorker Role = "worker"
)

// ParseRole converts a string into a Role, rejecting anything unknown.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleClient, RoleWorker:
		return Role(s), nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// Identity is an authenticated caller. Immutable for the lifetime of a
// session; produced only by a Verifier.
type Identity struct {
	ID   string
	Role Role
}

// Verifier validates an opaque bearer credential.
type Verifier interface {
	Verify(credential string) (*Identity, error)
}

// JWTVerifier implements Verifier using HS256 signed JWTs.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a verifier with the given signing secret.
func NewJWTVerifier(secret []byte) (*JWTVerifier, error) {
	if len(secret) == 0 {
		return nil, errors.New("jwt secret must not be empty")
	}
	return &JWTVerifier{secret: secret}, nil
}

// Verify validates the credential and extracts the identity from the "sub"
// and "role" claims. Every failure collapses to ErrUnauthorized; the wrapped
// cause is for logs only and never reaches the wire.
func (v *JWTVerifier) Verify(credential string) (*Identity, error) {
	token, err := jwt.Parse(credential, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if !token.Valid {
		return nil, ErrUnauthorized
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrUnauthorized
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return nil, fmt.Errorf("%w: missing sub claim", ErrUnauthorized)
	}

	roleStr, ok := claims["role"].(string)
	if !ok {
		return nil, fmt.Errorf("%w: missing role claim", ErrUnauthorized)
	}
	role, err := ParseRole(roleStr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	return &Identity{ID: sub, Role: role}, nil
}

// Generate creates a signed token for the given identity with expiration.
// Used by the login endpoint; Verify is its inverse.
func (v *JWTVerifier) Generate(id *Identity, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  id.ID,
		"role": string(id.Role),
		"iat":  now.Unix(),
		"exp":  now.Add(expiresIn).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
