// ABOUTME: Unit tests for JWT token verification and generation
// ABOUTME: Tests valid tokens, invalid tokens, expired tokens, and role claims

package auth

import (
	"errors"
	"testing"
	"time"
)

func TestJWTVerifier_ValidToken(t *testing.T) {
	verifier, err := NewJWTVerifier([]byte("test-secret-key-for-jwt-signing"))
	if err != nil {
		t.Fatalf("NewJWTVerifier() error = %v", err)
	}

	want := &Identity{ID: "client-123", Role: RoleClient}
	token, err := verifier.Generate(want, time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	got, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}

	if got.ID != want.ID {
		t.Errorf("Verify() ID = %q, want %q", got.ID, want.ID)
	}
	if got.Role != want.Role {
		t.Errorf("Verify() Role = %q, want %q", got.Role, want.Role)
	}
}

func TestJWTVerifier_InvalidToken(t *testing.T) {
	verifier, err := NewJWTVerifier([]byte("test-secret-key-for-jwt-signing"))
	if err != nil {
		t.Fatalf("NewJWTVerifier() error = %v", err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{
			name:  "empty token",
			token: "",
		},
		{
			name:  "garbage token",
			token: "not-a-jwt-token",
		},
		{
			name:  "malformed JWT",
			token: "header.payload.signature",
		},
		{
			name: "wrong secret",
			token: func() string {
				otherVerifier, _ := NewJWTVerifier([]byte("different-secret"))
				token, _ := otherVerifier.Generate(&Identity{ID: "client-123", Role: RoleClient}, time.Hour)
				return token
			}(),
		},
		{
			name: "unknown role claim",
			token: func() string {
				v, _ := NewJWTVerifier([]byte("test-secret-key-for-jwt-signing"))
				token, _ := v.Generate(&Identity{ID: "client-123", Role: Role("admin")}, time.Hour)
				return token
			}(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := verifier.Verify(tt.token)
			if err == nil {
				t.Fatal("Verify() should have returned an error")
			}
			if !errors.Is(err, ErrUnauthorized) {
				t.Errorf("Verify() error = %v, want ErrUnauthorized", err)
			}
		})
	}
}

func TestJWTVerifier_ExpiredToken(t *testing.T) {
	verifier, err := NewJWTVerifier([]byte("test-secret-key-for-jwt-signing"))
	if err != nil {
		t.Fatalf("NewJWTVerifier() error = %v", err)
	}

	// Generate a token that expired 1 hour ago
	token, err := verifier.Generate(&Identity{ID: "worker-1", Role: RoleWorker}, -time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	_, err = verifier.Verify(token)
	if err == nil {
		t.Fatal("Verify() should have returned an error for expired token")
	}
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Verify() error = %v, want ErrUnauthorized", err)
	}
}

func TestJWTVerifier_EmptySecret(t *testing.T) {
	if _, err := NewJWTVerifier(nil); err == nil {
		t.Error("NewJWTVerifier(nil) should have returned an error")
	}
}

func TestParseRole(t *testing.T) {
	tests := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{in: "client", want: RoleClient},
		{in: "worker", want: RoleWorker},
		{in: "admin", wantErr: true},
		{in: "", wantErr: true},
		{in: "Client", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRole(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseRole(%q) should have returned an error", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRole(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseRole(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
