package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/crewdeck/crewdeck-server/internal/store/sqlite"
)

func testJWTConfig() *JWTConfig {
	return &JWTConfig{
		Secret:   []byte("test-secret"),
		Issuer:   "crewdeck-test",
		Audience: "crewdeck-test",
		TTL:      time.Hour,
	}
}

func newTestService(t *testing.T, domain string) *Service {
	t.Helper()
	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return NewService(st, testJWTConfig(), domain)
}

func TestRegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, "")

	token, err := svc.Register(ctx, "alice@example.com", "secret123", "Alice", "Smith")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate registration token: %v", err)
	}
	if claims.Email != "alice@example.com" {
		t.Fatalf("unexpected claims email %q", claims.Email)
	}

	token, err = svc.Login(ctx, "alice@example.com", "secret123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := svc.ValidateToken(token); err != nil {
		t.Fatalf("validate login token: %v", err)
	}
}

func TestRegisterNormalizesEmail(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, "")

	if _, err := svc.Register(ctx, "  Bob@Example.COM ", "secret123", "Bob", "Jones"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Login(ctx, "bob@example.com", "secret123"); err != nil {
		t.Fatalf("login with normalized email: %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, "")

	tests := []struct {
		name     string
		email    string
		password string
		want     error
	}{
		{"no at sign", "not-an-email", "secret123", ErrInvalidEmail},
		{"empty local part", "@example.com", "secret123", ErrInvalidEmail},
		{"empty domain", "alice@", "secret123", ErrInvalidEmail},
		{"short password", "alice@example.com", "12345", ErrInvalidPassword},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Register(ctx, tt.email, tt.password, "A", "B"); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestRegisterDomainRestriction(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, "crewdeck.io")

	if _, err := svc.Register(ctx, "eve@gmail.com", "secret123", "Eve", "Lee"); !errors.Is(err, ErrEmailDomain) {
		t.Fatalf("expected ErrEmailDomain, got %v", err)
	}
	if _, err := svc.Register(ctx, "eve@crewdeck.io", "secret123", "Eve", "Lee"); err != nil {
		t.Fatalf("in-domain registration failed: %v", err)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, "")

	if _, err := svc.Register(ctx, "alice@example.com", "secret123", "Alice", "Smith"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Register(ctx, "alice@example.com", "other-pass", "Alice", "Smith"); !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, "")

	if _, err := svc.Register(ctx, "alice@example.com", "secret123", "Alice", "Smith"); err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := svc.Login(ctx, "alice@example.com", "wrong-pass"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Login(ctx, "nobody@example.com", "secret123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestValidateTokenRejectsTampering(t *testing.T) {
	cfg := testJWTConfig()
	token, err := GenerateToken(cfg, 1, "alice@example.com", "STAFF")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	other := *cfg
	other.Secret = []byte("different-secret")
	if _, err := ValidateToken(&other, token); err == nil {
		t.Fatalf("expected validation failure with wrong secret")
	}
	if _, err := ValidateToken(cfg, token+"x"); err == nil {
		t.Fatalf("expected validation failure for tampered token")
	}
}
