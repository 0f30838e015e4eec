package auth

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ecowallet/relay-backend/internal/config"
	"github.com/ecowallet/relay-backend/internal/store"
)

func testService(t *testing.T) (*Service, *store.DB) {
	t.Helper()
	db := store.OpenSQLite(config.DatabaseConfig{SQLiteDSN: filepath.Join(t.TempDir(), "auth_test.db")})
	store.AutoMigrate(db)
	svc := NewService(config.AuthConfig{
		JWTSecret: "test-secret",
		JWTTTL:    time.Hour,
		NonceTTL:  time.Minute,
	}, store.NewRepository(db))
	return svc, db
}

func TestNonceLifecycle(t *testing.T) {
	svc, _ := testService(t)

	nonce, err := svc.IssueNonce()
	if err != nil {
		t.Fatalf("IssueNonce: %v", err)
	}
	if !svc.nonces.Has(nonce) {
		t.Fatal("issued nonce should be live")
	}
	svc.nonces.Consume(nonce)
	if svc.nonces.Has(nonce) {
		t.Fatal("consumed nonce should be gone")
	}
	if svc.nonces.Has("never-issued") {
		t.Fatal("unknown nonce should not validate")
	}
}

func TestNonceExpiry(t *testing.T) {
	s := newNonceStore(time.Millisecond)
	nonce, err := s.Issue()
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if s.Has(nonce) {
		t.Fatal("expired nonce should not validate")
	}
}

func TestPasswordLogin(t *testing.T) {
	svc, db := testService(t)
	store.EnsureAdmin(db, "ops", "hunter2hunter2")

	tok, err := svc.LoginWithPassword(context.Background(), "ops", "hunter2hunter2")
	if err != nil {
		t.Fatalf("LoginWithPassword: %v", err)
	}
	claims, err := svc.Parse(tok)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.Role != RoleAdmin {
		t.Errorf("role = %q, want %q", claims.Role, RoleAdmin)
	}

	if _, err := svc.LoginWithPassword(context.Background(), "ops", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password err = %v, want ErrInvalidCredentials", err)
	}
	if _, err := svc.LoginWithPassword(context.Background(), "nobody", "hunter2hunter2"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown user err = %v, want ErrInvalidCredentials", err)
	}
}

func TestParseRejectsTamperedToken(t *testing.T) {
	svc, db := testService(t)
	store.EnsureAdmin(db, "ops", "hunter2hunter2")

	tok, err := svc.LoginWithPassword(context.Background(), "ops", "hunter2hunter2")
	if err != nil {
		t.Fatalf("LoginWithPassword: %v", err)
	}
	if _, err := svc.Parse(tok + "x"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("tampered token err = %v, want ErrInvalidCredentials", err)
	}

	other := NewService(config.AuthConfig{JWTSecret: "other-secret", JWTTTL: time.Hour}, nil)
	if _, err := other.Parse(tok); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("foreign-secret token err = %v, want ErrInvalidCredentials", err)
	}
}

func TestLoginWithSIWERejectsEmptyInput(t *testing.T) {
	svc, _ := testService(t)
	if _, err := svc.LoginWithSIWE(context.Background(), "", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("empty input err = %v, want ErrInvalidCredentials", err)
	}
	if _, err := svc.LoginWithSIWE(context.Background(), "not a siwe message", "0x00"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("garbage message err = %v, want ErrInvalidCredentials", err)
	}
}
