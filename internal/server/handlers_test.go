package server

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ecowallet/relay-backend/internal/auth"
	"github.com/ecowallet/relay-backend/internal/bundler"
	"github.com/ecowallet/relay-backend/internal/claim"
	"github.com/ecowallet/relay-backend/internal/config"
	"github.com/ecowallet/relay-backend/internal/escrow"
	"github.com/ecowallet/relay-backend/internal/store"
	"github.com/ecowallet/relay-backend/internal/token"
	"github.com/ecowallet/relay-backend/internal/transfer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newFailHandler() *WalletHandler {
	return &WalletHandler{logger: log.New(io.Discard, "", 0)}
}

func failStatus(t *testing.T, err error) int {
	t.Helper()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	newFailHandler().fail(c, err)
	return w.Code
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{token.ErrUnsupported, http.StatusBadRequest},
		{claim.ErrInvalidLink, http.StatusBadRequest},
		{claim.ErrWrongState, http.StatusConflict},
		{escrow.ErrDepositNotFound, http.StatusNotFound},
		{transfer.ErrBusy, http.StatusConflict},
		{transfer.ErrInsufficientBalance, http.StatusUnprocessableEntity},
		{transfer.ErrFeeUnavailable, http.StatusServiceUnavailable},
		{transfer.ErrInvalidAmount, http.StatusBadRequest},
		{&bundler.RejectionError{Code: -32507, Message: "invalid signature"}, http.StatusBadRequest},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := failStatus(t, tc.err); got != tc.want {
			t.Errorf("fail(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestWrappedErrorMapping(t *testing.T) {
	wrapped := errors.Join(errors.New("context"), transfer.ErrInsufficientBalance)
	if got := failStatus(t, wrapped); got != http.StatusUnprocessableEntity {
		t.Errorf("wrapped balance error = %d, want 422", got)
	}
}

func testAuthEnv(t *testing.T) (*auth.Service, *store.Repository) {
	t.Helper()
	db := store.OpenSQLite(config.DatabaseConfig{SQLiteDSN: filepath.Join(t.TempDir(), "server_test.db")})
	store.AutoMigrate(db)
	store.EnsureAdmin(db, "ops", "hunter2hunter2")
	repo := store.NewRepository(db)
	svc := auth.NewService(config.AuthConfig{
		JWTSecret: "test-secret",
		JWTTTL:    time.Hour,
		NonceTTL:  time.Minute,
	}, repo)
	return svc, repo
}

func testAuthService(t *testing.T) *auth.Service {
	t.Helper()
	svc, _ := testAuthEnv(t)
	return svc
}

func guardedRouter(t *testing.T) *gin.Engine {
	t.Helper()
	svc := testAuthService(t)
	r := gin.New()
	r.GET("/guarded", auth.JWTMiddleware(svc), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r
}

func TestGuardRejectsMissingToken(t *testing.T) {
	r := guardedRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/guarded", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/guarded", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("garbage token status = %d, want 401", w.Code)
	}
}

func TestGuardAcceptsIssuedToken(t *testing.T) {
	svc := testAuthService(t)
	r := gin.New()
	r.GET("/guarded", auth.JWTMiddleware(svc), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"role": c.GetString(auth.ContextRole),
		})
	})

	tok, err := svc.LoginWithPassword(context.Background(), "ops", "hunter2hunter2")
	if err != nil {
		t.Fatalf("LoginWithPassword: %v", err)
	}
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/guarded", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func minimalWalletHandler(t *testing.T) *WalletHandler {
	t.Helper()
	registry, err := token.NewRegistry("0x0000000000000000000000000000000000000e00", "")
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	discard := log.New(io.Discard, "", 0)
	svc := transfer.NewService(transfer.Config{}, registry, nil, nil, nil, nil, nil, nil, nil, nil, nil, discard)
	return &WalletHandler{registry: registry, service: svc, logger: discard}
}

func TestPostTransferRejectsGarbageAmount(t *testing.T) {
	h := minimalWalletHandler(t)
	r := gin.New()
	r.POST("/transfers", h.PostTransfer)

	for _, amount := range []string{"abc", "0", "-1"} {
		body := `{"token":"eco","recipient":"0x00000000000000000000000000000000000000a1","amount":"` + amount + `"}`
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/transfers", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("amount %q: status = %d, want 400", amount, w.Code)
		}
		if !strings.Contains(w.Body.String(), "invalid amount") {
			t.Errorf("amount %q: body = %s, want invalid amount message", amount, w.Body.String())
		}
	}
}

func TestRequireAdminRejectsWalletRole(t *testing.T) {
	r := gin.New()
	r.GET("/admin",
		func(c *gin.Context) { c.Set(auth.ContextRole, auth.RoleWallet) },
		auth.RequireAdmin(),
		func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) },
	)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
}

func TestAdminOperationsRoute(t *testing.T) {
	svc, repo := testAuthEnv(t)
	h := &WalletHandler{repo: repo, logger: log.New(io.Discard, "", 0)}
	r := gin.New()
	r.GET("/admin/operations", auth.JWTMiddleware(svc), auth.RequireAdmin(), h.ListAllOperations)

	if err := repo.CreateOperation(context.Background(), &store.Operation{
		TraceID:    "trace-1",
		Kind:       store.OpKindTransfer,
		TokenID:    "eco",
		Sender:     "0x00000000000000000000000000000000000000aa",
		UserOpHash: "0x01",
		Status:     store.OpStatusSubmitted,
	}); err != nil {
		t.Fatalf("CreateOperation: %v", err)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/operations", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", w.Code)
	}

	tok, err := svc.LoginWithPassword(context.Background(), "ops", "hunter2hunter2")
	if err != nil {
		t.Fatalf("LoginWithPassword: %v", err)
	}
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/admin/operations", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("admin status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "trace-1") {
		t.Fatalf("admin listing missing seeded operation: %s", w.Body.String())
	}
}
