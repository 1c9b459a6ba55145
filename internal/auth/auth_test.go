package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/KevinKickass/PinBridge/internal/config"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"
)

func fastHasher() *PasswordHasher {
	return &PasswordHasher{memory: 8 * 1024, iterations: 1, parallelism: 1, saltLength: 16, keyLength: 32}
}

func testService(t *testing.T) (*AuthService, string) {
	t.Helper()
	hash, err := fastHasher().HashPassword("flipper")
	if err != nil {
		t.Fatal(err)
	}
	token, tokenHash, err := NewMachineTokenGenerator().GenerateMachineToken()
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.AuthConfig{
		Enabled:         true,
		JWTSecretEnv:    "PINBRIDGE_AUTH_TEST_SECRET",
		AccessTokenTTL:  time.Minute,
		RefreshTokenTTL: time.Hour,
		Users: []config.UserConfig{
			{Username: "op", Role: "operator", PasswordHash: hash},
		},
		Tokens: []config.TokenConfig{
			{Name: "cabinet", TokenHash: tokenHash, Permissions: []string{"viewer"}},
		},
	}
	return NewAuthService(cfg, zaptest.NewLogger(t)), token
}

func TestPasswordRoundTrip(t *testing.T) {
	h := fastHasher()
	hash, err := h.HashPassword("secret")
	if err != nil {
		t.Fatal(err)
	}
	if ok, err := h.VerifyPassword("secret", hash); err != nil || !ok {
		t.Fatalf("expected match, got %v %v", ok, err)
	}
	if ok, _ := h.VerifyPassword("wrong", hash); ok {
		t.Fatal("expected mismatch")
	}
	if _, err := h.VerifyPassword("secret", "plain"); err == nil {
		t.Fatal("expected format error")
	}
}

func TestLoginAndValidate(t *testing.T) {
	a, _ := testService(t)
	ctx := context.Background()

	if _, _, err := a.LoginUser(ctx, "op", "wrong", "127.0.0.1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, _, err := a.LoginUser(ctx, "ghost", "flipper", "127.0.0.1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}

	access, refresh, err := a.LoginUser(ctx, "op", "flipper", "127.0.0.1")
	if err != nil {
		t.Fatalf("LoginUser: %v", err)
	}
	perms, err := a.ValidateToken(ctx, access, "")
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if len(perms) != 2 || perms[1] != PermOperator {
		t.Fatalf("unexpected permissions %v", perms)
	}

	_, next, err := a.RefreshAccessToken(ctx, refresh)
	if err != nil {
		t.Fatalf("RefreshAccessToken: %v", err)
	}
	if _, _, err := a.RefreshAccessToken(ctx, refresh); err == nil {
		t.Fatal("expected rotated refresh token to be rejected")
	}
	a.RevokeRefreshToken(ctx, next)
	if _, _, err := a.RefreshAccessToken(ctx, next); err == nil {
		t.Fatal("expected revoked refresh token to be rejected")
	}
}

func TestMachineToken(t *testing.T) {
	a, token := testService(t)
	perms, err := a.ValidateToken(context.Background(), token, "")
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if len(perms) != 1 || perms[0] != PermViewer {
		t.Fatalf("unexpected permissions %v", perms)
	}
	if _, err := a.ValidateToken(context.Background(), "pb_garbage", ""); err == nil {
		t.Fatal("expected malformed token to be rejected")
	}
}

func TestForeignIssuerRejected(t *testing.T) {
	h := NewJWTHandler("0123456789abcdef0123456789abcdef", time.Minute, time.Hour)
	token, err := h.GenerateAccessToken("op", "admin")
	if err != nil {
		t.Fatal(err)
	}
	other := NewJWTHandler("another-secret-another-secret-xx", time.Minute, time.Hour)
	if _, err := other.ValidateAccessToken(token); err == nil {
		t.Fatal("expected signature mismatch")
	}
	claims, err := h.ValidateAccessToken(token)
	if err != nil || claims.Subject != "op" || claims.Role != "admin" {
		t.Fatalf("unexpected claims %+v, %v", claims, err)
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a, token := testService(t)
	access, _, err := a.LoginUser(context.Background(), "op", "flipper", "")
	if err != nil {
		t.Fatal(err)
	}

	r := gin.New()
	r.GET("/status", a.AuthMiddleware(), RequirePermission(PermViewer), func(c *gin.Context) { c.Status(http.StatusOK) })
	r.POST("/start", a.AuthMiddleware(), RequirePermission(PermOperator), func(c *gin.Context) { c.Status(http.StatusOK) })

	tests := []struct {
		name   string
		method string
		path   string
		header string
		want   int
	}{
		{"no header", http.MethodGet, "/status", "", http.StatusUnauthorized},
		{"bad scheme", http.MethodGet, "/status", "Basic x", http.StatusUnauthorized},
		{"bad token", http.MethodGet, "/status", "Bearer nope", http.StatusUnauthorized},
		{"operator reads", http.MethodGet, "/status", "Bearer " + access, http.StatusOK},
		{"operator starts", http.MethodPost, "/start", "Bearer " + access, http.StatusOK},
		{"viewer token reads", http.MethodGet, "/status", "Bearer " + token, http.StatusOK},
		{"viewer token cannot start", http.MethodPost, "/start", "Bearer " + token, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestMiddlewareDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a := NewAuthService(config.AuthConfig{}, zaptest.NewLogger(t))
	r := gin.New()
	r.POST("/start", a.AuthMiddleware(), RequirePermission(PermAdmin), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/start", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected open access, got %d", w.Code)
	}
}
