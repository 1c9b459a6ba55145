package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/PinBridge/internal/config"
	"go.uber.org/zap"
)

type Permission string

const (
	// PermViewer reads status and device state.
	PermViewer Permission = "viewer"
	// PermOperator drives the game: switches, start, stop.
	PermOperator Permission = "operator"
	PermAdmin    Permission = "admin"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

type refreshEntry struct {
	username  string
	expiresAt time.Time
}

// AuthService authenticates operators listed in the config and machine
// tokens whose hashes are configured. Refresh tokens live in memory and
// do not survive a restart.
type AuthService struct {
	enabled         bool
	jwtHandler      *JWTHandler
	passwordHasher  *PasswordHasher
	machineTokenGen *MachineTokenGenerator
	logger          *zap.Logger

	users  map[string]config.UserConfig
	tokens map[string]config.TokenConfig

	mu      sync.Mutex
	refresh map[string]refreshEntry
}

func NewAuthService(cfg config.AuthConfig, logger *zap.Logger) *AuthService {
	a := &AuthService{
		enabled:         cfg.Enabled,
		jwtHandler:      NewJWTHandler(cfg.GetJWTSecret(), cfg.AccessTokenTTL, cfg.RefreshTokenTTL),
		passwordHasher:  NewPasswordHasher(),
		machineTokenGen: NewMachineTokenGenerator(),
		logger:          logger,
		users:           make(map[string]config.UserConfig, len(cfg.Users)),
		tokens:          make(map[string]config.TokenConfig, len(cfg.Tokens)),
		refresh:         make(map[string]refreshEntry),
	}
	for _, u := range cfg.Users {
		a.users[u.Username] = u
	}
	for _, t := range cfg.Tokens {
		a.tokens[t.TokenHash] = t
	}
	if cfg.Enabled && !cfg.IsProductionReady() {
		logger.Warn("JWT secret is the development default or too short",
			zap.String("env", cfg.JWTSecretEnv))
	}
	return a
}

func (a *AuthService) Enabled() bool { return a.enabled }

// LoginUser authenticates a user and returns tokens
func (a *AuthService) LoginUser(ctx context.Context, username, password, ipAddress string) (accessToken, refreshToken string, err error) {
	user, ok := a.users[username]
	if !ok {
		a.logAuthEvent("user_login_failed", username, ipAddress, false, "user not found")
		return "", "", ErrInvalidCredentials
	}

	valid, err := a.passwordHasher.VerifyPassword(password, user.PasswordHash)
	if err != nil || !valid {
		a.logAuthEvent("user_login_failed", username, ipAddress, false, "invalid password")
		return "", "", ErrInvalidCredentials
	}

	accessToken, refreshToken, err = a.issue(user)
	if err != nil {
		return "", "", err
	}
	a.logAuthEvent("user_login_success", username, ipAddress, true, "")
	return accessToken, refreshToken, nil
}

func (a *AuthService) issue(user config.UserConfig) (string, string, error) {
	accessToken, err := a.jwtHandler.GenerateAccessToken(user.Username, user.Role)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate access token: %w", err)
	}

	refreshToken, err := a.jwtHandler.GenerateRefreshToken()
	if err != nil {
		return "", "", fmt.Errorf("failed to generate refresh token: %w", err)
	}

	a.mu.Lock()
	a.refresh[a.hashRefreshToken(refreshToken)] = refreshEntry{
		username:  user.Username,
		expiresAt: time.Now().Add(a.jwtHandler.refreshTokenTTL),
	}
	a.mu.Unlock()

	return accessToken, refreshToken, nil
}

// RefreshAccessToken rotates a refresh token into a new token pair.
func (a *AuthService) RefreshAccessToken(ctx context.Context, refreshToken string) (string, string, error) {
	hash := a.hashRefreshToken(refreshToken)

	a.mu.Lock()
	entry, ok := a.refresh[hash]
	delete(a.refresh, hash)
	a.mu.Unlock()

	if !ok || time.Now().After(entry.expiresAt) {
		return "", "", fmt.Errorf("invalid refresh token")
	}
	user, ok := a.users[entry.username]
	if !ok {
		return "", "", fmt.Errorf("user not found: %s", entry.username)
	}
	return a.issue(user)
}

// RevokeRefreshToken revokes a refresh token
func (a *AuthService) RevokeRefreshToken(ctx context.Context, refreshToken string) {
	a.mu.Lock()
	delete(a.refresh, a.hashRefreshToken(refreshToken))
	a.mu.Unlock()
}

// ValidateMachineToken validates a machine token and returns permissions
func (a *AuthService) ValidateMachineToken(ctx context.Context, token, ipAddress string) ([]Permission, error) {
	if !a.machineTokenGen.ValidateTokenFormat(token) {
		return nil, fmt.Errorf("invalid token format")
	}

	entry, ok := a.tokens[a.machineTokenGen.HashToken(token)]
	if !ok {
		a.logAuthEvent("machine_token_failed", "", ipAddress, false, "token not found")
		return nil, fmt.Errorf("invalid token")
	}
	a.logAuthEvent("machine_token_success", entry.Name, ipAddress, true, "")

	permissions := make([]Permission, len(entry.Permissions))
	for i, p := range entry.Permissions {
		permissions[i] = Permission(p)
	}
	return permissions, nil
}

// ValidateToken validates any token (JWT or Machine Token)
func (a *AuthService) ValidateToken(ctx context.Context, token, ipAddress string) ([]Permission, error) {
	if claims, err := a.jwtHandler.ValidateAccessToken(token); err == nil {
		return roleToPermissions(claims.Role), nil
	}
	return a.ValidateMachineToken(ctx, token, ipAddress)
}

// AllPermissions is granted to every request when auth is disabled.
func AllPermissions() []Permission {
	return []Permission{PermViewer, PermOperator, PermAdmin}
}

func roleToPermissions(role string) []Permission {
	switch role {
	case "admin":
		return AllPermissions()
	case "operator":
		return []Permission{PermViewer, PermOperator}
	default:
		return []Permission{PermViewer}
	}
}

func (a *AuthService) hashRefreshToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

func (a *AuthService) logAuthEvent(eventType, subject, ip string, success bool, reason string) {
	fields := []zap.Field{
		zap.String("event", eventType),
		zap.String("subject", subject),
		zap.String("ip", ip),
	}
	if success {
		a.logger.Info("Auth event", fields...)
		return
	}
	a.logger.Warn("Auth event", append(fields, zap.String("reason", reason))...)
}
