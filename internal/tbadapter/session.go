package tbadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/Dipeshbist/Yeti-Server/internal/observability/metrics"
)

// RefreshMargin is the minimum remaining validity of a token handed to callers.
const RefreshMargin = 60 * time.Second

// ErrAuthentication wraps every failed login exchange.
var ErrAuthentication = errors.New("tbadapter: authentication failed")

// TokenSource yields a valid upstream bearer token.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// SessionManager owns the single shared upstream session.
// Token calls are serialized so concurrent callers observe one re-authentication.
type SessionManager struct {
	http     *resty.Client
	username string
	password string
	logger   *zap.Logger
	now      func() time.Time

	mu        sync.Mutex
	token     string
	refresh   string
	expiresAt int64
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

func newSessionManager(client *resty.Client, username, password string, logger *zap.Logger, now func() time.Time) *SessionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &SessionManager{
		http:     client,
		username: username,
		password: password,
		logger:   logger,
		now:      now,
	}
}

// Token returns the cached token, re-authenticating first when it is missing
// or expires within RefreshMargin.
func (m *SessionManager) Token(ctx context.Context) (string, error) {
	if m == nil {
		return "", errors.New("tbadapter: nil session manager")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token != "" && m.now().UnixMilli() <= m.expiresAt-RefreshMargin.Milliseconds() {
		return m.token, nil
	}
	if err := m.login(ctx); err != nil {
		return "", err
	}
	return m.token, nil
}

// ExpiresAt returns the cached token expiry in ms, or zero when no token is held.
func (m *SessionManager) ExpiresAt() int64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expiresAt
}

// Invalidate drops the cached token so the next call re-authenticates.
func (m *SessionManager) Invalidate() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.token = ""
	m.refresh = ""
	m.expiresAt = 0
	m.mu.Unlock()
}

func (m *SessionManager) login(ctx context.Context) (err error) {
	start := time.Now()
	defer func() {
		metrics.IncLogin(err)
		metrics.ObserveUpstream("login", err, time.Since(start))
	}()

	resp, err := m.http.R().
		SetContext(ctx).
		SetBody(loginRequest{Username: m.username, Password: m.password}).
		Post("/api/auth/login")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAuthentication, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("%w: http %d", ErrAuthentication, resp.StatusCode())
	}
	var payload loginResponse
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		return fmt.Errorf("%w: decode login response: %w", ErrAuthentication, err)
	}
	if payload.Token == "" {
		return fmt.Errorf("%w: empty token", ErrAuthentication)
	}
	expiresAt, err := tokenExpiry(payload.Token)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAuthentication, err)
	}

	m.token = payload.Token
	m.refresh = payload.RefreshToken
	m.expiresAt = expiresAt
	m.logger.Info("upstream login ok", zap.Time("expires_at", time.UnixMilli(expiresAt).UTC()))
	return nil
}

// tokenExpiry reads exp from the token's own claims. The signature belongs to
// the upstream platform and is not verified here.
func tokenExpiry(token string) (int64, error) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return 0, fmt.Errorf("parse token claims: %w", err)
	}
	if claims.ExpiresAt == nil {
		return 0, errors.New("token has no exp claim")
	}
	return claims.ExpiresAt.UnixMilli(), nil
}
