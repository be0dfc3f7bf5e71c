package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret")

type stubUsers map[string]bool

func (s stubUsers) IsActive(_ context.Context, userID string) (bool, error) {
	active, ok := s[userID]
	if !ok {
		return false, errors.New("lookup failed")
	}
	return active, nil
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func serve(t *testing.T, handler http.Handler, method, path, token string) int {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	return resp.Code
}

func TestAuthMiddleware_NoToken(t *testing.T) {
	mw := NewMiddleware(testSecret, NewDefaultPolicy([]string{"/healthz"}, nil))
	handler := mw.Wrap(okHandler())

	assert.Equal(t, http.StatusUnauthorized, serve(t, handler, http.MethodGet, "/api/v1/my/devices", ""))
	assert.Equal(t, http.StatusOK, serve(t, handler, http.MethodGet, "/healthz", ""))
}

func TestAuthMiddleware_UserForbiddenOnAdminRoutes(t *testing.T) {
	mw := NewMiddleware(testSecret, NewDefaultPolicy(nil, nil))
	handler := mw.Wrap(okHandler())

	userToken := mustToken(t, testSecret, "user-1", "cust-1", "user")
	adminToken := mustToken(t, testSecret, "admin-1", "", "admin")

	assert.Equal(t, http.StatusForbidden, serve(t, handler, http.MethodGet, "/api/v1/admin/tenant/devices", userToken))
	assert.Equal(t, http.StatusOK, serve(t, handler, http.MethodGet, "/api/v1/admin/tenant/devices", adminToken))
	assert.Equal(t, http.StatusOK, serve(t, handler, http.MethodGet, "/api/v1/my/devices", userToken))
}

func TestAuthMiddleware_RejectsInactiveUsers(t *testing.T) {
	mw := NewMiddleware(testSecret, NewDefaultPolicy(nil, nil)).WithUsers(stubUsers{"user-1": true, "user-2": false})
	handler := mw.Wrap(okHandler())

	assert.Equal(t, http.StatusOK, serve(t, handler, http.MethodGet, "/api/v1/my/devices", mustToken(t, testSecret, "user-1", "cust-1", "user")))
	assert.Equal(t, http.StatusUnauthorized, serve(t, handler, http.MethodGet, "/api/v1/my/devices", mustToken(t, testSecret, "user-2", "cust-1", "user")))
	assert.Equal(t, http.StatusUnauthorized, serve(t, handler, http.MethodGet, "/api/v1/my/devices", mustToken(t, testSecret, "ghost", "cust-1", "user")))
}

func TestAuthMiddleware_StoresIdentity(t *testing.T) {
	mw := NewMiddleware(testSecret, NewDefaultPolicy(nil, nil))
	var got Identity
	handler := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = IdentityFromContext(r.Context())
	}))

	serve(t, handler, http.MethodGet, "/api/v1/my/devices", mustToken(t, testSecret, "user-1", "cust-1", "user"))
	assert.Equal(t, Identity{Subject: "user-1", Email: "user-1@example.com", Role: RoleUser, CustomerID: "cust-1"}, got)
}

func TestParseJWTRejectsUnknownRole(t *testing.T) {
	_, err := ParseJWT(mustToken(t, testSecret, "user-1", "cust-1", "viewer"), testSecret)
	assert.Error(t, err)

	_, err = ParseJWT(mustToken(t, testSecret, "user-1", "cust-1", "user"), []byte("other"))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestEnsureCustomer(t *testing.T) {
	user := WithIdentity(context.Background(), Identity{Subject: "u", Role: RoleUser, CustomerID: "cust-1"})
	admin := WithIdentity(context.Background(), Identity{Subject: "a", Role: RoleAdmin})

	assert.NoError(t, EnsureCustomer(user, "cust-1"))
	assert.ErrorIs(t, EnsureCustomer(user, "cust-2"), ErrCustomerMismatch)
	assert.ErrorIs(t, EnsureCustomer(user, ""), ErrCustomerMismatch)
	assert.NoError(t, EnsureCustomer(admin, "cust-2"))
	assert.ErrorIs(t, EnsureSameCustomer(admin, "cust-2"), ErrCustomerMismatch)
}

func mustToken(t *testing.T, secret []byte, subject, customerID, role string) string {
	t.Helper()
	claims := Claims{
		Email:      subject + "@example.com",
		Role:       role,
		CustomerID: customerID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	require.NoError(t, err)
	return signed
}
