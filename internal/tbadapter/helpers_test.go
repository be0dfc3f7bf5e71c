package tbadapter

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

var testNow = time.UnixMilli(1_700_000_000_000)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "svc@example.com",
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	signed, err := token.SignedString([]byte("platform-key"))
	require.NoError(t, err)
	return signed
}

// fakePlatform is an in-process stand-in for the upstream REST API.
type fakePlatform struct {
	t      *testing.T
	server *httptest.Server
	mux    *http.ServeMux

	mu        sync.Mutex
	logins    int
	requests  []*http.Request
	tokenExp  time.Duration
	loginCode int
}

func newFakePlatform(t *testing.T) *fakePlatform {
	t.Helper()
	p := &fakePlatform{t: t, mux: http.NewServeMux(), tokenExp: time.Hour, loginCode: http.StatusOK}
	p.mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body loginRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		p.mu.Lock()
		p.logins++
		code := p.loginCode
		exp := p.tokenExp
		p.mu.Unlock()
		if code != http.StatusOK || body.Username == "" {
			w.WriteHeader(code)
			return
		}
		writeJSON(w, loginResponse{Token: signedToken(t, testNow.Add(exp)), RefreshToken: "refresh"})
	})
	p.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/auth/login" {
			p.mu.Lock()
			p.requests = append(p.requests, r.Clone(r.Context()))
			p.mu.Unlock()
		}
		p.mux.ServeHTTP(w, r)
	}))
	t.Cleanup(p.server.Close)
	return p
}

func (p *fakePlatform) handle(pattern string, handler http.HandlerFunc) {
	p.mux.HandleFunc(pattern, handler)
}

func (p *fakePlatform) setTokenTTL(ttl time.Duration) {
	p.mu.Lock()
	p.tokenExp = ttl
	p.mu.Unlock()
}

func (p *fakePlatform) setLoginStatus(code int) {
	p.mu.Lock()
	p.loginCode = code
	p.mu.Unlock()
}

func (p *fakePlatform) loginCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.logins
}

func (p *fakePlatform) requestCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func (p *fakePlatform) lastRequest() *http.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.requests) == 0 {
		return nil
	}
	return p.requests[len(p.requests)-1]
}

func (p *fakePlatform) client(t *testing.T, now func() time.Time) *Client {
	t.Helper()
	if now == nil {
		now = func() time.Time { return testNow }
	}
	client, err := NewClient(p.server.URL, "svc@example.com", "secret", WithClock(now))
	require.NoError(t, err)
	return client
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
