package tbadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/Dipeshbist/Yeti-Server/internal/observability/metrics"
)

var (
	// ErrNotFound is matched by HTTPError for 404 responses.
	ErrNotFound = errors.New("tbadapter: not found")
	// ErrUnauthorized is matched by HTTPError for 401 responses.
	ErrUnauthorized = errors.New("tbadapter: unauthorized")
	// ErrAccessDenied indicates a device outside the caller's customer.
	ErrAccessDenied = errors.New("tbadapter: device not found or access denied")
	// ErrInvalidSortOrder is returned for sort orders other than ASC/DESC.
	ErrInvalidSortOrder = errors.New("tbadapter: sort order must be ASC or DESC")
	// ErrInvalidArgument marks requests rejected before reaching the platform.
	ErrInvalidArgument = errors.New("tbadapter: invalid argument")
)

// HTTPError is a non-2xx upstream response.
type HTTPError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	msg := fmt.Sprintf("tbadapter: %s %s: http %d", e.Method, e.Path, e.Status)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Is maps status codes onto sentinel errors.
func (e *HTTPError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized
	}
	return false
}

// Client is the ThingsBoard REST client. All calls authenticate through a shared SessionManager.
type Client struct {
	baseURL string
	http    *resty.Client
	session *SessionManager
	logger  *zap.Logger
	now     func() time.Time
}

// Option configures the client.
type Option func(*Client)

// WithTimeout sets a per-request timeout. Zero leaves requests unbounded.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.http.SetTimeout(timeout)
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock overrides the time source used for token expiry and live windows.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// NewClient constructs a client with its own session manager.
func NewClient(baseURL, username, password string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("tbadapter: empty base url")
	}
	if username == "" || password == "" {
		return nil, errors.New("tbadapter: empty credentials")
	}
	baseURL = strings.TrimRight(baseURL, "/")
	c := &Client{
		baseURL: baseURL,
		http: resty.New().
			SetBaseURL(baseURL).
			SetHeader("Content-Type", "application/json").
			SetHeader("Accept", "application/json"),
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.session = newSessionManager(c.http, username, password, c.logger, func() time.Time { return c.now() })
	return c, nil
}

// BaseURL returns the upstream base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Session exposes the shared session manager.
func (c *Client) Session() *SessionManager { return c.session }

func (c *Client) get(ctx context.Context, op, path string, query url.Values, out any) error {
	return c.do(ctx, op, http.MethodGet, path, query, nil, out)
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	start := time.Now()
	err := c.send(ctx, method, path, query, body, out)
	metrics.ObserveUpstream(op, err, time.Since(start))
	return err
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, body, out any) error {
	token, err := c.session.Token(ctx)
	if err != nil {
		return err
	}
	req := c.http.R().
		SetContext(ctx).
		SetHeader("X-Authorization", "Bearer "+token).
		SetHeader("Authorization", "Bearer "+token)
	if len(query) > 0 {
		req.SetQueryParamsFromValues(query)
	}
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("tbadapter: %s %s: %w", method, path, err)
	}
	if resp.StatusCode() >= http.StatusMultipleChoices {
		if resp.StatusCode() == http.StatusUnauthorized {
			c.session.Invalidate()
		}
		return &HTTPError{Method: method, Path: path, Status: resp.StatusCode(), Body: truncate(resp.String(), 256)}
	}
	if out == nil || len(resp.Body()) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("tbadapter: decode %s: %w", path, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
