package tbadapter

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Dipeshbist/Yeti-Server/internal/observability/metrics"
	telemetry "github.com/Dipeshbist/Yeti-Server/internal/telemetry/domain"
)

const defaultStreamBuffer = 256

// ErrAlreadySubscribed is returned when a device already has a subscription in
// this process, whatever its state.
var ErrAlreadySubscribed = errors.New("tbadapter: device already subscribed")

// StreamState is the lifecycle state of a subscription.
type StreamState string

const (
	StateConnecting StreamState = "connecting"
	StateOpen       StreamState = "open"
	StateClosed     StreamState = "closed"
)

// SampleHandler consumes samples of one device in arrival order.
type SampleHandler func(ctx context.Context, deviceID string, sample telemetry.Sample)

// Subscription is one device's latest-telemetry stream. Samples yields every
// sample in arrival order and is closed when the stream ends. A closed
// subscription is never reopened.
type Subscription struct {
	DeviceID string

	samples chan telemetry.Sample
	done    chan struct{}
	once    sync.Once

	mu    sync.Mutex
	state StreamState
	since time.Time
	err   error
}

func newSubscription(deviceID string, buffer int, now time.Time) *Subscription {
	metrics.AddSubscriptions(string(StateConnecting), 1)
	return &Subscription{
		DeviceID: deviceID,
		samples:  make(chan telemetry.Sample, buffer),
		done:     make(chan struct{}),
		state:    StateConnecting,
		since:    now,
	}
}

// Samples returns the sample channel.
func (s *Subscription) Samples() <-chan telemetry.Sample { return s.samples }

// Done is closed once the subscription reaches StateClosed.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// State returns the current state.
func (s *Subscription) State() StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error that closed the subscription, if any.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) setState(state StreamState, now time.Time) {
	s.mu.Lock()
	prev := s.state
	if prev == StateClosed || prev == state {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.since = now
	s.mu.Unlock()
	metrics.AddSubscriptions(string(prev), -1)
	metrics.AddSubscriptions(string(state), 1)
}

func (s *Subscription) finish(err error, now time.Time) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		s.setState(StateClosed, now)
		close(s.done)
	})
}

// SubscriptionStatus is a point-in-time view of a subscription.
type SubscriptionStatus struct {
	DeviceID string      `json:"deviceId"`
	State    StreamState `json:"state"`
	Since    time.Time   `json:"since"`
	Error    string      `json:"error,omitempty"`
}

// StreamManager keeps at most one streaming subscription per device for the
// lifetime of the process. Closed streams are not reconnected.
type StreamManager struct {
	wsURL  string
	tokens TokenSource
	dialer *websocket.Dialer
	buffer int
	logger *zap.Logger
	now    func() time.Time

	mu   sync.Mutex
	subs map[string]*Subscription
	wg   sync.WaitGroup
}

// StreamOption configures the stream manager.
type StreamOption func(*StreamManager)

// WithStreamLogger assigns a logger.
func WithStreamLogger(logger *zap.Logger) StreamOption {
	return func(m *StreamManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithHandshakeTimeout bounds the websocket handshake. Zero leaves it unbounded.
func WithHandshakeTimeout(timeout time.Duration) StreamOption {
	return func(m *StreamManager) {
		if timeout > 0 {
			m.dialer.HandshakeTimeout = timeout
		}
	}
}

// WithBufferSize sets the per-subscription sample buffer.
func WithBufferSize(size int) StreamOption {
	return func(m *StreamManager) {
		if size > 0 {
			m.buffer = size
		}
	}
}

// NewStreamManager builds a manager for the platform at baseURL.
func NewStreamManager(baseURL string, tokens TokenSource, opts ...StreamOption) (*StreamManager, error) {
	if tokens == nil {
		return nil, errors.New("tbadapter: nil token source")
	}
	wsURL, err := streamURL(baseURL)
	if err != nil {
		return nil, err
	}
	m := &StreamManager{
		wsURL:  wsURL,
		tokens: tokens,
		dialer: &websocket.Dialer{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		buffer: defaultStreamBuffer,
		logger: zap.NewNop(),
		now:    time.Now,
		subs:   make(map[string]*Subscription),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func streamURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("tbadapter: parse base url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("tbadapter: unsupported base url scheme %q", u.Scheme)
	}
	u.Path += "/api/ws/plugins/telemetry"
	u.RawQuery = ""
	return u.String(), nil
}

// Subscribe opens the device's stream and sends the latest-telemetry
// subscription command. A device is accepted once; later calls fail with
// ErrAlreadySubscribed even if the first attempt failed or has closed.
// Cancelling ctx closes the stream.
func (m *StreamManager) Subscribe(ctx context.Context, deviceID string) (*Subscription, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("%w: empty device id", ErrInvalidArgument)
	}
	m.mu.Lock()
	if _, ok := m.subs[deviceID]; ok {
		m.mu.Unlock()
		return nil, ErrAlreadySubscribed
	}
	sub := newSubscription(deviceID, m.buffer, m.now())
	m.subs[deviceID] = sub
	m.mu.Unlock()

	conn, err := m.open(ctx, deviceID)
	if err != nil {
		m.logger.Error("stream subscribe failed", zap.String("device_id", deviceID), zap.Error(err))
		sub.finish(err, m.now())
		close(sub.samples)
		return nil, err
	}
	sub.setState(StateOpen, m.now())
	m.logger.Info("stream subscribed", zap.String("device_id", deviceID))

	m.wg.Add(1)
	go m.read(ctx, sub, conn)
	return sub, nil
}

// Listen subscribes the device and dispatches each sample to handler on a
// dedicated goroutine. A panicking handler is logged and the next sample is
// still delivered.
func (m *StreamManager) Listen(ctx context.Context, deviceID string, handler SampleHandler) error {
	if handler == nil {
		return errors.New("tbadapter: nil sample handler")
	}
	sub, err := m.Subscribe(ctx, deviceID)
	if err != nil {
		return err
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for sample := range sub.Samples() {
			m.dispatch(ctx, sub.DeviceID, handler, sample)
		}
	}()
	return nil
}

// Subscribed reports whether the device has ever been subscribed.
func (m *StreamManager) Subscribed(deviceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.subs[deviceID]
	return ok
}

// Snapshot lists every subscription sorted by device id.
func (m *StreamManager) Snapshot() []SubscriptionStatus {
	m.mu.Lock()
	subs := make([]*Subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		subs = append(subs, sub)
	}
	m.mu.Unlock()

	out := make([]SubscriptionStatus, 0, len(subs))
	for _, sub := range subs {
		sub.mu.Lock()
		status := SubscriptionStatus{DeviceID: sub.DeviceID, State: sub.state, Since: sub.since}
		if sub.err != nil {
			status.Error = sub.err.Error()
		}
		sub.mu.Unlock()
		out = append(out, status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

// Wait blocks until every reader and dispatcher goroutine has returned.
func (m *StreamManager) Wait() {
	m.wg.Wait()
}

func (m *StreamManager) open(ctx context.Context, deviceID string) (*websocket.Conn, error) {
	token, err := m.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	conn, _, err := m.dialer.DialContext(ctx, m.wsURL+"?token="+url.QueryEscape(token), nil)
	if err != nil {
		return nil, fmt.Errorf("tbadapter: dial stream: %w", err)
	}
	if err := conn.WriteJSON(latestTelemetryCommand(deviceID)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("tbadapter: send subscription: %w", err)
	}
	return conn, nil
}

func (m *StreamManager) read(ctx context.Context, sub *Subscription, conn *websocket.Conn) {
	defer m.wg.Done()
	defer close(sub.samples)
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	logger := m.logger.With(zap.String("device_id", sub.DeviceID))
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			m.closed(ctx, sub, logger, err)
			return
		}
		samples, err := ParseFrame(payload)
		if err != nil {
			metrics.IncFrame(metrics.FrameMalformed)
			var frameErr *FrameError
			if errors.As(err, &frameErr) {
				logger.Warn("stream error frame", zap.Int("code", frameErr.Code), zap.String("message", frameErr.Message))
			} else {
				logger.Error("stream frame parse failed", zap.Error(err))
			}
			continue
		}
		if len(samples) == 0 {
			metrics.IncFrame(metrics.FrameIgnored)
			continue
		}
		metrics.IncFrame(metrics.ResultSuccess)
		for _, sample := range samples {
			select {
			case sub.samples <- sample:
			case <-ctx.Done():
				m.closed(ctx, sub, logger, ctx.Err())
				return
			}
		}
	}
}

func (m *StreamManager) closed(ctx context.Context, sub *Subscription, logger *zap.Logger, err error) {
	switch {
	case ctx.Err() != nil:
		err = ctx.Err()
		logger.Info("stream closed on shutdown")
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		logger.Warn("stream closed by remote", zap.Error(err))
	default:
		logger.Error("stream failed", zap.Error(err))
	}
	sub.finish(err, m.now())
}

func (m *StreamManager) dispatch(ctx context.Context, deviceID string, handler SampleHandler, sample telemetry.Sample) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("sample handler panicked",
				zap.String("device_id", deviceID),
				zap.String("key", sample.Key),
				zap.Any("panic", r),
			)
		}
	}()
	handler(ctx, deviceID, sample)
}
