package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sender delivers one alert to one recipient.
type Sender interface {
	NotifyTemperatureAlert(ctx context.Context, alert TemperatureAlert) error
}

// CooldownStore remembers recently sent notifications.
type CooldownStore interface {
	// Acquire reserves key for window and reports whether the caller may send.
	Acquire(ctx context.Context, key string, window time.Duration) (bool, error)
	// Release drops a reservation after a failed send.
	Release(ctx context.Context, key string) error
}

// Clock provides time for cooldown bookkeeping.
type Clock interface {
	Now() time.Time
}

// Notifier suppresses repeat alerts for the same device, key and recipient
// within a cooldown window. A zero window forwards every alert.
type Notifier struct {
	sender   Sender
	store    CooldownStore
	cooldown time.Duration
	logger   *zap.Logger
}

// Option configures the notifier.
type Option func(*Notifier)

// WithCooldown sets a minimum interval between notifications for the same recipient and device key.
func WithCooldown(interval time.Duration) Option {
	return func(n *Notifier) {
		if interval > 0 {
			n.cooldown = interval
		}
	}
}

// WithCooldownStore replaces the in-memory store.
func WithCooldownStore(store CooldownStore) Option {
	return func(n *Notifier) {
		if store != nil {
			n.store = store
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(n *Notifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// NewNotifier wraps sender with cooldown handling.
func NewNotifier(sender Sender, opts ...Option) (*Notifier, error) {
	if sender == nil {
		return nil, errors.New("alert notifier: nil sender")
	}
	n := &Notifier{
		sender: sender,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.store == nil {
		n.store = NewMemoryCooldown(nil)
	}
	return n, nil
}

// NotifyTemperatureAlert forwards alert unless it is still cooling down.
func (n *Notifier) NotifyTemperatureAlert(ctx context.Context, alert TemperatureAlert) error {
	if n == nil || n.sender == nil {
		return errors.New("alert notifier: nil")
	}
	if n.cooldown <= 0 {
		return n.sender.NotifyTemperatureAlert(ctx, alert)
	}
	key := notificationKey(alert)
	ok, err := n.store.Acquire(ctx, key, n.cooldown)
	if err != nil {
		// An unavailable store must not silence alerts.
		n.logger.Warn("cooldown store unavailable", zap.String("key", key), zap.Error(err))
		return n.sender.NotifyTemperatureAlert(ctx, alert)
	}
	if !ok {
		n.logger.Debug("alert suppressed by cooldown", zap.String("key", key))
		return nil
	}
	if err := n.sender.NotifyTemperatureAlert(ctx, alert); err != nil {
		if releaseErr := n.store.Release(ctx, key); releaseErr != nil {
			n.logger.Warn("cooldown release failed", zap.String("key", key), zap.Error(releaseErr))
		}
		return err
	}
	return nil
}

func notificationKey(alert TemperatureAlert) string {
	return strings.Join([]string{alert.DeviceID, alert.Key, strings.ToLower(alert.Email)}, "|")
}

// MemoryCooldown is a process-local CooldownStore.
type MemoryCooldown struct {
	clock Clock
	mu    sync.Mutex
	until map[string]time.Time
}

// NewMemoryCooldown constructs an in-memory store. A nil clock uses wall time.
func NewMemoryCooldown(clock Clock) *MemoryCooldown {
	if clock == nil {
		clock = systemClock{}
	}
	return &MemoryCooldown{clock: clock, until: make(map[string]time.Time)}
}

// Acquire implements CooldownStore.
func (m *MemoryCooldown) Acquire(_ context.Context, key string, window time.Duration) (bool, error) {
	now := m.clock.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	if until, ok := m.until[key]; ok && now.Before(until) {
		return false, nil
	}
	m.until[key] = now.Add(window)
	m.evict(now)
	return true, nil
}

// Release implements CooldownStore.
func (m *MemoryCooldown) Release(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.until, key)
	m.mu.Unlock()
	return nil
}

// evict drops expired entries; callers hold mu.
func (m *MemoryCooldown) evict(now time.Time) {
	for key, until := range m.until {
		if !now.Before(until) {
			delete(m.until, key)
		}
	}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
