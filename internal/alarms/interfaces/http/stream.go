package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"go.uber.org/zap"

	alarms "github.com/Dipeshbist/Yeti-Server/internal/alarms/domain"
	apihttp "github.com/Dipeshbist/Yeti-Server/internal/api/http"
	"github.com/Dipeshbist/Yeti-Server/internal/auth"
	"github.com/Dipeshbist/Yeti-Server/internal/logging"
)

const clientBuffer = 16

type client struct {
	customerID string
	all        bool
}

// SSEBroker fans out alerts to connected clients. Non-admin clients only
// receive alerts for their own customer.
type SSEBroker struct {
	mu      sync.Mutex
	clients map[chan []byte]client
}

// NewSSEBroker constructs a broker.
func NewSSEBroker() *SSEBroker {
	return &SSEBroker{clients: make(map[chan []byte]client)}
}

// Publish implements the alert publisher contract.
func (b *SSEBroker) Publish(_ context.Context, alert alarms.Alert) {
	if b == nil {
		return
	}
	payload, err := json.Marshal(alert)
	if err != nil {
		return
	}
	b.broadcast(alert.CustomerID, payload)
}

// Subscribe registers a client channel. all receives every customer's alerts.
func (b *SSEBroker) Subscribe(customerID string, all bool) chan []byte {
	if b == nil {
		return nil
	}
	ch := make(chan []byte, clientBuffer)
	b.mu.Lock()
	b.clients[ch] = client{customerID: customerID, all: all}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a client channel.
func (b *SSEBroker) Unsubscribe(ch chan []byte) {
	if b == nil || ch == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[ch]; !ok {
		return
	}
	delete(b.clients, ch)
	close(ch)
}

// Clients returns the number of connected clients.
func (b *SSEBroker) Clients() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// broadcast drops the payload for clients whose buffer is full. Sends happen
// under b.mu so Unsubscribe cannot close a channel mid-send.
func (b *SSEBroker) broadcast(customerID string, payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch, c := range b.clients {
		if !c.all && (customerID == "" || c.customerID != customerID) {
			continue
		}
		select {
		case ch <- payload:
		default:
		}
	}
}

// RuleSource exposes the active alert rule.
type RuleSource interface {
	Rule() alarms.Rule
}

// History lists recorded alerts.
type History interface {
	ListByCustomer(ctx context.Context, customerID string, limit int) ([]alarms.Alert, error)
}

// Handler serves alert endpoints.
type Handler struct {
	broker  *SSEBroker
	rules   RuleSource
	history History
	logger  *zap.Logger
}

// NewHandler constructs a handler. rules and history may be nil when alerts
// are disabled or no database is configured.
func NewHandler(broker *SSEBroker, rules RuleSource, history History, logger *zap.Logger) *Handler {
	return &Handler{broker: broker, rules: rules, history: history, logger: logging.OrNop(logger)}
}

// Register mounts the alert routes.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/alerts", h.list)
	mux.HandleFunc("GET /api/v1/alerts/stream", h.stream)
	mux.HandleFunc("GET /api/v1/alerts/rule", h.rule)
}

// list returns the caller's customer alerts; admins may pass customerId or
// omit it for every customer.
func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		apihttp.WriteError(w, http.StatusServiceUnavailable, "alert history not configured")
		return
	}
	limit, err := apihttp.QueryInt(r, "limit", 50)
	if err != nil {
		apihttp.RespondError(w, err)
		return
	}
	ctx := r.Context()
	customerID := auth.CustomerIDFromContext(ctx)
	if auth.IsAdmin(ctx) {
		customerID = r.URL.Query().Get("customerId")
	} else if customerID == "" {
		apihttp.WriteError(w, http.StatusForbidden, "no customer assigned")
		return
	}
	alerts, err := h.history.ListByCustomer(ctx, customerID, limit)
	if err != nil {
		h.logger.Warn("list alerts failed", zap.String("customer_id", customerID), zap.Error(err))
		apihttp.RespondError(w, err)
		return
	}
	if alerts == nil {
		alerts = []alarms.Alert{}
	}
	apihttp.WriteJSON(w, http.StatusOK, map[string]any{"count": len(alerts), "alerts": alerts})
}

func (h *Handler) rule(w http.ResponseWriter, _ *http.Request) {
	if h.rules == nil {
		apihttp.WriteJSON(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}
	rule := h.rules.Rule()
	apihttp.WriteJSON(w, http.StatusOK, map[string]any{
		"enabled":                true,
		"keyMatch":               rule.KeyMatch,
		"threshold":              rule.Threshold,
		"freshnessWindowSeconds": int(rule.FreshnessWindow.Seconds()),
	})
}

func (h *Handler) stream(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.broker == nil {
		apihttp.WriteError(w, http.StatusServiceUnavailable, "stream not ready")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		apihttp.WriteError(w, http.StatusInternalServerError, "stream unsupported")
		return
	}
	ctx := r.Context()
	admin := auth.IsAdmin(ctx)
	customerID := auth.CustomerIDFromContext(ctx)
	if !admin && customerID == "" {
		apihttp.WriteError(w, http.StatusForbidden, "no customer assigned")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := h.broker.Subscribe(customerID, admin)
	defer h.broker.Unsubscribe(ch)
	h.logger.Debug("alert stream opened", zap.String("customer_id", customerID), zap.Bool("admin", admin))

	_, _ = w.Write([]byte("event: ready\ndata: {}\n\n"))
	flusher.Flush()

	for {
		select {
		case payload, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write([]byte("event: alert\n"))
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}
