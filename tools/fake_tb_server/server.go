package main

import (
	"encoding/json"
	"math/rand"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Dipeshbist/Yeti-Server/internal/logging"
	"github.com/Dipeshbist/Yeti-Server/internal/tbadapter"
)

const (
	tokenTTL         = time.Hour
	defaultCustomer  = "cust-1"
	temperatureKey   = "temperature"
	humidityKey      = "humidity"
	defaultSeriesLen = 10
)

type fakeDevice struct {
	info tbadapter.DeviceInfo
	temp float64
	hum  float64
	ts   int64
}

type fakeTBServer struct {
	start    time.Time
	latency  time.Duration
	interval time.Duration
	hotRate  float64
	secret   []byte
	logger   *zap.Logger

	mu         sync.Mutex
	devices    map[string]*fakeDevice
	order      []string
	rng        *rand.Rand
	byPath     map[string]int64
	totalCalls int64
	streams    int64

	upgrader websocket.Upgrader
}

type serverConfig struct {
	Devices  int
	Latency  time.Duration
	Interval time.Duration
	HotRate  float64
	Seed     int64
}

func newFakeTBServer(cfg serverConfig, logger *zap.Logger) *fakeTBServer {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	s := &fakeTBServer{
		start:    time.Now().UTC(),
		latency:  cfg.Latency,
		interval: cfg.Interval,
		hotRate:  cfg.HotRate,
		secret:   []byte(uuid.NewString()),
		logger:   logging.OrNop(logger),
		devices:  make(map[string]*fakeDevice),
		rng:      rand.New(rand.NewSource(seed)),
		byPath:   make(map[string]int64),
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
	now := time.Now().UnixMilli()
	for i := 0; i < cfg.Devices; i++ {
		s.addDevice(i, now)
	}
	return s
}

// addDevice assigns every third device to no customer so unassigned paths
// are exercised.
func (s *fakeTBServer) addDevice(i int, now int64) {
	id := uuid.NewString()
	customer := defaultCustomer
	if i%3 == 2 {
		customer = tbadapter.NullCustomerID
	}
	active := true
	info := tbadapter.DeviceInfo{
		ID:          tbadapter.EntityID{EntityType: "DEVICE", ID: id},
		CreatedTime: now,
		Name:        "sensor-" + strconv.Itoa(i+1),
		Type:        "thermometer",
		CustomerID:  &tbadapter.EntityID{EntityType: "CUSTOMER", ID: customer},
		Active:      &active,
	}
	s.devices[id] = &fakeDevice{info: info, temp: 20 + s.rng.Float64()*10, hum: 40 + s.rng.Float64()*20, ts: now}
	s.order = append(s.order, id)
}

func (s *fakeTBServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("GET /api/tenant/deviceInfos", s.authorized(s.handleDeviceInfos))
	mux.HandleFunc("GET /api/customer/{customerId}/deviceInfos", s.authorized(s.handleDeviceInfos))
	mux.HandleFunc("GET /api/device/info/{deviceId}", s.authorized(s.handleDeviceInfo))
	mux.HandleFunc("GET /api/plugins/telemetry/DEVICE/{deviceId}/keys/timeseries", s.authorized(s.handleKeys))
	mux.HandleFunc("GET /api/plugins/telemetry/DEVICE/{deviceId}/values/timeseries", s.authorized(s.handleTimeseries))
	mux.HandleFunc("GET /api/plugins/telemetry/DEVICE/{deviceId}/values/attributes/{scope}", s.authorized(s.handleAttributes))
	mux.HandleFunc("GET /api/ws/plugins/telemetry", s.handleStream)
	return mux
}

func (s *fakeTBServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *fakeTBServer) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	byPath := make(map[string]int64, len(s.byPath))
	for k, v := range s.byPath {
		byPath[k] = v
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"started_at": s.start.Format(time.RFC3339),
		"total":      atomic.LoadInt64(&s.totalCalls),
		"streams":    atomic.LoadInt64(&s.streams),
		"by_path":    byPath,
	})
}

func (s *fakeTBServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Username == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"status": 401, "message": "Authentication failed"})
		return
	}
	token, err := s.issueToken(body.Username)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"message": err.Error()})
		return
	}
	s.logger.Info("login", zap.String("username", body.Username))
	writeJSON(w, http.StatusOK, map[string]string{"token": token, "refreshToken": uuid.NewString()})
}

func (s *fakeTBServer) issueToken(subject string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		Issuer:    "fake-tb",
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *fakeTBServer) validToken(raw string) bool {
	raw = strings.TrimSpace(strings.TrimPrefix(raw, "Bearer "))
	if raw == "" {
		return false
	}
	_, err := jwt.Parse(raw, func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	return err == nil
}

func (s *fakeTBServer) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.recordCall(r.Pattern)
		if s.latency > 0 {
			time.Sleep(s.latency)
		}
		if !s.validToken(r.Header.Get("X-Authorization")) {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"status": 401, "message": "Token has expired", "errorCode": 11})
			return
		}
		next(w, r)
	}
}

func (s *fakeTBServer) handleDeviceInfos(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))
	if pageSize <= 0 {
		pageSize = tbadapter.DefaultPageSize
	}
	customerID := r.PathValue("customerId")

	s.mu.Lock()
	all := make([]tbadapter.DeviceInfo, 0, len(s.order))
	for _, id := range s.order {
		info := s.devices[id].info
		if customerID != "" && !info.BelongsTo(customerID) {
			continue
		}
		all = append(all, info)
	}
	s.mu.Unlock()

	start := page * pageSize
	if start > len(all) {
		start = len(all)
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	totalPages := (len(all) + pageSize - 1) / pageSize
	writeJSON(w, http.StatusOK, tbadapter.PageData[tbadapter.DeviceInfo]{
		Data:          all[start:end],
		TotalPages:    totalPages,
		TotalElements: int64(len(all)),
		HasNext:       end < len(all),
	})
}

func (s *fakeTBServer) handleDeviceInfo(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	dev, ok := s.devices[r.PathValue("deviceId")]
	var info tbadapter.DeviceInfo
	if ok {
		info = dev.info
	}
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"status": 404, "message": "Requested item wasn't found!"})
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *fakeTBServer) handleKeys(w http.ResponseWriter, r *http.Request) {
	if !s.exists(r.PathValue("deviceId")) {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, []string{temperatureKey, humidityKey})
}

type seriesPoint struct {
	TS    int64  `json:"ts"`
	Value string `json:"value"`
}

// handleTimeseries returns the latest point per key, or up to limit synthetic
// points between startTs and endTs when a range is requested.
func (s *fakeTBServer) handleTimeseries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	keys := splitKeys(q.Get("keys"))
	if len(keys) == 0 {
		keys = []string{temperatureKey, humidityKey}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	dev, ok := s.devices[r.PathValue("deviceId")]
	if !ok {
		http.NotFound(w, r)
		return
	}

	startTS, _ := strconv.ParseInt(q.Get("startTs"), 10, 64)
	endTS, _ := strconv.ParseInt(q.Get("endTs"), 10, 64)
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit <= 0 {
		limit = defaultSeriesLen
	}

	out := make(map[string][]seriesPoint, len(keys))
	for _, key := range keys {
		base, known := dev.value(key)
		if !known {
			continue
		}
		if startTS == 0 || endTS <= startTS {
			out[key] = []seriesPoint{{TS: dev.ts, Value: formatValue(base)}}
			continue
		}
		step := (endTS - startTS) / int64(limit)
		if step <= 0 {
			step = 1
		}
		points := make([]seriesPoint, 0, limit)
		for ts := endTS; ts > startTS && len(points) < limit; ts -= step {
			points = append(points, seriesPoint{TS: ts, Value: formatValue(base + s.rng.Float64() - 0.5)})
		}
		out[key] = points
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *fakeTBServer) handleAttributes(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	dev, ok := s.devices[r.PathValue("deviceId")]
	var lastActivity int64
	if ok {
		lastActivity = dev.ts
	}
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	attrs := []map[string]any{}
	if r.PathValue("scope") == "SERVER_SCOPE" {
		attrs = append(attrs,
			map[string]any{"key": "lastActivityTime", "lastUpdateTs": lastActivity, "value": lastActivity},
			map[string]any{"key": "active", "lastUpdateTs": lastActivity, "value": true},
		)
	}
	writeJSON(w, http.StatusOK, attrs)
}

type streamCommand struct {
	TsSubCmds []struct {
		EntityID string `json:"entityId"`
		CmdID    int    `json:"cmdId"`
	} `json:"tsSubCmds"`
}

// handleStream pushes one latest-telemetry frame per interval for the
// subscribed device until the client disconnects.
func (s *fakeTBServer) handleStream(w http.ResponseWriter, r *http.Request) {
	s.recordCall(r.Pattern)
	if !s.validToken(r.URL.Query().Get("token")) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("stream upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	var cmd streamCommand
	if err := conn.ReadJSON(&cmd); err != nil || len(cmd.TsSubCmds) == 0 {
		_ = conn.WriteJSON(map[string]any{"subscriptionId": 0, "errorCode": 1, "errorMsg": "bad subscription command"})
		return
	}
	sub := cmd.TsSubCmds[0]
	if !s.exists(sub.EntityID) {
		_ = conn.WriteJSON(map[string]any{"subscriptionId": sub.CmdID, "errorCode": 2, "errorMsg": "device not found"})
		return
	}
	atomic.AddInt64(&s.streams, 1)
	defer atomic.AddInt64(&s.streams, -1)
	logger := s.logger.With(zap.String("device_id", sub.EntityID))
	logger.Info("stream opened")

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			logger.Info("stream closed")
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
			frame := s.tick(sub.EntityID, sub.CmdID)
			if err := conn.WriteJSON(frame); err != nil {
				logger.Warn("stream write failed", zap.Error(err))
				return
			}
		}
	}
}

// tick advances the device's random walk and renders a frame. With hotRate
// probability the temperature jumps above the default alert threshold.
func (s *fakeTBServer) tick(deviceID string, cmdID int) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	dev := s.devices[deviceID]
	dev.ts = time.Now().UnixMilli()
	dev.temp += s.rng.Float64() - 0.5
	if s.hotRate > 0 && s.rng.Float64() < s.hotRate {
		dev.temp = 85 + s.rng.Float64()*10
	} else if dev.temp > 60 {
		dev.temp = 25
	}
	dev.hum += s.rng.Float64() - 0.5
	return map[string]any{
		"subscriptionId": cmdID,
		"errorCode":      0,
		"errorMsg":       nil,
		"data": map[string][][2]any{
			temperatureKey: {{dev.ts, formatValue(dev.temp)}},
			humidityKey:    {{dev.ts, formatValue(dev.hum)}},
		},
	}
}

func (d *fakeDevice) value(key string) (float64, bool) {
	switch key {
	case temperatureKey:
		return d.temp, true
	case humidityKey:
		return d.hum, true
	}
	return 0, false
}

func (s *fakeTBServer) exists(deviceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.devices[deviceID]
	return ok
}

func (s *fakeTBServer) deviceIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := append([]string(nil), s.order...)
	sort.Strings(ids)
	return ids
}

func (s *fakeTBServer) recordCall(path string) {
	atomic.AddInt64(&s.totalCalls, 1)
	s.mu.Lock()
	s.byPath[path]++
	s.mu.Unlock()
}

func splitKeys(raw string) []string {
	var keys []string
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
