package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Dipeshbist/Yeti-Server/internal/auth"
	"github.com/Dipeshbist/Yeti-Server/internal/tbadapter"
	telemetry "github.com/Dipeshbist/Yeti-Server/internal/telemetry/domain"
)

const (
	// DefaultHistoryHours is the history window when none is given.
	DefaultHistoryHours = 24

	noKeysNote          = "no telemetry keys available for this device"
	completeUnavailable = "complete device data unavailable"
	attributesFailed    = "device attributes unavailable"
)

// Upstream is the slice of the platform client used by telemetry views.
type Upstream interface {
	DeviceInfo(ctx context.Context, deviceID string) (tbadapter.DeviceInfo, error)
	DeviceAttributes(ctx context.Context, deviceID string, scope telemetry.Scope) ([]telemetry.Attribute, error)
	AttributeKeys(ctx context.Context, deviceID string) ([]string, error)
	TelemetryKeys(ctx context.Context, deviceID string) ([]string, error)
	LatestTelemetry(ctx context.Context, deviceID string, keys []string) (map[string]*telemetry.Sample, error)
	LatestValues(ctx context.Context, deviceID string, keys []string) (map[string]telemetry.Sample, error)
	Timeseries(ctx context.Context, deviceID string, keys []string, startTS, endTS int64, limit int) (telemetry.Series, error)
	HistoricalTelemetry(ctx context.Context, deviceID string, keys []string, startTS, endTS int64, limit int) tbadapter.HistoricalResult
	LiveTelemetry(ctx context.Context, deviceID string, keys []string, window time.Duration) (tbadapter.LiveResult, error)
}

// ErrAccessDenied is returned when the caller may not read the device.
var ErrAccessDenied = errors.New("telemetry: access denied to this device")

// Service composes upstream telemetry into dashboard views.
type Service struct {
	upstream Upstream
	logger   *zap.Logger
	now      func() time.Time
}

// Option customizes the service.
type Option func(*Service)

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs a telemetry service.
func NewService(upstream Upstream, opts ...Option) (*Service, error) {
	if upstream == nil {
		return nil, errors.New("telemetry: nil upstream")
	}
	s := &Service{upstream: upstream, logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// AuthorizeDevice loads the device and checks that the caller owns it.
// Admins may read any device.
func (s *Service) AuthorizeDevice(ctx context.Context, deviceID string) (tbadapter.DeviceInfo, error) {
	if s == nil {
		return tbadapter.DeviceInfo{}, errors.New("telemetry: nil service")
	}
	info, err := s.upstream.DeviceInfo(ctx, deviceID)
	if err != nil {
		return tbadapter.DeviceInfo{}, err
	}
	if err := auth.EnsureCustomer(ctx, info.CustomerRef()); err != nil {
		return tbadapter.DeviceInfo{}, fmt.Errorf("%w: %w", ErrAccessDenied, err)
	}
	return info, nil
}

// ParseKeys splits a comma separated key list, dropping blanks.
func ParseKeys(raw string) []string {
	out := []string{}
	for _, key := range strings.Split(raw, ",") {
		if key = strings.TrimSpace(key); key != "" {
			out = append(out, key)
		}
	}
	return out
}

// resolveKeys returns explicit keys or, when none were given, every key the
// device has reported. Discovery failures yield no keys.
func (s *Service) resolveKeys(ctx context.Context, deviceID string, keys []string) []string {
	if len(keys) > 0 {
		return keys
	}
	discovered, err := s.upstream.TelemetryKeys(ctx, deviceID)
	if err != nil {
		s.logger.Warn("telemetry key discovery failed", zap.String("device_id", deviceID), zap.Error(err))
		return []string{}
	}
	return ParseKeys(strings.Join(discovered, ","))
}

// LatestView is the newest sample per requested key.
type LatestView map[string]*telemetry.Sample

// Latest returns the newest sample per key.
func (s *Service) Latest(ctx context.Context, deviceID string, keys []string) (LatestView, error) {
	latest, err := s.upstream.LatestTelemetry(ctx, deviceID, keys)
	if err != nil {
		return nil, err
	}
	return LatestView(latest), nil
}

// Timeseries returns raw samples in a time range.
func (s *Service) Timeseries(ctx context.Context, deviceID string, keys []string, startTS, endTS int64, limit int) (telemetry.Series, error) {
	return s.upstream.Timeseries(ctx, deviceID, keys, startTS, endTS, limit)
}

// RealtimeView is the online-gated latest telemetry of a device.
type RealtimeView struct {
	DeviceID   string                      `json:"deviceId"`
	Timestamp  int64                       `json:"timestamp"`
	Online     bool                        `json:"online"`
	Telemetry  map[string]telemetry.Sample `json:"telemetry"`
	Attributes []telemetry.Attribute       `json:"attributes"`
	Keys       []string                    `json:"keys"`
	Customer   string                      `json:"customer,omitempty"`
}

// Realtime returns latest values only when the device is online; offline
// devices get empty telemetry without a telemetry query.
func (s *Service) Realtime(ctx context.Context, deviceID string, keys []string) (RealtimeView, error) {
	view := RealtimeView{
		DeviceID:   deviceID,
		Telemetry:  map[string]telemetry.Sample{},
		Attributes: []telemetry.Attribute{},
		Keys:       []string{},
		Customer:   auth.CustomerIDFromContext(ctx),
	}
	attrs, err := s.upstream.DeviceAttributes(ctx, deviceID, telemetry.ScopeServer)
	if err != nil {
		return view, err
	}
	if attrs != nil {
		view.Attributes = attrs
	}
	now := s.now()
	view.Timestamp = now.UnixMilli()
	if !telemetry.IsOnline(attrs, now) {
		return view, nil
	}
	view.Online = true
	view.Keys = s.resolveKeys(ctx, deviceID, keys)
	if len(view.Keys) == 0 {
		return view, nil
	}
	values, err := s.upstream.LatestValues(ctx, deviceID, view.Keys)
	if err != nil {
		return view, err
	}
	view.Telemetry = values
	view.Timestamp = s.now().UnixMilli()
	return view, nil
}

// TimeRange is an inclusive history window.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Hours int       `json:"hours"`
}

// HistoryView is a history query result. Error is set when the upstream call
// failed and Data is then empty.
type HistoryView struct {
	DeviceID    string           `json:"deviceId"`
	TimeRange   TimeRange        `json:"timeRange"`
	Data        telemetry.Series `json:"data"`
	TotalPoints int              `json:"totalPoints"`
	Keys        []string         `json:"keys"`
	Customer    string           `json:"customer,omitempty"`
	Note        string           `json:"note,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// History returns the last hours of telemetry. It never fails: missing keys
// and upstream errors produce annotated empty views.
func (s *Service) History(ctx context.Context, deviceID string, keys []string, hours, limit int) HistoryView {
	if hours <= 0 {
		hours = DefaultHistoryHours
	}
	if limit <= 0 {
		limit = tbadapter.DefaultHistoryLimit
	}
	end := s.now()
	start := end.Add(-time.Duration(hours) * time.Hour)
	view := HistoryView{
		DeviceID:  deviceID,
		TimeRange: TimeRange{Start: start.UTC(), End: end.UTC(), Hours: hours},
		Data:      telemetry.Series{},
		Keys:      s.resolveKeys(ctx, deviceID, keys),
		Customer:  auth.CustomerIDFromContext(ctx),
	}
	if len(view.Keys) == 0 {
		view.Note = noKeysNote
		return view
	}
	result := s.upstream.HistoricalTelemetry(ctx, deviceID, view.Keys, start.UnixMilli(), end.UnixMilli(), limit)
	if result.Error != "" {
		view.Error = result.Error
		return view
	}
	view.Data = result.Series
	view.TotalPoints = result.Series.Points()
	return view
}

// CompleteView bundles device metadata, telemetry and attributes.
type CompleteView struct {
	Device     *tbadapter.DeviceInfo `json:"device"`
	Telemetry  CompleteTelemetry     `json:"telemetry"`
	Attributes CompleteAttributes    `json:"attributes"`
	Timestamp  time.Time             `json:"timestamp"`
	Error      string                `json:"error,omitempty"`
}

// CompleteTelemetry lists telemetry keys with their latest values.
type CompleteTelemetry struct {
	Keys   []string                    `json:"keys"`
	Latest map[string]telemetry.Sample `json:"latest"`
}

// CompleteAttributes lists attribute keys with client-scope values.
type CompleteAttributes struct {
	Keys    []string              `json:"keys"`
	Current []telemetry.Attribute `json:"current"`
}

// Complete gathers everything known about a device. Any upstream failure
// degrades to an empty annotated view.
func (s *Service) Complete(ctx context.Context, deviceID string) CompleteView {
	empty := CompleteView{
		Telemetry:  CompleteTelemetry{Keys: []string{}, Latest: map[string]telemetry.Sample{}},
		Attributes: CompleteAttributes{Keys: []string{}, Current: []telemetry.Attribute{}},
		Timestamp:  s.now().UTC(),
	}

	var (
		wg            sync.WaitGroup
		info          tbadapter.DeviceInfo
		telemetryKeys []string
		attributeKeys []string
		errs          [3]error
	)
	wg.Add(3)
	go func() {
		defer wg.Done()
		info, errs[0] = s.upstream.DeviceInfo(ctx, deviceID)
	}()
	go func() {
		defer wg.Done()
		telemetryKeys, errs[1] = s.upstream.TelemetryKeys(ctx, deviceID)
	}()
	go func() {
		defer wg.Done()
		attributeKeys, errs[2] = s.upstream.AttributeKeys(ctx, deviceID)
	}()
	wg.Wait()
	if err := errors.Join(errs[:]...); err != nil {
		return s.degradedComplete(empty, deviceID, err)
	}

	var (
		latest    = map[string]telemetry.Sample{}
		attrs     []telemetry.Attribute
		latestErr error
		attrsErr  error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		if len(telemetryKeys) > 0 {
			latest, latestErr = s.upstream.LatestValues(ctx, deviceID, telemetryKeys)
		}
	}()
	go func() {
		defer wg.Done()
		attrs, attrsErr = s.upstream.DeviceAttributes(ctx, deviceID, telemetry.ScopeClient)
	}()
	wg.Wait()
	if err := errors.Join(latestErr, attrsErr); err != nil {
		return s.degradedComplete(empty, deviceID, err)
	}

	if telemetryKeys == nil {
		telemetryKeys = []string{}
	}
	if attributeKeys == nil {
		attributeKeys = []string{}
	}
	if attrs == nil {
		attrs = []telemetry.Attribute{}
	}
	return CompleteView{
		Device:     &info,
		Telemetry:  CompleteTelemetry{Keys: telemetryKeys, Latest: latest},
		Attributes: CompleteAttributes{Keys: attributeKeys, Current: attrs},
		Timestamp:  s.now().UTC(),
	}
}

func (s *Service) degradedComplete(view CompleteView, deviceID string, err error) CompleteView {
	s.logger.Warn("complete device data failed", zap.String("device_id", deviceID), zap.Error(err))
	view.Error = completeUnavailable
	return view
}

// LiveView is a live polling result.
type LiveView struct {
	DeviceID      string                         `json:"deviceId"`
	Data          map[string]telemetry.LiveValue `json:"data"`
	Timestamp     int64                          `json:"timestamp"`
	MaxAgeSeconds int                            `json:"maxAgeSeconds"`
	DataCount     int                            `json:"dataCount"`
	Keys          []string                       `json:"keys"`
	Online        bool                           `json:"online"`
	IsLive        bool                           `json:"isLive"`
}

// Live returns samples younger than maxAge for an online device.
func (s *Service) Live(ctx context.Context, deviceID string, keys []string, maxAge time.Duration) (LiveView, error) {
	if maxAge <= 0 {
		maxAge = telemetry.DefaultFreshnessWindow
	}
	view := LiveView{
		DeviceID:      deviceID,
		Data:          map[string]telemetry.LiveValue{},
		MaxAgeSeconds: int(maxAge / time.Second),
		Keys:          s.resolveKeys(ctx, deviceID, keys),
	}
	if len(view.Keys) == 0 {
		view.Timestamp = s.now().UnixMilli()
		return view, nil
	}
	result, err := s.upstream.LiveTelemetry(ctx, deviceID, view.Keys, maxAge)
	if err != nil {
		return view, err
	}
	view.Data = result.Values
	view.Online = result.Online
	view.DataCount = len(result.Values)
	view.IsLive = telemetry.AnyLive(result.Values)
	view.Timestamp = s.now().UnixMilli()
	return view, nil
}

// AttributesView is one attribute scope of a device.
type AttributesView struct {
	DeviceID   string                `json:"deviceId"`
	Scope      telemetry.Scope       `json:"scope"`
	Attributes []telemetry.Attribute `json:"attributes"`
	Timestamp  int64                 `json:"timestamp"`
	Customer   string                `json:"customer,omitempty"`
	Error      string                `json:"error,omitempty"`
}

// Attributes reads one scope and degrades to an annotated empty view.
func (s *Service) Attributes(ctx context.Context, deviceID string, scope telemetry.Scope) AttributesView {
	view := AttributesView{
		DeviceID:   deviceID,
		Scope:      scope,
		Attributes: []telemetry.Attribute{},
		Customer:   auth.CustomerIDFromContext(ctx),
	}
	attrs, err := s.upstream.DeviceAttributes(ctx, deviceID, scope)
	view.Timestamp = s.now().UnixMilli()
	if err != nil {
		s.logger.Warn("device attributes failed", zap.String("device_id", deviceID), zap.String("scope", string(scope)), zap.Error(err))
		view.Error = attributesFailed
		return view
	}
	if attrs != nil {
		view.Attributes = attrs
	}
	return view
}
