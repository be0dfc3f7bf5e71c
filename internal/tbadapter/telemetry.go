package tbadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	telemetry "github.com/Dipeshbist/Yeti-Server/internal/telemetry/domain"
)

// DefaultHistoryLimit bounds timeseries queries when the caller passes no limit.
const DefaultHistoryLimit = 1000

// HistoryUnavailable annotates a degraded historical result.
const HistoryUnavailable = "historical telemetry unavailable"

// HistoricalResult is a historical query outcome. Error is set, and Series
// left empty, when the upstream call failed.
type HistoricalResult struct {
	Series telemetry.Series `json:"series"`
	Error  string           `json:"error,omitempty"`
	Err    error            `json:"-"`
}

// LiveResult is a live poll outcome.
type LiveResult struct {
	Online       bool                           `json:"online"`
	LastActivity int64                          `json:"lastActivity,omitempty"`
	Values       map[string]telemetry.LiveValue `json:"values"`
}

type rawPoint struct {
	TS    json.RawMessage `json:"ts"`
	Value json.RawMessage `json:"value"`
}

type rawSeries map[string][]rawPoint

func (r rawSeries) series() telemetry.Series {
	out := make(telemetry.Series, len(r))
	for key, points := range r {
		samples := make([]telemetry.Sample, 0, len(points))
		for _, p := range points {
			ts, err := parseTimestamp(p.TS)
			if err != nil {
				continue
			}
			value, err := telemetry.CastJSON(p.Value)
			if err != nil {
				continue
			}
			samples = append(samples, telemetry.Sample{Key: key, TS: ts, Value: value})
		}
		out[key] = samples
	}
	return out
}

// parseTimestamp accepts numeric or quoted-numeric timestamps.
func parseTimestamp(raw json.RawMessage) (int64, error) {
	text := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if text == "" {
		return 0, errors.New("tbadapter: empty timestamp")
	}
	if ts, err := strconv.ParseInt(text, 10, 64); err == nil {
		return ts, nil
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, err
	}
	return int64(f), nil
}

func timeseriesPath(deviceID string) string {
	return "/api/plugins/telemetry/DEVICE/" + url.PathEscape(deviceID) + "/values/timeseries"
}

func (c *Client) fetchSeries(ctx context.Context, op, deviceID string, query url.Values) (telemetry.Series, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("%w: empty device id", ErrInvalidArgument)
	}
	query.Set("useStrictDataTypes", "true")
	var raw rawSeries
	if err := c.get(ctx, op, timeseriesPath(deviceID), query, &raw); err != nil {
		return nil, err
	}
	return raw.series(), nil
}

// LatestTelemetry returns the newest sample per requested key, nil for keys
// the device never reported. An empty key list returns without a request.
func (c *Client) LatestTelemetry(ctx context.Context, deviceID string, keys []string) (map[string]*telemetry.Sample, error) {
	out := make(map[string]*telemetry.Sample, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	series, err := c.fetchSeries(ctx, "latest_telemetry", deviceID, url.Values{
		"keys":  {strings.Join(keys, ",")},
		"limit": {"1"},
	})
	if err != nil {
		return nil, err
	}
	for _, key := range keys {
		samples := series[key]
		if len(samples) == 0 {
			out[key] = nil
			continue
		}
		s := samples[0]
		out[key] = &s
	}
	return out, nil
}

// LatestValues returns the newest sample for each key the device reported.
func (c *Client) LatestValues(ctx context.Context, deviceID string, keys []string) (map[string]telemetry.Sample, error) {
	out := map[string]telemetry.Sample{}
	if len(keys) == 0 {
		return out, nil
	}
	series, err := c.fetchSeries(ctx, "latest_values", deviceID, url.Values{"keys": {strings.Join(keys, ",")}})
	if err != nil {
		return nil, err
	}
	for key, samples := range series {
		if len(samples) > 0 {
			out[key] = samples[0]
		}
	}
	return out, nil
}

// Timeseries returns ordered samples per key in [startTS, endTS].
// An empty key list returns without a request.
func (c *Client) Timeseries(ctx context.Context, deviceID string, keys []string, startTS, endTS int64, limit int) (telemetry.Series, error) {
	if len(keys) == 0 {
		c.logger.Debug("skipping timeseries fetch with empty keys", zap.String("device_id", deviceID))
		return telemetry.Series{}, nil
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return c.fetchSeries(ctx, "timeseries", deviceID, url.Values{
		"keys":    {strings.Join(keys, ",")},
		"startTs": {strconv.FormatInt(startTS, 10)},
		"endTs":   {strconv.FormatInt(endTS, 10)},
		"limit":   {strconv.Itoa(limit)},
	})
}

// HistoricalTelemetry is Timeseries that degrades to an annotated empty result
// instead of failing.
func (c *Client) HistoricalTelemetry(ctx context.Context, deviceID string, keys []string, startTS, endTS int64, limit int) HistoricalResult {
	series, err := c.Timeseries(ctx, deviceID, keys, startTS, endTS, limit)
	if err != nil {
		c.logger.Warn("historical telemetry fetch failed",
			zap.String("device_id", deviceID),
			zap.Strings("keys", keys),
			zap.Error(err),
		)
		return HistoricalResult{Series: telemetry.Series{}, Error: HistoryUnavailable, Err: err}
	}
	return HistoricalResult{Series: series}
}

// DeviceAttributes reads the attribute set of one scope.
func (c *Client) DeviceAttributes(ctx context.Context, deviceID string, scope telemetry.Scope) ([]telemetry.Attribute, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("%w: empty device id", ErrInvalidArgument)
	}
	if scope == "" {
		scope = telemetry.ScopeClient
	}
	if _, err := telemetry.ParseScope(string(scope)); err != nil {
		return nil, err
	}
	path := "/api/plugins/telemetry/DEVICE/" + url.PathEscape(deviceID) + "/values/attributes/" + string(scope)
	var out []telemetry.Attribute
	if err := c.get(ctx, "device_attributes", path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AttributeKeys lists attribute keys across all scopes.
func (c *Client) AttributeKeys(ctx context.Context, deviceID string) ([]string, error) {
	return c.keys(ctx, "attribute_keys", deviceID, "attributes")
}

// TelemetryKeys lists every timeseries key the device has reported.
func (c *Client) TelemetryKeys(ctx context.Context, deviceID string) ([]string, error) {
	return c.keys(ctx, "telemetry_keys", deviceID, "timeseries")
}

func (c *Client) keys(ctx context.Context, op, deviceID, kind string) ([]string, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("%w: empty device id", ErrInvalidArgument)
	}
	out := []string{}
	err := c.get(ctx, op, "/api/plugins/telemetry/DEVICE/"+url.PathEscape(deviceID)+"/keys/"+kind, nil, &out)
	return out, err
}

// OnlineStatus reads lastActivityTime from the server scope.
func (c *Client) OnlineStatus(ctx context.Context, deviceID string) (bool, int64, error) {
	attrs, err := c.DeviceAttributes(ctx, deviceID, telemetry.ScopeServer)
	if err != nil {
		return false, 0, err
	}
	last, _ := telemetry.LastActivity(attrs)
	return telemetry.IsOnline(attrs, c.now()), last, nil
}

// LiveTelemetry returns samples within window for an online device. Offline
// devices return an empty result without querying telemetry.
func (c *Client) LiveTelemetry(ctx context.Context, deviceID string, keys []string, window time.Duration) (LiveResult, error) {
	result := LiveResult{Values: map[string]telemetry.LiveValue{}}
	if len(keys) == 0 {
		return result, nil
	}
	if window <= 0 {
		window = telemetry.DefaultFreshnessWindow
	}
	online, last, err := c.OnlineStatus(ctx, deviceID)
	if err != nil {
		return result, err
	}
	result.LastActivity = last
	if !online {
		c.logger.Debug("device offline, skipping live telemetry",
			zap.String("device_id", deviceID),
			zap.Int64("last_activity", last),
		)
		return result, nil
	}
	result.Online = true

	now := c.now()
	series, err := c.fetchSeries(ctx, "live_telemetry", deviceID, url.Values{
		"keys":    {strings.Join(keys, ",")},
		"startTs": {strconv.FormatInt(now.Add(-window).UnixMilli(), 10)},
		"endTs":   {strconv.FormatInt(now.UnixMilli(), 10)},
		"limit":   {"1"},
	})
	if err != nil {
		return result, err
	}
	result.Values = telemetry.FilterLive(series, window, now)
	return result, nil
}
