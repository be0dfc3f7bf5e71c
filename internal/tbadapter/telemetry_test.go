package tbadapter

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	telemetry "github.com/Dipeshbist/Yeti-Server/internal/telemetry/domain"
)

func TestEmptyKeyListsSkipTheNetwork(t *testing.T) {
	platform := newFakePlatform(t)
	client := platform.client(t, nil)
	ctx := context.Background()

	series, err := client.Timeseries(ctx, "dev-1", nil, 0, 1000, 10)
	require.NoError(t, err)
	assert.Empty(t, series)

	history := client.HistoricalTelemetry(ctx, "dev-1", []string{}, 0, 1000, 10)
	assert.Empty(t, history.Series)
	assert.Empty(t, history.Error)

	latest, err := client.LatestTelemetry(ctx, "dev-1", nil)
	require.NoError(t, err)
	assert.Empty(t, latest)

	live, err := client.LiveTelemetry(ctx, "dev-1", nil, 0)
	require.NoError(t, err)
	assert.Empty(t, live.Values)

	assert.Equal(t, 0, platform.requestCount())
	assert.Equal(t, 0, platform.loginCount())
}

func TestTimeseriesBuildsQueryAndCastsValues(t *testing.T) {
	platform := newFakePlatform(t)
	platform.handle("GET /api/plugins/telemetry/DEVICE/{id}/values/timeseries", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"temp": [{"ts": 1000, "value": "42.5"}, {"ts": 900, "value": "abc"}],
			"on":   [{"ts": "1000", "value": "true"}],
			"rpm":  [{"ts": 1000, "value": 1200}]
		}`))
	})
	client := platform.client(t, nil)

	series, err := client.Timeseries(context.Background(), "dev-1", []string{"temp", "on", "rpm"}, 100, 2000, 0)
	require.NoError(t, err)

	req := platform.lastRequest()
	require.NotNil(t, req)
	assert.Equal(t, "temp,on,rpm", req.URL.Query().Get("keys"))
	assert.Equal(t, "100", req.URL.Query().Get("startTs"))
	assert.Equal(t, "2000", req.URL.Query().Get("endTs"))
	assert.Equal(t, "1000", req.URL.Query().Get("limit"))
	assert.Equal(t, "true", req.URL.Query().Get("useStrictDataTypes"))
	assert.True(t, strings.HasPrefix(req.Header.Get("X-Authorization"), "Bearer "))
	assert.Equal(t, req.Header.Get("X-Authorization"), req.Header.Get("Authorization"))

	require.Len(t, series["temp"], 2)
	assert.Equal(t, telemetry.NumberValue(42.5), series["temp"][0].Value)
	assert.Equal(t, telemetry.StringValue("abc"), series["temp"][1].Value)
	assert.Equal(t, int64(900), series["temp"][1].TS)
	assert.Equal(t, telemetry.BoolValue(true), series["on"][0].Value)
	assert.Equal(t, int64(1000), series["on"][0].TS)
	assert.Equal(t, telemetry.NumberValue(1200), series["rpm"][0].Value)
}

func TestLatestTelemetryReportsMissingKeysAsNil(t *testing.T) {
	platform := newFakePlatform(t)
	platform.handle("GET /api/plugins/telemetry/DEVICE/{id}/values/timeseries", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"temp": []map[string]any{{"ts": 1000, "value": "21"}}})
	})
	client := platform.client(t, nil)

	latest, err := client.LatestTelemetry(context.Background(), "dev-1", []string{"temp", "humidity"})
	require.NoError(t, err)
	require.Contains(t, latest, "humidity")
	assert.Nil(t, latest["humidity"])
	require.NotNil(t, latest["temp"])
	assert.Equal(t, telemetry.NumberValue(21), latest["temp"].Value)
	assert.Equal(t, "1", platform.lastRequest().URL.Query().Get("limit"))
}

func TestHistoricalTelemetryDegradesOnUpstreamFailure(t *testing.T) {
	platform := newFakePlatform(t)
	platform.handle("GET /api/plugins/telemetry/DEVICE/{id}/values/timeseries", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	client := platform.client(t, nil)

	result := client.HistoricalTelemetry(context.Background(), "dev-1", []string{"temp"}, 0, 1000, 100)
	assert.Equal(t, HistoryUnavailable, result.Error)
	assert.NotNil(t, result.Series)
	assert.Empty(t, result.Series)
	assert.Error(t, result.Err)
}

func TestDeviceAttributesCastsValues(t *testing.T) {
	platform := newFakePlatform(t)
	platform.handle("GET /api/plugins/telemetry/DEVICE/{id}/values/attributes/{scope}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "SHARED_SCOPE", r.PathValue("scope"))
		_, _ = w.Write([]byte(`[{"key":"firmware","lastUpdateTs":5,"value":"1.2"},{"key":"enabled","lastUpdateTs":6,"value":"false"}]`))
	})
	client := platform.client(t, nil)

	attrs, err := client.DeviceAttributes(context.Background(), "dev-1", telemetry.ScopeShared)
	require.NoError(t, err)
	require.Len(t, attrs, 2)
	assert.Equal(t, telemetry.NumberValue(1.2), attrs[0].Value)
	assert.Equal(t, telemetry.BoolValue(false), attrs[1].Value)

	_, err = client.DeviceAttributes(context.Background(), "dev-1", telemetry.Scope("BOGUS"))
	assert.ErrorIs(t, err, telemetry.ErrInvalidScope)
}

func TestLiveTelemetryOfflineDeviceSkipsTelemetryQuery(t *testing.T) {
	platform := newFakePlatform(t)
	platform.handle("GET /api/plugins/telemetry/DEVICE/{id}/values/attributes/{scope}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []map[string]any{{"key": "lastActivityTime", "lastUpdateTs": 1, "value": testNow.Add(-20 * time.Second).UnixMilli()}})
	})
	platform.handle("GET /api/plugins/telemetry/DEVICE/{id}/values/timeseries", func(w http.ResponseWriter, r *http.Request) {
		t.Error("timeseries must not be queried for an offline device")
	})
	client := platform.client(t, nil)

	live, err := client.LiveTelemetry(context.Background(), "dev-1", []string{"temp"}, 30*time.Second)
	require.NoError(t, err)
	assert.False(t, live.Online)
	assert.Empty(t, live.Values)
	assert.Equal(t, 1, platform.requestCount())
}

func TestLiveTelemetryOnlineDeviceFiltersByWindow(t *testing.T) {
	platform := newFakePlatform(t)
	platform.handle("GET /api/plugins/telemetry/DEVICE/{id}/values/attributes/{scope}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "SERVER_SCOPE", r.PathValue("scope"))
		writeJSON(w, []map[string]any{{"key": "lastActivityTime", "lastUpdateTs": 1, "value": testNow.Add(-5 * time.Second).UnixMilli()}})
	})
	platform.handle("GET /api/plugins/telemetry/DEVICE/{id}/values/timeseries", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"temp":     []map[string]any{{"ts": testNow.Add(-3 * time.Second).UnixMilli(), "value": "25"}},
			"humidity": []map[string]any{{"ts": testNow.Add(-20 * time.Second).UnixMilli(), "value": "40"}},
			"pressure": []map[string]any{{"ts": testNow.Add(-time.Minute).UnixMilli(), "value": "1"}},
		})
	})
	client := platform.client(t, nil)

	live, err := client.LiveTelemetry(context.Background(), "dev-1", []string{"temp", "humidity", "pressure"}, 30*time.Second)
	require.NoError(t, err)
	assert.True(t, live.Online)
	require.Len(t, live.Values, 2)
	assert.True(t, live.Values["temp"].IsLive)
	assert.False(t, live.Values["humidity"].IsLive)
	assert.NotContains(t, live.Values, "pressure")

	req := platform.lastRequest()
	assert.Equal(t, "1", req.URL.Query().Get("limit"))
	assert.Equal(t, "1699999970000", req.URL.Query().Get("startTs"))
}

func TestKeyEnumeration(t *testing.T) {
	platform := newFakePlatform(t)
	platform.handle("GET /api/plugins/telemetry/DEVICE/{id}/keys/timeseries", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []string{"temp", "humidity"})
	})
	platform.handle("GET /api/plugins/telemetry/DEVICE/{id}/keys/attributes", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []string{"lastActivityTime"})
	})
	client := platform.client(t, nil)

	keys, err := client.TelemetryKeys(context.Background(), "dev-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"temp", "humidity"}, keys)

	attrKeys, err := client.AttributeKeys(context.Background(), "dev-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"lastActivityTime"}, attrKeys)
}
