package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dipeshbist/Yeti-Server/internal/auth"
	"github.com/Dipeshbist/Yeti-Server/internal/tbadapter"
	telemetry "github.com/Dipeshbist/Yeti-Server/internal/telemetry/domain"
)

var now = time.UnixMilli(1_700_000_000_000)

type fakeUpstream struct {
	mu    sync.Mutex
	calls map[string]int

	info       tbadapter.DeviceInfo
	infoErr    error
	attrs      map[telemetry.Scope][]telemetry.Attribute
	attrsErr   error
	keys       []string
	keysErr    error
	attrKeys   []string
	latest     map[string]telemetry.Sample
	history    tbadapter.HistoricalResult
	historyReq []string
	live       tbadapter.LiveResult
}

func (f *fakeUpstream) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[name]++
}

func (f *fakeUpstream) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeUpstream) DeviceInfo(context.Context, string) (tbadapter.DeviceInfo, error) {
	f.record("DeviceInfo")
	return f.info, f.infoErr
}

func (f *fakeUpstream) DeviceAttributes(_ context.Context, _ string, scope telemetry.Scope) ([]telemetry.Attribute, error) {
	f.record("DeviceAttributes")
	return f.attrs[scope], f.attrsErr
}

func (f *fakeUpstream) AttributeKeys(context.Context, string) ([]string, error) {
	f.record("AttributeKeys")
	return f.attrKeys, nil
}

func (f *fakeUpstream) TelemetryKeys(context.Context, string) ([]string, error) {
	f.record("TelemetryKeys")
	return f.keys, f.keysErr
}

func (f *fakeUpstream) LatestTelemetry(_ context.Context, _ string, keys []string) (map[string]*telemetry.Sample, error) {
	f.record("LatestTelemetry")
	out := map[string]*telemetry.Sample{}
	for _, k := range keys {
		if s, ok := f.latest[k]; ok {
			out[k] = &s
		} else {
			out[k] = nil
		}
	}
	return out, nil
}

func (f *fakeUpstream) LatestValues(context.Context, string, []string) (map[string]telemetry.Sample, error) {
	f.record("LatestValues")
	return f.latest, nil
}

func (f *fakeUpstream) Timeseries(context.Context, string, []string, int64, int64, int) (telemetry.Series, error) {
	f.record("Timeseries")
	return f.history.Series, nil
}

func (f *fakeUpstream) HistoricalTelemetry(_ context.Context, _ string, keys []string, _, _ int64, _ int) tbadapter.HistoricalResult {
	f.record("HistoricalTelemetry")
	f.mu.Lock()
	f.historyReq = keys
	f.mu.Unlock()
	return f.history
}

func (f *fakeUpstream) LiveTelemetry(context.Context, string, []string, time.Duration) (tbadapter.LiveResult, error) {
	f.record("LiveTelemetry")
	return f.live, nil
}

func newService(t *testing.T, up *fakeUpstream) *Service {
	t.Helper()
	svc, err := NewService(up, WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	return svc
}

func userCtx(customerID string) context.Context {
	return auth.WithIdentity(context.Background(), auth.Identity{Subject: "u-1", Role: auth.RoleUser, CustomerID: customerID})
}

func activity(age time.Duration) []telemetry.Attribute {
	return []telemetry.Attribute{{Key: telemetry.LastActivityAttribute, Value: telemetry.NumberValue(float64(now.Add(-age).UnixMilli()))}}
}

func TestAuthorizeDevice(t *testing.T) {
	up := &fakeUpstream{info: tbadapter.DeviceInfo{Name: "Boiler", CustomerID: &tbadapter.EntityID{ID: "cust-1"}}}
	svc := newService(t, up)

	info, err := svc.AuthorizeDevice(userCtx("cust-1"), "dev-1")
	require.NoError(t, err)
	assert.Equal(t, "Boiler", info.Name)

	_, err = svc.AuthorizeDevice(userCtx("cust-2"), "dev-1")
	assert.ErrorIs(t, err, ErrAccessDenied)

	admin := auth.WithIdentity(context.Background(), auth.Identity{Subject: "a", Role: auth.RoleAdmin})
	_, err = svc.AuthorizeDevice(admin, "dev-1")
	assert.NoError(t, err)
}

func TestRealtimeOfflineSkipsTelemetry(t *testing.T) {
	up := &fakeUpstream{attrs: map[telemetry.Scope][]telemetry.Attribute{telemetry.ScopeServer: activity(11 * time.Second)}}
	svc := newService(t, up)

	view, err := svc.Realtime(userCtx("cust-1"), "dev-1", nil)
	require.NoError(t, err)
	assert.False(t, view.Online)
	assert.Empty(t, view.Telemetry)
	assert.Empty(t, view.Keys)
	assert.Equal(t, 0, up.count("TelemetryKeys"))
	assert.Equal(t, 0, up.count("LatestValues"))
}

func TestRealtimeOnlineDiscoversKeys(t *testing.T) {
	up := &fakeUpstream{
		attrs:  map[telemetry.Scope][]telemetry.Attribute{telemetry.ScopeServer: activity(10 * time.Second)},
		keys:   []string{"temp", " "},
		latest: map[string]telemetry.Sample{"temp": {Key: "temp", TS: 1, Value: telemetry.NumberValue(21)}},
	}
	svc := newService(t, up)

	view, err := svc.Realtime(userCtx("cust-1"), "dev-1", nil)
	require.NoError(t, err)
	assert.True(t, view.Online)
	assert.Equal(t, []string{"temp"}, view.Keys)
	assert.Equal(t, telemetry.NumberValue(21), view.Telemetry["temp"].Value)
	assert.Equal(t, "cust-1", view.Customer)
}

func TestHistoryWithoutKeysReturnsNote(t *testing.T) {
	up := &fakeUpstream{keysErr: errors.New("boom")}
	svc := newService(t, up)

	view := svc.History(userCtx("cust-1"), "dev-1", nil, 0, 0)
	assert.Equal(t, noKeysNote, view.Note)
	assert.Equal(t, DefaultHistoryHours, view.TimeRange.Hours)
	assert.Equal(t, now.Add(-24*time.Hour).UTC(), view.TimeRange.Start)
	assert.Equal(t, 0, up.count("HistoricalTelemetry"))
}

func TestHistoryDegradesOnUpstreamError(t *testing.T) {
	up := &fakeUpstream{history: tbadapter.HistoricalResult{Series: telemetry.Series{}, Error: tbadapter.HistoryUnavailable}}
	svc := newService(t, up)

	view := svc.History(userCtx("cust-1"), "dev-1", []string{"temp"}, 2, 50)
	assert.Equal(t, tbadapter.HistoryUnavailable, view.Error)
	assert.Empty(t, view.Data)
	assert.Equal(t, 0, view.TotalPoints)
	assert.Equal(t, []string{"temp"}, view.Keys)
}

func TestHistoryCountsPoints(t *testing.T) {
	up := &fakeUpstream{history: tbadapter.HistoricalResult{Series: telemetry.Series{
		"temp": {{Key: "temp", TS: 1}, {Key: "temp", TS: 2}},
		"hum":  {{Key: "hum", TS: 1}},
	}}}
	svc := newService(t, up)

	view := svc.History(userCtx("cust-1"), "dev-1", []string{"temp", "hum"}, 1, 10)
	assert.Equal(t, 3, view.TotalPoints)
	assert.Empty(t, view.Error)
}

func TestCompleteDegradesOnFailure(t *testing.T) {
	up := &fakeUpstream{infoErr: errors.New("boom")}
	svc := newService(t, up)

	view := svc.Complete(context.Background(), "dev-1")
	assert.Nil(t, view.Device)
	assert.Equal(t, completeUnavailable, view.Error)
	assert.Empty(t, view.Telemetry.Keys)
}

func TestCompleteSkipsLatestWithoutKeys(t *testing.T) {
	up := &fakeUpstream{
		info:     tbadapter.DeviceInfo{Name: "Boiler"},
		attrKeys: []string{"firmware"},
		attrs:    map[telemetry.Scope][]telemetry.Attribute{telemetry.ScopeClient: {{Key: "firmware", Value: telemetry.StringValue("v1")}}},
	}
	svc := newService(t, up)

	view := svc.Complete(context.Background(), "dev-1")
	require.NotNil(t, view.Device)
	assert.Equal(t, "Boiler", view.Device.Name)
	assert.Equal(t, []string{"firmware"}, view.Attributes.Keys)
	assert.Len(t, view.Attributes.Current, 1)
	assert.Equal(t, 0, up.count("LatestValues"))
	assert.Empty(t, view.Error)
}

func TestLiveAggregatesIsLive(t *testing.T) {
	up := &fakeUpstream{live: tbadapter.LiveResult{Online: true, Values: map[string]telemetry.LiveValue{
		"temp": {Value: telemetry.NumberValue(20), IsLive: true},
		"hum":  {Value: telemetry.NumberValue(40)},
	}}}
	svc := newService(t, up)

	view, err := svc.Live(userCtx("cust-1"), "dev-1", []string{"temp", "hum"}, 0)
	require.NoError(t, err)
	assert.True(t, view.IsLive)
	assert.Equal(t, 2, view.DataCount)
	assert.Equal(t, 30, view.MaxAgeSeconds)
}

func TestLiveWithoutKeysSkipsUpstream(t *testing.T) {
	up := &fakeUpstream{}
	svc := newService(t, up)

	view, err := svc.Live(userCtx("cust-1"), "dev-1", nil, 10*time.Second)
	require.NoError(t, err)
	assert.False(t, view.IsLive)
	assert.Equal(t, 0, up.count("LiveTelemetry"))
}

func TestAttributesDegrade(t *testing.T) {
	up := &fakeUpstream{attrsErr: errors.New("boom")}
	svc := newService(t, up)

	view := svc.Attributes(userCtx("cust-1"), "dev-1", telemetry.ScopeShared)
	assert.Equal(t, attributesFailed, view.Error)
	assert.Empty(t, view.Attributes)
	assert.Equal(t, telemetry.ScopeShared, view.Scope)
}

func TestParseKeys(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, ParseKeys(" a, ,b,"))
	assert.Empty(t, ParseKeys(""))
}
