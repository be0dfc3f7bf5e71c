package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dipeshbist/Yeti-Server/internal/audit"
	"github.com/Dipeshbist/Yeti-Server/internal/auth"
	"github.com/Dipeshbist/Yeti-Server/internal/devices/application"
	devices "github.com/Dipeshbist/Yeti-Server/internal/devices/domain"
	"github.com/Dipeshbist/Yeti-Server/internal/tbadapter"
	"github.com/Dipeshbist/Yeti-Server/internal/users"
)

type stubPlatform struct {
	devices   map[string]tbadapter.DeviceInfo
	lastQuery tbadapter.DeviceQuery
	assigned  [2]string
	deleted   string
}

func (s *stubPlatform) DeviceInfo(_ context.Context, id string) (tbadapter.DeviceInfo, error) {
	if d, ok := s.devices[id]; ok {
		return d, nil
	}
	return tbadapter.DeviceInfo{}, &tbadapter.HTTPError{Status: http.StatusNotFound}
}

func (s *stubPlatform) DeviceByName(context.Context, string) (tbadapter.DeviceInfo, error) {
	return tbadapter.DeviceInfo{}, tbadapter.ErrNotFound
}

func (s *stubPlatform) DevicesByIDs(context.Context, []string) ([]tbadapter.DeviceInfo, error) {
	return nil, nil
}

func (s *stubPlatform) TenantDevices(_ context.Context, q tbadapter.DeviceQuery) (tbadapter.PageData[tbadapter.DeviceInfo], error) {
	s.lastQuery = q
	return tbadapter.PageData[tbadapter.DeviceInfo]{}, nil
}

func (s *stubPlatform) CustomerDevices(_ context.Context, _ string, q tbadapter.DeviceQuery) (tbadapter.PageData[tbadapter.DeviceInfo], error) {
	s.lastQuery = q
	return tbadapter.PageData[tbadapter.DeviceInfo]{Data: []tbadapter.DeviceInfo{}}, nil
}

func (s *stubPlatform) TenantDashboards(context.Context, tbadapter.DashboardQuery) (tbadapter.PageData[tbadapter.DashboardInfo], error) {
	return tbadapter.PageData[tbadapter.DashboardInfo]{}, nil
}

func (s *stubPlatform) CustomerDashboards(context.Context, string, tbadapter.DashboardQuery) (tbadapter.PageData[tbadapter.DashboardInfo], error) {
	return tbadapter.PageData[tbadapter.DashboardInfo]{}, nil
}

func (s *stubPlatform) Customers(context.Context, tbadapter.PageQuery) (tbadapter.PageData[tbadapter.Customer], error) {
	return tbadapter.PageData[tbadapter.Customer]{}, nil
}

func (s *stubPlatform) Customer(context.Context, string) (tbadapter.Customer, error) {
	return tbadapter.Customer{}, nil
}

func (s *stubPlatform) CreateCustomer(_ context.Context, c tbadapter.Customer) (tbadapter.Customer, error) {
	c.ID = &tbadapter.EntityID{EntityType: "CUSTOMER", ID: "cust-new"}
	return c, nil
}

func (s *stubPlatform) DeleteCustomer(context.Context, string) error {
	return nil
}

func (s *stubPlatform) CreateDevice(_ context.Context, d tbadapter.NewDevice) (tbadapter.DeviceInfo, error) {
	return tbadapter.DeviceInfo{ID: tbadapter.EntityID{ID: "dev-new"}, Name: d.Name}, nil
}

func (s *stubPlatform) DeleteDevice(_ context.Context, id string) error {
	s.deleted = id
	return nil
}

func (s *stubPlatform) AssignDevice(_ context.Context, customerID, deviceID string) (tbadapter.DeviceInfo, error) {
	s.assigned = [2]string{customerID, deviceID}
	return tbadapter.DeviceInfo{}, nil
}

func (s *stubPlatform) UnassignDevice(context.Context, string) (tbadapter.DeviceInfo, error) {
	return tbadapter.DeviceInfo{}, nil
}

func (s *stubPlatform) DeviceProfiles(context.Context, tbadapter.PageQuery) (tbadapter.PageData[tbadapter.DeviceProfileInfo], error) {
	return tbadapter.PageData[tbadapter.DeviceProfileInfo]{}, nil
}

type stubOverlays struct {
	mu    sync.Mutex
	items map[string]*devices.Overlay
}

func (s *stubOverlays) Get(_ context.Context, id string) (*devices.Overlay, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.items[id]; ok {
		return o, nil
	}
	return nil, devices.ErrNotFound
}

func (s *stubOverlays) UpsertLocation(_ context.Context, id, name, customerID, location string) (*devices.Overlay, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := &devices.Overlay{DeviceID: id, Name: name, CustomerID: customerID, Location: &location}
	s.items[id] = o
	return o, nil
}

func (s *stubOverlays) Rename(_ context.Context, id, name, original, customerID string) (*devices.Overlay, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := &devices.Overlay{DeviceID: id, Name: name, TBOriginalName: original, CustomerID: customerID}
	s.items[id] = o
	return o, nil
}

type noUsers struct{}

func (noUsers) Get(context.Context, string) (users.User, error) {
	return users.User{}, users.ErrNotFound
}

type recordingAudit struct {
	entries []audit.Entry
}

func (r *recordingAudit) Log(_ context.Context, entry audit.Entry) error {
	r.entries = append(r.entries, entry)
	return nil
}

type fixture struct {
	mux      *http.ServeMux
	platform *stubPlatform
	audit    *recordingAudit
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	platform := &stubPlatform{devices: map[string]tbadapter.DeviceInfo{
		"dev-1": {Name: "TB-1", CustomerID: &tbadapter.EntityID{ID: "cust-1"}},
	}}
	svc, err := application.NewService(platform, &stubOverlays{items: map[string]*devices.Overlay{}}, noUsers{}, nil)
	require.NoError(t, err)
	recorder := &recordingAudit{}
	handler, err := NewHandler(svc, recorder, nil)
	require.NoError(t, err)
	admin, err := NewAdminHandler(platform, nil, recorder, nil)
	require.NoError(t, err)
	mux := http.NewServeMux()
	handler.Register(mux)
	admin.Register(mux)
	return fixture{mux: mux, platform: platform, audit: recorder}
}

func (f fixture) do(method, path, body string, id auth.Identity) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req = req.WithContext(auth.WithIdentity(req.Context(), id))
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

var (
	owner    = auth.Identity{Subject: "u-1", Role: auth.RoleUser, CustomerID: "cust-1"}
	stranger = auth.Identity{Subject: "u-2", Role: auth.RoleUser, CustomerID: "cust-2"}
	admin    = auth.Identity{Subject: "a-1", Role: auth.RoleAdmin}
)

func TestRenameThenMergedInfo(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/v1/devices/dev-1/rename", `{"newName":"  "}`, owner)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/api/v1/devices/dev-1/rename", `{"newName":"Boiler"}`, stranger)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodPost, "/api/v1/devices/dev-1/rename", `{"newName":"Boiler"}`, owner)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.audit.entries, 1)
	assert.Equal(t, "device.rename", f.audit.entries[0].Action)
	assert.Equal(t, "cust-1", f.audit.entries[0].CustomerID)

	rec = f.do(http.MethodGet, "/api/v1/devices/dev-1/info", "", owner)
	require.Equal(t, http.StatusOK, rec.Code)
	var merged application.MergedInfo
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&merged))
	assert.Equal(t, "Boiler", merged.Name)
	assert.Equal(t, "TB-1", merged.TBName)
}

func TestLocationRoundTrip(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/v1/devices/dev-1/location", "", owner)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"location":null}`, rec.Body.String())

	rec = f.do(http.MethodPost, "/api/v1/devices/dev-1/location", `{"location":"Roof"}`, owner)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/devices/dev-1/location", "", owner)
	assert.JSONEq(t, `{"success":true,"location":"Roof"}`, rec.Body.String())

	rec = f.do(http.MethodGet, "/api/v1/devices/missing/location", "", owner)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMyDevicesParsesFilters(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/v1/my/devices?page=2&pageSize=5&active=false&type=sensor", "", owner)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, f.platform.lastQuery.Page)
	assert.Equal(t, 5, f.platform.lastQuery.PageSize)
	assert.Equal(t, "sensor", f.platform.lastQuery.Type)
	require.NotNil(t, f.platform.lastQuery.Active)
	assert.False(t, *f.platform.lastQuery.Active)

	rec = f.do(http.MethodGet, "/api/v1/my/devices?active=maybe", "", owner)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/my/devices", "", auth.Identity{Subject: "x", Role: auth.RoleUser})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCustomerDeviceInfosRejectsOtherCustomer(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/v1/customers/cust-1/device-infos", "", stranger)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/customers/cust-1/device-infos", "", owner)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminUserListingUnknownUser(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/v1/admin/users/ghost/devices", "", admin)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminThingsBoardRoutes(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/v1/admin/thingsboard/customers/cust-1/devices/dev-1", "", admin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, [2]string{"cust-1", "dev-1"}, f.platform.assigned)

	rec = f.do(http.MethodDelete, "/api/v1/admin/thingsboard/devices/dev-9", "", admin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "dev-9", f.platform.deleted)

	rec = f.do(http.MethodGet, "/api/v1/admin/thingsboard/customers/cust-1/devices", "", admin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, adminCustomerDevicesPageSize, f.platform.lastQuery.PageSize)

	rec = f.do(http.MethodPost, "/api/v1/admin/thingsboard/customers", `{"title":"Acme"}`, admin)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodPost, "/api/v1/admin/thingsboard/customers", `not json`, admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	actions := make([]string, 0, len(f.audit.entries))
	for _, e := range f.audit.entries {
		actions = append(actions, e.Action)
	}
	assert.Equal(t, []string{"tb.device.assign", "tb.device.delete", "tb.customer.create"}, actions)

	rec = f.do(http.MethodGet, "/api/v1/admin/streams", "", admin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"count":0,"subscriptions":[]}`, rec.Body.String())
}
