package http

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	apihttp "github.com/Dipeshbist/Yeti-Server/internal/api/http"
	"github.com/Dipeshbist/Yeti-Server/internal/audit"
	"github.com/Dipeshbist/Yeti-Server/internal/tbadapter"
)

const adminCustomerDevicesPageSize = 100

// AdminUpstream is the slice of the platform client used for administration.
type AdminUpstream interface {
	Customers(ctx context.Context, q tbadapter.PageQuery) (tbadapter.PageData[tbadapter.Customer], error)
	Customer(ctx context.Context, customerID string) (tbadapter.Customer, error)
	CreateCustomer(ctx context.Context, customer tbadapter.Customer) (tbadapter.Customer, error)
	DeleteCustomer(ctx context.Context, customerID string) error
	DeviceInfo(ctx context.Context, deviceID string) (tbadapter.DeviceInfo, error)
	CreateDevice(ctx context.Context, device tbadapter.NewDevice) (tbadapter.DeviceInfo, error)
	DeleteDevice(ctx context.Context, deviceID string) error
	AssignDevice(ctx context.Context, customerID, deviceID string) (tbadapter.DeviceInfo, error)
	UnassignDevice(ctx context.Context, deviceID string) (tbadapter.DeviceInfo, error)
	TenantDevices(ctx context.Context, q tbadapter.DeviceQuery) (tbadapter.PageData[tbadapter.DeviceInfo], error)
	CustomerDevices(ctx context.Context, customerID string, q tbadapter.DeviceQuery) (tbadapter.PageData[tbadapter.DeviceInfo], error)
	TenantDashboards(ctx context.Context, q tbadapter.DashboardQuery) (tbadapter.PageData[tbadapter.DashboardInfo], error)
	DeviceProfiles(ctx context.Context, q tbadapter.PageQuery) (tbadapter.PageData[tbadapter.DeviceProfileInfo], error)
}

// StreamStatus reports live subscription state.
type StreamStatus interface {
	Snapshot() []tbadapter.SubscriptionStatus
}

// AdminHandler exposes platform administration to admins. Role checks are
// enforced by the auth policy on the /api/v1/admin/ prefix.
type AdminHandler struct {
	upstream    AdminUpstream
	streams     StreamStatus
	auditLogger audit.Logger
	logger      *zap.Logger
}

// NewAdminHandler constructs an admin handler. streams and auditLogger may be nil.
func NewAdminHandler(upstream AdminUpstream, streams StreamStatus, auditLogger audit.Logger, logger *zap.Logger) (*AdminHandler, error) {
	if upstream == nil {
		return nil, errors.New("admin handler: nil upstream")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminHandler{upstream: upstream, streams: streams, auditLogger: auditLogger, logger: logger}, nil
}

// Register mounts the admin routes.
func (h *AdminHandler) Register(mux *http.ServeMux) {
	const prefix = "/api/v1/admin/thingsboard"
	mux.HandleFunc("POST "+prefix+"/customers", h.handleCreateCustomer)
	mux.HandleFunc("GET "+prefix+"/customers", h.handleCustomers)
	mux.HandleFunc("GET "+prefix+"/customers/{customerId}", h.handleCustomer)
	mux.HandleFunc("DELETE "+prefix+"/customers/{customerId}", h.handleDeleteCustomer)
	mux.HandleFunc("GET "+prefix+"/customers/{customerId}/devices", h.handleCustomerDevices)
	mux.HandleFunc("POST "+prefix+"/customers/{customerId}/devices/{deviceId}", h.handleAssign)
	mux.HandleFunc("DELETE "+prefix+"/customers/devices/{deviceId}", h.handleUnassign)
	mux.HandleFunc("POST "+prefix+"/devices", h.handleCreateDevice)
	mux.HandleFunc("GET "+prefix+"/devices", h.handleDevices)
	mux.HandleFunc("GET "+prefix+"/devices/{deviceId}", h.handleDevice)
	mux.HandleFunc("DELETE "+prefix+"/devices/{deviceId}", h.handleDeleteDevice)
	mux.HandleFunc("GET "+prefix+"/dashboards", h.handleDashboards)
	mux.HandleFunc("GET "+prefix+"/device-profiles", h.handleDeviceProfiles)
	mux.HandleFunc("GET /api/v1/admin/streams", h.handleStreams)
}

func (h *AdminHandler) handleCreateCustomer(w http.ResponseWriter, r *http.Request) {
	var body tbadapter.Customer
	if err := apihttp.DecodeJSON(r, &body); err != nil {
		apihttp.RespondError(w, err)
		return
	}
	created, err := h.upstream.CreateCustomer(r.Context(), body)
	if err != nil {
		apihttp.RespondError(w, err)
		return
	}
	customerID := ""
	if created.ID != nil {
		customerID = created.ID.ID
	}
	h.logAudit(r, "tb.customer.create", "customer", customerID, map[string]any{"title": created.Title})
	apihttp.WriteJSON(w, http.StatusOK, created)
}

func (h *AdminHandler) handleCustomers(w http.ResponseWriter, r *http.Request) {
	q, err := apihttp.PageQuery(r)
	if err != nil {
		apihttp.RespondError(w, err)
		return
	}
	page, err := h.upstream.Customers(r.Context(), q)
	if err != nil {
		apihttp.RespondError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, page)
}

func (h *AdminHandler) handleCustomer(w http.ResponseWriter, r *http.Request) {
	customer, err := h.upstream.Customer(r.Context(), r.PathValue("customerId"))
	if err != nil {
		apihttp.RespondError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, customer)
}

func (h *AdminHandler) handleDeleteCustomer(w http.ResponseWriter, r *http.Request) {
	customerID := r.PathValue("customerId")
	if err := h.upstream.DeleteCustomer(r.Context(), customerID); err != nil {
		apihttp.RespondError(w, err)
		return
	}
	h.logAudit(r, "tb.customer.delete", "customer", customerID, nil)
	apihttp.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *AdminHandler) handleCustomerDevices(w http.ResponseWriter, r *http.Request) {
	q, err := deviceQuery(r)
	if err != nil {
		apihttp.RespondError(w, err)
		return
	}
	if !r.URL.Query().Has("pageSize") {
		q.PageSize = adminCustomerDevicesPageSize
	}
	page, err := h.upstream.CustomerDevices(r.Context(), r.PathValue("customerId"), q)
	if err != nil {
		apihttp.RespondError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, page)
}

func (h *AdminHandler) handleAssign(w http.ResponseWriter, r *http.Request) {
	customerID, deviceID := r.PathValue("customerId"), r.PathValue("deviceId")
	device, err := h.upstream.AssignDevice(r.Context(), customerID, deviceID)
	if err != nil {
		apihttp.RespondError(w, err)
		return
	}
	h.logAudit(r, "tb.device.assign", "device", deviceID, map[string]any{"customer_id": customerID})
	apihttp.WriteJSON(w, http.StatusOK, device)
}

func (h *AdminHandler) handleUnassign(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("deviceId")
	device, err := h.upstream.UnassignDevice(r.Context(), deviceID)
	if err != nil {
		apihttp.RespondError(w, err)
		return
	}
	h.logAudit(r, "tb.device.unassign", "device", deviceID, nil)
	apihttp.WriteJSON(w, http.StatusOK, device)
}

func (h *AdminHandler) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var body tbadapter.NewDevice
	if err := apihttp.DecodeJSON(r, &body); err != nil {
		apihttp.RespondError(w, err)
		return
	}
	device, err := h.upstream.CreateDevice(r.Context(), body)
	if err != nil {
		apihttp.RespondError(w, err)
		return
	}
	h.logAudit(r, "tb.device.create", "device", device.ID.ID, map[string]any{"name": device.Name, "type": device.Type})
	apihttp.WriteJSON(w, http.StatusOK, device)
}

func (h *AdminHandler) handleDevices(w http.ResponseWriter, r *http.Request) {
	q, err := deviceQuery(r)
	if err != nil {
		apihttp.RespondError(w, err)
		return
	}
	page, err := h.upstream.TenantDevices(r.Context(), q)
	if err != nil {
		apihttp.RespondError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, page)
}

func (h *AdminHandler) handleDevice(w http.ResponseWriter, r *http.Request) {
	device, err := h.upstream.DeviceInfo(r.Context(), r.PathValue("deviceId"))
	if err != nil {
		apihttp.RespondError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, device)
}

func (h *AdminHandler) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("deviceId")
	if err := h.upstream.DeleteDevice(r.Context(), deviceID); err != nil {
		apihttp.RespondError(w, err)
		return
	}
	h.logAudit(r, "tb.device.delete", "device", deviceID, nil)
	apihttp.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *AdminHandler) handleDashboards(w http.ResponseWriter, r *http.Request) {
	q, err := dashboardQuery(r)
	if err != nil {
		apihttp.RespondError(w, err)
		return
	}
	page, err := h.upstream.TenantDashboards(r.Context(), q)
	if err != nil {
		apihttp.RespondError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, page)
}

func (h *AdminHandler) handleDeviceProfiles(w http.ResponseWriter, r *http.Request) {
	q, err := apihttp.PageQuery(r)
	if err != nil {
		apihttp.RespondError(w, err)
		return
	}
	page, err := h.upstream.DeviceProfiles(r.Context(), q)
	if err != nil {
		apihttp.RespondError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, page)
}

func (h *AdminHandler) handleStreams(w http.ResponseWriter, _ *http.Request) {
	statuses := []tbadapter.SubscriptionStatus{}
	if h.streams != nil {
		statuses = h.streams.Snapshot()
	}
	apihttp.WriteJSON(w, http.StatusOK, map[string]any{"count": len(statuses), "subscriptions": statuses})
}

func (h *AdminHandler) logAudit(r *http.Request, action, resourceType, resourceID string, meta map[string]any) {
	logAudit(r, h.auditLogger, h.logger, action, resourceType, resourceID, meta)
}
