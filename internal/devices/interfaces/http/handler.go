package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	apihttp "github.com/Dipeshbist/Yeti-Server/internal/api/http"
	"github.com/Dipeshbist/Yeti-Server/internal/audit"
	"github.com/Dipeshbist/Yeti-Server/internal/auth"
	"github.com/Dipeshbist/Yeti-Server/internal/devices/application"
	devices "github.com/Dipeshbist/Yeti-Server/internal/devices/domain"
	"github.com/Dipeshbist/Yeti-Server/internal/tbadapter"
	"github.com/Dipeshbist/Yeti-Server/internal/users"
)

// Handler serves device browsing, overlay and listing endpoints.
type Handler struct {
	service     *application.Service
	auditLogger audit.Logger
	logger      *zap.Logger
}

// NewHandler constructs a handler. auditLogger may be nil.
func NewHandler(service *application.Service, auditLogger audit.Logger, logger *zap.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("devices handler: nil service")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, auditLogger: auditLogger, logger: logger}, nil
}

// Register mounts the device routes.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/devices/by-name", h.handleByName)
	mux.HandleFunc("GET /api/v1/devices/by-ids", h.handleByIDs)
	mux.HandleFunc("GET /api/v1/devices/{id}", h.handleInfo)
	mux.HandleFunc("GET /api/v1/devices/{id}/info", h.handleMergedInfo)
	mux.HandleFunc("GET /api/v1/devices/{id}/location", h.handleGetLocation)
	mux.HandleFunc("POST /api/v1/devices/{id}/location", h.handleSaveLocation)
	mux.HandleFunc("POST /api/v1/devices/{id}/rename", h.handleRename)
	mux.HandleFunc("GET /api/v1/devices/{id}/dashboards", h.handleDeviceDashboards)

	mux.HandleFunc("GET /api/v1/my/dashboards", h.handleMyDashboards)
	mux.HandleFunc("GET /api/v1/my/devices", h.handleMyDevices)
	mux.HandleFunc("GET /api/v1/customers/{customerId}/dashboards", h.handleCustomerDashboards)
	mux.HandleFunc("GET /api/v1/customers/{customerId}/device-infos", h.handleCustomerDevices)

	mux.HandleFunc("GET /api/v1/admin/users/{userId}/dashboards", h.handleUserDashboards)
	mux.HandleFunc("GET /api/v1/admin/users/{userId}/devices", h.handleUserDevices)
	mux.HandleFunc("GET /api/v1/admin/tenant/dashboards", h.handleTenantDashboards)
	mux.HandleFunc("GET /api/v1/admin/tenant/devices", h.handleTenantDevices)
}

func (h *Handler) handleInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.service.Info(r.Context(), r.PathValue("id"))
	if err != nil {
		respondError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, info)
}

func (h *Handler) handleMergedInfo(w http.ResponseWriter, r *http.Request) {
	merged, err := h.service.MergedInfo(r.Context(), r.PathValue("id"))
	if err != nil {
		respondError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, merged)
}

func (h *Handler) handleGetLocation(w http.ResponseWriter, r *http.Request) {
	location, err := h.service.Location(r.Context(), r.PathValue("id"))
	if err != nil {
		respondError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "location": location})
}

func (h *Handler) handleSaveLocation(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Location string `json:"location"`
	}
	if err := apihttp.DecodeJSON(r, &body); err != nil {
		respondError(w, err)
		return
	}
	deviceID := r.PathValue("id")
	overlay, err := h.service.SaveLocation(r.Context(), deviceID, body.Location)
	if err != nil {
		respondError(w, err)
		return
	}
	h.logAudit(r, "device.location.save", deviceID, map[string]any{"location": overlay.Location})
	apihttp.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Location saved", "device": overlay})
}

func (h *Handler) handleRename(w http.ResponseWriter, r *http.Request) {
	var body struct {
		NewName string `json:"newName"`
	}
	if err := apihttp.DecodeJSON(r, &body); err != nil {
		respondError(w, err)
		return
	}
	deviceID := r.PathValue("id")
	overlay, err := h.service.Rename(r.Context(), deviceID, body.NewName)
	if err != nil {
		respondError(w, err)
		return
	}
	h.logAudit(r, "device.rename", deviceID, map[string]any{"name": overlay.Name, "tb_original_name": overlay.TBOriginalName})
	apihttp.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Device renamed successfully", "device": overlay})
}

func (h *Handler) handleByName(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		apihttp.WriteError(w, http.StatusBadRequest, "name is required")
		return
	}
	device, err := h.service.ByName(r.Context(), name)
	if err != nil {
		respondError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, device)
}

func (h *Handler) handleByIDs(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ByIDs(r.Context(), strings.Split(r.URL.Query().Get("ids"), ","))
	if err != nil {
		respondError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) handleDeviceDashboards(w http.ResponseWriter, r *http.Request) {
	page, err := h.service.DeviceDashboards(r.Context(), r.PathValue("id"))
	if err != nil {
		respondError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, page)
}

func (h *Handler) handleMyDashboards(w http.ResponseWriter, r *http.Request) {
	q, err := dashboardQuery(r)
	if err != nil {
		respondError(w, err)
		return
	}
	page, err := h.service.MyDashboards(r.Context(), q)
	if err != nil {
		respondError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, page)
}

func (h *Handler) handleMyDevices(w http.ResponseWriter, r *http.Request) {
	q, err := deviceQuery(r)
	if err != nil {
		respondError(w, err)
		return
	}
	page, err := h.service.MyDevices(r.Context(), q)
	if err != nil {
		respondError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, page)
}

func (h *Handler) handleCustomerDashboards(w http.ResponseWriter, r *http.Request) {
	q, err := dashboardQuery(r)
	if err != nil {
		respondError(w, err)
		return
	}
	page, err := h.service.CustomerDashboards(r.Context(), r.PathValue("customerId"), q)
	if err != nil {
		respondError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, page)
}

func (h *Handler) handleCustomerDevices(w http.ResponseWriter, r *http.Request) {
	q, err := deviceQuery(r)
	if err != nil {
		respondError(w, err)
		return
	}
	page, err := h.service.CustomerDevices(r.Context(), r.PathValue("customerId"), q)
	if err != nil {
		respondError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, page)
}

func (h *Handler) handleUserDashboards(w http.ResponseWriter, r *http.Request) {
	page, err := h.service.UserDashboards(r.Context(), r.PathValue("userId"))
	if err != nil {
		respondError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, page)
}

func (h *Handler) handleUserDevices(w http.ResponseWriter, r *http.Request) {
	page, err := h.service.UserDevices(r.Context(), r.PathValue("userId"))
	if err != nil {
		respondError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, page)
}

func (h *Handler) handleTenantDashboards(w http.ResponseWriter, r *http.Request) {
	q, err := dashboardQuery(r)
	if err != nil {
		respondError(w, err)
		return
	}
	page, err := h.service.TenantDashboards(r.Context(), q)
	if err != nil {
		respondError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, page)
}

func (h *Handler) handleTenantDevices(w http.ResponseWriter, r *http.Request) {
	q, err := deviceQuery(r)
	if err != nil {
		respondError(w, err)
		return
	}
	page, err := h.service.TenantDevices(r.Context(), q)
	if err != nil {
		respondError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, page)
}

func dashboardQuery(r *http.Request) (tbadapter.DashboardQuery, error) {
	page, err := apihttp.PageQuery(r)
	if err != nil {
		return tbadapter.DashboardQuery{}, err
	}
	mobile, err := apihttp.QueryBool(r, "mobile")
	if err != nil {
		return tbadapter.DashboardQuery{}, err
	}
	return tbadapter.DashboardQuery{PageQuery: page, Mobile: mobile}, nil
}

func deviceQuery(r *http.Request) (tbadapter.DeviceQuery, error) {
	page, err := apihttp.PageQuery(r)
	if err != nil {
		return tbadapter.DeviceQuery{}, err
	}
	active, err := apihttp.QueryBool(r, "active")
	if err != nil {
		return tbadapter.DeviceQuery{}, err
	}
	q := r.URL.Query()
	return tbadapter.DeviceQuery{
		PageQuery:       page,
		Type:            q.Get("type"),
		DeviceProfileID: q.Get("deviceProfileId"),
		Active:          active,
	}, nil
}

func respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, devices.ErrEmptyLocation), errors.Is(err, devices.ErrEmptyName), errors.Is(err, application.ErrNoCustomer):
		apihttp.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, users.ErrNotFound):
		apihttp.WriteError(w, http.StatusNotFound, err.Error())
	default:
		apihttp.RespondError(w, err)
	}
}

func (h *Handler) logAudit(r *http.Request, action, deviceID string, meta map[string]any) {
	logAudit(r, h.auditLogger, h.logger, action, "device", deviceID, meta)
}

func logAudit(r *http.Request, logger audit.Logger, log *zap.Logger, action, resourceType, resourceID string, meta map[string]any) {
	if logger == nil {
		return
	}
	ctx := r.Context()
	payload, _ := json.Marshal(meta)
	err := logger.Log(ctx, audit.Entry{
		CustomerID:   auth.CustomerIDFromContext(ctx),
		Actor:        auth.SubjectFromContext(ctx),
		Role:         string(auth.RoleFromContext(ctx)),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Metadata:     payload,
		IP:           audit.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})
	if err != nil {
		log.Warn("audit log failed", zap.String("action", action), zap.String("resource_id", resourceID), zap.Error(err))
	}
}
