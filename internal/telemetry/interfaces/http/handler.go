package http

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	apihttp "github.com/Dipeshbist/Yeti-Server/internal/api/http"
	"github.com/Dipeshbist/Yeti-Server/internal/telemetry/application"
	telemetry "github.com/Dipeshbist/Yeti-Server/internal/telemetry/domain"
)

const defaultTimeseriesSpan = 24 * time.Hour

// Handler serves per-device telemetry endpoints.
type Handler struct {
	service *application.Service
	logger  *zap.Logger
	now     func() time.Time
}

// NewHandler constructs a handler.
func NewHandler(service *application.Service, logger *zap.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("telemetry handler: nil service")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, logger: logger, now: time.Now}, nil
}

// Register mounts the telemetry routes.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/devices/{id}/latest", h.handleLatest)
	mux.HandleFunc("GET /api/v1/devices/{id}/timeseries", h.handleTimeseries)
	mux.HandleFunc("GET /api/v1/devices/{id}/realtime", h.handleRealtime)
	mux.HandleFunc("GET /api/v1/devices/{id}/history", h.handleHistory)
	mux.HandleFunc("GET /api/v1/devices/{id}/history/export/{format}", h.handleHistoryExport)
	mux.HandleFunc("GET /api/v1/devices/{id}/complete", h.handleComplete)
	mux.HandleFunc("GET /api/v1/devices/{id}/live", h.handleLive)
	mux.HandleFunc("GET /api/v1/devices/{id}/attributes", h.handleAttributes)
	mux.HandleFunc("GET /api/v1/devices/{id}/attributes/{scope}", h.handleAttributes)
}

// authorize resolves the device id and checks ownership, writing the error
// response itself when access is refused.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) (string, bool) {
	deviceID := r.PathValue("id")
	if _, err := h.service.AuthorizeDevice(r.Context(), deviceID); err != nil {
		apihttp.RespondError(w, err)
		return "", false
	}
	return deviceID, true
}

func (h *Handler) handleLatest(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := h.authorize(w, r)
	if !ok {
		return
	}
	latest, err := h.service.Latest(r.Context(), deviceID, application.ParseKeys(r.URL.Query().Get("keys")))
	if err != nil {
		apihttp.RespondError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, latest)
}

func (h *Handler) handleTimeseries(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := h.authorize(w, r)
	if !ok {
		return
	}
	end := h.now().UnixMilli()
	start := end - defaultTimeseriesSpan.Milliseconds()
	if r.URL.Query().Has("startTs") {
		v, err := apihttp.QueryInt64(r, "startTs")
		if err != nil {
			apihttp.RespondError(w, err)
			return
		}
		start = v
	}
	if r.URL.Query().Has("endTs") {
		v, err := apihttp.QueryInt64(r, "endTs")
		if err != nil {
			apihttp.RespondError(w, err)
			return
		}
		end = v
	}
	if end < start {
		apihttp.WriteError(w, http.StatusBadRequest, "endTs must not be before startTs")
		return
	}
	limit, err := apihttp.QueryInt(r, "limit", 0)
	if err != nil {
		apihttp.RespondError(w, err)
		return
	}
	series, err := h.service.Timeseries(r.Context(), deviceID, application.ParseKeys(r.URL.Query().Get("keys")), start, end, limit)
	if err != nil {
		apihttp.RespondError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, series)
}

func (h *Handler) handleRealtime(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := h.authorize(w, r)
	if !ok {
		return
	}
	view, err := h.service.Realtime(r.Context(), deviceID, application.ParseKeys(r.URL.Query().Get("keys")))
	if err != nil {
		apihttp.RespondError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) (application.HistoryView, bool) {
	deviceID, ok := h.authorize(w, r)
	if !ok {
		return application.HistoryView{}, false
	}
	hours, err := apihttp.QueryInt(r, "hours", application.DefaultHistoryHours)
	if err != nil {
		apihttp.RespondError(w, err)
		return application.HistoryView{}, false
	}
	limit, err := apihttp.QueryInt(r, "limit", 0)
	if err != nil {
		apihttp.RespondError(w, err)
		return application.HistoryView{}, false
	}
	return h.service.History(r.Context(), deviceID, application.ParseKeys(r.URL.Query().Get("keys")), hours, limit), true
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	view, ok := h.history(w, r)
	if !ok {
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) handleHistoryExport(w http.ResponseWriter, r *http.Request) {
	format := r.PathValue("format")
	if format != "xlsx" && format != "pdf" {
		apihttp.WriteError(w, http.StatusBadRequest, "format must be xlsx or pdf")
		return
	}
	view, ok := h.history(w, r)
	if !ok {
		return
	}
	var (
		data        []byte
		err         error
		contentType string
	)
	switch format {
	case "xlsx":
		data, err = BuildHistoryXLSX(view)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case "pdf":
		data, err = BuildHistoryPDF(view)
		contentType = "application/pdf"
	}
	if err != nil {
		h.logger.Error("history export failed", zap.String("device_id", view.DeviceID), zap.String("format", format), zap.Error(err))
		apihttp.WriteError(w, http.StatusInternalServerError, "export failed")
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", "attachment; filename=\"history-"+view.DeviceID+"."+format+"\"")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := h.authorize(w, r)
	if !ok {
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, h.service.Complete(r.Context(), deviceID))
}

func (h *Handler) handleLive(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := h.authorize(w, r)
	if !ok {
		return
	}
	maxAge, err := apihttp.QueryInt(r, "maxAge", 0)
	if err != nil {
		apihttp.RespondError(w, err)
		return
	}
	view, err := h.service.Live(r.Context(), deviceID, application.ParseKeys(r.URL.Query().Get("keys")), time.Duration(maxAge)*time.Second)
	if err != nil {
		apihttp.RespondError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) handleAttributes(w http.ResponseWriter, r *http.Request) {
	scope := telemetry.ScopeClient
	if raw := r.PathValue("scope"); raw != "" {
		parsed, err := telemetry.ParseScope(raw)
		if err != nil {
			apihttp.RespondError(w, err)
			return
		}
		scope = parsed
	}
	deviceID, ok := h.authorize(w, r)
	if !ok {
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, h.service.Attributes(r.Context(), deviceID, scope))
}
