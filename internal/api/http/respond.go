package apihttp

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Dipeshbist/Yeti-Server/internal/auth"
	"github.com/Dipeshbist/Yeti-Server/internal/tbadapter"
	telemetry "github.com/Dipeshbist/Yeti-Server/internal/telemetry/domain"
)

const timeLayout = time.RFC3339

// WriteJSON encodes value as the response body.
func WriteJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`
}

// WriteError writes a JSON error with an explicit status.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, errorBody{Error: message})
}

// Status maps domain and upstream errors to an HTTP status.
func Status(err error) int {
	var httpErr *tbadapter.HTTPError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, auth.ErrCustomerMismatch), errors.Is(err, auth.ErrForbidden), errors.Is(err, tbadapter.ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, tbadapter.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, telemetry.ErrInvalidScope), errors.Is(err, tbadapter.ErrInvalidSortOrder), errors.Is(err, tbadapter.ErrInvalidArgument), errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, tbadapter.ErrAuthentication), errors.As(err, &httpErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// RespondError writes err with the status chosen by Status.
func RespondError(w http.ResponseWriter, err error) {
	WriteError(w, Status(err), err.Error())
}

// ErrBadRequest marks invalid request parameters.
var ErrBadRequest = errors.New("invalid request")

func badRequest(message string) error {
	return &paramError{message: message}
}

type paramError struct {
	message string
}

func (e *paramError) Error() string { return e.message }

func (e *paramError) Is(target error) bool { return target == ErrBadRequest }

// QueryInt reads an optional integer query parameter. Missing values yield
// fallback.
func QueryInt(r *http.Request, key string, fallback int) (int, error) {
	value := strings.TrimSpace(r.URL.Query().Get(key))
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return 0, badRequest(key + " must be a non-negative integer")
	}
	return parsed, nil
}

// QueryInt64 reads a required int64 query parameter.
func QueryInt64(r *http.Request, key string) (int64, error) {
	value := strings.TrimSpace(r.URL.Query().Get(key))
	if value == "" {
		return 0, badRequest(key + " is required")
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, badRequest(key + " must be an integer")
	}
	return parsed, nil
}

// QueryBool reads an optional boolean query parameter.
func QueryBool(r *http.Request, key string) (*bool, error) {
	value := strings.TrimSpace(r.URL.Query().Get(key))
	if value == "" {
		return nil, nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return nil, badRequest(key + " must be true or false")
	}
	return &parsed, nil
}

// PageQuery reads the standard listing parameters.
func PageQuery(r *http.Request) (tbadapter.PageQuery, error) {
	page, err := QueryInt(r, "page", tbadapter.DefaultPage)
	if err != nil {
		return tbadapter.PageQuery{}, err
	}
	size, err := QueryInt(r, "pageSize", tbadapter.DefaultPageSize)
	if err != nil {
		return tbadapter.PageQuery{}, err
	}
	q := r.URL.Query()
	return tbadapter.PageQuery{
		Page:         page,
		PageSize:     size,
		TextSearch:   q.Get("textSearch"),
		SortProperty: q.Get("sortProperty"),
		SortOrder:    q.Get("sortOrder"),
	}, nil
}

// DecodeJSON decodes a request body into dst.
func DecodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return badRequest("invalid json body")
	}
	return nil
}

// FormatTime renders a timestamp in RFC3339 UTC, empty for zero.
func FormatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(timeLayout)
}
