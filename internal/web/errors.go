package web

// errors.go provides unified error response handling for the web layer.
//
// Every error is logged with its technical detail and request ID, then
// returned to the client as a core.UserMessage in the format the request
// asks for (HTMX fragment, JSON or plain text).

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/JonMunkholm/billing/internal/billing"
	"github.com/JonMunkholm/billing/internal/core"
	"github.com/JonMunkholm/billing/internal/ingest"
	"github.com/JonMunkholm/billing/internal/logging"
	"github.com/JonMunkholm/billing/internal/web/templates"
)

// ErrorResponse is the JSON body of API errors.
// Code is machine-readable; Error and Action are for people.
type ErrorResponse struct {
	Error   string   `json:"error"`
	Action  string   `json:"action,omitempty"`
	Code    string   `json:"code"`
	Fields  []string `json:"fields,omitempty"`
	Details any      `json:"details,omitempty"`
}

type statusRule struct {
	target error
	status int
}

// unavailableRules are checked before row errors, which may wrap a backend
// failure.
var unavailableRules = []statusRule{
	{core.ErrTooManyImports, http.StatusServiceUnavailable},
	{ingest.ErrBackendUnavailable, http.StatusServiceUnavailable},
}

// statusRules are checked in order after row errors.
var statusRules = []statusRule{
	{core.ErrFileTooLarge, http.StatusRequestEntityTooLarge},
	{core.ErrImportNotFound, http.StatusNotFound},
	{billing.ErrNotFound, http.StatusNotFound},
	{billing.ErrReferenced, http.StatusConflict},
	{context.DeadlineExceeded, http.StatusGatewayTimeout},
	{context.Canceled, http.StatusConflict},
	{core.ErrUnknownPlatform, http.StatusBadRequest},
	{core.ErrBadRequest, http.StatusBadRequest},
	{core.ErrNotCSV, http.StatusBadRequest},
	{core.ErrNoFile, http.StatusBadRequest},
	{ingest.ErrInvalidInput, http.StatusBadRequest},
	{billing.ErrDuplicateKey, http.StatusBadRequest},
	{billing.ErrInvalidValue, http.StatusBadRequest},
}

// statusFor picks the HTTP status for err.
func statusFor(err error) int {
	var missing *billing.MissingFieldsError
	if errors.As(err, &missing) {
		return http.StatusBadRequest
	}
	for _, rule := range unavailableRules {
		if errors.Is(err, rule.target) {
			return rule.status
		}
	}
	// A row error means an all-or-nothing batch rolled back.
	var rowErr *ingest.RowError
	if errors.As(err, &rowErr) {
		return http.StatusUnprocessableEntity
	}
	for _, rule := range statusRules {
		if errors.Is(err, rule.target) {
			return rule.status
		}
	}
	return http.StatusInternalServerError
}

// respondError logs err and writes the mapped user message.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	s.respondErrorDetails(w, r, err, nil)
}

// respondErrorDetails is respondError with extra JSON payload, such as the
// report of a rolled back import.
func (s *Server) respondErrorDetails(w http.ResponseWriter, r *http.Request, err error, details any) {
	status := statusFor(err)
	msg := core.MapError(err)

	logger := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", msg.Code,
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request error", attrs...)
	} else {
		logger.Warn("request rejected", attrs...)
	}

	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "5")
	}

	switch {
	case isHTMX(r):
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		if err := templates.ErrorAlert(msg.Message, msg.Action, msg.Code).Render(r.Context(), w); err != nil {
			logger.Error("render error alert", "error", err)
		}
	case wantsJSON(r):
		resp := ErrorResponse{
			Error:   msg.Message,
			Action:  msg.Action,
			Code:    msg.Code,
			Details: details,
		}
		var missing *billing.MissingFieldsError
		if errors.As(err, &missing) {
			resp.Fields = missing.Fields
		}
		writeJSON(w, status, resp)
	default:
		http.Error(w, msg.Message+" ("+msg.Code+")", status)
	}
}

// writeError writes a JSON error that did not come from a Go error, such as
// a rate limit rejection.
func writeError(w http.ResponseWriter, status int, msg core.UserMessage) {
	writeJSON(w, status, ErrorResponse{Error: msg.Message, Action: msg.Action, Code: msg.Code})
}

func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

// wantsJSON reports whether the client prefers JSON. API routes always do.
func wantsJSON(r *http.Request) bool {
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		return true
	}
	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		return true
	}
	return strings.HasPrefix(r.URL.Path, "/api/")
}
