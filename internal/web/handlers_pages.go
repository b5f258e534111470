package web

import (
	"net/http"

	"github.com/JonMunkholm/billing/internal/core"
	"github.com/JonMunkholm/billing/internal/logging"
	"github.com/JonMunkholm/billing/internal/web/templates"
)

// handleDashboard renders the landing page. A storage failure still renders
// the page with an alert in place of the counters.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	data := templates.DashboardData{
		DefaultPolicy: s.service.DefaultPolicy(),
		MaxFileSize:   s.cfg.Upload.MaxFileSize,
	}

	stats, err := s.service.Stats(r.Context())
	if err != nil {
		logging.FromContext(r.Context()).Error("dashboard stats", "error", err)
		data.StatsError = core.MapError(err).Message
	} else {
		data.Stats = stats
	}
	if platforms, err := s.service.Platforms(r.Context()); err == nil {
		data.Platforms = platforms
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := templates.Dashboard(data).Render(r.Context(), w); err != nil {
		s.logWriteError(r, err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Ping(r.Context()); err != nil {
		logging.FromContext(r.Context()).Warn("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// logWriteError records a failure after the response has started.
func (s *Server) logWriteError(r *http.Request, err error) {
	logging.FromContext(r.Context()).Warn("write response", "path", r.URL.Path, "error", err)
}
