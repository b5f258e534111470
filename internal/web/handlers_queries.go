package web

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleTotalPaid(w http.ResponseWriter, r *http.Request) {
	balances, err := s.service.TotalPaid(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balances)
}

func (s *Server) handlePendingInvoices(w http.ResponseWriter, r *http.Request) {
	invoices, err := s.service.PendingInvoices(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, invoices)
}

// handlePendingInvoicesCSV renders into a buffer first so a storage error
// can still be reported with a proper status.
func (s *Server) handlePendingInvoicesCSV(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := s.service.WritePendingInvoicesCSV(r.Context(), &buf); err != nil {
		s.respondError(w, r, err)
		return
	}

	filename := fmt.Sprintf("pending_invoices_%s.csv", time.Now().Format("20060102_150405"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		s.logWriteError(r, err)
	}
}

func (s *Server) handlePlatformTransactions(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.PlatformTransactions(r.Context(), chi.URLParam(r, "platform"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handlePlatforms(w http.ResponseWriter, r *http.Request) {
	platforms, err := s.service.Platforms(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, platforms)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.Stats(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"customers":        stats.Customers,
		"transactions":     stats.Transactions,
		"pending_invoices": stats.PendingInvoices,
		"total_billed":     stats.TotalBilled,
		"total_paid":       stats.TotalPaid,
		"outstanding":      stats.Outstanding(),
	})
}
