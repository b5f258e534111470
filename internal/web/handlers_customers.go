package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/billing/internal/billing"
	"github.com/JonMunkholm/billing/internal/core"
)

const maxJSONBody = 1 << 20

func (s *Server) handleListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := s.service.ListCustomers(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, customers)
}

func (s *Server) handleGetCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := customerID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	c, err := s.service.GetCustomer(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleCreateCustomer(w http.ResponseWriter, r *http.Request) {
	c, err := decodeCustomer(w, r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	created, err := s.service.CreateCustomer(r.Context(), c)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/api/customers/%d", created.ID))
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := customerID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	c, err := decodeCustomer(w, r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	updated, err := s.service.UpdateCustomer(r.Context(), id, c)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := customerID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	if err := s.service.DeleteCustomer(r.Context(), id); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func customerID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid customer id %q", core.ErrBadRequest, raw)
	}
	return id, nil
}

func decodeCustomer(w http.ResponseWriter, r *http.Request) (billing.Customer, error) {
	var c billing.Customer
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(&c); err != nil {
		return billing.Customer{}, fmt.Errorf("%w: decode customer: %w", core.ErrBadRequest, err)
	}
	return c, nil
}
