package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/JonMunkholm/billing/internal/billing"
	"github.com/JonMunkholm/billing/internal/core"
	"github.com/JonMunkholm/billing/internal/ingest"
)

func TestStatusFor(t *testing.T) {
	rowErr := &ingest.RowError{Line: 4, Kind: ingest.KindPlatformNotFound, Err: ingest.ErrPlatformNotFound}
	backendRowErr := &ingest.RowError{Line: 9, Kind: ingest.KindBackendUnavailable, Err: ingest.ErrBackendUnavailable}

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"missing fields", &billing.MissingFieldsError{Fields: []string{"email"}}, http.StatusBadRequest},
		{"duplicate", fmt.Errorf("create: %w", billing.ErrDuplicateKey), http.StatusBadRequest},
		{"not found", billing.ErrNotFound, http.StatusNotFound},
		{"import not found", fmt.Errorf("%w: abc", core.ErrImportNotFound), http.StatusNotFound},
		{"referenced", billing.ErrReferenced, http.StatusConflict},
		{"unknown platform", core.ErrUnknownPlatform, http.StatusBadRequest},
		{"file too large", core.ErrFileTooLarge, http.StatusRequestEntityTooLarge},
		{"not csv", core.ErrNotCSV, http.StatusBadRequest},
		{"invalid input", fmt.Errorf("%w: header", ingest.ErrInvalidInput), http.StatusBadRequest},
		{"rolled back row", rowErr, http.StatusUnprocessableEntity},
		{"backend inside row error", backendRowErr, http.StatusServiceUnavailable},
		{"busy", core.ErrTooManyImports, http.StatusServiceUnavailable},
		{"cancelled", fmt.Errorf("batch cancelled: %w", context.Canceled), http.StatusConflict},
		{"timed out", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusFor(tt.err); got != tt.want {
				t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestRateLimiter_Allow(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rl := newRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }

	if !rl.allow("10.0.0.1") || !rl.allow("10.0.0.1") {
		t.Fatal("first two requests should pass")
	}
	if rl.allow("10.0.0.1") {
		t.Fatal("third request in the window should be rejected")
	}
	if !rl.allow("10.0.0.2") {
		t.Fatal("other clients have their own budget")
	}

	now = now.Add(61 * time.Second)
	if !rl.allow("10.0.0.1") {
		t.Fatal("budget should reset after the window")
	}
}
