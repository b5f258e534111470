package core

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/JonMunkholm/billing/internal/billing"
	"github.com/JonMunkholm/billing/internal/ingest"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"nil error returns empty", nil, ""},
		{"customer not found", fmt.Errorf("get customer 4: %w", billing.ErrNotFound), "CUS001"},
		{"missing fields", &billing.MissingFieldsError{Fields: []string{"email"}}, "CUS002"},
		{"referenced customer", fmt.Errorf("delete customer 1: %w", billing.ErrReferenced), "CUS003"},
		{"duplicate key", fmt.Errorf("create customer: %w", billing.ErrDuplicateKey), "DB001"},
		{"invalid value", billing.ErrInvalidValue, "DB002"},
		{"backend down", fmt.Errorf("%w: begin: dial", ingest.ErrBackendUnavailable), "DB004"},
		{"connection refused text", errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"), "DB004"},
		{"deadline", fmt.Errorf("batch cancelled: %w", context.DeadlineExceeded), "DB006"},
		{"unknown platform", fmt.Errorf("%w: %q", ErrUnknownPlatform, "paypal"), "PLT001"},
		{"too large", ErrFileTooLarge, "FILE001"},
		{"bad header", fmt.Errorf("%w: header is missing columns", ingest.ErrInvalidInput), "FILE002"},
		{"no file", ErrNoFile, "FILE004"},
		{"empty file", fmt.Errorf("%w: file is empty", ingest.ErrInvalidInput), "FILE005"},
		{"not csv", ErrNotCSV, "FILE006"},
		{"cancelled", fmt.Errorf("batch cancelled after 3 rows: %w", context.Canceled), "IMP001"},
		{"busy", ErrTooManyImports, "IMP002"},
		{"expired import", fmt.Errorf("%w: abc", ErrImportNotFound), "IMP003"},
		{"row error", &ingest.RowError{Line: 3, Kind: ingest.KindPlatformNotFound, Err: ingest.ErrPlatformNotFound}, "IMP004"},
		{"row error over duplicate", &ingest.RowError{Line: 2, Kind: ingest.KindDuplicateKey, Err: billing.ErrDuplicateKey}, "IMP004"},
		{"bad request", fmt.Errorf("%w: invalid customer id", ErrBadRequest), "REQ001"},
		{"rate limit", errors.New("rate limit exceeded"), "RATE001"},
		{"unknown error returns default", errors.New("some random internal error"), "ERR000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError() code = %q, want %q", got.Code, tt.wantCode)
			}
		})
	}
}

func TestMapError_MissingFieldsMessage(t *testing.T) {
	got := MapError(&billing.MissingFieldsError{Fields: []string{"first_name", "email"}})
	want := "Missing required fields: first_name, email"
	if got.Message != want {
		t.Errorf("Message = %q, want %q", got.Message, want)
	}
}

func TestMapError_RowErrorNamesLine(t *testing.T) {
	got := MapError(&ingest.RowError{Line: 7, Kind: ingest.KindMissingField, Err: ingest.ErrMissingField})
	want := "The import was rolled back and nothing was stored: line 7, MissingField"
	if got.Message != want {
		t.Errorf("Message = %q, want %q", got.Message, want)
	}
}

func TestFormatUserError(t *testing.T) {
	result := FormatUserError(billing.ErrNotFound)

	expected := "Customer not found (Code: CUS001). Check the customer ID"
	if result != expected {
		t.Errorf("FormatUserError() = %q, want %q", result, expected)
	}
	if FormatUserError(nil) != "" {
		t.Error("FormatUserError(nil) should be empty")
	}
}

func TestIsUserFacing(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error is not user facing", nil, false},
		{"known error is user facing", billing.ErrDuplicateKey, true},
		{"unknown error is not user facing", errors.New("random internal error xyz"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUserFacing(tt.err); got != tt.want {
				t.Errorf("IsUserFacing() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewUserError(t *testing.T) {
	t.Run("nil error returns nil", func(t *testing.T) {
		if got := NewUserError(nil); got != nil {
			t.Errorf("NewUserError(nil) = %v, want nil", got)
		}
	})

	t.Run("wraps technical error with user message", func(t *testing.T) {
		techErr := fmt.Errorf("create customer: %w", billing.ErrDuplicateKey)
		userErr := NewUserError(techErr)

		if userErr.User.Code != "DB001" {
			t.Errorf("Code = %q, want DB001", userErr.User.Code)
		}
		if !errors.Is(userErr, billing.ErrDuplicateKey) {
			t.Error("Unwrap() should expose the original error")
		}
	})
}
