package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/JonMunkholm/billing/internal/billing"
)

var (
	// ErrPlatformNotFound means the row names a payment platform that is not
	// seeded in storage.
	ErrPlatformNotFound = errors.New("payment platform not found")

	// ErrMissingField means a business key needed to store the row is empty.
	ErrMissingField = errors.New("missing required field")

	// ErrMalformedRow means a value could not be parsed. Under best-effort it
	// only produces a warning; under all-or-nothing it fails the row.
	ErrMalformedRow = errors.New("malformed row")

	// ErrBackendUnavailable wraps infrastructure failures. It always aborts
	// the batch.
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrInvalidInput means the source could not be read as a billing CSV.
	ErrInvalidInput = errors.New("invalid input")

	// ErrAlreadyStarted is returned when a Coordinator is run twice.
	ErrAlreadyStarted = errors.New("batch already started")
)

// Kind classifies a row outcome in batch reports.
type Kind string

const (
	KindMalformedRow       Kind = "MalformedRow"
	KindPlatformNotFound   Kind = "PlatformNotFound"
	KindDuplicateKey       Kind = "DuplicateKey"
	KindMissingField       Kind = "MissingField"
	KindBackendUnavailable Kind = "BackendUnavailable"
	KindCancelled          Kind = "Cancelled"
)

// RowLevel reports whether a failure of this kind is scoped to one row.
func (k Kind) RowLevel() bool {
	switch k {
	case KindMalformedRow, KindPlatformNotFound, KindDuplicateKey, KindMissingField:
		return true
	}
	return false
}

// Classify maps an error returned while storing a row to its Kind.
// Anything not recognised is treated as a backend failure.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	case errors.Is(err, ErrPlatformNotFound):
		return KindPlatformNotFound
	case errors.Is(err, billing.ErrDuplicateKey):
		return KindDuplicateKey
	case errors.Is(err, ErrMissingField):
		return KindMissingField
	case errors.Is(err, ErrMalformedRow), errors.Is(err, billing.ErrInvalidValue):
		return KindMalformedRow
	default:
		return KindBackendUnavailable
	}
}

// RowError describes the row that stopped an all-or-nothing batch.
type RowError struct {
	Line                 int
	IdentificationNumber string
	InvoiceNumber        string
	Kind                 Kind
	Err                  error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("line %d (identification %q, invoice %q): %s: %v",
		e.Line, e.IdentificationNumber, e.InvoiceNumber, e.Kind, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

func (e *RowError) failure() RowFailure {
	return RowFailure{
		Line:                 e.Line,
		IdentificationNumber: e.IdentificationNumber,
		InvoiceNumber:        e.InvoiceNumber,
		Kind:                 e.Kind,
		Reason:               e.Err.Error(),
	}
}
