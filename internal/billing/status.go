package billing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Status is the payment state of a transaction.
type Status string

const (
	StatusPending Status = "pending"
	StatusPartial Status = "partial"
	StatusPaid    Status = "paid"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPartial, StatusPaid:
		return true
	}
	return false
}

// ParseStatus converts a stored status string.
func ParseStatus(v string) (Status, error) {
	s := Status(v)
	if !s.Valid() {
		return "", fmt.Errorf("unknown transaction status %q", v)
	}
	return s, nil
}

// Derive computes the status of a transaction from its amounts.
//
// Nothing paid is pending, even when nothing was billed. Paying the billed
// amount or more is paid. Anything in between is partial. Amounts are
// expected to be non-negative; a negative paid amount counts as nothing paid.
func Derive(billed, paid decimal.Decimal) Status {
	if paid.Sign() <= 0 {
		return StatusPending
	}
	if paid.GreaterThanOrEqual(billed) {
		return StatusPaid
	}
	return StatusPartial
}
