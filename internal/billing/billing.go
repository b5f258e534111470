// Package billing defines the customer, payment platform and transaction
// records kept by the service, together with the rules that derive a
// transaction's payment status.
package billing

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned by storage when a looked-up record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateKey is returned by storage when a write collides with a
	// unique key (identification_number or invoice_number).
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidValue is returned by storage when a value is rejected by a
	// column type or check constraint.
	ErrInvalidValue = errors.New("invalid value")

	// ErrReferenced is returned when deleting a record other rows point to.
	ErrReferenced = errors.New("record is referenced by other records")
)

// Customer is a billed party, unique by IdentificationNumber.
type Customer struct {
	ID                   int64     `json:"customer_id"`
	IdentificationNumber string    `json:"identification_number"`
	FirstName            string    `json:"first_name"`
	LastName             string    `json:"last_name"`
	StreetAddress        string    `json:"street_address"`
	City                 string    `json:"city"`
	State                string    `json:"state"`
	ZipCode              string    `json:"zip_code"`
	Phone                string    `json:"phone"`
	PhoneExtension       *string   `json:"phone_extension"`
	Email                string    `json:"email"`
	CreatedAt            time.Time `json:"created_at"`
}

// FullName joins first and last name the way reports display them.
func (c Customer) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// Validate checks the fields required for manual entry.
// Rows coming from an import are allowed to carry fewer fields.
func (c Customer) Validate() error {
	var missing []string
	if strings.TrimSpace(c.IdentificationNumber) == "" {
		missing = append(missing, "identification_number")
	}
	if strings.TrimSpace(c.FirstName) == "" {
		missing = append(missing, "first_name")
	}
	if strings.TrimSpace(c.LastName) == "" {
		missing = append(missing, "last_name")
	}
	if strings.TrimSpace(c.Email) == "" {
		missing = append(missing, "email")
	}
	if len(missing) > 0 {
		return &MissingFieldsError{Fields: missing}
	}
	return nil
}

// MissingFieldsError lists required fields that were empty.
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return "missing required fields: " + strings.Join(e.Fields, ", ")
}

// Platform is a payment channel such as Nequi or Daviplata.
type Platform struct {
	ID   int64  `json:"platform_id"`
	Name string `json:"platform_name"`
}

// Transaction is one invoice line, unique by InvoiceNumber.
type Transaction struct {
	ID              int64           `json:"transaction_id"`
	InvoiceNumber   string          `json:"invoice_number"`
	CustomerID      int64           `json:"customer_id"`
	PlatformID      int64           `json:"platform_id"`
	BillingPeriod   time.Time       `json:"billing_period"`
	BilledAmount    decimal.Decimal `json:"billed_amount"`
	PaidAmount      decimal.Decimal `json:"paid_amount"`
	Status          Status          `json:"status"`
	TransactionDate time.Time       `json:"transaction_date"`
}

// FirstOfMonth truncates t to midnight UTC on the first day of its month.
func FirstOfMonth(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
