package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/billing/internal/billing"
)

// Queries is the storage surface the gateway writes through. Implementations
// must use parameterized statements and report unique violations as
// billing.ErrDuplicateKey and missing rows as billing.ErrNotFound.
type Queries interface {
	FindCustomerID(ctx context.Context, identificationNumber string) (int64, error)
	InsertCustomer(ctx context.Context, c billing.Customer) (int64, error)
	// FindPlatformID matches the platform name case-insensitively.
	FindPlatformID(ctx context.Context, name string) (int64, error)
	// UpsertTransaction inserts by invoice number or, when it exists,
	// overwrites only the amounts and status. inserted is false on update.
	UpsertTransaction(ctx context.Context, t billing.Transaction) (inserted bool, err error)
}

// Gateway resolves customers and stores transactions for one unit of work.
//
// Existing customers are never modified by an import: the first import of
// an identification number decides the stored name, address and contact
// details. Later changes go through the customer API.
type Gateway struct {
	q         Queries
	platforms map[string]int64
}

// NewGateway returns a gateway writing through q.
func NewGateway(q Queries) *Gateway {
	return &Gateway{q: q, platforms: make(map[string]int64)}
}

// ResolveCustomer returns the id of the customer with the draft's
// identification number, inserting the draft when there is none.
func (g *Gateway) ResolveCustomer(ctx context.Context, draft billing.Customer) (id int64, created bool, err error) {
	if draft.IdentificationNumber == "" {
		return 0, false, fmt.Errorf("%w: identification number", ErrMissingField)
	}

	id, err = g.q.FindCustomerID(ctx, draft.IdentificationNumber)
	if err == nil {
		return id, false, nil
	}
	if !errors.Is(err, billing.ErrNotFound) {
		return 0, false, fmt.Errorf("find customer %s: %w", draft.IdentificationNumber, err)
	}

	id, err = g.q.InsertCustomer(ctx, draft)
	if err != nil {
		return 0, false, fmt.Errorf("insert customer %s: %w", draft.IdentificationNumber, err)
	}
	return id, true, nil
}

// UpsertTransaction stores the draft for customerID. The status is always
// derived from the amounts being written.
func (g *Gateway) UpsertTransaction(ctx context.Context, customerID int64, draft TransactionDraft) (inserted bool, err error) {
	if draft.InvoiceNumber == "" {
		return false, fmt.Errorf("%w: invoice number", ErrMissingField)
	}

	platformID, err := g.platformID(ctx, draft.PlatformName)
	if err != nil {
		return false, err
	}

	inserted, err = g.q.UpsertTransaction(ctx, billing.Transaction{
		InvoiceNumber: draft.InvoiceNumber,
		CustomerID:    customerID,
		PlatformID:    platformID,
		BillingPeriod: draft.BillingPeriod,
		BilledAmount:  draft.BilledAmount,
		PaidAmount:    draft.PaidAmount,
		Status:        draft.Status(),
	})
	if err != nil {
		return false, fmt.Errorf("upsert invoice %s: %w", draft.InvoiceNumber, err)
	}
	return inserted, nil
}

// platformID looks a platform up once per batch. Platforms are seeded
// reference data and are not written by imports.
func (g *Gateway) platformID(ctx context.Context, name string) (int64, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return 0, fmt.Errorf("%w: empty platform name", ErrPlatformNotFound)
	}
	if id, ok := g.platforms[key]; ok {
		return id, nil
	}

	id, err := g.q.FindPlatformID(ctx, name)
	if errors.Is(err, billing.ErrNotFound) {
		return 0, fmt.Errorf("%w: %q", ErrPlatformNotFound, name)
	}
	if err != nil {
		return 0, fmt.Errorf("find platform %q: %w", name, err)
	}
	g.platforms[key] = id
	return id, nil
}
