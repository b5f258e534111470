package core

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/gocarina/gocsv"

	"github.com/JonMunkholm/billing/internal/billing"
	"github.com/JonMunkholm/billing/internal/ingest"
)

// TotalPaid lists every customer with their billed and paid totals, highest
// payer first.
func (s *Service) TotalPaid(ctx context.Context) ([]billing.CustomerBalance, error) {
	balances, err := s.repo.CustomerBalances(ctx)
	if err != nil {
		return nil, fmt.Errorf("customer balances: %w", err)
	}
	if balances == nil {
		balances = []billing.CustomerBalance{}
	}
	return balances, nil
}

// PendingInvoices lists invoices in pending or partial status.
func (s *Service) PendingInvoices(ctx context.Context) ([]billing.InvoiceView, error) {
	invoices, err := s.repo.PendingInvoices(ctx)
	if err != nil {
		return nil, fmt.Errorf("pending invoices: %w", err)
	}
	if invoices == nil {
		invoices = []billing.InvoiceView{}
	}
	return invoices, nil
}

type pendingInvoiceRow struct {
	InvoiceNumber        string `csv:"invoice_number"`
	CustomerName         string `csv:"customer_name"`
	IdentificationNumber string `csv:"identification_number"`
	Email                string `csv:"email"`
	Phone                string `csv:"phone"`
	Platform             string `csv:"platform"`
	BillingPeriod        string `csv:"billing_period"`
	BilledAmount         string `csv:"billed_amount"`
	PaidAmount           string `csv:"paid_amount"`
	PendingAmount        string `csv:"pending_amount"`
	Status               string `csv:"status"`
}

// WritePendingInvoicesCSV writes the pending invoice report as CSV with a
// header row. Amounts keep two decimals.
func (s *Service) WritePendingInvoicesCSV(ctx context.Context, w io.Writer) error {
	invoices, err := s.PendingInvoices(ctx)
	if err != nil {
		return err
	}

	rows := make([]*pendingInvoiceRow, 0, len(invoices))
	for _, v := range invoices {
		rows = append(rows, &pendingInvoiceRow{
			InvoiceNumber:        v.InvoiceNumber,
			CustomerName:         v.CustomerName,
			IdentificationNumber: v.IdentificationNumber,
			Email:                v.Email,
			Phone:                v.Phone,
			Platform:             v.PlatformName,
			BillingPeriod:        v.PeriodLabel(),
			BilledAmount:         v.BilledAmount.StringFixed(2),
			PaidAmount:           v.PaidAmount.StringFixed(2),
			PendingAmount:        v.PendingAmount.StringFixed(2),
			Status:               string(v.Status),
		})
	}

	if err := gocsv.Marshal(rows, w); err != nil {
		return fmt.Errorf("write pending invoices csv: %w", err)
	}
	return nil
}

// PlatformTransactions lists the transactions paid through the named
// platform. The name is matched case-insensitively; an unknown name is
// ErrUnknownPlatform.
func (s *Service) PlatformTransactions(ctx context.Context, name string) (*billing.PlatformTransactions, error) {
	p, err := s.repo.GetPlatformByName(ctx, name)
	if errors.Is(err, billing.ErrNotFound) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlatform, name)
	}
	if err != nil {
		return nil, fmt.Errorf("look up platform: %w", err)
	}

	txs, err := s.repo.TransactionsByPlatform(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("transactions for %s: %w", p.Name, err)
	}
	if txs == nil {
		txs = []billing.InvoiceView{}
	}
	return &billing.PlatformTransactions{
		Platform:          p.Name,
		TotalTransactions: len(txs),
		Transactions:      txs,
	}, nil
}

func (s *Service) Platforms(ctx context.Context) ([]billing.Platform, error) {
	platforms, err := s.repo.ListPlatforms(ctx)
	if err != nil {
		return nil, fmt.Errorf("list platforms: %w", err)
	}
	if platforms == nil {
		platforms = []billing.Platform{}
	}
	return platforms, nil
}

// Stats returns the dashboard counters.
func (s *Service) Stats(ctx context.Context) (billing.Stats, error) {
	st, err := s.repo.Stats(ctx)
	if err != nil {
		return billing.Stats{}, fmt.Errorf("stats: %w", err)
	}
	return st, nil
}

// WriteFailuresCSV writes the rejected rows of an import report as CSV so
// they can be fixed and uploaded again.
func WriteFailuresCSV(w io.Writer, report *ingest.Report) error {
	failures := []ingest.RowFailure{}
	if report != nil {
		failures = report.Failures
	}
	if err := gocsv.Marshal(failures, w); err != nil {
		return fmt.Errorf("write failures csv: %w", err)
	}
	return nil
}
