package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// CustomerBalance aggregates a customer's transactions.
type CustomerBalance struct {
	CustomerID           int64           `json:"customer_id"`
	IdentificationNumber string          `json:"identification_number"`
	FullName             string          `json:"full_name"`
	Email                string          `json:"email"`
	TotalTransactions    int64           `json:"total_transactions"`
	TotalBilled          decimal.Decimal `json:"total_billed"`
	TotalPaid            decimal.Decimal `json:"total_paid"`
	Balance              decimal.Decimal `json:"balance"`
}

// InvoiceView is a transaction joined with its customer and platform.
type InvoiceView struct {
	InvoiceNumber        string          `json:"invoice_number"`
	CustomerName         string          `json:"customer_name"`
	IdentificationNumber string          `json:"identification_number"`
	Email                string          `json:"email,omitempty"`
	Phone                string          `json:"phone,omitempty"`
	PlatformName         string          `json:"platform_name"`
	BillingPeriod        time.Time       `json:"billing_period"`
	BilledAmount         decimal.Decimal `json:"billed_amount"`
	PaidAmount           decimal.Decimal `json:"paid_amount"`
	PendingAmount        decimal.Decimal `json:"pending_amount"`
	Status               Status          `json:"status"`
	TransactionDate      time.Time       `json:"transaction_date"`
}

// PeriodLabel formats the billing period as YYYY-MM.
func (v InvoiceView) PeriodLabel() string {
	if v.BillingPeriod.IsZero() {
		return ""
	}
	return v.BillingPeriod.Format("2006-01")
}

// PlatformTransactions is the per-platform transaction listing.
type PlatformTransactions struct {
	Platform          string        `json:"platform"`
	TotalTransactions int           `json:"total_transactions"`
	Transactions      []InvoiceView `json:"transactions"`
}

// Stats feeds the dashboard counters.
type Stats struct {
	Customers       int64           `json:"customers"`
	Transactions    int64           `json:"transactions"`
	PendingInvoices int64           `json:"pending_invoices"`
	TotalBilled     decimal.Decimal `json:"total_billed"`
	TotalPaid       decimal.Decimal `json:"total_paid"`
}

// Outstanding is billed minus paid, floored at zero.
func (s Stats) Outstanding() decimal.Decimal {
	d := s.TotalBilled.Sub(s.TotalPaid)
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
