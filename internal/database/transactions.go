package database

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/billing/internal/billing"
)

const upsertTransaction = `INSERT INTO transactions (
	invoice_number, customer_id, platform_id, billing_period,
	billed_amount, paid_amount, status
) VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (invoice_number) DO UPDATE SET
	billed_amount = EXCLUDED.billed_amount,
	paid_amount = EXCLUDED.paid_amount,
	status = EXCLUDED.status
RETURNING (xmax = 0) AS inserted`

// UpsertTransaction inserts by invoice number or overwrites the amounts and
// status of the existing row. Customer and platform links keep the values
// from the first insert. inserted is false when an existing row was updated.
func (q *Queries) UpsertTransaction(ctx context.Context, t billing.Transaction) (bool, error) {
	var inserted bool
	err := q.db.QueryRow(ctx, upsertTransaction,
		t.InvoiceNumber,
		t.CustomerID,
		t.PlatformID,
		t.BillingPeriod,
		t.BilledAmount,
		t.PaidAmount,
		string(t.Status),
	).Scan(&inserted)
	return inserted, mapErr(err)
}

const findPlatformID = `SELECT id FROM payment_platforms WHERE lower(name) = lower($1)`

func (q *Queries) FindPlatformID(ctx context.Context, name string) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx, findPlatformID, strings.TrimSpace(name)).Scan(&id)
	return id, mapErr(err)
}

const getPlatformByName = `SELECT id, name FROM payment_platforms WHERE lower(name) = lower($1)`

func (q *Queries) GetPlatformByName(ctx context.Context, name string) (billing.Platform, error) {
	var p billing.Platform
	err := q.db.QueryRow(ctx, getPlatformByName, strings.TrimSpace(name)).Scan(&p.ID, &p.Name)
	return p, mapErr(err)
}

const listPlatforms = `SELECT id, name FROM payment_platforms ORDER BY name`

func (q *Queries) ListPlatforms(ctx context.Context) ([]billing.Platform, error) {
	rows, err := q.db.Query(ctx, listPlatforms)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	items := []billing.Platform{}
	for rows.Next() {
		var p billing.Platform
		if err := rows.Scan(&p.ID, &p.Name); err != nil {
			return nil, mapErr(err)
		}
		items = append(items, p)
	}
	return items, mapErr(rows.Err())
}

const invoiceColumns = `t.invoice_number,
	TRIM(c.first_name || ' ' || c.last_name) AS customer_name,
	c.identification_number,
	COALESCE(c.email, ''),
	c.phone,
	p.name,
	t.billing_period,
	t.billed_amount,
	t.paid_amount,
	t.billed_amount - t.paid_amount AS pending_amount,
	t.status,
	t.transaction_date`

const invoiceJoins = `FROM transactions t
	JOIN customers c ON c.id = t.customer_id
	JOIN payment_platforms p ON p.id = t.platform_id`

func scanInvoices(rows pgx.Rows) ([]billing.InvoiceView, error) {
	defer rows.Close()

	items := []billing.InvoiceView{}
	for rows.Next() {
		var (
			v      billing.InvoiceView
			status string
		)
		if err := rows.Scan(
			&v.InvoiceNumber,
			&v.CustomerName,
			&v.IdentificationNumber,
			&v.Email,
			&v.Phone,
			&v.PlatformName,
			&v.BillingPeriod,
			&v.BilledAmount,
			&v.PaidAmount,
			&v.PendingAmount,
			&status,
			&v.TransactionDate,
		); err != nil {
			return nil, mapErr(err)
		}
		s, err := billing.ParseStatus(status)
		if err != nil {
			return nil, err
		}
		v.Status = s
		items = append(items, v)
	}
	return items, mapErr(rows.Err())
}

const pendingInvoices = `SELECT ` + invoiceColumns + ` ` + invoiceJoins + `
WHERE t.status IN ('pending', 'partial')
ORDER BY pending_amount DESC, t.invoice_number`

// PendingInvoices lists unpaid and partially paid invoices, largest
// outstanding amount first.
func (q *Queries) PendingInvoices(ctx context.Context) ([]billing.InvoiceView, error) {
	rows, err := q.db.Query(ctx, pendingInvoices)
	if err != nil {
		return nil, mapErr(err)
	}
	return scanInvoices(rows)
}

const transactionsByPlatform = `SELECT ` + invoiceColumns + ` ` + invoiceJoins + `
WHERE t.platform_id = $1
ORDER BY t.billing_period DESC, t.invoice_number`

func (q *Queries) TransactionsByPlatform(ctx context.Context, platformID int64) ([]billing.InvoiceView, error) {
	rows, err := q.db.Query(ctx, transactionsByPlatform, platformID)
	if err != nil {
		return nil, mapErr(err)
	}
	return scanInvoices(rows)
}

const customerBalances = `SELECT
	c.id,
	c.identification_number,
	TRIM(c.first_name || ' ' || c.last_name),
	COALESCE(c.email, ''),
	COUNT(t.id),
	COALESCE(SUM(t.billed_amount), 0),
	COALESCE(SUM(t.paid_amount), 0)
FROM customers c
LEFT JOIN transactions t ON t.customer_id = c.id
GROUP BY c.id
ORDER BY COALESCE(SUM(t.paid_amount), 0) DESC, c.id`

// CustomerBalances totals billed and paid amounts per customer, including
// customers without transactions.
func (q *Queries) CustomerBalances(ctx context.Context) ([]billing.CustomerBalance, error) {
	rows, err := q.db.Query(ctx, customerBalances)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	items := []billing.CustomerBalance{}
	for rows.Next() {
		var b billing.CustomerBalance
		if err := rows.Scan(
			&b.CustomerID,
			&b.IdentificationNumber,
			&b.FullName,
			&b.Email,
			&b.TotalTransactions,
			&b.TotalBilled,
			&b.TotalPaid,
		); err != nil {
			return nil, mapErr(err)
		}
		b.Balance = b.TotalBilled.Sub(b.TotalPaid)
		items = append(items, b)
	}
	return items, mapErr(rows.Err())
}

const stats = `SELECT
	(SELECT COUNT(*) FROM customers),
	COUNT(t.id),
	COUNT(t.id) FILTER (WHERE t.status <> 'paid'),
	COALESCE(SUM(t.billed_amount), 0),
	COALESCE(SUM(t.paid_amount), 0)
FROM transactions t`

func (q *Queries) Stats(ctx context.Context) (billing.Stats, error) {
	var (
		s      billing.Stats
		billed decimal.Decimal
		paid   decimal.Decimal
	)
	err := q.db.QueryRow(ctx, stats).Scan(&s.Customers, &s.Transactions, &s.PendingInvoices, &billed, &paid)
	if err != nil {
		return billing.Stats{}, mapErr(err)
	}
	s.TotalBilled = billed
	s.TotalPaid = paid
	return s, nil
}
