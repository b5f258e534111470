package core_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/billing/internal/billing"
	"github.com/JonMunkholm/billing/internal/core"
	"github.com/JonMunkholm/billing/internal/memstore"
)

func importedService(t *testing.T) (*core.Service, *memstore.Store) {
	t.Helper()
	store := memstore.New("Nequi", "Daviplata")
	svc := newService(t, store, core.Options{})
	data := header +
		`Ana Ruiz,100,"Calle 1, Cienaga, Magdalena, 47741",3001234567,ana@example.com,Nequi,FAC-1,2024-04,100.00,100.00` + "\n" +
		`Eva Mora,300,"Calle 3, Cienaga, Magdalena, 47741",3001234569,eva@example.com,daviplata,FAC-3,2024-04,"1,250.50",250.50` + "\n" +
		`Eva Mora,300,"Calle 3, Cienaga, Magdalena, 47741",3001234569,eva@example.com,Nequi,FAC-4,2024-03,80,0` + "\n"
	report, err := svc.ImportReader(context.Background(), "data.csv", strings.NewReader(data), 0, "", false)
	require.NoError(t, err)
	require.Equal(t, 3, report.Succeeded)
	return svc, store
}

func TestTotalPaid(t *testing.T) {
	svc, _ := importedService(t)

	balances, err := svc.TotalPaid(context.Background())
	require.NoError(t, err)
	require.Len(t, balances, 2)

	assert.Equal(t, "300", balances[0].IdentificationNumber)
	assert.Equal(t, "250.5", balances[0].TotalPaid.String())
	assert.Equal(t, int64(2), balances[0].TotalTransactions)
	assert.Equal(t, "1080", balances[0].Balance.String())
	assert.Equal(t, "100", balances[1].TotalPaid.String())
}

func TestPendingInvoices(t *testing.T) {
	svc, _ := importedService(t)

	invoices, err := svc.PendingInvoices(context.Background())
	require.NoError(t, err)
	require.Len(t, invoices, 2)
	assert.Equal(t, "FAC-3", invoices[0].InvoiceNumber)
	assert.Equal(t, billing.StatusPartial, invoices[0].Status)
	assert.Equal(t, "FAC-4", invoices[1].InvoiceNumber)
	assert.Equal(t, billing.StatusPending, invoices[1].Status)
}

func TestPendingInvoices_EmptyIsNotNil(t *testing.T) {
	svc := newService(t, memstore.New(), core.Options{})

	invoices, err := svc.PendingInvoices(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, invoices)
}

func TestWritePendingInvoicesCSV(t *testing.T) {
	svc, _ := importedService(t)

	var buf bytes.Buffer
	require.NoError(t, svc.WritePendingInvoicesCSV(context.Background(), &buf))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "invoice_number", rows[0][0])
	assert.Equal(t, []string{
		"FAC-3", "Eva Mora", "300", "eva@example.com", "3001234569", "Daviplata",
		"2024-04", "1250.50", "250.50", "1000.00", "partial",
	}, rows[1])
}

func TestPlatformTransactions(t *testing.T) {
	svc, _ := importedService(t)
	ctx := context.Background()

	got, err := svc.PlatformTransactions(ctx, "NEQUI")
	require.NoError(t, err)
	assert.Equal(t, "Nequi", got.Platform)
	assert.Equal(t, 2, got.TotalTransactions)
	assert.Equal(t, "FAC-1", got.Transactions[0].InvoiceNumber)

	_, err = svc.PlatformTransactions(ctx, "PayPal")
	assert.ErrorIs(t, err, core.ErrUnknownPlatform)
	assert.Equal(t, "PLT001", core.MapError(err).Code)
}

func TestPlatformsAndStats(t *testing.T) {
	svc, _ := importedService(t)
	ctx := context.Background()

	platforms, err := svc.Platforms(ctx)
	require.NoError(t, err)
	assert.Len(t, platforms, 2)

	st, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.Customers)
	assert.Equal(t, int64(3), st.Transactions)
	assert.Equal(t, int64(2), st.PendingInvoices)
	assert.Equal(t, "1430.5", st.TotalBilled.String())
	assert.Equal(t, "1080", st.Outstanding().String())
}

func TestReports_StorageError(t *testing.T) {
	store := memstore.New("Nequi")
	boom := errors.New("connection reset by peer")
	store.FailOn = func(op string) error { return boom }
	svc := newService(t, store, core.Options{})

	_, err := svc.TotalPaid(context.Background())
	assert.ErrorIs(t, err, boom)
	_, err = svc.PlatformTransactions(context.Background(), "Nequi")
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, svc.Ping(context.Background()), boom)
}

func TestWriteFailuresCSV(t *testing.T) {
	svc := newService(t, memstore.New("Nequi", "Daviplata"), core.Options{})
	report, err := svc.ImportReader(context.Background(), "data.csv", strings.NewReader(threeRows), 0, "", false)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, core.WriteFailuresCSV(&buf, report))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"line", "identification_number", "invoice_number", "kind", "reason"}, rows[0])
	assert.Equal(t, []string{"3", "200", "FAC-2", "PlatformNotFound"}, rows[1][:4])
}

func TestWriteFailuresCSV_NilReport(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, core.WriteFailuresCSV(&buf, nil))
	assert.Equal(t, "line,identification_number,invoice_number,kind,reason", strings.TrimSpace(buf.String()))
}
