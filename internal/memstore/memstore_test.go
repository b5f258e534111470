package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/billing/internal/billing"
)

func customer(idn, email string) billing.Customer {
	return billing.Customer{IdentificationNumber: idn, FirstName: "Ana", LastName: "Ruiz", Email: email}
}

func TestTx_CommitPublishesWork(t *testing.T) {
	ctx := context.Background()
	s := New("Nequi")

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	id, err := tx.InsertCustomer(ctx, customer("100", "ana@example.com"))
	require.NoError(t, err)

	customers, _ := s.Counts()
	assert.Zero(t, customers, "uncommitted work must not be visible")

	require.NoError(t, tx.Commit(ctx))
	got, ok := s.CustomerByIdentification("100")
	require.True(t, ok)
	assert.Equal(t, id, got.ID)

	assert.ErrorIs(t, tx.Commit(ctx), ErrTxDone)
	assert.NoError(t, tx.Rollback(ctx))
}

func TestTx_RollbackDiscardsWork(t *testing.T) {
	ctx := context.Background()
	s := New("Nequi")

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.InsertCustomer(ctx, customer("100", ""))
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(ctx))

	customers, _ := s.Counts()
	assert.Zero(t, customers)
	_, err = tx.FindCustomerID(ctx, "100")
	assert.ErrorIs(t, err, ErrTxDone)
}

func TestTx_Savepoints(t *testing.T) {
	ctx := context.Background()
	s := New("Nequi")

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.InsertCustomer(ctx, customer("100", ""))
	require.NoError(t, err)

	require.NoError(t, tx.Savepoint(ctx, "row_3"))
	_, err = tx.InsertCustomer(ctx, customer("200", ""))
	require.NoError(t, err)
	require.NoError(t, tx.RollbackToSavepoint(ctx, "row_3"))
	require.NoError(t, tx.ReleaseSavepoint(ctx, "row_3"))

	_, err = tx.FindCustomerID(ctx, "200")
	assert.ErrorIs(t, err, billing.ErrNotFound)
	_, err = tx.FindCustomerID(ctx, "100")
	assert.NoError(t, err)

	assert.Error(t, tx.RollbackToSavepoint(ctx, "row_3"))
}

func TestTx_UniqueKeys(t *testing.T) {
	ctx := context.Background()
	s := New("Nequi")

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.InsertCustomer(ctx, customer("100", "ana@example.com"))
	require.NoError(t, err)

	_, err = tx.InsertCustomer(ctx, customer("100", "other@example.com"))
	assert.ErrorIs(t, err, billing.ErrDuplicateKey)

	_, err = tx.InsertCustomer(ctx, customer("101", "ANA@example.com"))
	assert.ErrorIs(t, err, billing.ErrDuplicateKey)

	// Empty emails never collide.
	_, err = tx.InsertCustomer(ctx, customer("102", ""))
	require.NoError(t, err)
	_, err = tx.InsertCustomer(ctx, customer("103", ""))
	assert.NoError(t, err)
}

func TestTx_UpsertTransaction(t *testing.T) {
	ctx := context.Background()
	s := New("Nequi", "Daviplata")

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	cid, err := tx.InsertCustomer(ctx, customer("100", ""))
	require.NoError(t, err)
	pid, err := tx.FindPlatformID(ctx, " daviplata ")
	require.NoError(t, err)
	assert.Equal(t, int64(2), pid)

	in := billing.Transaction{
		InvoiceNumber: "FAC-1",
		CustomerID:    cid,
		PlatformID:    pid,
		BilledAmount:  decimal.NewFromInt(100),
		PaidAmount:    decimal.Zero,
		Status:        billing.StatusPending,
	}
	inserted, err := tx.UpsertTransaction(ctx, in)
	require.NoError(t, err)
	assert.True(t, inserted)

	in.PaidAmount = decimal.NewFromInt(100)
	in.Status = billing.StatusPaid
	inserted, err = tx.UpsertTransaction(ctx, in)
	require.NoError(t, err)
	assert.False(t, inserted)

	in.CustomerID = 99
	_, err = tx.UpsertTransaction(ctx, in)
	assert.ErrorIs(t, err, billing.ErrInvalidValue)

	require.NoError(t, tx.Commit(ctx))
	got, ok := s.Transaction("FAC-1")
	require.True(t, ok)
	assert.Equal(t, billing.StatusPaid, got.Status)
	assert.Equal(t, int64(1), got.ID)

	_, err = s.GetPlatformByName(ctx, "Bancolombia")
	assert.ErrorIs(t, err, billing.ErrNotFound)
}

func TestStore_FailOn(t *testing.T) {
	ctx := context.Background()
	s := New("Nequi")
	boom := errors.New("connection refused")
	s.FailOn = func(op string) error {
		if op == "commit" {
			return boom
		}
		return nil
	}

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.InsertCustomer(ctx, customer("100", ""))
	require.NoError(t, err)
	assert.ErrorIs(t, tx.Commit(ctx), boom)
	require.NoError(t, tx.Rollback(ctx))

	customers, _ := s.Counts()
	assert.Zero(t, customers)
}

func TestStore_DeleteReferencedCustomer(t *testing.T) {
	ctx := context.Background()
	s := New("Nequi")

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	cid, err := tx.InsertCustomer(ctx, customer("100", ""))
	require.NoError(t, err)
	_, err = tx.UpsertTransaction(ctx, billing.Transaction{InvoiceNumber: "FAC-1", CustomerID: cid, PlatformID: 1, Status: billing.StatusPending})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	assert.ErrorIs(t, s.DeleteCustomer(ctx, cid), billing.ErrReferenced)
	assert.ErrorIs(t, s.DeleteCustomer(ctx, cid+1), billing.ErrNotFound)

	c, err := s.CreateCustomer(ctx, customer("200", ""))
	require.NoError(t, err)
	require.NoError(t, s.DeleteCustomer(ctx, c.ID))
}

func TestStore_Reports(t *testing.T) {
	ctx := context.Background()
	s := New("Nequi")

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	a, err := tx.InsertCustomer(ctx, customer("100", ""))
	require.NoError(t, err)
	b, err := tx.InsertCustomer(ctx, customer("200", ""))
	require.NoError(t, err)
	for _, in := range []billing.Transaction{
		{InvoiceNumber: "FAC-1", CustomerID: a, PlatformID: 1, BilledAmount: decimal.NewFromInt(100), PaidAmount: decimal.NewFromInt(100), Status: billing.StatusPaid},
		{InvoiceNumber: "FAC-2", CustomerID: b, PlatformID: 1, BilledAmount: decimal.NewFromInt(100), PaidAmount: decimal.NewFromInt(40), Status: billing.StatusPartial},
		{InvoiceNumber: "FAC-3", CustomerID: b, PlatformID: 1, BilledAmount: decimal.NewFromInt(80), PaidAmount: decimal.Zero, Status: billing.StatusPending},
	} {
		_, err := tx.UpsertTransaction(ctx, in)
		require.NoError(t, err)
	}
	require.NoError(t, tx.Commit(ctx))

	balances, err := s.CustomerBalances(ctx)
	require.NoError(t, err)
	require.Len(t, balances, 2)
	assert.Equal(t, a, balances[0].CustomerID)
	assert.Equal(t, "140", balances[1].Balance.String())

	pending, err := s.PendingInvoices(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "FAC-3", pending[0].InvoiceNumber)
	assert.Equal(t, "Nequi", pending[0].PlatformName)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.PendingInvoices)
	assert.Equal(t, "280", st.TotalBilled.String())
	assert.Equal(t, "140", st.TotalPaid.String())
}
