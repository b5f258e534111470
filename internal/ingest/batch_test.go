package ingest_test

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/billing/internal/billing"
	"github.com/JonMunkholm/billing/internal/ingest"
	"github.com/JonMunkholm/billing/internal/memstore"
)

var fixedNow = func() time.Time { return time.Date(2024, time.May, 20, 9, 0, 0, 0, time.UTC) }

func record(line int, idn, invoice, platform, billed, paid string) ingest.Record {
	return ingest.RecordFromMap(line, map[string]string{
		"Nombre del Cliente":       "Cliente " + idn,
		"Numero de Identificacion": idn,
		"Direccion":                "Calle 1, Cienaga, Magdalena, 47741",
		"Telefono":                 "3001234567",
		"Correo Electronico":       "c" + idn + "@example.com",
		"Plataforma Utilizada":     platform,
		"Numero de Factura":        invoice,
		"Periodo de Facturacion":   "2024-04",
		"Monto Facturado":          billed,
		"Monto Pagado":             paid,
	})
}

func seq(recs ...ingest.Record) iter.Seq2[ingest.Record, error] {
	return func(yield func(ingest.Record, error) bool) {
		for _, r := range recs {
			if !yield(r, nil) {
				return
			}
		}
	}
}

func threeRowsWithUnknownPlatform() iter.Seq2[ingest.Record, error] {
	return seq(
		record(2, "100", "FAC-1", "Nequi", "100.00", "100.00"),
		record(3, "200", "FAC-2", "PayPal", "100.00", "50.00"),
		record(4, "300", "FAC-3", "daviplata", "100.00", "0"),
	)
}

func run(t *testing.T, store *memstore.Store, recs iter.Seq2[ingest.Record, error], opts ...ingest.Option) (*ingest.Report, error) {
	t.Helper()
	opts = append([]ingest.Option{ingest.WithClock(fixedNow)}, opts...)
	return ingest.NewCoordinator(store, opts...).Run(context.Background(), recs)
}

func TestRun_AllOrNothingRollsBackOnUnknownPlatform(t *testing.T) {
	store := memstore.New("Nequi", "Daviplata")

	report, err := run(t, store, threeRowsWithUnknownPlatform(), ingest.WithPolicy(ingest.PolicyAllOrNothing))

	var rowErr *ingest.RowError
	require.ErrorAs(t, err, &rowErr)
	assert.ErrorIs(t, err, ingest.ErrPlatformNotFound)
	assert.Equal(t, 3, rowErr.Line)
	assert.Equal(t, "FAC-2", rowErr.InvoiceNumber)

	assert.Equal(t, ingest.OutcomeRolledBack, report.Outcome)
	assert.Equal(t, 2, report.Attempted, "stops at the failing row")
	assert.Equal(t, 0, report.Succeeded)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, ingest.KindPlatformNotFound, report.Failures[0].Kind)

	customers, transactions := store.Counts()
	assert.Equal(t, 0, customers)
	assert.Equal(t, 0, transactions)
}

func TestRun_BestEffortSkipsUnknownPlatform(t *testing.T) {
	store := memstore.New("Nequi", "Daviplata")

	report, err := run(t, store, threeRowsWithUnknownPlatform())
	require.NoError(t, err)

	assert.Equal(t, ingest.OutcomeCommitted, report.Outcome)
	assert.Equal(t, 3, report.Attempted)
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Failures, 1)

	f := report.Failures[0]
	assert.Equal(t, ingest.KindPlatformNotFound, f.Kind)
	assert.Equal(t, 3, f.Line)
	assert.Equal(t, "200", f.IdentificationNumber)
	assert.Equal(t, "FAC-2", f.InvoiceNumber)

	customers, transactions := store.Counts()
	assert.Equal(t, 2, transactions)
	assert.Equal(t, 2, customers, "the failed row's customer is rolled back with its savepoint")

	_, ok := store.CustomerByIdentification("200")
	assert.False(t, ok)

	tx, ok := store.Transaction("FAC-1")
	require.True(t, ok)
	assert.Equal(t, billing.StatusPaid, tx.Status)
	tx, _ = store.Transaction("FAC-3")
	assert.Equal(t, billing.StatusPending, tx.Status)
	assert.Equal(t, int64(2), tx.PlatformID, "platform lookup is case-insensitive")
}

func TestRun_ReimportIsIdempotent(t *testing.T) {
	store := memstore.New("Nequi")

	_, err := run(t, store, seq(record(2, "100", "FAC-1", "Nequi", "100.00", "0")))
	require.NoError(t, err)

	report, err := run(t, store, seq(record(2, "100", "FAC-1", "NEQUI", "120.00", "60.00")))
	require.NoError(t, err)
	assert.Equal(t, 0, report.CustomersCreated)
	assert.Equal(t, 0, report.TransactionsInserted)
	assert.Equal(t, 1, report.TransactionsUpdated)

	customers, transactions := store.Counts()
	assert.Equal(t, 1, customers)
	assert.Equal(t, 1, transactions)

	tx, _ := store.Transaction("FAC-1")
	assert.True(t, tx.BilledAmount.Equal(decimal.NewFromInt(120)))
	assert.True(t, tx.PaidAmount.Equal(decimal.NewFromInt(60)))
	assert.Equal(t, billing.StatusPartial, tx.Status)
}

func TestRun_ExistingCustomerIsNotModified(t *testing.T) {
	store := memstore.New("Nequi")

	_, err := run(t, store, seq(record(2, "100", "FAC-1", "Nequi", "1", "1")))
	require.NoError(t, err)

	changed := ingest.RecordFromMap(2, map[string]string{
		"Nombre del Cliente":       "Otro Nombre",
		"Numero de Identificacion": "100",
		"Correo Electronico":       "nuevo@example.com",
		"Plataforma Utilizada":     "Nequi",
		"Numero de Factura":        "FAC-2",
		"Periodo de Facturacion":   "2024-04",
	})
	report, err := run(t, store, seq(changed))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)

	c, ok := store.CustomerByIdentification("100")
	require.True(t, ok)
	assert.Equal(t, "Cliente", c.FirstName)
	assert.Equal(t, "c100@example.com", c.Email)
}

func TestRun_DuplicateEmailIsRowLevel(t *testing.T) {
	store := memstore.New("Nequi")

	a := record(2, "100", "FAC-1", "Nequi", "10", "0")
	b := ingest.RecordFromMap(3, map[string]string{
		"Numero de Identificacion": "999",
		"Correo Electronico":       "c100@example.com",
		"Plataforma Utilizada":     "Nequi",
		"Numero de Factura":        "FAC-2",
		"Periodo de Facturacion":   "2024-04",
	})

	report, err := run(t, store, seq(a, b))
	require.NoError(t, err)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, ingest.KindDuplicateKey, report.Failures[0].Kind)
	assert.Equal(t, 1, report.Succeeded)
}

func TestRun_MissingKeys(t *testing.T) {
	store := memstore.New("Nequi")

	report, err := run(t, store, seq(
		record(2, "", "FAC-1", "Nequi", "1", "0"),
		record(3, "100", "", "Nequi", "1", "0"),
	))
	require.NoError(t, err)
	require.Len(t, report.Failures, 2)
	assert.Equal(t, ingest.KindMissingField, report.Failures[0].Kind)
	assert.Equal(t, ingest.KindMissingField, report.Failures[1].Kind)

	customers, _ := store.Counts()
	assert.Equal(t, 0, customers)
}

func TestRun_MalformedRow(t *testing.T) {
	bad := record(2, "100", "FAC-1", "Nequi", "cien", "0")

	t.Run("best effort stores the row with a warning", func(t *testing.T) {
		store := memstore.New("Nequi")
		report, err := run(t, store, seq(bad))
		require.NoError(t, err)
		assert.Equal(t, 1, report.Succeeded)
		require.Len(t, report.Warnings, 1)
		assert.Equal(t, ingest.ColBilled.Label, report.Warnings[0].Field)

		tx, ok := store.Transaction("FAC-1")
		require.True(t, ok)
		assert.True(t, tx.BilledAmount.IsZero())
	})

	t.Run("all or nothing fails the batch", func(t *testing.T) {
		store := memstore.New("Nequi")
		report, err := run(t, store, seq(bad), ingest.WithPolicy(ingest.PolicyAllOrNothing))
		require.ErrorIs(t, err, ingest.ErrMalformedRow)
		assert.Equal(t, ingest.KindMalformedRow, report.Failures[0].Kind)
		_, transactions := store.Counts()
		assert.Equal(t, 0, transactions)
	})
}

func TestRun_BackendFailureIsFatalUnderBestEffort(t *testing.T) {
	store := memstore.New("Nequi", "Daviplata")
	calls := 0
	store.FailOn = func(op string) error {
		if op == "upsert_transaction" {
			calls++
			if calls == 2 {
				return errors.New("connection reset by peer")
			}
		}
		return nil
	}

	report, err := run(t, store, threeRowsWithUnknownPlatform())
	require.ErrorIs(t, err, ingest.ErrBackendUnavailable)
	assert.Equal(t, ingest.OutcomeRolledBack, report.Outcome)
	assert.Equal(t, 0, report.Succeeded)

	customers, transactions := store.Counts()
	assert.Equal(t, 0, customers)
	assert.Equal(t, 0, transactions)
}

func TestRun_BeginFailure(t *testing.T) {
	store := memstore.New("Nequi")
	store.FailOn = func(op string) error {
		if op == "begin" {
			return errors.New("too many connections")
		}
		return nil
	}

	c := ingest.NewCoordinator(store)
	report, err := c.Run(context.Background(), seq(record(2, "1", "F", "Nequi", "1", "1")))
	require.ErrorIs(t, err, ingest.ErrBackendUnavailable)
	assert.Equal(t, ingest.OutcomeRolledBack, report.Outcome)
	assert.Equal(t, ingest.StateRolledBack, c.State())
}

func TestRun_CommitFailure(t *testing.T) {
	store := memstore.New("Nequi")
	store.FailOn = func(op string) error {
		if op == "commit" {
			return errors.New("server closed the connection")
		}
		return nil
	}

	report, err := run(t, store, seq(record(2, "1", "F", "Nequi", "1", "1")))
	require.ErrorIs(t, err, ingest.ErrBackendUnavailable)
	assert.Equal(t, ingest.OutcomeRolledBack, report.Outcome)
	assert.Equal(t, 0, report.Succeeded)
}

func TestRun_SourceErrorAbortsBatch(t *testing.T) {
	store := memstore.New("Nequi")
	src := func(yield func(ingest.Record, error) bool) {
		if !yield(record(2, "1", "F-1", "Nequi", "1", "1"), nil) {
			return
		}
		yield(ingest.Record{}, errors.New("bare \" in non-quoted field"))
	}

	report, err := run(t, store, src)
	require.ErrorIs(t, err, ingest.ErrInvalidInput)
	assert.Equal(t, ingest.OutcomeRolledBack, report.Outcome)
	_, transactions := store.Counts()
	assert.Equal(t, 0, transactions)
}

func TestRun_CancelBetweenRows(t *testing.T) {
	store := memstore.New("Nequi")
	ctx, cancel := context.WithCancel(context.Background())

	c := ingest.NewCoordinator(store, ingest.WithClock(fixedNow), ingest.WithProgress(1, func(p ingest.Progress) {
		if p.Attempted == 1 {
			cancel()
		}
	}))

	report, err := c.Run(ctx, seq(
		record(2, "1", "F-1", "Nequi", "1", "1"),
		record(3, "2", "F-2", "Nequi", "1", "1"),
	))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, report.Attempted)
	assert.Equal(t, ingest.StateRolledBack, c.State())

	customers, _ := store.Counts()
	assert.Equal(t, 0, customers)
}

func TestRun_StateIsObservable(t *testing.T) {
	store := memstore.New("Nequi")
	c := ingest.NewCoordinator(store, ingest.WithClock(fixedNow))
	assert.Equal(t, ingest.StateIdle, c.State())

	var mu sync.Mutex
	var seen []ingest.State
	src := func(yield func(ingest.Record, error) bool) {
		mu.Lock()
		seen = append(seen, c.State())
		mu.Unlock()
		yield(record(2, "1", "F-1", "Nequi", "1", "1"), nil)
	}

	_, err := c.Run(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, []ingest.State{ingest.StateRunning}, seen)
	assert.Equal(t, ingest.StateCommitted, c.State())
	assert.Equal(t, "committed", c.State().String())

	_, err = c.Run(context.Background(), src)
	assert.ErrorIs(t, err, ingest.ErrAlreadyStarted)
}

func TestRun_DryRunStoresNothing(t *testing.T) {
	store := memstore.New("Nequi", "Daviplata")

	report, err := run(t, store, threeRowsWithUnknownPlatform(), ingest.WithDryRun())
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, ingest.OutcomeRolledBack, report.Outcome)

	customers, transactions := store.Counts()
	assert.Equal(t, 0, customers)
	assert.Equal(t, 0, transactions)
}

func TestRun_FromCSV(t *testing.T) {
	store := memstore.New("Nequi", "Daviplata")
	input := "Nombre del Cliente,Numero de Identificacion,Direccion,Telefono,Correo Electronico,Plataforma Utilizada,Numero de Factura,Periodo de Facturacion,Monto Facturado,Monto Pagado\n" +
		`Maria Fernanda Lopez,1023,"123 Main St, Springfield, IL, 62704",555-1234 x402,maria@example.com,Nequi,FAC-1,2024-03,100.00,50.00` + "\n" +
		`Maria Fernanda Lopez,1023,"123 Main St, Springfield, IL, 62704",555-1234 x402,maria@example.com,Daviplata,FAC-2,2024-04,100.00,100.00` + "\n"

	report, err := run(t, store, ingest.ReadRecords(strings.NewReader(input)))
	require.NoError(t, err)
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 1, report.CustomersCreated)
	assert.Equal(t, 2, report.TransactionsInserted)

	c, ok := store.CustomerByIdentification("1023")
	require.True(t, ok)
	assert.Equal(t, "Fernanda Lopez", c.LastName)
	assert.Equal(t, "62704", c.ZipCode)
	require.NotNil(t, c.PhoneExtension)
	assert.Equal(t, "402", *c.PhoneExtension)
}

func TestParsePolicy(t *testing.T) {
	for in, want := range map[string]ingest.Policy{
		"best-effort":    ingest.PolicyBestEffort,
		"BEST_EFFORT":    ingest.PolicyBestEffort,
		"all-or-nothing": ingest.PolicyAllOrNothing,
		"atomic":         ingest.PolicyAllOrNothing,
	} {
		got, err := ingest.ParsePolicy(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ingest.ParsePolicy("sometimes")
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want ingest.Kind
	}{
		{ingest.ErrPlatformNotFound, ingest.KindPlatformNotFound},
		{billing.ErrDuplicateKey, ingest.KindDuplicateKey},
		{billing.ErrInvalidValue, ingest.KindMalformedRow},
		{ingest.ErrMissingField, ingest.KindMissingField},
		{context.DeadlineExceeded, ingest.KindCancelled},
		{errors.New("dial tcp: connection refused"), ingest.KindBackendUnavailable},
	}
	for _, tt := range tests {
		got := ingest.Classify(tt.err)
		assert.Equal(t, tt.want, got, tt.err.Error())
		assert.Equal(t, tt.want != ingest.KindBackendUnavailable && tt.want != ingest.KindCancelled, got.RowLevel())
	}
}
