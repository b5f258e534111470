package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/billing/internal/config"
	"github.com/JonMunkholm/billing/internal/core"
	"github.com/JonMunkholm/billing/internal/ingest"
	"github.com/JonMunkholm/billing/internal/memstore"
)

const header = "Nombre del Cliente,Numero de Identificacion,Direccion,Telefono,Correo Electronico,Plataforma Utilizada,Numero de Factura,Periodo de Facturacion,Monto Facturado,Monto Pagado\n"

const threeRows = header +
	`Ana Ruiz,100,"Calle 1, Cienaga, Magdalena, 47741",3001234567,ana@example.com,Nequi,FAC-1,2024-04,100.00,100.00` + "\n" +
	`Luis Gil,200,"Calle 2, Cienaga, Magdalena, 47741",3001234568,luis@example.com,PayPal,FAC-2,2024-04,100.00,50.00` + "\n" +
	`Eva Mora,300,"Calle 3, Cienaga, Magdalena, 47741",3001234569,eva@example.com,daviplata,FAC-3,2024-04,100.00,0` + "\n"

// execute runs billingctl against a memstore and returns stdout.
func execute(t *testing.T, store *memstore.Store, args ...string) (string, error) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/billing_test")
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	closed := false
	connect := func(ctx context.Context, cfg *config.Config) (*core.Service, func(), error) {
		opts, err := core.OptionsFromConfig(cfg)
		if err != nil {
			return nil, nil, err
		}
		return core.NewService(store, store, opts), func() { closed = true }, nil
	}

	cmd, a := newRootCmd(connect)
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())
	connected := a.svc != nil
	a.close()
	if connected {
		assert.True(t, closed, "connection was not closed")
	}
	return stdout.String(), err
}

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "billing.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestImport_BestEffort(t *testing.T) {
	store := memstore.New("Nequi", "Daviplata")
	failures := filepath.Join(t.TempDir(), "failures.csv")

	out, err := execute(t, store, "import", writeCSV(t, threeRows), "--failures", failures)
	require.NoError(t, err)

	assert.Contains(t, out, "outcome:      committed")
	assert.Contains(t, out, "3 attempted, 2 stored, 1 failed")
	assert.Contains(t, out, "PlatformNotFound")

	customers, transactions := store.Counts()
	assert.Equal(t, 2, customers)
	assert.Equal(t, 2, transactions)

	f, err := os.Open(failures)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "FAC-2", rows[1][2])
}

func TestImport_AllOrNothingFails(t *testing.T) {
	store := memstore.New("Nequi", "Daviplata")

	out, err := execute(t, store, "import", writeCSV(t, threeRows), "--policy", "all-or-nothing", "--json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "IMP004")

	var rowErr *ingest.RowError
	assert.ErrorAs(t, err, &rowErr)

	var report ingest.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, ingest.OutcomeRolledBack, report.Outcome)

	customers, _ := store.Counts()
	assert.Zero(t, customers)
}

func TestImport_DryRun(t *testing.T) {
	store := memstore.New("Nequi", "Daviplata")

	out, err := execute(t, store, "import", writeCSV(t, threeRows), "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "(dry run)")

	customers, _ := store.Counts()
	assert.Zero(t, customers)
}

func TestImport_BadArguments(t *testing.T) {
	store := memstore.New("Nequi")

	_, err := execute(t, store, "import", writeCSV(t, threeRows), "--policy", "maybe")
	assert.ErrorContains(t, err, "unknown import policy")

	_, err = execute(t, store, "import", filepath.Join(t.TempDir(), "missing.csv"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = execute(t, store, "import")
	assert.Error(t, err)
}

func TestPlatforms(t *testing.T) {
	out, err := execute(t, memstore.New("Nequi", "Daviplata"), "platforms")
	require.NoError(t, err)
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "Daviplata")
}

func TestPendingInvoices(t *testing.T) {
	store := memstore.New("Nequi", "Daviplata")
	_, err := execute(t, store, "import", writeCSV(t, threeRows))
	require.NoError(t, err)

	out, err := execute(t, store, "pending-invoices")
	require.NoError(t, err)
	rows, err := csv.NewReader(bytes.NewBufferString(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "FAC-3", rows[1][0])
}
