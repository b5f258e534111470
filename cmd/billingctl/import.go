package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/billing/internal/core"
	"github.com/JonMunkholm/billing/internal/ingest"
)

type importOptions struct {
	policy   string
	dryRun   bool
	failures string
	jsonOut  bool
}

func newImportCmd(a *app) *cobra.Command {
	var opts importOptions

	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Import a billing CSV file",
		Long: `Import reads FILE as a billing CSV and stores its customers and
transactions in one batch.

With --policy best-effort, rows that fail are skipped and reported. With
--policy all-or-nothing, the first failing row rolls the whole file back.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runImport(cmd.Context(), cmd.OutOrStdout(), args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.policy, "policy", "", "failure policy: best-effort or all-or-nothing (default: IMPORT_POLICY)")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "validate the file and roll back instead of committing")
	cmd.Flags().StringVar(&opts.failures, "failures", "", "write rejected rows to this CSV file")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "print the report as JSON")

	return cmd
}

func (a *app) runImport(ctx context.Context, out io.Writer, path string, opts importOptions) error {
	var policy ingest.Policy
	if opts.policy != "" {
		p, err := ingest.ParsePolicy(opts.policy)
		if err != nil {
			return err
		}
		policy = p
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	report, runErr := a.svc.ImportReader(ctx, filepath.Base(path), f, info.Size(), policy, opts.dryRun)
	if report != nil {
		if opts.jsonOut {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
		} else {
			printReport(out, report)
		}

		if opts.failures != "" {
			if err := writeFailuresFile(opts.failures, report); err != nil {
				return err
			}
		}
	}

	if runErr != nil {
		return fmt.Errorf("%s: %w", core.FormatUserError(runErr), runErr)
	}
	return nil
}

func printReport(out io.Writer, r *ingest.Report) {
	outcome := string(r.Outcome)
	if r.DryRun {
		outcome += " (dry run)"
	}
	fmt.Fprintf(out, "outcome:      %s\n", outcome)
	fmt.Fprintf(out, "policy:       %s\n", r.Policy)
	fmt.Fprintf(out, "rows:         %d attempted, %d stored, %d failed\n", r.Attempted, r.Succeeded, r.Failed)
	fmt.Fprintf(out, "customers:    %d created\n", r.CustomersCreated)
	fmt.Fprintf(out, "transactions: %d inserted, %d updated\n", r.TransactionsInserted, r.TransactionsUpdated)

	if len(r.Failures) > 0 {
		fmt.Fprintln(out, "\nfailures:")
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "LINE\tINVOICE\tKIND\tREASON")
		for _, f := range r.Failures {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", f.Line, f.InvoiceNumber, f.Kind, f.Reason)
		}
		tw.Flush()
	}

	if len(r.Warnings) > 0 {
		fmt.Fprintln(out, "\nwarnings:")
		for _, w := range r.Warnings {
			fmt.Fprintf(out, "  line %d %s: %s\n", w.Line, w.Field, w.Message)
		}
	}
}

func writeFailuresFile(path string, report *ingest.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := core.WriteFailuresCSV(f, report); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
