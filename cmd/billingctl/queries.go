package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newPlatformsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "platforms",
		Short: "List the payment platforms rows may reference",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			platforms, err := a.svc.Platforms(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME")
			for _, p := range platforms {
				fmt.Fprintf(tw, "%d\t%s\n", p.ID, p.Name)
			}
			return tw.Flush()
		},
	}
}

func newPendingCmd(a *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "pending-invoices",
		Short: "Export pending and partially paid invoices as CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" || output == "-" {
				return a.svc.WritePendingInvoicesCSV(cmd.Context(), cmd.OutOrStdout())
			}
			f, err := os.Create(output)
			if err != nil {
				return err
			}
			if err := a.svc.WritePendingInvoicesCSV(cmd.Context(), f); err != nil {
				f.Close()
				return err
			}
			return f.Close()
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to this file instead of stdout")
	return cmd
}
