// Command billingctl imports billing CSV files and inspects the billing
// database from the command line.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	// Interrupting an import rolls it back between rows.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cmd, a := newRootCmd(connectDatabase)
	defer a.close()
	return cmd.ExecuteContext(ctx)
}
