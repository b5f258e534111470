package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/billing/internal/config"
	"github.com/JonMunkholm/billing/internal/core"
	"github.com/JonMunkholm/billing/internal/database"
	"github.com/JonMunkholm/billing/internal/logging"
)

// connectFunc builds the service for a command and returns a cleanup func.
type connectFunc func(ctx context.Context, cfg *config.Config) (*core.Service, func(), error)

type app struct {
	connect connectFunc
	envFile string

	cfg     *config.Config
	svc     *core.Service
	cleanup func()
}

// newRootCmd returns the command tree and the app behind it. Callers must
// close the app once the command has run.
func newRootCmd(connect connectFunc) (*cobra.Command, *app) {
	a := &app{connect: connect}

	cmd := &cobra.Command{
		Use:   "billingctl",
		Short: "Import billing CSV files and query the billing database",
		Long: `billingctl loads billing CSV exports (one row per invoice) into the
billing database and prints the reports served by the HTTP API.

Configuration comes from the environment, optionally seeded from a .env file.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	cmd.PersistentFlags().StringVar(&a.envFile, "env-file", "", "load environment from this file (default: .env if present)")

	cmd.AddCommand(
		newImportCmd(a),
		newPlatformsCmd(a),
		newPendingCmd(a),
	)
	return cmd, a
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if a.envFile != "" {
		if err := godotenv.Overload(a.envFile); err != nil {
			return fmt.Errorf("load %s: %w", a.envFile, err)
		}
	} else if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.SetDefault(logging.New(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format))

	svc, cleanup, err := a.connect(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	a.cfg, a.svc, a.cleanup = cfg, svc, cleanup
	return nil
}

func (a *app) close() {
	if a.cleanup != nil {
		a.cleanup()
		a.cleanup = nil
	}
}

func connectDatabase(ctx context.Context, cfg *config.Config) (*core.Service, func(), error) {
	opts, err := core.OptionsFromConfig(cfg)
	if err != nil {
		return nil, nil, err
	}

	pool, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}

	store := database.NewStore(pool)
	return core.NewService(store, store.Backend(), opts), pool.Close, nil
}
