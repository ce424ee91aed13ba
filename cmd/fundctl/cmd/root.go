package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/fundwatch/fund-engine/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "fundctl",
	Short: "Operator CLI for the fund engine",
	Long: `fundctl administers a fund-engine deployment directly against its database.

It provides tools for:
  - Rebuilding position snapshots from the settled trade ledger
  - Pushing NAV observations into the time series
  - Inspecting, enqueueing and cancelling background jobs`,
}

var databaseURL string

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	_ = godotenv.Load()
	rootCmd.PersistentFlags().StringVar(&databaseURL, "database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")
}

// openStore connects to the configured database. Callers must invoke the
// returned close func.
func openStore(ctx context.Context) (store.Store, func(), error) {
	if databaseURL == "" {
		return nil, nil, fmt.Errorf("no database configured: set --database-url or DATABASE_URL")
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect: %w", err)
	}
	return store.NewPostgresStore(pool), pool.Close, nil
}
