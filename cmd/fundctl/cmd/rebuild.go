package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fundwatch/fund-engine/internal/position"
)

var rebuildAsOf string

var rebuildCmd = &cobra.Command{
	Use:   "rebuild <user-id> <fund-code>",
	Short: "Rebuild a position snapshot from the settled ledger",
	Long: `Recompute the position snapshot for a (user, fund) pair by replaying
its settled trade events, and store the result. The snapshot is a pure
function of the ledger: rebuilding never changes ledger rows.`,
	Args: cobra.ExactArgs(2),
	RunE: runRebuild,
}

func init() {
	rootCmd.AddCommand(rebuildCmd)
	rebuildCmd.Flags().StringVar(&rebuildAsOf, "as-of", "", "as-of date YYYY-MM-DD (default today)")
}

func runRebuild(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	asOf := time.Now().UTC()
	if rebuildAsOf != "" {
		t, err := time.Parse("2006-01-02", rebuildAsOf)
		if err != nil {
			return fmt.Errorf("parse --as-of: %w", err)
		}
		asOf = t
	}

	st, closeStore, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	snap, err := position.NewRebuilder(st).Rebuild(ctx, args[0], args[1], asOf)
	if err != nil {
		return fmt.Errorf("rebuild: %w", err)
	}

	fmt.Printf("user:           %s\n", snap.UserID)
	fmt.Printf("fund:           %s\n", snap.FundCode)
	fmt.Printf("as of:          %s\n", snap.AsOfDate.Format("2006-01-02"))
	fmt.Printf("shares:         %s\n", snap.Shares)
	fmt.Printf("avg cost:       %s\n", snap.AvgCost)
	fmt.Printf("last NAV:       %s\n", snap.LastNav)
	fmt.Printf("unrealized P&L: %s\n", snap.UnrealizedPnL)
	fmt.Printf("realized P&L:   %s\n", snap.RealizedPnL)
	return nil
}
