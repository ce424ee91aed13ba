package cmd

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/fundwatch/fund-engine/internal/marketdata"
	"github.com/fundwatch/fund-engine/internal/model"
)

var navCmd = &cobra.Command{
	Use:   "nav",
	Short: "Manage the NAV time series",
}

var navPushCmd = &cobra.Command{
	Use:   "push <fund-code> <nav> <YYYY-MM-DD>",
	Short: "Push a NAV observation",
	Args:  cobra.ExactArgs(3),
	RunE:  runNavPush,
}

var navLatestCmd = &cobra.Command{
	Use:   "latest <fund-code>",
	Short: "Show the latest NAV observation for a fund",
	Args:  cobra.ExactArgs(1),
	RunE:  runNavLatest,
}

var navSource string

func init() {
	rootCmd.AddCommand(navCmd)
	navCmd.AddCommand(navPushCmd)
	navCmd.AddCommand(navLatestCmd)

	navPushCmd.Flags().StringVar(&navSource, "source", "manual", "data source label")
}

func runNavPush(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	nav, err := decimal.NewFromString(args[1])
	if err != nil {
		return fmt.Errorf("parse nav: %w", err)
	}
	navDate, err := time.Parse("2006-01-02", args[2])
	if err != nil {
		return fmt.Errorf("parse date: %w", err)
	}

	st, closeStore, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	obs := &model.NAV{
		FundCode:      args[0],
		NavDate:       navDate,
		Nav:           nav,
		DataSource:    navSource,
		LastUpdatedAt: time.Now().UTC(),
	}
	if err := marketdata.NewIngestor(st).Ingest(ctx, obs); err != nil {
		return fmt.Errorf("ingest: %w", err)
	}

	fmt.Printf("ingested %s nav=%s date=%s\n", obs.FundCode, obs.Nav, obs.NavDate.Format("2006-01-02"))
	return nil
}

func runNavLatest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	st, closeStore, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	nav, err := st.GetLatestNAV(ctx, args[0])
	if err != nil {
		return fmt.Errorf("get latest nav: %w", err)
	}

	fmt.Printf("fund:   %s\n", nav.FundCode)
	fmt.Printf("nav:    %s\n", nav.Nav)
	fmt.Printf("date:   %s\n", nav.NavDate.Format("2006-01-02"))
	fmt.Printf("source: %s\n", nav.DataSource)
	return nil
}
