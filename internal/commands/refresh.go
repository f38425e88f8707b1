package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bhavesh0009/NFO-dashboard/internal/catalog"
	"github.com/bhavesh0009/NFO-dashboard/internal/database"
	"github.com/bhavesh0009/NFO-dashboard/pkg/config"
	"github.com/bhavesh0009/NFO-dashboard/pkg/logger"
)

var (
	refreshForce bool
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Refresh the instrument catalog",
	Long: `Download the scrip master and rebuild the instrument universe.

The server does this automatically before market open; the command
exists for manual refreshes and for verifying provider connectivity.

Examples:
  nfo-dashboard refresh          # Refresh if the catalog is stale
  nfo-dashboard refresh --force  # Re-download unconditionally`,
	RunE: runRefresh,
}

func init() {
	refreshCmd.Flags().BoolVar(&refreshForce, "force", false, "Refresh even if the catalog is current")
	rootCmd.AddCommand(refreshCmd)
}

func runRefresh(cmd *cobra.Command, args []string) error {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Printf("Note: .env file not loaded: %v\n", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	log, _ := logger.New(&cfg.Logging)

	loc, err := time.LoadLocation(cfg.Market.Timezone)
	if err != nil {
		return fmt.Errorf("failed to load market timezone: %w", err)
	}

	mysqlDB, err := database.NewMySQLClient(&cfg.MySQL, log)
	if err != nil {
		return fmt.Errorf("failed to connect to MySQL: %w", err)
	}
	defer mysqlDB.Close()

	client := catalog.NewClient(&cfg.Upstream, log)
	manager := catalog.NewManager(client, mysqlDB, cfg.Market.Underlyings, cfg.Market.OpenTime, loc, log)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if !refreshForce {
		current, err := manager.IsCurrent(ctx)
		if err != nil {
			return fmt.Errorf("failed to check catalog: %w", err)
		}
		if current {
			fmt.Println("Catalog is already current; use --force to re-download")
			return nil
		}
	}

	if err := manager.Refresh(ctx, refreshForce); err != nil {
		return fmt.Errorf("catalog refresh failed: %w", err)
	}

	byUnderlying, err := manager.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load universe: %w", err)
	}

	total := 0
	for _, instruments := range byUnderlying {
		total += len(instruments)
	}
	fmt.Printf("✅ Catalog refreshed: %d underlyings, %d instruments\n", len(byUnderlying), total)
	return nil
}
