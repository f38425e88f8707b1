package commands

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/spf13/cobra"

	"github.com/bhavesh0009/NFO-dashboard/pkg/config"
)

var (
	migrateDryRun bool
)

// migrateCmd represents the migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	Long: `Apply the database schema.

Every statement is idempotent (CREATE TABLE IF NOT EXISTS), so migrate
can run on every deploy.

Examples:
  nfo-dashboard migrate           # Apply the schema
  nfo-dashboard migrate --dry-run # Print statements without executing
  nfo-dashboard migrate status    # List tables and row counts`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigrate()
	},
}

// migrateStatusCmd shows which tables exist
var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show schema status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showSchemaStatus()
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateStatusCmd)

	migrateCmd.PersistentFlags().BoolVar(&migrateDryRun, "dry-run", false, "Show what would be executed without running")
}

// schemaTables maps table name to its DDL, in creation order.
var schemaTables = []struct {
	Name string
	DDL  string
}{
	{
		Name: "instruments",
		DDL: `CREATE TABLE IF NOT EXISTS instruments (
			token VARCHAR(32) NOT NULL,
			symbol VARCHAR(64) NOT NULL,
			name VARCHAR(64) NOT NULL,
			kind ENUM('SPOT','FUTURE','OPTION') NOT NULL,
			exchange VARCHAR(16) NOT NULL,
			expiry VARCHAR(16) NOT NULL DEFAULT '',
			strike DECIMAL(12,2) NOT NULL DEFAULT 0,
			option_right VARCHAR(8) NOT NULL DEFAULT '',
			lot_size INT NOT NULL DEFAULT 0,
			tick_size DECIMAL(10,4) NOT NULL DEFAULT 0,
			loaded_at DATETIME NOT NULL,
			PRIMARY KEY (token),
			KEY idx_instruments_name_kind (name, kind),
			KEY idx_instruments_kind (kind)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	},
	{
		Name: "realtime_spot_data",
		DDL:  snapshotDDL("realtime_spot_data"),
	},
	{
		Name: "realtime_futures_data",
		DDL:  snapshotDDL("realtime_futures_data"),
	},
	{
		Name: "realtime_options_data",
		DDL:  snapshotDDL("realtime_options_data"),
	},
	{
		Name: "daily_bars",
		DDL: `CREATE TABLE IF NOT EXISTS daily_bars (
			token VARCHAR(32) NOT NULL,
			symbol VARCHAR(64) NOT NULL,
			date DATE NOT NULL,
			open DECIMAL(12,2) NOT NULL,
			high DECIMAL(12,2) NOT NULL,
			low DECIMAL(12,2) NOT NULL,
			close DECIMAL(12,2) NOT NULL,
			volume BIGINT NOT NULL DEFAULT 0,
			oi BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (token, date),
			KEY idx_daily_bars_date (date)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	},
	{
		Name: "technical_indicators",
		DDL: `CREATE TABLE IF NOT EXISTS technical_indicators (
			token VARCHAR(32) NOT NULL,
			symbol VARCHAR(64) NOT NULL,
			date DATE NOT NULL,
			ma_20 DECIMAL(12,4) NULL,
			ma_50 DECIMAL(12,4) NULL,
			ma_200 DECIMAL(12,4) NULL,
			ma_200_distance DECIMAL(12,4) NULL,
			high_21d DECIMAL(12,2) NULL,
			low_21d DECIMAL(12,2) NULL,
			high_52w DECIMAL(12,2) NULL,
			low_52w DECIMAL(12,2) NULL,
			ath DECIMAL(12,2) NULL,
			atl DECIMAL(12,2) NULL,
			volume_15d_avg DECIMAL(16,2) NULL,
			volume_ratio DECIMAL(12,4) NULL,
			rsi_14 DECIMAL(8,4) NULL,
			macd DECIMAL(12,4) NULL,
			macd_signal DECIMAL(12,4) NULL,
			macd_hist DECIMAL(12,4) NULL,
			bb_upper DECIMAL(12,4) NULL,
			bb_middle DECIMAL(12,4) NULL,
			bb_lower DECIMAL(12,4) NULL,
			breakout_detected ENUM('BREAKOUT','BREAKDOWN','NONE') NOT NULL DEFAULT 'NONE',
			calculation_timestamp DATETIME NOT NULL,
			PRIMARY KEY (token, date),
			KEY idx_indicators_date (date),
			KEY idx_indicators_breakout (breakout_detected, date)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	},
	{
		Name: "latest_market_data",
		DDL: `CREATE TABLE IF NOT EXISTS latest_market_data (
			token VARCHAR(32) NOT NULL,
			symbol VARCHAR(64) NOT NULL,
			name VARCHAR(64) NOT NULL,
			lot_size INT NOT NULL DEFAULT 0,
			date DATE NOT NULL,
			open DECIMAL(12,2) NOT NULL,
			high DECIMAL(12,2) NOT NULL,
			low DECIMAL(12,2) NOT NULL,
			close DECIMAL(12,2) NOT NULL,
			volume BIGINT NOT NULL DEFAULT 0,
			ma_20 DECIMAL(12,4) NULL,
			ma_50 DECIMAL(12,4) NULL,
			ma_200 DECIMAL(12,4) NULL,
			ma_200_distance DECIMAL(12,4) NULL,
			high_21d DECIMAL(12,2) NULL,
			low_21d DECIMAL(12,2) NULL,
			high_52w DECIMAL(12,2) NULL,
			low_52w DECIMAL(12,2) NULL,
			ath DECIMAL(12,2) NULL,
			atl DECIMAL(12,2) NULL,
			volume_15d_avg DECIMAL(16,2) NULL,
			volume_ratio DECIMAL(12,4) NULL,
			rsi_14 DECIMAL(8,4) NULL,
			macd DECIMAL(12,4) NULL,
			macd_signal DECIMAL(12,4) NULL,
			macd_hist DECIMAL(12,4) NULL,
			bb_upper DECIMAL(12,4) NULL,
			bb_middle DECIMAL(12,4) NULL,
			bb_lower DECIMAL(12,4) NULL,
			breakout_detected ENUM('BREAKOUT','BREAKDOWN','NONE') NOT NULL DEFAULT 'NONE',
			last_updated DATETIME NOT NULL,
			PRIMARY KEY (token)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	},
}

// snapshotDDL builds the shared snapshot table shape. Derivative tables
// carry open interest and strike columns; spots simply leave them zero.
func snapshotDDL(table string) string {
	return `CREATE TABLE IF NOT EXISTS ` + table + ` (
			token VARCHAR(32) NOT NULL,
			symbol VARCHAR(64) NOT NULL,
			exchange VARCHAR(16) NOT NULL,
			ltp DECIMAL(12,2) NOT NULL,
			open DECIMAL(12,2) NOT NULL,
			high DECIMAL(12,2) NOT NULL,
			low DECIMAL(12,2) NOT NULL,
			close DECIMAL(12,2) NOT NULL,
			last_trade_qty BIGINT NOT NULL DEFAULT 0,
			avg_trade_price DECIMAL(12,2) NOT NULL DEFAULT 0,
			volume BIGINT NOT NULL DEFAULT 0,
			oi BIGINT NOT NULL DEFAULT 0,
			total_buy_qty BIGINT NOT NULL DEFAULT 0,
			total_sell_qty BIGINT NOT NULL DEFAULT 0,
			best_bid_price DECIMAL(12,2) NOT NULL DEFAULT 0,
			best_ask_price DECIMAL(12,2) NOT NULL DEFAULT 0,
			best_bid_orders INT NOT NULL DEFAULT 0,
			best_ask_orders INT NOT NULL DEFAULT 0,
			net_change DECIMAL(12,2) NOT NULL DEFAULT 0,
			percent_change DECIMAL(8,4) NOT NULL DEFAULT 0,
			lower_circuit DECIMAL(12,2) NOT NULL DEFAULT 0,
			upper_circuit DECIMAL(12,2) NOT NULL DEFAULT 0,
			week_low_52 DECIMAL(12,2) NOT NULL DEFAULT 0,
			week_high_52 DECIMAL(12,2) NOT NULL DEFAULT 0,
			strike DECIMAL(12,2) NOT NULL DEFAULT 0,
			option_right VARCHAR(8) NOT NULL DEFAULT '',
			exch_feed_time DATETIME NULL,
			exch_trade_time DATETIME NULL,
			timestamp DATETIME NOT NULL,
			PRIMARY KEY (token, timestamp),
			KEY idx_` + table + `_timestamp (timestamp)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`
}

func runMigrate() error {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Printf("Note: .env file not loaded: %v\n", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if migrateDryRun {
		for _, table := range schemaTables {
			fmt.Printf("-- %s\n%s;\n\n", table.Name, table.DDL)
		}
		return nil
	}

	db, err := connectDB(cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	for _, table := range schemaTables {
		started := time.Now()
		if _, err := db.ExecContext(ctx, table.DDL); err != nil {
			return fmt.Errorf("failed to create table %s: %w", table.Name, err)
		}
		fmt.Printf("✅ %-24s (%s)\n", table.Name, time.Since(started).Round(time.Millisecond))
	}

	fmt.Println("Schema up to date")
	return nil
}

func showSchemaStatus() error {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Printf("Note: .env file not loaded: %v\n", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	db, err := connectDB(cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	for _, table := range schemaTables {
		var count int64
		err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table.Name).Scan(&count)
		if err != nil {
			fmt.Printf("❌ %-24s missing\n", table.Name)
			continue
		}
		fmt.Printf("✅ %-24s %d rows\n", table.Name, count)
	}
	return nil
}

func connectDB(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("mysql", cfg.GetMySQLDSN())
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
