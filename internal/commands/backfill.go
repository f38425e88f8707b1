package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bhavesh0009/NFO-dashboard/internal/database"
	"github.com/bhavesh0009/NFO-dashboard/internal/indicator"
	"github.com/bhavesh0009/NFO-dashboard/internal/upstream"
	"github.com/bhavesh0009/NFO-dashboard/pkg/config"
	"github.com/bhavesh0009/NFO-dashboard/pkg/logger"
	"github.com/bhavesh0009/NFO-dashboard/pkg/models"
)

var (
	backfillToken string
	backfillDate  string
	backfillDays  int
	backfillFetch bool
)

// backfillHistoryDays is how far past the scoring range candles are
// fetched, enough for the 252-bar 52-week windows plus holidays.
const backfillHistoryDays = 400

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Backfill daily bars and recompute indicators",
	Long: `Recompute technical indicators from the daily bars in MySQL,
then rebuild the latest market data projection.

With --fetch, historical daily candles are first downloaded from the
provider and upserted as daily bars, far enough back to satisfy the
longest indicator windows.

Records upsert on (token, date), so re-running converges on the same
rows.

Examples:
  # Recompute yesterday for every spot
  nfo-dashboard backfill

  # Download candle history and recompute a specific date
  nfo-dashboard backfill --fetch --date 2026-08-28

  # Recompute the last 30 trading days for one token
  nfo-dashboard backfill --token 2885 --days 30`,
	RunE: runBackfill,
}

func init() {
	backfillCmd.Flags().StringVar(&backfillToken, "token", "", "Limit to one instrument token")
	backfillCmd.Flags().StringVar(&backfillDate, "date", "", "Scoring date (YYYY-MM-DD, default yesterday)")
	backfillCmd.Flags().IntVar(&backfillDays, "days", 1, "Number of trading days back from the scoring date")
	backfillCmd.Flags().BoolVar(&backfillFetch, "fetch", false, "Download historical daily candles before recomputing")
	rootCmd.AddCommand(backfillCmd)
}

func runBackfill(cmd *cobra.Command, args []string) error {
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

	end := time.Now().In(loc).AddDate(0, 0, -1)
	if backfillDate != "" {
		end, err = time.ParseInLocation("2006-01-02", backfillDate, loc)
		if err != nil {
			return fmt.Errorf("invalid date %q: %w", backfillDate, err)
		}
	}
	if backfillDays < 1 {
		return fmt.Errorf("--days must be at least 1")
	}

	mysqlDB, err := database.NewMySQLClient(&cfg.MySQL, log)
	if err != nil {
		return fmt.Errorf("failed to connect to MySQL: %w", err)
	}
	defer mysqlDB.Close()

	ctx := context.Background()

	spots, err := backfillInstruments(ctx, mysqlDB)
	if err != nil {
		return err
	}
	if len(spots) == 0 {
		return fmt.Errorf("no instruments to backfill")
	}

	if backfillFetch {
		quoteClient := upstream.NewClient(&cfg.Upstream, log)
		from := end.AddDate(0, 0, -(backfillDays + backfillHistoryDays))
		if err := fetchDailyBars(ctx, quoteClient, mysqlDB, spots, from, end); err != nil {
			return err
		}
	}

	tokens := make([]string, len(spots))
	for i, ins := range spots {
		tokens[i] = ins.Token
	}

	engine := indicator.New(mysqlDB, mysqlDB, indicator.Thresholds{
		VolumeSpikeRatio: cfg.Indicator.VolumeSpikeRatio,
		BreakoutBand:     cfg.Indicator.BreakoutBand,
		BreakdownBand:    cfg.Indicator.BreakdownBand,
	}, cfg.Indicator.Workers, log)

	total := 0
	for offset := backfillDays - 1; offset >= 0; offset-- {
		date := end.AddDate(0, 0, -offset)
		computed, err := engine.ComputeAll(ctx, tokens, date)
		total += computed
		if err != nil {
			// Days without bars for some tokens are expected on
			// weekends and holidays.
			log.WithField("date", date.Format("2006-01-02")).WithError(err).Warn("Partial indicator run")
		}
	}

	if err := mysqlDB.RebuildLatestMarketData(ctx); err != nil {
		return fmt.Errorf("failed to rebuild latest projection: %w", err)
	}

	fmt.Printf("✅ Backfilled %d indicator records across %d day(s)\n", total, backfillDays)
	return nil
}

func backfillInstruments(ctx context.Context, db *database.MySQLClient) ([]*models.Instrument, error) {
	instruments, err := db.GetInstruments(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load instruments: %w", err)
	}

	var spots []*models.Instrument
	for _, ins := range instruments {
		if ins.Kind != models.KindSpot {
			continue
		}
		if backfillToken != "" && ins.Token != backfillToken {
			continue
		}
		spots = append(spots, ins)
	}
	if backfillToken != "" && len(spots) == 0 {
		return nil, fmt.Errorf("token %s is not a spot instrument in the catalog", backfillToken)
	}
	return spots, nil
}

// fetchDailyBars downloads daily candles per instrument and upserts
// them as daily bars. The upstream client paces the calls itself.
func fetchDailyBars(ctx context.Context, client *upstream.Client, db *database.MySQLClient,
	spots []*models.Instrument, from, to time.Time) error {
	fetched := 0
	for _, ins := range spots {
		candles, err := client.GetDailyCandles(ctx, ins.Exchange, ins.Token, from, to)
		if err != nil {
			return fmt.Errorf("failed to fetch candles for %s: %w", ins.Token, err)
		}
		for _, candle := range candles {
			bar := &models.DailyBar{
				Token:  ins.Token,
				Symbol: ins.Symbol,
				Date:   candle.Timestamp,
				Open:   candle.Open,
				High:   candle.High,
				Low:    candle.Low,
				Close:  candle.Close,
				Volume: candle.Volume,
			}
			if err := db.UpsertDailyBar(ctx, bar); err != nil {
				return fmt.Errorf("failed to store bar %s@%s: %w", ins.Token, candle.Timestamp.Format("2006-01-02"), err)
			}
			fetched++
		}
	}

	fmt.Printf("Fetched %d daily bars for %d instrument(s)\n", fetched, len(spots))
	return nil
}
