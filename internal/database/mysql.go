package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"

	"github.com/bhavesh0009/NFO-dashboard/pkg/config"
	"github.com/bhavesh0009/NFO-dashboard/pkg/models"
)

// MySQLClient handles MySQL database operations
type MySQLClient struct {
	db     *sql.DB
	logger *logrus.Entry
	cfg    *config.MySQLConfig
}

// NewMySQLClient creates a new MySQL client
func NewMySQLClient(cfg *config.MySQLConfig, logger *logrus.Logger) (*MySQLClient, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Database,
	)

	logger.WithField("dsn", fmt.Sprintf("%s:***@tcp(%s:%d)/%s", cfg.User, cfg.Host, cfg.Port, cfg.Database)).Debug("Connecting to MySQL")

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	return &MySQLClient{
		db:     db,
		logger: logger.WithField("component", "mysql"),
		cfg:    cfg,
	}, nil
}

// Close closes the database connection
func (mc *MySQLClient) Close() error {
	return mc.db.Close()
}

// Health checks database health
func (mc *MySQLClient) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	return mc.db.PingContext(ctx)
}

// Exec executes a statement
func (mc *MySQLClient) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return mc.db.ExecContext(ctx, query, args...)
}

// Instrument catalog operations

// ReplaceInstruments replaces the day's instrument universe in a single
// transaction. The catalog is re-issued daily; partial universes are
// worse than yesterday's, hence the transactional swap.
func (mc *MySQLClient) ReplaceInstruments(ctx context.Context, instruments []*models.Instrument) error {
	return mc.ExecTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM instruments"); err != nil {
			return fmt.Errorf("failed to clear instruments: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO instruments (
				token, symbol, name, kind, exchange, expiry,
				strike, option_right, lot_size, tick_size, loaded_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare instrument insert: %w", err)
		}
		defer stmt.Close()

		for _, ins := range instruments {
			_, err := stmt.ExecContext(ctx,
				ins.Token,
				ins.Symbol,
				ins.Name,
				string(ins.Kind),
				ins.Exchange,
				ins.Expiry,
				ins.Strike,
				string(ins.Right),
				ins.LotSize,
				ins.TickSize,
				ins.LoadedAt,
			)
			if err != nil {
				return fmt.Errorf("failed to insert instrument %s: %w", ins.Token, err)
			}
		}

		return nil
	})
}

// GetInstruments retrieves the current instrument universe
func (mc *MySQLClient) GetInstruments(ctx context.Context) ([]*models.Instrument, error) {
	query := `
		SELECT token, symbol, name, kind, exchange, expiry,
		       strike, option_right, lot_size, tick_size, loaded_at
		FROM instruments
		ORDER BY symbol
	`

	rows, err := mc.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query instruments: %w", err)
	}
	defer rows.Close()

	var instruments []*models.Instrument
	for rows.Next() {
		ins := &models.Instrument{}
		var kind, right string
		err := rows.Scan(
			&ins.Token,
			&ins.Symbol,
			&ins.Name,
			&kind,
			&ins.Exchange,
			&ins.Expiry,
			&ins.Strike,
			&right,
			&ins.LotSize,
			&ins.TickSize,
			&ins.LoadedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instrument: %w", err)
		}
		ins.Kind = models.InstrumentKind(kind)
		ins.Right = models.OptionRight(right)
		instruments = append(instruments, ins)
	}

	return instruments, rows.Err()
}

// GetCatalogLoadedAt returns the most recent catalog load timestamp, or
// the zero time when the catalog is empty.
func (mc *MySQLClient) GetCatalogLoadedAt(ctx context.Context) (time.Time, error) {
	var loadedAt sql.NullTime
	err := mc.db.QueryRowContext(ctx, "SELECT MAX(loaded_at) FROM instruments").Scan(&loadedAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to query catalog timestamp: %w", err)
	}
	if !loadedAt.Valid {
		return time.Time{}, nil
	}
	return loadedAt.Time, nil
}

// Quote snapshot operations

// snapshotTable maps an instrument kind to its time-series table.
func snapshotTable(kind models.InstrumentKind) string {
	switch kind {
	case models.KindSpot:
		return "realtime_spot_data"
	case models.KindFuture:
		return "realtime_futures_data"
	default:
		return "realtime_options_data"
	}
}

// UpsertSnapshot writes one quote snapshot, replacing any existing row
// for the same (token, timestamp) key. Replace-on-conflict keeps the key
// visible to concurrent readers throughout, unlike delete-then-insert.
func (mc *MySQLClient) UpsertSnapshot(ctx context.Context, snap *models.QuoteSnapshot) error {
	table := snapshotTable(snap.Kind)

	query := fmt.Sprintf(`
		INSERT INTO %s (
			token, symbol, exchange, ltp, open, high, low, close,
			last_trade_qty, avg_trade_price, volume, oi,
			total_buy_qty, total_sell_qty, best_bid_price, best_ask_price,
			best_bid_orders, best_ask_orders, net_change, percent_change,
			lower_circuit, upper_circuit, week_low_52, week_high_52,
			strike, option_right, exch_feed_time, exch_trade_time, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			symbol = VALUES(symbol),
			exchange = VALUES(exchange),
			ltp = VALUES(ltp),
			open = VALUES(open),
			high = VALUES(high),
			low = VALUES(low),
			close = VALUES(close),
			last_trade_qty = VALUES(last_trade_qty),
			avg_trade_price = VALUES(avg_trade_price),
			volume = VALUES(volume),
			oi = VALUES(oi),
			total_buy_qty = VALUES(total_buy_qty),
			total_sell_qty = VALUES(total_sell_qty),
			best_bid_price = VALUES(best_bid_price),
			best_ask_price = VALUES(best_ask_price),
			best_bid_orders = VALUES(best_bid_orders),
			best_ask_orders = VALUES(best_ask_orders),
			net_change = VALUES(net_change),
			percent_change = VALUES(percent_change),
			lower_circuit = VALUES(lower_circuit),
			upper_circuit = VALUES(upper_circuit),
			week_low_52 = VALUES(week_low_52),
			week_high_52 = VALUES(week_high_52),
			strike = VALUES(strike),
			option_right = VALUES(option_right),
			exch_feed_time = VALUES(exch_feed_time),
			exch_trade_time = VALUES(exch_trade_time)
	`, table)

	_, err := mc.db.ExecContext(ctx, query,
		snap.Token,
		snap.Symbol,
		snap.Exchange,
		snap.LTP,
		snap.Open,
		snap.High,
		snap.Low,
		snap.Close,
		snap.LastTradeQty,
		snap.AvgTradePrice,
		snap.Volume,
		snap.OpenInterest,
		snap.TotalBuyQty,
		snap.TotalSellQty,
		snap.BestBid,
		snap.BestAsk,
		snap.BestBidOrders,
		snap.BestAskOrders,
		snap.NetChange,
		snap.PercentChange,
		snap.LowerCircuit,
		snap.UpperCircuit,
		snap.Week52Low,
		snap.Week52High,
		snap.Strike,
		string(snap.Right),
		nullTime(snap.ExchFeedTime),
		nullTime(snap.ExchTradeTime),
		snap.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert snapshot %s@%s: %w", snap.Token, snap.Timestamp.Format(time.RFC3339), err)
	}

	return nil
}

// GetLastSnapshotOfDay returns the latest snapshot for a token on the
// given trading date, or nil when the day has no rows.
func (mc *MySQLClient) GetLastSnapshotOfDay(ctx context.Context, kind models.InstrumentKind, token string, date time.Time) (*models.QuoteSnapshot, error) {
	table := snapshotTable(kind)

	query := fmt.Sprintf(`
		SELECT token, symbol, exchange, ltp, open, high, low, close,
		       last_trade_qty, avg_trade_price, volume, oi,
		       total_buy_qty, total_sell_qty, best_bid_price, best_ask_price,
		       best_bid_orders, best_ask_orders, net_change, percent_change,
		       lower_circuit, upper_circuit, week_low_52, week_high_52,
		       strike, option_right, exch_feed_time, exch_trade_time, timestamp
		FROM %s
		WHERE token = ? AND DATE(timestamp) = DATE(?)
		ORDER BY timestamp DESC
		LIMIT 1
	`, table)

	snap := &models.QuoteSnapshot{Kind: kind}
	var right string
	var feedTime, tradeTime sql.NullTime
	err := mc.db.QueryRowContext(ctx, query, token, date).Scan(
		&snap.Token,
		&snap.Symbol,
		&snap.Exchange,
		&snap.LTP,
		&snap.Open,
		&snap.High,
		&snap.Low,
		&snap.Close,
		&snap.LastTradeQty,
		&snap.AvgTradePrice,
		&snap.Volume,
		&snap.OpenInterest,
		&snap.TotalBuyQty,
		&snap.TotalSellQty,
		&snap.BestBid,
		&snap.BestAsk,
		&snap.BestBidOrders,
		&snap.BestAskOrders,
		&snap.NetChange,
		&snap.PercentChange,
		&snap.LowerCircuit,
		&snap.UpperCircuit,
		&snap.Week52Low,
		&snap.Week52High,
		&snap.Strike,
		&right,
		&feedTime,
		&tradeTime,
		&snap.Timestamp,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last snapshot for %s: %w", token, err)
	}
	snap.Right = models.OptionRight(right)
	snap.ExchFeedTime = feedTime.Time
	snap.ExchTradeTime = tradeTime.Time

	return snap, nil
}

// nullTime maps the zero time to SQL NULL. Exchange feed timestamps are
// absent on some quotes and a zero DATETIME is not storable anyway.
func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

// Daily bar operations

// UpsertDailyBar writes one finalized daily bar, replacing any existing
// row for the same (token, date).
func (mc *MySQLClient) UpsertDailyBar(ctx context.Context, bar *models.DailyBar) error {
	query := `
		INSERT INTO daily_bars (token, symbol, date, open, high, low, close, volume, oi)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			symbol = VALUES(symbol),
			open = VALUES(open),
			high = VALUES(high),
			low = VALUES(low),
			close = VALUES(close),
			volume = VALUES(volume),
			oi = VALUES(oi)
	`

	_, err := mc.db.ExecContext(ctx, query,
		bar.Token,
		bar.Symbol,
		bar.Date,
		bar.Open,
		bar.High,
		bar.Low,
		bar.Close,
		bar.Volume,
		bar.OpenInterest,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert daily bar %s@%s: %w", bar.Token, bar.Date.Format("2006-01-02"), err)
	}

	return nil
}

// GetDailyBars retrieves daily bars for a token up to and including the
// given date, oldest first.
func (mc *MySQLClient) GetDailyBars(ctx context.Context, token string, until time.Time) ([]*models.DailyBar, error) {
	query := `
		SELECT token, symbol, date, open, high, low, close, volume, oi
		FROM daily_bars
		WHERE token = ? AND date <= ?
		ORDER BY date ASC
	`

	rows, err := mc.db.QueryContext(ctx, query, token, until)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily bars for %s: %w", token, err)
	}
	defer rows.Close()

	var bars []*models.DailyBar
	for rows.Next() {
		bar := &models.DailyBar{}
		err := rows.Scan(
			&bar.Token,
			&bar.Symbol,
			&bar.Date,
			&bar.Open,
			&bar.High,
			&bar.Low,
			&bar.Close,
			&bar.Volume,
			&bar.OpenInterest,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan daily bar: %w", err)
		}
		bars = append(bars, bar)
	}

	return bars, rows.Err()
}

// Indicator operations

// UpsertIndicatorRecord writes one day's indicator record, replacing any
// existing row for the same (token, date). NULLs flow through for the
// window fields the history could not satisfy.
func (mc *MySQLClient) UpsertIndicatorRecord(ctx context.Context, rec *models.IndicatorRecord) error {
	query := `
		INSERT INTO technical_indicators (
			token, symbol, date,
			ma_20, ma_50, ma_200, ma_200_distance,
			high_21d, low_21d, high_52w, low_52w, ath, atl,
			volume_15d_avg, volume_ratio,
			rsi_14, macd, macd_signal, macd_hist,
			bb_upper, bb_middle, bb_lower,
			breakout_detected, calculation_timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			symbol = VALUES(symbol),
			ma_20 = VALUES(ma_20),
			ma_50 = VALUES(ma_50),
			ma_200 = VALUES(ma_200),
			ma_200_distance = VALUES(ma_200_distance),
			high_21d = VALUES(high_21d),
			low_21d = VALUES(low_21d),
			high_52w = VALUES(high_52w),
			low_52w = VALUES(low_52w),
			ath = VALUES(ath),
			atl = VALUES(atl),
			volume_15d_avg = VALUES(volume_15d_avg),
			volume_ratio = VALUES(volume_ratio),
			rsi_14 = VALUES(rsi_14),
			macd = VALUES(macd),
			macd_signal = VALUES(macd_signal),
			macd_hist = VALUES(macd_hist),
			bb_upper = VALUES(bb_upper),
			bb_middle = VALUES(bb_middle),
			bb_lower = VALUES(bb_lower),
			breakout_detected = VALUES(breakout_detected),
			calculation_timestamp = VALUES(calculation_timestamp)
	`

	_, err := mc.db.ExecContext(ctx, query,
		rec.Token,
		rec.Symbol,
		rec.Date,
		rec.MA20,
		rec.MA50,
		rec.MA200,
		rec.MA200Distance,
		rec.High21D,
		rec.Low21D,
		rec.High52W,
		rec.Low52W,
		rec.ATH,
		rec.ATL,
		rec.Volume15DAvg,
		rec.VolumeRatio,
		rec.RSI14,
		rec.MACD,
		rec.MACDSignal,
		rec.MACDHist,
		rec.BBUpper,
		rec.BBMiddle,
		rec.BBLower,
		string(rec.Breakout),
		rec.ComputedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert indicator record %s@%s: %w", rec.Token, rec.Date.Format("2006-01-02"), err)
	}

	return nil
}

// GetIndicatorRecords retrieves indicator history for a token, newest first.
func (mc *MySQLClient) GetIndicatorRecords(ctx context.Context, token string, limit int) ([]*models.IndicatorRecord, error) {
	query := `
		SELECT token, symbol, date,
		       ma_20, ma_50, ma_200, ma_200_distance,
		       high_21d, low_21d, high_52w, low_52w, ath, atl,
		       volume_15d_avg, volume_ratio,
		       rsi_14, macd, macd_signal, macd_hist,
		       bb_upper, bb_middle, bb_lower,
		       breakout_detected, calculation_timestamp
		FROM technical_indicators
		WHERE token = ?
		ORDER BY date DESC
		LIMIT ?
	`

	rows, err := mc.db.QueryContext(ctx, query, token, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query indicator records for %s: %w", token, err)
	}
	defer rows.Close()

	var records []*models.IndicatorRecord
	for rows.Next() {
		rec := &models.IndicatorRecord{}
		var signal string
		err := rows.Scan(
			&rec.Token,
			&rec.Symbol,
			&rec.Date,
			&rec.MA20,
			&rec.MA50,
			&rec.MA200,
			&rec.MA200Distance,
			&rec.High21D,
			&rec.Low21D,
			&rec.High52W,
			&rec.Low52W,
			&rec.ATH,
			&rec.ATL,
			&rec.Volume15DAvg,
			&rec.VolumeRatio,
			&rec.RSI14,
			&rec.MACD,
			&rec.MACDSignal,
			&rec.MACDHist,
			&rec.BBUpper,
			&rec.BBMiddle,
			&rec.BBLower,
			&signal,
			&rec.ComputedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan indicator record: %w", err)
		}
		rec.Breakout = models.Signal(signal)
		records = append(records, rec)
	}

	return records, rows.Err()
}

// RebuildLatestMarketData rebuilds the read-API projection: one row per
// spot token joining the most recent daily bar with its indicator record.
func (mc *MySQLClient) RebuildLatestMarketData(ctx context.Context) error {
	return mc.ExecTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM latest_market_data"); err != nil {
			return fmt.Errorf("failed to clear latest market data: %w", err)
		}

		query := `
			INSERT INTO latest_market_data
			SELECT
				t.token, t.symbol, i.name, i.lot_size, t.date,
				b.open, b.high, b.low, b.close, b.volume,
				t.ma_20, t.ma_50, t.ma_200, t.ma_200_distance,
				t.high_21d, t.low_21d, t.high_52w, t.low_52w, t.ath, t.atl,
				t.volume_15d_avg, t.volume_ratio,
				t.rsi_14, t.macd, t.macd_signal, t.macd_hist,
				t.bb_upper, t.bb_middle, t.bb_lower,
				t.breakout_detected, NOW()
			FROM technical_indicators t
			INNER JOIN (
				SELECT token, MAX(date) AS latest_date
				FROM technical_indicators
				GROUP BY token
			) ld ON t.token = ld.token AND t.date = ld.latest_date
			INNER JOIN daily_bars b ON b.token = t.token AND b.date = t.date
			INNER JOIN instruments i ON i.token = t.token
			WHERE i.kind = 'SPOT'
		`

		if _, err := tx.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to rebuild latest market data: %w", err)
		}

		return nil
	})
}

// GetLatestMarketData retrieves the latest market data projection.
func (mc *MySQLClient) GetLatestMarketData(ctx context.Context) ([]*models.LatestMarketData, error) {
	query := `
		SELECT token, symbol, name, lot_size, date,
		       open, high, low, close, volume,
		       ma_20, ma_50, ma_200, ma_200_distance,
		       high_21d, low_21d, high_52w, low_52w, ath, atl,
		       volume_15d_avg, volume_ratio,
		       rsi_14, macd, macd_signal, macd_hist,
		       bb_upper, bb_middle, bb_lower,
		       breakout_detected, last_updated
		FROM latest_market_data
		ORDER BY symbol ASC
	`

	rows, err := mc.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest market data: %w", err)
	}
	defer rows.Close()

	var out []*models.LatestMarketData
	for rows.Next() {
		row := &models.LatestMarketData{}
		var signal string
		err := rows.Scan(
			&row.Token,
			&row.Symbol,
			&row.Name,
			&row.LotSize,
			&row.Date,
			&row.Open,
			&row.High,
			&row.Low,
			&row.Close,
			&row.Volume,
			&row.MA20,
			&row.MA50,
			&row.MA200,
			&row.MA200Distance,
			&row.High21D,
			&row.Low21D,
			&row.High52W,
			&row.Low52W,
			&row.ATH,
			&row.ATL,
			&row.Volume15DAvg,
			&row.VolumeRatio,
			&row.RSI14,
			&row.MACD,
			&row.MACDSignal,
			&row.MACDHist,
			&row.BBUpper,
			&row.BBMiddle,
			&row.BBLower,
			&signal,
			&row.LastUpdated,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan latest market data: %w", err)
		}
		row.Breakout = models.Signal(signal)
		out = append(out, row)
	}

	return out, rows.Err()
}

// Transaction support

// ExecTx executes a function within a transaction
func (mc *MySQLClient) ExecTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := mc.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx err: %v, rb err: %v", err, rbErr)
		}
		return err
	}

	return tx.Commit()
}
