// Package poller drives the quote polling loop: every tick it snapshots
// the active instrument set, fetches batched quotes, validates and
// persists them, and feeds future prices back into ATM selection.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/bhavesh0009/NFO-dashboard/internal/planner"
	"github.com/bhavesh0009/NFO-dashboard/internal/resolver"
	"github.com/bhavesh0009/NFO-dashboard/internal/retry"
	"github.com/bhavesh0009/NFO-dashboard/internal/upstream"
	"github.com/bhavesh0009/NFO-dashboard/pkg/models"
)

// State is the tick state machine position.
type State string

const (
	StateIdle    State = "IDLE"
	StatePolling State = "POLLING"
	StateSuccess State = "SUCCESS"
	StateFailed  State = "FAILED"
)

// QuoteFetcher fetches one batch of quotes from the provider.
type QuoteFetcher interface {
	GetQuotes(ctx context.Context, exchange string, tokens []string) ([]upstream.RawQuote, []upstream.UnfetchedToken, error)
}

// SnapshotSink persists a validated snapshot batch.
type SnapshotSink interface {
	SaveBatch(ctx context.Context, snaps []*models.QuoteSnapshot) (int, error)
}

// Stats summarizes the most recent tick.
type Stats struct {
	TickID        string    `json:"tick_id"`
	State         State     `json:"state"`
	Instruments   int       `json:"instruments"`
	Batches       int       `json:"batches"`
	FailedBatches int       `json:"failed_batches"`
	Persisted     int       `json:"persisted"`
	Dropped       int       `json:"dropped"`
	Rebinds       int       `json:"rebinds"`
	StartedAt     time.Time `json:"started_at"`
	Duration      string    `json:"duration"`
}

// Poller owns the polling loop. Batches within a tick run serially so
// the provider sees at most one in-flight request.
type Poller struct {
	fetcher  QuoteFetcher
	sink     SnapshotSink
	resolver *resolver.Resolver
	planner  *planner.Planner
	retryer  *retry.Retryer
	interval time.Duration
	loc      *time.Location
	logger   *logrus.Entry

	mu      sync.Mutex
	stats   Stats
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// New creates a poller. loc is the exchange timezone used for capture
// timestamps.
func New(fetcher QuoteFetcher, sink SnapshotSink, res *resolver.Resolver, plan *planner.Planner,
	retryer *retry.Retryer, interval time.Duration, loc *time.Location, logger *logrus.Logger) *Poller {
	return &Poller{
		fetcher:  fetcher,
		sink:     sink,
		resolver: res,
		planner:  plan,
		retryer:  retryer,
		interval: interval,
		loc:      loc,
		logger:   logger.WithField("component", "poller"),
		stats:    Stats{State: StateIdle},
	}
}

// Start launches the polling loop. Idempotent: a running poller ignores
// further Start calls.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.done = make(chan struct{})
	p.mu.Unlock()

	p.wg.Add(1)
	go p.loop(ctx)

	p.logger.WithField("interval", p.interval.String()).Info("Poller started")
}

// Stop halts the loop and waits for the in-flight tick to finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.done)
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info("Poller stopped")
}

// Stats returns a copy of the latest tick stats.
func (p *Poller) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

func (p *Poller) loop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// First tick immediately, then on the interval.
	p.RunTick(ctx)

	for {
		select {
		case <-p.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.RunTick(ctx)
		}
	}
}

// RunTick executes one complete poll cycle. Exported so the session
// controller and backfill command can drive single ticks directly.
func (p *Poller) RunTick(ctx context.Context) Stats {
	tickID := uuid.NewString()
	started := time.Now()

	p.setState(Stats{TickID: tickID, State: StatePolling, StartedAt: started})

	active := p.resolver.ActiveInstruments()
	byToken := make(map[string]*models.Instrument, len(active))
	for _, ins := range active {
		byToken[ins.Token] = ins
	}

	batches := p.planner.Plan(active)
	captureAt := started.In(p.loc).Truncate(time.Second)

	stats := Stats{
		TickID:      tickID,
		Instruments: len(active),
		Batches:     len(batches),
		StartedAt:   started,
	}

	var snaps []*models.QuoteSnapshot
	for _, batch := range batches {
		fetched, unfetched, err := p.fetchBatch(ctx, batch)
		if err != nil {
			stats.FailedBatches++
			p.logger.WithFields(logrus.Fields{
				"tick_id":  tickID,
				"exchange": batch.Exchange,
				"tokens":   len(batch.Tokens),
				"error":    err.Error(),
			}).Error("Batch failed after retries")
			continue
		}
		for _, u := range unfetched {
			stats.Dropped++
			p.logger.WithFields(logrus.Fields{
				"tick_id": tickID,
				"token":   u.Token,
				"reason":  u.Message,
			}).Warn("Provider declined token")
		}
		for i := range fetched {
			snap, err := p.toSnapshot(&fetched[i], byToken, captureAt)
			if err != nil {
				stats.Dropped++
				p.logger.WithFields(logrus.Fields{
					"tick_id": tickID,
					"token":   fetched[i].SymbolToken,
					"reason":  err.Error(),
				}).Warn("Dropping invalid quote")
				continue
			}
			snaps = append(snaps, snap)
		}
	}

	saved, err := p.sink.SaveBatch(ctx, snaps)
	stats.Persisted = saved
	if err != nil {
		p.logger.WithFields(logrus.Fields{
			"tick_id": tickID,
			"error":   err.Error(),
		}).Error("Snapshot batch partially persisted")
	}

	stats.Rebinds = p.feedFuturePrices(snaps)

	if stats.FailedBatches == len(batches) && len(batches) > 0 {
		stats.State = StateFailed
	} else {
		stats.State = StateSuccess
	}
	stats.Duration = time.Since(started).String()
	p.setState(stats)

	p.logger.WithFields(logrus.Fields{
		"tick_id":   tickID,
		"state":     stats.State,
		"persisted": stats.Persisted,
		"dropped":   stats.Dropped,
		"rebinds":   stats.Rebinds,
		"duration":  stats.Duration,
	}).Debug("Tick complete")

	return stats
}

// fetchBatch runs one provider call under the retry policy.
func (p *Poller) fetchBatch(ctx context.Context, batch planner.Batch) ([]upstream.RawQuote, []upstream.UnfetchedToken, error) {
	var fetched []upstream.RawQuote
	var unfetched []upstream.UnfetchedToken

	err := p.retryer.Do(ctx, func() (bool, error) {
		var err error
		fetched, unfetched, err = p.fetcher.GetQuotes(ctx, batch.Exchange, batch.Tokens)
		if err != nil {
			return isRetryable(err), err
		}
		return false, nil
	})

	return fetched, unfetched, err
}

// isRetryable treats provider 429/5xx and transport errors as transient;
// everything else fails the batch immediately.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *upstream.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return true
}

// toSnapshot validates a raw quote and projects it onto the catalog
// instrument. Quotes are rejected rather than repaired.
func (p *Poller) toSnapshot(raw *upstream.RawQuote, byToken map[string]*models.Instrument, captureAt time.Time) (*models.QuoteSnapshot, error) {
	if raw.SymbolToken == "" {
		return nil, fmt.Errorf("missing token")
	}
	ins, ok := byToken[raw.SymbolToken]
	if !ok {
		return nil, fmt.Errorf("token not in active set")
	}
	if raw.LTP < 0 || raw.Open < 0 || raw.High < 0 || raw.Low < 0 || raw.Close < 0 {
		return nil, fmt.Errorf("negative price")
	}
	if raw.High > 0 && raw.Low > 0 && raw.High < raw.Low {
		return nil, fmt.Errorf("high %v below low %v", raw.High, raw.Low)
	}
	if raw.TradeVolume < 0 {
		return nil, fmt.Errorf("negative volume")
	}

	feedTime, err := upstream.ParseExchTime(raw.ExchFeedTime, p.loc)
	if err != nil {
		return nil, fmt.Errorf("bad feed time %q: %w", raw.ExchFeedTime, err)
	}
	tradeTime, err := upstream.ParseExchTime(raw.ExchTradeTime, p.loc)
	if err != nil {
		return nil, fmt.Errorf("bad trade time %q: %w", raw.ExchTradeTime, err)
	}

	snap := &models.QuoteSnapshot{
		Token:         ins.Token,
		Symbol:        ins.Symbol,
		Kind:          ins.Kind,
		Exchange:      raw.Exchange,
		LTP:           raw.LTP,
		Open:          raw.Open,
		High:          raw.High,
		Low:           raw.Low,
		Close:         raw.Close,
		LastTradeQty:  raw.LastTradeQty,
		AvgTradePrice: raw.AvgPrice,
		Volume:        raw.TradeVolume,
		TotalBuyQty:   int64(raw.TotalBuyQty),
		TotalSellQty:  int64(raw.TotalSellQty),
		NetChange:     raw.NetChange,
		PercentChange: raw.PercentChange,
		LowerCircuit:  raw.LowerCircuit,
		UpperCircuit:  raw.UpperCircuit,
		Week52Low:     raw.Week52Low,
		Week52High:    raw.Week52High,
		ExchFeedTime:  feedTime,
		ExchTradeTime: tradeTime,
		Timestamp:     captureAt,
	}

	if ins.IsDerivative() {
		snap.OpenInterest = raw.OpenInterest
	}
	if ins.Kind == models.KindOption {
		snap.Strike = ins.Strike
		snap.Right = ins.Right
	}
	if len(raw.Depth.Buy) > 0 {
		snap.BestBid = raw.Depth.Buy[0].Price
		snap.BestBidOrders = raw.Depth.Buy[0].Orders
	}
	if len(raw.Depth.Sell) > 0 {
		snap.BestAsk = raw.Depth.Sell[0].Price
		snap.BestAskOrders = raw.Depth.Sell[0].Orders
	}

	return snap, nil
}

// feedFuturePrices pushes the tick's future LTPs into the resolver. The
// new bindings take effect on the next tick's active set.
func (p *Poller) feedFuturePrices(snaps []*models.QuoteSnapshot) int {
	rebinds := 0
	for _, snap := range snaps {
		if snap.Kind != models.KindFuture || snap.LTP <= 0 {
			continue
		}
		underlying, ok := p.resolver.UnderlyingForFuture(snap.Token)
		if !ok {
			continue
		}
		change, err := p.resolver.OnFuturePriceUpdate(underlying, snap.LTP)
		if err != nil {
			p.logger.WithFields(logrus.Fields{
				"underlying": underlying,
				"error":      err.Error(),
			}).Warn("ATM update failed")
			continue
		}
		if change != nil {
			rebinds++
		}
	}
	return rebinds
}

func (p *Poller) setState(stats Stats) {
	p.mu.Lock()
	p.stats = stats
	p.mu.Unlock()
}
