// Package session drives the trading-day lifecycle: catalog refresh
// before open, polling while the market is open, and end-of-day
// finalization after close.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bhavesh0009/NFO-dashboard/internal/messaging"
	"github.com/bhavesh0009/NFO-dashboard/pkg/models"
)

// Phase is the controller's position in the trading day.
type Phase string

const (
	PhasePreOpen Phase = "PRE_OPEN"
	PhaseOpen    Phase = "OPEN"
	PhaseClosed  Phase = "CLOSED"
)

const clockLayout = "15:04:05"

// Catalog refreshes and loads the instrument universe.
type Catalog interface {
	IsCurrent(ctx context.Context) (bool, error)
	Refresh(ctx context.Context, force bool) error
	Load(ctx context.Context) (map[string][]*models.Instrument, error)
}

// UniverseSink receives the day's universe; the resolver implements it.
type UniverseSink interface {
	LoadUniverse(byUnderlying map[string][]*models.Instrument) error
}

// PollerControl starts and stops the quote polling loop.
type PollerControl interface {
	Start(ctx context.Context)
	Stop()
}

// BarFinalizer persists finalized daily bars and rebuilds the read
// projection; the MySQL client implements it.
type BarFinalizer interface {
	GetLastSnapshotOfDay(ctx context.Context, kind models.InstrumentKind, token string, date time.Time) (*models.QuoteSnapshot, error)
	UpsertDailyBar(ctx context.Context, bar *models.DailyBar) error
	RebuildLatestMarketData(ctx context.Context) error
}

// IndicatorRunner computes end-of-day indicators for a token set.
type IndicatorRunner interface {
	ComputeAll(ctx context.Context, tokens []string, date time.Time) (int, error)
}

// EventPublisher announces phase transitions; nil disables publishing.
type EventPublisher interface {
	PublishSessionEvent(event *messaging.SessionEvent) error
}

// Controller owns the day phase machine. It polls the wall clock and
// fires each transition at most once per trading date.
type Controller struct {
	catalog    Catalog
	universe   UniverseSink
	poller     PollerControl
	finalizer  BarFinalizer
	indicators IndicatorRunner
	publisher  EventPublisher

	loc       *time.Location
	openTime  string
	closeTime string
	logger    *logrus.Entry

	mu        sync.Mutex
	phase     Phase
	phaseDate string
	prepared  map[string]bool // dates with a loaded universe
	finalized map[string]bool // dates already closed out
	spots     []*models.Instrument
	running   bool
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewController creates a session controller. openTime and closeTime are
// wall-clock strings ("09:15:00") in loc.
func NewController(catalog Catalog, universe UniverseSink, poller PollerControl,
	finalizer BarFinalizer, indicators IndicatorRunner, publisher EventPublisher,
	openTime, closeTime string, loc *time.Location, logger *logrus.Logger) *Controller {
	return &Controller{
		catalog:    catalog,
		universe:   universe,
		poller:     poller,
		finalizer:  finalizer,
		indicators: indicators,
		publisher:  publisher,
		loc:        loc,
		openTime:   openTime,
		closeTime:  closeTime,
		logger:     logger.WithField("component", "session"),
		phase:      PhaseClosed,
		prepared:   make(map[string]bool),
		finalized:  make(map[string]bool),
	}
}

// Start launches the phase loop. Idempotent.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = true
	c.done = make(chan struct{})
	c.mu.Unlock()

	// Align to the current phase immediately instead of waiting a tick.
	c.Evaluate(ctx, time.Now().In(c.loc))

	c.wg.Add(1)
	go c.loop(ctx)

	c.logger.WithFields(logrus.Fields{
		"open":  c.openTime,
		"close": c.closeTime,
	}).Info("Session controller started")
	return nil
}

// Stop halts the loop. The poller is stopped too if still running.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	close(c.done)
	phase := c.phase
	c.mu.Unlock()

	c.wg.Wait()
	if phase == PhaseOpen {
		c.poller.Stop()
	}
	c.logger.Info("Session controller stopped")
	return nil
}

// Phase returns the current phase.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *Controller) loop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Evaluate(ctx, time.Now().In(c.loc))
		}
	}
}

// Evaluate moves the controller to the phase the clock dictates, firing
// any transition work. Safe to call repeatedly with the same time.
func (c *Controller) Evaluate(ctx context.Context, now time.Time) {
	target := c.phaseFor(now)
	date := now.Format("2006-01-02")

	c.mu.Lock()
	current := c.phase
	sameDate := c.phaseDate == date
	c.mu.Unlock()

	if current == target && sameDate {
		return
	}

	switch target {
	case PhasePreOpen:
		c.enterPreOpen(ctx, date)
	case PhaseOpen:
		c.enterOpen(ctx, date)
	case PhaseClosed:
		c.enterClosed(ctx, date, now)
	}
}

// phaseFor maps a wall-clock instant to its phase.
func (c *Controller) phaseFor(now time.Time) Phase {
	day := now.Format("2006-01-02 ")
	open, err := time.ParseInLocation("2006-01-02 "+clockLayout, day+c.openTime, c.loc)
	if err != nil {
		return PhaseClosed
	}
	close_, err := time.ParseInLocation("2006-01-02 "+clockLayout, day+c.closeTime, c.loc)
	if err != nil {
		return PhaseClosed
	}

	switch {
	case now.Before(open):
		return PhasePreOpen
	case now.Before(close_):
		return PhaseOpen
	default:
		return PhaseClosed
	}
}

func (c *Controller) enterPreOpen(ctx context.Context, date string) {
	if err := c.Prepare(ctx, date, false); err != nil {
		c.logger.WithField("error", err.Error()).Error("Pre-open preparation failed")
		return
	}
	c.transition(PhasePreOpen, date)
}

func (c *Controller) enterOpen(ctx context.Context, date string) {
	// A process started mid-session still needs the day's universe.
	if err := c.Prepare(ctx, date, false); err != nil {
		c.logger.WithField("error", err.Error()).Error("Cannot open session without universe")
		return
	}
	c.poller.Start(ctx)
	c.transition(PhaseOpen, date)
}

func (c *Controller) enterClosed(ctx context.Context, date string, now time.Time) {
	c.mu.Lock()
	wasOpen := c.phase == PhaseOpen
	alreadyDone := c.finalized[date]
	prepared := c.prepared[date]
	c.mu.Unlock()

	if wasOpen {
		c.poller.Stop()
	}
	c.transition(PhaseClosed, date)

	// Only a day we actually polled gets finalized, and only once.
	if alreadyDone || !prepared {
		return
	}
	if err := c.FinalizeDay(ctx, now); err != nil {
		c.logger.WithFields(logrus.Fields{
			"date":  date,
			"error": err.Error(),
		}).Error("End-of-day finalization failed")
		return
	}
	c.mu.Lock()
	c.finalized[date] = true
	c.mu.Unlock()
}

// Prepare refreshes the catalog if stale and loads the universe into the
// resolver. Once per date unless forced.
func (c *Controller) Prepare(ctx context.Context, date string, force bool) error {
	c.mu.Lock()
	if c.prepared[date] && !force {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	current, err := c.catalog.IsCurrent(ctx)
	if err != nil {
		return fmt.Errorf("failed to check catalog: %w", err)
	}
	if !current || force {
		if err := c.catalog.Refresh(ctx, force); err != nil {
			return fmt.Errorf("failed to refresh catalog: %w", err)
		}
	}

	byUnderlying, err := c.catalog.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load universe: %w", err)
	}
	if err := c.universe.LoadUniverse(byUnderlying); err != nil {
		return fmt.Errorf("failed to install universe: %w", err)
	}

	var spots []*models.Instrument
	for _, instruments := range byUnderlying {
		for _, ins := range instruments {
			if ins.Kind == models.KindSpot {
				spots = append(spots, ins)
			}
		}
	}

	c.mu.Lock()
	c.prepared[date] = true
	c.spots = spots
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"date":  date,
		"spots": len(spots),
	}).Info("Session prepared")
	return nil
}

// FinalizeDay turns each spot's last snapshot of the day into its daily
// bar, recomputes indicators, and rebuilds the read projection. Upserts
// throughout make a re-run converge on the same rows.
func (c *Controller) FinalizeDay(ctx context.Context, day time.Time) error {
	c.mu.Lock()
	spots := c.spots
	c.mu.Unlock()

	if len(spots) == 0 {
		return fmt.Errorf("no spot instruments to finalize")
	}

	date := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, c.loc)
	finalized := 0
	tokens := make([]string, 0, len(spots))

	for _, spot := range spots {
		snap, err := c.finalizer.GetLastSnapshotOfDay(ctx, models.KindSpot, spot.Token, date)
		if err != nil {
			c.logger.WithFields(logrus.Fields{
				"token": spot.Token,
				"error": err.Error(),
			}).Warn("No closing snapshot for instrument")
			continue
		}
		if snap == nil {
			c.logger.WithField("token", spot.Token).Warn("No snapshots recorded for instrument today")
			continue
		}
		bar := &models.DailyBar{
			Token:  spot.Token,
			Symbol: spot.Symbol,
			Date:   date,
			Open:   snap.Open,
			High:   snap.High,
			Low:    snap.Low,
			Close:  snap.LTP,
			Volume: snap.Volume,
		}
		if err := c.finalizer.UpsertDailyBar(ctx, bar); err != nil {
			c.logger.WithFields(logrus.Fields{
				"token": spot.Token,
				"error": err.Error(),
			}).Error("Failed to persist daily bar")
			continue
		}
		finalized++
		tokens = append(tokens, spot.Token)
	}

	if finalized == 0 {
		return fmt.Errorf("no daily bars finalized for %s", date.Format("2006-01-02"))
	}

	if _, err := c.indicators.ComputeAll(ctx, tokens, date); err != nil {
		c.logger.WithField("error", err.Error()).Warn("Indicator run finished with failures")
	}

	if err := c.finalizer.RebuildLatestMarketData(ctx); err != nil {
		return fmt.Errorf("failed to rebuild latest projection: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"date": date.Format("2006-01-02"),
		"bars": finalized,
	}).Info("Trading day finalized")
	return nil
}

func (c *Controller) transition(phase Phase, date string) {
	c.mu.Lock()
	if c.phase == phase && c.phaseDate == date {
		c.mu.Unlock()
		return
	}
	c.phase = phase
	c.phaseDate = date
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"phase": phase,
		"date":  date,
	}).Info("Session phase changed")

	if c.publisher != nil {
		if err := c.publisher.PublishSessionEvent(&messaging.SessionEvent{
			Date:  date,
			State: string(phase),
		}); err != nil {
			c.logger.WithField("error", err.Error()).Warn("Failed to publish session event")
		}
	}
}
