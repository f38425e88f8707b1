package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bhavesh0009/NFO-dashboard/internal/messaging"
	"github.com/bhavesh0009/NFO-dashboard/pkg/models"
)

type fakeCatalog struct {
	current    bool
	refreshes  int
	loads      int
	refreshErr error
}

func (f *fakeCatalog) IsCurrent(context.Context) (bool, error) { return f.current, nil }

func (f *fakeCatalog) Refresh(_ context.Context, _ bool) error {
	f.refreshes++
	if f.refreshErr != nil {
		return f.refreshErr
	}
	f.current = true
	return nil
}

func (f *fakeCatalog) Load(context.Context) (map[string][]*models.Instrument, error) {
	f.loads++
	return map[string][]*models.Instrument{
		"RELIANCE": {
			{Token: "2885", Symbol: "RELIANCE-EQ", Kind: models.KindSpot},
			{Token: "57130", Symbol: "RELIANCE25SEPFUT", Kind: models.KindFuture},
		},
	}, nil
}

type fakeUniverse struct{ loads int }

func (f *fakeUniverse) LoadUniverse(map[string][]*models.Instrument) error {
	f.loads++
	return nil
}

type fakePoller struct {
	starts int
	stops  int
}

func (f *fakePoller) Start(context.Context) { f.starts++ }
func (f *fakePoller) Stop()                 { f.stops++ }

type fakeFinalizer struct {
	bars     map[string]*models.DailyBar
	rebuilds int
	snapErr  error
}

func newFakeFinalizer() *fakeFinalizer {
	return &fakeFinalizer{bars: make(map[string]*models.DailyBar)}
}

func (f *fakeFinalizer) GetLastSnapshotOfDay(_ context.Context, _ models.InstrumentKind, token string, _ time.Time) (*models.QuoteSnapshot, error) {
	if f.snapErr != nil {
		return nil, f.snapErr
	}
	return &models.QuoteSnapshot{
		Token: token, LTP: 2478, Open: 2460, High: 2490, Low: 2455, Volume: 123456,
	}, nil
}

func (f *fakeFinalizer) UpsertDailyBar(_ context.Context, bar *models.DailyBar) error {
	f.bars[bar.Token+"|"+bar.Date.Format("2006-01-02")] = bar
	return nil
}

func (f *fakeFinalizer) RebuildLatestMarketData(context.Context) error {
	f.rebuilds++
	return nil
}

type fakeIndicators struct {
	runs   int
	tokens []string
}

func (f *fakeIndicators) ComputeAll(_ context.Context, tokens []string, _ time.Time) (int, error) {
	f.runs++
	f.tokens = tokens
	return len(tokens), nil
}

type fakeEvents struct{ events []*messaging.SessionEvent }

func (f *fakeEvents) PublishSessionEvent(e *messaging.SessionEvent) error {
	f.events = append(f.events, e)
	return nil
}

type fixture struct {
	catalog    *fakeCatalog
	universe   *fakeUniverse
	poller     *fakePoller
	finalizer  *fakeFinalizer
	indicators *fakeIndicators
	events     *fakeEvents
	controller *Controller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)

	f := &fixture{
		catalog:    &fakeCatalog{},
		universe:   &fakeUniverse{},
		poller:     &fakePoller{},
		finalizer:  newFakeFinalizer(),
		indicators: &fakeIndicators{},
		events:     &fakeEvents{},
	}
	f.controller = NewController(f.catalog, f.universe, f.poller, f.finalizer,
		f.indicators, f.events, "09:15:00", "15:30:00", time.UTC, l)
	return f
}

func at(hour, minute int) time.Time {
	return time.Date(2026, 9, 1, hour, minute, 0, 0, time.UTC)
}

func TestPreOpenRefreshesStaleCatalog(t *testing.T) {
	f := newFixture(t)

	f.controller.Evaluate(context.Background(), at(8, 30))

	assert.Equal(t, PhasePreOpen, f.controller.Phase())
	assert.Equal(t, 1, f.catalog.refreshes)
	assert.Equal(t, 1, f.universe.loads)
	assert.Equal(t, 0, f.poller.starts)
}

func TestPreOpenSkipsRefreshWhenCurrent(t *testing.T) {
	f := newFixture(t)
	f.catalog.current = true

	f.controller.Evaluate(context.Background(), at(8, 30))

	assert.Equal(t, 0, f.catalog.refreshes)
	assert.Equal(t, 1, f.universe.loads)
}

func TestOpenStartsPollerOnce(t *testing.T) {
	f := newFixture(t)

	f.controller.Evaluate(context.Background(), at(8, 30))
	f.controller.Evaluate(context.Background(), at(9, 20))
	f.controller.Evaluate(context.Background(), at(9, 20)) // same phase, no-op
	f.controller.Evaluate(context.Background(), at(12, 0)) // still open

	assert.Equal(t, PhaseOpen, f.controller.Phase())
	assert.Equal(t, 1, f.poller.starts)
	// Universe was loaded at pre-open, not again at open.
	assert.Equal(t, 1, f.universe.loads)
}

func TestMidSessionStartupPreparesBeforePolling(t *testing.T) {
	f := newFixture(t)

	// Process came up at 11:00 with no pre-open phase.
	f.controller.Evaluate(context.Background(), at(11, 0))

	assert.Equal(t, PhaseOpen, f.controller.Phase())
	assert.Equal(t, 1, f.universe.loads)
	assert.Equal(t, 1, f.poller.starts)
}

func TestCloseFinalizesExactlyOnce(t *testing.T) {
	f := newFixture(t)

	f.controller.Evaluate(context.Background(), at(8, 30))
	f.controller.Evaluate(context.Background(), at(9, 20))
	f.controller.Evaluate(context.Background(), at(15, 31))
	f.controller.Evaluate(context.Background(), at(16, 0))
	f.controller.Evaluate(context.Background(), at(17, 0))

	assert.Equal(t, PhaseClosed, f.controller.Phase())
	assert.Equal(t, 1, f.poller.stops)
	require.Len(t, f.finalizer.bars, 1)
	assert.Equal(t, 1, f.indicators.runs)
	assert.Equal(t, []string{"2885"}, f.indicators.tokens)
	assert.Equal(t, 1, f.finalizer.rebuilds)

	bar := f.finalizer.bars["2885|2026-09-01"]
	require.NotNil(t, bar)
	// Close comes from the last traded price, OHL from cumulative fields.
	assert.Equal(t, 2478.0, bar.Close)
	assert.Equal(t, 2490.0, bar.High)
}

func TestCloseWithoutPreparedDaySkipsFinalization(t *testing.T) {
	f := newFixture(t)

	// Process started after close; nothing was polled today.
	f.controller.Evaluate(context.Background(), at(18, 0))

	assert.Equal(t, PhaseClosed, f.controller.Phase())
	assert.Len(t, f.finalizer.bars, 0)
	assert.Equal(t, 0, f.indicators.runs)
}

func TestFinalizeDaySkipsTokensWithoutSnapshots(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.controller.Prepare(context.Background(), "2026-09-01", false))

	f.finalizer.snapErr = errors.New("no rows")
	err := f.controller.FinalizeDay(context.Background(), at(15, 31))
	assert.Error(t, err)
	assert.Equal(t, 0, f.finalizer.rebuilds)
}

func TestPhaseTransitionsArePublished(t *testing.T) {
	f := newFixture(t)

	f.controller.Evaluate(context.Background(), at(8, 30))
	f.controller.Evaluate(context.Background(), at(9, 20))
	f.controller.Evaluate(context.Background(), at(16, 0))

	require.Len(t, f.events.events, 3)
	assert.Equal(t, string(PhasePreOpen), f.events.events[0].State)
	assert.Equal(t, string(PhaseOpen), f.events.events[1].State)
	assert.Equal(t, string(PhaseClosed), f.events.events[2].State)
	assert.Equal(t, "2026-09-01", f.events.events[0].Date)
}
