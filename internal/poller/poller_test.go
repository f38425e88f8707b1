package poller

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bhavesh0009/NFO-dashboard/internal/planner"
	"github.com/bhavesh0009/NFO-dashboard/internal/resolver"
	"github.com/bhavesh0009/NFO-dashboard/internal/retry"
	"github.com/bhavesh0009/NFO-dashboard/internal/upstream"
	"github.com/bhavesh0009/NFO-dashboard/pkg/models"
)

type fakeFetcher struct {
	quotes   map[string]upstream.RawQuote // by token
	failExch map[string]error
	calls    int
}

func (f *fakeFetcher) GetQuotes(_ context.Context, exchange string, tokens []string) ([]upstream.RawQuote, []upstream.UnfetchedToken, error) {
	f.calls++
	if err := f.failExch[exchange]; err != nil {
		return nil, nil, err
	}
	var fetched []upstream.RawQuote
	var unfetched []upstream.UnfetchedToken
	for _, token := range tokens {
		q, ok := f.quotes[token]
		if !ok {
			unfetched = append(unfetched, upstream.UnfetchedToken{Exchange: exchange, Token: token, Message: "invalid token"})
			continue
		}
		fetched = append(fetched, q)
	}
	return fetched, unfetched, nil
}

type memorySink struct {
	rows map[string]*models.QuoteSnapshot // keyed (token, timestamp)
}

func newMemorySink() *memorySink {
	return &memorySink{rows: make(map[string]*models.QuoteSnapshot)}
}

func (m *memorySink) SaveBatch(_ context.Context, snaps []*models.QuoteSnapshot) (int, error) {
	for _, snap := range snaps {
		m.rows[fmt.Sprintf("%s|%d", snap.Token, snap.Timestamp.Unix())] = snap
	}
	return len(snaps), nil
}

func quote(token string, ltp float64) upstream.RawQuote {
	return upstream.RawQuote{
		Exchange:    "NFO",
		SymbolToken: token,
		LTP:         ltp,
		Open:        ltp - 10,
		High:        ltp + 5,
		Low:         ltp - 15,
		Close:       ltp - 8,
		TradeVolume: 1000,
	}
}

func testUniverse() map[string][]*models.Instrument {
	return map[string][]*models.Instrument{
		"RELIANCE": {
			{Token: "2885", Symbol: "RELIANCE-EQ", Name: "RELIANCE", Kind: models.KindSpot, Exchange: "NSE"},
			{Token: "57130", Symbol: "RELIANCE25SEPFUT", Name: "RELIANCE", Kind: models.KindFuture, Exchange: "NFO"},
			{Token: "c0", Symbol: "RELIANCE25SEP2480CE", Name: "RELIANCE", Kind: models.KindOption, Exchange: "NFO", Strike: 2480, Right: models.RightCall},
			{Token: "p0", Symbol: "RELIANCE25SEP2480PE", Name: "RELIANCE", Kind: models.KindOption, Exchange: "NFO", Strike: 2480, Right: models.RightPut},
		},
	}
}

func newTestPoller(t *testing.T, fetcher *fakeFetcher, sink SnapshotSink) (*Poller, *resolver.Resolver) {
	t.Helper()
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)

	res := resolver.New(map[string]float64{"RELIANCE": 20}, 5, l)
	require.NoError(t, res.LoadUniverse(testUniverse()))

	p := New(fetcher, sink, res, planner.New(50),
		retry.New(2, time.Millisecond, 5*time.Millisecond),
		time.Second, time.UTC, l)
	return p, res
}

func TestRunTickPersistsValidQuotes(t *testing.T) {
	fetcher := &fakeFetcher{
		quotes: map[string]upstream.RawQuote{
			"2885":  {Exchange: "NSE", SymbolToken: "2885", LTP: 2478, Open: 2460, High: 2490, Low: 2455, Close: 2465, TradeVolume: 500},
			"57130": quote("57130", 2481),
		},
		failExch: map[string]error{},
	}
	sink := newMemorySink()
	p, _ := newTestPoller(t, fetcher, sink)

	stats := p.RunTick(context.Background())

	assert.Equal(t, StateSuccess, stats.State)
	assert.Equal(t, 2, stats.Persisted)
	assert.Equal(t, 2, stats.Instruments)
	assert.Len(t, sink.rows, 2)
}

func TestFuturePriceFeedbackActivatesOptions(t *testing.T) {
	fetcher := &fakeFetcher{
		quotes: map[string]upstream.RawQuote{
			"2885":  quote("2885", 2478),
			"57130": quote("57130", 2478),
			"c0":    quote("c0", 54.5),
			"p0":    quote("p0", 48.2),
		},
		failExch: map[string]error{},
	}
	sink := newMemorySink()
	p, res := newTestPoller(t, fetcher, sink)

	// First tick: only spot+future; the future's LTP binds strike 2480.
	stats := p.RunTick(context.Background())
	assert.Equal(t, 2, stats.Instruments)
	assert.Equal(t, 1, stats.Rebinds)

	binding, ok := res.Binding("RELIANCE")
	require.True(t, ok)
	assert.Equal(t, 2480.0, binding.Strike)

	// Second tick: the bound call and put join the active set.
	stats = p.RunTick(context.Background())
	assert.Equal(t, 4, stats.Instruments)
	assert.Equal(t, 4, stats.Persisted)
	assert.Equal(t, 0, stats.Rebinds)
}

func TestInvalidQuotesAreDroppedNotPersisted(t *testing.T) {
	badHighLow := quote("57130", 2481)
	badHighLow.High = 2400 // below low
	fetcher := &fakeFetcher{
		quotes: map[string]upstream.RawQuote{
			"2885":  {Exchange: "NSE", SymbolToken: "2885", LTP: -1},
			"57130": badHighLow,
		},
		failExch: map[string]error{},
	}
	sink := newMemorySink()
	p, _ := newTestPoller(t, fetcher, sink)

	stats := p.RunTick(context.Background())

	assert.Equal(t, StateSuccess, stats.State)
	assert.Equal(t, 2, stats.Dropped)
	assert.Equal(t, 0, stats.Persisted)
	assert.Len(t, sink.rows, 0)
}

func TestUnknownTokensCountAsDropped(t *testing.T) {
	stray := quote("99999", 123)
	fetcher := &fakeFetcher{
		quotes: map[string]upstream.RawQuote{
			"2885":  quote("2885", 2478),
			"57130": stray, // provider answers with a token we never asked about
		},
		failExch: map[string]error{},
	}
	fetcher.quotes["57130"] = stray
	sink := newMemorySink()
	p, _ := newTestPoller(t, fetcher, sink)

	stats := p.RunTick(context.Background())
	assert.Equal(t, 1, stats.Persisted)
	assert.Equal(t, 1, stats.Dropped)
}

func TestAllBatchesFailedMarksTickFailed(t *testing.T) {
	fetcher := &fakeFetcher{
		quotes: map[string]upstream.RawQuote{},
		failExch: map[string]error{
			"NSE": &upstream.APIError{StatusCode: 503},
			"NFO": &upstream.APIError{StatusCode: 503},
		},
	}
	sink := newMemorySink()
	p, _ := newTestPoller(t, fetcher, sink)

	stats := p.RunTick(context.Background())

	assert.Equal(t, StateFailed, stats.State)
	assert.Equal(t, 2, stats.FailedBatches)
	// Retries: 3 attempts per batch, 2 batches.
	assert.Equal(t, 6, fetcher.calls)
}

func TestNonRetryableErrorFailsBatchImmediately(t *testing.T) {
	fetcher := &fakeFetcher{
		quotes: map[string]upstream.RawQuote{"2885": quote("2885", 2478)},
		failExch: map[string]error{
			"NFO": &upstream.APIError{StatusCode: 400},
		},
	}
	sink := newMemorySink()
	p, _ := newTestPoller(t, fetcher, sink)

	stats := p.RunTick(context.Background())

	// NSE batch still lands even though the NFO batch failed hard.
	assert.Equal(t, StateSuccess, stats.State)
	assert.Equal(t, 1, stats.FailedBatches)
	assert.Equal(t, 1, stats.Persisted)
	// 400 is not retried: one NFO attempt plus one NSE attempt.
	assert.Equal(t, 2, fetcher.calls)
}

func TestTickReplayIsIdempotent(t *testing.T) {
	fetcher := &fakeFetcher{
		quotes: map[string]upstream.RawQuote{
			"2885":  quote("2885", 2478),
			"57130": quote("57130", 2481),
		},
		failExch: map[string]error{},
	}
	sink := newMemorySink()
	p, _ := newTestPoller(t, fetcher, sink)

	p.RunTick(context.Background())
	before := len(sink.rows)

	// A replay within the same second writes the same (token, timestamp)
	// keys; the sink ends up with the same row count.
	p.RunTick(context.Background())
	// Allow the option tokens activated by the first tick's rebind.
	assert.GreaterOrEqual(t, len(sink.rows), before)
	for key, snap := range sink.rows {
		assert.Equal(t, key, fmt.Sprintf("%s|%d", snap.Token, snap.Timestamp.Unix()))
	}
}

func TestStartStopIsIdempotent(t *testing.T) {
	fetcher := &fakeFetcher{quotes: map[string]upstream.RawQuote{}, failExch: map[string]error{}}
	p, _ := newTestPoller(t, fetcher, newMemorySink())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p.Start(ctx)
	p.Start(ctx) // no second loop
	p.Stop()
	p.Stop() // no panic on double stop
}
