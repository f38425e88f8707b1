package indicator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bhavesh0009/NFO-dashboard/pkg/models"
)

var testThresholds = Thresholds{
	VolumeSpikeRatio: 2.0,
	BreakoutBand:     0.02,
	BreakdownBand:    0.005,
}

// history builds n prior bars (high 100, low 90, close 95, volume 1000)
// ending the day before the scored bar.
func history(n int) []*models.DailyBar {
	bars := make([]*models.DailyBar, 0, n)
	start := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		bars = append(bars, &models.DailyBar{
			Token:  "2885",
			Symbol: "RELIANCE-EQ",
			Date:   start.AddDate(0, 0, i),
			Open:   94, High: 100, Low: 90, Close: 95,
			Volume: 1000,
		})
	}
	return bars
}

func scored(prior []*models.DailyBar, close float64, volume int64) []*models.DailyBar {
	last := prior[len(prior)-1]
	return append(append([]*models.DailyBar{}, prior...), &models.DailyBar{
		Token:  last.Token,
		Symbol: last.Symbol,
		Date:   last.Date.AddDate(0, 0, 1),
		Open:   95, High: close + 1, Low: 89.4, Close: close,
		Volume: volume,
	})
}

func TestBreakoutWithinBandOnVolumeSpike(t *testing.T) {
	// 21-day high is 100; volume ratio 2500/1000 = 2.5.
	rec := Compute(scored(history(30), 101.9, 2500), testThresholds)

	require.NotNil(t, rec.High21D)
	assert.Equal(t, 100.0, *rec.High21D)
	require.NotNil(t, rec.VolumeRatio)
	assert.InDelta(t, 2.5, *rec.VolumeRatio, 1e-9)
	assert.Equal(t, models.SignalBreakout, rec.Breakout)
}

func TestOverextendedCloseIsNotABreakout(t *testing.T) {
	// 102.1 is more than 2% above the 21-day high of 100.
	rec := Compute(scored(history(30), 102.1, 2500), testThresholds)
	assert.Equal(t, models.SignalNone, rec.Breakout)
}

func TestBreakoutNeedsVolumeStrictlyAboveRatio(t *testing.T) {
	// Ratio exactly 2.0 does not qualify.
	rec := Compute(scored(history(30), 101.0, 2000), testThresholds)
	require.NotNil(t, rec.VolumeRatio)
	assert.InDelta(t, 2.0, *rec.VolumeRatio, 1e-9)
	assert.Equal(t, models.SignalNone, rec.Breakout)
}

func TestBreakdownWithinBand(t *testing.T) {
	// 21-day low is 90; band floor is 89.55.
	rec := Compute(scored(history(30), 89.6, 2500), testThresholds)
	require.NotNil(t, rec.Low21D)
	assert.Equal(t, 90.0, *rec.Low21D)
	assert.Equal(t, models.SignalBreakdown, rec.Breakout)

	rec = Compute(scored(history(30), 89.5, 2500), testThresholds)
	assert.Equal(t, models.SignalNone, rec.Breakout)
}

func TestVolumeAverageExcludesScoredDay(t *testing.T) {
	// Prior 15 volumes are 1000 each; the scored day's 2500 must not
	// drag the average up.
	rec := Compute(scored(history(30), 95, 2500), testThresholds)
	require.NotNil(t, rec.Volume15DAvg)
	assert.InDelta(t, 1000.0, *rec.Volume15DAvg, 1e-9)
}

func TestShortHistoryYieldsNulls(t *testing.T) {
	rec := Compute(scored(history(10), 101.9, 2500), testThresholds)

	assert.Nil(t, rec.MA20)
	assert.Nil(t, rec.MA50)
	assert.Nil(t, rec.MA200)
	assert.Nil(t, rec.High21D)
	assert.Nil(t, rec.Low21D)
	assert.Nil(t, rec.High52W)
	assert.Nil(t, rec.Low52W)
	assert.Nil(t, rec.Volume15DAvg)
	assert.Nil(t, rec.VolumeRatio)
	assert.Nil(t, rec.MACD)
	assert.Nil(t, rec.BBMiddle)
	// Ten prior bars are enough for the all-time extremes.
	require.NotNil(t, rec.ATH)
	assert.Equal(t, 100.0, *rec.ATH)
	// Without a volume ratio there can be no signal.
	assert.Equal(t, models.SignalNone, rec.Breakout)
}

func TestMovingAveragesIncludeScoredDay(t *testing.T) {
	rec := Compute(scored(history(19), 115, 1000), testThresholds)

	// Exactly 20 bars including today.
	require.NotNil(t, rec.MA20)
	assert.InDelta(t, (19*95.0+115.0)/20.0, *rec.MA20, 1e-9)
	assert.Nil(t, rec.MA50)
}

func TestRSIPinsAt100OnUninterruptedGains(t *testing.T) {
	bars := make([]*models.DailyBar, 0, 20)
	start := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 20; i++ {
		price := 100.0 + float64(i)
		bars = append(bars, &models.DailyBar{
			Token: "2885", Symbol: "RELIANCE-EQ",
			Date: start.AddDate(0, 0, i),
			Open: price, High: price + 1, Low: price - 1, Close: price,
			Volume: 1000,
		})
	}

	rec := Compute(bars, testThresholds)
	require.NotNil(t, rec.RSI14)
	assert.Equal(t, 100.0, *rec.RSI14)
}

func TestMACDSignalNeedsLongerHistory(t *testing.T) {
	rec := Compute(scored(history(27), 95, 1000), testThresholds)
	// 28 bars: the MACD line exists, the 9-day signal does not yet.
	require.NotNil(t, rec.MACD)
	assert.Nil(t, rec.MACDSignal)
	assert.Nil(t, rec.MACDHist)

	rec = Compute(scored(history(40), 95, 1000), testThresholds)
	require.NotNil(t, rec.MACDSignal)
	require.NotNil(t, rec.MACDHist)
	assert.InDelta(t, *rec.MACD-*rec.MACDSignal, *rec.MACDHist, 1e-9)
}

func TestBollingerBandsAreSymmetric(t *testing.T) {
	rec := Compute(scored(history(30), 95, 1000), testThresholds)

	require.NotNil(t, rec.BBMiddle)
	require.NotNil(t, rec.BBUpper)
	require.NotNil(t, rec.BBLower)
	assert.InDelta(t, *rec.BBUpper-*rec.BBMiddle, *rec.BBMiddle-*rec.BBLower, 1e-9)
	assert.GreaterOrEqual(t, *rec.BBUpper, *rec.BBMiddle)
}

func TestRecomputeProducesIdenticalRecord(t *testing.T) {
	// Enough history for every window, including the 252-bar one.
	bars := scored(history(300), 101.9, 2500)

	first := Compute(bars, testThresholds)
	second := Compute(bars, testThresholds)

	// ComputedAt is a wall-clock stamp; everything else must replay
	// exactly.
	first.ComputedAt = time.Time{}
	second.ComputedAt = time.Time{}
	require.NotNil(t, first.High52W)
	require.NotNil(t, first.MACDSignal)
	assert.Equal(t, first, second)
}

type fakeBarSource struct {
	bars    map[string][]*models.DailyBar
	failFor map[string]bool
}

func (f *fakeBarSource) GetDailyBars(_ context.Context, token string, _ time.Time) ([]*models.DailyBar, error) {
	if f.failFor[token] {
		return nil, errors.New("db down")
	}
	return f.bars[token], nil
}

type fakeRecordSink struct {
	mu   sync.Mutex
	recs map[string]*models.IndicatorRecord // keyed (token, date)
}

func (f *fakeRecordSink) UpsertIndicatorRecord(_ context.Context, rec *models.IndicatorRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recs == nil {
		f.recs = make(map[string]*models.IndicatorRecord)
	}
	f.recs[rec.Token+"|"+rec.Date.Format("2006-01-02")] = rec
	return nil
}

func TestComputeAllContainsPerTokenFailures(t *testing.T) {
	barsFor := func(token string) []*models.DailyBar {
		bars := scored(history(30), 101.9, 2500)
		for _, b := range bars {
			b.Token = token
		}
		return bars
	}
	date := barsFor("a")[30].Date

	source := &fakeBarSource{
		bars:    map[string][]*models.DailyBar{"a": barsFor("a"), "c": barsFor("c")},
		failFor: map[string]bool{"b": true},
	}
	sink := &fakeRecordSink{}

	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	e := New(source, sink, testThresholds, 4, l)

	computed, err := e.ComputeAll(context.Background(), []string{"a", "b", "c"}, date)
	require.Error(t, err)
	assert.Equal(t, 2, computed)
	assert.Len(t, sink.recs, 2)

	// Recompute is idempotent: same keys, same count.
	computed, err = e.ComputeAll(context.Background(), []string{"a", "c"}, date)
	require.NoError(t, err)
	assert.Equal(t, 2, computed)
	assert.Len(t, sink.recs, 2)
}
