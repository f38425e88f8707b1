package resolver

import (
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bhavesh0009/NFO-dashboard/pkg/models"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func option(token string, strike float64, right models.OptionRight) *models.Instrument {
	suffix := "CE"
	if right == models.RightPut {
		suffix = "PE"
	}
	return &models.Instrument{
		Token:    token,
		Symbol:   fmt.Sprintf("RELIANCE25SEP%.0f%s", strike, suffix),
		Name:     "RELIANCE",
		Kind:     models.KindOption,
		Exchange: "NFO",
		Strike:   strike,
		Right:    right,
	}
}

func relianceUniverse(strikes ...float64) map[string][]*models.Instrument {
	instruments := []*models.Instrument{
		{Token: "2885", Symbol: "RELIANCE-EQ", Name: "RELIANCE", Kind: models.KindSpot, Exchange: "NSE"},
		{Token: "57130", Symbol: "RELIANCE25SEPFUT", Name: "RELIANCE", Kind: models.KindFuture, Exchange: "NFO"},
	}
	for i, strike := range strikes {
		instruments = append(instruments,
			option(fmt.Sprintf("c%d", i), strike, models.RightCall),
			option(fmt.Sprintf("p%d", i), strike, models.RightPut),
		)
	}
	return map[string][]*models.Instrument{"RELIANCE": instruments}
}

func TestNearestStrike(t *testing.T) {
	tests := []struct {
		price    float64
		interval float64
		want     float64
	}{
		{1043.0, 5, 1045}, // .6 of the interval rounds up
		{1042.0, 5, 1040},
		{1041.0, 5, 1040},
		{1042.5, 5, 1045}, // exact midpoint rounds away from zero
		{1044.0, 5, 1045},
		{2480.0, 20, 2480},
		{2489.9, 20, 2480},
		{2490.0, 20, 2500},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NearestStrike(tt.price, tt.interval),
			"price=%v interval=%v", tt.price, tt.interval)
	}
}

func TestOnFuturePriceUpdateBindsAndRebinds(t *testing.T) {
	r := New(map[string]float64{"RELIANCE": 20}, 5, testLogger())
	require.NoError(t, r.LoadUniverse(relianceUniverse(2440, 2460, 2480, 2500, 2520)))

	var events []*models.ATMChange
	r.OnATMChange(func(c *models.ATMChange) { events = append(events, c) })

	change, err := r.OnFuturePriceUpdate("RELIANCE", 2478.0)
	require.NoError(t, err)
	require.NotNil(t, change)
	assert.Equal(t, 2480.0, change.NewStrike)
	assert.Equal(t, uint64(1), change.Version)

	// Same strike again: no event, binding ref price refreshed.
	change, err = r.OnFuturePriceUpdate("RELIANCE", 2482.0)
	require.NoError(t, err)
	assert.Nil(t, change)

	binding, ok := r.Binding("RELIANCE")
	require.True(t, ok)
	assert.Equal(t, 2482.0, binding.RefPrice)
	assert.Equal(t, 2480.0, binding.Strike)

	// Price drifts into the next bucket: re-bind with old/new recorded.
	change, err = r.OnFuturePriceUpdate("RELIANCE", 2494.0)
	require.NoError(t, err)
	require.NotNil(t, change)
	assert.Equal(t, 2480.0, change.OldStrike)
	assert.Equal(t, 2500.0, change.NewStrike)
	assert.Equal(t, uint64(2), change.Version)
	assert.Len(t, events, 2)
}

func TestSparseLadderFallsBackToClosestStrike(t *testing.T) {
	// Ideal strike 2480 is missing from the ladder.
	r := New(map[string]float64{"RELIANCE": 20}, 5, testLogger())
	require.NoError(t, r.LoadUniverse(relianceUniverse(2440, 2460, 2520)))

	change, err := r.OnFuturePriceUpdate("RELIANCE", 2478.0)
	require.NoError(t, err)
	require.NotNil(t, change)
	assert.Equal(t, 2460.0, change.NewStrike)
}

func TestSparseLadderTieResolvesToLowerStrike(t *testing.T) {
	// 2460 and 2500 are equidistant from the ideal 2480.
	r := New(map[string]float64{"RELIANCE": 20}, 5, testLogger())
	require.NoError(t, r.LoadUniverse(relianceUniverse(2460, 2500)))

	change, err := r.OnFuturePriceUpdate("RELIANCE", 2481.0)
	require.NoError(t, err)
	require.NotNil(t, change)
	assert.Equal(t, 2460.0, change.NewStrike)
}

func TestEmptyLadderReportsError(t *testing.T) {
	r := New(nil, 5, testLogger())
	require.NoError(t, r.LoadUniverse(relianceUniverse()))

	_, err := r.OnFuturePriceUpdate("RELIANCE", 2478.0)
	assert.Error(t, err)

	// Spot and future still poll; no options appear.
	active := r.ActiveInstruments()
	assert.Len(t, active, 2)
}

func TestActiveInstrumentsIncludesBoundOptions(t *testing.T) {
	r := New(map[string]float64{"RELIANCE": 20}, 5, testLogger())
	require.NoError(t, r.LoadUniverse(relianceUniverse(2460, 2480, 2500)))

	// Unbound: spot + future only.
	assert.Len(t, r.ActiveInstruments(), 2)

	_, err := r.OnFuturePriceUpdate("RELIANCE", 2478.0)
	require.NoError(t, err)

	active := r.ActiveInstruments()
	require.Len(t, active, 4)

	kinds := make(map[models.InstrumentKind]int)
	for _, ins := range active {
		kinds[ins.Kind]++
	}
	assert.Equal(t, 1, kinds[models.KindSpot])
	assert.Equal(t, 1, kinds[models.KindFuture])
	assert.Equal(t, 2, kinds[models.KindOption])
}

func TestUnderlyingForFuture(t *testing.T) {
	r := New(nil, 5, testLogger())
	require.NoError(t, r.LoadUniverse(relianceUniverse(2480)))

	name, ok := r.UnderlyingForFuture("57130")
	require.True(t, ok)
	assert.Equal(t, "RELIANCE", name)

	_, ok = r.UnderlyingForFuture("99999")
	assert.False(t, ok)
}
