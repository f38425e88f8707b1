package catalog

import (
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bhavesh0009/NFO-dashboard/pkg/models"
)

func newTestManager(underlyings []string) *Manager {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)

	allow := make(map[string]bool, len(underlyings))
	for _, name := range underlyings {
		allow[name] = true
	}
	return &Manager{
		logger: l.WithField("component", "catalog"),
		loc:    time.UTC,
		allow:  allow,
	}
}

// expiries relative to the fake "today" so the nearest-expiry pick is
// stable regardless of when the test runs. Uppercased to match the
// scrip master feed, which ships expiries like "26SEP2026".
func expiry(daysAhead int) string {
	return strings.ToUpper(time.Now().UTC().AddDate(0, 0, daysAhead).Format(expiryLayout))
}

func testRecords() []ScripRecord {
	near := expiry(10)
	far := expiry(40)
	return []ScripRecord{
		{Token: "2885", Symbol: "RELIANCE-EQ", Name: "RELIANCE", ExchSeg: "NSE", LotSize: "1", TickSize: "5"},
		{Token: "57130", Symbol: "RELIANCE26SEPFUT", Name: "RELIANCE", Expiry: near, ExchSeg: "NFO", InstrumentType: "FUTSTK", LotSize: "250", TickSize: "5"},
		{Token: "57999", Symbol: "RELIANCE26OCTFUT", Name: "RELIANCE", Expiry: far, ExchSeg: "NFO", InstrumentType: "FUTSTK", LotSize: "250", TickSize: "5"},
		{Token: "c1", Symbol: "RELIANCE26SEP2480CE", Name: "RELIANCE", Expiry: near, Strike: "248000", ExchSeg: "NFO", InstrumentType: "OPTSTK", LotSize: "250", TickSize: "5"},
		{Token: "p1", Symbol: "RELIANCE26SEP2480PE", Name: "RELIANCE", Expiry: near, Strike: "248000", ExchSeg: "NFO", InstrumentType: "OPTSTK", LotSize: "250", TickSize: "5"},
		{Token: "c2", Symbol: "RELIANCE26OCT2480CE", Name: "RELIANCE", Expiry: far, Strike: "248000", ExchSeg: "NFO", InstrumentType: "OPTSTK", LotSize: "250", TickSize: "5"},
		{Token: "11536", Symbol: "TCS-EQ", Name: "TCS", ExchSeg: "NSE", LotSize: "1", TickSize: "5"},
		{Token: "61123", Symbol: "TCS26SEPFUT", Name: "TCS", Expiry: near, ExchSeg: "NFO", InstrumentType: "FUTSTK", LotSize: "175", TickSize: "5"},
		// Index contract: no FUTSTK type, always excluded.
		{Token: "99926000", Symbol: "NIFTY26SEPFUT", Name: "NIFTY", Expiry: near, ExchSeg: "NFO", InstrumentType: "FUTIDX"},
	}
}

func kindCount(instruments []*models.Instrument) map[models.InstrumentKind]int {
	counts := make(map[models.InstrumentKind]int)
	for _, ins := range instruments {
		counts[ins.Kind]++
	}
	return counts
}

func TestBuildUniverseSelectsNearestExpiry(t *testing.T) {
	m := newTestManager(nil)

	instruments, err := m.buildUniverse(testRecords())
	require.NoError(t, err)

	counts := kindCount(instruments)
	assert.Equal(t, 2, counts[models.KindSpot])
	assert.Equal(t, 2, counts[models.KindFuture])
	assert.Equal(t, 2, counts[models.KindOption])

	for _, ins := range instruments {
		assert.NotEqual(t, "57999", ins.Token, "far-month future must be excluded")
		assert.NotEqual(t, "c2", ins.Token, "far-month option must be excluded")
		assert.NotEqual(t, "99926000", ins.Token, "index future must be excluded")
	}
}

func TestBuildUniverseScalesStrikesAndDetectsRights(t *testing.T) {
	m := newTestManager(nil)

	instruments, err := m.buildUniverse(testRecords())
	require.NoError(t, err)

	byToken := make(map[string]*models.Instrument)
	for _, ins := range instruments {
		byToken[ins.Token] = ins
	}

	call := byToken["c1"]
	require.NotNil(t, call)
	assert.Equal(t, 2480.0, call.Strike)
	assert.Equal(t, models.RightCall, call.Right)

	put := byToken["p1"]
	require.NotNil(t, put)
	assert.Equal(t, models.RightPut, put.Right)

	spot := byToken["2885"]
	require.NotNil(t, spot)
	assert.Equal(t, models.KindSpot, spot.Kind)
	assert.Zero(t, spot.Strike)
}

func TestBuildUniverseHonorsUnderlyingAllowList(t *testing.T) {
	m := newTestManager([]string{"TCS"})

	instruments, err := m.buildUniverse(testRecords())
	require.NoError(t, err)

	for _, ins := range instruments {
		assert.Equal(t, "TCS", ins.Name)
	}
	counts := kindCount(instruments)
	assert.Equal(t, 1, counts[models.KindSpot])
	assert.Equal(t, 1, counts[models.KindFuture])
}

func TestBuildUniverseNoFuturesErrors(t *testing.T) {
	m := newTestManager(nil)

	_, err := m.buildUniverse([]ScripRecord{
		{Token: "2885", Symbol: "RELIANCE-EQ", Name: "RELIANCE", ExchSeg: "NSE"},
	})
	assert.Error(t, err)
}
