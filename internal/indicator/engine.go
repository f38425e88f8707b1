// Package indicator computes end-of-day technical indicators from
// finalized daily bars.
package indicator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bhavesh0009/NFO-dashboard/pkg/models"
)

// BarSource loads an instrument's daily bars oldest-first, up to and
// including the given date.
type BarSource interface {
	GetDailyBars(ctx context.Context, token string, until time.Time) ([]*models.DailyBar, error)
}

// RecordSink persists computed records; (token, date) upserts make
// recomputation idempotent.
type RecordSink interface {
	UpsertIndicatorRecord(ctx context.Context, rec *models.IndicatorRecord) error
}

// Thresholds govern the breakout classifier.
type Thresholds struct {
	// VolumeSpikeRatio is the minimum today/15-day-average volume ratio.
	VolumeSpikeRatio float64
	// BreakoutBand caps how far above the 21-day high a close may sit,
	// as a fraction (0.02 means within +2%).
	BreakoutBand float64
	// BreakdownBand caps how far below the 21-day low a close may sit,
	// as a fraction (0.005 means within -0.5%).
	BreakdownBand float64
}

// Engine fans indicator computation out across instruments.
type Engine struct {
	bars       BarSource
	sink       RecordSink
	thresholds Thresholds
	workers    int
	logger     *logrus.Entry
}

// New creates an engine with a bounded worker pool.
func New(bars BarSource, sink RecordSink, thresholds Thresholds, workers int, logger *logrus.Logger) *Engine {
	if workers <= 0 {
		workers = 8
	}
	return &Engine{
		bars:       bars,
		sink:       sink,
		thresholds: thresholds,
		workers:    workers,
		logger:     logger.WithField("component", "indicator"),
	}
}

// ComputeAll computes and persists records for every token in parallel.
// A token that fails is logged and skipped; the rest still land. Returns
// the number of records persisted.
func (e *Engine) ComputeAll(ctx context.Context, tokens []string, date time.Time) (int, error) {
	if len(tokens) == 0 {
		return 0, nil
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, e.workers)
	var mu sync.Mutex
	computed := 0
	failed := 0

	for _, token := range tokens {
		wg.Add(1)
		sem <- struct{}{}
		go func(token string) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := e.ComputeToken(ctx, token, date); err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
				e.logger.WithFields(logrus.Fields{
					"token": token,
					"error": err.Error(),
				}).Error("Indicator computation failed")
				return
			}
			mu.Lock()
			computed++
			mu.Unlock()
		}(token)
	}
	wg.Wait()

	e.logger.WithFields(logrus.Fields{
		"date":     date.Format("2006-01-02"),
		"computed": computed,
		"failed":   failed,
	}).Info("Indicator run complete")

	if failed > 0 {
		return computed, fmt.Errorf("%d of %d tokens failed", failed, len(tokens))
	}
	return computed, nil
}

// ComputeToken loads one token's history and persists its record for the
// scoring date.
func (e *Engine) ComputeToken(ctx context.Context, token string, date time.Time) error {
	bars, err := e.bars.GetDailyBars(ctx, token, date)
	if err != nil {
		return fmt.Errorf("failed to load bars: %w", err)
	}
	if len(bars) == 0 {
		return fmt.Errorf("no daily bars until %s", date.Format("2006-01-02"))
	}

	last := bars[len(bars)-1]
	if !sameDay(last.Date, date) {
		return fmt.Errorf("no bar for scoring date %s", date.Format("2006-01-02"))
	}

	rec := Compute(bars, e.thresholds)
	return e.sink.UpsertIndicatorRecord(ctx, rec)
}

// Compute derives the indicator record for the last bar in the series.
// Bars must be ordered oldest-first. Moving averages, RSI, MACD and
// Bollinger bands include the scored day; reference levels and the
// volume average use strictly prior history so the scored day is judged
// against levels it did not itself set.
func Compute(bars []*models.DailyBar, th Thresholds) *models.IndicatorRecord {
	today := bars[len(bars)-1]
	prior := bars[:len(bars)-1]

	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	priorHighs := make([]float64, len(prior))
	priorLows := make([]float64, len(prior))
	priorVolumes := make([]float64, len(prior))
	for i, b := range prior {
		priorHighs[i] = b.High
		priorLows[i] = b.Low
		priorVolumes[i] = float64(b.Volume)
	}

	rec := &models.IndicatorRecord{
		Token:      today.Token,
		Symbol:     today.Symbol,
		Date:       today.Date,
		Breakout:   models.SignalNone,
		ComputedAt: time.Now(),
	}

	rec.MA20 = sma(closes, 20)
	rec.MA50 = sma(closes, 50)
	rec.MA200 = sma(closes, 200)
	if rec.MA200 != nil && *rec.MA200 != 0 {
		rec.MA200Distance = ptr((today.Close - *rec.MA200) / *rec.MA200 * 100.0)
	}

	rec.High21D = highest(priorHighs, 21, 21)
	rec.Low21D = lowest(priorLows, 21, 21)
	rec.High52W = highest(priorHighs, 252, 252)
	rec.Low52W = lowest(priorLows, 252, 252)
	rec.ATH = highest(priorHighs, 0, 1)
	rec.ATL = lowest(priorLows, 0, 1)

	rec.Volume15DAvg = mean(priorVolumes, 15)
	if rec.Volume15DAvg != nil && *rec.Volume15DAvg > 0 {
		rec.VolumeRatio = ptr(float64(today.Volume) / *rec.Volume15DAvg)
	}

	rec.RSI14 = rsi(closes, 14)
	rec.MACD, rec.MACDSignal, rec.MACDHist = macd(closes)
	rec.BBUpper, rec.BBMiddle, rec.BBLower = bollinger(closes, 20, 2.0)

	rec.Breakout = classify(today.Close, rec, th)

	return rec
}

// classify labels the scored close against its reference levels. A
// breakout must clear the 21-day high on spiking volume without
// overextending past the band; breakdowns mirror that below the 21-day
// low.
func classify(close float64, rec *models.IndicatorRecord, th Thresholds) models.Signal {
	if rec.VolumeRatio == nil || rec.High21D == nil || rec.Low21D == nil {
		return models.SignalNone
	}
	if *rec.VolumeRatio <= th.VolumeSpikeRatio {
		return models.SignalNone
	}

	high, low := *rec.High21D, *rec.Low21D
	if close > high && close <= high*(1.0+th.BreakoutBand) {
		return models.SignalBreakout
	}
	if close < low && close >= low*(1.0-th.BreakdownBand) {
		return models.SignalBreakdown
	}
	return models.SignalNone
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}
