package catalog

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bhavesh0009/NFO-dashboard/internal/database"
	"github.com/bhavesh0009/NFO-dashboard/pkg/models"
)

const expiryLayout = "02Jan2006"

// Manager owns the daily instrument universe: it refreshes the catalog
// from the scrip master before session start and answers universe
// queries for the resolver.
type Manager struct {
	client  *Client
	mysqlDB *database.MySQLClient
	logger  *logrus.Entry

	openTime string
	loc      *time.Location
	allow    map[string]bool // empty means every underlying with a future
}

// NewManager creates a catalog manager. A non-empty underlyings list
// restricts the universe to those names.
func NewManager(client *Client, mysqlDB *database.MySQLClient, underlyings []string, openTime string, loc *time.Location, logger *logrus.Logger) *Manager {
	allow := make(map[string]bool, len(underlyings))
	for _, name := range underlyings {
		allow[strings.ToUpper(strings.TrimSpace(name))] = true
	}
	return &Manager{
		client:   client,
		mysqlDB:  mysqlDB,
		logger:   logger.WithField("component", "catalog"),
		openTime: openTime,
		loc:      loc,
		allow:    allow,
	}
}

// tracked reports whether an underlying name is in scope.
func (m *Manager) tracked(name string) bool {
	return len(m.allow) == 0 || m.allow[name]
}

// parseExpiry parses a scrip-master expiry like "26SEP2026". The dump
// uses uppercase month names, which time.Parse will not match directly.
func parseExpiry(value string, loc *time.Location) (time.Time, error) {
	if len(value) != len("02Jan2006") {
		return time.Time{}, fmt.Errorf("bad expiry %q", value)
	}
	month := value[2:5]
	normalized := value[:2] + strings.ToUpper(month[:1]) + strings.ToLower(month[1:]) + value[5:]
	return time.ParseInLocation(expiryLayout, normalized, loc)
}

// IsCurrent reports whether the stored universe was loaded today at or
// after market open. A pre-open load is stale: expiries may have rolled.
func (m *Manager) IsCurrent(ctx context.Context) (bool, error) {
	loadedAt, err := m.mysqlDB.GetCatalogLoadedAt(ctx)
	if err != nil {
		return false, err
	}
	if loadedAt.IsZero() {
		return false, nil
	}

	now := time.Now().In(m.loc)
	open, err := time.ParseInLocation("2006-01-02 15:04:05",
		fmt.Sprintf("%s %s", now.Format("2006-01-02"), m.openTime), m.loc)
	if err != nil {
		return false, fmt.Errorf("failed to parse market open time: %w", err)
	}

	loadedAt = loadedAt.In(m.loc)
	return loadedAt.Year() == now.Year() && loadedAt.YearDay() == now.YearDay() && !loadedAt.Before(open), nil
}

// Refresh downloads the scrip master and replaces the stored universe:
// nearest-expiry stock futures, their spot equities, and the full option
// ladders for the same expiry. No-op when the universe is already
// current, unless force is set.
func (m *Manager) Refresh(ctx context.Context, force bool) error {
	if !force {
		current, err := m.IsCurrent(ctx)
		if err != nil {
			return err
		}
		if current {
			m.logger.Info("Instrument universe already current, skipping refresh")
			return nil
		}
	}

	records, err := m.client.Download(ctx)
	if err != nil {
		return err
	}

	instruments, err := m.buildUniverse(records)
	if err != nil {
		return err
	}

	if err := m.mysqlDB.ReplaceInstruments(ctx, instruments); err != nil {
		return fmt.Errorf("failed to store instrument universe: %w", err)
	}

	counts := map[models.InstrumentKind]int{}
	for _, ins := range instruments {
		counts[ins.Kind]++
	}
	m.logger.WithFields(logrus.Fields{
		"spot":    counts[models.KindSpot],
		"futures": counts[models.KindFuture],
		"options": counts[models.KindOption],
	}).Info("Instrument universe refreshed")

	return nil
}

// buildUniverse filters the raw dump down to the tracked universe.
func (m *Manager) buildUniverse(records []ScripRecord) ([]*models.Instrument, error) {
	now := time.Now().In(m.loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, m.loc)
	loadedAt := now

	// Pass 1: nearest future expiry across the tracked stock futures.
	var minExpiry time.Time
	for _, r := range records {
		if r.ExchSeg != "NFO" || r.InstrumentType != "FUTSTK" || !m.tracked(r.Name) {
			continue
		}
		exp, err := parseExpiry(r.Expiry, m.loc)
		if err != nil || exp.Before(today) {
			continue
		}
		if minExpiry.IsZero() || exp.Before(minExpiry) {
			minExpiry = exp
		}
	}
	if minExpiry.IsZero() {
		return nil, fmt.Errorf("no future expiries found in scrip master")
	}

	// Pass 2: futures at that expiry define the underlying set.
	var instruments []*models.Instrument
	underlyings := make(map[string]bool)
	for _, r := range records {
		if r.ExchSeg != "NFO" || r.InstrumentType != "FUTSTK" || !m.tracked(r.Name) {
			continue
		}
		exp, err := parseExpiry(r.Expiry, m.loc)
		if err != nil || !exp.Equal(minExpiry) {
			continue
		}
		underlyings[r.Name] = true
		instruments = append(instruments, recordToInstrument(r, models.KindFuture, loadedAt))
	}

	// Pass 3: matching spot equities and same-expiry option ladders.
	for _, r := range records {
		if !underlyings[r.Name] {
			continue
		}
		switch {
		case r.ExchSeg == "NSE" && strings.HasSuffix(r.Symbol, "-EQ"):
			instruments = append(instruments, recordToInstrument(r, models.KindSpot, loadedAt))
		case r.ExchSeg == "NFO" && r.InstrumentType == "OPTSTK":
			exp, err := parseExpiry(r.Expiry, m.loc)
			if err != nil || !exp.Equal(minExpiry) {
				continue
			}
			instruments = append(instruments, recordToInstrument(r, models.KindOption, loadedAt))
		}
	}

	sort.Slice(instruments, func(i, j int) bool {
		return instruments[i].Symbol < instruments[j].Symbol
	})

	return instruments, nil
}

// recordToInstrument converts one scrip record. The dump scales option
// strikes by 100.
func recordToInstrument(r ScripRecord, kind models.InstrumentKind, loadedAt time.Time) *models.Instrument {
	strike, _ := strconv.ParseFloat(r.Strike, 64)
	tickSize, _ := strconv.ParseFloat(r.TickSize, 64)
	lotSize, _ := strconv.Atoi(r.LotSize)

	ins := &models.Instrument{
		Token:    r.Token,
		Symbol:   r.Symbol,
		Name:     r.Name,
		Kind:     kind,
		Exchange: r.ExchSeg,
		Expiry:   r.Expiry,
		LotSize:  lotSize,
		TickSize: tickSize,
		LoadedAt: loadedAt,
	}

	if kind == models.KindOption {
		ins.Strike = strike / 100
		switch {
		case strings.HasSuffix(r.Symbol, "CE"):
			ins.Right = models.RightCall
		case strings.HasSuffix(r.Symbol, "PE"):
			ins.Right = models.RightPut
		}
	}

	return ins
}

// Load returns the stored universe grouped by underlying name.
func (m *Manager) Load(ctx context.Context) (map[string][]*models.Instrument, error) {
	instruments, err := m.mysqlDB.GetInstruments(ctx)
	if err != nil {
		return nil, err
	}

	byUnderlying := make(map[string][]*models.Instrument)
	for _, ins := range instruments {
		byUnderlying[ins.Name] = append(byUnderlying[ins.Name], ins)
	}

	return byUnderlying, nil
}
