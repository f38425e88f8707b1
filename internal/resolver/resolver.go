// Package resolver owns ATM strike selection. It is the single writer
// of the per-underlying ATM bindings; every other component reads value
// snapshots taken at the start of its own tick.
package resolver

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bhavesh0009/NFO-dashboard/pkg/models"
)

// strikeEntry is one rung of an underlying's strike ladder.
type strikeEntry struct {
	strike float64
	call   *models.Instrument
	put    *models.Instrument
}

func (e strikeEntry) callToken() string {
	if e.call == nil {
		return ""
	}
	return e.call.Token
}

func (e strikeEntry) putToken() string {
	if e.put == nil {
		return ""
	}
	return e.put.Token
}

// underlyingSet is the per-underlying slice of the universe: its spot,
// its nearest-expiry future, and the sorted strike ladder.
type underlyingSet struct {
	spot   *models.Instrument
	future *models.Instrument
	ladder []strikeEntry // ascending by strike
}

// Resolver maps underlyings to the instruments that must be polled,
// re-selecting ATM options as the future reference price moves.
type Resolver struct {
	mu          sync.RWMutex
	universe    map[string]*underlyingSet
	bindings    map[string]*models.ATMBinding
	byFutTok    map[string]string // future token -> underlying
	intervals   map[string]float64
	defInterval float64
	version     uint64

	onChange func(*models.ATMChange)
	logger   *logrus.Entry
}

// New creates a resolver with per-underlying strike intervals; anything
// missing from the map uses defaultInterval.
func New(intervals map[string]float64, defaultInterval float64, logger *logrus.Logger) *Resolver {
	return &Resolver{
		universe:    make(map[string]*underlyingSet),
		bindings:    make(map[string]*models.ATMBinding),
		byFutTok:    make(map[string]string),
		intervals:   intervals,
		defInterval: defaultInterval,
		logger:      logger.WithField("component", "resolver"),
	}
}

// OnATMChange registers the handler invoked on every re-binding. Must be
// set before the first price update.
func (r *Resolver) OnATMChange(fn func(*models.ATMChange)) {
	r.onChange = fn
}

// LoadUniverse replaces the tracked universe from the day's catalog.
// Existing bindings are discarded; options re-bind on the first future
// price of the session.
func (r *Resolver) LoadUniverse(byUnderlying map[string][]*models.Instrument) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.universe = make(map[string]*underlyingSet)
	r.bindings = make(map[string]*models.ATMBinding)
	r.byFutTok = make(map[string]string)

	for name, instruments := range byUnderlying {
		set := &underlyingSet{}
		rungs := make(map[float64]*strikeEntry)

		for _, ins := range instruments {
			switch ins.Kind {
			case models.KindSpot:
				set.spot = ins
			case models.KindFuture:
				set.future = ins
			case models.KindOption:
				rung, ok := rungs[ins.Strike]
				if !ok {
					rung = &strikeEntry{strike: ins.Strike}
					rungs[ins.Strike] = rung
				}
				if ins.Right == models.RightCall {
					rung.call = ins
				} else {
					rung.put = ins
				}
			}
		}

		if set.future == nil {
			r.logger.WithField("underlying", name).Warn("Underlying has no future contract, skipping")
			continue
		}

		for _, rung := range rungs {
			set.ladder = append(set.ladder, *rung)
		}
		sort.Slice(set.ladder, func(i, j int) bool {
			return set.ladder[i].strike < set.ladder[j].strike
		})

		r.universe[name] = set
		r.byFutTok[set.future.Token] = name
	}

	if len(r.universe) == 0 {
		return fmt.Errorf("no resolvable underlyings in universe")
	}

	r.logger.WithField("underlyings", len(r.universe)).Info("Universe loaded")
	return nil
}

// StrikeInterval returns the configured strike interval for an underlying.
func (r *Resolver) StrikeInterval(underlying string) float64 {
	if v, ok := r.intervals[underlying]; ok {
		return v
	}
	return r.defInterval
}

// NearestStrike computes the ideal ATM strike for a reference price:
// round(price/interval) * interval, half away from zero.
func NearestStrike(price, interval float64) float64 {
	return math.Round(price/interval) * interval
}

// OnFuturePriceUpdate recomputes the ATM selection for the underlying of
// the given future price. Returns the change event when the bound strike
// moved, nil otherwise. Rebinding happens only on strict strike
// difference; no hysteresis. The change handler runs outside the lock so
// it may read bindings freely.
func (r *Resolver) OnFuturePriceUpdate(underlying string, price float64) (*models.ATMChange, error) {
	change, err := r.rebind(underlying, price)
	if err != nil || change == nil {
		return change, err
	}
	if r.onChange != nil {
		r.onChange(change)
	}
	return change, nil
}

func (r *Resolver) rebind(underlying string, price float64) (*models.ATMChange, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.universe[underlying]
	if !ok {
		return nil, fmt.Errorf("unknown underlying %q", underlying)
	}
	if len(set.ladder) == 0 {
		// The whole ladder is empty: report and leave the underlying
		// out of ATM tracking until the catalog refreshes.
		return nil, fmt.Errorf("empty strike ladder for %q", underlying)
	}

	ideal := NearestStrike(price, r.StrikeInterval(underlying))
	rung := closestRung(set.ladder, ideal)

	binding := r.bindings[underlying]
	if binding != nil && binding.Strike == rung.strike {
		binding.RefPrice = price
		binding.UpdatedAt = time.Now()
		return nil, nil
	}

	r.version++
	change := &models.ATMChange{
		Underlying: underlying,
		NewStrike:  rung.strike,
		RefPrice:   price,
		CallToken:  rung.callToken(),
		PutToken:   rung.putToken(),
		Version:    r.version,
		Timestamp:  time.Now(),
	}
	if binding != nil {
		change.OldStrike = binding.Strike
		change.OldCallToken = binding.CallToken
		change.OldPutToken = binding.PutToken
	}

	r.bindings[underlying] = &models.ATMBinding{
		Underlying:  underlying,
		FutureToken: set.future.Token,
		RefPrice:    price,
		Strike:      rung.strike,
		CallToken:   rung.callToken(),
		PutToken:    rung.putToken(),
		Version:     r.version,
		UpdatedAt:   change.Timestamp,
	}

	r.logger.WithFields(logrus.Fields{
		"underlying": underlying,
		"old_strike": change.OldStrike,
		"new_strike": change.NewStrike,
		"ref_price":  price,
	}).Info("ATM strike re-bound")

	return change, nil
}

// closestRung picks the ladder rung nearest the ideal strike. Sparse
// ladders fall back to the closest available strike on either side;
// equidistant rungs resolve to the lower strike because the ladder is
// ascending and only a strictly smaller distance advances the pick.
func closestRung(ladder []strikeEntry, ideal float64) strikeEntry {
	best := ladder[0]
	bestDist := math.Abs(ladder[0].strike - ideal)
	for _, rung := range ladder[1:] {
		dist := math.Abs(rung.strike - ideal)
		if dist < bestDist {
			best = rung
			bestDist = dist
		}
	}
	return best
}

// Binding returns a value copy of the current binding for an underlying.
func (r *Resolver) Binding(underlying string) (models.ATMBinding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	binding, ok := r.bindings[underlying]
	if !ok {
		return models.ATMBinding{}, false
	}
	return *binding, true
}

// UnderlyingForFuture maps a future token back to its underlying name.
func (r *Resolver) UnderlyingForFuture(token string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name, ok := r.byFutTok[token]
	return name, ok
}

// ActiveInstruments returns a consistent snapshot of every instrument
// that must be polled right now: each underlying's spot and future, plus
// the currently bound ATM call/put. Unbound underlyings contribute no
// options until their first future price arrives.
func (r *Resolver) ActiveInstruments() []*models.Instrument {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var active []*models.Instrument
	for name, set := range r.universe {
		if set.spot != nil {
			active = append(active, set.spot)
		}
		active = append(active, set.future)

		binding, ok := r.bindings[name]
		if !ok {
			continue
		}
		for _, rung := range set.ladder {
			if rung.strike != binding.Strike {
				continue
			}
			if rung.call != nil {
				active = append(active, rung.call)
			}
			if rung.put != nil {
				active = append(active, rung.put)
			}
			break
		}
	}

	sort.Slice(active, func(i, j int) bool {
		return active[i].Token < active[j].Token
	})

	return active
}

// Underlyings returns the tracked underlying names, sorted.
func (r *Resolver) Underlyings() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.universe))
	for name := range r.universe {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
