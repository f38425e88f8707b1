package models

import (
	"time"
)

// InstrumentKind identifies what a token trades.
type InstrumentKind string

const (
	KindSpot   InstrumentKind = "SPOT"
	KindFuture InstrumentKind = "FUTURE"
	KindOption InstrumentKind = "OPTION"
)

// OptionRight is the option side for OPTION instruments.
type OptionRight string

const (
	RightCall OptionRight = "CALL"
	RightPut  OptionRight = "PUT"
)

// Instrument represents one tradable contract from the daily catalog.
// Instruments are immutable once issued; the catalog re-issues the
// universe every trading day.
type Instrument struct {
	Token    string         `json:"token" db:"token"`
	Symbol   string         `json:"symbol" db:"symbol"`
	Name     string         `json:"name" db:"name"`
	Kind     InstrumentKind `json:"kind" db:"kind"`
	Exchange string         `json:"exchange" db:"exchange"`
	Expiry   string         `json:"expiry,omitempty" db:"expiry"`
	Strike   float64        `json:"strike,omitempty" db:"strike"`
	Right    OptionRight    `json:"right,omitempty" db:"option_right"`
	LotSize  int            `json:"lot_size" db:"lot_size"`
	TickSize float64        `json:"tick_size" db:"tick_size"`
	LoadedAt time.Time      `json:"loaded_at" db:"loaded_at"`
}

// IsDerivative reports whether the instrument carries open interest.
func (i *Instrument) IsDerivative() bool {
	return i.Kind == KindFuture || i.Kind == KindOption
}

// ATMBinding is the per-underlying binding between the future reference
// price and the pair of tracked option tokens. Only the instrument
// resolver mutates bindings; readers receive value copies.
type ATMBinding struct {
	Underlying  string    `json:"underlying"`
	FutureToken string    `json:"future_token"`
	RefPrice    float64   `json:"ref_price"`
	Strike      float64   `json:"strike"`
	CallToken   string    `json:"call_token"`
	PutToken    string    `json:"put_token"`
	Version     uint64    `json:"version"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ATMChange is emitted when the resolver re-binds an underlying to a new
// strike. OldCallToken/OldPutToken leave the active polling set but stay
// in the catalog.
type ATMChange struct {
	Underlying   string    `json:"underlying"`
	OldStrike    float64   `json:"old_strike"`
	NewStrike    float64   `json:"new_strike"`
	RefPrice     float64   `json:"ref_price"`
	CallToken    string    `json:"call_token"`
	PutToken     string    `json:"put_token"`
	OldCallToken string    `json:"old_call_token,omitempty"`
	OldPutToken  string    `json:"old_put_token,omitempty"`
	Version      uint64    `json:"version"`
	Timestamp    time.Time `json:"timestamp"`
}
