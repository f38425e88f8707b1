package models

import (
	"time"
)

// Signal classifies a daily bar against its trailing reference levels.
type Signal string

const (
	SignalBreakout  Signal = "BREAKOUT"
	SignalBreakdown Signal = "BREAKDOWN"
	SignalNone      Signal = "NONE"
)

// IndicatorRecord holds one day's computed indicators for an instrument.
// Window fields are pointers: nil means the trailing history was too
// short to satisfy that window, and the column is written as NULL rather
// than zero. Primary key (token, date); recomputation overwrites.
type IndicatorRecord struct {
	Token         string    `json:"token" db:"token"`
	Symbol        string    `json:"symbol" db:"symbol"`
	Date          time.Time `json:"date" db:"date"`
	MA20          *float64  `json:"ma_20" db:"ma_20"`
	MA50          *float64  `json:"ma_50" db:"ma_50"`
	MA200         *float64  `json:"ma_200" db:"ma_200"`
	MA200Distance *float64  `json:"ma_200_distance" db:"ma_200_distance"`
	High21D       *float64  `json:"high_21d" db:"high_21d"`
	Low21D        *float64  `json:"low_21d" db:"low_21d"`
	High52W       *float64  `json:"high_52w" db:"high_52w"`
	Low52W        *float64  `json:"low_52w" db:"low_52w"`
	ATH           *float64  `json:"ath" db:"ath"`
	ATL           *float64  `json:"atl" db:"atl"`
	Volume15DAvg  *float64  `json:"volume_15d_avg" db:"volume_15d_avg"`
	VolumeRatio   *float64  `json:"volume_ratio" db:"volume_ratio"`
	RSI14         *float64  `json:"rsi_14" db:"rsi_14"`
	MACD          *float64  `json:"macd" db:"macd"`
	MACDSignal    *float64  `json:"macd_signal" db:"macd_signal"`
	MACDHist      *float64  `json:"macd_hist" db:"macd_hist"`
	BBUpper       *float64  `json:"bb_upper" db:"bb_upper"`
	BBMiddle      *float64  `json:"bb_middle" db:"bb_middle"`
	BBLower       *float64  `json:"bb_lower" db:"bb_lower"`
	Breakout      Signal    `json:"breakout_detected" db:"breakout_detected"`
	ComputedAt    time.Time `json:"computed_at" db:"calculation_timestamp"`
}

// LatestMarketData is the read-API projection joining the most recent
// daily bar with its indicator record, one row per spot token.
type LatestMarketData struct {
	Token   string    `json:"token" db:"token"`
	Symbol  string    `json:"symbol" db:"symbol"`
	Name    string    `json:"name" db:"name"`
	LotSize int       `json:"lot_size" db:"lot_size"`
	Date    time.Time `json:"date" db:"date"`
	Open    float64   `json:"open" db:"open"`
	High    float64   `json:"high" db:"high"`
	Low     float64   `json:"low" db:"low"`
	Close   float64   `json:"close" db:"close"`
	Volume  int64     `json:"volume" db:"volume"`
	IndicatorRecord
	LastUpdated time.Time `json:"last_updated" db:"last_updated"`
}
