package models

import (
	"time"
)

// QuoteSnapshot is one polled observation of an instrument. The primary
// key is (token, capture timestamp); re-polling the same timestamp
// replaces the row.
type QuoteSnapshot struct {
	Token         string         `json:"token" db:"token"`
	Symbol        string         `json:"symbol" db:"symbol"`
	Kind          InstrumentKind `json:"kind" db:"-"`
	Exchange      string         `json:"exchange" db:"exchange"`
	LTP           float64        `json:"ltp" db:"ltp"`
	Open          float64        `json:"open" db:"open"`
	High          float64        `json:"high" db:"high"`
	Low           float64        `json:"low" db:"low"`
	Close         float64        `json:"close" db:"close"`
	LastTradeQty  int64          `json:"last_trade_qty" db:"last_trade_qty"`
	AvgTradePrice float64        `json:"avg_trade_price" db:"avg_trade_price"`
	Volume        int64          `json:"volume" db:"volume"`
	OpenInterest  int64          `json:"oi,omitempty" db:"oi"`
	TotalBuyQty   int64          `json:"total_buy_qty" db:"total_buy_qty"`
	TotalSellQty  int64          `json:"total_sell_qty" db:"total_sell_qty"`
	BestBid       float64        `json:"best_bid" db:"best_bid_price"`
	BestAsk       float64        `json:"best_ask" db:"best_ask_price"`
	BestBidOrders int            `json:"best_bid_orders" db:"best_bid_orders"`
	BestAskOrders int            `json:"best_ask_orders" db:"best_ask_orders"`
	NetChange     float64        `json:"net_change" db:"net_change"`
	PercentChange float64        `json:"percent_change" db:"percent_change"`
	LowerCircuit  float64        `json:"lower_circuit" db:"lower_circuit"`
	UpperCircuit  float64        `json:"upper_circuit" db:"upper_circuit"`
	Week52Low     float64        `json:"week_52_low" db:"week_low_52"`
	Week52High    float64        `json:"week_52_high" db:"week_high_52"`
	Strike        float64        `json:"strike,omitempty" db:"strike"`
	Right         OptionRight    `json:"right,omitempty" db:"option_right"`
	ExchFeedTime  time.Time      `json:"exch_feed_time" db:"exch_feed_time"`
	ExchTradeTime time.Time      `json:"exch_trade_time" db:"exch_trade_time"`
	Timestamp     time.Time      `json:"timestamp" db:"timestamp"`
}

// DailyBar is one finalized trading-day OHLCV(+OI) record. Primary key
// (token, date); the in-progress day is excluded until session close
// finalizes it.
type DailyBar struct {
	Token        string    `json:"token" db:"token"`
	Symbol       string    `json:"symbol" db:"symbol"`
	Date         time.Time `json:"date" db:"date"`
	Open         float64   `json:"open" db:"open"`
	High         float64   `json:"high" db:"high"`
	Low          float64   `json:"low" db:"low"`
	Close        float64   `json:"close" db:"close"`
	Volume       int64     `json:"volume" db:"volume"`
	OpenInterest int64     `json:"oi" db:"oi"`
}
