// Package upstream is the REST client for the broker quote API.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bhavesh0009/NFO-dashboard/pkg/config"
)

const (
	quotePath  = "/rest/secure/angelbroking/market/v1/quote/"
	candlePath = "/rest/secure/angelbroking/historical/v1/getCandleData"

	// exchTimeLayout is the feed/trade time format the provider emits.
	exchTimeLayout = "02-Jan-2006 15:04:05"

	// candleRangeLayout is the from/to format of the historical API.
	candleRangeLayout = "2006-01-02 15:04"
)

// DepthLevel is one side-level of the order book depth block.
type DepthLevel struct {
	Price    float64 `json:"price"`
	Quantity int64   `json:"quantity"`
	Orders   int     `json:"orders"`
}

// RawQuote is the provider's FULL-mode quote payload for one token.
type RawQuote struct {
	Exchange      string  `json:"exchange"`
	TradingSymbol string  `json:"tradingSymbol"`
	SymbolToken   string  `json:"symbolToken"`
	LTP           float64 `json:"ltp"`
	Open          float64 `json:"open"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	Close         float64 `json:"close"`
	LastTradeQty  int64   `json:"lastTradeQty"`
	ExchFeedTime  string  `json:"exchFeedTime"`
	ExchTradeTime string  `json:"exchTradeTime"`
	NetChange     float64 `json:"netChange"`
	PercentChange float64 `json:"percentChange"`
	AvgPrice      float64 `json:"avgPrice"`
	TradeVolume   int64   `json:"tradeVolume"`
	OpenInterest  int64   `json:"opnInterest"`
	LowerCircuit  float64 `json:"lowerCircuit"`
	UpperCircuit  float64 `json:"upperCircuit"`
	TotalBuyQty   float64 `json:"totBuyQuan"`
	TotalSellQty  float64 `json:"totSellQuan"`
	Week52Low     float64 `json:"52WeekLow"`
	Week52High    float64 `json:"52WeekHigh"`
	Depth         struct {
		Buy  []DepthLevel `json:"buy"`
		Sell []DepthLevel `json:"sell"`
	} `json:"depth"`
}

// ParseExchTime parses a provider feed/trade timestamp in the exchange
// local zone. Zero time and no error for an empty field.
func ParseExchTime(value string, loc *time.Location) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return time.ParseInLocation(exchTimeLayout, value, loc)
}

// UnfetchedToken is a token the provider declined inside an otherwise
// successful response.
type UnfetchedToken struct {
	Exchange string `json:"exchange"`
	Token    string `json:"symbolToken"`
	Message  string `json:"message"`
}

// APIError is a non-2xx response from the quote API. Retryable reports
// whether the poller should back off and try the batch again.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("quote API error: status=%d, body=%s", e.StatusCode, e.Body)
}

// Retryable is true for rate limiting and server-side failures.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Client calls the broker quote API with enforced minimum call spacing.
type Client struct {
	client     *http.Client
	baseURL    string
	apiKey     string
	clientCode string
	mode       string
	rateLimit  time.Duration
	logger     *logrus.Entry

	mu       sync.Mutex
	lastCall time.Time
}

// NewClient creates a quote API client from the upstream config.
func NewClient(cfg *config.UpstreamConfig, logger *logrus.Logger) *Client {
	return &Client{
		client: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		clientCode: cfg.ClientCode,
		mode:       cfg.QuoteMode,
		rateLimit:  cfg.MinCallSpacing,
		logger:     logger.WithField("component", "upstream"),
	}
}

type quoteRequest struct {
	Mode           string              `json:"mode"`
	ExchangeTokens map[string][]string `json:"exchangeTokens"`
}

type quoteResponse struct {
	Status    bool   `json:"status"`
	Message   string `json:"message"`
	ErrorCode string `json:"errorcode"`
	Data      struct {
		Fetched   []RawQuote       `json:"fetched"`
		Unfetched []UnfetchedToken `json:"unfetched"`
	} `json:"data"`
}

// GetQuotes fetches FULL-mode quotes for one batch of tokens on a single
// exchange segment. Tokens the provider declines come back in the second
// return value; the call still succeeds.
func (c *Client) GetQuotes(ctx context.Context, exchange string, tokens []string) ([]RawQuote, []UnfetchedToken, error) {
	if len(tokens) == 0 {
		return nil, nil, nil
	}

	c.enforceRateLimit()

	payload, err := json.Marshal(quoteRequest{
		Mode:           c.mode,
		ExchangeTokens: map[string][]string{exchange: tokens},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+quotePath, bytes.NewReader(payload))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var result quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if !result.Status {
		return nil, nil, fmt.Errorf("quote API rejected request: %s (%s)", result.Message, result.ErrorCode)
	}

	c.logger.WithFields(logrus.Fields{
		"exchange":  exchange,
		"requested": len(tokens),
		"fetched":   len(result.Data.Fetched),
		"unfetched": len(result.Data.Unfetched),
	}).Debug("Fetched quote batch")

	return result.Data.Fetched, result.Data.Unfetched, nil
}

// Candle is one historical daily bar from the provider.
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
}

type candleRequest struct {
	Exchange    string `json:"exchange"`
	SymbolToken string `json:"symboltoken"`
	Interval    string `json:"interval"`
	FromDate    string `json:"fromdate"`
	ToDate      string `json:"todate"`
}

type candleResponse struct {
	Status    bool            `json:"status"`
	Message   string          `json:"message"`
	ErrorCode string          `json:"errorcode"`
	Data      [][]interface{} `json:"data"`
}

// GetDailyCandles fetches ONE_DAY candles for a token over [from, to].
// The provider encodes each candle as a positional array of timestamp,
// OHLC, and volume.
func (c *Client) GetDailyCandles(ctx context.Context, exchange, token string, from, to time.Time) ([]Candle, error) {
	c.enforceRateLimit()

	payload, err := json.Marshal(candleRequest{
		Exchange:    exchange,
		SymbolToken: token,
		Interval:    "ONE_DAY",
		FromDate:    from.Format(candleRangeLayout),
		ToDate:      to.Format(candleRangeLayout),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+candlePath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var result candleResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if !result.Status {
		return nil, fmt.Errorf("historical API rejected request: %s (%s)", result.Message, result.ErrorCode)
	}

	candles := make([]Candle, 0, len(result.Data))
	for _, row := range result.Data {
		candle, err := parseCandle(row)
		if err != nil {
			c.logger.WithFields(logrus.Fields{
				"token": token,
				"error": err.Error(),
			}).Warn("Dropping malformed candle")
			continue
		}
		candles = append(candles, candle)
	}

	c.logger.WithFields(logrus.Fields{
		"token":   token,
		"candles": len(candles),
	}).Debug("Fetched daily candles")

	return candles, nil
}

func parseCandle(row []interface{}) (Candle, error) {
	if len(row) != 6 {
		return Candle{}, fmt.Errorf("candle row has %d fields, want 6", len(row))
	}
	ts, ok := row[0].(string)
	if !ok {
		return Candle{}, fmt.Errorf("candle timestamp is not a string")
	}
	when, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return Candle{}, fmt.Errorf("bad candle timestamp %q: %w", ts, err)
	}

	nums := make([]float64, 5)
	for i := 1; i < 6; i++ {
		v, ok := row[i].(float64)
		if !ok {
			return Candle{}, fmt.Errorf("candle field %d is not numeric", i)
		}
		nums[i-1] = v
	}

	return Candle{
		Timestamp: when,
		Open:      nums[0],
		High:      nums[1],
		Low:       nums[2],
		Close:     nums[3],
		Volume:    int64(nums[4]),
	}, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-PrivateKey", c.apiKey)
	req.Header.Set("X-ClientCode", c.clientCode)
	req.Header.Set("X-SourceID", "WEB")
	req.Header.Set("X-UserType", "USER")
}

// enforceRateLimit spaces consecutive calls by the configured minimum.
func (c *Client) enforceRateLimit() {
	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed := time.Since(c.lastCall)
	if elapsed < c.rateLimit {
		time.Sleep(c.rateLimit - elapsed)
	}
	c.lastCall = time.Now()
}
