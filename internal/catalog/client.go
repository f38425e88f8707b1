package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bhavesh0009/NFO-dashboard/pkg/config"
)

// ScripRecord is one row of the provider's scrip master dump. Strike
// comes over the wire scaled by 100 and as a string, like most numeric
// fields in the dump.
type ScripRecord struct {
	Token          string `json:"token"`
	Symbol         string `json:"symbol"`
	Name           string `json:"name"`
	Expiry         string `json:"expiry"`
	Strike         string `json:"strike"`
	LotSize        string `json:"lotsize"`
	InstrumentType string `json:"instrumenttype"`
	ExchSeg        string `json:"exch_seg"`
	TickSize       string `json:"tick_size"`
}

// Client downloads the provider's daily scrip master.
type Client struct {
	httpClient *http.Client
	url        string
	logger     *logrus.Entry
}

// NewClient creates a new scrip master client
func NewClient(cfg *config.UpstreamConfig, logger *logrus.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 2 * time.Minute, // the dump is tens of MB
		},
		url:    cfg.ScripMasterURL,
		logger: logger.WithField("component", "scrip-master"),
	}
}

// Download fetches and decodes the full scrip master dump
func (c *Client) Download(ctx context.Context) ([]ScripRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	c.logger.Info("Downloading scrip master")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download scrip master: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("scrip master download failed: status=%d, body=%s", resp.StatusCode, string(body))
	}

	var records []ScripRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("failed to decode scrip master: %w", err)
	}

	c.logger.WithField("records", len(records)).Info("Scrip master downloaded")
	return records, nil
}
