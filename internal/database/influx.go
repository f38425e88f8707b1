package database

import (
	"context"
	"fmt"
	"sync"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus"

	"github.com/bhavesh0009/NFO-dashboard/pkg/config"
	"github.com/bhavesh0009/NFO-dashboard/pkg/models"
)

// InfluxClient mirrors intraday quote snapshots into InfluxDB for
// charting. MySQL stays the source of truth; the mirror is best-effort
// and buffered.
type InfluxClient struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	logger   *logrus.Entry
	cfg      *config.InfluxConfig

	buf   []*write.Point
	bufMu sync.Mutex
}

const influxFlushSize = 100

// NewInfluxClient creates a new InfluxDB client
func NewInfluxClient(cfg *config.InfluxConfig, logger *logrus.Logger) *InfluxClient {
	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetHTTPRequestTimeout(uint(cfg.Timeout.Seconds())).
			SetLogLevel(0),
	)

	return &InfluxClient{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		logger:   logger.WithField("component", "influxdb"),
		cfg:      cfg,
	}
}

// Close flushes buffered points and closes the InfluxDB client
func (ic *InfluxClient) Close() {
	if err := ic.Flush(context.Background()); err != nil {
		ic.logger.WithError(err).Warn("Failed to flush quote mirror on close")
	}
	ic.client.Close()
}

// Health checks InfluxDB health
func (ic *InfluxClient) Health(ctx context.Context) error {
	health, err := ic.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("failed to check health: %w", err)
	}

	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		return fmt.Errorf("influxdb health check failed: %s", msg)
	}

	return nil
}

// MirrorQuote buffers one quote snapshot; the buffer is flushed once it
// reaches influxFlushSize points.
func (ic *InfluxClient) MirrorQuote(ctx context.Context, snap *models.QuoteSnapshot) error {
	point := influxdb2.NewPoint(
		"quotes",
		map[string]string{
			"token":    snap.Token,
			"symbol":   snap.Symbol,
			"kind":     string(snap.Kind),
			"exchange": snap.Exchange,
		},
		map[string]interface{}{
			"ltp":      snap.LTP,
			"open":     snap.Open,
			"high":     snap.High,
			"low":      snap.Low,
			"close":    snap.Close,
			"volume":   snap.Volume,
			"oi":       snap.OpenInterest,
			"best_bid": snap.BestBid,
			"best_ask": snap.BestAsk,
		},
		snap.Timestamp,
	)

	ic.bufMu.Lock()
	ic.buf = append(ic.buf, point)
	flush := len(ic.buf) >= influxFlushSize
	ic.bufMu.Unlock()

	if flush {
		return ic.Flush(ctx)
	}

	return nil
}

// Flush writes all buffered points
func (ic *InfluxClient) Flush(ctx context.Context) error {
	ic.bufMu.Lock()
	points := ic.buf
	ic.buf = nil
	ic.bufMu.Unlock()

	if len(points) == 0 {
		return nil
	}

	if err := ic.writeAPI.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("failed to write %d quote points: %w", len(points), err)
	}

	ic.logger.WithField("points", len(points)).Debug("Flushed quote mirror")
	return nil
}
