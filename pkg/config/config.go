package config

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `env:", prefix=SERVER_"`
	MySQL     MySQLConfig     `env:", prefix=MYSQL_"`
	InfluxDB  InfluxConfig    `env:", prefix=INFLUXDB_"`
	Redis     RedisConfig     `env:", prefix=REDIS_"`
	NATS      NATSConfig      `env:", prefix=NATS_"`
	Upstream  UpstreamConfig  `env:", prefix=UPSTREAM_"`
	Poller    PollerConfig    `env:", prefix=POLLER_"`
	Market    MarketConfig    `env:", prefix=MARKET_"`
	Indicator IndicatorConfig `env:", prefix=INDICATOR_"`
	Features  FeaturesConfig  `env:", prefix=FEATURES_"`
	Logging   LoggingConfig   `env:", prefix=LOG_"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `env:"HOST, default=0.0.0.0"`
	Port         int           `env:"PORT, default=8080"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT, default=30s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT, default=30s"`
	IdleTimeout  time.Duration `env:"IDLE_TIMEOUT, default=120s"`
	CORSEnabled  bool          `env:"CORS_ENABLED, default=true"`
	CORSOrigins  []string      `env:"CORS_ORIGINS, default=*"`
}

// MySQLConfig holds MySQL configuration
type MySQLConfig struct {
	Host            string        `env:"HOST, default=localhost"`
	Port            int           `env:"PORT, default=3306"`
	Database        string        `env:"DATABASE, default=nfo_data"`
	User            string        `env:"USER, default=nfo"`
	Password        string        `env:"PASSWORD, default=nfo123"`
	MaxOpenConns    int           `env:"MAX_OPEN_CONNS, default=25"`
	MaxIdleConns    int           `env:"MAX_IDLE_CONNS, default=5"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME, default=5m"`
}

// InfluxConfig holds InfluxDB configuration for the intraday quote mirror
type InfluxConfig struct {
	URL     string        `env:"URL, default=http://localhost:8086"`
	Token   string        `env:"TOKEN, default=my-super-secret-auth-token"`
	Org     string        `env:"ORG, default=nfo-org"`
	Bucket  string        `env:"BUCKET, default=nfo_quotes"`
	Timeout time.Duration `env:"TIMEOUT, default=10s"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host         string        `env:"HOST, default=localhost"`
	Port         int           `env:"PORT, default=6379"`
	Password     string        `env:"PASSWORD"`
	DB           int           `env:"DB, default=0"`
	PoolSize     int           `env:"POOL_SIZE, default=10"`
	MinIdleConns int           `env:"MIN_IDLE_CONNS, default=5"`
	DialTimeout  time.Duration `env:"DIAL_TIMEOUT, default=5s"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT, default=3s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT, default=3s"`
	QuoteTTL     time.Duration `env:"QUOTE_TTL, default=30s"`
}

// NATSConfig holds NATS configuration
type NATSConfig struct {
	URL           string        `env:"URL, default=nats://localhost:4222"`
	MaxReconnect  int           `env:"MAX_RECONNECT, default=10"`
	ReconnectWait time.Duration `env:"RECONNECT_WAIT, default=2s"`
	DrainTimeout  time.Duration `env:"DRAIN_TIMEOUT, default=30s"`
}

// UpstreamConfig holds the quote provider configuration. The provider
// caps both request size and call frequency; the limits live here so the
// poller never hard-codes them.
type UpstreamConfig struct {
	BaseURL        string        `env:"BASE_URL, default=https://apiconnect.angelbroking.com"`
	ScripMasterURL string        `env:"SCRIP_MASTER_URL, default=https://margincalculator.angelbroking.com/OpenAPI_File/files/OpenAPIScripMaster.json"`
	APIKey         string        `env:"API_KEY"`
	ClientCode     string        `env:"CLIENT_CODE"`
	QuoteMode      string        `env:"QUOTE_MODE, default=FULL"`
	MaxBatchSize   int           `env:"MAX_BATCH_SIZE, default=50"`
	MinCallSpacing time.Duration `env:"MIN_CALL_SPACING, default=1s"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT, default=10s"`
	MaxRetries     int           `env:"MAX_RETRIES, default=3"`
	BaseBackoff    time.Duration `env:"BASE_BACKOFF, default=500ms"`
	MaxBackoff     time.Duration `env:"MAX_BACKOFF, default=8s"`
}

// PollerConfig holds quote poller configuration
type PollerConfig struct {
	TickInterval time.Duration `env:"TICK_INTERVAL, default=3s"`
}

// MarketConfig holds trading-session configuration
type MarketConfig struct {
	Timezone        string   `env:"TIMEZONE, default=Asia/Kolkata"`
	OpenTime        string   `env:"OPEN_TIME, default=09:15:00"`
	CloseTime       string   `env:"CLOSE_TIME, default=15:30:00"`
	Underlyings     []string `env:"UNDERLYINGS"`
	StrikeIntervals string   `env:"STRIKE_INTERVALS"` // "SYM:interval,SYM:interval"
	DefaultInterval float64  `env:"DEFAULT_STRIKE_INTERVAL, default=5"`
}

// IndicatorConfig holds indicator engine configuration. The breakout
// thresholds are tunables, not fixed semantics.
type IndicatorConfig struct {
	VolumeSpikeRatio float64 `env:"VOLUME_SPIKE_RATIO, default=2.0"`
	BreakoutBand     float64 `env:"BREAKOUT_BAND, default=0.02"`
	BreakdownBand    float64 `env:"BREAKDOWN_BAND, default=0.005"`
	Workers          int     `env:"WORKERS, default=8"`
}

// FeaturesConfig holds feature flags
type FeaturesConfig struct {
	InfluxMirrorEnabled bool `env:"INFLUX_MIRROR_ENABLED, default=false"`
	StreamEnabled       bool `env:"STREAM_ENABLED, default=true"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `env:"LEVEL, default=info"`
	Format string `env:"FORMAT, default=json"`
	Output string `env:"OUTPUT, default=stdout"`
}

// Load loads configuration from environment variables using go-envconfig
func Load() (*Config, error) {
	ctx := context.Background()
	var cfg Config

	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.MySQL.Host == "" {
		return fmt.Errorf("MySQL host is required")
	}

	if c.Upstream.MaxBatchSize <= 0 {
		return fmt.Errorf("upstream max batch size must be positive, got %d", c.Upstream.MaxBatchSize)
	}

	if c.Poller.TickInterval <= 0 {
		return fmt.Errorf("poller tick interval must be positive, got %s", c.Poller.TickInterval)
	}

	if c.Indicator.VolumeSpikeRatio <= 0 {
		return fmt.Errorf("volume spike ratio must be positive, got %f", c.Indicator.VolumeSpikeRatio)
	}

	if _, err := time.Parse("15:04:05", c.Market.OpenTime); err != nil {
		return fmt.Errorf("invalid market open time %q: %w", c.Market.OpenTime, err)
	}
	if _, err := time.Parse("15:04:05", c.Market.CloseTime); err != nil {
		return fmt.Errorf("invalid market close time %q: %w", c.Market.CloseTime, err)
	}

	if _, err := c.ParseStrikeIntervals(); err != nil {
		return err
	}

	return nil
}

// ParseStrikeIntervals parses the per-underlying strike interval map from
// its "SYM:interval,SYM:interval" form. Underlyings missing from the map
// fall back to DefaultInterval.
func (c *Config) ParseStrikeIntervals() (map[string]float64, error) {
	intervals := make(map[string]float64)
	if strings.TrimSpace(c.Market.StrikeIntervals) == "" {
		return intervals, nil
	}

	for _, pair := range strings.Split(c.Market.StrikeIntervals, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid strike interval entry %q", pair)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil || v <= 0 {
			return nil, fmt.Errorf("invalid strike interval for %s: %q", parts[0], parts[1])
		}
		intervals[strings.TrimSpace(parts[0])] = v
	}

	return intervals, nil
}

// GetMySQLDSN returns MySQL DSN string
func (c *Config) GetMySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
		c.MySQL.User,
		c.MySQL.Password,
		c.MySQL.Host,
		c.MySQL.Port,
		c.MySQL.Database,
	)
}

// GetRedisAddr returns Redis address
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// GetServerAddr returns server address
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
