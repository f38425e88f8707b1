package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/bhavesh0009/NFO-dashboard/pkg/config"
	"github.com/bhavesh0009/NFO-dashboard/pkg/models"
)

// RedisClient handles Redis caching operations
type RedisClient struct {
	client *redis.Client
	logger *logrus.Entry
	cfg    *config.RedisConfig
	ttl    time.Duration
}

// NewRedisClient creates a new Redis client
func NewRedisClient(cfg *config.RedisConfig, logger *logrus.Logger) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolTimeout:  4 * time.Second,
		IdleTimeout:  5 * time.Minute,
		MaxRetries:   2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &RedisClient{
		client: client,
		logger: logger.WithField("component", "redis"),
		cfg:    cfg,
		ttl:    cfg.QuoteTTL,
	}, nil
}

// Close closes the Redis connection
func (rc *RedisClient) Close() error {
	return rc.client.Close()
}

// Health checks Redis health
func (rc *RedisClient) Health(ctx context.Context) error {
	return rc.client.Ping(ctx).Err()
}

// Quote operations

// SetLatestQuote caches the most recent snapshot for a token
func (rc *RedisClient) SetLatestQuote(ctx context.Context, snap *models.QuoteSnapshot) error {
	key := fmt.Sprintf("quote:%s", snap.Token)

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal quote: %w", err)
	}

	return rc.client.Set(ctx, key, data, rc.ttl).Err()
}

// GetLatestQuote returns the cached snapshot for a token, or nil on a miss
func (rc *RedisClient) GetLatestQuote(ctx context.Context, token string) (*models.QuoteSnapshot, error) {
	key := fmt.Sprintf("quote:%s", token)

	data, err := rc.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get quote: %w", err)
	}

	var snap models.QuoteSnapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal quote: %w", err)
	}

	return &snap, nil
}

// SetQuoteBatch caches multiple snapshots in one pipeline round trip
func (rc *RedisClient) SetQuoteBatch(ctx context.Context, snaps []*models.QuoteSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	pipe := rc.client.Pipeline()

	for _, snap := range snaps {
		data, err := json.Marshal(snap)
		if err != nil {
			return fmt.Errorf("failed to marshal quote for %s: %w", snap.Token, err)
		}
		pipe.Set(ctx, fmt.Sprintf("quote:%s", snap.Token), data, rc.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to cache quote batch: %w", err)
	}

	return nil
}

// ATM binding operations

// SetATMBinding caches the current binding for an underlying. Bindings
// outlive quotes in the cache; they change only on re-selection.
func (rc *RedisClient) SetATMBinding(ctx context.Context, binding *models.ATMBinding) error {
	key := fmt.Sprintf("atm:%s", binding.Underlying)

	data, err := json.Marshal(binding)
	if err != nil {
		return fmt.Errorf("failed to marshal ATM binding: %w", err)
	}

	return rc.client.Set(ctx, key, data, 24*time.Hour).Err()
}

// GetATMBinding returns the cached binding for an underlying, or nil
func (rc *RedisClient) GetATMBinding(ctx context.Context, underlying string) (*models.ATMBinding, error) {
	key := fmt.Sprintf("atm:%s", underlying)

	data, err := rc.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ATM binding: %w", err)
	}

	var binding models.ATMBinding
	if err := json.Unmarshal([]byte(data), &binding); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ATM binding: %w", err)
	}

	return &binding, nil
}
