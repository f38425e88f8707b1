// Package app wires the components together and owns their lifecycle.
package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bhavesh0009/NFO-dashboard/internal/api"
	"github.com/bhavesh0009/NFO-dashboard/internal/cache"
	"github.com/bhavesh0009/NFO-dashboard/internal/catalog"
	"github.com/bhavesh0009/NFO-dashboard/internal/database"
	"github.com/bhavesh0009/NFO-dashboard/internal/indicator"
	"github.com/bhavesh0009/NFO-dashboard/internal/messaging"
	"github.com/bhavesh0009/NFO-dashboard/internal/planner"
	"github.com/bhavesh0009/NFO-dashboard/internal/poller"
	"github.com/bhavesh0009/NFO-dashboard/internal/resolver"
	"github.com/bhavesh0009/NFO-dashboard/internal/retry"
	"github.com/bhavesh0009/NFO-dashboard/internal/session"
	"github.com/bhavesh0009/NFO-dashboard/internal/store"
	"github.com/bhavesh0009/NFO-dashboard/internal/upstream"
	"github.com/bhavesh0009/NFO-dashboard/pkg/config"
	"github.com/bhavesh0009/NFO-dashboard/pkg/models"
)

// App represents the main application
type App struct {
	cfg    *config.Config
	logger *logrus.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	loc    *time.Location

	// Infrastructure
	mysqlDB    *database.MySQLClient
	influxDB   *database.InfluxClient
	redisCache *cache.RedisClient
	natsClient *messaging.NATSClient

	// Components
	catalogMgr *catalog.Manager
	resolver   *resolver.Resolver
	poller     *poller.Poller
	indicators *indicator.Engine
	sessionCtl *session.Controller
	streamHub  *api.StreamHub
	apiServer  *api.Server
}

// New creates a new application instance
func New(cfg *config.Config, logger *logrus.Logger) *App {
	ctx, cancel := context.WithCancel(context.Background())

	return &App{
		cfg:    cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Initialize initializes all application components
func (a *App) Initialize() error {
	loc, err := time.LoadLocation(a.cfg.Market.Timezone)
	if err != nil {
		return fmt.Errorf("failed to load market timezone: %w", err)
	}
	a.loc = loc

	if err := a.initializeInfrastructure(); err != nil {
		return err
	}
	if err := a.initializeComponents(); err != nil {
		return err
	}
	a.initializeAPIServer()

	return nil
}

// Start starts the application
func (a *App) Start() error {
	if a.cfg.Features.StreamEnabled {
		if err := a.natsClient.SubscribeQuotes(a.streamHub.Broadcast); err != nil {
			return fmt.Errorf("failed to subscribe quote stream: %w", err)
		}
	}

	if err := a.sessionCtl.Start(a.ctx); err != nil {
		return fmt.Errorf("failed to start session controller: %w", err)
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.apiServer.Start(); err != nil && err != http.ErrServerClosed {
			a.logger.WithError(err).Error("API server error")
		}
	}()

	return nil
}

// Stop gracefully stops the application
func (a *App) Stop() error {
	a.logger.Info("Stopping application...")

	a.cancel()

	if a.sessionCtl != nil {
		if err := a.sessionCtl.Stop(); err != nil {
			a.logger.WithError(err).Error("Error stopping session controller")
		}
	}

	if a.apiServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.apiServer.Stop(ctx); err != nil {
			a.logger.WithError(err).Error("Error stopping API server")
		}
		cancel()
	}

	if a.streamHub != nil {
		a.streamHub.Close()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		a.logger.Warn("Timeout waiting for goroutines to finish")
	}

	if err := a.closeConnections(); err != nil {
		a.logger.WithError(err).Error("Error closing connections")
	}

	a.logger.Info("Application stopped successfully")
	return nil
}

// GetContext returns the application context
func (a *App) GetContext() context.Context {
	return a.ctx
}

// GetConfig returns the application configuration
func (a *App) GetConfig() *config.Config {
	return a.cfg
}

// GetLogger returns the application logger
func (a *App) GetLogger() *logrus.Logger {
	return a.logger
}

// GetSessionController returns the session controller
func (a *App) GetSessionController() *session.Controller {
	return a.sessionCtl
}

// GetCatalogManager returns the catalog manager
func (a *App) GetCatalogManager() *catalog.Manager {
	return a.catalogMgr
}

// GetIndicatorEngine returns the indicator engine
func (a *App) GetIndicatorEngine() *indicator.Engine {
	return a.indicators
}

// GetMySQL returns the MySQL client
func (a *App) GetMySQL() *database.MySQLClient {
	return a.mysqlDB
}

func (a *App) initializeInfrastructure() error {
	mysqlClient, err := database.NewMySQLClient(&a.cfg.MySQL, a.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to MySQL: %w", err)
	}
	a.mysqlDB = mysqlClient

	if a.cfg.Features.InfluxMirrorEnabled {
		a.influxDB = database.NewInfluxClient(&a.cfg.InfluxDB, a.logger)
		if err := a.influxDB.Health(a.ctx); err != nil {
			return fmt.Errorf("failed to connect to InfluxDB: %w", err)
		}
	}

	redisClient, err := cache.NewRedisClient(&a.cfg.Redis, a.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	a.redisCache = redisClient

	natsClient, err := messaging.NewNATSClient(&a.cfg.NATS, a.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	a.natsClient = natsClient

	return nil
}

func (a *App) initializeComponents() error {
	scripClient := catalog.NewClient(&a.cfg.Upstream, a.logger)
	a.catalogMgr = catalog.NewManager(scripClient, a.mysqlDB, a.cfg.Market.Underlyings, a.cfg.Market.OpenTime, a.loc, a.logger)

	intervals, err := a.cfg.ParseStrikeIntervals()
	if err != nil {
		return err
	}
	a.resolver = resolver.New(intervals, a.cfg.Market.DefaultInterval, a.logger)
	a.resolver.OnATMChange(a.onATMChange)

	quoteClient := upstream.NewClient(&a.cfg.Upstream, a.logger)
	retryer := retry.New(a.cfg.Upstream.MaxRetries, a.cfg.Upstream.BaseBackoff, a.cfg.Upstream.MaxBackoff)

	var mirror store.QuoteMirror
	if a.influxDB != nil {
		mirror = a.influxDB
	}
	quoteStore := store.New(a.mysqlDB, a.redisCache, a.natsClient, mirror, a.logger)

	a.poller = poller.New(quoteClient, quoteStore, a.resolver, planner.New(a.cfg.Upstream.MaxBatchSize),
		retryer, a.cfg.Poller.TickInterval, a.loc, a.logger)

	a.indicators = indicator.New(a.mysqlDB, a.mysqlDB, indicator.Thresholds{
		VolumeSpikeRatio: a.cfg.Indicator.VolumeSpikeRatio,
		BreakoutBand:     a.cfg.Indicator.BreakoutBand,
		BreakdownBand:    a.cfg.Indicator.BreakdownBand,
	}, a.cfg.Indicator.Workers, a.logger)

	a.sessionCtl = session.NewController(a.catalogMgr, a.resolver, a.poller, a.mysqlDB,
		a.indicators, a.natsClient, a.cfg.Market.OpenTime, a.cfg.Market.CloseTime, a.loc, a.logger)

	return nil
}

func (a *App) initializeAPIServer() {
	if a.cfg.Features.StreamEnabled {
		a.streamHub = api.NewStreamHub(a.logger)
	}

	a.apiServer = api.NewServer(a.cfg, a.logger, a.mysqlDB, a.redisCache, a.natsClient,
		a.resolver, a.poller, a.sessionCtl, a.streamHub)
}

// onATMChange publishes re-bindings and caches the new binding.
func (a *App) onATMChange(change *models.ATMChange) {
	if err := a.natsClient.PublishATMChange(change); err != nil {
		a.logger.WithError(err).Warn("Failed to publish ATM change")
	}
	if binding, ok := a.resolver.Binding(change.Underlying); ok {
		if err := a.redisCache.SetATMBinding(a.ctx, &binding); err != nil {
			a.logger.WithError(err).Warn("Failed to cache ATM binding")
		}
	}
}

func (a *App) closeConnections() error {
	var errs []error

	if a.mysqlDB != nil {
		if err := a.mysqlDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close MySQL: %w", err))
		}
	}
	if a.influxDB != nil {
		a.influxDB.Close()
	}
	if a.redisCache != nil {
		if err := a.redisCache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close Redis: %w", err))
		}
	}
	if a.natsClient != nil {
		if err := a.natsClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close NATS: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing connections: %v", errs)
	}
	return nil
}
