package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bhavesh0009/NFO-dashboard/internal/app"
	"github.com/bhavesh0009/NFO-dashboard/pkg/config"
	"github.com/bhavesh0009/NFO-dashboard/pkg/logger"
)

var (
	serverPort int
	serverHost string
	logLevel   string
)

// serverCmd represents the server command
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the market data server",
	Long: `Start the market data server.

This starts all components:
• Session controller (catalog refresh, market open/close handling)
• Quote poller with ATM strike tracking
• MySQL snapshot persistence, Redis cache and NATS fan-out
• REST API and websocket quote stream

The poller only runs while the market session is open; outside market
hours the server serves the read API and waits for the next session.

Examples:
  nfo-dashboard server                    # Start with default settings
  nfo-dashboard server --port 9090        # Start on custom port
  nfo-dashboard server --log-level debug  # Enable debug logging`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)

	serverCmd.Flags().IntVarP(&serverPort, "port", "p", 0, "Server port")
	serverCmd.Flags().StringVarP(&serverHost, "host", "H", "", "Server host")
	serverCmd.Flags().StringVarP(&logLevel, "log-level", "l", "", "Log level (debug, info, warn, error)")
}

func runServer(cmd *cobra.Command, args []string) error {
	// Load .env file first
	if err := config.LoadDotEnv(); err != nil {
		// .env file is optional
		fmt.Printf("Note: .env file not loaded: %v\n", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Override config with command line flags if provided
	if serverHost != "" {
		cfg.Server.Host = serverHost
	}
	if serverPort != 0 {
		cfg.Server.Port = serverPort
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	log, _ := logger.New(&cfg.Logging)
	log.Info("🚀 Starting NFO market data server")

	application := app.New(cfg, log)

	if err := application.Initialize(); err != nil {
		log.WithError(err).Error("Failed to initialize application")
		return err
	}

	if err := application.Start(); err != nil {
		log.WithError(err).Error("Failed to start application")
		return err
	}

	// Wait for interrupt signal
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)

	sig := <-interrupt
	log.WithField("signal", sig.String()).Info("🛑 Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	shutdownComplete := make(chan struct{})
	go func() {
		if err := application.Stop(); err != nil {
			log.WithError(err).Error("❌ Application shutdown error")
		}
		close(shutdownComplete)
	}()

	select {
	case <-shutdownComplete:
		log.Info("✅ Application shutdown complete")
	case <-shutdownCtx.Done():
		log.Warn("⚠️ Shutdown timeout - forcing exit")
		os.Exit(1)
	}

	return nil
}
