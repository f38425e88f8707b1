package commands

import (
	"github.com/spf13/cobra"
)

var (
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "nfo-dashboard",
	Short: "NFO market data backend",
	Long: `Market data backend for NSE derivatives (NFO).

Polls spot, future and ATM option quotes through a trading day, persists
tick snapshots, and computes end-of-day technical indicators:
• Daily scrip-master refresh with nearest-expiry universe selection
• ATM strike tracking that follows the future price
• Rate-limited batched quote polling with retry and backoff
• End-of-day daily bars, MA/RSI/MACD/Bollinger and breakout scanning
• REST and websocket read API backed by MySQL, Redis and NATS`,
	Version: "1.0.0",
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
