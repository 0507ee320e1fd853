// Package main is the nordata command line tool: independent batch jobs
// that download Nordic public data sets into flat files.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"nordata/internal/config"
	"nordata/internal/fetch"
	"nordata/internal/ledger"
)

var (
	// Global flags
	cfgPath string
	dataDir string
	verbose bool
	timeout time.Duration

	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd only dispatches; every subcommand is an independent job.
var rootCmd = &cobra.Command{
	Use:   "nordata",
	Short: "Download Nordic public data sets into flat files",
	Long: `nordata fetches Norwegian and Nordic public data and normalizes it into
CSV and Parquet files: traffic registration volumes (NPRA), air quality
observations (NILU), statistics tables (SSB) and electricity market data
(ENTSO-E transparency platform).

Every subcommand is an independent batch job. Jobs that checkpoint their
work skip finished units on the next run, so an interrupted download
picks up where it stopped.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}
		if dataDir != "" {
			cfg.DataDir = dataDir
		}
		if cmd.Flags().Changed("timeout") {
			cfg.HTTP.Timeout = timeout.String()
		}

		zc := zap.NewProductionConfig()
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		if verbose {
			zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		logger, err = zc.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "nordata.yaml", "Configuration file")
	rootCmd.PersistentFlags().StringVarP(&dataDir, "data-dir", "d", "", "Data directory (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 8*time.Second, "Base HTTP request timeout")
}

// sessionConfig maps the http config section onto a fetch session. Sources
// with their own retry contract adjust the returned value before building.
func sessionConfig() fetch.SessionConfig {
	return fetch.SessionConfig{
		Timeout:       cfg.GetHTTPTimeout(),
		TimeoutSpread: time.Second,
		Policy: fetch.Policy{
			MaxRetries:  cfg.HTTP.MaxRetries,
			BackoffBase: cfg.HTTP.BackoffBase,
			Scale:       time.Second,
			BackoffCap:  cfg.GetBackoffCap(),
			Jitter:      time.Duration(cfg.HTTP.Jitter * float64(time.Second)),
			MinWait:     cfg.GetMinWait(),
		},
		RequestsPerSecond: cfg.HTTP.RequestsPerSecond,
		UserAgent:         cfg.HTTP.UserAgent,
	}
}

// runJob resolves the per-source directory, opens the advisory run ledger
// and calls fn inside a context cancelled by SIGINT/SIGTERM. The outcome
// lands in the ledger either way.
func runJob(source, command string, fn func(ctx context.Context, dir string, led *ledger.Ledger, runID string) error) error {
	root, err := cfg.ResolveDataDir()
	if err != nil {
		return err
	}
	dir, err := cfg.SourceDir(source)
	if err != nil {
		return err
	}

	led, err := ledger.Open(cfg.LedgerPath(root))
	if err != nil {
		logger.Warn("run ledger unavailable, continuing without it", zap.Error(err))
		led = nil
	}
	defer led.Close()

	runID, err := led.BeginRun(command)
	if err != nil {
		logger.Warn("could not record run start", zap.Error(err))
	}
	logger.Info("run started",
		zap.String("command", command), zap.String("run_id", runID), zap.String("dir", dir))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			logger.Info("received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()

	err = fn(ctx, dir, led, runID)
	if endErr := led.EndRun(runID, err == nil); endErr != nil {
		logger.Warn("could not record run end", zap.Error(endErr))
	}
	return err
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
