package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"eventsMonitor/internal/config"
	"eventsMonitor/internal/metrics"
)

func main() {
	root := &cobra.Command{
		Use:          "indexer",
		Short:        "Smart contract event indexer",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run one indexing pipeline until interrupted",
		RunE:  runIndexer,
	}

	runCmd.Flags().String("http-rpc", "", "HTTP RPC URL")
	runCmd.Flags().String("ws-rpc", "", "WebSocket RPC URL")
	runCmd.Flags().Uint64("chain-id", 0, "expected chain id")
	runCmd.Flags().Float64("rps", 0, "RPC requests per second, 0 disables limiting")
	runCmd.Flags().Uint64("from", 0, "start block (inclusive)")
	runCmd.Flags().Uint64("to", 0, "end block (exclusive), 0 means the head at start")
	runCmd.Flags().Bool("historical", true, "enable the historical lane")
	runCmd.Flags().String("historical-proto", "http", "historical transport (http, ws, http_watcher)")
	runCmd.Flags().Uint64("chunk-size", 2000, "blocks per historical request")
	runCmd.Flags().String("checkpoint", "", "checkpoint file path, empty keeps the checkpoint in the primary store")
	runCmd.Flags().Bool("live", false, "enable the live lane")
	runCmd.Flags().String("live-proto", "ws", "live transport (http, ws, http_watcher)")
	runCmd.Flags().Uint64("poll-interval", 5, "live polling interval in seconds")
	runCmd.Flags().StringSlice("filter-senders", nil, "only index transactions sent by these addresses")
	runCmd.Flags().StringSlice("filter-receivers", nil, "only index transactions sent to these addresses")
	runCmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	runCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	runCmd.Flags().String("primary-dsn", "", "primary Postgres DSN")
	runCmd.Flags().String("primary-schema", "public", "primary Postgres schema")
	runCmd.Flags().String("listen", "", "serve /metrics on this address")

	root.AddCommand(runCmd)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the task supervisor and management API",
		RunE:  runServe,
	}
	serveCmd.Flags().String("listen", ":8080", "management API listen address")
	root.AddCommand(serveCmd)

	decodeCmd := &cobra.Command{
		Use:   "decode",
		Short: "Decode raw logs JSONL against the configured contracts",
		RunE:  runDecode,
	}

	decodeCmd.Flags().String("in", "", "input raw logs JSONL")
	decodeCmd.Flags().String("out", "./data/events.jsonl", "output decoded events JSONL")
	decodeCmd.Flags().String("errors", "./data/decode_errors.jsonl", "decode errors JSONL")

	root.AddCommand(decodeCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runIndexer(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(newRegistry())
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		srv := &http.Server{Addr: listen, Handler: m.Handler(), ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	p, err := buildPipeline(ctx, "default", cfg, m, logger)
	if err != nil {
		return err
	}
	defer p.Close()

	logger.Info("indexer start",
		zap.Uint64("chain_id", cfg.Chain.ChainID),
		zap.Uint64("from", cfg.Indexing.FromBlock),
		zap.Uint64("to", cfg.Indexing.ToBlock),
		zap.Int("contracts", len(cfg.Contracts)),
		zap.Bool("historical", cfg.Indexing.HistoricalEnabled),
		zap.Bool("live", cfg.Indexing.LiveEnabled),
		zap.String("live_protocol", string(cfg.Indexing.LiveProtocol)),
	)

	err = p.Run(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info("indexer stopped")
		return nil
	}
	return err
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
