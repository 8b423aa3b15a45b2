package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"eventsMonitor/internal/api"
	"eventsMonitor/internal/config"
	"eventsMonitor/internal/metrics"
	"eventsMonitor/internal/supervisor"
)

const shutdownTimeout = 30 * time.Second

func runServe(cmd *cobra.Command, _ []string) error {
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(newRegistry())
	sup := supervisor.New(pipelineFactory(m, logger), m, logger)
	server := api.NewServer(cfg.ListenAddress, sup, m, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
	case err = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if stopErr := server.Stop(shutdownCtx); stopErr != nil {
		logger.Warn("api shutdown failed", zap.Error(stopErr))
	}
	if shutErr := sup.Shutdown(shutdownCtx); shutErr != nil {
		logger.Warn("task shutdown incomplete", zap.Error(shutErr))
	}
	logger.Info("server stopped")
	return err
}
