package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/plain-dev/bodydrain/internal/app"
	"github.com/plain-dev/bodydrain/internal/config"
	"github.com/plain-dev/bodydrain/internal/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "drainer start failed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.Init(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Close()

	logger.InfoObj("drainer starting", "config", cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	drainer, err := app.NewDrainer(ctx, cfg, log)
	if err != nil {
		logger.ErrorObj("failed to initialize drainer", "error", err.Error())
		return err
	}

	if err := drainer.Run(ctx); err != nil {
		return fmt.Errorf("drainer run: %w", err)
	}

	return nil
}
