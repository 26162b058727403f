package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/BearBump/parcelwatch/config"
	"github.com/BearBump/parcelwatch/internal/engine"
	"github.com/BearBump/parcelwatch/internal/logger"
	"github.com/BearBump/parcelwatch/internal/metrics"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("failed to load config, %v", err))
	}
	slog.SetDefault(logger.New(cfg.ParcelWatch.LogLevel))
	metrics.Init()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err = RunParcelWorker(ctx, cfg, engine.DefaultFactories(), func(addr string) {
		slog.Info("worker HTTP listening", "addr", addr)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		panic(err)
	}
}
