package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/BearBump/parcelwatch/config"
	"github.com/BearBump/parcelwatch/internal/broker/kafka"
	"github.com/BearBump/parcelwatch/internal/engine"
	"github.com/BearBump/parcelwatch/internal/logger"
	"github.com/BearBump/parcelwatch/internal/metrics"
	"github.com/BearBump/parcelwatch/internal/services/packages"
	"github.com/joho/godotenv"
)

type parcelAPIApp struct {
	ctx      context.Context
	cancel   context.CancelFunc
	opts     parcelAPIOpts
	engine   *engine.Engine
	svc      *packages.Service
	consumer *kafka.Consumer
}

func mustBootstrapParcelAPI() *parcelAPIApp {
	_ = godotenv.Load()

	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config, %v", err))
	}
	slog.SetDefault(logger.New(cfg.ParcelWatch.LogLevel))
	metrics.Init()

	httpAddr := cfg.ParcelWatch.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := cfg.ParcelWatch.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "parcel-api"
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	eng, err := engine.Build(ctx, cfg, engine.DefaultFactories())
	if err != nil {
		cancel()
		panic(err)
	}

	var consumer *kafka.Consumer
	if cfg.Kafka.Enabled() {
		consumer = kafka.NewConsumer(cfg.Kafka.Brokers(), eng.Topic, consumerGroup)
	}

	return &parcelAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: parcelAPIOpts{
			httpAddr:      httpAddr,
			swaggerPath:   swaggerPath,
			topic:         eng.Topic,
			consumerGroup: consumerGroup,
		},
		engine:   eng,
		svc:      eng.Packages(cfg),
		consumer: consumer,
	}
}

func (a *parcelAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.consumer != nil {
		_ = a.consumer.Close()
	}
	if a.engine != nil {
		a.engine.Close()
	}
}

func (a *parcelAPIApp) Run() error {
	var consumer kafkaConsumer
	if a.consumer != nil {
		consumer = a.consumer
	}
	return runParcelAPI(a.ctx, a.opts, a.svc, consumer, a.engine)
}
