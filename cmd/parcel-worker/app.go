package main

import (
	"context"
	"time"

	"github.com/BearBump/parcelwatch/config"
	"github.com/BearBump/parcelwatch/internal/engine"
	"github.com/BearBump/parcelwatch/internal/services/poller"
	"golang.org/x/sync/errgroup"
)

type workerSettings struct {
	pollInterval time.Duration
	batchSize    int
	concurrency  int
	lease        time.Duration
	httpAddr     string
}

func settingsFrom(cfg *config.Config) workerSettings {
	s := workerSettings{
		pollInterval: time.Duration(cfg.ParcelWatch.WorkerPollIntervalSeconds) * time.Second,
		batchSize:    cfg.ParcelWatch.WorkerBatchSize,
		concurrency:  cfg.ParcelWatch.WorkerConcurrency,
		lease:        time.Duration(cfg.ParcelWatch.WorkerLeaseSeconds) * time.Second,
		httpAddr:     cfg.ParcelWatch.WorkerHTTPAddr,
	}
	if s.pollInterval <= 0 {
		s.pollInterval = 10 * time.Second
	}
	if s.batchSize <= 0 {
		s.batchSize = 50
	}
	if s.concurrency <= 0 {
		s.concurrency = 4
	}
	if s.lease <= 0 {
		s.lease = 2 * time.Minute
	}
	if s.httpAddr == "" {
		s.httpAddr = ":8082"
	}
	return s
}

func RunParcelWorker(ctx context.Context, cfg *config.Config, f engine.Factories, onListen func(httpAddr string)) error {
	s := settingsFrom(cfg)

	eng, err := engine.Build(ctx, cfg, f)
	if err != nil {
		return err
	}
	defer eng.Close()

	p := poller.New(eng.Store, eng.Coordinator).
		WithSettings(s.pollInterval, s.batchSize, s.concurrency, s.lease)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.Run(ctx) })
	g.Go(func() error {
		return runWorkerHTTPServer(ctx, workerHTTPOpts{
			httpAddr: s.httpAddr,
			onListen: onListen,
			poller:   p,
			refresh:  eng.Coordinator,
			ready:    eng,
			settings: s,
		})
	})
	return g.Wait()
}
