// Package engine assembles the tracking engine shared by parcel-api and
// parcel-worker from a config.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/BearBump/parcelwatch/config"
	"github.com/BearBump/parcelwatch/internal/broker/kafka"
	"github.com/BearBump/parcelwatch/internal/browser"
	"github.com/BearBump/parcelwatch/internal/cache"
	"github.com/BearBump/parcelwatch/internal/cache/rediscache"
	"github.com/BearBump/parcelwatch/internal/integrations/carrier"
	"github.com/BearBump/parcelwatch/internal/integrations/carrier/fake"
	"github.com/BearBump/parcelwatch/internal/integrations/carrier/httprender"
	"github.com/BearBump/parcelwatch/internal/normalizer"
	"github.com/BearBump/parcelwatch/internal/services/packages"
	"github.com/BearBump/parcelwatch/internal/services/refresh"
	"github.com/BearBump/parcelwatch/internal/storage"
	"github.com/BearBump/parcelwatch/internal/storage/memstore"
	"github.com/BearBump/parcelwatch/internal/storage/pgtracking"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const defaultTopic = "package.refreshed"

type Factories struct {
	NewStore    func(ctx context.Context, cfg *config.Config) (st storage.Store, closeFn func(), err error)
	NewRedis    func(cfg *config.Config) *redis.Client
	NewRenderer func(ctx context.Context, cfg *config.Config) (r carrier.Renderer, closeFn func(), err error)
	NewProducer func(cfg *config.Config) (p refresh.Producer, closeFn func())
}

func DefaultFactories() Factories {
	return Factories{
		NewStore: func(ctx context.Context, cfg *config.Config) (storage.Store, func(), error) {
			if cfg.Database.Host == "" {
				slog.Warn("database not configured, packages are kept in memory")
				return memstore.New(), nil, nil
			}
			st, err := openPostgresWithRetry(ctx, cfg.Database.ConnString(), 60*time.Second)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		NewRedis: func(cfg *config.Config) *redis.Client {
			if !cfg.Redis.Enabled() {
				return nil
			}
			return rediscache.NewClient(cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB)
		},
		NewRenderer: newRenderer,
		NewProducer: func(cfg *config.Config) (refresh.Producer, func()) {
			if !cfg.Kafka.Enabled() {
				return nil, nil
			}
			p := kafka.NewProducer(cfg.Kafka.Brokers())
			return p, func() { _ = p.Close() }
		},
	}
}

func newRenderer(ctx context.Context, cfg *config.Config) (carrier.Renderer, func(), error) {
	switch cfg.Browser.Driver {
	case "fake":
		return fake.New(time.Duration(cfg.Browser.FakeDelayMs) * time.Millisecond), nil, nil
	case "http":
		return httprender.New(cfg.Browser.UserAgent), nil, nil
	case "", "chromedp":
		pool, err := browser.New(ctx, browser.Config{
			RemoteURL: cfg.Browser.RemoteURL,
			ExecPath:  cfg.Browser.ExecPath,
			UserAgent: cfg.Browser.UserAgent,
			PoolSize:  cfg.Browser.PoolSize,
			Headless:  cfg.Browser.IsHeadless(),
		})
		if err != nil {
			return nil, nil, err
		}
		return pool, pool.Close, nil
	default:
		return nil, nil, errors.Errorf("unknown browser driver %q", cfg.Browser.Driver)
	}
}

func openPostgresWithRetry(ctx context.Context, connString string, wait time.Duration) (*pgtracking.Storage, error) {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgtracking.New(ctx, connString)
		if err == nil {
			return st, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return nil, errors.Wrapf(lastErr, "postgres is not ready after %s", wait)
}

// Engine holds everything a process needs to serve or refresh packages.
type Engine struct {
	Store       storage.Store
	Cache       cache.Cache
	Coordinator *refresh.Coordinator
	Topic       string

	redis   *redis.Client
	closers []func()
}

func Build(ctx context.Context, cfg *config.Config, f Factories) (*Engine, error) {
	e := &Engine{Topic: cfg.Kafka.PackageRefreshedTopicName}
	if e.Topic == "" {
		e.Topic = defaultTopic
	}

	st, closeStore, err := f.NewStore(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "open store")
	}
	e.Store = st
	e.onClose(closeStore)

	r, closeRenderer, err := f.NewRenderer(ctx, cfg)
	if err != nil {
		e.Close()
		return nil, errors.Wrap(err, "start renderer")
	}
	e.onClose(closeRenderer)

	profiles := carrier.DefaultProfiles()
	for c, tmpl := range cfg.CarrierURLTemplates() {
		p := profiles[c]
		p.URLTemplate = tmpl
		profiles[c] = p
	}

	e.Coordinator = refresh.New(st, carrier.NewPageRegistry(profiles, r), normalizer.Default()).
		WithSettings(time.Duration(cfg.Refresh.ScrapeTimeoutSeconds)*time.Second, cfg.Refresh.Concurrency).
		WithPlanner(PlannerConfig(cfg.Refresh))

	if rc := f.NewRedis(cfg); rc != nil {
		e.redis = rc
		e.onClose(func() { _ = rc.Close() })
		rcache := rediscache.New(rc)
		e.Cache = rcache
		e.Coordinator.
			WithCache(rcache).
			WithRateLimiter(rediscache.NewRateLimiter(rc), cfg.Refresh.RateLimitPerMinute, cfg.CarrierLimits())
		if cfg.Refresh.LockEnabled {
			e.Coordinator.WithLocker(rediscache.NewLocker(rc))
		}
	}

	if p, closeProducer := f.NewProducer(cfg); p != nil {
		e.Coordinator.WithProducer(p, e.Topic)
		e.onClose(closeProducer)
	}

	return e, nil
}

func PlannerConfig(rc config.RefreshConfig) refresh.PlannerConfig {
	sec := func(n int) time.Duration { return time.Duration(n) * time.Second }
	jitter := refresh.DefaultPlannerConfig().StaleJitter
	if rc.StaleJitterSeconds != 0 {
		// negative disables jitter
		jitter = sec(rc.StaleJitterSeconds)
	}
	return refresh.PlannerConfig{
		StaleAfter:          sec(rc.StaleAfterSeconds),
		StaleJitter:         jitter,
		DeliveredStaleAfter: sec(rc.DeliveredStaleAfterSeconds),
		ParseTargetCooldown: sec(rc.ParseTargetCooldownSeconds),
		Backoff1:            sec(rc.Backoff1Seconds),
		Backoff2:            sec(rc.Backoff2Seconds),
		Backoff3:            sec(rc.Backoff3Seconds),
		Backoff4:            sec(rc.Backoff4Seconds),
	}
}

// Packages returns the facade over this engine. Unset waits and TTLs keep
// the facade defaults.
func (e *Engine) Packages(cfg *config.Config) *packages.Service {
	ms := func(n int) time.Duration {
		if n <= 0 {
			return -1
		}
		return time.Duration(n) * time.Millisecond
	}
	sec := func(n int) time.Duration {
		if n <= 0 {
			return -1
		}
		return time.Duration(n) * time.Second
	}
	return packages.New(e.Store, e.Coordinator, e.Cache).WithSettings(
		ms(cfg.Refresh.InitialWaitMs),
		ms(cfg.Refresh.DetailWaitMs),
		sec(cfg.ParcelWatch.ListCacheTTLSeconds),
		sec(cfg.ParcelWatch.CurrentCacheTTLSeconds),
	)
}

// Ping checks the store and Redis, whichever are remote.
func (e *Engine) Ping(ctx context.Context) error {
	if p, ok := e.Store.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(ctx); err != nil {
			return err
		}
	}
	if e.redis != nil {
		if err := e.redis.Ping(ctx).Err(); err != nil {
			return errors.Wrap(err, "ping redis")
		}
	}
	return nil
}

// Close waits for running refreshes, then releases resources in reverse order.
func (e *Engine) Close() {
	if e.Coordinator != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := e.Coordinator.Shutdown(ctx); err != nil {
			slog.Warn("refresh shutdown", "error", err.Error())
		}
		cancel()
	}
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	e.closers = nil
}

func (e *Engine) onClose(fn func()) {
	if fn != nil {
		e.closers = append(e.closers, fn)
	}
}
