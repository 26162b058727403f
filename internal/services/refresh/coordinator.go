// Package refresh keeps package timelines current without scraping a carrier
// twice for the same package at the same time.
package refresh

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/parcelwatch/internal/broker/messages"
	"github.com/BearBump/parcelwatch/internal/cache"
	"github.com/BearBump/parcelwatch/internal/integrations/carrier"
	"github.com/BearBump/parcelwatch/internal/metrics"
	"github.com/BearBump/parcelwatch/internal/models"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

var (
	ErrShuttingDown = errors.New("refresh coordinator is shutting down")
	ErrBusy         = errors.New("no refresh slot available")
	ErrNoScraper    = errors.New("no scraper for carrier")
)

type Store interface {
	GetPackage(ctx context.Context, id uint64) (*models.Package, error)
	UpdateTimeline(ctx context.Context, u models.PackageUpdate) error
}

type Scrapers interface {
	For(c models.Carrier) (carrier.Scraper, bool)
}

type Normalizer interface {
	Normalize(raw carrier.RawResponse) (models.Timeline, error)
}

type Cache interface {
	Delete(ctx context.Context, keys ...string) error
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, key, token string) error
}

type Coordinator struct {
	store    Store
	scrapers Scrapers
	norm     Normalizer
	planner  *Planner

	cache    Cache
	producer Producer
	topic    string
	rl       RateLimiter
	locker   Locker

	scrapeTimeout time.Duration
	rateLimit     int64
	carrierLimits map[models.Carrier]int64

	group singleflight.Group
	slots *semaphore.Weighted
	now   func() time.Time

	mu       sync.Mutex
	inFlight map[uint64]struct{}
	closed   bool
	wg       sync.WaitGroup

	totalAttempts  atomic.Int64
	totalSucceeded atomic.Int64
	totalFailed    atomic.Int64
	totalCoalesced atomic.Int64
	totalSkipped   atomic.Int64
	lastErrorMu    sync.Mutex
	lastError      string
}

func New(store Store, scrapers Scrapers, norm Normalizer) *Coordinator {
	return &Coordinator{
		store:         store,
		scrapers:      scrapers,
		norm:          norm,
		planner:       NewPlanner(DefaultPlannerConfig(), nil),
		scrapeTimeout: 20 * time.Second,
		slots:         semaphore.NewWeighted(4),
		now:           func() time.Time { return time.Now().UTC() },
		inFlight:      make(map[uint64]struct{}),
	}
}

func (c *Coordinator) WithSettings(scrapeTimeout time.Duration, concurrency int) *Coordinator {
	if scrapeTimeout > 0 {
		c.scrapeTimeout = scrapeTimeout
	}
	if concurrency > 0 {
		c.slots = semaphore.NewWeighted(int64(concurrency))
	}
	return c
}

func (c *Coordinator) WithPlanner(cfg PlannerConfig) *Coordinator {
	c.planner = NewPlanner(cfg, nil)
	return c
}

func (c *Coordinator) WithCache(cc Cache) *Coordinator {
	c.cache = cc
	return c
}

func (c *Coordinator) WithProducer(p Producer, topic string) *Coordinator {
	c.producer = p
	c.topic = topic
	return c
}

// WithRateLimiter caps scrapes per carrier per minute. perMinute applies to
// carriers missing from perCarrier.
func (c *Coordinator) WithRateLimiter(rl RateLimiter, perMinute int64, perCarrier map[models.Carrier]int64) *Coordinator {
	c.rl = rl
	c.rateLimit = perMinute
	c.carrierLimits = perCarrier
	return c
}

// WithLocker makes single-flight hold across processes sharing the locker.
func (c *Coordinator) WithLocker(l Locker) *Coordinator {
	c.locker = l
	return c
}

func (c *Coordinator) ScrapeTimeout() time.Duration { return c.scrapeTimeout }

// State includes refreshes running in this process.
func (c *Coordinator) State(p *models.Package, now time.Time) (models.State, models.FailureKind) {
	if p.Refresh.InFlight || c.isInFlight(p.ID) {
		_, kind := stateOf(p, now)
		return models.StateRefreshing, kind
	}
	return stateOf(p, now)
}

// RefreshIfStale starts a refresh when p is stale and waits up to wait for
// it. It always returns the best package it has: the refreshed one if the
// refresh finished in time, p otherwise. Giving up the wait never cancels the
// refresh.
func (c *Coordinator) RefreshIfStale(ctx context.Context, p *models.Package, wait time.Duration) *models.Package {
	st, _ := c.State(p, c.now())
	if st != models.StateStale && st != models.StateRefreshing {
		return p
	}
	if st == models.StateRefreshing && wait <= 0 {
		return c.withInFlight(p)
	}

	ch := c.start(ctx, p.ID)
	if wait <= 0 {
		return c.withInFlight(p)
	}

	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case res := <-ch:
		if res.Err == nil {
			if got, ok := res.Val.(*models.Package); ok && got != nil {
				return got
			}
		}
	case <-t.C:
	case <-ctx.Done():
	}
	return c.withInFlight(p)
}

// RefreshNow runs (or joins) a refresh and waits for it, bounded by ctx.
// The package is refreshed only if it is still stale once the flight starts.
func (c *Coordinator) RefreshNow(ctx context.Context, p *models.Package) (*models.Package, error) {
	select {
	case res := <-c.start(ctx, p.ID):
		if res.Err != nil {
			return p, res.Err
		}
		got, _ := res.Val.(*models.Package)
		return got, nil
	case <-ctx.Done():
		return p, ctx.Err()
	}
}

// Shutdown stops new refreshes and waits for running ones.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) withInFlight(p *models.Package) *models.Package {
	if !c.isInFlight(p.ID) {
		return p
	}
	out := p.Clone()
	out.Refresh.InFlight = true
	return out
}

func (c *Coordinator) isInFlight(id uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inFlight[id]
	return ok
}

func (c *Coordinator) start(ctx context.Context, id uint64) <-chan singleflight.Result {
	if c.isInFlight(id) {
		c.totalCoalesced.Add(1)
		metrics.RefreshCoalesced.Inc()
	}
	detached := context.WithoutCancel(ctx)
	return c.group.DoChan(strconv.FormatUint(id, 10), func() (any, error) {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil, ErrShuttingDown
		}
		c.wg.Add(1)
		c.inFlight[id] = struct{}{}
		c.mu.Unlock()
		metrics.RefreshInFlight.Inc()

		defer func() {
			c.mu.Lock()
			delete(c.inFlight, id)
			c.mu.Unlock()
			metrics.RefreshInFlight.Dec()
			c.wg.Done()
		}()

		p, err := c.run(detached, id)
		if err != nil {
			c.setLastError(err)
			slog.Error("refresh package", "package_id", id, "error", err.Error())
		}
		return p, err
	})
}

func (c *Coordinator) run(ctx context.Context, id uint64) (*models.Package, error) {
	acqCtx, cancel := context.WithTimeout(ctx, c.scrapeTimeout)
	err := c.slots.Acquire(acqCtx, 1)
	cancel()
	if err != nil {
		c.totalSkipped.Add(1)
		return nil, ErrBusy
	}
	defer c.slots.Release(1)

	p, err := c.store.GetPackage(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "load package")
	}
	// Someone may have refreshed it between the caller's read and now. The
	// caller may also have cached its older copy after that refresh dropped
	// the key, so the key is dropped again.
	if st, _ := stateOf(p, c.now()); st != models.StateStale {
		c.invalidate(ctx, id)
		return p, nil
	}

	scraper, ok := c.scrapers.For(p.Carrier)
	if !ok {
		return p, errors.Wrapf(ErrNoScraper, "%s", p.Carrier)
	}

	if c.locker != nil {
		key := cache.RefreshLockKey(p.ID)
		token, ok, err := c.locker.Acquire(ctx, key, c.scrapeTimeout+10*time.Second)
		switch {
		case err != nil:
			slog.Warn("refresh lock unavailable, continuing without it", "package_id", p.ID, "error", err.Error())
		case !ok:
			c.totalSkipped.Add(1)
			return p, nil
		default:
			defer func() {
				rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
				defer cancel()
				if err := c.locker.Release(rctx, key, token); err != nil {
					slog.Warn("release refresh lock", "package_id", id, "error", err.Error())
				}
			}()
			// Another process may have finished a refresh and released the
			// lock after our read.
			if p, err = c.store.GetPackage(ctx, id); err != nil {
				return nil, errors.Wrap(err, "reload package")
			}
			if st, _ := stateOf(p, c.now()); st != models.StateStale {
				c.totalSkipped.Add(1)
				c.invalidate(ctx, id)
				return p, nil
			}
		}
	}

	if !c.allow(ctx, p.Carrier) {
		c.totalSkipped.Add(1)
		metrics.RateLimited.WithLabelValues(p.Carrier.String()).Inc()
		return p, nil
	}

	c.totalAttempts.Add(1)
	start := time.Now()
	tl, scrapeErr := c.fetch(ctx, scraper, p)
	metrics.ScrapeDuration.WithLabelValues(p.Carrier.String()).Observe(time.Since(start).Seconds())

	now := c.now()
	u := c.plan(p, tl, scrapeErr, now)
	if err := c.store.UpdateTimeline(ctx, u); err != nil {
		return p, errors.Wrap(err, "store refresh result")
	}

	out := p.Clone()
	if u.Timeline != nil {
		out.Timeline = u.Timeline
	}
	out.Refresh = u.Refresh
	out.UpdatedAt = now

	outcome := "ok"
	if scrapeErr != nil {
		c.totalFailed.Add(1)
		outcome = string(u.Refresh.FailureKind)
		slog.Warn("refresh failed", "package_id", p.ID, "carrier", p.Carrier.String(), "kind", outcome, "error", scrapeErr.Error())
	} else {
		c.totalSucceeded.Add(1)
		slog.Info("package refreshed", "package_id", p.ID, "carrier", p.Carrier.String(), "events", len(out.Timeline))
	}
	metrics.RefreshAttempts.WithLabelValues(p.Carrier.String(), outcome).Inc()

	c.afterUpdate(ctx, out, now)
	return out, nil
}

type fetchResult struct {
	tl  models.Timeline
	err error
}

// fetch scrapes and normalizes under a hard deadline, even if the adapter
// ignores its context. Errors returned are always ScrapeError or ParseError.
func (c *Coordinator) fetch(ctx context.Context, s carrier.Scraper, p *models.Package) (models.Timeline, error) {
	sctx, cancel := context.WithTimeout(ctx, c.scrapeTimeout)
	defer cancel()

	done := make(chan fetchResult, 1)
	go func() {
		raw, err := s.FetchRaw(sctx, p.TrackingCode, c.scrapeTimeout)
		if err != nil {
			var se *carrier.ScrapeError
			if !errors.As(err, &se) {
				err = &carrier.ScrapeError{Kind: carrier.KindCarrierUnavailable, Carrier: p.Carrier, Err: err}
			}
			done <- fetchResult{err: err}
			return
		}
		tl, err := c.norm.Normalize(raw)
		done <- fetchResult{tl: tl, err: err}
	}()

	select {
	case r := <-done:
		return r.tl, r.err
	case <-sctx.Done():
		return nil, &carrier.ScrapeError{Kind: carrier.KindTimeout, Carrier: p.Carrier, Err: sctx.Err()}
	}
}

func failureKind(err error) models.FailureKind {
	var se *carrier.ScrapeError
	if errors.As(err, &se) {
		return se.Kind.FailureKind()
	}
	// Anything the normalizer rejects means the page no longer looks like we expect.
	return models.FailureParseTarget
}

// plan builds the stored result. A failure keeps the stored timeline, and so
// does a success that parsed no events when events were already known.
func (c *Coordinator) plan(p *models.Package, tl models.Timeline, err error, now time.Time) models.PackageUpdate {
	u := models.PackageUpdate{PackageID: p.ID}
	if err != nil {
		kind := failureKind(err)
		failCount := p.Refresh.FailCount + 1
		u.Refresh = models.RefreshState{
			Status:          models.RefreshFailed,
			LastRefreshedAt: p.Refresh.LastRefreshedAt,
			LastAttemptAt:   &now,
			FailureKind:     kind,
			FailCount:       failCount,
			NextRefreshAt:   c.planner.AfterFailure(now, kind, failCount),
		}
		return u
	}

	if len(tl) > 0 || len(p.Timeline) == 0 {
		if tl == nil {
			tl = models.Timeline{}
		}
		u.Timeline = tl
	}
	latest := tl.LatestStage()
	if u.Timeline == nil {
		latest = p.Timeline.LatestStage()
	}
	u.Refresh = models.RefreshState{
		Status:               models.RefreshOK,
		LastRefreshedAt:      &now,
		LastAttemptAt:        &now,
		LastRefreshSucceeded: true,
		NextRefreshAt:        c.planner.AfterSuccess(now, latest),
	}
	return u
}

func (c *Coordinator) allow(ctx context.Context, cr models.Carrier) bool {
	if c.rl == nil {
		return true
	}
	limit := c.rateLimit
	if l, ok := c.carrierLimits[cr]; ok && l > 0 {
		limit = l
	}
	if limit <= 0 {
		return true
	}
	ok, n, err := c.rl.Allow(ctx, cache.RateLimitKey(cr.String(), c.now()), limit, 70*time.Second)
	if err != nil {
		// Redis trouble must not stop refreshes.
		slog.Warn("rate limiter unavailable", "carrier", cr.String(), "error", err.Error())
		return true
	}
	if !ok {
		slog.Warn("rate limit exceeded", "carrier", cr.String(), "count", n)
	}
	return ok
}

func (c *Coordinator) invalidate(ctx context.Context, id uint64) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Delete(ctx, cache.PackageKey(id)); err != nil {
		slog.Warn("invalidate package cache", "package_id", id, "error", err.Error())
	}
}

func (c *Coordinator) afterUpdate(ctx context.Context, p *models.Package, now time.Time) {
	c.invalidate(ctx, p.ID)
	if c.producer == nil || c.topic == "" {
		return
	}

	msg := messages.PackageRefreshed{
		PackageID:     p.ID,
		TrackingCode:  p.TrackingCode,
		Carrier:       p.Carrier.String(),
		AttemptedAt:   now,
		Succeeded:     p.Refresh.LastRefreshSucceeded,
		FailureKind:   string(p.Refresh.FailureKind),
		LatestStage:   string(p.Timeline.LatestStage()),
		EventCount:    len(p.Timeline),
		NextRefreshAt: p.Refresh.NextRefreshAt,
	}
	b, err := json.Marshal(msg)
	if err != nil {
		slog.Error("marshal refresh event", "error", err.Error())
		return
	}

	key := []byte(strconv.FormatUint(p.ID, 10))
	var pubErr error
	for i := 0; i < 3; i++ {
		if pubErr = c.producer.Publish(ctx, c.topic, key, b); pubErr == nil {
			return
		}
		time.Sleep(time.Duration(150*(i+1)) * time.Millisecond)
	}
	slog.Error("publish refresh event", "package_id", p.ID, "error", pubErr.Error())
}

func (c *Coordinator) setLastError(err error) {
	c.lastErrorMu.Lock()
	c.lastError = err.Error()
	c.lastErrorMu.Unlock()
}

type Stats struct {
	TotalAttempts  int64  `json:"totalAttempts"`
	TotalSucceeded int64  `json:"totalSucceeded"`
	TotalFailed    int64  `json:"totalFailed"`
	TotalCoalesced int64  `json:"totalCoalesced"`
	TotalSkipped   int64  `json:"totalSkipped"`
	InFlight       int    `json:"inFlight"`
	LastError      string `json:"lastError,omitempty"`
}

func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	inFlight := len(c.inFlight)
	c.mu.Unlock()

	st := Stats{
		TotalAttempts:  c.totalAttempts.Load(),
		TotalSucceeded: c.totalSucceeded.Load(),
		TotalFailed:    c.totalFailed.Load(),
		TotalCoalesced: c.totalCoalesced.Load(),
		TotalSkipped:   c.totalSkipped.Load(),
		InFlight:       inFlight,
	}
	c.lastErrorMu.Lock()
	st.LastError = c.lastError
	c.lastErrorMu.Unlock()
	return st
}
