// Package browser renders carrier pages in headless Chrome.
package browser

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/BearBump/parcelwatch/internal/integrations/carrier"
	"github.com/chromedp/chromedp"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"
)

type Config struct {
	// RemoteURL attaches to a running browser (ws://...) instead of launching one.
	RemoteURL string
	ExecPath  string
	UserAgent string
	PoolSize  int
	Headless  bool
}

// Pool shares one browser between callers, each render in its own tab.
// At most PoolSize tabs are open at a time.
type Pool struct {
	slots *semaphore.Weighted
	size  int64
	exec  func(ctx context.Context, req carrier.RenderRequest) (string, error)
	close func()

	inUse    atomic.Int64
	renders  atomic.Int64
	failures atomic.Int64
}

func New(ctx context.Context, cfg Config) (*Pool, error) {
	var allocCtx context.Context
	var allocCancel context.CancelFunc
	if cfg.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(ctx, cfg.RemoteURL)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", cfg.Headless),
			chromedp.Flag("blink-settings", "imagesEnabled=false"),
		)
		if cfg.ExecPath != "" {
			opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
		}
		if cfg.UserAgent != "" {
			opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
		}
		allocCtx, allocCancel = chromedp.NewExecAllocator(ctx, opts...)
	}

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	// First Run starts the browser.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, errors.Wrap(err, "start browser")
	}

	p := newPool(cfg.PoolSize, func(ctx context.Context, req carrier.RenderRequest) (string, error) {
		return renderTab(ctx, browserCtx, req)
	})
	p.close = func() {
		browserCancel()
		allocCancel()
	}
	return p, nil
}

func newPool(size int, exec func(ctx context.Context, req carrier.RenderRequest) (string, error)) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{
		slots: semaphore.NewWeighted(int64(size)),
		size:  int64(size),
		exec:  exec,
		close: func() {},
	}
}

// Render waits for a free tab, or returns ctx.Err() if none frees up in time.
// The slot is released on every path.
func (p *Pool) Render(ctx context.Context, req carrier.RenderRequest) (string, error) {
	if err := p.slots.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer p.slots.Release(1)

	p.inUse.Add(1)
	defer p.inUse.Add(-1)

	p.renders.Add(1)
	body, err := p.exec(ctx, req)
	if err != nil {
		p.failures.Add(1)
		return "", err
	}
	return body, nil
}

func renderTab(ctx, browserCtx context.Context, req carrier.RenderRequest) (string, error) {
	tab, cancel := chromedp.NewContext(browserCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var html string
	err := chromedp.Run(tab,
		chromedp.Navigate(req.URL),
		chromedp.WaitReady(req.WaitSelector, chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if err != nil {
		return "", errors.Wrap(err, "render "+req.URL)
	}
	return html, nil
}

type Stats struct {
	Size     int64 `json:"size"`
	InUse    int64 `json:"inUse"`
	Renders  int64 `json:"renders"`
	Failures int64 `json:"failures"`
}

func (p *Pool) Stats() Stats {
	return Stats{
		Size:     p.size,
		InUse:    p.inUse.Load(),
		Renders:  p.renders.Load(),
		Failures: p.failures.Load(),
	}
}

func (p *Pool) Close() {
	slog.Info("closing browser pool")
	p.close()
}
