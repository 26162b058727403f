package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	packagesapi "github.com/BearBump/parcelwatch/internal/api/packages_api"
	"github.com/BearBump/parcelwatch/internal/broker/messages"
	"github.com/BearBump/parcelwatch/internal/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
	"golang.org/x/sync/errgroup"
)

type parcelAPIOpts struct {
	httpAddr    string
	swaggerPath string

	topic         string
	consumerGroup string

	onListen func(httpAddr string)
}

type kafkaConsumer interface {
	ConsumeRefreshEvents(ctx context.Context, handler func(ctx context.Context, ev messages.PackageRefreshed) error) error
}

type packagesService interface {
	packagesapi.Service
	ApplyRefreshEvent(ctx context.Context, msg messages.PackageRefreshed) error
}

type pinger interface {
	Ping(ctx context.Context) error
}

// runParcelAPI serves HTTP and, when consumer is set, applies refresh events
// until ctx is done or either of them fails.
func runParcelAPI(ctx context.Context, opts parcelAPIOpts, svc packagesService, consumer kafkaConsumer, ready pinger) error {
	if opts.swaggerPath == "" {
		return fmt.Errorf("swaggerPath env var is required")
	}
	if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
		return fmt.Errorf("swagger file not found: %s", opts.swaggerPath)
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runHTTPServer(ctx, lis, newRouter(opts.swaggerPath, svc, ready))
	})
	if consumer != nil {
		g.Go(func() error {
			slog.Info("kafka consumer started", "topic", opts.topic, "group", opts.consumerGroup)
			return consumer.ConsumeRefreshEvents(ctx, func(ctx context.Context, ev messages.PackageRefreshed) error {
				return applyRefreshEvent(ctx, svc, ev)
			})
		})
	}
	return g.Wait()
}

// applyRefreshEvent logs apply errors and lets the event commit; the cached
// views it missed expire on their TTL.
func applyRefreshEvent(ctx context.Context, svc packagesService, ev messages.PackageRefreshed) error {
	if err := svc.ApplyRefreshEvent(ctx, ev); err != nil {
		slog.Warn("apply refresh event", "package_id", ev.PackageID, "error", err.Error())
	}
	return nil
}

func newRouter(swaggerPath string, svc packagesService, ready pinger) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Metrics)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if ready != nil {
			if err := ready.Ping(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(w).Encode(map[string]string{"status": "not ready", "error": err.Error()})
				return
			}
		}
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		http.ServeFile(w, r, swaggerPath)
	})
	swaggerURL := "/swagger.json"
	if fi, err := os.Stat(swaggerPath); err == nil {
		swaggerURL = fmt.Sprintf("/swagger.json?v=%d", fi.ModTime().Unix())
	}
	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL(swaggerURL)))

	packagesapi.New(svc).Routes(r)
	return r
}

func runHTTPServer(ctx context.Context, lis net.Listener, h http.Handler) error {
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("HTTP server listening", "addr", lis.Addr().String())
	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}
