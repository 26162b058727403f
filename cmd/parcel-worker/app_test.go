package main

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/BearBump/parcelwatch/config"
	"github.com/BearBump/parcelwatch/internal/engine"
	"github.com/BearBump/parcelwatch/internal/models"
	"github.com/BearBump/parcelwatch/internal/storage"
	"github.com/BearBump/parcelwatch/internal/storage/memstore"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestSettingsFrom_Defaults(t *testing.T) {
	s := settingsFrom(&config.Config{})
	require.Equal(t, 10*time.Second, s.pollInterval)
	require.Equal(t, 50, s.batchSize)
	require.Equal(t, 4, s.concurrency)
	require.Equal(t, 2*time.Minute, s.lease)
	require.Equal(t, ":8082", s.httpAddr)

	s = settingsFrom(&config.Config{ParcelWatch: config.ParcelWatchConfig{WorkerBatchSize: 7, WorkerPollIntervalSeconds: 3}})
	require.Equal(t, 7, s.batchSize)
	require.Equal(t, 3*time.Second, s.pollInterval)
}

func TestRunParcelWorker_StoreErrorStops(t *testing.T) {
	f := engine.DefaultFactories()
	f.NewStore = func(context.Context, *config.Config) (storage.Store, func(), error) {
		return nil, nil, errors.New("db down")
	}
	err := RunParcelWorker(context.Background(), &config.Config{}, f, nil)
	require.ErrorContains(t, err, "db down")
}

func TestRunParcelWorker_RefreshesDuePackagesOnTrigger(t *testing.T) {
	st := memstore.New()
	p, _, err := st.FindOrCreatePackage(context.Background(), "1Z999AA10123456784", models.CarrierUPS)
	require.NoError(t, err)

	closed := false
	f := engine.DefaultFactories()
	f.NewStore = func(context.Context, *config.Config) (storage.Store, func(), error) {
		return st, func() { closed = true }, nil
	}
	cfg := &config.Config{
		Browser:     config.BrowserConfig{Driver: "fake"},
		Refresh:     config.RefreshConfig{ScrapeTimeoutSeconds: 2},
		ParcelWatch: config.ParcelWatchConfig{WorkerHTTPAddr: "127.0.0.1:0", WorkerPollIntervalSeconds: 3600},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	addrCh := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() { errCh <- RunParcelWorker(ctx, cfg, f, func(addr string) { addrCh <- addr }) }()
	base := "http://" + <-addrCh

	for _, path := range []string{"/healthz", "/readyz", "/config", "/metrics"} {
		resp, err := http.Get(base + path)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode, path)
	}

	resp, err := http.Post(base+"/trigger", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()

	require.Eventually(t, func() bool {
		got, err := st.GetPackage(context.Background(), p.ID)
		return err == nil && got.Refresh.LastAttemptAt != nil
	}, 3*time.Second, 10*time.Millisecond)

	resp, err = http.Get(base + "/stats")
	require.NoError(t, err)
	var stats struct {
		Poller struct {
			TotalClaimed int64 `json:"totalClaimed"`
		} `json:"poller"`
		Refresh struct {
			TotalAttempts int64 `json:"totalAttempts"`
		} `json:"refresh"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	resp.Body.Close()
	require.EqualValues(t, 1, stats.Poller.TotalClaimed)
	require.EqualValues(t, 1, stats.Refresh.TotalAttempts)

	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)
	require.True(t, closed)
}
