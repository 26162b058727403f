package carrier

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/parcelwatch/internal/models"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type renderFunc func(ctx context.Context, req RenderRequest) (string, error)

func (f renderFunc) Render(ctx context.Context, req RenderRequest) (string, error) {
	return f(ctx, req)
}

func static(body string) Renderer {
	return renderFunc(func(context.Context, RenderRequest) (string, error) { return body, nil })
}

func kindOf(t *testing.T, err error) ErrorKind {
	t.Helper()
	var se *ScrapeError
	require.ErrorAs(t, err, &se)
	require.Equal(t, models.CarrierUPS, se.Carrier)
	return se.Kind
}

func TestPageScraper_OK(t *testing.T) {
	var got RenderRequest
	r := renderFunc(func(_ context.Context, req RenderRequest) (string, error) {
		got = req
		return `<table class="ups-shipment-progress"></table>`, nil
	})

	raw, err := NewPageScraper(UPSProfile, r).FetchRaw(context.Background(), "1Z999AA10123456784", time.Second)
	require.NoError(t, err)
	require.Equal(t, models.CarrierUPS, raw.Carrier)
	require.Equal(t, "1Z999AA10123456784", raw.TrackingCode)
	require.Contains(t, got.URL, "tracknum=1Z999AA10123456784")
	require.Equal(t, "table.ups-shipment-progress, #stApp_error_alert_list0", got.WaitSelector)
	require.False(t, raw.FetchedAt.IsZero())
}

func TestPageScraper_NotFound(t *testing.T) {
	s := NewPageScraper(UPSProfile, static(`<div id="stApp_error_alert_list0">nope</div>`))
	_, err := s.FetchRaw(context.Background(), "X", time.Second)
	require.Equal(t, KindNotFound, kindOf(t, err))

	s = NewPageScraper(UPSProfile, static(`<p>We could not locate the shipment details for this number.</p>`))
	_, err = s.FetchRaw(context.Background(), "X", time.Second)
	require.Equal(t, KindNotFound, kindOf(t, err))
}

func TestPageScraper_StatusRegionWinsOverNotFoundPhrase(t *testing.T) {
	s := NewPageScraper(UPSProfile, static(`<table class="ups-shipment-progress"></table><p>could not locate the shipment details</p>`))
	_, err := s.FetchRaw(context.Background(), "X", time.Second)
	require.NoError(t, err)
}

func TestPageScraper_EmptyBodyIsParseTarget(t *testing.T) {
	_, err := NewPageScraper(UPSProfile, static("  ")).FetchRaw(context.Background(), "X", time.Second)
	require.Equal(t, KindParseTarget, kindOf(t, err))
}

func TestPageScraper_Timeout(t *testing.T) {
	r := renderFunc(func(ctx context.Context, _ RenderRequest) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	start := time.Now()
	_, err := NewPageScraper(UPSProfile, r).FetchRaw(context.Background(), "X", 20*time.Millisecond)
	require.Equal(t, KindTimeout, kindOf(t, err))
	require.Less(t, time.Since(start), time.Second)
}

func TestPageScraper_OtherErrorIsUnavailable(t *testing.T) {
	r := renderFunc(func(context.Context, RenderRequest) (string, error) {
		return "", errors.New("connection refused")
	})
	_, err := NewPageScraper(UPSProfile, r).FetchRaw(context.Background(), "X", time.Second)
	require.Equal(t, KindCarrierUnavailable, kindOf(t, err))
}

func TestPageScraper_PassesThroughScrapeError(t *testing.T) {
	r := renderFunc(func(context.Context, RenderRequest) (string, error) {
		return "", &ScrapeError{Kind: KindNotFound}
	})
	_, err := NewPageScraper(UPSProfile, r).FetchRaw(context.Background(), "X", time.Second)
	require.Equal(t, KindNotFound, kindOf(t, err))
}

func TestRegistry(t *testing.T) {
	reg := NewPageRegistry(DefaultProfiles(), static(""))
	for _, c := range models.KnownCarriers {
		_, ok := reg.For(c)
		require.True(t, ok, c)
	}
	_, ok := reg.For(models.CarrierUnknown)
	require.False(t, ok)

	var nilReg *Registry
	_, ok = nilReg.For(models.CarrierUPS)
	require.False(t, ok)
}

func TestErrorKind_FailureKind(t *testing.T) {
	require.Equal(t, models.FailureTimeout, KindTimeout.FailureKind())
	require.Equal(t, models.FailureNotFound, KindNotFound.FailureKind())
	require.Equal(t, models.FailureParseTarget, KindParseTarget.FailureKind())
	require.Equal(t, models.FailureCarrierUnavailable, KindCarrierUnavailable.FailureKind())
	require.True(t, (&ScrapeError{Kind: KindTimeout}).Transient())
	require.False(t, (&ScrapeError{Kind: KindNotFound}).Transient())
}
