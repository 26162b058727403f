package httprender

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BearBump/parcelwatch/internal/integrations/carrier"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestRenderer_Render_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/track", r.URL.Path)
		require.Equal(t, "1Z999AA10123456784", r.URL.Query().Get("tracknum"))
		require.Equal(t, "parcelwatch-test", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><table class="ups-shipment-progress"></table></body></html>`))
	}))
	defer srv.Close()

	r := New("parcelwatch-test")
	body, err := r.Render(context.Background(), carrier.RenderRequest{URL: srv.URL + "/track?tracknum=1Z999AA10123456784"})
	require.NoError(t, err)
	require.Contains(t, body, "ups-shipment-progress")
}

func TestRenderer_Render_StatusMapping(t *testing.T) {
	cases := []struct {
		status int
		kind   carrier.ErrorKind
	}{
		{http.StatusNotFound, carrier.KindNotFound},
		{http.StatusTooManyRequests, carrier.KindCarrierUnavailable},
		{http.StatusBadGateway, carrier.KindCarrierUnavailable},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))

		_, err := New("").Render(context.Background(), carrier.RenderRequest{URL: srv.URL})
		var se *carrier.ScrapeError
		require.True(t, errors.As(err, &se), tc.status)
		require.Equal(t, tc.kind, se.Kind)
		srv.Close()
	}
}

func TestRenderer_Render_ContextDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := New("").Render(ctx, carrier.RenderRequest{URL: srv.URL})
	require.Error(t, err)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
