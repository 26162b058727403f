package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BearBump/parcelwatch/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_LabelsByRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Metrics)
	r.Get("/v1/users/{userID}/packages", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(metrics.HTTPRequests.WithLabelValues("/v1/users/{userID}/packages", "GET", "418"))
	for _, u := range []string{"/v1/users/1/packages", "/v1/users/2/packages"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, u, nil))
		require.Equal(t, http.StatusTeapot, rec.Code)
	}
	after := testutil.ToFloat64(metrics.HTTPRequests.WithLabelValues("/v1/users/{userID}/packages", "GET", "418"))
	require.Equal(t, float64(2), after-before)
}
