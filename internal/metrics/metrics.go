package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parcelwatch_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"path", "method", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "parcelwatch_http_request_duration_seconds",
			Help:    "Histogram of response durations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	// RefreshAttempts counts scrapes by carrier and outcome (ok or a failure kind).
	RefreshAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parcelwatch_refresh_attempts_total",
			Help: "Number of refresh attempts by carrier and outcome",
		},
		[]string{"carrier", "outcome"},
	)

	ScrapeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "parcelwatch_scrape_duration_seconds",
			Help:    "Duration of carrier scrapes",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		},
		[]string{"carrier"},
	)

	// RefreshCoalesced counts callers that joined a refresh already in flight.
	RefreshCoalesced = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "parcelwatch_refresh_coalesced_total",
			Help: "Number of refresh requests served by an in-flight refresh",
		},
	)

	RefreshInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "parcelwatch_refresh_in_flight",
			Help: "Refreshes currently running",
		},
	)

	RateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parcelwatch_refresh_rate_limited_total",
			Help: "Refreshes skipped because the carrier budget was spent",
		},
		[]string{"carrier"},
	)
)

func Init() {
	prometheus.MustRegister(
		HTTPRequests, RequestDuration,
		RefreshAttempts, ScrapeDuration, RefreshCoalesced, RefreshInFlight, RateLimited,
	)
}
