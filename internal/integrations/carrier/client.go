package carrier

import (
	"context"
	"fmt"
	"time"

	"github.com/BearBump/parcelwatch/internal/models"
)

// RawResponse is the rendered carrier page before normalization.
type RawResponse struct {
	Carrier      models.Carrier
	TrackingCode string
	URL          string
	Body         string
	FetchedAt    time.Time
}

// Scraper fetches raw status markup for one carrier.
type Scraper interface {
	FetchRaw(ctx context.Context, code string, timeout time.Duration) (RawResponse, error)
}

type ErrorKind string

const (
	KindTimeout            ErrorKind = "TIMEOUT"
	KindNotFound           ErrorKind = "NOT_FOUND"
	KindCarrierUnavailable ErrorKind = "CARRIER_UNAVAILABLE"
	KindParseTarget        ErrorKind = "PARSE_TARGET"
)

// ScrapeError is the only error type a Scraper returns.
type ScrapeError struct {
	Kind    ErrorKind
	Carrier models.Carrier
	Err     error
}

func (e *ScrapeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("scrape %s: %s", e.Carrier, e.Kind)
	}
	return fmt.Sprintf("scrape %s: %s: %v", e.Carrier, e.Kind, e.Err)
}

func (e *ScrapeError) Unwrap() error { return e.Err }

// Transient errors are worth retrying later; NotFound and ParseTarget are not.
func (e *ScrapeError) Transient() bool {
	return e.Kind == KindTimeout || e.Kind == KindCarrierUnavailable
}

func (k ErrorKind) FailureKind() models.FailureKind {
	switch k {
	case KindTimeout:
		return models.FailureTimeout
	case KindNotFound:
		return models.FailureNotFound
	case KindParseTarget:
		return models.FailureParseTarget
	default:
		return models.FailureCarrierUnavailable
	}
}

// Registry dispatches on the carrier tag.
type Registry struct {
	scrapers map[models.Carrier]Scraper
}

func NewRegistry() *Registry {
	return &Registry{scrapers: make(map[models.Carrier]Scraper)}
}

func (r *Registry) Register(c models.Carrier, s Scraper) *Registry {
	r.scrapers[c] = s
	return r
}

func (r *Registry) For(c models.Carrier) (Scraper, bool) {
	if r == nil {
		return nil, false
	}
	s, ok := r.scrapers[c]
	return s, ok
}
