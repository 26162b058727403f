package carrier

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/BearBump/parcelwatch/internal/models"
	"github.com/PuerkitoBio/goquery"
	"github.com/pkg/errors"
)

// RenderRequest asks a Renderer to open URL and return the document markup
// once WaitSelector matches.
type RenderRequest struct {
	URL          string
	WaitSelector string
}

// Renderer is the browser-automation capability.
type Renderer interface {
	Render(ctx context.Context, req RenderRequest) (string, error)
}

// Profile describes where a carrier shows tracking status.
type Profile struct {
	Carrier models.Carrier
	// URLTemplate contains one %s for the query-escaped tracking code.
	URLTemplate      string
	ReadySelector    string
	NotFoundSelector string
	NotFoundPhrases  []string
}

func (p Profile) URL(code string) string {
	return fmt.Sprintf(p.URLTemplate, url.QueryEscape(code))
}

// PageScraper is a Scraper for any carrier described by a Profile.
type PageScraper struct {
	profile  Profile
	renderer Renderer
}

func NewPageScraper(p Profile, r Renderer) *PageScraper {
	return &PageScraper{profile: p, renderer: r}
}

func (s *PageScraper) Profile() Profile { return s.profile }

func (s *PageScraper) FetchRaw(ctx context.Context, code string, timeout time.Duration) (RawResponse, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	target := s.profile.URL(code)
	wait := s.profile.ReadySelector
	if s.profile.NotFoundSelector != "" {
		wait = wait + ", " + s.profile.NotFoundSelector
	}

	body, err := s.renderer.Render(ctx, RenderRequest{URL: target, WaitSelector: wait})
	if err != nil {
		return RawResponse{}, s.classify(ctx, err)
	}
	if strings.TrimSpace(body) == "" {
		return RawResponse{}, &ScrapeError{Kind: KindParseTarget, Carrier: s.profile.Carrier, Err: errors.New("empty document")}
	}
	if s.reportsNotFound(body) {
		return RawResponse{}, &ScrapeError{Kind: KindNotFound, Carrier: s.profile.Carrier}
	}

	return RawResponse{
		Carrier:      s.profile.Carrier,
		TrackingCode: code,
		URL:          target,
		Body:         body,
		FetchedAt:    time.Now().UTC(),
	}, nil
}

func (s *PageScraper) classify(ctx context.Context, err error) error {
	var se *ScrapeError
	if errors.As(err, &se) {
		if se.Carrier == "" {
			se.Carrier = s.profile.Carrier
		}
		return se
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &ScrapeError{Kind: KindTimeout, Carrier: s.profile.Carrier, Err: err}
	}
	return &ScrapeError{Kind: KindCarrierUnavailable, Carrier: s.profile.Carrier, Err: err}
}

// reportsNotFound is true only when the carrier explicitly rejects the code
// and no status region rendered.
func (s *PageScraper) reportsNotFound(body string) bool {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return false
	}
	if s.profile.ReadySelector != "" && doc.Find(s.profile.ReadySelector).Length() > 0 {
		return false
	}
	if s.profile.NotFoundSelector != "" && doc.Find(s.profile.NotFoundSelector).Length() > 0 {
		return true
	}
	text := strings.ToLower(doc.Text())
	for _, p := range s.profile.NotFoundPhrases {
		if strings.Contains(text, strings.ToLower(p)) {
			return true
		}
	}
	return false
}
