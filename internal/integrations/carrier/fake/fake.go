// Package fake renders deterministic carrier pages without a browser.
package fake

import (
	"context"
	"fmt"
	"hash/fnv"
	"html"
	"strings"
	"time"

	"github.com/BearBump/parcelwatch/internal/integrations/carrier"
	"github.com/pkg/errors"
)

type event struct {
	at       time.Time
	location string
	text     string
}

type page func(events []event) string

// Renderer picks a page shape from the ready selector of the request and an
// outcome from a hash of the URL: one in ten codes is unknown to the carrier,
// one in five is delivered, the rest are in transit.
type Renderer struct {
	delay    time.Duration
	now      func() time.Time
	pages    map[string]page
	notFound map[string]string
}

func New(delay time.Duration) *Renderer {
	return &Renderer{
		delay: delay,
		now:   func() time.Time { return time.Now().UTC() },
		pages: map[string]page{
			carrier.UPSProfile.ReadySelector:   upsPage,
			carrier.USPSProfile.ReadySelector:  uspsPage,
			carrier.FedExProfile.ReadySelector: fedexPage,
			carrier.DHLProfile.ReadySelector:   dhlPage,
		},
		notFound: map[string]string{
			carrier.UPSProfile.ReadySelector:   `<div id="stApp_error_alert_list0">We could not locate the shipment details for this tracking number.</div>`,
			carrier.USPSProfile.ReadySelector:  `<div class="red-banner">Label Created, not yet in system</div>`,
			carrier.FedExProfile.ReadySelector: `<div class="notfound-message">This tracking number cannot be found.</div>`,
			carrier.DHLProfile.ReadySelector:   `<div class="c-tracking-result--error">Sorry, your tracking attempt was not successful.</div>`,
		},
	}
}

func (r *Renderer) Render(ctx context.Context, req carrier.RenderRequest) (string, error) {
	if r.delay > 0 {
		t := time.NewTimer(r.delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-t.C:
		}
	}

	ready, _, _ := strings.Cut(req.WaitSelector, ",")
	ready = strings.TrimSpace(ready)
	build, ok := r.pages[ready]
	if !ok {
		return "", errors.Errorf("fake: no page for selector %q", ready)
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(req.URL))
	v := h.Sum32()

	if v%10 == 0 {
		return wrap(r.notFound[ready]), nil
	}

	base := r.now().Truncate(time.Hour).Add(-72 * time.Hour)
	events := []event{
		{at: base, location: "ORIGIN", text: "Picked up"},
		{at: base.Add(10 * time.Hour), location: "HUB", text: "In transit"},
	}
	if v%5 == 0 {
		events = append(events,
			event{at: base.Add(30 * time.Hour), location: "DESTINATION", text: "Out for delivery"},
			event{at: base.Add(34 * time.Hour), location: "DESTINATION", text: "Delivered"},
		)
	}
	return wrap(build(events)), nil
}

func wrap(body string) string {
	return "<!doctype html><html><head><title>Tracking</title></head><body>" + body + "</body></html>"
}

// Pages list events newest first, like the carriers do.
func newestFirst(events []event, row func(e event) string) string {
	var b strings.Builder
	for i := len(events) - 1; i >= 0; i-- {
		b.WriteString(row(events[i]))
	}
	return b.String()
}

func upsPage(events []event) string {
	rows := newestFirst(events, func(e event) string {
		return fmt.Sprintf(`<tr><td class="activity-date">%s</td><td class="activity-location">%s</td><td class="activity-description">%s</td></tr>`,
			e.at.Format("01/02/2006 3:04 PM"), html.EscapeString(e.location), html.EscapeString(e.text))
	})
	return `<table class="ups-shipment-progress"><tbody>` + rows + `</tbody></table>`
}

func uspsPage(events []event) string {
	rows := newestFirst(events, func(e event) string {
		return fmt.Sprintf(`<div class="tb-step"><p class="tb-status-detail">%s</p><p class="tb-location">%s</p><p class="tb-date">%s</p></div>`,
			html.EscapeString(e.text), html.EscapeString(e.location), e.at.Format("January 2, 2006, 3:04 pm"))
	})
	return `<div class="tracking-progress-bar-status-container">` + rows + `</div>`
}

func fedexPage(events []event) string {
	rows := newestFirst(events, func(e event) string {
		return fmt.Sprintf(`<div class="travel-history__row"><span class="travel-history__date">%s</span><span class="travel-history__location">%s</span><span class="travel-history__scan-event">%s</span></div>`,
			e.at.Format("1/2/06 3:04 PM"), html.EscapeString(e.location), html.EscapeString(e.text))
	})
	return `<div class="travel-history">` + rows + `</div>`
}

func dhlPage(events []event) string {
	rows := newestFirst(events, func(e event) string {
		return fmt.Sprintf(`<li class="c-tracking-result--checkpoint"><time class="c-tracking-result--checkpoint-date" datetime="%s">%s</time><span class="c-tracking-result--checkpoint-location">%s</span><p class="c-tracking-result--checkpoint-description">%s</p></li>`,
			e.at.Format(time.RFC3339), e.at.Format("Monday, January 2, 2006 15:04"), html.EscapeString(e.location), html.EscapeString(e.text))
	})
	return `<ol class="c-tracking-result--checkpoint-list">` + rows + `</ol>`
}
