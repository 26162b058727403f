// Package normalizer turns rendered carrier markup into a Timeline.
package normalizer

import (
	"fmt"
	"strings"
	"time"

	"github.com/BearBump/parcelwatch/internal/integrations/carrier"
	"github.com/BearBump/parcelwatch/internal/models"
	"github.com/PuerkitoBio/goquery"
	"github.com/pkg/errors"
)

// ParseError means the status container is missing: the carrier changed its
// page and the rules need updating.
type ParseError struct {
	Carrier models.Carrier
	Reason  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("normalize %s: %s", e.Carrier, e.Reason)
}

type Normalizer struct {
	rules map[models.Carrier]Rules
}

func New(rules map[models.Carrier]Rules) *Normalizer {
	return &Normalizer{rules: rules}
}

// Default uses the built-in rules for every known carrier.
func Default() *Normalizer {
	return New(DefaultRules())
}

func (n *Normalizer) Normalize(raw carrier.RawResponse) (models.Timeline, error) {
	r, ok := n.rules[raw.Carrier]
	if !ok {
		return nil, &ParseError{Carrier: raw.Carrier, Reason: "no rules for carrier"}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw.Body))
	if err != nil {
		return nil, errors.Wrap(err, "parse markup")
	}

	container := doc.Find(r.Container).First()
	if container.Length() == 0 {
		return nil, &ParseError{Carrier: raw.Carrier, Reason: fmt.Sprintf("status container %q not found", r.Container)}
	}

	var events []models.StatusEvent
	container.Find(r.Row).Each(func(_ int, row *goquery.Selection) {
		ev, ok := r.event(row)
		if ok {
			events = append(events, ev)
		}
	})
	if r.NewestFirst {
		for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
			events[i], events[j] = events[j], events[i]
		}
	}

	tl := models.SortChronologically(events)
	if tl == nil {
		tl = models.Timeline{}
	}
	return tl, nil
}

func (r Rules) event(row *goquery.Selection) (models.StatusEvent, bool) {
	desc := cleanText(row.Find(r.Description).First().Text())
	loc := cleanText(row.Find(r.Location).First().Text())

	timeSel := row.Find(r.Time).First()
	rawTime := ""
	if r.TimeAttr != "" {
		rawTime, _ = timeSel.Attr(r.TimeAttr)
	}
	if rawTime == "" {
		rawTime = cleanText(timeSel.Text())
	}

	if desc == "" && loc == "" && rawTime == "" {
		return models.StatusEvent{}, false
	}

	ev := models.StatusEvent{
		Description: desc,
		Stage:       r.Stage(desc),
	}
	if loc != "" {
		ev.Location = &loc
	}
	if t, ok := r.parseTime(rawTime); ok {
		ev.At = &t
	}
	return ev, true
}

func (r Rules) parseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	zone := r.Zone
	if zone == nil {
		zone = time.UTC
	}
	for _, layout := range r.Layouts {
		if t, err := time.ParseInLocation(layout, s, zone); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// Stage maps a carrier phrase to a canonical stage; unmapped phrases are StageUnknown.
func (r Rules) Stage(description string) models.Stage {
	low := strings.ToLower(description)
	if low == "" {
		return models.StageUnknown
	}
	for _, p := range r.Phrases {
		if strings.Contains(low, p.Contains) {
			return p.Stage
		}
	}
	return models.StageUnknown
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
