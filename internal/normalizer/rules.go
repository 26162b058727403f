package normalizer

import (
	"time"

	"github.com/BearBump/parcelwatch/internal/models"
)

// Phrase matches a lower-case substring of an event description.
type Phrase struct {
	Contains string
	Stage    models.Stage
}

// Rules describe where one carrier puts its events. Phrases are checked in
// order, so more specific wording goes first.
type Rules struct {
	Container   string
	Row         string
	Time        string
	TimeAttr    string
	Location    string
	Description string
	Layouts     []string
	Zone        *time.Location
	NewestFirst bool
	Phrases     []Phrase
}

var upsRules = Rules{
	Container:   "table.ups-shipment-progress",
	Row:         "tbody tr",
	Time:        "td.activity-date",
	Location:    "td.activity-location",
	Description: "td.activity-description",
	Layouts:     []string{"01/02/2006 3:04 PM", "01/02/2006"},
	NewestFirst: true,
	Phrases: []Phrase{
		{"out for delivery", models.StageOutForDelivery},
		{"delivered", models.StageDelivered},
		{"attempt", models.StageException},
		{"exception", models.StageException},
		{"delay", models.StageException},
		{"returned to sender", models.StageException},
		{"label created", models.StageCreated},
		{"shipper created a label", models.StageCreated},
		{"order processed", models.StageCreated},
		{"picked up", models.StageCreated},
		{"arrived at facility", models.StageInTransit},
		{"departed from facility", models.StageInTransit},
		{"processing at ups facility", models.StageInTransit},
		{"in transit", models.StageInTransit},
		{"on the way", models.StageInTransit},
	},
}

var uspsRules = Rules{
	Container:   "div.tracking-progress-bar-status-container",
	Row:         "div.tb-step",
	Time:        "p.tb-date",
	Location:    "p.tb-location",
	Description: "p.tb-status-detail",
	Layouts:     []string{"January 2, 2006, 3:04 pm", "January 2, 2006"},
	NewestFirst: true,
	Phrases: []Phrase{
		{"out for delivery", models.StageOutForDelivery},
		{"delivered", models.StageDelivered},
		{"notice left", models.StageException},
		{"delivery attempt", models.StageException},
		{"alert", models.StageException},
		{"return to sender", models.StageException},
		{"shipping label created", models.StageCreated},
		{"pre-shipment", models.StageCreated},
		{"usps in possession", models.StageCreated},
		{"accepted at usps", models.StageCreated},
		{"picked up", models.StageCreated},
		{"arrived at", models.StageInTransit},
		{"departed", models.StageInTransit},
		{"processed through", models.StageInTransit},
		{"in transit", models.StageInTransit},
	},
}

var fedexRules = Rules{
	Container:   "div.travel-history",
	Row:         "div.travel-history__row",
	Time:        "span.travel-history__date",
	Location:    "span.travel-history__location",
	Description: "span.travel-history__scan-event",
	Layouts:     []string{"1/2/06 3:04 PM", "1/2/2006 3:04 PM"},
	NewestFirst: true,
	Phrases: []Phrase{
		{"on fedex vehicle for delivery", models.StageOutForDelivery},
		{"out for delivery", models.StageOutForDelivery},
		{"delivered", models.StageDelivered},
		{"exception", models.StageException},
		{"delay", models.StageException},
		{"shipment information sent to fedex", models.StageCreated},
		{"label created", models.StageCreated},
		{"picked up", models.StageCreated},
		{"arrived at", models.StageInTransit},
		{"departed", models.StageInTransit},
		{"left fedex origin facility", models.StageInTransit},
		{"at local fedex facility", models.StageInTransit},
		{"in transit", models.StageInTransit},
	},
}

var dhlRules = Rules{
	Container:   "ol.c-tracking-result--checkpoint-list",
	Row:         "li.c-tracking-result--checkpoint",
	Time:        "time.c-tracking-result--checkpoint-date",
	TimeAttr:    "datetime",
	Location:    "span.c-tracking-result--checkpoint-location",
	Description: "p.c-tracking-result--checkpoint-description",
	Layouts:     []string{time.RFC3339, "2006-01-02 15:04"},
	NewestFirst: true,
	Phrases: []Phrase{
		{"with delivery courier", models.StageOutForDelivery},
		{"out for delivery", models.StageOutForDelivery},
		{"delivered", models.StageDelivered},
		{"clearance delay", models.StageException},
		{"exception", models.StageException},
		{"returned", models.StageException},
		{"shipment information received", models.StageCreated},
		{"picked up", models.StageCreated},
		{"processed at", models.StageInTransit},
		{"arrived at", models.StageInTransit},
		{"departed", models.StageInTransit},
		{"transferred through", models.StageInTransit},
		{"in transit", models.StageInTransit},
	},
}

func DefaultRules() map[models.Carrier]Rules {
	return map[models.Carrier]Rules{
		models.CarrierUPS:   upsRules,
		models.CarrierUSPS:  uspsRules,
		models.CarrierFedEx: fedexRules,
		models.CarrierDHL:   dhlRules,
	}
}
