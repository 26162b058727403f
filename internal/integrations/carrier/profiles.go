package carrier

import "github.com/BearBump/parcelwatch/internal/models"

var UPSProfile = Profile{
	Carrier:          models.CarrierUPS,
	URLTemplate:      "https://www.ups.com/track?loc=en_US&tracknum=%s&requester=ST/trackdetails",
	ReadySelector:    "table.ups-shipment-progress",
	NotFoundSelector: "#stApp_error_alert_list0",
	NotFoundPhrases:  []string{"could not locate the shipment details"},
}

var USPSProfile = Profile{
	Carrier:          models.CarrierUSPS,
	URLTemplate:      "https://tools.usps.com/go/TrackConfirmAction?tLabels=%s",
	ReadySelector:    "div.tracking-progress-bar-status-container",
	NotFoundSelector: "div.red-banner",
	NotFoundPhrases:  []string{"label created, not yet in system", "status not available"},
}

var FedExProfile = Profile{
	Carrier:          models.CarrierFedEx,
	URLTemplate:      "https://www.fedex.com/fedextrack/?trknbr=%s",
	ReadySelector:    "div.travel-history",
	NotFoundSelector: "div.notfound-message",
	NotFoundPhrases:  []string{"tracking number cannot be found"},
}

var DHLProfile = Profile{
	Carrier:          models.CarrierDHL,
	URLTemplate:      "https://www.dhl.com/global-en/home/tracking/tracking-express.html?submit=1&tracking-id=%s",
	ReadySelector:    "ol.c-tracking-result--checkpoint-list",
	NotFoundSelector: "div.c-tracking-result--error",
	NotFoundPhrases:  []string{"sorry, your tracking attempt was not successful"},
}

// DefaultProfiles returns a fresh copy of every built-in profile.
func DefaultProfiles() map[models.Carrier]Profile {
	return map[models.Carrier]Profile{
		models.CarrierUPS:   UPSProfile,
		models.CarrierUSPS:  USPSProfile,
		models.CarrierFedEx: FedExProfile,
		models.CarrierDHL:   DHLProfile,
	}
}

// NewPageRegistry registers a PageScraper for every profile.
func NewPageRegistry(profiles map[models.Carrier]Profile, r Renderer) *Registry {
	reg := NewRegistry()
	for c, p := range profiles {
		reg.Register(c, NewPageScraper(p, r))
	}
	return reg
}
