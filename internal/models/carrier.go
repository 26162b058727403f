package models

// Carrier identifies the company that issued a tracking code.
type Carrier string

const (
	CarrierUPS     Carrier = "UPS"
	CarrierUSPS    Carrier = "USPS"
	CarrierFedEx   Carrier = "FEDEX"
	CarrierDHL     Carrier = "DHL"
	CarrierUnknown Carrier = "UNKNOWN"
)

// KnownCarriers lists every carrier an adapter exists for.
var KnownCarriers = []Carrier{CarrierUPS, CarrierUSPS, CarrierFedEx, CarrierDHL}

func (c Carrier) Known() bool {
	for _, k := range KnownCarriers {
		if c == k {
			return true
		}
	}
	return false
}

func (c Carrier) String() string { return string(c) }

// ParseCarrier maps a stored or configured name back to a Carrier. Anything
// unrecognised is CarrierUnknown.
func ParseCarrier(s string) Carrier {
	c := Carrier(s)
	if c.Known() {
		return c
	}
	return CarrierUnknown
}
