// Package classifier maps a tracking code to the carrier that issued it.
package classifier

import (
	"strings"
	"unicode"

	"github.com/BearBump/parcelwatch/internal/models"
)

type rule struct {
	name    string
	carrier models.Carrier
	match   func(code string) bool
}

// Rules are checked in full; a code matching more than one carrier is ambiguous.
var rules = []rule{
	{name: "ups-1z", carrier: models.CarrierUPS, match: isUPS},
	{name: "usps-impb", carrier: models.CarrierUSPS, match: isUSPSDomestic},
	{name: "usps-s10", carrier: models.CarrierUSPS, match: isUSPSS10},
	{name: "fedex-express", carrier: models.CarrierFedEx, match: isFedExExpress},
	{name: "fedex-ground", carrier: models.CarrierFedEx, match: isFedExGround},
	{name: "dhl-express", carrier: models.CarrierDHL, match: isDHLExpress},
}

// Canonicalize upper-cases a code and drops whitespace and dashes, the way
// users tend to paste them from emails and labels.
func Canonicalize(code string) string {
	var b strings.Builder
	b.Grow(len(code))
	for _, r := range code {
		if unicode.IsSpace(r) || r == '-' {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

// Classify never fails: unmatched or ambiguous codes are CarrierUnknown.
func Classify(code string) models.Carrier {
	c, _ := Explain(code)
	return c
}

// Explain returns the carrier together with the names of the rules that matched.
func Explain(code string) (models.Carrier, []string) {
	code = Canonicalize(code)
	var matched []string
	carrier := models.CarrierUnknown
	ambiguous := false
	for _, r := range rules {
		if !r.match(code) {
			continue
		}
		matched = append(matched, r.name)
		if carrier == models.CarrierUnknown {
			carrier = r.carrier
		} else if carrier != r.carrier {
			ambiguous = true
		}
	}
	if ambiguous {
		// ClassificationAmbiguous is not an error: the package is stored as UNKNOWN.
		return models.CarrierUnknown, matched
	}
	return carrier, matched
}

func isUPS(code string) bool {
	if len(code) != 18 || !strings.HasPrefix(code, "1Z") {
		return false
	}
	body := code[2:17]
	for _, r := range body {
		if !isAlnum(r) {
			return false
		}
	}
	if !isDigit(rune(code[17])) {
		return false
	}
	return upsCheckDigit(body) == int(code[17]-'0')
}

func isUSPSDomestic(code string) bool {
	if (len(code) != 20 && len(code) != 22) || !allDigits(code) {
		return false
	}
	return mod10CheckDigit(code[:len(code)-1]) == int(code[len(code)-1]-'0')
}

func isUSPSS10(code string) bool {
	if len(code) != 13 || !strings.HasSuffix(code, "US") {
		return false
	}
	if !isUpper(rune(code[0])) || !isUpper(rune(code[1])) || !allDigits(code[2:11]) {
		return false
	}
	return s10CheckDigit(code[2:10]) == int(code[10]-'0')
}

func isFedExExpress(code string) bool {
	if len(code) != 12 || !allDigits(code) {
		return false
	}
	return fedExCheckDigit(code[:11]) == int(code[11]-'0')
}

func isFedExGround(code string) bool {
	if len(code) != 15 || !allDigits(code) {
		return false
	}
	return mod10CheckDigit(code[:14]) == int(code[14]-'0')
}

func isDHLExpress(code string) bool {
	if len(code) != 10 || !allDigits(code) {
		return false
	}
	n := 0
	for _, r := range code[:9] {
		n = (n*10 + int(r-'0')) % 7
	}
	return n == int(code[9]-'0')
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }
func isUpper(r rune) bool { return r >= 'A' && r <= 'Z' }
func isAlnum(r rune) bool { return isDigit(r) || isUpper(r) }

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !isDigit(r) {
			return false
		}
	}
	return true
}
