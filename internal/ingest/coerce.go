package ingest

import (
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	currencyChars = regexp.MustCompile(`[\p{Sc},]`)
	creditDebit   = regexp.MustCompile(`(?i)(cr|dr)`)
)

// ParseAmount cleans a raw amount cell and parses it. Currency symbols,
// thousands separators and Cr/Dr markers are removed first. ok is false
// and the amount NaN when the remainder is not a number.
func ParseAmount(raw string) (amount float64, ok bool) {
	s := currencyChars.ReplaceAllString(raw, "")
	s = creditDebit.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	if s == "" {
		return math.NaN(), false
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return math.NaN(), false
	}
	f, _ := d.Float64()
	return f, true
}

// Day-first layouts are tried before year-first ones so "03/04/2024" is
// the 3rd of April.
var timestampLayouts = []string{
	"2/1/2006 15:04:05",
	"2/1/2006 15:04",
	"2/1/2006",
	"2-1-2006 15:04:05",
	"2-1-2006 15:04",
	"2-1-2006",
	"2.1.2006 15:04:05",
	"2.1.2006",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	time.RFC3339Nano,
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02",
	"2006/01/02 15:04:05",
	"2006/01/02",
	"2 Jan 2006 15:04:05",
	"2 Jan 2006",
	"Jan 2, 2006",
}

// ParseTimestamp parses a raw timestamp cell. ok is false and the time
// zero when no layout matches.
func ParseTimestamp(raw string) (ts time.Time, ok bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ParseLabel reads a ground-truth fraud label. Anything that is not a
// positive number or a truthy word counts as 0.
func ParseLabel(raw string) int {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch s {
	case "true", "yes", "y", "fraud":
		return 1
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	if d.IsPositive() {
		return 1
	}
	return 0
}
