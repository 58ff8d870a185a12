// Package dates normalizes the heterogeneous date strings found in
// crowd-sourced start_date/opening_date tags.
package dates

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Normalized is the result of parsing a raw date string. ISO and Year stay
// zero when no format matched; the raw text is preserved either way.
type Normalized struct {
	Raw  string
	ISO  string // canonical YYYY-MM-DD
	Year int
}

// layouts are tried in order: full date, year-month, year-only, US slash
// date, then two European renderings.
var layouts = []string{
	"2006-01-02",
	"2006-01",
	"2006",
	"01/02/2006",
	"02.01.2006",
	"02/01/2006",
}

// Normalize parses a raw date string against the known layouts. Malformed
// input is normal in mapper-authored data, so an unparsable string is not an
// error: the raw text comes back with ISO empty and Year zero.
func Normalize(raw string) Normalized {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Normalized{}
	}
	n := Normalized{Raw: s}
	for _, layout := range layouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		n.ISO = t.Format("2006-01-02")
		n.Year = t.Year()
		return n
	}
	if len(s) == 4 && isDigits(s) {
		if y, err := strconv.Atoi(s); err == nil && PlausibleYear(y) {
			n.ISO = fmt.Sprintf("%d-01-01", y)
			n.Year = y
		}
	}
	return n
}

// PlausibleYear bounds any year value before it may drive an inference.
func PlausibleYear(y int) bool {
	return y >= 1900 && y <= 2100
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
