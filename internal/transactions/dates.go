package transactions

import (
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/araddon/dateparse"
)

const (
	minYear = 1900
	maxYear = 2199
)

// dateLayouts are tried in order. Ambiguous numeric dates read month-first;
// the day-first layouts only match when month-first is impossible (day > 12).
var dateLayouts = []string{
	// ISO
	"2006-1-2",
	"2006/1/2",
	"2006.1.2",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	// month-first
	"1/2/2006",
	"1-2-2006",
	"1/2/06",
	// day-first
	"2/1/2006",
	"2.1.2006",
	"2-1-2006",
	"2/1/06",
	"2.1.06",
	// textual month
	"Jan 2, 2006",
	"January 2, 2006",
	"Jan 2 2006",
	"January 2 2006",
	"2 Jan 2006",
	"2 January 2006",
	"2-Jan-2006",
	"2-Jan-06",
	"Mon, Jan 2, 2006",
	"Monday, January 2, 2006",
}

// ParseDate reads a transaction date and returns it as a calendar date. The
// same input always yields the same date; inputs without a plausible year are
// rejected.
func ParseDate(s string) (civil.Date, error) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "."))
	if s == "" {
		return civil.Date{}, fmt.Errorf("empty date")
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return checkYear(s, civil.DateOf(t))
		}
	}

	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return civil.Date{}, fmt.Errorf("unrecognized date %q", s)
	}
	return checkYear(s, civil.DateOf(t))
}

func checkYear(s string, d civil.Date) (civil.Date, error) {
	if d.Year < minYear || d.Year > maxYear || !d.IsValid() {
		return civil.Date{}, fmt.Errorf("date %q has implausible year %d", s, d.Year)
	}
	return d, nil
}
