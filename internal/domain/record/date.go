package record

import (
	"strings"
	"time"
)

// dateLayouts are tried in order when parsing a record date
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
	"2006-01",
}

// ParseDate parses s as a calendar date in UTC. The time of day is discarded.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return Day(t), true
		}
	}
	return time.Time{}, false
}

// Day truncates t to midnight UTC of its calendar date
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// FormatDate renders a calendar date as YYYY-MM-DD
func FormatDate(t time.Time) string {
	return t.Format("2006-01-02")
}
