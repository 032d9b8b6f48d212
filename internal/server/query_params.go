package server

import (
	"strings"
	"time"
)

// parseOptionalTime accepts an RFC3339 timestamp or a bare date
// (2006-01-02). An empty value yields nil. When endOfDay is set,
// bare dates resolve to the last instant of that day so the value
// works as an inclusive upper bound.
func parseOptionalTime(value string, endOfDay bool) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}

	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		ts = ts.UTC()
		return &ts, nil
	}

	ts, err := time.Parse("2006-01-02", value)
	if err != nil {
		return nil, err
	}
	if endOfDay {
		ts = ts.Add(24*time.Hour - time.Nanosecond)
	}
	ts = ts.UTC()
	return &ts, nil
}
