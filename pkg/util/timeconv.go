package util

import (
	"fmt"
	"strings"
	"time"
)

// DateTimeLayout is the layout of every declared time value.
const DateTimeLayout = "2006-01-02 15:04:05"

// ToEpochMillis converts a "YYYY-MM-DD HH:MM:SS" wall-clock time in the named
// IANA zone to milliseconds since the Unix epoch. All time comparisons in the
// reconciler are done on the result, never on the strings.
func ToEpochMillis(value, tzName string) (int64, error) {
	if tzName == "" {
		return 0, fmt.Errorf("time zone is required for %q", value)
	}
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return 0, fmt.Errorf("invalid time zone %q: %w", tzName, err)
	}
	t, err := time.ParseInLocation(DateTimeLayout, strings.TrimSpace(value), loc)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q: expected format YYYY-MM-DD HH:MM:SS", value)
	}
	return t.UnixMilli(), nil
}

// FromEpochMillis renders epoch milliseconds in the named zone using DateTimeLayout.
func FromEpochMillis(ms int64, tzName string) string {
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		loc = time.UTC
	}
	return time.UnixMilli(ms).In(loc).Format(DateTimeLayout)
}

// DayMillis is one day in milliseconds.
const DayMillis int64 = 24 * 60 * 60 * 1000
