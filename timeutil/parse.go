package timeutil

import (
	"strconv"
	"time"
)

type ParserFunc func(value string) (time.Time, error)

var (
	DefaultLayout     = time.RFC3339
	DefaultParserFunc = func(value string) (time.Time, error) {
		return time.Parse(DefaultLayout, value)
	}
)

// ParseDuration parses a Go duration string such as "1m30s". A bare
// integer is read as milliseconds.
func ParseDuration(value string) (time.Duration, error) {
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(value)
}
