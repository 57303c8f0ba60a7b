package shared

import (
	"fmt"
	"time"

	// Embedded zone data, the lima location must load on hosts without zoneinfo.
	_ "time/tzdata"
)

const (
	// SessionTimeLayout is the format layout for parsing hours in a day.
	SessionTimeLayout = "15:04"
	// DateLayout is the format layout for parsing dates.
	DateLayout = "2006-01-02"
	// TimestampLayout is the price api timestamp layout, utc with no offset suffix.
	TimestampLayout = "2006-01-02T15:04:05"
	// LimaLocation is the location the trading day is anchored to.
	LimaLocation = "America/Lima"
)

// Timeframe represents the market data time period.
type Timeframe int

const (
	OneMinute Timeframe = iota
	FiveMinute
	FifteenMinute
	ThirtyMinute
	OneHour
	FourHour
	OneDay
	OneWeek
)

// timeframes maps each timeframe to its price api resolution code and seconds per bar.
var timeframes = map[Timeframe]struct {
	code    string
	seconds int64
}{
	OneMinute:     {"MINUTE", 60},
	FiveMinute:    {"MINUTE_5", 300},
	FifteenMinute: {"MINUTE_15", 900},
	ThirtyMinute:  {"MINUTE_30", 1800},
	OneHour:       {"HOUR", 3600},
	FourHour:      {"HOUR_4", 14400},
	OneDay:        {"DAY", 86400},
	OneWeek:       {"WEEK", 604800},
}

// String stringifies the provided timeframe as its price api resolution code.
func (t Timeframe) String() string {
	tf, ok := timeframes[t]
	if !ok {
		return "unknown"
	}

	return tf.code
}

// Seconds returns the number of seconds spanned by a single bar of the timeframe.
func (t Timeframe) Seconds() int64 {
	return timeframes[t].seconds
}

// ParseTimeframe returns the timeframe matching the provided resolution code.
func ParseTimeframe(code string) (Timeframe, error) {
	for tf, v := range timeframes {
		if v.code == code {
			return tf, nil
		}
	}

	return 0, fmt.Errorf("%w: unknown timeframe %q", ErrConfiguration, code)
}

// UnixToTimestamp formats the provided unix time as a utc timestamp without an offset suffix.
func UnixToTimestamp(ts int64) string {
	return time.Unix(ts, 0).UTC().Format(TimestampLayout)
}

// ParseUTC parses a date ("2006-01-02") or timestamp ("2006-01-02T15:04:05") as utc.
func ParseUTC(value string) (time.Time, error) {
	for _, layout := range []string{TimestampLayout, "2006-01-02T15:04", DateLayout, time.RFC3339} {
		t, err := time.Parse(layout, value)
		if err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse %q as a utc date or timestamp", value)
}

// HourOnDate combines a date ("2006-01-02") and an hour ("15:04") into a utc unix time.
func HourOnDate(date string, hour string) (int64, error) {
	day, err := time.Parse(DateLayout, date)
	if err != nil {
		return 0, fmt.Errorf("parsing date %q: %w", date, err)
	}

	hm, err := time.Parse(SessionTimeLayout, hour)
	if err != nil {
		return 0, fmt.Errorf("parsing hour %q: %w", hour, err)
	}

	t := time.Date(day.Year(), day.Month(), day.Day(), hm.Hour(), hm.Minute(), 0, 0, time.UTC)
	return t.Unix(), nil
}

// LimaTime returns the current time in lima.
func LimaTime() (time.Time, *time.Location, error) {
	loc, err := time.LoadLocation(LimaLocation)
	if err != nil {
		return time.Time{}, nil, fmt.Errorf("loading lima timezone: %w", err)
	}

	now := time.Now().In(loc)
	return now, loc, nil
}
