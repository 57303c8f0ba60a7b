package shared

import (
	"errors"
	"testing"

	"github.com/peterldowns/testy/assert"
)

func TestTimeframe(t *testing.T) {
	tests := []struct {
		name      string
		timeframe Timeframe
		code      string
		seconds   int64
	}{
		{"One Minute", OneMinute, "MINUTE", 60},
		{"Five Minute", FiveMinute, "MINUTE_5", 300},
		{"Fifteen Minute", FifteenMinute, "MINUTE_15", 900},
		{"Thirty Minute", ThirtyMinute, "MINUTE_30", 1800},
		{"One Hour", OneHour, "HOUR", 3600},
		{"Four Hour", FourHour, "HOUR_4", 14400},
		{"One Day", OneDay, "DAY", 86400},
		{"One Week", OneWeek, "WEEK", 604800},
	}

	for _, test := range tests {
		if test.timeframe.String() != test.code {
			t.Errorf("%s: expected code %s, got %s", test.name, test.code, test.timeframe.String())
		}
		if test.timeframe.Seconds() != test.seconds {
			t.Errorf("%s: expected %d seconds, got %d", test.name, test.seconds, test.timeframe.Seconds())
		}

		parsed, err := ParseTimeframe(test.code)
		assert.NoError(t, err)
		assert.Equal(t, parsed, test.timeframe)
	}

	// Ensure unknown timeframes are configuration errors.
	_, err := ParseTimeframe("MINUTE_3")
	assert.True(t, errors.Is(err, ErrConfiguration))
	assert.Equal(t, Timeframe(99).String(), "unknown")
}

func TestTimeHelpers(t *testing.T) {
	// Ensure unix times are formatted without an offset suffix.
	assert.Equal(t, UnixToTimestamp(0), "1970-01-01T00:00:00")
	assert.Equal(t, UnixToTimestamp(1767203400), "2025-12-31T17:50:00")

	// Ensure dates and timestamps are parsed as utc.
	ts, err := ParseUTC("2025-12-31")
	assert.NoError(t, err)
	assert.Equal(t, ts.Unix(), int64(1767139200))

	ts, err = ParseUTC("2025-12-31T17:50:00")
	assert.NoError(t, err)
	assert.Equal(t, ts.Unix(), int64(1767203400))

	_, err = ParseUTC("yesterday")
	assert.Error(t, err)

	// Ensure hours combine with dates in utc.
	unix, err := HourOnDate("2025-12-31", "17:50")
	assert.NoError(t, err)
	assert.Equal(t, unix, int64(1767203400))

	_, err = HourOnDate("2025-12-31", "25:00")
	assert.Error(t, err)

	// Ensure lima locale times can be created.
	now, loc, err := LimaTime()
	assert.NoError(t, err)
	assert.Equal(t, now.Location().String(), LimaLocation)
	assert.Equal(t, loc.String(), LimaLocation)
}
