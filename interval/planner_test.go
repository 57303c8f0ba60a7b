package interval

import (
	"testing"

	"github.com/dnldd/boxbreak/shared"
	"github.com/peterldowns/testy/assert"
)

func TestTile(t *testing.T) {
	// Ensure chunks fully tile the range with no gaps or overlaps.
	var chunks []Chunk
	for chunk := range tile(0, 3000, 60*10) {
		chunks = append(chunks, chunk)
	}

	assert.Equal(t, len(chunks), 5)
	assert.Equal(t, chunks[0].Start, int64(0))
	assert.Equal(t, chunks[len(chunks)-1].End, int64(3000))
	for idx := range chunks {
		assert.LessThanOrEqual(t, chunks[idx].Span(), int64(600))
		assert.GreaterThan(t, chunks[idx].Span(), int64(0))
		if idx > 0 {
			assert.Equal(t, chunks[idx].Start, chunks[idx-1].End)
		}
	}

	// Ensure a trailing partial chunk is clamped to the range end.
	chunks = chunks[:0]
	for chunk := range tile(0, 1000, 600) {
		chunks = append(chunks, chunk)
	}
	assert.Equal(t, len(chunks), 2)
	assert.Equal(t, chunks[1], Chunk{Start: 600, End: 1000})

	// Ensure a non-positive block produces nothing.
	for range tile(0, 1000, 0) {
		t.Fatal("expected no chunks for a zero block")
	}
}

func TestPlan(t *testing.T) {
	// Ensure the unix epoch range (a thursday) is planned unfiltered.
	chunks := Collect(0, 3000, 60, 10)
	assert.Equal(t, len(chunks), 5)
	assert.Equal(t, chunks[0].From(), "1970-01-01T00:00:00")
	assert.Equal(t, chunks[0].To(), "1970-01-01T00:10:00")

	// Ensure an empty or inverted range plans nothing.
	assert.Equal(t, len(Collect(3000, 3000, 60, 10)), 0)
	assert.Equal(t, len(Collect(3000, 0, 60, 10)), 0)

	// Ensure chunks entirely within a weekend are dropped.
	saturday, err := shared.ParseUTC("2025-01-04T00:00:00")
	assert.NoError(t, err)
	sunday, err := shared.ParseUTC("2025-01-05T12:00:00")
	assert.NoError(t, err)
	assert.Equal(t, len(Collect(saturday.Unix(), sunday.Unix(), 3600, 6)), 0)

	// Ensure chunks with a single weekday endpoint are kept.
	friday, err := shared.ParseUTC("2025-01-03T22:00:00")
	assert.NoError(t, err)
	chunks = Collect(friday.Unix(), friday.Unix()+4*3600, 3600, 1)
	assert.Equal(t, len(chunks), 2)
	assert.Equal(t, chunks[0].From(), "2025-01-03T22:00:00")
	assert.Equal(t, chunks[1].From(), "2025-01-03T23:00:00")
	assert.Equal(t, chunks[1].To(), "2025-01-04T00:00:00")

	// Ensure the planned sequence is restartable.
	seq := Plan(0, 3000, 60, 10)
	var first, second int
	for range seq {
		first++
	}
	for range seq {
		second++
	}
	assert.Equal(t, first, second)

	// Ensure early termination is honoured.
	var seen int
	for range seq {
		seen++
		if seen == 2 {
			break
		}
	}
	assert.Equal(t, seen, 2)
}
