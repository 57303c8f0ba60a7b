package interval

import (
	"iter"
	"time"

	"github.com/dnldd/boxbreak/shared"
)

// Chunk represents a single bounded price request window in unix seconds.
type Chunk struct {
	Start int64
	End   int64
}

// From returns the chunk start as a utc timestamp without an offset suffix.
func (c Chunk) From() string {
	return shared.UnixToTimestamp(c.Start)
}

// To returns the chunk end as a utc timestamp without an offset suffix.
func (c Chunk) To() string {
	return shared.UnixToTimestamp(c.End)
}

// Span returns the number of seconds covered by the chunk.
func (c Chunk) Span() int64 {
	return c.End - c.Start
}

// isWeekday checks whether the provided unix time falls between monday and friday in utc.
func isWeekday(ts int64) bool {
	switch time.Unix(ts, 0).UTC().Weekday() {
	case time.Saturday, time.Sunday:
		return false
	default:
		return true
	}
}

// tile splits [start, end) into consecutive chunks spanning at most block seconds each.
func tile(start int64, end int64, block int64) iter.Seq[Chunk] {
	return func(yield func(Chunk) bool) {
		if block <= 0 {
			return
		}

		for from := start; from < end; {
			to := min(from+block, end)
			if !yield(Chunk{Start: from, End: to}) {
				return
			}

			from = to
		}
	}
}

// Plan splits [start, end) into request chunks spanning at most maxRows buckets of bucketSeconds
// each. Chunks are dropped when neither endpoint lands on a weekday.
//
// The returned sequence is lazy and can be ranged over repeatedly.
func Plan(start int64, end int64, bucketSeconds int64, maxRows int) iter.Seq[Chunk] {
	return func(yield func(Chunk) bool) {
		for chunk := range tile(start, end, bucketSeconds*int64(maxRows)) {
			if !isWeekday(chunk.Start) && !isWeekday(chunk.End) {
				continue
			}

			if !yield(chunk) {
				return
			}
		}
	}
}

// Collect gathers the planned chunks into a slice.
func Collect(start int64, end int64, bucketSeconds int64, maxRows int) []Chunk {
	chunks := make([]Chunk, 0)
	for chunk := range Plan(start, end, bucketSeconds, maxRows) {
		chunks = append(chunks, chunk)
	}

	return chunks
}
