package shared

import (
	"fmt"
	"slices"
)

// Candle represents a unit OHLCV bar for a fixed time bucket.
type Candle struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// Validate asserts the candle's price and volume invariants.
func (c *Candle) Validate() error {
	switch {
	case c.Low > c.High:
		return fmt.Errorf("candle %d: low %f above high %f", c.Time, c.Low, c.High)
	case c.Open < c.Low || c.Open > c.High:
		return fmt.Errorf("candle %d: open %f outside [%f, %f]", c.Time, c.Open, c.Low, c.High)
	case c.Close < c.Low || c.Close > c.High:
		return fmt.Errorf("candle %d: close %f outside [%f, %f]", c.Time, c.Close, c.Low, c.High)
	case c.Volume < 0:
		return fmt.Errorf("candle %d: negative volume %f", c.Time, c.Volume)
	}

	return nil
}

// Widen extends the candle's low and high to cover its open and close, reporting whether either
// moved.
func (c *Candle) Widen() bool {
	low := min(c.Low, c.Open, c.Close)
	high := max(c.High, c.Open, c.Close)
	if low == c.Low && high == c.High {
		return false
	}

	c.Low = low
	c.High = high
	return true
}

// Series is a strictly ascending, duplicate free sequence of candles.
//
// A series is owned by whichever component last merged it, readers receive copies.
type Series []Candle

// Merge combines the provided series into a new series sorted ascending by time. Candles sharing
// a timestamp are deduplicated, keeping the first occurrence in argument order.
func Merge(series ...Series) Series {
	var size int
	for idx := range series {
		size += len(series[idx])
	}

	merged := make(Series, 0, size)
	for idx := range series {
		merged = append(merged, series[idx]...)
	}

	slices.SortStableFunc(merged, func(a, b Candle) int {
		switch {
		case a.Time < b.Time:
			return -1
		case a.Time > b.Time:
			return 1
		default:
			return 0
		}
	})

	return slices.CompactFunc(merged, func(a, b Candle) bool {
		return a.Time == b.Time
	})
}

// Clone returns a copy of the series.
func (s Series) Clone() Series {
	clone := make(Series, len(s))
	copy(clone, s)
	return clone
}

// Slice returns a copy of the candles with times within [start, end].
func (s Series) Slice(start int64, end int64) Series {
	lo, _ := slices.BinarySearchFunc(s, start, func(c Candle, t int64) int {
		return compareTime(c.Time, t)
	})
	hi, found := slices.BinarySearchFunc(s, end, func(c Candle, t int64) int {
		return compareTime(c.Time, t)
	})
	if found {
		hi++
	}
	if lo >= hi {
		return Series{}
	}

	return s[lo:hi].Clone()
}

// From returns a copy of the candles at or after the provided time.
func (s Series) From(start int64) Series {
	lo, _ := slices.BinarySearchFunc(s, start, func(c Candle, t int64) int {
		return compareTime(c.Time, t)
	})

	return s[lo:].Clone()
}

// Bounds returns the first and last candle times of the series.
func (s Series) Bounds() (int64, int64, bool) {
	if len(s) == 0 {
		return 0, 0, false
	}

	return s[0].Time, s[len(s)-1].Time, true
}

// Validate asserts the series ordering and the invariants of every candle.
func (s Series) Validate() error {
	for idx := range s {
		if idx > 0 && s[idx].Time <= s[idx-1].Time {
			return fmt.Errorf("series not strictly ascending at index %d (%d <= %d)",
				idx, s[idx].Time, s[idx-1].Time)
		}
		err := s[idx].Validate()
		if err != nil {
			return err
		}
	}

	return nil
}

// compareTime orders unix timestamps.
func compareTime(a int64, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
