package indicator

import (
	"github.com/dnldd/boxbreak/shared"
	"github.com/shopspring/decimal"
)

// hundred is the percentage scale.
var hundred = decimal.NewFromInt(100)

// Box derives the high, low and amplitude of the candles with times within [from, to].
// All values are nil when no candles fall in the window, the amplitude is nil when the low
// is zero.
func Box(candles shared.Series, from int64, to int64) *shared.BoxWindow {
	box := &shared.BoxWindow{Start: from, End: to}

	window := candles.Slice(from, to)
	if len(window) == 0 {
		return box
	}

	high := window[0].High
	low := window[0].Low
	for idx := range window[1:] {
		high = max(high, window[idx+1].High)
		low = min(low, window[idx+1].Low)
	}

	box.High = &high
	box.Low = &low

	dh := decimal.NewFromFloat(high)
	dl := decimal.NewFromFloat(low)

	mid := dh.Add(dl).Div(decimal.NewFromInt(2)).Round(2).InexactFloat64()
	box.Mid = &mid

	if low == 0 {
		return box
	}

	amplitude := dh.Sub(dl).Div(dl).Mul(hundred).Round(2).InexactFloat64()
	box.Amplitude = &amplitude

	return box
}

// ExceedsAmplitude checks whether the box amplitude is defined and strictly above the threshold
// percentage.
func ExceedsAmplitude(box *shared.BoxWindow, threshold float64) bool {
	return box != nil && box.Amplitude != nil && *box.Amplitude > threshold
}
