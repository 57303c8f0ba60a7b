package indicator

import (
	"fmt"

	"github.com/dnldd/boxbreak/shared"
)

// DefaultRSIPeriod is the default rsi smoothing window.
const DefaultRSIPeriod = 14

// RSI computes the wilder smoothed relative strength index over the closes of the provided
// candles. The returned values align with candles[period:], series shorter than period+1
// yield no values.
func RSI(candles shared.Series, period int) ([]float64, error) {
	if period <= 0 {
		return nil, fmt.Errorf("rsi period must be positive, got %d", period)
	}
	if len(candles) < period+1 {
		return []float64{}, nil
	}

	index := func(avgGain float64, avgLoss float64) float64 {
		switch {
		case avgGain == 0 && avgLoss == 0:
			return 50
		case avgLoss == 0:
			return 100
		}

		rs := avgGain / avgLoss
		return 100 - 100/(1+rs)
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := candles[i].Close - candles[i-1].Close
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	values := make([]float64, 0, len(candles)-period)
	values = append(values, index(avgGain, avgLoss))

	for i := period + 1; i < len(candles); i++ {
		change := candles[i].Close - candles[i-1].Close
		var gain, loss float64
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}

		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		values = append(values, index(avgGain, avgLoss))
	}

	return values, nil
}

// RSIFeatures computes the rsi of the provided candles along with its strict local extrema, each
// tagged with the originating candle's time and close.
func RSIFeatures(candles shared.Series, period int) (*shared.RSIResult, error) {
	values, err := RSI(candles, period)
	if err != nil {
		return nil, err
	}

	result := &shared.RSIResult{Points: make([]shared.RSIPoint, 0)}
	if len(values) == 0 {
		return result, nil
	}

	last := values[len(values)-1]
	result.Last = &last

	for i := 1; i < len(values)-1; i++ {
		var kind shared.ExtremumKind
		switch {
		case values[i] > values[i-1] && values[i] > values[i+1]:
			kind = shared.Peak
		case values[i] < values[i-1] && values[i] < values[i+1]:
			kind = shared.Valley
		default:
			continue
		}

		candle := candles[i+period]
		result.Points = append(result.Points, shared.RSIPoint{
			Time:  candle.Time,
			Close: candle.Close,
			RSI:   values[i],
			Kind:  kind,
		})
	}

	return result, nil
}
