package shared

// BreakoutState represents the side of the box a close broke out of.
type BreakoutState int

const (
	Above BreakoutState = iota
	Below
)

// String stringifies the provided breakout state.
func (s BreakoutState) String() string {
	switch s {
	case Above:
		return "ABOVE"
	case Below:
		return "BELOW"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s BreakoutState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// BreakoutSignal represents a close strictly outside the bounds of a box window.
type BreakoutSignal struct {
	State       BreakoutState `json:"breakout_state"`
	CandleClose float64       `json:"candle_close"`
	SignalTime  int64         `json:"signal_time"`
}

// CheckBreakout scans the provided candles in time order and returns a signal for the first close
// strictly above high or strictly below low.
func CheckBreakout(candles Series, high float64, low float64) *BreakoutSignal {
	for idx := range candles {
		candle := candles[idx]
		switch {
		case candle.Close > high:
			return &BreakoutSignal{State: Above, CandleClose: candle.Close, SignalTime: candle.Time}
		case candle.Close < low:
			return &BreakoutSignal{State: Below, CandleClose: candle.Close, SignalTime: candle.Time}
		}
	}

	return nil
}
