package shared

// ExtremumKind represents the kind of a local oscillator extremum.
type ExtremumKind int

const (
	Peak ExtremumKind = iota
	Valley
)

// String stringifies the provided extremum kind.
func (k ExtremumKind) String() string {
	switch k {
	case Peak:
		return "peak"
	case Valley:
		return "valley"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k ExtremumKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// RSIPoint is a local extremum of the momentum oscillator tagged with its originating candle.
type RSIPoint struct {
	Time  int64        `json:"time"`
	Close float64      `json:"close"`
	RSI   float64      `json:"rsi"`
	Kind  ExtremumKind `json:"type"`
}

// RSIResult is the momentum oscillator feature.
type RSIResult struct {
	// Last is the latest oscillator value, nil when the series is too short.
	Last *float64 `json:"last"`
	// Points are the local extrema of the oscillator.
	Points []RSIPoint `json:"points"`
}

// BoxWindow is the reference range of a fixed intraday hour window.
type BoxWindow struct {
	Symbol string `json:"symbol,omitempty"`
	// High, Low and Amplitude are nil when no candles fall within the window. Amplitude is
	// also nil when low is zero.
	High      *float64 `json:"high"`
	Low       *float64 `json:"low"`
	Amplitude *float64 `json:"amp_pct"`
	Mid       *float64 `json:"mid,omitempty"`
	HourRange string   `json:"hour_range,omitempty"`
	Start     int64    `json:"start"`
	End       int64    `json:"end"`
	// Reference is the same window evaluated on the secondary price feed.
	Reference *BoxWindow `json:"reference,omitempty"`
}

// Bounded checks whether both the high and low of the box are defined.
func (b *BoxWindow) Bounded() bool {
	return b != nil && b.High != nil && b.Low != nil
}

// ProfilePeak is a high volume node of a volume profile.
type ProfilePeak struct {
	Price  float64 `json:"price"`
	Volume float64 `json:"volume"`
}

// VolumeProfile is the volume-at-price distribution summary of a series snapshot.
type VolumeProfile struct {
	POC           float64       `json:"poc"`
	ValueAreaLow  float64       `json:"val"`
	ValueAreaHigh float64       `json:"vah"`
	TotalVolume   float64       `json:"total_volume"`
	Peaks         []ProfilePeak `json:"peaks"`
}

// Record is the per-symbol result handed to downstream decision logic.
type Record struct {
	Symbol        string          `json:"symbol"`
	Timeframe     string          `json:"timeframe"`
	LastTime      int64           `json:"last_ts"`
	RSI           RSIResult       `json:"rsi"`
	Box           BoxWindow       `json:"box"`
	VolumeProfile *VolumeProfile  `json:"vp"`
	Breakout      *BreakoutSignal `json:"breakout_signal"`
}
