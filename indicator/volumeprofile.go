package indicator

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"

	"github.com/dnldd/boxbreak/shared"
)

// ProfileConfig represents the volume profile parameters.
type ProfileConfig struct {
	// Bins is the number of price bins.
	Bins int
	// BodyWeight is the share of a candle's volume assigned to its body.
	BodyWeight float64
	// ValueAreaPct is the share of total volume covered by the value area.
	ValueAreaPct float64
	// SmoothWindow is the moving average window used for peak detection.
	SmoothWindow int
	// PeakQuantile is the quantile of positive smoothed volume a peak must reach.
	PeakQuantile float64
	// MinPeakSeparation is the minimum distance in bins between kept peaks.
	MinPeakSeparation int
}

// DefaultProfileConfig returns the default volume profile parameters.
func DefaultProfileConfig() ProfileConfig {
	return ProfileConfig{
		Bins:              1000,
		BodyWeight:        0.70,
		ValueAreaPct:      0.70,
		SmoothWindow:      7,
		PeakQuantile:      0.85,
		MinPeakSeparation: 15,
	}
}

// Validate asserts the config sane inputs.
func (cfg *ProfileConfig) Validate() error {
	var errs error
	if cfg.Bins < 1 {
		errs = errors.Join(errs, fmt.Errorf("bins must be positive, got %d", cfg.Bins))
	}
	if cfg.BodyWeight < 0 || cfg.BodyWeight > 1 {
		errs = errors.Join(errs, fmt.Errorf("body weight must be within [0, 1], got %f", cfg.BodyWeight))
	}
	if cfg.ValueAreaPct <= 0 || cfg.ValueAreaPct > 1 {
		errs = errors.Join(errs, fmt.Errorf("value area pct must be within (0, 1], got %f", cfg.ValueAreaPct))
	}
	if cfg.SmoothWindow < 1 {
		errs = errors.Join(errs, fmt.Errorf("smooth window must be positive, got %d", cfg.SmoothWindow))
	}
	if cfg.PeakQuantile < 0 || cfg.PeakQuantile > 1 {
		errs = errors.Join(errs, fmt.Errorf("peak quantile must be within [0, 1], got %f", cfg.PeakQuantile))
	}
	if cfg.MinPeakSeparation < 0 {
		errs = errors.Join(errs, fmt.Errorf("min peak separation cannot be negative, got %d", cfg.MinPeakSeparation))
	}

	return errs
}

// Histogram is a volume-at-price distribution over evenly spaced price bins.
type Histogram struct {
	// Edges are the bin boundaries, len(Volumes)+1 of them.
	Edges []float64
	// Centers are the bin midpoints.
	Centers []float64
	// Volumes are the accumulated bin volumes.
	Volumes []float64
}

// Total returns the total volume of the histogram.
func (h *Histogram) Total() float64 {
	var total float64
	for _, v := range h.Volumes {
		total += v
	}

	return total
}

// searchLeft returns the first index i with edges[i] >= v.
func searchLeft(edges []float64, v float64) int {
	return sort.SearchFloat64s(edges, v)
}

// binOf returns the bin containing the provided price.
func (h *Histogram) binOf(price float64) int {
	idx := sort.Search(len(h.Edges), func(i int) bool { return h.Edges[i] > price }) - 1
	return min(max(idx, 0), len(h.Volumes)-1)
}

// addSegment spreads the volume uniformly over the bins spanned by [lo, hi]. Zero length
// segments deposit into the single bin containing the price.
func (h *Histogram) addSegment(lo float64, hi float64, volume float64) {
	if volume <= 0 || hi < lo {
		return
	}

	if hi == lo {
		h.Volumes[h.binOf(lo)] += volume
		return
	}

	n := len(h.Volumes)
	i0 := max(0, searchLeft(h.Edges, lo)-1)
	i1 := min(n, searchLeft(h.Edges, hi))
	span := i1 - i0
	if span <= 0 {
		h.Volumes[h.binOf(lo)] += volume
		return
	}

	share := volume / float64(span)
	for i := i0; i < i1; i++ {
		h.Volumes[i] += share
	}
}

// BuildHistogram distributes the volume of every candle across a price histogram spanning the
// series' range. The body receives the body weight of a candle's volume and the wicks share the
// rest in proportion to their lengths, a candle without wicks assigns it all to its body.
// Zero volume candles are skipped. Degenerate series yield no histogram.
func BuildHistogram(candles shared.Series, bins int, bodyWeight float64) *Histogram {
	if len(candles) == 0 || bins < 1 {
		return nil
	}

	pmin, pmax := math.Inf(1), math.Inf(-1)
	for idx := range candles {
		pmin = min(pmin, candles[idx].Low)
		pmax = max(pmax, candles[idx].High)
	}
	if math.IsNaN(pmin) || math.IsNaN(pmax) || math.IsInf(pmin, 0) || math.IsInf(pmax, 0) || pmax <= pmin {
		return nil
	}

	h := &Histogram{
		Edges:   make([]float64, bins+1),
		Centers: make([]float64, bins),
		Volumes: make([]float64, bins),
	}

	step := (pmax - pmin) / float64(bins)
	for i := range h.Edges {
		h.Edges[i] = pmin + float64(i)*step
	}
	h.Edges[bins] = pmax
	for i := range h.Centers {
		h.Centers[i] = (h.Edges[i] + h.Edges[i+1]) / 2
	}

	wickWeight := 1 - bodyWeight
	for idx := range candles {
		c := candles[idx]
		if c.Volume <= 0 {
			continue
		}

		bodyLo, bodyHi := min(c.Open, c.Close), max(c.Open, c.Close)
		up := max(0, c.High-bodyHi)
		dn := max(0, bodyLo-c.Low)
		wicks := up + dn

		if wicks <= 0 {
			h.addSegment(bodyLo, bodyHi, c.Volume)
			continue
		}

		h.addSegment(bodyLo, bodyHi, c.Volume*bodyWeight)
		h.addSegment(bodyHi, c.High, c.Volume*wickWeight*(up/wicks))
		h.addSegment(c.Low, bodyLo, c.Volume*wickWeight*(dn/wicks))
	}

	return h
}

// ValueArea returns the point of control bin along with the lowest and highest bins of the
// value area. The area grows from the point of control towards whichever neighbour holds more
// volume, to the right on ties, until it covers pct of the total volume or spans the histogram.
func (h *Histogram) ValueArea(pct float64) (int, int, int, bool) {
	total := h.Total()
	if total <= 0 {
		return 0, 0, 0, false
	}

	poc := 0
	for i := range h.Volumes {
		if h.Volumes[i] > h.Volumes[poc] {
			poc = i
		}
	}

	target := total * pct
	last := len(h.Volumes) - 1
	lo, hi := poc, poc
	acc := h.Volumes[poc]

	for acc < target && (lo > 0 || hi < last) {
		left, right := -1.0, -1.0
		if lo > 0 {
			left = h.Volumes[lo-1]
		}
		if hi < last {
			right = h.Volumes[hi+1]
		}

		if right >= left {
			hi++
			acc += h.Volumes[hi]
		} else {
			lo--
			acc += h.Volumes[lo]
		}
	}

	return poc, lo, hi, true
}

// smooth applies a centered moving average of the provided window, zero padded at the edges.
func smooth(values []float64, window int) []float64 {
	if window <= 1 {
		return slices.Clone(values)
	}

	before := window - 1 - (window-1)/2
	after := (window - 1) / 2
	out := make([]float64, len(values))
	for i := range values {
		var sum float64
		for j := max(0, i-before); j <= min(len(values)-1, i+after); j++ {
			sum += values[j]
		}
		out[i] = sum / float64(window)
	}

	return out
}

// quantile returns the linearly interpolated q quantile of the provided values.
func quantile(values []float64, q float64) float64 {
	sorted := slices.Clone(values)
	slices.Sort(sorted)

	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := min(lo+1, len(sorted)-1)
	frac := pos - float64(lo)

	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// Peaks detects the high volume nodes of the histogram. The volumes are smoothed, strict local
// maxima at or above the quantile of positive smoothed volume become candidates, and candidates
// are kept greedily by descending volume unless within minSep bins of a kept peak. Peaks are
// returned in ascending price order.
func (h *Histogram) Peaks(window int, q float64, minSep int) []shared.ProfilePeak {
	peaks := make([]shared.ProfilePeak, 0)
	if h.Total() <= 0 {
		return peaks
	}

	smoothed := smooth(h.Volumes, window)

	positive := make([]float64, 0, len(smoothed))
	for _, v := range smoothed {
		if v > 0 {
			positive = append(positive, v)
		}
	}
	var threshold float64
	if len(positive) > 0 {
		threshold = quantile(positive, q)
	}

	candidates := make([]int, 0)
	for i := 1; i < len(smoothed)-1; i++ {
		if smoothed[i] > smoothed[i-1] && smoothed[i] > smoothed[i+1] && smoothed[i] >= threshold {
			candidates = append(candidates, i)
		}
	}

	slices.SortStableFunc(candidates, func(a, b int) int {
		switch {
		case smoothed[a] > smoothed[b]:
			return -1
		case smoothed[a] < smoothed[b]:
			return 1
		default:
			return 0
		}
	})

	chosen := make([]int, 0, len(candidates))
	for _, i := range candidates {
		separated := true
		for _, j := range chosen {
			if abs(i-j) < minSep {
				separated = false
				break
			}
		}
		if separated {
			chosen = append(chosen, i)
		}
	}

	slices.Sort(chosen)
	for _, i := range chosen {
		peaks = append(peaks, shared.ProfilePeak{Price: h.Centers[i], Volume: smoothed[i]})
	}

	return peaks
}

// abs returns the absolute value of the provided integer.
func abs(v int) int {
	if v < 0 {
		return -v
	}

	return v
}

// Profile computes the volume profile of the candles at or after the provided start time.
// It returns nil when no candles remain or the series is degenerate.
func Profile(candles shared.Series, start int64, cfg ProfileConfig) (*shared.VolumeProfile, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating profile config: %w", err)
	}

	window := candles.From(start)
	if len(window) == 0 {
		return nil, nil
	}

	h := BuildHistogram(window, cfg.Bins, cfg.BodyWeight)
	if h == nil {
		return nil, nil
	}

	poc, lo, hi, ok := h.ValueArea(cfg.ValueAreaPct)
	if !ok {
		return nil, nil
	}

	return &shared.VolumeProfile{
		POC:           h.Centers[poc],
		ValueAreaLow:  h.Centers[lo],
		ValueAreaHigh: h.Centers[hi],
		TotalVolume:   h.Total(),
		Peaks:         h.Peaks(cfg.SmoothWindow, cfg.PeakQuantile, cfg.MinPeakSeparation),
	}, nil
}
