package cache

// Gap represents an inclusive unix time range absent from a cache record.
type Gap struct {
	From int64
	To   int64
}

// Gaps computes the ranges of [start, end] not covered by cached rows spanning
// [cachedMin, cachedMax]. There is at most a leading and a trailing gap.
func Gaps(cachedMin int64, cachedMax int64, start int64, end int64) []Gap {
	gaps := make([]Gap, 0, 2)
	if cachedMin > start {
		gaps = append(gaps, Gap{From: start, To: cachedMin - 1})
	}
	if cachedMax < end {
		gaps = append(gaps, Gap{From: cachedMax + 1, To: end})
	}

	return gaps
}
