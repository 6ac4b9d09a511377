// Package stats holds the pure statistical primitives behind the
// benchmarking engine: nearest-rank percentiles, subscriber tier
// classification, and peer-set widening. No I/O.
package stats

import (
	"math"
	"sort"

	"github.com/creatorscope/audit-cli/internal/model"
)

// Tiers is the canonical subscriber bucket table. Ranges are half-open
// [Min, Max), contiguous, and cover [0, inf) with the last unbounded.
var Tiers = []model.Tier{
	{Name: model.TierEmerging, Min: 0, Max: 10_000},
	{Name: model.TierGrowing, Min: 10_000, Max: 100_000},
	{Name: model.TierEstablished, Min: 100_000, Max: 1_000_000},
	{Name: model.TierMajor, Min: 1_000_000, Max: 10_000_000},
	{Name: model.TierElite, Min: 10_000_000, Max: 0},
}

// ClassifyTier returns the tier whose range contains the subscriber
// count. Total over non-negative counts; negative counts classify as
// the lowest tier.
func ClassifyTier(subscribers int64) model.TierName {
	for _, t := range Tiers {
		if t.Contains(subscribers) {
			return t.Name
		}
	}
	return Tiers[0].Name
}

// WidenTiers returns the tier itself plus its immediate lower and upper
// neighbors, omitting neighbors that do not exist at the boundaries.
// Widening keeps peer sets from collapsing for channels near a tier
// edge.
func WidenTiers(name model.TierName) []model.TierName {
	idx := tierIndex(name)
	if idx < 0 {
		return []model.TierName{name}
	}

	var out []model.TierName
	if idx > 0 {
		out = append(out, Tiers[idx-1].Name)
	}
	out = append(out, Tiers[idx].Name)
	if idx < len(Tiers)-1 {
		out = append(out, Tiers[idx+1].Name)
	}
	return out
}

// SpanFor returns the contiguous subscriber range covered by the
// widened tier set for name.
func SpanFor(name model.TierName) model.TierSpan {
	widened := WidenTiers(name)
	first := tierIndex(widened[0])
	last := tierIndex(widened[len(widened)-1])
	return model.TierSpan{
		Min: Tiers[first].Min,
		Max: Tiers[last].Max,
	}
}

func tierIndex(name model.TierName) int {
	for i, t := range Tiers {
		if t.Name == name {
			return i
		}
	}
	return -1
}

// Percentile computes the p-th percentile of a sorted ascending slice
// using the nearest-rank method: index = ceil(p/100 * n) - 1, clamped
// to [0, n-1]. Returns 0 for an empty slice.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}

	idx := int(math.Ceil(p/100*float64(n))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx > n-1 {
		idx = n - 1
	}
	return sorted[idx]
}

// Summarize sorts values in place and returns the median/p25/p75
// distribution summary.
func Summarize(values []float64) model.Distribution {
	sort.Float64s(values)
	return model.Distribution{
		Median:     Percentile(values, 50),
		P25:        Percentile(values, 25),
		P75:        Percentile(values, 75),
		SampleSize: len(values),
	}
}

// Mean returns the arithmetic mean, or 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
