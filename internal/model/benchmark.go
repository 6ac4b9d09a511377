package model

// TierName labels a subscriber-count bucket.
type TierName string

const (
	TierEmerging    TierName = "emerging"
	TierGrowing     TierName = "growing"
	TierEstablished TierName = "established"
	TierMajor       TierName = "major"
	TierElite       TierName = "elite"
)

// Tier is a named subscriber-count bucket with a half-open [Min, Max)
// range. Max of 0 means unbounded.
type Tier struct {
	Name TierName `json:"name"`
	Min  int64    `json:"min"`
	Max  int64    `json:"max,omitempty"`
}

// Contains reports whether the subscriber count falls in [Min, Max).
func (t Tier) Contains(subscribers int64) bool {
	if subscribers < t.Min {
		return false
	}
	return t.Max == 0 || subscribers < t.Max
}

// TierSpan is the contiguous subscriber range covered by a widened set
// of tiers, used to query the data source for peer candidates.
type TierSpan struct {
	Min int64 `json:"min"`
	Max int64 `json:"max,omitempty"` // 0 = unbounded
}

// PeerFilters narrows peer candidate queries.
type PeerFilters struct {
	Category string `json:"category,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// Distribution is a percentile summary of one metric over a peer set.
type Distribution struct {
	Median     float64 `json:"median"`
	P25        float64 `json:"p25"`
	P75        float64 `json:"p75"`
	SampleSize int     `json:"sample_size"`
}

// ComparisonStatus labels how a channel metric sits against the peer
// median.
type ComparisonStatus string

const (
	ComparisonAbove ComparisonStatus = "above"
	ComparisonAt    ComparisonStatus = "at"
	ComparisonBelow ComparisonStatus = "below"
)

// MetricComparison compares one channel metric against the peer median.
type MetricComparison struct {
	Metric       string           `json:"metric"`
	ChannelValue float64          `json:"channel_value"`
	PeerMedian   float64          `json:"peer_median"`
	Ratio        float64          `json:"ratio"`
	Status       ComparisonStatus `json:"status"`
}

// ComparisonResult is the per-metric comparison plus an aggregate score.
// OverallScore is nil when no metric was comparable.
type ComparisonResult struct {
	Metrics      []MetricComparison `json:"metrics"`
	OverallScore *float64           `json:"overall_score"`
}

// BenchmarkResult holds peer distribution summaries for one audit run.
// When no peers were found, HasBenchmarks is false and Reason explains
// why; downstream stages must treat that as a valid outcome.
type BenchmarkResult struct {
	HasBenchmarks bool     `json:"has_benchmarks"`
	Reason        string   `json:"reason,omitempty"`
	Tier          TierName `json:"tier"`
	PeerCount     int      `json:"peer_count"`

	ViewsOverall   Distribution `json:"views_overall"`
	ViewsShortForm Distribution `json:"views_short_form"`
	ViewsLongForm  Distribution `json:"views_long_form"`
	Engagement     Distribution `json:"engagement"`
	UploadsPerWeek Distribution `json:"uploads_per_week"`

	Comparison ComparisonResult `json:"comparison"`
}
