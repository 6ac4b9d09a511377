package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creatorscope/audit-cli/internal/model"
)

func TestClassifyTier_Boundaries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		subscribers int64
		want        model.TierName
	}{
		{0, model.TierEmerging},
		{9_999, model.TierEmerging},
		{10_000, model.TierGrowing},
		{99_999, model.TierGrowing},
		{100_000, model.TierEstablished},
		{999_999, model.TierEstablished},
		{1_000_000, model.TierMajor},
		{9_999_999, model.TierMajor},
		{10_000_000, model.TierElite},
		{500_000_000, model.TierElite},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(string(tt.want), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ClassifyTier(tt.subscribers))
		})
	}
}

func TestTiers_ContiguousAndTotal(t *testing.T) {
	t.Parallel()

	// Ranges must tile [0, inf): each tier starts where the previous
	// ended, the first starts at 0, the last is unbounded.
	require.NotEmpty(t, Tiers)
	assert.Equal(t, int64(0), Tiers[0].Min)
	assert.Equal(t, int64(0), Tiers[len(Tiers)-1].Max)

	for i := 1; i < len(Tiers); i++ {
		assert.Equal(t, Tiers[i-1].Max, Tiers[i].Min, "gap or overlap between %s and %s", Tiers[i-1].Name, Tiers[i].Name)
	}

	// Exactly one tier matches any probe value, including boundaries.
	probes := []int64{0, 1, 9_999, 10_000, 99_999, 100_000, 999_999, 1_000_000, 9_999_999, 10_000_000, 1 << 40}
	for _, p := range probes {
		matches := 0
		for _, tier := range Tiers {
			if tier.Contains(p) {
				matches++
			}
		}
		assert.Equal(t, 1, matches, "probe %d", p)
	}
}

func TestWidenTiers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name model.TierName
		want []model.TierName
	}{
		{model.TierEmerging, []model.TierName{model.TierEmerging, model.TierGrowing}},
		{model.TierGrowing, []model.TierName{model.TierEmerging, model.TierGrowing, model.TierEstablished}},
		{model.TierEstablished, []model.TierName{model.TierGrowing, model.TierEstablished, model.TierMajor}},
		{model.TierMajor, []model.TierName{model.TierEstablished, model.TierMajor, model.TierElite}},
		{model.TierElite, []model.TierName{model.TierMajor, model.TierElite}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(string(tt.name), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, WidenTiers(tt.name))
		})
	}
}

func TestWidenTiers_UnknownTier(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []model.TierName{"bogus"}, WidenTiers("bogus"))
}

func TestSpanFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name model.TierName
		want model.TierSpan
	}{
		{model.TierEmerging, model.TierSpan{Min: 0, Max: 100_000}},
		{model.TierEstablished, model.TierSpan{Min: 10_000, Max: 10_000_000}},
		{model.TierElite, model.TierSpan{Min: 1_000_000, Max: 0}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(string(tt.name), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, SpanFor(tt.name))
		})
	}
}

func TestPercentile(t *testing.T) {
	t.Parallel()

	sorted := []float64{10, 20, 30, 40, 50}

	tests := []struct {
		name   string
		values []float64
		p      float64
		want   float64
	}{
		{"p50 of five", sorted, 50, 30},
		{"p25 of five", sorted, 25, 20},
		{"p75 of five", sorted, 75, 40},
		{"p100 of five", sorted, 100, 50},
		{"p0 clamps to first", sorted, 0, 10},
		{"empty", nil, 50, 0},
		{"single p10", []float64{5}, 10, 5},
		{"single p50", []float64{5}, 50, 5},
		{"single p99", []float64{5}, 99, 5},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Percentile(tt.values, tt.p))
		})
	}
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	d := Summarize([]float64{50, 10, 40, 20, 30})
	assert.Equal(t, model.Distribution{Median: 30, P25: 20, P75: 40, SampleSize: 5}, d)

	empty := Summarize(nil)
	assert.Equal(t, model.Distribution{}, empty)
}

func TestMean(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0.0, Mean(nil))
	assert.Equal(t, 2.0, Mean([]float64{1, 2, 3}))
	assert.InDelta(t, 1.1, Mean([]float64{0.7, 1.5}), 1e-9)
}
