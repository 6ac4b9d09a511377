package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creatorscope/audit-cli/internal/model"
)

func TestComputeChannelMetrics(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	videos := []model.Video{
		{PublishedAt: now.AddDate(0, 0, -5), Views: 1000, Likes: 50, Comments: 10},
		{PublishedAt: now.AddDate(0, 0, -20), Views: 3000, Likes: 90, Comments: 30},
		{PublishedAt: now.AddDate(0, 0, -40), Views: 2000, Likes: 60, Comments: 20},
		{PublishedAt: now.AddDate(0, 0, -200), Views: 99999}, // outside window
	}

	m := computeChannelMetrics(videos, 90)

	assert.Equal(t, 3, m.VideoCount)
	assert.Equal(t, 90, m.WindowDays)
	assert.InDelta(t, 2000.0, m.AvgViews, 1e-9)
	assert.InDelta(t, 2000.0, m.MedianViews, 1e-9)
	// (50+10+90+30+60+20) / (1000+3000+2000)
	assert.InDelta(t, 260.0/6000.0, m.EngagementRate, 1e-9)
	assert.InDelta(t, 3.0/(90.0/7.0), m.UploadsPerWeek, 1e-9)
}

func TestComputeChannelMetrics_Empty(t *testing.T) {
	t.Parallel()

	m := computeChannelMetrics(nil, 90)
	assert.Equal(t, 0, m.VideoCount)
	assert.Zero(t, m.AvgViews)
	assert.Zero(t, m.MedianViews)
	assert.Zero(t, m.EngagementRate)
	assert.Zero(t, m.UploadsPerWeek)
}

func TestSeriesByTitlePrefix(t *testing.T) {
	t.Parallel()

	videos := []model.Video{
		{ID: "v1", Title: "Weekly Q&A: viewer questions"},
		{ID: "v2", Title: "Weekly Q&A: growth special"},
		{ID: "v3", Title: "Tutorial | getting started"},
		{ID: "v4", Title: "Tutorial | advanced setup"},
		{ID: "v5", Title: "One-off vlog"},
		{ID: "v6", Title: "Behind the scenes: studio"}, // singleton prefix
	}

	series := seriesByTitlePrefix(videos)
	require.Len(t, series, 2)
	assert.Equal(t, "Weekly Q&A", series[0].Name)
	assert.Equal(t, []string{"v1", "v2"}, series[0].VideoIDs)
	assert.Equal(t, "Tutorial", series[1].Name)
	assert.Equal(t, []string{"v3", "v4"}, series[1].VideoIDs)
}

func TestTitlePrefix(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Weekly Q&A", titlePrefix("Weekly Q&A: episode 4"))
	assert.Equal(t, "Tutorial", titlePrefix("Tutorial | pipelines"))
	assert.Equal(t, "Deep Dive", titlePrefix("Deep Dive - caching"))
	assert.Equal(t, "", titlePrefix("No separator here"))
	assert.Equal(t, "", titlePrefix(": leading separator"))
}

func TestOpportunitiesFromComparison_BelowMetrics(t *testing.T) {
	t.Parallel()

	sc := OpportunityContext{
		Benchmarks: model.BenchmarkResult{
			HasBenchmarks: true,
			Comparison: model.ComparisonResult{
				Metrics: []model.MetricComparison{
					{Metric: "median_views", ChannelValue: 500, PeerMedian: 1000, Ratio: 0.5, Status: model.ComparisonBelow},
					{Metric: "engagement_rate", ChannelValue: 0.05, PeerMedian: 0.04, Ratio: 1.25, Status: model.ComparisonAbove},
				},
			},
		},
	}

	opportunities := opportunitiesFromComparison(sc)
	require.Len(t, opportunities, 1)
	assert.Contains(t, opportunities[0].Title, "median_views")
	assert.Equal(t, "high", opportunities[0].Impact)
}

func TestOpportunitiesFromComparison_AbsoluteHeuristics(t *testing.T) {
	t.Parallel()

	sc := OpportunityContext{
		Metrics: model.ChannelMetrics{
			VideoCount:     8,
			UploadsPerWeek: 0.5,
			EngagementRate: 0.01,
		},
		Benchmarks: model.BenchmarkResult{HasBenchmarks: false, Reason: "no peers"},
	}

	opportunities := opportunitiesFromComparison(sc)
	require.Len(t, opportunities, 3)
	assert.Contains(t, opportunities[0].Title, "weekly upload cadence")
	assert.Contains(t, opportunities[1].Title, "engagement")
	assert.Contains(t, opportunities[2].Title, "recurring series")
}

func TestRecommendationsFromOpportunities(t *testing.T) {
	t.Parallel()

	recommendations := recommendationsFromOpportunities([]Opportunity{
		{Title: "Post shorts", Impact: "high"},
		{Title: "Collaborate", Impact: "low"},
		{Title: "Unknown impact", Impact: "???"},
	})

	require.Len(t, recommendations, 3)
	assert.Equal(t, "now", recommendations[0].Priority)
	assert.Equal(t, "later", recommendations[1].Priority)
	assert.Equal(t, "next", recommendations[2].Priority)
	assert.NotEmpty(t, recommendations[0].Actions)
}

func TestFallbackSummary(t *testing.T) {
	t.Parallel()

	score := 1.1
	sc := SummaryContext{
		Channel: model.ChannelRef{Title: "Subject"},
		Metrics: model.ChannelMetrics{VideoCount: 12, WindowDays: 90, MedianViews: 2500},
		Benchmarks: model.BenchmarkResult{
			HasBenchmarks: true,
			Tier:          model.TierGrowing,
			PeerCount:     8,
			Comparison:    model.ComparisonResult{OverallScore: &score},
		},
		Opportunities:   []Opportunity{{Title: "a"}},
		Recommendations: []Recommendation{{Opportunity: "a"}},
	}

	summary := fallbackSummary(sc)
	assert.Contains(t, summary, "Subject")
	assert.Contains(t, summary, "12 videos")
	assert.Contains(t, summary, "1.10")
	assert.Contains(t, summary, "1 opportunities")
}

func TestChannelRefForInput(t *testing.T) {
	t.Parallel()

	ref := channelRefForInput("UCabcdefghijklmnopqrstuv")
	assert.Equal(t, "UCabcdefghijklmnopqrstuv", ref.ID)
	assert.Empty(t, ref.Handle)

	ref = channelRefForInput("@mychannel")
	assert.Empty(t, ref.ID)
	assert.Equal(t, "mychannel", ref.Handle)

	ref = channelRefForInput("mychannel")
	assert.Equal(t, "mychannel", ref.Handle)
}

func TestFirstIncompleteStage(t *testing.T) {
	t.Parallel()

	sections := func(completed ...model.Stage) []model.Section {
		done := make(map[model.Stage]bool)
		for _, s := range completed {
			done[s] = true
		}
		var out []model.Section
		for _, stage := range model.StageOrder {
			status := model.SectionStatusPending
			if done[stage] {
				status = model.SectionStatusCompleted
			}
			out = append(out, model.Section{Stage: stage, Status: status})
		}
		return out
	}

	assert.Equal(t, 0, firstIncompleteStage(sections()))
	assert.Equal(t, 1, firstIncompleteStage(sections(model.StageIngestion)))
	assert.Equal(t, 3, firstIncompleteStage(sections(model.StageIngestion, model.StageSeriesDetection, model.StageBenchmarking)))
	assert.Equal(t, len(model.StageOrder), firstIncompleteStage(sections(model.StageOrder...)))
}
