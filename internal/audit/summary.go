package audit

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/creatorscope/audit-cli/internal/model"
)

const summarySystemPrompt = `You write the executive summary of a channel audit for a non-technical stakeholder. Summarize the channel's position, its peer standing, and the top recommended moves in plain language. Respond with a valid JSON object: {"summary": "<2-3 paragraph summary>", "highlights": ["<one-line key finding>", ...]}.`

// SummaryContext is the input to the summary stage: every prior stage's
// output.
type SummaryContext struct {
	Channel         model.ChannelRef
	Metrics         model.ChannelMetrics
	Series          []ContentSeries
	Benchmarks      model.BenchmarkResult
	Opportunities   []Opportunity
	Recommendations []Recommendation
}

// SummaryResult is the summary stage output.
type SummaryResult struct {
	Summary    string   `json:"summary"`
	Highlights []string `json:"highlights,omitempty"`
	Structured bool     `json:"structured"`
}

func (r *Runner) summaryStage(ctx context.Context, sc SummaryContext) (*SummaryResult, model.CostTotals, error) {
	prompt := buildSummaryPrompt(sc)

	text, delta, err := r.generate(ctx, summarySystemPrompt, prompt)
	if err != nil {
		return nil, delta, err
	}

	parsed := ParseStructured(text, func() summaryPayload {
		return summaryPayload{Summary: fallbackSummary(sc)}
	})
	if !parsed.Structured {
		zap.L().Warn("summary: unstructured provider response, using assembled summary",
			zap.String("channel_id", sc.Channel.ID),
		)
	}

	return &SummaryResult{
		Summary:    parsed.Value.Summary,
		Highlights: parsed.Value.Highlights,
		Structured: parsed.Structured,
	}, delta, nil
}

type summaryPayload struct {
	Summary    string   `json:"summary"`
	Highlights []string `json:"highlights"`
}

func buildSummaryPrompt(sc SummaryContext) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Channel: %s (%d subscribers)\n", sc.Channel.Title, sc.Channel.Subscribers)
	fmt.Fprintf(&sb, "Metrics: %d videos in %d days, median views %.0f, engagement %.4f, %.2f uploads/week\n",
		sc.Metrics.VideoCount, sc.Metrics.WindowDays, sc.Metrics.MedianViews,
		sc.Metrics.EngagementRate, sc.Metrics.UploadsPerWeek)
	fmt.Fprintf(&sb, "Content series detected: %d\n", len(sc.Series))

	if sc.Benchmarks.HasBenchmarks {
		fmt.Fprintf(&sb, "Peer standing (%s tier, %d peers):\n", sc.Benchmarks.Tier, sc.Benchmarks.PeerCount)
		for _, m := range sc.Benchmarks.Comparison.Metrics {
			fmt.Fprintf(&sb, "- %s: %s peers (ratio %.2f)\n", m.Metric, m.Status, m.Ratio)
		}
		if sc.Benchmarks.Comparison.OverallScore != nil {
			fmt.Fprintf(&sb, "Overall score: %.2f\n", *sc.Benchmarks.Comparison.OverallScore)
		}
	} else {
		fmt.Fprintf(&sb, "No peer benchmarks: %s\n", sc.Benchmarks.Reason)
	}

	sb.WriteString("\nOpportunities:\n")
	for _, o := range sc.Opportunities {
		fmt.Fprintf(&sb, "- [%s] %s\n", o.Impact, o.Title)
	}
	sb.WriteString("\nRecommendations:\n")
	for _, rec := range sc.Recommendations {
		fmt.Fprintf(&sb, "- [%s] %s: %s\n", rec.Priority, rec.Opportunity, strings.Join(rec.Actions, "; "))
	}

	return sb.String()
}

// fallbackSummary assembles a plain-text summary when the provider
// response is unstructured.
func fallbackSummary(sc SummaryContext) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "%s published %d videos in the last %d days with a median of %.0f views per upload. ",
		sc.Channel.Title, sc.Metrics.VideoCount, sc.Metrics.WindowDays, sc.Metrics.MedianViews)

	if sc.Benchmarks.HasBenchmarks {
		if sc.Benchmarks.Comparison.OverallScore != nil {
			fmt.Fprintf(&sb, "Against %d peers in the %s tier the channel scores %.2f overall. ",
				sc.Benchmarks.PeerCount, sc.Benchmarks.Tier, *sc.Benchmarks.Comparison.OverallScore)
		}
	} else {
		sb.WriteString("No peer benchmarks were available for this run. ")
	}

	fmt.Fprintf(&sb, "The audit identified %d opportunities and %d recommendations.",
		len(sc.Opportunities), len(sc.Recommendations))

	return sb.String()
}
