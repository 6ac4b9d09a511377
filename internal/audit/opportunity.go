package audit

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/creatorscope/audit-cli/internal/model"
)

const opportunitySystemPrompt = `You are a channel growth analyst. Given a channel's metrics, its detected content series, and (when available) a comparison against peer channels, identify concrete growth opportunities. Respond with a valid JSON object: {"opportunities": [{"title": "<short title>", "rationale": "<why this matters, citing the data>", "impact": "<high|medium|low>"}]}. Three to five opportunities, highest impact first.`

// Opportunity is one growth opportunity identified for the channel.
type Opportunity struct {
	Title     string `json:"title"`
	Rationale string `json:"rationale"`
	Impact    string `json:"impact"`
}

// OpportunityContext is the input to the opportunity-analysis stage.
type OpportunityContext struct {
	Channel    model.ChannelRef
	Metrics    model.ChannelMetrics
	Series     []ContentSeries
	Benchmarks model.BenchmarkResult
}

// OpportunityResult is the opportunity-analysis stage output.
type OpportunityResult struct {
	Opportunities []Opportunity `json:"opportunities"`
	Structured    bool          `json:"structured"`
}

func (r *Runner) opportunityStage(ctx context.Context, sc OpportunityContext) (*OpportunityResult, model.CostTotals, error) {
	prompt := buildOpportunityPrompt(sc)

	text, delta, err := r.generate(ctx, opportunitySystemPrompt, prompt)
	if err != nil {
		return nil, delta, err
	}

	parsed := ParseStructured(text, func() opportunityPayload {
		return opportunityPayload{Opportunities: opportunitiesFromComparison(sc)}
	})
	if !parsed.Structured {
		zap.L().Warn("opportunities: unstructured provider response, deriving from comparison",
			zap.String("channel_id", sc.Channel.ID),
		)
	}

	opportunities := parsed.Value.Opportunities
	if opportunities == nil {
		opportunities = []Opportunity{}
	}
	return &OpportunityResult{Opportunities: opportunities, Structured: parsed.Structured}, delta, nil
}

type opportunityPayload struct {
	Opportunities []Opportunity `json:"opportunities"`
}

// buildOpportunityPrompt renders the stage inputs. Without benchmarks
// the prompt asks for absolute heuristics instead of peer-relative ones.
func buildOpportunityPrompt(sc OpportunityContext) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Channel: %s (%d subscribers)\n", sc.Channel.Title, sc.Channel.Subscribers)
	fmt.Fprintf(&sb, "Metrics over the last %d days: %d videos, avg views %.0f, median views %.0f, engagement rate %.4f, uploads/week %.2f\n",
		sc.Metrics.WindowDays, sc.Metrics.VideoCount, sc.Metrics.AvgViews,
		sc.Metrics.MedianViews, sc.Metrics.EngagementRate, sc.Metrics.UploadsPerWeek)

	if len(sc.Series) > 0 {
		sb.WriteString("\nDetected content series:\n")
		for _, s := range sc.Series {
			fmt.Fprintf(&sb, "- %s (%d videos, cadence %s)\n", s.Name, len(s.VideoIDs), s.Cadence)
		}
	} else {
		sb.WriteString("\nNo recurring content series detected.\n")
	}

	if sc.Benchmarks.HasBenchmarks {
		fmt.Fprintf(&sb, "\nPeer comparison (%d peers, %s tier):\n", sc.Benchmarks.PeerCount, sc.Benchmarks.Tier)
		for _, m := range sc.Benchmarks.Comparison.Metrics {
			fmt.Fprintf(&sb, "- %s: channel %.2f vs peer median %.2f (ratio %.2f, %s)\n",
				m.Metric, m.ChannelValue, m.PeerMedian, m.Ratio, m.Status)
		}
	} else {
		fmt.Fprintf(&sb, "\nNo peer benchmarks available (%s). Base opportunities on absolute performance heuristics only.\n",
			sc.Benchmarks.Reason)
	}

	return sb.String()
}

// opportunitiesFromComparison is the fallback: one opportunity per
// below-peer metric, or absolute-heuristic opportunities when no
// benchmarks exist.
func opportunitiesFromComparison(sc OpportunityContext) []Opportunity {
	var opportunities []Opportunity

	for _, m := range sc.Benchmarks.Comparison.Metrics {
		if m.Status != model.ComparisonBelow {
			continue
		}
		opportunities = append(opportunities, Opportunity{
			Title: fmt.Sprintf("Close the %s gap to peers", m.Metric),
			Rationale: fmt.Sprintf("channel %s is %.2f against a peer median of %.2f (ratio %.2f)",
				m.Metric, m.ChannelValue, m.PeerMedian, m.Ratio),
			Impact: "high",
		})
	}
	if len(opportunities) > 0 {
		return opportunities
	}

	// Absolute heuristics when nothing is below peers (or no peers).
	if sc.Metrics.UploadsPerWeek < 1 {
		opportunities = append(opportunities, Opportunity{
			Title:     "Establish a weekly upload cadence",
			Rationale: fmt.Sprintf("current cadence is %.2f uploads/week", sc.Metrics.UploadsPerWeek),
			Impact:    "high",
		})
	}
	if sc.Metrics.EngagementRate < 0.02 && sc.Metrics.VideoCount > 0 {
		opportunities = append(opportunities, Opportunity{
			Title:     "Lift engagement with calls to action",
			Rationale: fmt.Sprintf("engagement rate %.4f is under the 2%% baseline", sc.Metrics.EngagementRate),
			Impact:    "medium",
		})
	}
	if len(sc.Series) == 0 && sc.Metrics.VideoCount > 0 {
		opportunities = append(opportunities, Opportunity{
			Title:     "Introduce a recurring series format",
			Rationale: "no recurring content series detected in the recent upload history",
			Impact:    "medium",
		})
	}
	return opportunities
}
