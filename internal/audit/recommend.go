package audit

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/creatorscope/audit-cli/internal/model"
)

const recommendSystemPrompt = `You turn channel growth opportunities into concrete, actionable recommendations. For each opportunity produce 2-4 specific actions the channel team can execute. Respond with a valid JSON object: {"recommendations": [{"opportunity": "<opportunity title>", "actions": ["<action>", ...], "priority": "<now|next|later>"}]}. Keep actions specific and measurable.`

// Recommendation is the actionable follow-through for one opportunity.
type Recommendation struct {
	Opportunity string   `json:"opportunity"`
	Actions     []string `json:"actions"`
	Priority    string   `json:"priority"`
}

// RecommendationContext is the input to the recommendations stage.
type RecommendationContext struct {
	Channel       model.ChannelRef
	Opportunities []Opportunity
}

// RecommendationResult is the recommendations stage output.
type RecommendationResult struct {
	Recommendations []Recommendation `json:"recommendations"`
	Structured      bool             `json:"structured"`
}

// recommendationStage produces per-opportunity recommendations. With no
// upstream opportunities there is nothing to recommend and the provider
// is not called.
func (r *Runner) recommendationStage(ctx context.Context, sc RecommendationContext) (*RecommendationResult, model.CostTotals, error) {
	var delta model.CostTotals

	if len(sc.Opportunities) == 0 {
		return &RecommendationResult{Recommendations: []Recommendation{}, Structured: true}, delta, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Channel: %s\n\nOpportunities:\n", sc.Channel.Title)
	for _, o := range sc.Opportunities {
		fmt.Fprintf(&sb, "- %s (%s impact): %s\n", o.Title, o.Impact, o.Rationale)
	}

	text, delta, err := r.generate(ctx, recommendSystemPrompt, sb.String())
	if err != nil {
		return nil, delta, err
	}

	parsed := ParseStructured(text, func() recommendationPayload {
		return recommendationPayload{Recommendations: recommendationsFromOpportunities(sc.Opportunities)}
	})
	if !parsed.Structured {
		zap.L().Warn("recommendations: unstructured provider response, using generic actions",
			zap.String("channel_id", sc.Channel.ID),
		)
	}

	recommendations := parsed.Value.Recommendations
	if recommendations == nil {
		recommendations = []Recommendation{}
	}
	return &RecommendationResult{Recommendations: recommendations, Structured: parsed.Structured}, delta, nil
}

type recommendationPayload struct {
	Recommendations []Recommendation `json:"recommendations"`
}

// recommendationsFromOpportunities is the fallback: one generic
// recommendation per opportunity, prioritized by stated impact.
func recommendationsFromOpportunities(opportunities []Opportunity) []Recommendation {
	priorities := map[string]string{"high": "now", "medium": "next", "low": "later"}

	recommendations := make([]Recommendation, 0, len(opportunities))
	for _, o := range opportunities {
		priority, ok := priorities[strings.ToLower(o.Impact)]
		if !ok {
			priority = "next"
		}
		recommendations = append(recommendations, Recommendation{
			Opportunity: o.Title,
			Actions: []string{
				fmt.Sprintf("Plan a 30-day experiment targeting: %s", o.Title),
				"Review the metric after the next reporting window",
			},
			Priority: priority,
		})
	}
	return recommendations
}
