package audit

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/creatorscope/audit-cli/internal/model"
)

const seriesSystemPrompt = `You analyze a video channel's upload history and group videos into recurring content series (formats the channel publishes repeatedly, e.g. weekly Q&As, tutorial playlists, vlogs). Respond with a valid JSON object: {"series": [{"name": "<series name>", "video_ids": ["<id>", ...], "cadence": "<daily|weekly|biweekly|monthly|irregular>", "theme": "<one-line description>"}]}. Only group videos that clearly belong together; singletons are not a series. An empty series list is a valid answer.`

// ContentSeries is one recurring format detected in the upload history.
type ContentSeries struct {
	Name     string   `json:"name"`
	VideoIDs []string `json:"video_ids"`
	Cadence  string   `json:"cadence,omitempty"`
	Theme    string   `json:"theme,omitempty"`
}

// SeriesContext is the input to the series-detection stage.
type SeriesContext struct {
	Channel model.ChannelRef
	Videos  []model.Video
}

// SeriesResult is the series-detection stage output. Structured records
// whether the groups came from the provider or the title heuristic.
type SeriesResult struct {
	Series     []ContentSeries `json:"series"`
	Structured bool            `json:"structured"`
}

// seriesStage groups the channel's videos into recurring content series.
// Zero detected series is a valid outcome.
func (r *Runner) seriesStage(ctx context.Context, sc SeriesContext) (*SeriesResult, model.CostTotals, error) {
	var delta model.CostTotals

	if len(sc.Videos) == 0 {
		return &SeriesResult{Series: []ContentSeries{}, Structured: true}, delta, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Channel: %s\n\nRecent uploads (id, title, views):\n", sc.Channel.Title)
	for _, v := range sc.Videos {
		fmt.Fprintf(&sb, "- %s | %s | %d views\n", v.ID, v.Title, v.Views)
	}

	text, delta, err := r.generate(ctx, seriesSystemPrompt, sb.String())
	if err != nil {
		return nil, delta, err
	}

	parsed := ParseStructured(text, func() seriesPayload {
		return seriesPayload{Series: seriesByTitlePrefix(sc.Videos)}
	})
	if !parsed.Structured {
		zap.L().Warn("series: unstructured provider response, using title heuristic",
			zap.String("channel_id", sc.Channel.ID),
		)
	}

	series := parsed.Value.Series
	if series == nil {
		series = []ContentSeries{}
	}
	return &SeriesResult{Series: series, Structured: parsed.Structured}, delta, nil
}

type seriesPayload struct {
	Series []ContentSeries `json:"series"`
}

// seriesByTitlePrefix is the fallback grouping: videos sharing a title
// prefix (up to the first separator) form a series when at least two
// match.
func seriesByTitlePrefix(videos []model.Video) []ContentSeries {
	groups := make(map[string][]string)
	names := make(map[string]string)
	var order []string

	for _, v := range videos {
		prefix := titlePrefix(v.Title)
		if prefix == "" {
			continue
		}
		key := strings.ToLower(prefix)
		if _, seen := groups[key]; !seen {
			order = append(order, key)
			names[key] = prefix
		}
		groups[key] = append(groups[key], v.ID)
	}

	var series []ContentSeries
	for _, key := range order {
		ids := groups[key]
		if len(ids) < 2 {
			continue
		}
		series = append(series, ContentSeries{
			Name:     names[key],
			VideoIDs: ids,
			Cadence:  "irregular",
		})
	}
	return series
}

// titlePrefix returns the series-candidate portion of a title: the text
// before the first ":", "|", or " - " separator.
func titlePrefix(title string) string {
	for _, sep := range []string{":", "|", " - "} {
		if idx := strings.Index(title, sep); idx > 0 {
			return strings.TrimSpace(title[:idx])
		}
	}
	return ""
}
