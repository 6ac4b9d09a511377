package audit

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/creatorscope/audit-cli/internal/model"
	"github.com/creatorscope/audit-cli/internal/stats"
)

// IngestionContext is the input to the ingestion stage.
type IngestionContext struct {
	Input      string
	Type       model.AuditType
	MaxVideos  int
	WindowDays int
}

// IngestionResult is the ingestion stage output: the resolved channel,
// its recent videos, and the derived metrics every later stage consumes.
// A channel with zero recent videos is a valid (insufficient-data)
// result, not an error.
type IngestionResult struct {
	Channel model.ChannelRef     `json:"channel"`
	Videos  []model.Video        `json:"videos"`
	Metrics model.ChannelMetrics `json:"metrics"`
}

// ingestionStage resolves the channel and pulls its recent uploads. This
// is the only stage that touches raw channel data; resume never re-runs
// it.
func (r *Runner) ingestionStage(ctx context.Context, sc IngestionContext) (*IngestionResult, model.CostTotals, error) {
	var delta model.CostTotals

	channel, err := r.source.ResolveChannel(ctx, sc.Input)
	if err != nil {
		return nil, delta, eris.Wrapf(err, "ingestion: resolve channel %q", sc.Input)
	}

	videos, err := r.source.FetchVideos(ctx, channel.ID, sc.MaxVideos)
	if err != nil {
		return nil, delta, eris.Wrapf(err, "ingestion: fetch videos for %s", channel.ID)
	}

	metrics := computeChannelMetrics(videos, sc.WindowDays)

	zap.L().Info("ingestion: channel resolved",
		zap.String("channel_id", channel.ID),
		zap.String("title", channel.Title),
		zap.Int64("subscribers", channel.Subscribers),
		zap.Int("videos", len(videos)),
		zap.Float64("median_views", metrics.MedianViews),
	)

	return &IngestionResult{
		Channel: *channel,
		Videos:  videos,
		Metrics: metrics,
	}, delta, nil
}

// computeChannelMetrics summarizes videos published within windowDays.
// Engagement is aggregate (likes+comments over views) rather than a mean
// of per-video rates, so low-view videos do not dominate.
func computeChannelMetrics(videos []model.Video, windowDays int) model.ChannelMetrics {
	metrics := model.ChannelMetrics{WindowDays: windowDays}

	cutoff := time.Now().UTC().AddDate(0, 0, -windowDays)
	var views []float64
	var totalViews, totalLikes, totalComments int64
	for _, v := range videos {
		if v.PublishedAt.Before(cutoff) {
			continue
		}
		views = append(views, float64(v.Views))
		totalViews += v.Views
		totalLikes += v.Likes
		totalComments += v.Comments
	}

	metrics.VideoCount = len(views)
	if len(views) == 0 {
		return metrics
	}

	metrics.AvgViews = stats.Mean(views)
	sort.Float64s(views)
	metrics.MedianViews = stats.Percentile(views, 50)
	if totalViews > 0 {
		metrics.EngagementRate = float64(totalLikes+totalComments) / float64(totalViews)
	}
	metrics.UploadsPerWeek = float64(len(views)) / (float64(windowDays) / 7)

	return metrics
}
