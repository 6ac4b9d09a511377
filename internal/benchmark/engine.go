// Package benchmark classifies channels into size tiers, locates peer
// sets, and computes comparative statistics over peer videos.
package benchmark

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/creatorscope/audit-cli/internal/model"
	"github.com/creatorscope/audit-cli/internal/stats"
	"github.com/creatorscope/audit-cli/pkg/youtube"
)

// Metric names used in benchmark comparisons.
const (
	MetricMedianViews    = "median_views"
	MetricEngagementRate = "engagement_rate"
	MetricUploadsPerWeek = "uploads_per_week"
)

const (
	// Ratio thresholds for the above/at/below status labels.
	aboveThreshold = 1.2
	belowThreshold = 0.8
)

// Engine computes peer benchmarks for a channel.
type Engine struct {
	source        youtube.Client
	peerLimit     int
	videosPerPeer int
	fetchWorkers  int
}

// Option configures the Engine.
type Option func(*Engine)

// WithPeerLimit caps the peer set size.
func WithPeerLimit(n int) Option {
	return func(e *Engine) {
		e.peerLimit = n
	}
}

// WithVideosPerPeer caps how many recent videos are pulled per peer.
func WithVideosPerPeer(n int) Option {
	return func(e *Engine) {
		e.videosPerPeer = n
	}
}

// WithFetchWorkers bounds the parallel peer-video fetches.
func WithFetchWorkers(n int) Option {
	return func(e *Engine) {
		e.fetchWorkers = n
	}
}

// NewEngine creates a benchmarking engine over the given data source.
func NewEngine(source youtube.Client, opts ...Option) *Engine {
	e := &Engine{
		source:        source,
		peerLimit:     25,
		videosPerPeer: 20,
		fetchWorkers:  4,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// FindPeers returns candidate peer channels for benchmarking: channels
// whose subscriber count falls within the widened span of the given
// tier, excluding the subject channel, ordered by subscriber count
// descending and capped at the configured limit.
func (e *Engine) FindPeers(ctx context.Context, channelID string, tier model.TierName, filters model.PeerFilters) ([]model.ChannelRef, error) {
	span := stats.SpanFor(tier)

	if filters.Limit <= 0 || filters.Limit > e.peerLimit {
		filters.Limit = e.peerLimit
	}

	candidates, err := e.source.QueryPeers(ctx, span, filters)
	if err != nil {
		return nil, eris.Wrapf(err, "benchmark: query peers for tier %s", tier)
	}

	peers := make([]model.ChannelRef, 0, len(candidates))
	for _, c := range candidates {
		if c.ID == channelID {
			continue
		}
		peers = append(peers, c)
	}

	sort.Slice(peers, func(i, j int) bool {
		return peers[i].Subscribers > peers[j].Subscribers
	})
	if len(peers) > filters.Limit {
		peers = peers[:filters.Limit]
	}

	zap.L().Debug("benchmark: peer set resolved",
		zap.String("tier", string(tier)),
		zap.Int64("span_min", span.Min),
		zap.Int64("span_max", span.Max),
		zap.Int("peers", len(peers)),
	)
	return peers, nil
}

// ComputeBenchmarks pulls each peer's recent videos published within
// windowDays and summarizes view, engagement, and upload-frequency
// distributions. Zero peers (or zero recent peer videos) is not an
// error: the result carries HasBenchmarks=false and a reason.
func (e *Engine) ComputeBenchmarks(ctx context.Context, tier model.TierName, peers []model.ChannelRef, windowDays int) (*model.BenchmarkResult, error) {
	if windowDays <= 0 {
		windowDays = 90
	}

	result := &model.BenchmarkResult{
		Tier:      tier,
		PeerCount: len(peers),
	}
	if len(peers) == 0 {
		result.Reason = "no peer channels found for this tier span"
		return result, nil
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -windowDays)

	var mu sync.Mutex
	var viewsOverall, viewsShort, viewsLong []float64
	var engagement, uploadsPerWeek []float64

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.fetchWorkers)

	for _, peer := range peers {
		peer := peer
		g.Go(func() error {
			videos, err := e.source.FetchVideos(gCtx, peer.ID, e.videosPerPeer)
			if err != nil {
				return eris.Wrapf(err, "benchmark: fetch videos for peer %s", peer.ID)
			}

			var recent []model.Video
			for _, v := range videos {
				if v.PublishedAt.Before(cutoff) {
					continue
				}
				recent = append(recent, v)
			}
			if len(recent) == 0 {
				return nil
			}

			mu.Lock()
			defer mu.Unlock()
			for _, v := range recent {
				views := float64(v.Views)
				viewsOverall = append(viewsOverall, views)
				if v.IsShortForm() {
					viewsShort = append(viewsShort, views)
				} else {
					viewsLong = append(viewsLong, views)
				}
				if v.Views > 0 {
					engagement = append(engagement, v.EngagementRate())
				}
			}
			uploadsPerWeek = append(uploadsPerWeek, float64(len(recent))/(float64(windowDays)/7))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(viewsOverall) == 0 {
		result.Reason = "peer channels published no videos in the benchmark window"
		return result, nil
	}

	result.HasBenchmarks = true
	result.ViewsOverall = stats.Summarize(viewsOverall)
	result.ViewsShortForm = stats.Summarize(viewsShort)
	result.ViewsLongForm = stats.Summarize(viewsLong)
	result.Engagement = stats.Summarize(engagement)
	result.UploadsPerWeek = stats.Summarize(uploadsPerWeek)
	return result, nil
}

// CompareAgainstBenchmarks compares the channel's own metrics against
// the peer medians. Metrics whose peer median is 0 are skipped rather
// than divided by zero; with no benchmarks at all the comparison is
// empty and the overall score nil.
func CompareAgainstBenchmarks(metrics model.ChannelMetrics, benchmarks *model.BenchmarkResult) model.ComparisonResult {
	var result model.ComparisonResult
	if benchmarks == nil || !benchmarks.HasBenchmarks {
		return result
	}

	pairs := []struct {
		metric     string
		channel    float64
		peerMedian float64
	}{
		{MetricMedianViews, metrics.MedianViews, benchmarks.ViewsOverall.Median},
		{MetricEngagementRate, metrics.EngagementRate, benchmarks.Engagement.Median},
		{MetricUploadsPerWeek, metrics.UploadsPerWeek, benchmarks.UploadsPerWeek.Median},
	}

	var ratios []float64
	for _, p := range pairs {
		if p.peerMedian == 0 {
			continue
		}
		ratio := p.channel / p.peerMedian
		result.Metrics = append(result.Metrics, model.MetricComparison{
			Metric:       p.metric,
			ChannelValue: p.channel,
			PeerMedian:   p.peerMedian,
			Ratio:        ratio,
			Status:       classifyRatio(ratio),
		})
		ratios = append(ratios, ratio)
	}

	if len(ratios) > 0 {
		score := stats.Mean(ratios)
		result.OverallScore = &score
	}
	return result
}

func classifyRatio(ratio float64) model.ComparisonStatus {
	switch {
	case ratio >= aboveThreshold:
		return model.ComparisonAbove
	case ratio < belowThreshold:
		return model.ComparisonBelow
	default:
		return model.ComparisonAt
	}
}
