package audit

import (
	"context"

	"go.uber.org/zap"

	"github.com/creatorscope/audit-cli/internal/benchmark"
	"github.com/creatorscope/audit-cli/internal/model"
	"github.com/creatorscope/audit-cli/internal/stats"
)

// BenchmarkContext is the input to the benchmarking stage.
type BenchmarkContext struct {
	Channel    model.ChannelRef
	Metrics    model.ChannelMetrics
	WindowDays int
}

// BenchmarkStageResult is the benchmarking stage output.
type BenchmarkStageResult struct {
	Tier       model.TierName        `json:"tier"`
	Benchmarks model.BenchmarkResult `json:"benchmarks"`
}

// benchmarkStage classifies the channel's tier, resolves its peer set,
// and compares the channel against peer distributions. It makes no
// provider calls, so it contributes no cost delta. An empty peer set is
// a valid result; later stages fall back to absolute heuristics.
func (r *Runner) benchmarkStage(ctx context.Context, sc BenchmarkContext) (*BenchmarkStageResult, model.CostTotals, error) {
	var delta model.CostTotals

	tier := stats.ClassifyTier(sc.Channel.Subscribers)

	peers, err := r.engine.FindPeers(ctx, sc.Channel.ID, tier, model.PeerFilters{
		Category: sc.Channel.Category,
	})
	if err != nil {
		return nil, delta, err
	}

	benchmarks, err := r.engine.ComputeBenchmarks(ctx, tier, peers, sc.WindowDays)
	if err != nil {
		return nil, delta, err
	}
	benchmarks.Comparison = benchmark.CompareAgainstBenchmarks(sc.Metrics, benchmarks)

	zap.L().Info("benchmarking: peer comparison computed",
		zap.String("channel_id", sc.Channel.ID),
		zap.String("tier", string(tier)),
		zap.Int("peers", benchmarks.PeerCount),
		zap.Bool("has_benchmarks", benchmarks.HasBenchmarks),
	)

	return &BenchmarkStageResult{Tier: tier, Benchmarks: *benchmarks}, delta, nil
}
