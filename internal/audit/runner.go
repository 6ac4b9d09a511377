// Package audit orchestrates the channel audit pipeline: six sequential
// stages with per-stage checkpoints, resume-from-failure, progress
// reporting, and a provider cost ledger.
package audit

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/creatorscope/audit-cli/internal/benchmark"
	"github.com/creatorscope/audit-cli/internal/config"
	"github.com/creatorscope/audit-cli/internal/cost"
	"github.com/creatorscope/audit-cli/internal/model"
	"github.com/creatorscope/audit-cli/internal/store"
	"github.com/creatorscope/audit-cli/pkg/anthropic"
	"github.com/creatorscope/audit-cli/pkg/youtube"
)

var (
	// ErrRestartRequired is returned by Resume when the audit's raw
	// channel data was never fully ingested; resume does not re-fetch
	// it, so the caller must start a fresh run instead.
	ErrRestartRequired = eris.New("audit: cannot resume, restart required")

	// ErrAuditBusy is returned when a run or resume is already in flight
	// for the same audit in this process.
	ErrAuditBusy = eris.New("audit: run already in progress")
)

// Runner drives the audit pipeline for one process. It is safe for
// concurrent use; overlapping runs of the same audit are rejected with
// ErrAuditBusy. Cross-process serialization is the deployment's
// responsibility.
type Runner struct {
	cfg       config.AuditConfig
	modelID   string
	maxTokens int64

	store    store.Store
	source   youtube.Client
	provider anthropic.Provider
	engine   *benchmark.Engine
	costCalc *cost.Calculator

	onProgress ProgressFunc
	active     sync.Map // audit id → struct{}
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithProgress registers a progress callback.
func WithProgress(fn ProgressFunc) RunnerOption {
	return func(r *Runner) {
		r.onProgress = fn
	}
}

// WithEngine overrides the benchmarking engine (used by tests).
func WithEngine(engine *benchmark.Engine) RunnerOption {
	return func(r *Runner) {
		r.engine = engine
	}
}

// NewRunner creates a Runner with all pipeline dependencies.
func NewRunner(cfg *config.Config, st store.Store, source youtube.Client, provider anthropic.Provider, opts ...RunnerOption) *Runner {
	maxTokens := cfg.Anthropic.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	r := &Runner{
		cfg:       cfg.Audit,
		modelID:   cfg.Anthropic.Model,
		maxTokens: maxTokens,
		store:     st,
		source:    source,
		provider:  provider,
		engine: benchmark.NewEngine(source,
			benchmark.WithPeerLimit(cfg.Audit.PeerLimit),
			benchmark.WithVideosPerPeer(cfg.Audit.VideosPerPeer),
			benchmark.WithFetchWorkers(cfg.Audit.FetchWorkers),
		),
		costCalc: cost.NewCalculator(ratesFromConfig(cfg.Pricing)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ratesFromConfig converts pricing overrides into calculator rates,
// falling back to the built-in table when none are configured.
func ratesFromConfig(pricing config.PricingConfig) cost.Rates {
	if len(pricing.Analysis) == 0 {
		return cost.DefaultRates()
	}
	rates := cost.Rates{Analysis: make(map[string]cost.ModelRate, len(pricing.Analysis))}
	for modelID, p := range pricing.Analysis {
		rates.Analysis[modelID] = cost.ModelRate{Input: p.Input, Output: p.Output}
	}
	return rates
}

// Run executes a fresh audit for the given channel input (a channel ID
// or handle). The audit and all its sections are created up front;
// stages run in pipeline order and the first stage error fails the run.
func (r *Runner) Run(ctx context.Context, orgID, input string, auditType model.AuditType) (*model.Audit, error) {
	id := uuid.NewString()
	if !r.acquire(id) {
		return nil, ErrAuditBusy
	}
	defer r.release(id)

	audit := &model.Audit{
		ID:        id,
		OrgID:     orgID,
		Channel:   channelRefForInput(input),
		Type:      auditType,
		Status:    model.AuditStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.store.CreateAudit(ctx, audit); err != nil {
		return nil, eris.Wrap(err, "audit: create")
	}
	if err := r.store.InitSections(ctx, audit.ID); err != nil {
		return nil, eris.Wrap(err, "audit: init sections")
	}
	if err := r.setStatus(ctx, audit, model.AuditStatusRunning); err != nil {
		return nil, err
	}

	zap.L().Info("audit: starting run",
		zap.String("audit_id", audit.ID),
		zap.String("org_id", orgID),
		zap.String("input", input),
		zap.String("type", string(auditType)),
	)

	return r.execute(ctx, audit, &pipelineState{}, 0)
}

// Restart re-runs an existing audit from scratch: all sections are
// cleared back to pending and the full pipeline runs again, re-fetching
// raw channel data. This is the recovery path when Resume reports
// ErrRestartRequired.
func (r *Runner) Restart(ctx context.Context, auditID string) (*model.Audit, error) {
	audit, err := r.store.GetAudit(ctx, auditID)
	if err != nil {
		return nil, eris.Wrapf(err, "audit: restart %s", auditID)
	}
	if !r.acquire(auditID) {
		return nil, ErrAuditBusy
	}
	defer r.release(auditID)

	if err := r.store.ResetSections(ctx, auditID); err != nil {
		return nil, eris.Wrap(err, "audit: reset sections")
	}
	if err := r.setStatus(ctx, audit, model.AuditStatusRunning); err != nil {
		return nil, err
	}

	zap.L().Info("audit: restarting run", zap.String("audit_id", auditID))
	return r.execute(ctx, audit, &pipelineState{}, 0)
}

// Resume continues a failed or interrupted audit at its first
// non-completed stage. Resuming a completed audit is an idempotent
// no-op. Completed upstream sections are never re-run; their persisted
// results are reloaded instead.
func (r *Runner) Resume(ctx context.Context, auditID string) (*model.Audit, error) {
	audit, err := r.store.GetAudit(ctx, auditID)
	if err != nil {
		return nil, eris.Wrapf(err, "audit: resume %s", auditID)
	}
	if audit.Status == model.AuditStatusCompleted {
		return audit, nil
	}

	if !r.acquire(auditID) {
		return nil, ErrAuditBusy
	}
	defer r.release(auditID)

	sections, err := r.store.GetSections(ctx, auditID)
	if err != nil {
		return nil, eris.Wrap(err, "audit: load sections")
	}

	startIdx := firstIncompleteStage(sections)
	if startIdx == 0 {
		// Ingestion never completed; its raw channel data is gone.
		return nil, ErrRestartRequired
	}
	if startIdx == len(model.StageOrder) {
		// Every section finished but the audit row never flipped; repair it.
		return audit, r.finish(ctx, audit)
	}

	state, err := loadState(sections[:startIdx])
	if err != nil {
		return nil, eris.Wrap(err, "audit: decode upstream results")
	}
	if err := r.setStatus(ctx, audit, model.AuditStatusRunning); err != nil {
		return nil, err
	}

	zap.L().Info("audit: resuming run",
		zap.String("audit_id", auditID),
		zap.String("stage", string(model.StageOrder[startIdx])),
	)

	return r.execute(ctx, audit, state, startIdx)
}

// execute runs stages startIdx onward, checkpointing each one.
func (r *Runner) execute(ctx context.Context, audit *model.Audit, state *pipelineState, startIdx int) (*model.Audit, error) {
	log := zap.L().With(zap.String("audit_id", audit.ID))

	for i := startIdx; i < len(model.StageOrder); i++ {
		stage := model.StageOrder[i]
		span := stageSpans[stage]

		if err := ctx.Err(); err != nil {
			return r.failStage(ctx, audit, stage, eris.Wrapf(err, "audit: cancelled before stage %s", stage))
		}

		r.emitProgress(audit.ID, stage, span[0], "starting "+string(stage))

		startedAt := time.Now().UTC()
		running := model.SectionStatusRunning
		if err := r.store.UpdateSection(ctx, audit.ID, stage, store.SectionUpdate{
			Status:    &running,
			StartedAt: &startedAt,
		}); err != nil {
			return r.abort(ctx, audit, eris.Wrapf(err, "audit: mark stage %s running", stage))
		}

		payload, delta, stageErr := r.runStage(ctx, stage, audit, state)

		// Cost is recorded even when the stage failed after a provider
		// response; the tokens were spent either way.
		if delta.Tokens > 0 || delta.USD > 0 {
			if err := r.store.AddCost(context.WithoutCancel(ctx), audit.ID, delta.Tokens, delta.USD); err != nil {
				return r.abort(ctx, audit, eris.Wrapf(err, "audit: record cost for stage %s", stage))
			}
			audit.Cost.Add(delta)
		}

		if stageErr != nil {
			return r.failStage(ctx, audit, stage, stageErr)
		}

		raw, err := json.Marshal(payload)
		if err != nil {
			return r.failStage(ctx, audit, stage, eris.Wrapf(err, "audit: marshal %s result", stage))
		}

		completedAt := time.Now().UTC()
		completed := model.SectionStatusCompleted
		if err := r.store.UpdateSection(ctx, audit.ID, stage, store.SectionUpdate{
			Status:      &completed,
			Result:      raw,
			CompletedAt: &completedAt,
		}); err != nil {
			return r.abort(ctx, audit, eris.Wrapf(err, "audit: checkpoint stage %s", stage))
		}

		log.Info("audit: stage complete",
			zap.String("stage", string(stage)),
			zap.Duration("duration", completedAt.Sub(startedAt)),
			zap.Int64("tokens", delta.Tokens),
		)
		r.emitProgress(audit.ID, stage, span[1], string(stage)+" complete")
	}

	if err := r.finish(ctx, audit); err != nil {
		return nil, err
	}

	log.Info("audit: run complete",
		zap.Int64("total_tokens", audit.Cost.Tokens),
		zap.Float64("total_cost_usd", audit.Cost.USD),
	)
	return audit, nil
}

// runStage dispatches one stage, building its typed context from the
// upstream state and recording its output back into the state.
func (r *Runner) runStage(ctx context.Context, stage model.Stage, audit *model.Audit, state *pipelineState) (any, model.CostTotals, error) {
	switch stage {
	case model.StageIngestion:
		res, delta, err := r.ingestionStage(ctx, IngestionContext{
			Input:      auditInput(audit),
			Type:       audit.Type,
			MaxVideos:  r.cfg.MaxVideos,
			WindowDays: r.cfg.WindowDays,
		})
		if err != nil {
			return nil, delta, err
		}
		state.Ingestion = res
		// Persist the resolved channel metadata on the audit row.
		if updErr := r.store.UpdateAudit(ctx, audit.ID, store.AuditUpdate{Channel: &res.Channel}); updErr != nil {
			return nil, delta, eris.Wrap(updErr, "audit: persist resolved channel")
		}
		audit.Channel = res.Channel
		return res, delta, nil

	case model.StageSeriesDetection:
		res, delta, err := r.seriesStage(ctx, SeriesContext{
			Channel: state.Ingestion.Channel,
			Videos:  state.Ingestion.Videos,
		})
		if err != nil {
			return nil, delta, err
		}
		state.Series = res
		return res, delta, nil

	case model.StageBenchmarking:
		res, delta, err := r.benchmarkStage(ctx, BenchmarkContext{
			Channel:    state.Ingestion.Channel,
			Metrics:    state.Ingestion.Metrics,
			WindowDays: r.cfg.WindowDays,
		})
		if err != nil {
			return nil, delta, err
		}
		state.Benchmark = res
		return res, delta, nil

	case model.StageOpportunities:
		res, delta, err := r.opportunityStage(ctx, OpportunityContext{
			Channel:    state.Ingestion.Channel,
			Metrics:    state.Ingestion.Metrics,
			Series:     state.Series.Series,
			Benchmarks: state.Benchmark.Benchmarks,
		})
		if err != nil {
			return nil, delta, err
		}
		state.Opportunities = res
		return res, delta, nil

	case model.StageRecommendations:
		res, delta, err := r.recommendationStage(ctx, RecommendationContext{
			Channel:       state.Ingestion.Channel,
			Opportunities: state.Opportunities.Opportunities,
		})
		if err != nil {
			return nil, delta, err
		}
		state.Recommendations = res
		return res, delta, nil

	case model.StageSummary:
		res, delta, err := r.summaryStage(ctx, SummaryContext{
			Channel:         state.Ingestion.Channel,
			Metrics:         state.Ingestion.Metrics,
			Series:          state.Series.Series,
			Benchmarks:      state.Benchmark.Benchmarks,
			Opportunities:   state.Opportunities.Opportunities,
			Recommendations: state.Recommendations.Recommendations,
		})
		if err != nil {
			return nil, delta, err
		}
		state.Summary = res
		return res, delta, nil
	}

	return nil, model.CostTotals{}, eris.Errorf("audit: unknown stage %s", stage)
}

// generate issues one provider call and converts its usage into a cost
// delta.
func (r *Runner) generate(ctx context.Context, system, prompt string) (string, model.CostTotals, error) {
	gen, err := r.provider.Generate(ctx, anthropic.GenerateRequest{
		Prompt:    prompt,
		System:    system,
		MaxTokens: r.maxTokens,
	})
	if err != nil {
		return "", model.CostTotals{}, err
	}
	return gen.Text, r.costCalc.Delta(r.modelID, gen.Usage.InputTokens, gen.Usage.OutputTokens), nil
}

// failStage marks the stage and the audit failed. Bookkeeping writes use
// a detached context so cancellation of the run does not lose the
// failure record.
func (r *Runner) failStage(ctx context.Context, audit *model.Audit, stage model.Stage, stageErr error) (*model.Audit, error) {
	bg := context.WithoutCancel(ctx)
	msg := stageErr.Error()
	now := time.Now().UTC()

	failed := model.SectionStatusFailed
	if err := r.store.UpdateSection(bg, audit.ID, stage, store.SectionUpdate{
		Status:      &failed,
		Error:       &msg,
		CompletedAt: &now,
	}); err != nil {
		zap.L().Warn("audit: failed to record section failure",
			zap.String("audit_id", audit.ID),
			zap.String("stage", string(stage)),
			zap.Error(err),
		)
	}

	auditFailed := model.AuditStatusFailed
	if err := r.store.UpdateAudit(bg, audit.ID, store.AuditUpdate{
		Status: &auditFailed,
		Error:  &msg,
	}); err != nil {
		zap.L().Warn("audit: failed to record audit failure",
			zap.String("audit_id", audit.ID),
			zap.Error(err),
		)
	}
	audit.Status = model.AuditStatusFailed
	audit.Error = msg

	zap.L().Error("audit: stage failed",
		zap.String("audit_id", audit.ID),
		zap.String("stage", string(stage)),
		zap.Error(stageErr),
	)
	return audit, eris.Wrapf(stageErr, "audit: stage %s failed", stage)
}

// abort handles persistence failures: the run cannot continue and the
// audit row may itself be unreachable, so best-effort mark and bail.
func (r *Runner) abort(ctx context.Context, audit *model.Audit, persistErr error) (*model.Audit, error) {
	bg := context.WithoutCancel(ctx)
	msg := persistErr.Error()
	auditFailed := model.AuditStatusFailed
	_ = r.store.UpdateAudit(bg, audit.ID, store.AuditUpdate{Status: &auditFailed, Error: &msg})
	audit.Status = model.AuditStatusFailed
	audit.Error = msg
	return audit, persistErr
}

func (r *Runner) finish(ctx context.Context, audit *model.Audit) error {
	completedAt := time.Now().UTC()
	completed := model.AuditStatusCompleted
	empty := ""
	if err := r.store.UpdateAudit(ctx, audit.ID, store.AuditUpdate{
		Status:      &completed,
		Error:       &empty,
		CompletedAt: &completedAt,
	}); err != nil {
		return eris.Wrap(err, "audit: mark completed")
	}
	audit.Status = model.AuditStatusCompleted
	audit.Error = ""
	audit.CompletedAt = &completedAt
	return nil
}

func (r *Runner) setStatus(ctx context.Context, audit *model.Audit, status model.AuditStatus) error {
	empty := ""
	if err := r.store.UpdateAudit(ctx, audit.ID, store.AuditUpdate{Status: &status, Error: &empty}); err != nil {
		return eris.Wrapf(err, "audit: set status %s", status)
	}
	audit.Status = status
	audit.Error = ""
	return nil
}

// Active reports whether a run for the audit currently holds the
// in-process lock. Callers racing a new run should still expect
// ErrAuditBusy.
func (r *Runner) Active(auditID string) bool {
	_, ok := r.active.Load(auditID)
	return ok
}

func (r *Runner) acquire(auditID string) bool {
	_, loaded := r.active.LoadOrStore(auditID, struct{}{})
	return !loaded
}

func (r *Runner) release(auditID string) {
	r.active.Delete(auditID)
}

// pipelineState carries decoded stage outputs forward through one run.
type pipelineState struct {
	Ingestion       *IngestionResult
	Series          *SeriesResult
	Benchmark       *BenchmarkStageResult
	Opportunities   *OpportunityResult
	Recommendations *RecommendationResult
	Summary         *SummaryResult
}

// loadState rebuilds pipeline state from completed sections' persisted
// results.
func loadState(completed []model.Section) (*pipelineState, error) {
	state := &pipelineState{}
	for _, sec := range completed {
		var err error
		switch sec.Stage {
		case model.StageIngestion:
			state.Ingestion = &IngestionResult{}
			err = json.Unmarshal(sec.Result, state.Ingestion)
		case model.StageSeriesDetection:
			state.Series = &SeriesResult{}
			err = json.Unmarshal(sec.Result, state.Series)
		case model.StageBenchmarking:
			state.Benchmark = &BenchmarkStageResult{}
			err = json.Unmarshal(sec.Result, state.Benchmark)
		case model.StageOpportunities:
			state.Opportunities = &OpportunityResult{}
			err = json.Unmarshal(sec.Result, state.Opportunities)
		case model.StageRecommendations:
			state.Recommendations = &RecommendationResult{}
			err = json.Unmarshal(sec.Result, state.Recommendations)
		case model.StageSummary:
			state.Summary = &SummaryResult{}
			err = json.Unmarshal(sec.Result, state.Summary)
		}
		if err != nil {
			return nil, eris.Wrapf(err, "decode %s section", sec.Stage)
		}
	}
	return state, nil
}

// firstIncompleteStage returns the index in model.StageOrder of the
// first section not yet completed, or len(StageOrder) when all are.
func firstIncompleteStage(sections []model.Section) int {
	completed := make(map[model.Stage]bool, len(sections))
	for _, sec := range sections {
		if sec.Status == model.SectionStatusCompleted {
			completed[sec.Stage] = true
		}
	}
	for i, stage := range model.StageOrder {
		if !completed[stage] {
			return i
		}
	}
	return len(model.StageOrder)
}

// channelRefForInput seeds the audit's channel from the raw input before
// ingestion resolves the full metadata.
func channelRefForInput(input string) model.ChannelRef {
	input = strings.TrimSpace(input)
	if strings.HasPrefix(input, "UC") && len(input) == 24 {
		return model.ChannelRef{ID: input}
	}
	return model.ChannelRef{Handle: strings.TrimPrefix(input, "@")}
}

// auditInput reconstructs the ingestion input from the audit's seeded
// channel ref.
func auditInput(audit *model.Audit) string {
	if audit.Channel.ID != "" {
		return audit.Channel.ID
	}
	return audit.Channel.Handle
}
