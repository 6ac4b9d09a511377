package audit

import "github.com/creatorscope/audit-cli/internal/model"

// stageSpans maps each stage to its [entry, exit] percent of overall
// pipeline progress. Spans are contiguous over 0-100 in pipeline order,
// weighted by typical stage duration.
var stageSpans = map[model.Stage][2]int{
	model.StageIngestion:       {0, 15},
	model.StageSeriesDetection: {15, 30},
	model.StageBenchmarking:    {30, 55},
	model.StageOpportunities:   {55, 70},
	model.StageRecommendations: {70, 85},
	model.StageSummary:         {85, 100},
}

// ProgressEvent is emitted synchronously at stage entry and exit.
// Percent is monotonically non-decreasing over one run and reaches 100
// only when the final stage completes.
type ProgressEvent struct {
	AuditID string
	Stage   model.Stage
	Percent int
	Message string
}

// ProgressFunc receives progress events. Callbacks run on the pipeline
// goroutine; slow consumers slow the run.
type ProgressFunc func(ProgressEvent)

func (r *Runner) emitProgress(auditID string, stage model.Stage, percent int, message string) {
	if r.onProgress == nil {
		return
	}
	r.onProgress(ProgressEvent{
		AuditID: auditID,
		Stage:   stage,
		Percent: percent,
		Message: message,
	})
}
