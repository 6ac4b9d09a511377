package model

import (
	"encoding/json"
	"time"
)

// AuditType distinguishes why an audit was run.
type AuditType string

const (
	// AuditTypeProspect audits a channel we do not yet manage.
	AuditTypeProspect AuditType = "prospect"
	// AuditTypeBaseline establishes the starting point for a managed channel.
	AuditTypeBaseline AuditType = "baseline"
)

// AuditStatus represents the overall state of an audit run.
type AuditStatus string

const (
	AuditStatusPending   AuditStatus = "pending"
	AuditStatusRunning   AuditStatus = "running"
	AuditStatusCompleted AuditStatus = "completed"
	AuditStatusFailed    AuditStatus = "failed"
)

// Stage identifies one unit of work in the audit pipeline.
type Stage string

const (
	StageIngestion       Stage = "ingestion"
	StageSeriesDetection Stage = "series_detection"
	StageBenchmarking    Stage = "benchmarking"
	StageOpportunities   Stage = "opportunity_analysis"
	StageRecommendations Stage = "recommendations"
	StageSummary         Stage = "summary"
)

// StageOrder is the fixed execution order of the pipeline. Sections are
// always created, listed, and resumed in this order.
var StageOrder = []Stage{
	StageIngestion,
	StageSeriesDetection,
	StageBenchmarking,
	StageOpportunities,
	StageRecommendations,
	StageSummary,
}

// SectionStatus represents the state of a single pipeline section.
type SectionStatus string

const (
	SectionStatusPending   SectionStatus = "pending"
	SectionStatusRunning   SectionStatus = "running"
	SectionStatusCompleted SectionStatus = "completed"
	SectionStatusFailed    SectionStatus = "failed"
)

// CostTotals is the cumulative provider usage ledger for one audit.
type CostTotals struct {
	Tokens int64   `json:"tokens"`
	USD    float64 `json:"usd"`
}

// Add accumulates another delta into the totals.
func (c *CostTotals) Add(d CostTotals) {
	c.Tokens += d.Tokens
	c.USD += d.USD
}

// Audit is one execution of the pipeline for one channel.
type Audit struct {
	ID          string      `json:"id"`
	OrgID       string      `json:"org_id"`
	Channel     ChannelRef  `json:"channel"`
	Type        AuditType   `json:"type"`
	Status      AuditStatus `json:"status"`
	Cost        CostTotals  `json:"cost"`
	Error       string      `json:"error,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

// Section is the persisted record of one pipeline stage's execution for
// one audit. The result payload is stage-specific and opaque to the
// orchestrator.
type Section struct {
	AuditID     string          `json:"audit_id"`
	Stage       Stage           `json:"stage"`
	Status      SectionStatus   `json:"status"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}
