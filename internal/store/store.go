// Package store persists audits and their per-stage sections.
package store

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/creatorscope/audit-cli/internal/model"
)

// ErrAuditNotFound is returned when an audit id does not exist.
var ErrAuditNotFound = eris.New("store: audit not found")

// AuditFilter specifies criteria for listing audits.
type AuditFilter struct {
	OrgID     string            `json:"org_id,omitempty"`
	Status    model.AuditStatus `json:"status,omitempty"`
	ChannelID string            `json:"channel_id,omitempty"`
	Limit     int               `json:"limit,omitempty"`
	Offset    int               `json:"offset,omitempty"`
}

// AuditUpdate holds the mutable audit fields; nil fields are left
// untouched.
type AuditUpdate struct {
	Status      *model.AuditStatus
	Channel     *model.ChannelRef
	Error       *string
	CompletedAt *time.Time
}

// SectionUpdate holds the mutable section fields; nil fields are left
// untouched.
type SectionUpdate struct {
	Status      *model.SectionStatus
	Result      json.RawMessage
	Error       *string
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// Store defines the persistence interface for the audit pipeline.
// Audit/section rows are single-writer per audit: only the orchestrator
// driving a given run writes to them.
type Store interface {
	// Audits
	CreateAudit(ctx context.Context, audit *model.Audit) error
	GetAudit(ctx context.Context, id string) (*model.Audit, error)
	UpdateAudit(ctx context.Context, id string, update AuditUpdate) error
	ListAudits(ctx context.Context, filter AuditFilter) ([]model.Audit, error)

	// Sections
	InitSections(ctx context.Context, auditID string) error
	ResetSections(ctx context.Context, auditID string) error
	GetSections(ctx context.Context, auditID string) ([]model.Section, error)
	UpdateSection(ctx context.Context, auditID string, stage model.Stage, update SectionUpdate) error

	// Cost ledger
	AddCost(ctx context.Context, auditID string, tokens int64, usd float64) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// sortSections orders sections by pipeline stage order. Unknown stages
// sort last so schema drift surfaces in listings rather than panics.
func sortSections(sections []model.Section) {
	idx := make(map[model.Stage]int, len(model.StageOrder))
	for i, s := range model.StageOrder {
		idx[s] = i
	}
	sort.SliceStable(sections, func(i, j int) bool {
		ii, iok := idx[sections[i].Stage]
		ji, jok := idx[sections[j].Stage]
		if !iok {
			ii = len(model.StageOrder)
		}
		if !jok {
			ji = len(model.StageOrder)
		}
		return ii < ji
	})
}
