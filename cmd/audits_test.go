package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/creatorscope/audit-cli/internal/model"
)

func TestFormatAuditsList(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	audits := []model.Audit{
		{
			ID:        "0b5e7a3c-1f4d-4f2a-bb1e-9f8d7c6b5a40",
			Channel:   model.ChannelRef{Title: "Weekly Science"},
			Type:      model.AuditTypeProspect,
			Status:    model.AuditStatusCompleted,
			Cost:      model.CostTotals{Tokens: 4200, USD: 0.0315},
			CreatedAt: created,
		},
		{
			ID:        "f1e2d3c4-0000-0000-0000-000000000000",
			Channel:   model.ChannelRef{Handle: "untitled"},
			Type:      model.AuditTypeBaseline,
			Status:    model.AuditStatusFailed,
			CreatedAt: created,
		},
	}

	var buf bytes.Buffer
	formatAuditsList(&buf, audits)
	out := buf.String()

	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "0b5e7a3c")
	assert.NotContains(t, out, "0b5e7a3c-1f4d")
	assert.Contains(t, out, "Weekly Science")
	assert.Contains(t, out, "untitled")
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, "4200")
	assert.Contains(t, out, "0.0315")
	assert.Contains(t, out, "2026-03-14 09:30")
}

func TestFormatAuditsList_TruncatesLongTitles(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 40)
	var buf bytes.Buffer
	formatAuditsList(&buf, []model.Audit{{ID: "a1", Channel: model.ChannelRef{Title: long}}})

	assert.Contains(t, buf.String(), strings.Repeat("x", 27)+"...")
	assert.NotContains(t, buf.String(), long)
}

func TestTruncateID(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "12345678", truncateID("123456789abc"))
	assert.Equal(t, "short", truncateID("short"))
}
