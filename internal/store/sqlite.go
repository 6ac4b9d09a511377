package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/creatorscope/audit-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures
// WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS audits (
	id           TEXT PRIMARY KEY,
	org_id       TEXT NOT NULL,
	channel      TEXT NOT NULL,
	type         TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'pending',
	tokens       INTEGER NOT NULL DEFAULT 0,
	cost_usd     REAL NOT NULL DEFAULT 0,
	error        TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at DATETIME
);

CREATE TABLE IF NOT EXISTS audit_sections (
	audit_id     TEXT NOT NULL REFERENCES audits(id),
	stage        TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'pending',
	result       TEXT,
	error        TEXT NOT NULL DEFAULT '',
	started_at   DATETIME,
	completed_at DATETIME,
	PRIMARY KEY (audit_id, stage)
);

CREATE INDEX IF NOT EXISTS idx_audits_org ON audits(org_id);
CREATE INDEX IF NOT EXISTS idx_audits_status ON audits(status);
CREATE INDEX IF NOT EXISTS idx_audits_channel ON audits(json_extract(channel, '$.id'));
CREATE INDEX IF NOT EXISTS idx_audit_sections_audit_id ON audit_sections(audit_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateAudit(ctx context.Context, audit *model.Audit) error {
	channelJSON, err := json.Marshal(audit.Channel)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal channel")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audits (id, org_id, channel, type, status, tokens, cost_usd, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		audit.ID, audit.OrgID, string(channelJSON), string(audit.Type), string(audit.Status),
		audit.Cost.Tokens, audit.Cost.USD, audit.Error, audit.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert audit")
}

func (s *SQLiteStore) GetAudit(ctx context.Context, id string) (*model.Audit, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, org_id, channel, type, status, tokens, cost_usd, error, created_at, completed_at
		 FROM audits WHERE id = ?`,
		id,
	)
	return scanAudit(row)
}

func (s *SQLiteStore) UpdateAudit(ctx context.Context, id string, update AuditUpdate) error {
	query := `UPDATE audits SET id = id`
	var args []any

	if update.Status != nil {
		query += `, status = ?`
		args = append(args, string(*update.Status))
	}
	if update.Channel != nil {
		channelJSON, err := json.Marshal(update.Channel)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal channel")
		}
		query += `, channel = ?`
		args = append(args, string(channelJSON))
	}
	if update.Error != nil {
		query += `, error = ?`
		args = append(args, *update.Error)
	}
	if update.CompletedAt != nil {
		query += `, completed_at = ?`
		args = append(args, *update.CompletedAt)
	}
	query += ` WHERE id = ?`
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update audit %s", id)
	}
	return checkRowsAffected(res, id)
}

func (s *SQLiteStore) ListAudits(ctx context.Context, filter AuditFilter) ([]model.Audit, error) {
	query := `SELECT id, org_id, channel, type, status, tokens, cost_usd, error, created_at, completed_at
	          FROM audits WHERE 1=1`
	var args []any

	if filter.OrgID != "" {
		query += ` AND org_id = ?`
		args = append(args, filter.OrgID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.ChannelID != "" {
		query += ` AND json_extract(channel, '$.id') = ?`
		args = append(args, filter.ChannelID)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list audits")
	}
	defer rows.Close()

	var audits []model.Audit
	for rows.Next() {
		a, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		audits = append(audits, *a)
	}
	return audits, eris.Wrap(rows.Err(), "sqlite: list audits iterate")
}

func (s *SQLiteStore) InitSections(ctx context.Context, auditID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin init sections")
	}
	defer tx.Rollback()

	for _, stage := range model.StageOrder {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO audit_sections (audit_id, stage, status) VALUES (?, ?, ?)`,
			auditID, string(stage), string(model.SectionStatusPending),
		); err != nil {
			return eris.Wrapf(err, "sqlite: init section %s", stage)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit init sections")
}

func (s *SQLiteStore) ResetSections(ctx context.Context, auditID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE audit_sections
		 SET status = ?, result = NULL, error = '', started_at = NULL, completed_at = NULL
		 WHERE audit_id = ?`,
		string(model.SectionStatusPending), auditID,
	)
	return eris.Wrapf(err, "sqlite: reset sections for %s", auditID)
}

func (s *SQLiteStore) GetSections(ctx context.Context, auditID string) ([]model.Section, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT audit_id, stage, status, result, error, started_at, completed_at
		 FROM audit_sections WHERE audit_id = ?`,
		auditID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get sections")
	}
	defer rows.Close()

	var sections []model.Section
	for rows.Next() {
		var sec model.Section
		var resultJSON sql.NullString
		var startedAt, completedAt sql.NullTime
		if err := rows.Scan(&sec.AuditID, &sec.Stage, &sec.Status, &resultJSON, &sec.Error, &startedAt, &completedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan section")
		}
		if resultJSON.Valid {
			sec.Result = json.RawMessage(resultJSON.String)
		}
		if startedAt.Valid {
			t := startedAt.Time
			sec.StartedAt = &t
		}
		if completedAt.Valid {
			t := completedAt.Time
			sec.CompletedAt = &t
		}
		sections = append(sections, sec)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: get sections iterate")
	}

	sortSections(sections)
	return sections, nil
}

func (s *SQLiteStore) UpdateSection(ctx context.Context, auditID string, stage model.Stage, update SectionUpdate) error {
	query := `UPDATE audit_sections SET audit_id = audit_id`
	var args []any

	if update.Status != nil {
		query += `, status = ?`
		args = append(args, string(*update.Status))
	}
	if update.Result != nil {
		query += `, result = ?`
		args = append(args, string(update.Result))
	}
	if update.Error != nil {
		query += `, error = ?`
		args = append(args, *update.Error)
	}
	if update.StartedAt != nil {
		query += `, started_at = ?`
		args = append(args, *update.StartedAt)
	}
	if update.CompletedAt != nil {
		query += `, completed_at = ?`
		args = append(args, *update.CompletedAt)
	}
	query += ` WHERE audit_id = ? AND stage = ?`
	args = append(args, auditID, string(stage))

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update section %s/%s", auditID, stage)
	}
	return checkRowsAffected(res, auditID)
}

func (s *SQLiteStore) AddCost(ctx context.Context, auditID string, tokens int64, usd float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE audits SET tokens = tokens + ?, cost_usd = cost_usd + ? WHERE id = ?`,
		tokens, usd, auditID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: add cost for %s", auditID)
	}
	return checkRowsAffected(res, auditID)
}

// helpers

func checkRowsAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrAuditNotFound, "id %s", id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanAudit(row scannable) (*model.Audit, error) {
	var a model.Audit
	var channelJSON string
	var completedAt sql.NullTime

	err := row.Scan(&a.ID, &a.OrgID, &channelJSON, &a.Type, &a.Status,
		&a.Cost.Tokens, &a.Cost.USD, &a.Error, &a.CreatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, ErrAuditNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan audit")
	}

	if err := json.Unmarshal([]byte(channelJSON), &a.Channel); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal channel")
	}
	if completedAt.Valid {
		t := completedAt.Time
		a.CompletedAt = &t
	}
	return &a, nil
}
