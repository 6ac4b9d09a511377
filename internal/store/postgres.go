package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/creatorscope/audit-cli/internal/db"
	"github.com/creatorscope/audit-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection
// for the hot store operations the orchestrator issues per stage.
var preparedStatements = map[string]string{
	"insert_audit": `INSERT INTO audits (id, org_id, channel, type, status, tokens, cost_usd, error, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
	"get_audit":    `SELECT id, org_id, channel, type, status, tokens, cost_usd, error, created_at, completed_at FROM audits WHERE id = $1`,
	"add_cost":     `UPDATE audits SET tokens = tokens + $1, cost_usd = cost_usd + $2 WHERE id = $3`,
	"get_sections": `SELECT audit_id, stage, status, result, error, started_at, completed_at FROM audit_sections WHERE audit_id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}

	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool (used by tests with pgxmock).
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: pool.Close}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS audits (
	id           TEXT PRIMARY KEY,
	org_id       TEXT NOT NULL,
	channel      JSONB NOT NULL,
	type         TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'pending',
	tokens       BIGINT NOT NULL DEFAULT 0,
	cost_usd     DOUBLE PRECISION NOT NULL DEFAULT 0,
	error        TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS audit_sections (
	audit_id     TEXT NOT NULL REFERENCES audits(id),
	stage        TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'pending',
	result       JSONB,
	error        TEXT NOT NULL DEFAULT '',
	started_at   TIMESTAMPTZ,
	completed_at TIMESTAMPTZ,
	PRIMARY KEY (audit_id, stage)
);

CREATE INDEX IF NOT EXISTS idx_audits_org ON audits(org_id);
CREATE INDEX IF NOT EXISTS idx_audits_status ON audits(status);
CREATE INDEX IF NOT EXISTS idx_audit_sections_audit_id ON audit_sections(audit_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateAudit(ctx context.Context, audit *model.Audit) error {
	channelJSON, err := json.Marshal(audit.Channel)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal channel")
	}

	_, err = s.pool.Exec(ctx,
		preparedStatements["insert_audit"],
		audit.ID, audit.OrgID, channelJSON, string(audit.Type), string(audit.Status),
		audit.Cost.Tokens, audit.Cost.USD, audit.Error, audit.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert audit")
}

func (s *PostgresStore) GetAudit(ctx context.Context, id string) (*model.Audit, error) {
	row := s.pool.QueryRow(ctx, preparedStatements["get_audit"], id)
	return scanAuditPgx(row)
}

func (s *PostgresStore) UpdateAudit(ctx context.Context, id string, update AuditUpdate) error {
	query := `UPDATE audits SET id = id`
	var args []any

	if update.Status != nil {
		args = append(args, string(*update.Status))
		query += fmt.Sprintf(`, status = $%d`, len(args))
	}
	if update.Channel != nil {
		channelJSON, err := json.Marshal(update.Channel)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal channel")
		}
		args = append(args, channelJSON)
		query += fmt.Sprintf(`, channel = $%d`, len(args))
	}
	if update.Error != nil {
		args = append(args, *update.Error)
		query += fmt.Sprintf(`, error = $%d`, len(args))
	}
	if update.CompletedAt != nil {
		args = append(args, *update.CompletedAt)
		query += fmt.Sprintf(`, completed_at = $%d`, len(args))
	}
	args = append(args, id)
	query += fmt.Sprintf(` WHERE id = $%d`, len(args))

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: update audit %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrAuditNotFound, "id %s", id)
	}
	return nil
}

func (s *PostgresStore) ListAudits(ctx context.Context, filter AuditFilter) ([]model.Audit, error) {
	query := `SELECT id, org_id, channel, type, status, tokens, cost_usd, error, created_at, completed_at
	          FROM audits WHERE 1=1`
	var args []any

	if filter.OrgID != "" {
		args = append(args, filter.OrgID)
		query += fmt.Sprintf(` AND org_id = $%d`, len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	if filter.ChannelID != "" {
		args = append(args, filter.ChannelID)
		query += fmt.Sprintf(` AND channel->>'id' = $%d`, len(args))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(` LIMIT $%d`, len(args))

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list audits")
	}
	defer rows.Close()

	var audits []model.Audit
	for rows.Next() {
		a, err := scanAuditPgx(rows)
		if err != nil {
			return nil, err
		}
		audits = append(audits, *a)
	}
	return audits, eris.Wrap(rows.Err(), "postgres: list audits iterate")
}

func (s *PostgresStore) InitSections(ctx context.Context, auditID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin init sections")
	}
	defer tx.Rollback(ctx)

	for _, stage := range model.StageOrder {
		if _, err := tx.Exec(ctx,
			`INSERT INTO audit_sections (audit_id, stage, status) VALUES ($1, $2, $3)`,
			auditID, string(stage), string(model.SectionStatusPending),
		); err != nil {
			return eris.Wrapf(err, "postgres: init section %s", stage)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit init sections")
}

func (s *PostgresStore) ResetSections(ctx context.Context, auditID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE audit_sections
		 SET status = $1, result = NULL, error = '', started_at = NULL, completed_at = NULL
		 WHERE audit_id = $2`,
		string(model.SectionStatusPending), auditID,
	)
	return eris.Wrapf(err, "postgres: reset sections for %s", auditID)
}

func (s *PostgresStore) GetSections(ctx context.Context, auditID string) ([]model.Section, error) {
	rows, err := s.pool.Query(ctx, preparedStatements["get_sections"], auditID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get sections")
	}
	defer rows.Close()

	var sections []model.Section
	for rows.Next() {
		var sec model.Section
		var result []byte
		if err := rows.Scan(&sec.AuditID, &sec.Stage, &sec.Status, &result, &sec.Error, &sec.StartedAt, &sec.CompletedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan section")
		}
		if len(result) > 0 {
			sec.Result = json.RawMessage(result)
		}
		sections = append(sections, sec)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: get sections iterate")
	}

	sortSections(sections)
	return sections, nil
}

func (s *PostgresStore) UpdateSection(ctx context.Context, auditID string, stage model.Stage, update SectionUpdate) error {
	query := `UPDATE audit_sections SET audit_id = audit_id`
	var args []any

	if update.Status != nil {
		args = append(args, string(*update.Status))
		query += fmt.Sprintf(`, status = $%d`, len(args))
	}
	if update.Result != nil {
		args = append(args, []byte(update.Result))
		query += fmt.Sprintf(`, result = $%d`, len(args))
	}
	if update.Error != nil {
		args = append(args, *update.Error)
		query += fmt.Sprintf(`, error = $%d`, len(args))
	}
	if update.StartedAt != nil {
		args = append(args, *update.StartedAt)
		query += fmt.Sprintf(`, started_at = $%d`, len(args))
	}
	if update.CompletedAt != nil {
		args = append(args, *update.CompletedAt)
		query += fmt.Sprintf(`, completed_at = $%d`, len(args))
	}
	args = append(args, auditID, string(stage))
	query += fmt.Sprintf(` WHERE audit_id = $%d AND stage = $%d`, len(args)-1, len(args))

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: update section %s/%s", auditID, stage)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrAuditNotFound, "id %s", auditID)
	}
	return nil
}

func (s *PostgresStore) AddCost(ctx context.Context, auditID string, tokens int64, usd float64) error {
	tag, err := s.pool.Exec(ctx, preparedStatements["add_cost"], tokens, usd, auditID)
	if err != nil {
		return eris.Wrapf(err, "postgres: add cost for %s", auditID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrAuditNotFound, "id %s", auditID)
	}
	return nil
}

func scanAuditPgx(row pgx.Row) (*model.Audit, error) {
	var a model.Audit
	var channelJSON []byte

	err := row.Scan(&a.ID, &a.OrgID, &channelJSON, &a.Type, &a.Status,
		&a.Cost.Tokens, &a.Cost.USD, &a.Error, &a.CreatedAt, &a.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAuditNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan audit")
	}

	if err := json.Unmarshal(channelJSON, &a.Channel); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal channel")
	}
	return &a, nil
}
