package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/towerline/rfrecon-cli/internal/audit"
	"github.com/towerline/rfrecon-cli/internal/db"
	"github.com/towerline/rfrecon-cli/internal/engine"
	"github.com/towerline/rfrecon-cli/internal/model"
)

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id              TEXT PRIMARY KEY,
	started_at      TIMESTAMPTZ NOT NULL,
	finished_at     TIMESTAMPTZ,
	params_file     TEXT NOT NULL DEFAULT '',
	monitoring_file TEXT NOT NULL DEFAULT '',
	snapshot_date   TIMESTAMPTZ,
	observations    INTEGER NOT NULL DEFAULT 0,
	processed       INTEGER NOT NULL DEFAULT 0,
	skipped         INTEGER NOT NULL DEFAULT 0,
	discrepancies   INTEGER NOT NULL DEFAULT 0,
	auto_corrected  INTEGER NOT NULL DEFAULT 0,
	flagged         INTEGER NOT NULL DEFAULT 0,
	conflicts       INTEGER NOT NULL DEFAULT 0,
	rule_errors     INTEGER NOT NULL DEFAULT 0,
	extended_cells  INTEGER NOT NULL DEFAULT 0,
	summary         JSONB
);

CREATE TABLE IF NOT EXISTS actions (
	id         BIGSERIAL PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	site_id    TEXT NOT NULL,
	sector_id  TEXT NOT NULL,
	date       TIMESTAMPTZ,
	field      TEXT NOT NULL,
	rule       TEXT NOT NULL,
	severity   TEXT NOT NULL,
	confidence DOUBLE PRECISION NOT NULL,
	decision   TEXT NOT NULL,
	old_value  DOUBLE PRECISION NOT NULL DEFAULT 0,
	new_value  DOUBLE PRECISION,
	strategy   TEXT NOT NULL DEFAULT '',
	acted_by   TEXT NOT NULL DEFAULT '',
	note       TEXT NOT NULL DEFAULT '',
	detail     TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_actions_run_decision ON actions (run_id, decision);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs (started_at);
`

// preparedStatements are registered on every new pool connection. Hot
// paths execute these by name; list queries are built per call.
var preparedStatements = map[string]string{
	"save_run": `INSERT INTO runs (
		id, started_at, finished_at, params_file, monitoring_file,
		snapshot_date, observations, processed, skipped, discrepancies,
		auto_corrected, flagged, conflicts, rule_errors, extended_cells,
		summary
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
	"finish_run": `UPDATE runs SET
		finished_at = $1, observations = $2, processed = $3, skipped = $4,
		discrepancies = $5, auto_corrected = $6, flagged = $7, conflicts = $8,
		rule_errors = $9, extended_cells = $10, summary = $11
	WHERE id = $12`,
	"get_run": `SELECT ` + runColumns + ` FROM runs WHERE id = $1`,
}

// PoolConfig tunes the Postgres connection pool. Zero values keep pgx
// defaults.
type PoolConfig struct {
	MaxConns int32
	MinConns int32
}

// PostgresStore persists runs in Postgres for shared deployments.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

var _ Store = (*PostgresStore)(nil)

// NewPostgres connects to Postgres with connString and verifies the
// connection before returning.
func NewPostgres(ctx context.Context, connString string, cfg PoolConfig) (*PostgresStore, error) {
	pc, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "store: parse postgres config")
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pc.MinConns = cfg.MinConns
	}
	pc.MaxConnLifetime = 30 * time.Minute
	pc.MaxConnIdleTime = 5 * time.Minute
	pc.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, query := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, query); err != nil {
				return eris.Wrapf(err, "store: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, eris.Wrap(err, "store: connect postgres")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "store: ping postgres")
	}
	zap.L().Debug("postgres store ready",
		zap.Int32("max_conns", pc.MaxConns),
		zap.Int32("min_conns", pc.MinConns))
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "store: migrate postgres")
	}
	return nil
}

func (s *PostgresStore) SaveRun(ctx context.Context, run *Run) error {
	summary, err := marshalSummary(run.Summary)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, "save_run",
		run.ID, run.StartedAt, nullableTime(run.FinishedAt), run.ParamsFile,
		run.MonitoringFile, nullableTime(run.SnapshotDate),
		run.Stats.Observations, run.Stats.Processed, run.Stats.Skipped,
		run.Stats.Discrepancies, run.Stats.AutoCorrected, run.Stats.Flagged,
		run.Stats.Conflicts, run.Stats.RuleErrors, run.Stats.ExtendedCells,
		summary,
	)
	return eris.Wrapf(err, "store: save run %s", run.ID)
}

func (s *PostgresStore) FinishRun(ctx context.Context, runID string, finishedAt time.Time, stats engine.Stats, summary *audit.Summary) error {
	payload, err := marshalSummary(summary)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, "finish_run",
		finishedAt, stats.Observations, stats.Processed, stats.Skipped,
		stats.Discrepancies, stats.AutoCorrected, stats.Flagged,
		stats.Conflicts, stats.RuleErrors, stats.ExtendedCells, payload,
		runID,
	)
	if err != nil {
		return eris.Wrapf(err, "store: finish run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "store: run %s", runID)
	}
	return nil
}

// SaveActions bulk-loads the trail over the COPY protocol, which keeps
// large runs to a single round trip.
func (s *PostgresStore) SaveActions(ctx context.Context, runID string, actions []model.CorrectionAction) error {
	if len(actions) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(actions))
	for i := range actions {
		rows = append(rows, actionRow(runID, actions[i]))
	}
	n, err := db.CopyInto(ctx, s.pool, "actions", actionColumns, rows)
	if err != nil {
		return eris.Wrapf(err, "store: save actions for run %s", runID)
	}
	if n != int64(len(actions)) {
		return eris.Errorf("store: copied %d of %d actions for run %s", n, len(actions), runID)
	}
	zap.L().Debug("audit trail persisted",
		zap.String("run_id", runID),
		zap.Int("actions", len(actions)))
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	run, err := scanRun(s.pool.QueryRow(ctx, "get_run", runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "store: run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "store: get run %s", runID)
	}
	return run, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultRunLimit
	}
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC LIMIT $1`
	args := []any{limit}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "store: list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "store: scan run")
		}
		runs = append(runs, *run)
	}
	return runs, eris.Wrap(rows.Err(), "store: iterate runs")
}

func (s *PostgresStore) ListActions(ctx context.Context, runID string, filter ActionFilter) ([]model.CorrectionAction, error) {
	query := `SELECT site_id, sector_id, date, field, rule, severity,
		confidence, decision, old_value, new_value, strategy, acted_by, note,
		detail, created_at FROM actions WHERE run_id = $1`
	args := []any{runID}
	if filter.Decision != "" {
		args = append(args, string(filter.Decision))
		query += fmt.Sprintf(" AND decision = $%d", len(args))
	}
	query += " ORDER BY id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "store: list actions for run %s", runID)
	}
	defer rows.Close()

	var actions []model.CorrectionAction
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, eris.Wrap(err, "store: scan action")
		}
		actions = append(actions, a)
	}
	return actions, eris.Wrap(rows.Err(), "store: iterate actions")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}
