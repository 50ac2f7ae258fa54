package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/towerline/rfrecon-cli/internal/audit"
	"github.com/towerline/rfrecon-cli/internal/engine"
	"github.com/towerline/rfrecon-cli/internal/model"
)

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id              TEXT PRIMARY KEY,
	started_at      DATETIME NOT NULL,
	finished_at     DATETIME,
	params_file     TEXT NOT NULL DEFAULT '',
	monitoring_file TEXT NOT NULL DEFAULT '',
	snapshot_date   DATETIME,
	observations    INTEGER NOT NULL DEFAULT 0,
	processed       INTEGER NOT NULL DEFAULT 0,
	skipped         INTEGER NOT NULL DEFAULT 0,
	discrepancies   INTEGER NOT NULL DEFAULT 0,
	auto_corrected  INTEGER NOT NULL DEFAULT 0,
	flagged         INTEGER NOT NULL DEFAULT 0,
	conflicts       INTEGER NOT NULL DEFAULT 0,
	rule_errors     INTEGER NOT NULL DEFAULT 0,
	extended_cells  INTEGER NOT NULL DEFAULT 0,
	summary         TEXT
);

CREATE TABLE IF NOT EXISTS actions (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	site_id    TEXT NOT NULL,
	sector_id  TEXT NOT NULL,
	date       DATETIME,
	field      TEXT NOT NULL,
	rule       TEXT NOT NULL,
	severity   TEXT NOT NULL,
	confidence REAL NOT NULL,
	decision   TEXT NOT NULL,
	old_value  REAL NOT NULL DEFAULT 0,
	new_value  REAL,
	strategy   TEXT NOT NULL DEFAULT '',
	acted_by   TEXT NOT NULL DEFAULT '',
	note       TEXT NOT NULL DEFAULT '',
	detail     TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_actions_run_decision ON actions (run_id, decision);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs (started_at);
`

// SQLiteStore keeps run history in a local file. Zero setup, good for a
// single operator; shared teams should use Postgres.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLite opens (creating if needed) the run database at path.
func NewSQLite(path string) (*SQLiteStore, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "store: open sqlite")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, eris.Wrapf(err, "store: %s", pragma)
		}
	}
	return &SQLiteStore{db: sqlDB}, nil
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteMigration); err != nil {
		return eris.Wrap(err, "store: migrate sqlite")
	}
	return nil
}

func (s *SQLiteStore) SaveRun(ctx context.Context, run *Run) error {
	summary, err := marshalSummary(run.Summary)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (
			id, started_at, finished_at, params_file, monitoring_file,
			snapshot_date, observations, processed, skipped, discrepancies,
			auto_corrected, flagged, conflicts, rule_errors, extended_cells,
			summary
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.StartedAt, nullableTime(run.FinishedAt), run.ParamsFile,
		run.MonitoringFile, nullableTime(run.SnapshotDate),
		run.Stats.Observations, run.Stats.Processed, run.Stats.Skipped,
		run.Stats.Discrepancies, run.Stats.AutoCorrected, run.Stats.Flagged,
		run.Stats.Conflicts, run.Stats.RuleErrors, run.Stats.ExtendedCells,
		summary,
	)
	return eris.Wrapf(err, "store: save run %s", run.ID)
}

func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, finishedAt time.Time, stats engine.Stats, summary *audit.Summary) error {
	payload, err := marshalSummary(summary)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET
			finished_at = ?, observations = ?, processed = ?, skipped = ?,
			discrepancies = ?, auto_corrected = ?, flagged = ?, conflicts = ?,
			rule_errors = ?, extended_cells = ?, summary = ?
		WHERE id = ?`,
		finishedAt, stats.Observations, stats.Processed, stats.Skipped,
		stats.Discrepancies, stats.AutoCorrected, stats.Flagged,
		stats.Conflicts, stats.RuleErrors, stats.ExtendedCells, payload,
		runID,
	)
	if err != nil {
		return eris.Wrapf(err, "store: finish run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) SaveActions(ctx context.Context, runID string, actions []model.CorrectionAction) error {
	if len(actions) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "store: begin actions tx")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO actions (
			run_id, site_id, sector_id, date, field, rule, severity,
			confidence, decision, old_value, new_value, strategy, acted_by,
			note, detail, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "store: prepare action insert")
	}
	defer stmt.Close()

	for i := range actions {
		if _, err := stmt.ExecContext(ctx, actionRow(runID, actions[i])...); err != nil {
			return eris.Wrapf(err, "store: insert action for %s", actions[i].Discrepancy.Key)
		}
	}
	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "store: commit actions")
	}
	zap.L().Debug("audit trail persisted",
		zap.String("run_id", runID),
		zap.Int("actions", len(actions)))
	return nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "store: run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "store: get run %s", runID)
	}
	return run, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultRunLimit
	}
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC LIMIT ?`
	args := []any{limit}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
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

func (s *SQLiteStore) ListActions(ctx context.Context, runID string, filter ActionFilter) ([]model.CorrectionAction, error) {
	query := `SELECT site_id, sector_id, date, field, rule, severity,
		confidence, decision, old_value, new_value, strategy, acted_by, note,
		detail, created_at FROM actions WHERE run_id = ?`
	args := []any{runID}
	if filter.Decision != "" {
		query += " AND decision = ?"
		args = append(args, string(filter.Decision))
	}
	query += " ORDER BY id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
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

func (s *SQLiteStore) Close() error {
	return eris.Wrap(s.db.Close(), "store: close sqlite")
}

// scannable lets scanRun and scanAction work over *sql.Row, *sql.Rows and
// pgx rows alike.
type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*Run, error) {
	var (
		run      Run
		finished sql.NullTime
		snapshot sql.NullTime
		summary  sql.NullString
	)
	err := row.Scan(
		&run.ID, &run.StartedAt, &finished, &run.ParamsFile,
		&run.MonitoringFile, &snapshot, &run.Stats.Observations,
		&run.Stats.Processed, &run.Stats.Skipped, &run.Stats.Discrepancies,
		&run.Stats.AutoCorrected, &run.Stats.Flagged, &run.Stats.Conflicts,
		&run.Stats.RuleErrors, &run.Stats.ExtendedCells, &summary,
	)
	if err != nil {
		return nil, err
	}
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	if snapshot.Valid {
		t := snapshot.Time
		run.SnapshotDate = &t
	}
	if summary.Valid && summary.String != "" {
		var sum audit.Summary
		if err := json.Unmarshal([]byte(summary.String), &sum); err != nil {
			return nil, eris.Wrap(err, "store: decode run summary")
		}
		run.Summary = &sum
	}
	return &run, nil
}

func scanAction(row scannable) (model.CorrectionAction, error) {
	var (
		siteID, sectorID, field, rule, severity   string
		decision, strategy, actedBy, note, detail string
		confidence, oldValue                      float64
		date                                      sql.NullTime
		newValue                                  sql.NullFloat64
		createdAt                                 time.Time
	)
	if err := row.Scan(&siteID, &sectorID, &date, &field, &rule, &severity,
		&confidence, &decision, &oldValue, &newValue, &strategy, &actedBy,
		&note, &detail, &createdAt); err != nil {
		return model.CorrectionAction{}, err
	}
	var datePtr *time.Time
	if date.Valid {
		datePtr = &date.Time
	}
	var newPtr *float64
	if newValue.Valid {
		newPtr = &newValue.Float64
	}
	return rebuildAction(siteID, sectorID, datePtr, field, rule, severity,
		confidence, decision, oldValue, newPtr, strategy, actedBy, note,
		detail, createdAt), nil
}

func marshalSummary(s *audit.Summary) (any, error) {
	if s == nil {
		return nil, nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal run summary")
	}
	return string(b), nil
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrapf(err, "store: rows affected for %s %s", entity, id)
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "store: %s %s", entity, id)
	}
	return nil
}
