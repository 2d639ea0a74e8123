package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/enisisuko/ICee-agent/internal/domain"
)

// timeLayout sorts lexicographically in UTC.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	runs   *sqliteRuns
	steps  *sqliteSteps
	events *sqliteEvents
}

// NewSQLiteStore creates a new SQLite store and migrates its schema.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	// For in-memory SQLite, multiple connections create separate databases.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "failed to apply %q", pragma)
		}
	}

	store := &SQLiteStore{
		db:     db,
		runs:   &sqliteRuns{db: db},
		steps:  &sqliteSteps{db: db},
		events: &sqliteEvents{db: db},
	}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to migrate database")
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			graph_id TEXT NOT NULL,
			graph_version TEXT NOT NULL,
			state TEXT NOT NULL DEFAULT 'IDLE',
			parent_run_id TEXT,
			fork_from_step TEXT,
			parent_version TEXT,
			input TEXT,
			output TEXT,
			total_tokens INTEGER NOT NULL DEFAULT 0,
			total_cost_usd REAL NOT NULL DEFAULT 0.0,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			error TEXT,
			started_at TEXT,
			completed_at TEXT,
			created_at TEXT NOT NULL,
			FOREIGN KEY (parent_run_id) REFERENCES runs(run_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_state ON runs(state, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_parent ON runs(parent_run_id)`,
		`CREATE TABLE IF NOT EXISTS steps (
			step_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			node_id TEXT NOT NULL,
			node_type TEXT NOT NULL,
			node_label TEXT NOT NULL,
			state TEXT NOT NULL DEFAULT 'PENDING',
			inherited INTEGER NOT NULL DEFAULT 0,
			retry_count INTEGER NOT NULL DEFAULT 0,
			sequence INTEGER NOT NULL,
			started_at TEXT,
			completed_at TEXT,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			FOREIGN KEY (run_id) REFERENCES runs(run_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_steps_run ON steps(run_id, sequence)`,
		`CREATE TABLE IF NOT EXISTS events (
			event_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			step_id TEXT NOT NULL,
			node_id TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			input_snapshot TEXT,
			rendered_prompt TEXT,
			output TEXT,
			error TEXT,
			tokens INTEGER NOT NULL DEFAULT 0,
			cost_usd REAL NOT NULL DEFAULT 0.0,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			provider_meta TEXT,
			FOREIGN KEY (run_id) REFERENCES runs(run_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_run ON events(run_id, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_events_step ON events(step_id, timestamp)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}

	// Columns added after the first release.
	if err := s.ensureColumn("events", "cache_hit", `ALTER TABLE events ADD COLUMN cache_hit INTEGER NOT NULL DEFAULT 0`); err != nil {
		return err
	}
	return s.ensureColumn("events", "cache_key", `ALTER TABLE events ADD COLUMN cache_key TEXT`)
}

func (s *SQLiteStore) ensureColumn(tableName, columnName, ddl string) error {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dfltValue sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return err
		}
		if name == columnName {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	_, err = s.db.Exec(ddl)
	return err
}

// Runs returns the run repository.
func (s *SQLiteStore) Runs() RunRepository { return s.runs }

// Steps returns the step repository.
func (s *SQLiteStore) Steps() StepRepository { return s.steps }

// Events returns the event repository.
func (s *SQLiteStore) Events() EventRepository { return s.events }

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type sqliteRuns struct {
	db *sql.DB
}

const runColumns = `run_id, graph_id, graph_version, state, parent_run_id, fork_from_step, parent_version,
	input, output, total_tokens, total_cost_usd, duration_ms, error, started_at, completed_at, created_at`

// Create inserts a new run.
func (r *sqliteRuns) Create(ctx context.Context, run *domain.Run) error {
	input, err := nullJSON(run.Input)
	if err != nil {
		return err
	}
	output, err := nullJSON(run.Output)
	if err != nil {
		return err
	}
	errData, err := nullJSON(run.Error)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.GraphID, run.GraphVersion, run.State,
		nullString(run.ParentRunID), nullString(run.ForkFromStepID), nullString(run.ParentVersion),
		input, output, run.TotalTokens, run.TotalCostUSD, run.DurationMs, errData,
		nullTime(run.StartedAt), nullTime(run.CompletedAt), formatTime(run.CreatedAt))
	return errors.Wrapf(err, "insert run %s", run.RunID)
}

// FindByID retrieves a run by ID.
func (r *sqliteRuns) FindByID(ctx context.Context, runID string) (*domain.Run, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// FindAll lists runs newest first.
func (r *sqliteRuns) FindAll(ctx context.Context, limit, offset int) ([]domain.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectRuns(rows)
}

// FindByState lists runs in the given state, newest first.
func (r *sqliteRuns) FindByState(ctx context.Context, state domain.RunState) ([]domain.Run, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE state = ? ORDER BY created_at DESC, rowid DESC`, state)
	if err != nil {
		return nil, err
	}
	return collectRuns(rows)
}

// UpdateState updates the state of a run that has not completed.
func (r *sqliteRuns) UpdateState(ctx context.Context, runID string, state domain.RunState) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE runs SET state = ? WHERE run_id = ? AND completed_at IS NULL`,
		state, runID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// Complete writes the terminal state of a run.
func (r *sqliteRuns) Complete(ctx context.Context, runID string, c domain.RunCompletion) (bool, error) {
	output, err := nullJSON(c.Output)
	if err != nil {
		return false, err
	}
	errData, err := nullJSON(c.Error)
	if err != nil {
		return false, err
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE runs SET state = ?, output = ?, total_tokens = ?, total_cost_usd = ?, duration_ms = ?, error = ?, completed_at = ?
		WHERE run_id = ? AND completed_at IS NULL`,
		c.State, output, c.TotalTokens, c.TotalCostUSD, c.DurationMs, errData, formatTime(c.CompletedAt), runID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*domain.Run, error) {
	var run domain.Run
	var parentRunID, forkFrom, parentVersion, input, output, errData, startedAt, completedAt sql.NullString
	var createdAt string
	err := row.Scan(&run.RunID, &run.GraphID, &run.GraphVersion, &run.State,
		&parentRunID, &forkFrom, &parentVersion, &input, &output,
		&run.TotalTokens, &run.TotalCostUSD, &run.DurationMs, &errData,
		&startedAt, &completedAt, &createdAt)
	if err != nil {
		return nil, err
	}
	run.ParentRunID = parentRunID.String
	run.ForkFromStepID = forkFrom.String
	run.ParentVersion = parentVersion.String
	if err := unmarshalNull(input, &run.Input); err != nil {
		return nil, err
	}
	if err := unmarshalNull(output, &run.Output); err != nil {
		return nil, err
	}
	if errData.Valid {
		run.Error = &domain.ErrorEnvelope{}
		if err := json.Unmarshal([]byte(errData.String), run.Error); err != nil {
			return nil, errors.Wrap(err, "decode run error")
		}
	}
	if run.StartedAt, err = parseNullTime(startedAt); err != nil {
		return nil, err
	}
	if run.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, err
	}
	if run.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &run, nil
}

func collectRuns(rows *sql.Rows) ([]domain.Run, error) {
	defer rows.Close()
	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

type sqliteSteps struct {
	db *sql.DB
}

const stepColumns = `step_id, run_id, node_id, node_type, node_label, state, inherited, retry_count, sequence,
	started_at, completed_at, duration_ms`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertStep(ctx context.Context, db execer, step *domain.Step) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO steps (`+stepColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		step.StepID, step.RunID, step.NodeID, step.NodeType, step.NodeLabel, step.State,
		step.Inherited, step.RetryCount, step.Sequence,
		nullTime(step.StartedAt), nullTime(step.CompletedAt), step.DurationMs)
	return errors.Wrapf(err, "insert step %s", step.StepID)
}

// Create inserts a step.
func (r *sqliteSteps) Create(ctx context.Context, step *domain.Step) error {
	return insertStep(ctx, r.db, step)
}

// CreateMany inserts steps in a single transaction.
func (r *sqliteSteps) CreateMany(ctx context.Context, steps []domain.Step) error {
	if len(steps) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for i := range steps {
		if err := insertStep(ctx, tx, &steps[i]); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// FindByID retrieves a step by ID.
func (r *sqliteSteps) FindByID(ctx context.Context, stepID string) (*domain.Step, error) {
	step, err := scanStep(r.db.QueryRowContext(ctx, `SELECT `+stepColumns+` FROM steps WHERE step_id = ?`, stepID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return step, nil
}

// FindByRunID retrieves the steps of a run in sequence order.
func (r *sqliteSteps) FindByRunID(ctx context.Context, runID string) ([]domain.Step, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+stepColumns+` FROM steps WHERE run_id = ? ORDER BY sequence ASC, rowid ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []domain.Step
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, *step)
	}
	return steps, rows.Err()
}

// UpdateState sets the step state and any fields present in u.
func (r *sqliteSteps) UpdateState(ctx context.Context, stepID string, state domain.StepState, u domain.StepUpdate) error {
	fields := []string{"state = ?"}
	args := []any{state}
	if u.StartedAt != nil {
		fields = append(fields, "started_at = ?")
		args = append(args, formatTime(*u.StartedAt))
	}
	if u.CompletedAt != nil {
		fields = append(fields, "completed_at = ?")
		args = append(args, formatTime(*u.CompletedAt))
	}
	if u.DurationMs != nil {
		fields = append(fields, "duration_ms = ?")
		args = append(args, *u.DurationMs)
	}
	if u.RetryCount != nil {
		fields = append(fields, "retry_count = ?")
		args = append(args, *u.RetryCount)
	}
	args = append(args, stepID)

	_, err := r.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE steps SET %s WHERE step_id = ?", strings.Join(fields, ", ")), args...)
	return err
}

func scanStep(row rowScanner) (*domain.Step, error) {
	var step domain.Step
	var startedAt, completedAt sql.NullString
	err := row.Scan(&step.StepID, &step.RunID, &step.NodeID, &step.NodeType, &step.NodeLabel, &step.State,
		&step.Inherited, &step.RetryCount, &step.Sequence, &startedAt, &completedAt, &step.DurationMs)
	if err != nil {
		return nil, err
	}
	if step.StartedAt, err = parseNullTime(startedAt); err != nil {
		return nil, err
	}
	if step.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, err
	}
	return &step, nil
}

type sqliteEvents struct {
	db *sql.DB
}

const eventColumns = `event_id, run_id, step_id, node_id, timestamp, input_snapshot, rendered_prompt, output, error,
	tokens, cost_usd, duration_ms, provider_meta, cache_hit, cache_key`

func insertEvent(ctx context.Context, db execer, event *domain.StepEvent) error {
	errData, err := nullJSON(event.Error)
	if err != nil {
		return err
	}
	meta, err := nullJSON(event.ProviderMeta)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO events (`+eventColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.EventID, event.RunID, event.StepID, event.NodeID, formatTime(event.Timestamp),
		nullStringBytes(event.InputSnapshot), nullString(event.RenderedPrompt), nullStringBytes(event.Output), errData,
		event.Tokens, event.CostUSD, event.DurationMs, meta, event.CacheHit, nullString(event.CacheKey))
	return errors.Wrapf(err, "append event %s", event.EventID)
}

// Append records an event.
func (r *sqliteEvents) Append(ctx context.Context, event *domain.StepEvent) error {
	return insertEvent(ctx, r.db, event)
}

// AppendMany records events in a single transaction.
func (r *sqliteEvents) AppendMany(ctx context.Context, events []domain.StepEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for i := range events {
		if err := insertEvent(ctx, tx, &events[i]); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// FindByRunID retrieves the events of a run in timestamp order.
func (r *sqliteEvents) FindByRunID(ctx context.Context, runID string) ([]domain.StepEvent, error) {
	return r.query(ctx, `SELECT `+eventColumns+` FROM events WHERE run_id = ? ORDER BY timestamp ASC, rowid ASC`, runID)
}

// FindByStepID retrieves the events of a step in timestamp order.
func (r *sqliteEvents) FindByStepID(ctx context.Context, stepID string) ([]domain.StepEvent, error) {
	return r.query(ctx, `SELECT `+eventColumns+` FROM events WHERE step_id = ? ORDER BY timestamp ASC, rowid ASC`, stepID)
}

// FindFromStep retrieves the events of a run starting at the first event of stepID.
func (r *sqliteEvents) FindFromStep(ctx context.Context, runID, stepID string) ([]domain.StepEvent, error) {
	var pivot string
	err := r.db.QueryRowContext(ctx,
		`SELECT timestamp FROM events WHERE run_id = ? AND step_id = ? ORDER BY timestamp ASC LIMIT 1`,
		runID, stepID).Scan(&pivot)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r.query(ctx,
		`SELECT `+eventColumns+` FROM events WHERE run_id = ? AND timestamp >= ? ORDER BY timestamp ASC, rowid ASC`,
		runID, pivot)
}

// GetRunStats aggregates tokens, cost and error count over a run's events.
func (r *sqliteEvents) GetRunStats(ctx context.Context, runID string) (*domain.RunStats, error) {
	var stats domain.RunStats
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(tokens), 0), COALESCE(SUM(cost_usd), 0.0), COUNT(*),
			COALESCE(SUM(CASE WHEN error IS NOT NULL THEN 1 ELSE 0 END), 0)
		FROM events WHERE run_id = ?`, runID).
		Scan(&stats.TotalTokens, &stats.TotalCostUSD, &stats.EventCount, &stats.ErrorCount)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

func (r *sqliteEvents) query(ctx context.Context, query string, args ...any) ([]domain.StepEvent, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.StepEvent
	for rows.Next() {
		var ev domain.StepEvent
		var ts string
		var input, prompt, output, errData, meta, cacheKey sql.NullString
		if err := rows.Scan(&ev.EventID, &ev.RunID, &ev.StepID, &ev.NodeID, &ts, &input, &prompt, &output, &errData,
			&ev.Tokens, &ev.CostUSD, &ev.DurationMs, &meta, &ev.CacheHit, &cacheKey); err != nil {
			return nil, err
		}
		if ev.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		if input.Valid {
			ev.InputSnapshot = json.RawMessage(input.String)
		}
		if output.Valid {
			ev.Output = json.RawMessage(output.String)
		}
		ev.RenderedPrompt = prompt.String
		ev.CacheKey = cacheKey.String
		if errData.Valid {
			ev.Error = &domain.ErrorEnvelope{}
			if err := json.Unmarshal([]byte(errData.String), ev.Error); err != nil {
				return nil, errors.Wrap(err, "decode event error")
			}
		}
		if meta.Valid {
			ev.ProviderMeta = &domain.ProviderMeta{}
			if err := json.Unmarshal([]byte(meta.String), ev.ProviderMeta); err != nil {
				return nil, errors.Wrap(err, "decode provider meta")
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullStringBytes(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

// nullJSON encodes v, mapping nil maps and pointers to NULL.
func nullJSON[T any](v T) (sql.NullString, error) {
	switch x := any(v).(type) {
	case map[string]any:
		if x == nil {
			return sql.NullString{}, nil
		}
	case *domain.ErrorEnvelope:
		if x == nil {
			return sql.NullString{}, nil
		}
	case *domain.ProviderMeta:
		if x == nil {
			return sql.NullString{}, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, errors.Wrap(err, "encode column")
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalNull(s sql.NullString, dst *map[string]any) error {
	if !s.Valid {
		return nil
	}
	return errors.Wrap(json.Unmarshal([]byte(s.String), dst), "decode column")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	return t, errors.Wrapf(err, "parse time %q", s)
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
