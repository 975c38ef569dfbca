package sink

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pkg/errors"

	"github.com/you/gnasty-triggers/internal/core"
	"github.com/you/gnasty-triggers/internal/httpapi"
	"github.com/you/gnasty-triggers/internal/runtrace"
)

const schema = `CREATE TABLE IF NOT EXISTS runs (
  id TEXT NOT NULL PRIMARY KEY,
  kind TEXT NOT NULL,
  rule_key TEXT NOT NULL DEFAULT '',
  username TEXT NOT NULL DEFAULT '',
  user_id TEXT NOT NULL DEFAULT '',
  outcome TEXT NOT NULL,
  reason TEXT NOT NULL DEFAULT '',
  steps INTEGER NOT NULL DEFAULT 0,
  failures INTEGER NOT NULL DEFAULT 0,
  test INTEGER NOT NULL DEFAULT 0,
  queued_at TEXT NOT NULL,
  started_at TEXT NOT NULL,
  finished_at TEXT NOT NULL,
  fingerprint TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);`

const runColumns = "id, kind, rule_key, username, user_id, outcome, reason, steps, failures, test, queued_at, started_at, finished_at"

type SQLiteSink struct {
	db *sql.DB
}

const defaultListLimit = 100

func OpenSQLite(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "apply schema")
	}
	if _, err := db.Exec(`PRAGMA journal_mode=wal;`); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "set WAL")
	}
	ApplySQLitePragmas(context.Background(), db)
	return &SQLiteSink{db: db}, nil
}

func (s *SQLiteSink) Close() error { return s.db.Close() }

// RawDB exposes the handle for startup migrations.
func (s *SQLiteSink) RawDB() *sql.DB { return s.db }

const insertRun = `INSERT INTO runs (id, kind, rule_key, username, user_id, outcome, reason, steps, failures, test, queued_at, started_at, finished_at, fingerprint)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING;`

func runArgs(run core.Run, trace *runtrace.RunTrace) []any {
	fingerprint := ""
	if trace != nil {
		fingerprint = trace.Fingerprint
	}
	return []any{run.ID, string(run.Kind), run.Key, run.User, run.UserID,
		string(run.Outcome), run.Reason, run.Steps, run.Failures, boolInt(run.Test),
		formatTime(run.QueuedAt), formatTime(run.StartedAt), formatTime(run.FinishedAt), fingerprint}
}

func (s *SQLiteSink) Write(run core.Run, trace *runtrace.RunTrace) error {
	_, err := s.db.Exec(insertRun, runArgs(run, trace)...)
	return errors.Wrap(err, "insert run")
}

// WriteBatch stores batch in one transaction; either every run lands or none.
func (s *SQLiteSink) WriteBatch(batch []Record) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin batch")
	}
	stmt, err := tx.Prepare(insertRun)
	if err != nil {
		_ = tx.Rollback()
		return errors.Wrap(err, "prepare insert")
	}
	defer stmt.Close()

	for _, rec := range batch {
		if _, err := stmt.Exec(runArgs(rec.Run, rec.Trace)...); err != nil {
			_ = tx.Rollback()
			return errors.Wrapf(err, "insert run %s", rec.Run.ID)
		}
	}
	return errors.Wrap(tx.Commit(), "commit batch")
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Fixed-width timestamps keep lexical and chronological order identical.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func (s *SQLiteSink) Ping() error {
	return s.db.Ping()
}

func (s *SQLiteSink) String() string {
	return fmt.Sprintf("SQLiteSink{%p}", s.db)
}

func (s *SQLiteSink) CountRuns(ctx context.Context, filters httpapi.Filters) (int64, error) {
	query, args := buildRunQuery(filters, true)
	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count")
	}
	return n, nil
}

func (s *SQLiteSink) ListRuns(ctx context.Context, filters httpapi.Filters) ([]core.Run, error) {
	query, args := buildRunQuery(filters, false)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list runs")
	}
	defer rows.Close()

	var out []core.Run
	for rows.Next() {
		var (
			run                       core.Run
			kind, outcome             string
			test                      int
			queued, started, finished string
		)
		if err := rows.Scan(&run.ID, &kind, &run.Key, &run.User, &run.UserID, &outcome, &run.Reason,
			&run.Steps, &run.Failures, &test, &queued, &started, &finished); err != nil {
			return nil, errors.Wrap(err, "scan run")
		}
		run.Kind = core.Kind(kind)
		run.Outcome = core.Outcome(outcome)
		run.Test = test != 0
		run.QueuedAt = parseTime(queued)
		run.StartedAt = parseTime(started)
		run.FinishedAt = parseTime(finished)
		out = append(out, run)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate runs")
	}
	return out, nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(tsLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func buildRunQuery(filters httpapi.Filters, count bool) (string, []any) {
	var builder strings.Builder
	if count {
		builder.WriteString("SELECT COUNT(*) FROM runs")
	} else {
		builder.WriteString("SELECT " + runColumns + " FROM runs")
	}

	var (
		conditions []string
		args       []any
	)

	if len(filters.Outcomes) > 0 {
		placeholders := make([]string, 0, len(filters.Outcomes))
		for _, o := range filters.Outcomes {
			placeholders = append(placeholders, "?")
			args = append(args, string(o))
		}
		conditions = append(conditions, fmt.Sprintf("outcome IN (%s)", strings.Join(placeholders, ",")))
	}

	if len(filters.Keys) > 0 {
		ors := make([]string, 0, len(filters.Keys))
		for _, k := range filters.Keys {
			ors = append(ors, "(rule_key = ? OR instr(rule_key, ?) = 1)")
			args = append(args, k, k+"_")
		}
		conditions = append(conditions, fmt.Sprintf("(%s)", strings.Join(ors, " OR ")))
	}

	if len(filters.Users) > 0 {
		ors := make([]string, 0, len(filters.Users))
		for _, u := range filters.Users {
			ors = append(ors, "instr(LOWER(username), ?) > 0")
			args = append(args, u)
		}
		conditions = append(conditions, fmt.Sprintf("(%s)", strings.Join(ors, " OR ")))
	}

	if filters.Test != nil {
		conditions = append(conditions, "test = ?")
		args = append(args, boolInt(*filters.Test))
	}

	if filters.Since != nil {
		conditions = append(conditions, "started_at >= ?")
		args = append(args, formatTime(*filters.Since))
	}

	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}

	if !count {
		order := "DESC"
		if filters.Order == httpapi.OrderAsc {
			order = "ASC"
		}
		builder.WriteString(" ORDER BY started_at ")
		builder.WriteString(order)
		builder.WriteString(", rowid ")
		builder.WriteString(order)
		limit := filters.Limit
		if limit <= 0 {
			limit = defaultListLimit
		}
		builder.WriteString(" LIMIT ?")
		args = append(args, limit)
	}

	builder.WriteString(";")
	return builder.String(), args
}
