package main

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func TestMigrateSQLite(t *testing.T) {
	t.Parallel()

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()

	schema := `CREATE TABLE runs (
  id TEXT NOT NULL PRIMARY KEY,
  kind TEXT NOT NULL,
  rule_key TEXT,
  username TEXT,
  outcome TEXT,
  steps INTEGER NOT NULL DEFAULT 0,
  test INTEGER NOT NULL DEFAULT 0,
  queued_at TEXT NOT NULL,
  started_at TEXT NOT NULL,
  finished_at TEXT NOT NULL
);`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	seed := `INSERT INTO runs (id, kind, rule_key, username, outcome, queued_at, started_at, finished_at)
VALUES
  ('a', 'message', 'chat-command_!hi', 'alice', 'executed', 't', 't', 't'),
  ('b', 'highlight', NULL, NULL, NULL, 't', 't', 't');
`
	if _, err := db.Exec(seed); err != nil {
		t.Fatalf("seed rows: %v", err)
	}

	ctx := context.Background()
	if err := migrateSQLite(ctx, db); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}

	cols, err := sqliteTableInfo(ctx, db, "runs")
	if err != nil {
		t.Fatalf("inspect columns: %v", err)
	}
	for _, name := range []string{"user_id", "reason", "failures", "fingerprint"} {
		col, ok := cols[name]
		if !ok {
			t.Fatalf("expected %s column to exist", name)
		}
		if !col.NotNull || col.DefaultText == "" {
			t.Fatalf("expected %s column to be NOT NULL with default, got %+v", name, col)
		}
	}

	var nulls int
	if err := db.QueryRow(`SELECT COUNT(*) FROM runs WHERE rule_key IS NULL OR username IS NULL OR outcome IS NULL;`).Scan(&nulls); err != nil {
		t.Fatalf("count nulls: %v", err)
	}
	if nulls != 0 {
		t.Fatalf("expected no NULL columns, got %d", nulls)
	}

	ok, err := sqliteHasIndex(ctx, db, "runs", "idx_runs_started_at")
	if err != nil || !ok {
		t.Fatalf("expected started_at index, ok=%v err=%v", ok, err)
	}

	v, err := sqliteUserVersion(ctx, db)
	if err != nil || v != runsUserVersion {
		t.Fatalf("user_version = %d (%v), want %d", v, err, runsUserVersion)
	}

	// second run is a no-op
	if err := migrateSQLite(ctx, db); err != nil {
		t.Fatalf("re-run migrate: %v", err)
	}
}

func TestMigrateSQLiteMissingTable(t *testing.T) {
	t.Parallel()

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "empty.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()

	if err := migrateSQLite(context.Background(), db); err != nil {
		t.Fatalf("migrate empty db: %v", err)
	}
}
