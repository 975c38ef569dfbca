package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
)

const runsUserVersion = 2

type sqliteColumn struct {
	Name        string
	Type        string
	NotNull     bool
	DefaultText string
}

// migrateSQLite upgrades run logs written by older builds in place.
func migrateSQLite(ctx context.Context, db *sql.DB) error {
	path := sqlitePath(ctx, db)
	userVersion, err := sqliteUserVersion(ctx, db)
	if err != nil {
		return fmt.Errorf("sqlite: user_version: %w", err)
	}

	log.Printf("triggerd: sqlite: path=%s user_version=%d", path, userVersion)

	columns, err := sqliteTableInfo(ctx, db, "runs")
	if err != nil {
		return fmt.Errorf("sqlite: describe runs: %w", err)
	}
	if len(columns) == 0 {
		log.Printf("triggerd: sqlite: runs table missing; skipping migration")
		return nil
	}

	added := []struct {
		name string
		ddl  string
	}{
		{"user_id", `ALTER TABLE runs ADD COLUMN user_id TEXT NOT NULL DEFAULT '';`},
		{"reason", `ALTER TABLE runs ADD COLUMN reason TEXT NOT NULL DEFAULT '';`},
		{"failures", `ALTER TABLE runs ADD COLUMN failures INTEGER NOT NULL DEFAULT 0;`},
		{"fingerprint", `ALTER TABLE runs ADD COLUMN fingerprint TEXT NOT NULL DEFAULT '';`},
	}
	for _, col := range added {
		if _, ok := columns[col.name]; ok {
			continue
		}
		if _, err := db.ExecContext(ctx, col.ddl); err != nil {
			return fmt.Errorf("sqlite: ensure %s column: %w", col.name, err)
		}
		log.Printf("triggerd: sqlite: added %s column to runs", col.name)
	}

	normalize := []struct {
		query string
		label string
	}{
		{`UPDATE runs SET rule_key='' WHERE rule_key IS NULL;`, "rule_key"},
		{`UPDATE runs SET username='' WHERE username IS NULL;`, "username"},
		{`UPDATE runs SET outcome='executed' WHERE outcome IS NULL OR TRIM(outcome) = '';`, "outcome"},
	}
	for _, step := range normalize {
		res, execErr := db.ExecContext(ctx, step.query)
		if execErr != nil {
			return fmt.Errorf("sqlite: normalize %s: %w", step.label, execErr)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			log.Printf("triggerd: sqlite: normalized %s rows=%d", step.label, n)
		}
	}

	if _, err := db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);`); err != nil {
		return fmt.Errorf("sqlite: ensure idx_runs_started_at: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_runs_rule_key ON runs(rule_key);`); err != nil {
		return fmt.Errorf("sqlite: ensure idx_runs_rule_key: %w", err)
	}

	if userVersion < runsUserVersion {
		if _, err := db.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d;`, runsUserVersion)); err != nil {
			return fmt.Errorf("sqlite: set user_version: %w", err)
		}
	}

	hasStarted, err := sqliteHasIndex(ctx, db, "runs", "idx_runs_started_at")
	if err != nil {
		return fmt.Errorf("sqlite: inspect indices: %w", err)
	}
	var total int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs;`).Scan(&total); err != nil {
		return fmt.Errorf("sqlite: count runs: %w", err)
	}

	log.Printf("triggerd: sqlite: runs=%d idx_runs_started_at=%v user_version=%d",
		total,
		hasStarted,
		max(userVersion, runsUserVersion),
	)

	return nil
}

func sqlitePath(ctx context.Context, db *sql.DB) string {
	rows, err := db.QueryContext(ctx, `PRAGMA database_list;`)
	if err != nil {
		return "(unknown)"
	}
	defer rows.Close()

	for rows.Next() {
		var (
			seq  int
			name string
			file sql.NullString
		)
		if err := rows.Scan(&seq, &name, &file); err != nil {
			return "(unknown)"
		}
		if strings.EqualFold(strings.TrimSpace(name), "main") {
			if file.Valid && strings.TrimSpace(file.String) != "" {
				return file.String
			}
			return "(memory)"
		}
	}
	return "(unknown)"
}

func sqliteUserVersion(ctx context.Context, db *sql.DB) (int, error) {
	var userVersion int
	if err := db.QueryRowContext(ctx, `PRAGMA user_version;`).Scan(&userVersion); err != nil {
		return 0, err
	}
	return userVersion, nil
}

func sqliteTableInfo(ctx context.Context, db *sql.DB, table string) (map[string]sqliteColumn, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s);`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]sqliteColumn)
	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return nil, err
		}
		out[strings.ToLower(strings.TrimSpace(name))] = sqliteColumn{
			Name:        name,
			Type:        strings.TrimSpace(colType),
			NotNull:     notNull == 1,
			DefaultText: strings.TrimSpace(defaultVal.String),
		}
	}
	return out, rows.Err()
}

func sqliteHasIndex(ctx context.Context, db *sql.DB, table, index string) (bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA index_list('%s');`, table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			seq     int
			name    string
			unique  int
			origin  string
			partial int
		)
		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			return false, err
		}
		if strings.EqualFold(strings.TrimSpace(name), index) {
			return true, nil
		}
	}
	return false, rows.Err()
}
