package sink

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

type pragma struct {
	name  string
	value string
}

var runLogPragmas = []pragma{
	{"synchronous", "NORMAL"},
	{"busy_timeout", "5000"},
	{"wal_autocheckpoint", "1000"},
	{"temp_store", "MEMORY"},
}

func sqliteTuningEnabled() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("GNASTY_SQLITE_TUNING"))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// ApplySQLitePragmas applies the run log tuning when GNASTY_SQLITE_TUNING is
// set and returns the value SQLite reports back for each pragma.
func ApplySQLitePragmas(ctx context.Context, db *sql.DB) map[string]string {
	if !sqliteTuningEnabled() {
		return nil
	}
	applied := make(map[string]string, len(runLogPragmas))
	for _, p := range runLogPragmas {
		got, err := setPragma(ctx, db, p)
		if err != nil {
			slog.Warn("sink: sqlite: pragma failed", "pragma", p.name, "err", err)
			continue
		}
		applied[p.name] = got
		slog.Info("sink: sqlite: pragma", "pragma", p.name, "value", got)
	}
	return applied
}

// setPragma writes and reads back on one pooled connection since some
// pragmas are per connection.
func setPragma(ctx context.Context, db *sql.DB, p pragma) (string, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	if _, err := conn.ExecContext(ctx, fmt.Sprintf("PRAGMA %s=%s;", p.name, p.value)); err != nil {
		return "", err
	}
	var got string
	if err := conn.QueryRowContext(ctx, fmt.Sprintf("PRAGMA %s;", p.name)).Scan(&got); err != nil {
		return "", err
	}
	return got, nil
}
