package rules

import (
	"context"
	"log/slog"

	"github.com/you/gnasty-triggers/internal/filewatch"
)

// Watch reloads the rules file whenever it changes, until ctx is done. A
// reload that fails keeps the previous table.
func (s *Store) Watch(ctx context.Context) error {
	if s.path == "" {
		return nil
	}
	return filewatch.Watch(ctx, s.path, filewatch.DefaultDebounce, func() {
		if _, err := s.Reload(); err != nil {
			slog.Error("rules: reload failed", "path", s.path, "err", err)
		}
	})
}
