package twitchirc

import (
	"context"
	"log/slog"

	"github.com/you/gnasty-triggers/internal/filewatch"
)

// Watch re-reads the token file whenever it is rewritten so the next
// reconnect uses the rotated token.
func (l *FileTokenLoader) Watch(ctx context.Context) error {
	return filewatch.Watch(ctx, l.path, filewatch.DefaultDebounce, func() {
		_, changed, err := l.Load()
		switch {
		case err != nil:
			slog.Error("twitchirc: token reload failed", "path", l.path, "err", err)
		case changed:
			slog.Info("twitchirc: token file rotated; used on next connect", "path", l.path)
		}
	})
}
