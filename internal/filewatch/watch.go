// Package filewatch calls back when a single file settles after a change.
package filewatch

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
)

// DefaultDebounce is how long a file must stay quiet before onChange runs.
const DefaultDebounce = 250 * time.Millisecond

const changeOps = fsnotify.Write | fsnotify.Create | fsnotify.Remove | fsnotify.Rename

// Watch observes the directory holding path so editors that replace the file
// through a rename are still seen. onChange runs on the watcher goroutine
// after debounce of quiet. Watch returns once the watcher is registered; the
// goroutine stops when ctx is done.
func Watch(ctx context.Context, path string, debounce time.Duration, onChange func()) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return errors.Wrap(err, "resolve watch path")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "new watcher")
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return errors.Wrapf(err, "watch %s", filepath.Dir(abs))
	}

	go run(ctx, w, abs, debounce, onChange)
	return nil
}

func run(ctx context.Context, w *fsnotify.Watcher, target string, debounce time.Duration, onChange func()) {
	defer w.Close()

	var settle <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target || ev.Op&changeOps == 0 {
				continue
			}
			settle = time.After(debounce)
		case <-settle:
			settle = nil
			onChange()
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			slog.Error("filewatch: watcher error", "path", target, "err", err)
		}
	}
}
