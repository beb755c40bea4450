package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces the burst of events an editor save produces.
const watchDebounce = 500 * time.Millisecond

// watch analyzes the dataset now and again after every change until ctx is
// done. Failed runs are logged and do not stop the loop.
func (a *analyzer) watch(ctx context.Context) error {
	path, err := filepath.Abs(a.cfg.Dataset.Path)
	if err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer w.Close() //nolint:errcheck // best-effort cleanup

	// Watch the directory: editors often replace the file rather than write it.
	if err := w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(path), err)
	}

	a.runLogged(ctx)
	a.logger.Info("watching dataset", "path", path)

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
			} else {
				timer.Reset(watchDebounce)
			}
			fire = timer.C
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			a.logger.Warn("watcher error", "error", err)
		case <-fire:
			fire = nil
			a.runLogged(ctx)
		}
	}
}

func (a *analyzer) runLogged(ctx context.Context) {
	if _, err := a.run(ctx); err != nil && ctx.Err() == nil {
		a.logger.Error("analysis failed", "path", a.cfg.Dataset.Path, "error", err)
	}
}
