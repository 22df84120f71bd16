// Package watcher observes a single file for changes and fires a debounced
// callback. The credential manager uses it to pick up token documents
// rewritten by another process, so a long-running consumer never works from
// a stale session.
package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// Watcher fires onChange when the watched file is written, created or
// renamed. Bursts of events within the debounce window collapse into one
// callback.
type Watcher struct {
	path     string
	debounce time.Duration
	onChange func()
}

// New creates a watcher for path. The file does not need to exist yet; its
// parent directory does.
func New(path string, debounce time.Duration, onChange func()) *Watcher {
	return &Watcher{path: filepath.Clean(path), debounce: debounce, onChange: onChange}
}

// Run watches until ctx is cancelled. The parent directory is watched rather
// than the file itself, so atomic replace-by-rename does not silently drop
// the watch.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer func() {
		_ = fw.Close()
	}()

	dir := filepath.Dir(w.path)
	if err = fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	log.Debugf("watching %s for credential changes", w.path)

	var timer *time.Timer
	var timerC <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write | fsnotify.Create | fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.Warnf("file watcher error: %v", err)

		case <-timerC:
			w.onChange()
		}
	}
}
