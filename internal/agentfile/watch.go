package agentfile

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ShayCichocki/orchestra/internal/orchestrator"
	"github.com/ShayCichocki/orchestra/pkg/logging"
)

// Syncer replaces its agent pool from a source. *orchestrator.Engine implements it.
type Syncer interface {
	SyncAgents(ctx context.Context, src orchestrator.AgentSource) (int, error)
}

// Watcher reloads an agents file into a Syncer whenever the file changes.
type Watcher struct {
	file     File
	target   Syncer
	log      *logging.Logger
	debounce time.Duration
	// reloaded, when set, receives the agent count after each successful sync.
	reloaded func(int)
}

// WatchOption configures a Watcher.
type WatchOption func(*Watcher)

// WithDebounce sets how long the watcher waits for writes to settle.
func WithDebounce(d time.Duration) WatchOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithLogger sets the watcher's logger.
func WithLogger(l *logging.Logger) WatchOption {
	return func(w *Watcher) { w.log = l }
}

// OnReload registers a callback invoked after each successful sync.
func OnReload(fn func(agents int)) WatchOption {
	return func(w *Watcher) { w.reloaded = fn }
}

// NewWatcher creates a Watcher for the file at path.
func NewWatcher(path string, target Syncer, opts ...WatchOption) *Watcher {
	w := &Watcher{
		file:     File{Path: path},
		target:   target,
		log:      logging.Nop(),
		debounce: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.log = w.log.WithComponent("agentfile")
	return w
}

// Run performs an initial sync and then resyncs on every change until ctx
// is done. The parent directory is watched so editors that replace the file
// by rename are picked up.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.sync(ctx); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(w.file.Path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	target := filepath.Clean(w.file.Path)

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.log.Debug("agents file changed", "op", event.Op.String())
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			pending = timer.C
		case <-pending:
			pending = nil
			if err := w.sync(ctx); err != nil {
				// Keep the previous pool; a half-written file will trigger another event.
				w.log.WithError(err).Warn("agents file reload failed")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.WithError(err).Error("fsnotify error")
		}
	}
}

func (w *Watcher) sync(ctx context.Context) error {
	n, err := w.target.SyncAgents(ctx, w.file)
	if err != nil {
		return fmt.Errorf("sync agents from %s: %w", w.file.Path, err)
	}
	w.log.Info("agents loaded", "path", w.file.Path, "agents", n)
	if w.reloaded != nil {
		w.reloaded(n)
	}
	return nil
}
