// Package watcher triggers re-runs when input dataset files change.
package watcher

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Event represents a file system event.
type Event struct {
	Path      string
	Operation Operation
}

// Operation represents the type of file operation.
type Operation int

// File operation types.
const (
	OpCreate Operation = iota
	OpModify
	OpDelete
)

// String returns the string representation of the operation.
func (o Operation) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Handler is called with the events of one quiet period. Calls never
// overlap: a run triggered by a change finishes before the next starts.
// Changes made while the handler runs, including its own writes to the
// watched files, do not trigger another run.
type Handler func(ctx context.Context, events []Event) error

// selfWriteGrace is how long after a run events are still attributed to it;
// fsnotify delivers them asynchronously.
const selfWriteGrace = 100 * time.Millisecond

// shapefileParts are the files that make up one shapefile dataset.
var shapefileParts = []string{".shp", ".shx", ".dbf", ".prj", ".cpg"}

// pendingEvent holds a debounced event with its operation.
type pendingEvent struct {
	timestamp time.Time
	op        Operation
}

// Watcher watches the directories of input datasets. A shapefile is
// several files, so all changes are collected until no event arrived for
// the debounce interval and then handed over in one batch.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	handler   Handler
	logger    *slog.Logger
	files     map[string]bool // absolute paths, shapefile parts included
	dirs      []string
	debounce  time.Duration

	mu       sync.Mutex
	pending  map[string]*pendingEvent
	running  bool
	resumeAt time.Time
}

// Config holds watcher configuration.
type Config struct {
	// Files are the watched dataset files. For a .shp file the other parts
	// of the shapefile (roads.dbf, roads.shx, ...) are watched too; any
	// other file is matched exactly, so SQLite journals are ignored.
	Files    []string
	Debounce time.Duration
}

// New creates a new file watcher.
func New(cfg Config, handler Handler, logger *slog.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if cfg.Debounce == 0 {
		cfg.Debounce = 2 * time.Second
	}

	w := &Watcher{
		fsWatcher: fsWatcher,
		handler:   handler,
		logger:    logger,
		files:     make(map[string]bool),
		debounce:  cfg.Debounce,
		pending:   make(map[string]*pendingEvent),
	}
	seen := make(map[string]bool)
	for _, f := range cfg.Files {
		abs, err := filepath.Abs(f)
		if err != nil {
			_ = fsWatcher.Close()
			return nil, err
		}
		w.files[abs] = true
		if ext := filepath.Ext(abs); strings.EqualFold(ext, ".shp") {
			base := strings.TrimSuffix(abs, ext)
			for _, part := range shapefileParts {
				w.files[base+part] = true
			}
		}
		if dir := filepath.Dir(abs); !seen[dir] {
			seen[dir] = true
			w.dirs = append(w.dirs, dir)
		}
	}
	return w, nil
}

// Start starts watching the directories of the configured files.
func (w *Watcher) Start(ctx context.Context) error {
	for _, dir := range w.dirs {
		if err := w.fsWatcher.Add(dir); err != nil {
			w.logger.Warn("failed to watch directory", "path", dir, "error", err)
			continue
		}
		w.logger.Info("watching directory", "path", dir)
	}

	go w.eventLoop(ctx)
	go w.debounceLoop(ctx)
	return nil
}

// Run watches until ctx is canceled.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return w.Stop()
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	return w.fsWatcher.Close()
}

// eventLoop processes fsnotify events.
func (w *Watcher) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleFsEvent(event)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}

// handleFsEvent records an event on one of the watched datasets.
func (w *Watcher) handleFsEvent(event fsnotify.Event) {
	if !w.watched(event.Name) {
		return
	}
	w.logger.Debug("file event", "path", event.Name, "op", event.Op.String())
	w.record(event.Name, fsnotifyOpToOperation(event.Op), time.Now())
}

func (w *Watcher) record(path string, op Operation, now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running || now.Before(w.resumeAt) {
		return
	}
	existing, ok := w.pending[path]
	if !ok {
		w.pending[path] = &pendingEvent{timestamp: now, op: op}
		return
	}
	existing.timestamp = now
	switch {
	case existing.op == OpDelete && op == OpCreate:
		// deleted then recreated, as editors and copy tools do
		existing.op = OpCreate
	case op == OpDelete:
		existing.op = OpDelete
	}
}

// debounceLoop hands settled batches to the handler.
func (w *Watcher) debounceLoop(ctx context.Context) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case now := <-ticker.C:
			events := w.takeSettled(now)
			if len(events) == 0 {
				continue
			}
			w.logger.Info("input datasets changed", "files", len(events))
			if err := w.handler(ctx, events); err != nil {
				w.logger.Error("re-run after change failed", "error", err)
			}
			w.finishRun(time.Now())
		}
	}
}

// takeSettled returns the pending events once the newest of them is older
// than the debounce interval and marks a run as started. Events are ordered
// by path.
func (w *Watcher) takeSettled(now time.Time) []Event {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.pending) == 0 {
		return nil
	}
	for _, p := range w.pending {
		if now.Sub(p.timestamp) < w.debounce {
			return nil
		}
	}
	events := make([]Event, 0, len(w.pending))
	for path, p := range w.pending {
		events = append(events, Event{Path: path, Operation: p.op})
	}
	w.pending = make(map[string]*pendingEvent)
	w.running = true
	sort.Slice(events, func(i, j int) bool { return events[i].Path < events[j].Path })
	return events
}

// finishRun ends a run. Events arriving within selfWriteGrace of now are
// still dropped.
func (w *Watcher) finishRun(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.running = false
	w.resumeAt = now.Add(selfWriteGrace)
	w.pending = make(map[string]*pendingEvent)
}

func (w *Watcher) watched(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	return w.files[abs]
}

// fsnotifyOpToOperation converts fsnotify.Op to our Operation type.
func fsnotifyOpToOperation(op fsnotify.Op) Operation {
	switch {
	case op.Has(fsnotify.Remove):
		return OpDelete
	case op.Has(fsnotify.Rename):
		// the file is gone from its original location
		return OpDelete
	case op.Has(fsnotify.Create):
		return OpCreate
	default:
		return OpModify
	}
}

