// Package watcher turns raw filesystem notifications on the NAS into debounced
// file events for the ingestion boundary.
//
// Raw callbacks only record {path -> (time, event type)}. A periodic tick
// drains entries older than the debounce window and dispatches one event per
// path; the last event type recorded for a path wins. A move is recorded as a
// delete at the old path plus a create at the new one. On shutdown every
// pending entry is dispatched regardless of age.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/lecpa/docsync/internal/config"
	"github.com/lecpa/docsync/internal/metrics"
	"github.com/lecpa/docsync/internal/parser"
	"github.com/lecpa/docsync/internal/shortcut"
	"github.com/lecpa/docsync/internal/syncclient"
	"github.com/lecpa/docsync/pkg/types"
)

// EventType is the effective change dispatched for a path
type EventType string

const (
	EventCreated  EventType = "created"
	EventModified EventType = "modified"
	EventDeleted  EventType = "deleted"
)

const (
	// TickInterval is how often pending events are checked against the debounce window
	TickInterval = 500 * time.Millisecond
	// ShutdownDrainTimeout bounds the final drain after the context is cancelled
	ShutdownDrainTimeout = 30 * time.Second
)

// Gateway receives dispatched events
type Gateway interface {
	FileArrived(ctx context.Context, req types.FileArrivedRequest) types.FileArrivedResponse
	FileDeleted(ctx context.Context, nasPath string) types.FileDeletedResponse
	Relationship(ctx context.Context, req types.RelationshipRequest) types.RelationshipResponse
}

type pendingEvent struct {
	at        time.Time
	eventType EventType
}

// Watcher debounces filesystem events under the NAS root
type Watcher struct {
	parser    *parser.Parser
	resolver  *shortcut.Resolver
	gateway   Gateway
	debounce  time.Duration
	tick      time.Duration
	recursive bool
	logger    *zap.Logger
	metrics   *metrics.Recorder
	now       func() time.Time

	mu      sync.Mutex
	pending map[string]pendingEvent
}

// Option configures a Watcher
type Option func(*Watcher)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(w *Watcher) { w.logger = logger }
}

// WithMetrics sets the metrics recorder
func WithMetrics(rec *metrics.Recorder) Option {
	return func(w *Watcher) { w.metrics = rec }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(w *Watcher) { w.now = now }
}

// WithTick overrides TickInterval
func WithTick(d time.Duration) Option {
	return func(w *Watcher) { w.tick = d }
}

// New creates a Watcher for cfg's NAS root
func New(cfg *config.Config, p *parser.Parser, gateway Gateway, opts ...Option) *Watcher {
	w := &Watcher{
		parser:    p,
		resolver:  shortcut.NewResolver(p),
		gateway:   gateway,
		debounce:  cfg.Debounce(),
		tick:      TickInterval,
		recursive: cfg.NAS.WatchRecursive,
		logger:    zap.NewNop(),
		now:       time.Now,
		pending:   make(map[string]pendingEvent),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Record notes a raw event for path. It never blocks on I/O.
func (w *Watcher) Record(path string, eventType EventType) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[path] = pendingEvent{at: w.now(), eventType: eventType}
}

// Move records a rename as a delete at from and a create at to
func (w *Watcher) Move(from, to string) {
	w.Record(from, EventDeleted)
	w.Record(to, EventCreated)
}

// Pending returns the number of events waiting for the debounce window
func (w *Watcher) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Drain dispatches events older than the debounce window, or all events when
// force is set, and returns how many were dispatched
func (w *Watcher) Drain(ctx context.Context, force bool) int {
	now := w.now()
	w.mu.Lock()
	ready := make(map[string]EventType)
	for path, ev := range w.pending {
		if force || now.Sub(ev.at) >= w.debounce {
			ready[path] = ev.eventType
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()

	paths := make([]string, 0, len(ready))
	for path := range ready {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	for _, path := range paths {
		w.dispatch(ctx, path, ready[path])
	}
	return len(paths)
}

func (w *Watcher) dispatch(ctx context.Context, path string, eventType EventType) {
	if parser.IsShortcut(path) {
		if eventType != EventDeleted {
			w.dispatchShortcut(ctx, path)
		}
		return
	}

	parsed := w.parser.Parse(path)
	if !parsed.IsValid {
		w.logger.Debug("skipping file", zap.String("path", path), zap.String("reason", parsed.SkipReason))
		w.metrics.RecordFileEvent(string(eventType), "skipped")
		return
	}

	if eventType == EventDeleted {
		resp := w.gateway.FileDeleted(ctx, path)
		w.metrics.RecordFileEvent(string(eventType), resp.Status)
		w.logger.Info("file deleted", zap.String("path", path), zap.String("status", resp.Status))
		return
	}

	req, err := syncclient.NewFileArrived(path, parsed)
	if err != nil {
		// usually removed again before the window closed
		w.logger.Warn("failed to read file", zap.String("path", path), zap.Error(err))
		w.metrics.RecordFileEvent(string(eventType), types.SyncError)
		return
	}
	resp := w.gateway.FileArrived(ctx, req)
	w.metrics.RecordFileEvent(string(eventType), resp.Status)
	w.logger.Info("file arrived",
		zap.String("path", path),
		zap.String("event", string(eventType)),
		zap.String("status", resp.Status),
		zap.String("message", resp.Message))
}

func (w *Watcher) dispatchShortcut(ctx context.Context, path string) {
	owner, ok := w.parser.ShortcutOwner(path)
	if !ok {
		w.logger.Debug("shortcut outside a client folder", zap.String("path", path))
		return
	}
	res := w.resolver.Resolve(path, owner)
	if !res.Found {
		w.logger.Debug("shortcut is not a relationship", zap.String("path", path), zap.String("reason", res.Reason))
		return
	}
	resp := w.gateway.Relationship(ctx, types.RelationshipRequest{
		IndividualCode: res.Relationship.IndividualCode,
		BusinessCode:   res.Relationship.BusinessCode,
		Source:         res.Relationship.Source,
		SourcePath:     res.Relationship.SourcePath,
	})
	w.metrics.RecordFileEvent("relationship", resp.Status)
	w.logger.Info("relationship found",
		zap.String("individual", res.Relationship.IndividualCode),
		zap.String("business", res.Relationship.BusinessCode),
		zap.String("status", resp.Status))
}

// Run watches the NAS root until ctx is cancelled, then drains pending events
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	root := w.parser.Root()
	if err := w.add(fsw, root); err != nil {
		return err
	}
	w.logger.Info("watching NAS root",
		zap.String("root", root),
		zap.Bool("recursive", w.recursive),
		zap.Duration("debounce", w.debounce))

	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownDrainTimeout)
			n := w.Drain(drainCtx, true)
			cancel()
			w.logger.Info("watcher stopped", zap.Int("drained", n))
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handle(fsw, ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watch error", zap.Error(err))
		case <-ticker.C:
			w.Drain(ctx, false)
		}
	}
}

// handle maps one raw notification onto the pending map
func (w *Watcher) handle(fsw *fsnotify.Watcher, ev fsnotify.Event) {
	switch {
	case ev.Has(fsnotify.Create):
		info, err := os.Stat(ev.Name)
		if err == nil && info.IsDir() {
			if w.recursive {
				w.addNewDir(fsw, ev.Name)
			}
			return
		}
		w.Record(ev.Name, EventCreated)
	case ev.Has(fsnotify.Write):
		w.Record(ev.Name, EventModified)
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		// the new name of a rename arrives as its own Create
		w.Record(ev.Name, EventDeleted)
	}
}

// add watches root, and every directory beneath it when recursive
func (w *Watcher) add(fsw *fsnotify.Watcher, root string) error {
	if !w.recursive {
		return fsw.Add(root)
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			w.logger.Warn("cannot watch directory", zap.String("path", path), zap.Error(err))
			return fs.SkipDir
		}
		if !d.IsDir() {
			return nil
		}
		if err := fsw.Add(path); err != nil {
			w.logger.Warn("cannot watch directory", zap.String("path", path), zap.Error(err))
		}
		return nil
	})
}

// addNewDir watches a directory created after startup and records files that
// landed in it before the watch was in place
func (w *Watcher) addNewDir(fsw *fsnotify.Watcher, dir string) {
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return fsw.Add(path)
		}
		w.Record(path, EventCreated)
		return nil
	})
	if err != nil {
		w.logger.Warn("cannot watch new directory", zap.String("path", dir), zap.Error(err))
	}
}
