// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package authbus

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces the burst of events produced by one atomic
// write (create temp, write, chmod, rename) into a single signal.
const DefaultDebounce = 50 * time.Millisecond

// =============================================================================
// FSNOTIFY WATCHER
// =============================================================================

// Watcher turns filesystem changes of the durable credential file into
// cross-process KindChanged events on a Bus.
//
// The parent directory is watched rather than the file itself: the file is
// replaced by rename on every write and may not exist yet. Any entry whose
// name starts with the file's base name matches, which also covers SQLite
// side files such as "-wal" and "-journal".
type Watcher struct {
	bus      *Bus
	path     string
	base     string
	debounce time.Duration
	logger   *slog.Logger

	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc
	changed func() bool

	mu      sync.Mutex
	timer   *time.Timer
	started bool
	done    chan struct{}
}

// NewWatcher prepares a watcher for the durable tier file at path. A zero
// debounce uses DefaultDebounce.
func NewWatcher(path string, bus *Bus, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	if path == "" {
		return nil, fmt.Errorf("watch path is empty")
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		bus:      bus,
		path:     path,
		base:     filepath.Base(path),
		debounce: debounce,
		logger:   logger.With("component", "authbus.watcher"),
		watcher:  fw,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}, nil
}

// WithChangeFilter makes the watcher ask changed before each signal. A false
// answer means the file already holds a state this process knows about,
// such as its own write, and nothing is emitted. Call before Start.
func (w *Watcher) WithChangeFilter(changed func() bool) *Watcher {
	w.changed = changed
	return w
}

// Start begins watching. The parent directory is created if missing.
func (w *Watcher) Start() error {
	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	w.mu.Lock()
	w.started = true
	w.mu.Unlock()

	go w.processEvents()
	return nil
}

// Close stops watching and cancels any pending debounced signal.
func (w *Watcher) Close() error {
	w.cancel()

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	started := w.started
	w.mu.Unlock()

	err := w.watcher.Close()
	if started {
		<-w.done
	}
	return err
}

func (w *Watcher) processEvents() {
	defer close(w.done)
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("watcher loop panicked", "panic", r)
		}
	}()

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.matches(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

func (w *Watcher) matches(name string) bool {
	return strings.HasPrefix(filepath.Base(name), w.base)
}

// schedule (re)arms the debounce timer.
func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.fire)
}

func (w *Watcher) fire() {
	if w.ctx.Err() != nil {
		return
	}
	if w.changed != nil && !w.changed() {
		w.logger.Debug("ignoring own credential write")
		return
	}
	w.logger.Debug("durable credential changed on disk")
	w.bus.EmitChanged(SourceCrossProcess)
}
