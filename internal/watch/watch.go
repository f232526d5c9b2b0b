// Package watch reports content changes to candidate modules in a directory.
package watch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"evogate/internal/logging"
	"evogate/internal/validator"
)

// Checker screens source. *validator.Validator implements it.
type Checker interface {
	Check(code string) *validator.Report
}

// Op is the kind of change.
type Op string

const (
	OpCreate Op = "create"
	OpModify Op = "modify"
	OpDelete Op = "delete"
)

// Change describes a settled content change of one module file.
type Change struct {
	Path   string
	Module string // file name without extension
	Op     Op
	Code   string
	// Fingerprint is the content hash; Previous is the hash before the change.
	Fingerprint string
	Previous    string
	// Report is nil for deletions.
	Report *validator.Report
	At     time.Time
}

// Handler receives changes on the watcher goroutine.
type Handler func(ctx context.Context, c Change)

// Options configures a Watcher.
type Options struct {
	Debounce   time.Duration
	Extensions []string
}

// Stats counts watcher activity.
type Stats struct {
	Events    int
	Changes   int
	Unchanged int // settled events whose content hash did not change
	Rejected  int
	Deleted   int
	Errors    int
	LastPath  string
	LastAt    time.Time
}

// Watcher watches one directory. Rapid saves are debounced and saves that do
// not change content are ignored.
type Watcher struct {
	mu      sync.Mutex
	watcher *fsnotify.Watcher
	dir     string
	checker Checker
	handler Handler
	opts    Options

	pending map[string]time.Time
	hashes  map[string]string
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
	stats   Stats
}

// New creates a watcher for dir.
func New(dir string, checker Checker, handler Handler, opts Options) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 500 * time.Millisecond
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = []string{".go"}
	}
	return &Watcher{
		watcher: fw,
		dir:     dir,
		checker: checker,
		handler: handler,
		opts:    opts,
		pending: make(map[string]time.Time),
		hashes:  make(map[string]string),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

// Start records the current content of the directory and begins watching.
// It does not block.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return err
	}
	w.snapshot()

	if err := w.watcher.Add(w.dir); err != nil {
		return err
	}
	w.mu.Lock()
	w.running = true
	w.mu.Unlock()
	logging.Watch("watching %s for %v changes", w.dir, w.opts.Extensions)

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		w.watcher.Close()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		logging.Get(logging.CategoryWatch).Error("error closing watcher: %v", err)
	}
	logging.Watch("watcher stopped")
}

// Stats returns a snapshot of the counters.
func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *Watcher) snapshot() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, e := range entries {
		path := filepath.Join(w.dir, e.Name())
		if e.IsDir() || !w.relevant(path) {
			continue
		}
		if data, err := os.ReadFile(path); err == nil {
			w.hashes[path] = hash(data)
		}
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	tick := w.opts.Debounce / 2
	if tick > 100*time.Millisecond {
		tick = 100 * time.Millisecond
	}
	if tick < 5*time.Millisecond {
		tick = 5 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryWatch).Error("watcher error: %v", err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()
		case <-ticker.C:
			w.processSettled(ctx)
		}
	}
}

func (w *Watcher) relevant(path string) bool {
	ext := filepath.Ext(path)
	for _, want := range w.opts.Extensions {
		if ext == want {
			return !strings.HasPrefix(filepath.Base(path), ".")
		}
	}
	return false
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !w.relevant(event.Name) {
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}
	logging.WatchDebug("%s event for %s", event.Op, event.Name)

	w.mu.Lock()
	w.stats.Events++
	w.pending[event.Name] = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) processSettled(ctx context.Context) {
	w.mu.Lock()
	now := time.Now()
	var settled []string
	for path, at := range w.pending {
		if now.Sub(at) >= w.opts.Debounce {
			settled = append(settled, path)
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()

	for _, path := range settled {
		if c, ok := w.inspect(path); ok {
			w.handler(ctx, c)
		}
	}
}

// inspect turns a settled path into a Change, or reports false when the
// content did not change.
func (w *Watcher) inspect(path string) (Change, bool) {
	module := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	c := Change{Path: path, Module: module, At: time.Now()}

	data, err := os.ReadFile(path)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats.LastPath, w.stats.LastAt = path, c.At
	prev, known := w.hashes[path]
	c.Previous = prev

	if err != nil {
		if !os.IsNotExist(err) {
			logging.Get(logging.CategoryWatch).Error("failed to read %s: %v", path, err)
			w.stats.Errors++
			return Change{}, false
		}
		if !known {
			return Change{}, false
		}
		delete(w.hashes, path)
		w.stats.Deleted++
		c.Op = OpDelete
		return c, true
	}

	c.Code = string(data)
	c.Fingerprint = hash(data)
	if known && prev == c.Fingerprint {
		w.stats.Unchanged++
		return Change{}, false
	}
	w.hashes[path] = c.Fingerprint

	c.Op = OpModify
	if !known {
		c.Op = OpCreate
	}
	c.Report = w.checker.Check(c.Code)
	w.stats.Changes++
	if !c.Report.Safe {
		w.stats.Rejected++
		logging.Watch("%s changed but is unsafe: %s", module, c.Report.Reason())
	} else {
		logging.Watch("%s changed (%s)", module, c.Op)
	}
	return c, true
}

func hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
