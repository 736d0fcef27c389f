// Package watcher implements the file change detector: a recursive
// fsnotify watcher feeding a per-path debouncer. Consumers receive one
// coalesced notification per file after a quiet period.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/quarry-search/quarry/internal/scanner"
)

// Kind is the coalesced notification kind delivered to consumers.
type Kind int

const (
	// KindUpdated means the file was created or modified and should be re-indexed.
	KindUpdated Kind = iota
	// KindDeleted means the file is gone and its vectors should be removed.
	KindDeleted
)

// String returns a human-readable representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindUpdated:
		return "updated"
	case KindDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Event is one coalesced file notification.
type Event struct {
	// Path is relative to the watched root, slash-separated.
	Path string
	Kind Kind
	// Timestamp is when the last raw event for this path was seen.
	Timestamp time.Time
}

// Options configures the watcher.
type Options struct {
	// DebounceWindow is the quiet period before an update is emitted.
	// Deletes are emitted immediately.
	DebounceWindow time.Duration
	// EventBufferSize is the output channel buffer.
	EventBufferSize int
	// ExcludePatterns drop events for matching paths at the source.
	ExcludePatterns []string
}

// WithDefaults fills zero values.
func (o Options) WithDefaults() Options {
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = 500 * time.Millisecond
	}
	if o.EventBufferSize <= 0 {
		o.EventBufferSize = 1000
	}
	return o
}

// Watcher observes one workspace folder.
type Watcher struct {
	root      string
	opts      Options
	fsw       *fsnotify.Watcher
	debouncer *Debouncer
	errs      chan error

	mu      sync.Mutex
	stopped bool
	done    chan struct{}
}

// New creates a watcher for the given workspace root.
func New(root string, opts Options) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	opts = opts.WithDefaults()
	return &Watcher{
		root:      root,
		opts:      opts,
		fsw:       fsw,
		debouncer: NewDebouncer(opts.DebounceWindow, opts.EventBufferSize),
		errs:      make(chan error, 16),
		done:      make(chan struct{}),
	}, nil
}

// Start begins watching the root recursively. It returns once the initial
// watch handles are registered; events flow until Stop or ctx cancellation.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addRecursive(w.root); err != nil {
		return err
	}

	go w.loop(ctx)
	return nil
}

// Events returns the channel of coalesced notifications.
func (w *Watcher) Events() <-chan Event {
	return w.debouncer.Output()
}

// Errors returns non-fatal watcher errors. A lost watch handle is reported
// here as a warning; the engine keeps serving (possibly stale) results.
func (w *Watcher) Errors() <-chan error {
	return w.errs
}

// Stop stops the watcher and closes the output channels. Safe to call twice.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	w.mu.Unlock()

	err := w.fsw.Close()
	<-w.done
	w.debouncer.Stop()
	close(w.errs)
	return err
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleRaw(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("watcher_error", slog.String("error", err.Error()))
			select {
			case w.errs <- err:
			default:
			}
		}
	}
}

// handleRaw translates one raw fsnotify event into debouncer input.
func (w *Watcher) handleRaw(ev fsnotify.Event) {
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)

	// New directories need a watch handle before their contents are seen.
	if ev.Op.Has(fsnotify.Create) {
		if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
			if scanner.Excluded(rel+"/", w.opts.ExcludePatterns) {
				return
			}
			if addErr := w.addRecursive(ev.Name); addErr != nil {
				slog.Warn("watch_add_failed",
					slog.String("path", rel),
					slog.String("error", addErr.Error()))
			}
			return
		}
	}

	// Unsupported file types are dropped at the source, never timed.
	if !scanner.IsSupported(rel) || scanner.Excluded(rel, w.opts.ExcludePatterns) {
		return
	}

	switch {
	case ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename):
		w.debouncer.Observe(rel, KindDeleted)
	case ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write):
		w.debouncer.Observe(rel, KindUpdated)
	}
}

// addRecursive registers watch handles for dir and all subdirectories.
func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(w.root, path)
		if relErr == nil && rel != "." {
			if scanner.Excluded(filepath.ToSlash(rel)+"/", w.opts.ExcludePatterns) {
				return filepath.SkipDir
			}
		}
		return w.fsw.Add(path)
	})
}
