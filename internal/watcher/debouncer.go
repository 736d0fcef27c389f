package watcher

import (
	"log/slog"
	"sync"
	"time"
)

// Debouncer coalesces rapid events per file path. Each path keeps its own
// timer; every new update for the path cancels and reschedules it, so the
// notification fires only after the path has been quiet for the window.
//
// Coalescing rules:
//   - update while update pending: timer resets, still one notification
//   - delete while update pending: update timer cancelled, delete emitted
//     immediately (no point re-indexing a file about to disappear)
//   - update after delete: starts a fresh update timer
type Debouncer struct {
	window time.Duration
	output chan Event

	mu      sync.Mutex
	pending map[string]*time.Timer
	stopped bool
}

// NewDebouncer creates a debouncer emitting on a channel of the given size.
func NewDebouncer(window time.Duration, bufferSize int) *Debouncer {
	return &Debouncer{
		window:  window,
		output:  make(chan Event, bufferSize),
		pending: make(map[string]*time.Timer),
	}
}

// Observe records one raw event for a path.
func (d *Debouncer) Observe(path string, kind Kind) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	if timer, ok := d.pending[path]; ok {
		timer.Stop()
		delete(d.pending, path)
	}

	if kind == KindDeleted {
		d.emitLocked(Event{Path: path, Kind: KindDeleted, Timestamp: time.Now()})
		return
	}

	d.pending[path] = time.AfterFunc(d.window, func() {
		d.fire(path)
	})
}

// fire emits the pending update for a path once its quiet period elapsed.
func (d *Debouncer) fire(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if _, ok := d.pending[path]; !ok {
		// Cancelled by a later delete between timer fire and lock acquisition.
		return
	}
	delete(d.pending, path)
	d.emitLocked(Event{Path: path, Kind: KindUpdated, Timestamp: time.Now()})
}

// emitLocked sends without blocking; a full channel drops the event.
func (d *Debouncer) emitLocked(ev Event) {
	select {
	case d.output <- ev:
	default:
		slog.Warn("debouncer output full, dropping event",
			slog.String("path", ev.Path),
			slog.String("kind", ev.Kind.String()),
		)
	}
}

// Output returns the channel of coalesced events.
func (d *Debouncer) Output() <-chan Event {
	return d.output
}

// Pending returns the number of paths with an armed timer.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Stop cancels all timers and closes the output channel. Safe to call twice.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.stopped = true
	for path, timer := range d.pending {
		timer.Stop()
		delete(d.pending, path)
	}
	close(d.output)
}
