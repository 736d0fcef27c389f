package index

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"github.com/quarry-search/quarry/internal/config"
	qerrors "github.com/quarry-search/quarry/internal/errors"
	"github.com/quarry-search/quarry/internal/router"
	"github.com/quarry-search/quarry/internal/scanner"
	"github.com/quarry-search/quarry/internal/watcher"
)

// Config configures the Coordinator.
type Config struct {
	// DataDir is the folder's .quarry directory, used for the cross-process
	// indexing lock. Empty disables file locking (tests).
	DataDir string

	// Workers is the parse/embed worker count.
	Workers int

	// Intensity sets the inter-file pacing delay.
	Intensity config.Intensity

	// MaxFileSize caps individual file reads during scanning.
	MaxFileSize int64

	// ExcludePatterns filter the full scan.
	ExcludePatterns []string
}

// Coordinator owns indexing for one workspace folder. At most one full
// job is active at a time; a second start is rejected synchronously,
// never queued. Pause stops the runner at a file boundary and keeps the
// cursor in memory, so resume continues exactly where the job left off.
type Coordinator struct {
	cfg      Config
	pipeline *Pipeline
	router   *router.Router
	folder   string
	logger   *slog.Logger

	mu       sync.Mutex
	job      *IndexJob
	lastDone *Snapshot
	fileLock *flock.Flock
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewCoordinator creates a coordinator for one workspace folder.
func NewCoordinator(folder string, cfg Config, pipeline *Pipeline, rt *router.Router) *Coordinator {
	if cfg.Workers <= 0 {
		cfg.Workers = config.DefaultWorkers()
	}
	return &Coordinator{
		cfg:      cfg,
		pipeline: pipeline,
		router:   rt,
		folder:   filepath.Clean(folder),
		logger: slog.Default().With(
			slog.String("component", "coordinator"),
			slog.String("folder", folder)),
	}
}

// StartFull begins a full indexing job over the folder. The scan runs
// synchronously so the returned snapshot already has the file total;
// the pipeline itself runs in the background.
func (c *Coordinator) StartFull(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.job != nil && c.job.Status.active() {
		return Snapshot{}, qerrors.AlreadyIndexing(c.folder)
	}

	if err := c.acquireLockLocked(); err != nil {
		return Snapshot{}, err
	}

	handle, err := c.router.EnsureCollection(ctx, c.folder)
	if err != nil {
		c.releaseLockLocked()
		return Snapshot{}, err
	}

	files, err := scanner.New(scanner.Options{
		ExcludePatterns: c.cfg.ExcludePatterns,
		MaxFileSize:     c.cfg.MaxFileSize,
	}).Scan(ctx, c.folder)
	if err != nil {
		c.releaseLockLocked()
		if errors.Is(err, os.ErrNotExist) {
			return Snapshot{}, qerrors.New(qerrors.ErrCodeRootVanished, "workspace root missing: "+c.folder, err)
		}
		return Snapshot{}, qerrors.New(qerrors.ErrCodeInternal, "scan workspace", err)
	}

	queue := make([]*scanner.FileInfo, len(files))
	for i := range files {
		queue[i] = &files[i]
	}

	job := newJob(c.folder, handle, queue)
	job.Status = StatusRunning
	c.job = job

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})

	c.logger.Info("full indexing started",
		slog.String("job_id", job.ID),
		slog.String("handle", handle),
		slog.Int("files", len(queue)))

	go c.run(runCtx, job, c.done)
	return job.snapshot(), nil
}

// Pause asks the running job to stop at the next file boundary. The
// job transitions to paused once in-flight files finish; no file is
// left half-committed.
func (c *Coordinator) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.job == nil || c.job.Status != StatusRunning {
		return qerrors.New(qerrors.ErrCodeNotRunning, "no running job to pause", nil)
	}
	c.job.pauseRequested = true
	c.job.pauseReason = "paused by request"
	return nil
}

// Resume continues a paused job from its cursor.
func (c *Coordinator) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.job == nil || c.job.Status != StatusPaused {
		return qerrors.New(qerrors.ErrCodeNotPaused, "no paused job to resume", nil)
	}

	job := c.job
	job.Status = StatusRunning
	job.pauseRequested = false
	job.pauseReason = ""

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})

	c.logger.Info("job resumed",
		slog.String("job_id", job.ID),
		slog.Int("cursor", job.Cursor),
		slog.Int("total", len(job.Queue)))

	go c.run(runCtx, job, c.done)
	return nil
}

// Cancel stops the active job. Work already committed stays in the
// index; the job never restarts.
func (c *Coordinator) Cancel() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.job == nil || !c.job.Status.active() {
		return qerrors.New(qerrors.ErrCodeNotRunning, "no active job to cancel", nil)
	}

	job := c.job
	job.cancelRequested = true

	if job.Status == StatusPaused {
		// No runner to notice the flag; finalize here.
		c.finishLocked(job, StatusCancelled, nil)
		return nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

// Status returns the current job snapshot. With no job started yet the
// zero snapshot is returned with ok=false.
func (c *Coordinator) Status() (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.job != nil {
		return c.job.snapshot(), true
	}
	if c.lastDone != nil {
		return *c.lastDone, true
	}
	return Snapshot{}, false
}

// Wait blocks until the current runner goroutine exits. Paused jobs
// count as exited.
func (c *Coordinator) Wait() {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

// ApplyIncremental processes one debounced watcher event: updates run
// the full pipeline for the file, deletes drop its points. Removing a
// never-indexed file is a no-op. Event paths are relative to the
// watched root, as the watcher emits them.
//
// While a full job is active for this folder, updates are folded into
// its pending queue instead of racing the runner, so no file is
// embedded twice.
func (c *Coordinator) ApplyIncremental(ctx context.Context, event watcher.Event) error {
	handle, err := c.router.EnsureCollection(ctx, c.folder)
	if err != nil {
		return err
	}

	relPath := event.Path
	absPath := filepath.Join(c.folder, filepath.FromSlash(relPath))

	switch event.Kind {
	case watcher.KindDeleted:
		c.dropFromActiveJob(relPath)
		return c.pipeline.RemoveFile(ctx, handle, relPath)
	case watcher.KindUpdated:
		info, err := os.Lstat(absPath)
		if err != nil {
			if os.IsNotExist(err) {
				// Updated then deleted before we got here.
				c.dropFromActiveJob(relPath)
				return c.pipeline.RemoveFile(ctx, handle, relPath)
			}
			return qerrors.New(qerrors.ErrCodeFileUnreadable, "stat "+relPath, err)
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return nil
		}
		if c.cfg.MaxFileSize > 0 && info.Size() > c.cfg.MaxFileSize {
			c.logger.Warn("skipping oversized file",
				slog.String("path", relPath),
				slog.Int64("size", info.Size()))
			return nil
		}
		file := &scanner.FileInfo{
			Path:     relPath,
			AbsPath:  absPath,
			Size:     info.Size(),
			ModTime:  info.ModTime(),
			Language: scanner.DetectLanguage(relPath),
		}
		if c.mergeIntoActiveJob(file) {
			return nil
		}
		return c.pipeline.ProcessFile(ctx, handle, file)
	default:
		return nil
	}
}

// mergeIntoActiveJob hands an updated file to the active job's pending
// queue. Reports true when the runner now owns the file: either it is
// already queued ahead of the cursor, or it was appended.
func (c *Coordinator) mergeIntoActiveJob(file *scanner.FileInfo) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.job == nil || !c.job.Status.active() {
		return false
	}
	job := c.job
	for _, pending := range job.Queue[job.Cursor:] {
		if pending.Path == file.Path {
			return true
		}
	}
	job.Queue = append(job.Queue, file)
	c.logger.Debug("change merged into active job",
		slog.String("job_id", job.ID),
		slog.String("path", file.Path))
	return true
}

// dropFromActiveJob removes a deleted file from a paused job's pending
// queue so the runner does not re-index a file that is gone. While the
// runner is live the queue is left alone; processing a vanished file
// already degrades to a removal.
func (c *Coordinator) dropFromActiveJob(relPath string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.job == nil || c.job.Status != StatusPaused {
		return
	}
	job := c.job
	for i := job.Cursor; i < len(job.Queue); i++ {
		if job.Queue[i].Path == relPath {
			job.Queue = append(job.Queue[:i], job.Queue[i+1:]...)
			return
		}
	}
}

// run drives the job queue in worker-sized batches. Pause and cancel
// are honored between batches, so the cursor always sits on a file
// boundary.
func (c *Coordinator) run(ctx context.Context, job *IndexJob, done chan struct{}) {
	defer close(done)

	delay := c.cfg.Intensity.Delay()

	for {
		c.mu.Lock()
		if job.cancelRequested || ctx.Err() != nil {
			c.finishLocked(job, StatusCancelled, nil)
			c.mu.Unlock()
			return
		}
		if job.pauseRequested {
			job.Status = StatusPaused
			c.logger.Info("job paused",
				slog.String("job_id", job.ID),
				slog.Int("cursor", job.Cursor),
				slog.String("reason", job.pauseReason))
			c.mu.Unlock()
			return
		}
		if job.Cursor >= len(job.Queue) {
			c.finishLocked(job, StatusCompleted, nil)
			c.mu.Unlock()
			c.logger.Info("full indexing completed",
				slog.String("job_id", job.ID),
				slog.Int("indexed", job.IndexedFiles),
				slog.Int("failed", len(job.Failures)))
			return
		}

		start := job.Cursor
		end := start + c.cfg.Workers
		if end > len(job.Queue) {
			end = len(job.Queue)
		}
		batch := job.Queue[start:end]
		c.mu.Unlock()

		outcomes := make([]error, len(batch))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(c.cfg.Workers)
		for i, file := range batch {
			g.Go(func() error {
				outcomes[i] = c.pipeline.ProcessFile(gctx, job.Handle, file)
				if delay > 0 {
					select {
					case <-time.After(delay):
					case <-gctx.Done():
					}
				}
				// Worker errors are recorded per file, never abort the group.
				return nil
			})
		}
		_ = g.Wait()

		c.mu.Lock()
		advanced := len(batch)
		for i, err := range outcomes {
			file := batch[i]
			switch {
			case err == nil:
				job.IndexedFiles++
			case errors.Is(err, qerrors.ErrCircuitOpen):
				// Provider is down. Pause at this file; everything from
				// here on is unprocessed and re-runs after resume.
				job.pauseRequested = true
				job.pauseReason = "embedding provider unavailable"
				advanced = i
			case qerrors.IsFatal(err):
				job.Cursor += i
				c.finishLocked(job, StatusFailed, err)
				c.mu.Unlock()
				c.logger.Error("full indexing failed",
					slog.String("job_id", job.ID),
					slog.String("error", err.Error()))
				return
			default:
				job.Failures = append(job.Failures, FileFailure{Path: file.Path, Error: err.Error()})
				c.logger.Warn("file failed",
					slog.String("path", file.Path),
					slog.String("error", err.Error()))
			}
			if job.pauseRequested && advanced == i {
				break
			}
		}
		job.Cursor += advanced
		c.mu.Unlock()
	}
}

// finishLocked moves the job to a terminal state and releases the lock.
// Caller holds c.mu.
func (c *Coordinator) finishLocked(job *IndexJob, status JobStatus, err error) {
	job.Status = status
	job.Err = err
	job.FinishedAt = time.Now()
	snap := job.snapshot()
	c.lastDone = &snap
	c.releaseLockLocked()

	if saveErr := c.router.Save(); saveErr != nil {
		c.logger.Warn("save collections", slog.String("error", saveErr.Error()))
	}
}

// acquireLockLocked takes the cross-process indexing lock. A held lock
// means another process is indexing this folder.
func (c *Coordinator) acquireLockLocked() error {
	if c.cfg.DataDir == "" {
		return nil
	}
	if err := os.MkdirAll(c.cfg.DataDir, 0o755); err != nil {
		return qerrors.New(qerrors.ErrCodeInternal, "create data directory", err)
	}

	lock := flock.New(filepath.Join(c.cfg.DataDir, "index.lock"))
	acquired, err := lock.TryLock()
	if err != nil {
		return qerrors.New(qerrors.ErrCodeInternal, "acquire indexing lock", err)
	}
	if !acquired {
		return qerrors.AlreadyIndexing(c.folder).WithDetail("holder", "another process")
	}
	c.fileLock = lock
	return nil
}

func (c *Coordinator) releaseLockLocked() {
	if c.fileLock != nil {
		if err := c.fileLock.Unlock(); err != nil {
			c.logger.Warn("release indexing lock", slog.String("error", err.Error()))
		}
		c.fileLock = nil
	}
}

// Close cancels any active job and waits for the runner to exit.
func (c *Coordinator) Close() {
	c.mu.Lock()
	active := c.job != nil && c.job.Status.active()
	c.mu.Unlock()
	if active {
		_ = c.Cancel()
	}
	c.Wait()
}
