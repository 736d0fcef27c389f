// Package index contains the indexing coordinator: the state machine
// that owns full indexing jobs, applies incremental watcher events, and
// drives the parse/embed/commit pipeline.
package index

import (
	"time"

	"github.com/google/uuid"

	"github.com/quarry-search/quarry/internal/scanner"
)

// JobStatus is the lifecycle state of an indexing job.
type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusPaused    JobStatus = "paused"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// active reports whether the status still holds the single-job slot.
func (s JobStatus) active() bool {
	return s == StatusQueued || s == StatusRunning || s == StatusPaused
}

// FileFailure records one file the job could not index. Per-file
// failures are warnings; the job keeps going.
type FileFailure struct {
	Path  string
	Error string
}

// IndexJob is one full-indexing run over a workspace folder. The queue
// is fixed at start time and sorted by path, so the cursor alone
// identifies the resume point after a pause.
type IndexJob struct {
	ID     string
	Folder string
	Handle string
	Status JobStatus

	Queue  []*scanner.FileInfo
	Cursor int

	IndexedFiles int
	SkippedFiles int
	Failures     []FileFailure
	Err          error

	StartedAt  time.Time
	FinishedAt time.Time

	// pauseRequested asks the runner to stop at the next file boundary.
	pauseRequested bool
	// pauseReason is set when the job paused itself (provider outage).
	pauseReason string
	// cancelRequested asks the runner to stop permanently.
	cancelRequested bool
}

func newJob(folder, handle string, queue []*scanner.FileInfo) *IndexJob {
	return &IndexJob{
		ID:        uuid.NewString(),
		Folder:    folder,
		Handle:    handle,
		Status:    StatusQueued,
		Queue:     queue,
		StartedAt: time.Now(),
	}
}

// Snapshot is a copy of a job's observable state, safe to hand out
// while the runner keeps mutating the job.
type Snapshot struct {
	ID           string
	Folder       string
	Handle       string
	Status       JobStatus
	TotalFiles   int
	IndexedFiles int
	SkippedFiles int
	Cursor       int
	Failures     []FileFailure
	PauseReason  string
	Error        string
	StartedAt    time.Time
	FinishedAt   time.Time
}

func (j *IndexJob) snapshot() Snapshot {
	s := Snapshot{
		ID:           j.ID,
		Folder:       j.Folder,
		Handle:       j.Handle,
		Status:       j.Status,
		TotalFiles:   len(j.Queue),
		IndexedFiles: j.IndexedFiles,
		SkippedFiles: j.SkippedFiles,
		Cursor:       j.Cursor,
		Failures:     append([]FileFailure(nil), j.Failures...),
		PauseReason:  j.pauseReason,
		StartedAt:    j.StartedAt,
		FinishedAt:   j.FinishedAt,
	}
	if j.Err != nil {
		s.Error = j.Err.Error()
	}
	return s
}
