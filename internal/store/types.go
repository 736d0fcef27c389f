// Package store provides the vector storage layer: one HNSW-backed
// Collection per workspace folder, plus a SQLite registry tracking
// collection handles and indexed file records.
package store

import (
	"context"
	"fmt"
	"time"
)

// Default HNSW parameters.
const (
	DefaultMetric   = "cos"
	DefaultM        = 16
	DefaultEfSearch = 64
)

// Options configures a Collection.
type Options struct {
	// Dimensions is the embedding dimension. Required.
	Dimensions int
	// Metric is "cos" or "l2".
	Metric string
	// M is the HNSW graph connectivity parameter.
	M int
	// EfSearch is the HNSW search beam width.
	EfSearch int
}

// WithDefaults fills zero-valued fields with defaults.
func (o Options) WithDefaults() Options {
	if o.Metric == "" {
		o.Metric = DefaultMetric
	}
	if o.M == 0 {
		o.M = DefaultM
	}
	if o.EfSearch == 0 {
		o.EfSearch = DefaultEfSearch
	}
	return o
}

// Payload is the metadata stored with each point, enough to render a
// search result without re-reading the file.
type Payload struct {
	// FilePath is relative to the workspace root.
	FilePath string
	Language string
	Content  string
	// StartLine is 1-indexed; EndLine is inclusive.
	StartLine int
	EndLine   int
	// ChunkIndex is the chunk's position within its file.
	ChunkIndex int
}

// Point is one embedded chunk: a stable ID, its vector, and its payload.
type Point struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// SearchResult is one ranked hit from a Collection search.
type SearchResult struct {
	ID      string
	Score   float32
	Payload Payload
}

// Collection is a named vector index over one workspace folder.
type Collection interface {
	// Add inserts points. Existing IDs are replaced.
	Add(ctx context.Context, points []*Point) error

	// Delete removes points by ID. Missing IDs are ignored.
	Delete(ctx context.Context, ids []string) error

	// Search returns up to k nearest points with score >= minScore,
	// best first.
	Search(ctx context.Context, query []float32, k int, minScore float32) ([]*SearchResult, error)

	// Contains reports whether a point ID exists.
	Contains(id string) bool

	// Count returns the number of live points.
	Count() int

	// Save persists the collection to disk.
	Save(path string) error

	// Close releases resources.
	Close() error
}

// FileRecord describes one indexed file within a collection, used to
// decide whether a file changed and which points to drop on update.
type FileRecord struct {
	CollectionHandle string
	Path             string
	ContentHash      string
	Size             int64
	ModTime          time.Time
	PointIDs         []string
	IndexedAt        time.Time
}

// CollectionRecord maps a collection handle to the workspace root it was
// derived from. Two roots hashing to the same handle is a collision.
type CollectionRecord struct {
	Handle    string
	RootPath  string
	CreatedAt time.Time
}

// ErrDimensionMismatch reports a vector whose dimension does not match
// the collection's.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("vector dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}
