package router

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/quarry-search/quarry/internal/chunk"
	qerrors "github.com/quarry-search/quarry/internal/errors"
	"github.com/quarry-search/quarry/internal/store"
)

// Options configures the router.
type Options struct {
	// DataDir is where collections persist. Empty keeps everything in memory.
	DataDir string
	// Store holds the per-collection HNSW parameters. Dimensions is
	// required before the first collection is created.
	Store store.Options
}

// Router owns the collections. All writes flow through it on a single
// lock, so concurrent pipeline workers never interleave partial upserts
// for the same file.
type Router struct {
	mu          sync.Mutex
	opts        Options
	registry    *store.Registry
	collections map[string]store.Collection
	logger      *slog.Logger
}

// New creates a router backed by the given registry.
func New(registry *store.Registry, opts Options) *Router {
	return &Router{
		opts:        opts,
		registry:    registry,
		collections: make(map[string]store.Collection),
		logger:      slog.Default().With(slog.String("component", "router")),
	}
}

// EnsureCollection resolves a workspace folder to its collection handle,
// registering and creating the collection on first use. Two different
// folders hashing to the same handle is a fatal collision.
func (r *Router) EnsureCollection(ctx context.Context, rootPath string) (string, error) {
	rootPath = filepath.Clean(rootPath)
	handle := HandleFor(rootPath)

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.registry.RegisterCollection(ctx, handle, rootPath)
	if err != nil {
		return "", qerrors.New(qerrors.ErrCodeStoreUnreachable, "register collection", err)
	}
	if rec.RootPath != rootPath {
		return "", qerrors.CollectionCollision(handle, rec.RootPath, rootPath)
	}

	if _, ok := r.collections[handle]; !ok {
		coll, err := r.openCollection(handle)
		if err != nil {
			return "", err
		}
		r.collections[handle] = coll
		r.logger.Info("collection ready",
			slog.String("handle", handle),
			slog.String("root", rootPath),
			slog.Int("points", coll.Count()))
	}
	return handle, nil
}

// openCollection creates a collection, loading a persisted graph if one
// exists on disk.
func (r *Router) openCollection(handle string) (store.Collection, error) {
	coll, err := store.NewHNSWCollection(r.opts.Store)
	if err != nil {
		return nil, qerrors.New(qerrors.ErrCodeInternal, "create collection", err)
	}
	if r.opts.DataDir == "" {
		return coll, nil
	}

	path := r.collectionPath(handle)
	if _, statErr := os.Stat(path); statErr == nil {
		if loadErr := coll.Load(path); loadErr != nil {
			// A corrupt graph means reindexing, not a hard failure.
			r.logger.Warn("discarding unreadable collection file",
				slog.String("handle", handle),
				slog.String("error", loadErr.Error()))
			coll.Close()
			return store.NewHNSWCollection(r.opts.Store)
		}
	}
	return coll, nil
}

func (r *Router) collectionPath(handle string) string {
	return filepath.Join(r.opts.DataDir, "collections", handle+".hnsw")
}

// Upsert replaces a file's points with freshly embedded chunks: the
// file's previous points are deleted first, then the new ones inserted,
// so no stale chunk survives a shrinking file.
func (r *Router) Upsert(ctx context.Context, handle, filePath string, chunks []*chunk.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return qerrors.New(qerrors.ErrCodeInvalidInput, "chunks and vectors length mismatch", nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	coll, ok := r.collections[handle]
	if !ok {
		return qerrors.New(qerrors.ErrCodeInvalidInput, "unknown collection "+handle, nil)
	}

	oldIDs, err := r.registry.DeleteFile(ctx, handle, filePath)
	if err != nil {
		return qerrors.New(qerrors.ErrCodeStoreUnreachable, "drop previous file record", err)
	}
	if len(oldIDs) > 0 {
		if err := coll.Delete(ctx, oldIDs); err != nil {
			return qerrors.New(qerrors.ErrCodeStoreUnreachable, "delete previous points", err)
		}
	}

	points := make([]*store.Point, len(chunks))
	pointIDs := make([]string, len(chunks))
	var contentHash [32]byte
	hasher := sha256.New()
	var size int64
	for i, ch := range chunks {
		id := PointID(handle, ch.ID)
		pointIDs[i] = id
		points[i] = &store.Point{
			ID:     id,
			Vector: vectors[i],
			Payload: store.Payload{
				FilePath:   ch.FilePath,
				Language:   ch.Language,
				Content:    ch.Content,
				StartLine:  ch.StartLine,
				EndLine:    ch.EndLine,
				ChunkIndex: ch.Index,
			},
		}
		hasher.Write([]byte(ch.ID))
		size += int64(len(ch.Content))
	}
	copy(contentHash[:], hasher.Sum(nil))

	if len(points) > 0 {
		if err := coll.Add(ctx, points); err != nil {
			return qerrors.New(qerrors.ErrCodeStoreUnreachable, "insert points", err)
		}
	}

	now := time.Now()
	rec := &store.FileRecord{
		CollectionHandle: handle,
		Path:             filePath,
		ContentHash:      hex.EncodeToString(contentHash[:]),
		Size:             size,
		ModTime:          now,
		PointIDs:         pointIDs,
		IndexedAt:        now,
	}
	if err := r.registry.UpsertFile(ctx, rec); err != nil {
		return qerrors.New(qerrors.ErrCodeStoreUnreachable, "record file", err)
	}

	r.logger.Debug("file upserted",
		slog.String("handle", handle),
		slog.String("path", filePath),
		slog.Int("points", len(points)))
	return nil
}

// Remove deletes a file's points. Removing a file that was never
// indexed is a no-op.
func (r *Router) Remove(ctx context.Context, handle, filePath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	coll, ok := r.collections[handle]
	if !ok {
		return nil
	}

	ids, err := r.registry.DeleteFile(ctx, handle, filePath)
	if err != nil {
		return qerrors.New(qerrors.ErrCodeStoreUnreachable, "drop file record", err)
	}
	if len(ids) == 0 {
		return nil
	}
	if err := coll.Delete(ctx, ids); err != nil {
		return qerrors.New(qerrors.ErrCodeStoreUnreachable, "delete points", err)
	}

	r.logger.Debug("file removed",
		slog.String("handle", handle),
		slog.String("path", filePath),
		slog.Int("points", len(ids)))
	return nil
}

// Query searches one collection. Querying a handle with no collection
// returns empty results rather than an error, so a search against a
// never-indexed folder degrades gracefully.
func (r *Router) Query(ctx context.Context, handle string, vector []float32, k int, minScore float32) ([]*store.SearchResult, error) {
	r.mu.Lock()
	coll, ok := r.collections[handle]
	r.mu.Unlock()

	if !ok {
		return []*store.SearchResult{}, nil
	}
	results, err := coll.Search(ctx, vector, k, minScore)
	if err != nil {
		return nil, qerrors.New(qerrors.ErrCodeStoreUnreachable, "search collection", err)
	}
	return results, nil
}

// FileHash returns the recorded content hash for a file, or "" if the
// file is not indexed. Used to skip unchanged files during full scans.
func (r *Router) FileHash(ctx context.Context, handle, filePath string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.registry.GetFile(ctx, handle, filePath)
	if err != nil {
		return "", qerrors.New(qerrors.ErrCodeStoreUnreachable, "read file record", err)
	}
	if rec == nil {
		return "", nil
	}
	return rec.ContentHash, nil
}

// CollectionStats summarizes one collection for status reporting.
type CollectionStats struct {
	Handle string
	Root   string
	Points int
	Files  int
}

// Stats returns per-collection point and file counts.
func (r *Router) Stats(ctx context.Context) ([]CollectionStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	recs, err := r.registry.ListCollections(ctx)
	if err != nil {
		return nil, qerrors.New(qerrors.ErrCodeStoreUnreachable, "list collections", err)
	}

	var out []CollectionStats
	for _, rec := range recs {
		stats := CollectionStats{Handle: rec.Handle, Root: rec.RootPath}
		if coll, ok := r.collections[rec.Handle]; ok {
			stats.Points = coll.Count()
		}
		if stats.Files, err = r.registry.FileCount(ctx, rec.Handle); err != nil {
			return nil, qerrors.New(qerrors.ErrCodeStoreUnreachable, "count files", err)
		}
		out = append(out, stats)
	}
	return out, nil
}

// Save persists all open collections to the data directory.
func (r *Router) Save() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.opts.DataDir == "" {
		return nil
	}
	for handle, coll := range r.collections {
		if err := coll.Save(r.collectionPath(handle)); err != nil {
			return qerrors.New(qerrors.ErrCodeStoreUnreachable, "save collection "+handle, err)
		}
	}
	return nil
}

// Close saves and closes all collections.
func (r *Router) Close() error {
	if err := r.Save(); err != nil {
		r.logger.Warn("save on close failed", slog.String("error", err.Error()))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, coll := range r.collections {
		coll.Close()
	}
	r.collections = make(map[string]store.Collection)
	return nil
}
