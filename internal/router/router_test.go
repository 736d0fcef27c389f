package router

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarry-search/quarry/internal/chunk"
	qerrors "github.com/quarry-search/quarry/internal/errors"
	"github.com/quarry-search/quarry/internal/store"
)

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	reg, err := store.NewRegistry("")
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })

	r := New(reg, Options{Store: store.Options{Dimensions: 3}})
	t.Cleanup(func() { r.Close() })
	return r
}

func testChunks(path string, contents ...string) ([]*chunk.Chunk, [][]float32) {
	chunks := make([]*chunk.Chunk, len(contents))
	vectors := make([][]float32, len(contents))
	for i, content := range contents {
		chunks[i] = &chunk.Chunk{
			ID:       content, // content stands in for the hash in tests
			FilePath: path,
			Content:  content,
			Language: "go",
			Index:    i,
		}
		vectors[i] = []float32{1, float32(i), 0}
	}
	return chunks, vectors
}

func TestHandleFor_DeterministicAndCleaned(t *testing.T) {
	a := HandleFor("/home/dev/project")
	b := HandleFor("/home/dev/project/")
	c := HandleFor("/home/dev/./project")

	assert.Equal(t, a, b)
	assert.Equal(t, a, c)
	assert.Len(t, a, len(HandlePrefix)+16)
	assert.NotEqual(t, a, HandleFor("/home/dev/other"))
}

func TestPointID_StablePerCollection(t *testing.T) {
	assert.Equal(t, PointID("ws-a", "chunk1"), PointID("ws-a", "chunk1"))
	assert.NotEqual(t, PointID("ws-a", "chunk1"), PointID("ws-b", "chunk1"))
	assert.NotEqual(t, PointID("ws-a", "chunk1"), PointID("ws-a", "chunk2"))
}

func TestEnsureCollection_SameFolderSameHandle(t *testing.T) {
	r := newTestRouter(t)
	ctx := context.Background()

	h1, err := r.EnsureCollection(ctx, "/home/dev/project")
	require.NoError(t, err)
	h2, err := r.EnsureCollection(ctx, "/home/dev/project/")
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
}

func TestEnsureCollection_CollisionIsFatal(t *testing.T) {
	r := newTestRouter(t)
	ctx := context.Background()

	// Given a registry entry binding the handle to a different root.
	handle := HandleFor("/home/dev/project")
	_, err := r.registry.RegisterCollection(ctx, handle, "/some/other/root")
	require.NoError(t, err)

	// When resolving the colliding folder.
	_, err = r.EnsureCollection(ctx, "/home/dev/project")

	// Then the error is the fatal collision.
	require.Error(t, err)
	assert.Equal(t, qerrors.ErrCodeCollectionCollision, qerrors.GetCode(err))
	assert.True(t, qerrors.IsFatal(err))
}

func TestUpsert_ReplacesPreviousPoints(t *testing.T) {
	r := newTestRouter(t)
	ctx := context.Background()

	handle, err := r.EnsureCollection(ctx, "/p")
	require.NoError(t, err)

	// Given a file indexed with three chunks.
	chunks, vectors := testChunks("a.go", "one", "two", "three")
	require.NoError(t, r.Upsert(ctx, handle, "a.go", chunks, vectors))

	results, err := r.Query(ctx, handle, []float32{1, 0, 0}, 10, 0)
	require.NoError(t, err)
	assert.Len(t, results, 3)

	// When the file shrinks to one chunk.
	chunks, vectors = testChunks("a.go", "only")
	require.NoError(t, r.Upsert(ctx, handle, "a.go", chunks, vectors))

	// Then no stale chunk survives.
	results, err = r.Query(ctx, handle, []float32{1, 0, 0}, 10, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "only", results[0].Payload.Content)
}

func TestUpsert_SameContentIsIdempotent(t *testing.T) {
	r := newTestRouter(t)
	ctx := context.Background()

	handle, err := r.EnsureCollection(ctx, "/p")
	require.NoError(t, err)

	chunks, vectors := testChunks("a.go", "alpha", "beta")
	require.NoError(t, r.Upsert(ctx, handle, "a.go", chunks, vectors))
	require.NoError(t, r.Upsert(ctx, handle, "a.go", chunks, vectors))

	results, err := r.Query(ctx, handle, []float32{1, 0, 0}, 10, 0)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestRemove_Idempotent(t *testing.T) {
	r := newTestRouter(t)
	ctx := context.Background()

	handle, err := r.EnsureCollection(ctx, "/p")
	require.NoError(t, err)

	chunks, vectors := testChunks("a.go", "alpha")
	require.NoError(t, r.Upsert(ctx, handle, "a.go", chunks, vectors))

	require.NoError(t, r.Remove(ctx, handle, "a.go"))
	require.NoError(t, r.Remove(ctx, handle, "a.go"))         // second removal
	require.NoError(t, r.Remove(ctx, handle, "never-was.go")) // never indexed

	results, err := r.Query(ctx, handle, []float32{1, 0, 0}, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestQuery_UnknownCollectionReturnsEmpty(t *testing.T) {
	r := newTestRouter(t)

	results, err := r.Query(context.Background(), "ws-0000000000000000", []float32{1, 0, 0}, 5, 0)

	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestQuery_CollectionsAreIsolated(t *testing.T) {
	r := newTestRouter(t)
	ctx := context.Background()

	hA, err := r.EnsureCollection(ctx, "/project-a")
	require.NoError(t, err)
	hB, err := r.EnsureCollection(ctx, "/project-b")
	require.NoError(t, err)

	chunks, vectors := testChunks("a.go", "zzqq marker")
	require.NoError(t, r.Upsert(ctx, hA, "a.go", chunks, vectors))

	// The other collection never sees it.
	results, err := r.Query(ctx, hB, vectors[0], 10, 0)
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = r.Query(ctx, hA, vectors[0], 10, 0)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestFileHash_TracksUpserts(t *testing.T) {
	r := newTestRouter(t)
	ctx := context.Background()

	handle, err := r.EnsureCollection(ctx, "/p")
	require.NoError(t, err)

	hash, err := r.FileHash(ctx, handle, "a.go")
	require.NoError(t, err)
	assert.Empty(t, hash)

	chunks, vectors := testChunks("a.go", "alpha")
	require.NoError(t, r.Upsert(ctx, handle, "a.go", chunks, vectors))

	first, err := r.FileHash(ctx, handle, "a.go")
	require.NoError(t, err)
	assert.NotEmpty(t, first)

	chunks, vectors = testChunks("a.go", "changed")
	require.NoError(t, r.Upsert(ctx, handle, "a.go", chunks, vectors))

	second, err := r.FileHash(ctx, handle, "a.go")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestRouter_SaveAndReopen(t *testing.T) {
	ctx := context.Background()
	dataDir := t.TempDir()
	regPath := filepath.Join(dataDir, "registry.db")

	reg, err := store.NewRegistry(regPath)
	require.NoError(t, err)
	r := New(reg, Options{DataDir: dataDir, Store: store.Options{Dimensions: 3}})

	handle, err := r.EnsureCollection(ctx, "/p")
	require.NoError(t, err)
	chunks, vectors := testChunks("a.go", "persisted")
	require.NoError(t, r.Upsert(ctx, handle, "a.go", chunks, vectors))
	require.NoError(t, r.Close())
	require.NoError(t, reg.Close())

	// Reopen against the same data directory.
	reg2, err := store.NewRegistry(regPath)
	require.NoError(t, err)
	defer reg2.Close()
	r2 := New(reg2, Options{DataDir: dataDir, Store: store.Options{Dimensions: 3}})
	defer r2.Close()

	handle2, err := r2.EnsureCollection(ctx, "/p")
	require.NoError(t, err)
	require.Equal(t, handle, handle2)

	results, err := r2.Query(ctx, handle2, vectors[0], 5, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "persisted", results[0].Payload.Content)
}
