package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCollection(t *testing.T) *HNSWCollection {
	t.Helper()
	c, err := NewHNSWCollection(Options{Dimensions: 3})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func point(id string, vec []float32, path string) *Point {
	return &Point{ID: id, Vector: vec, Payload: Payload{FilePath: path, Content: "body of " + id}}
}

func TestHNSWCollection_AddAndSearch(t *testing.T) {
	c := newTestCollection(t)
	ctx := context.Background()

	require.NoError(t, c.Add(ctx, []*Point{
		point("a", []float32{1, 0, 0}, "a.go"),
		point("b", []float32{0, 1, 0}, "b.go"),
		point("c", []float32{0.9, 0.1, 0}, "c.go"),
	}))

	results, err := c.Search(ctx, []float32{1, 0, 0}, 2, 0)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, "c", results[1].ID)
	assert.Equal(t, "a.go", results[0].Payload.FilePath)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestHNSWCollection_AddReplacesExistingID(t *testing.T) {
	c := newTestCollection(t)
	ctx := context.Background()

	require.NoError(t, c.Add(ctx, []*Point{point("a", []float32{1, 0, 0}, "a.go")}))
	require.NoError(t, c.Add(ctx, []*Point{point("a", []float32{0, 0, 1}, "a.go")}))

	assert.Equal(t, 1, c.Count())

	// The replaced vector wins.
	results, err := c.Search(ctx, []float32{0, 0, 1}, 1, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
	assert.InDelta(t, 1.0, float64(results[0].Score), 1e-5)
}

func TestHNSWCollection_DeleteIsLazyAndIdempotent(t *testing.T) {
	c := newTestCollection(t)
	ctx := context.Background()

	require.NoError(t, c.Add(ctx, []*Point{
		point("a", []float32{1, 0, 0}, "a.go"),
		point("b", []float32{0, 1, 0}, "b.go"),
	}))

	require.NoError(t, c.Delete(ctx, []string{"a"}))
	require.NoError(t, c.Delete(ctx, []string{"a"})) // second delete is a no-op

	assert.Equal(t, 1, c.Count())
	assert.Equal(t, 1, c.Orphans())
	assert.False(t, c.Contains("a"))

	// The deleted point never surfaces in results.
	results, err := c.Search(ctx, []float32{1, 0, 0}, 5, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].ID)
}

func TestHNSWCollection_SearchEmptyReturnsNoResults(t *testing.T) {
	c := newTestCollection(t)

	results, err := c.Search(context.Background(), []float32{1, 0, 0}, 10, 0)

	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestHNSWCollection_MinScoreFiltersResults(t *testing.T) {
	c := newTestCollection(t)
	ctx := context.Background()

	require.NoError(t, c.Add(ctx, []*Point{
		point("near", []float32{1, 0, 0}, "near.go"),
		point("far", []float32{-1, 0, 0}, "far.go"),
	}))

	results, err := c.Search(ctx, []float32{1, 0, 0}, 10, 0.9)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "near", results[0].ID)
}

func TestHNSWCollection_DimensionMismatch(t *testing.T) {
	c := newTestCollection(t)
	ctx := context.Background()

	err := c.Add(ctx, []*Point{point("a", []float32{1, 0}, "a.go")})
	var dimErr ErrDimensionMismatch
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, 3, dimErr.Expected)
	assert.Equal(t, 2, dimErr.Got)

	_, err = c.Search(ctx, []float32{1, 0}, 1, 0)
	require.ErrorAs(t, err, &dimErr)
}

func TestHNSWCollection_SaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "vectors.hnsw")

	// Given a saved collection with one lazy deletion.
	c := newTestCollection(t)
	require.NoError(t, c.Add(ctx, []*Point{
		point("a", []float32{1, 0, 0}, "a.go"),
		point("b", []float32{0, 1, 0}, "b.go"),
	}))
	require.NoError(t, c.Delete(ctx, []string{"b"}))
	require.NoError(t, c.Save(path))

	// When loading into a fresh collection.
	loaded, err := NewHNSWCollection(Options{Dimensions: 3})
	require.NoError(t, err)
	defer loaded.Close()
	require.NoError(t, loaded.Load(path))

	// Then live points, payloads, and deletions survive.
	assert.Equal(t, 1, loaded.Count())
	assert.True(t, loaded.Contains("a"))
	assert.False(t, loaded.Contains("b"))

	results, err := loaded.Search(ctx, []float32{1, 0, 0}, 5, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a.go", results[0].Payload.FilePath)
}
