package index

import (
	"context"
	"crypto/sha256"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarry-search/quarry/internal/chunk"
	"github.com/quarry-search/quarry/internal/config"
	qerrors "github.com/quarry-search/quarry/internal/errors"
	"github.com/quarry-search/quarry/internal/router"
	"github.com/quarry-search/quarry/internal/store"
	"github.com/quarry-search/quarry/internal/watcher"
)

// testEmbedder produces tiny deterministic vectors and can be gated or
// forced to fail to exercise pause and breaker paths.
type testEmbedder struct {
	mu      sync.Mutex
	calls   int
	failErr error
	// gate, when non-nil, blocks each batch until a token arrives.
	gate chan struct{}
}

func (e *testEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *testEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	gate := e.gate
	failErr := e.failErr
	e.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failErr != nil {
		return nil, failErr
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		h := sha256.Sum256([]byte(text))
		out[i] = []float32{float32(h[0]) + 1, float32(h[1]), float32(h[2])}
	}
	return out, nil
}

func (e *testEmbedder) setFail(err error) {
	e.mu.Lock()
	e.failErr = err
	e.mu.Unlock()
}

func (e *testEmbedder) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func (e *testEmbedder) Dimensions() int { return 3 }
func (e *testEmbedder) ModelName() string { return "test" }
func (e *testEmbedder) Available(_ context.Context) bool { return true }
func (e *testEmbedder) Close() error { return nil }

type fixture struct {
	folder   string
	coord    *Coordinator
	router   *router.Router
	embedder *testEmbedder
	breaker  *qerrors.CircuitBreaker
}

func newFixture(t *testing.T, files map[string]string) *fixture {
	t.Helper()

	folder := t.TempDir()
	for path, content := range files {
		abs := filepath.Join(folder, path)
		require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
		require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
	}

	reg, err := store.NewRegistry("")
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })

	rt := router.New(reg, router.Options{Store: store.Options{Dimensions: 3}})
	t.Cleanup(func() { rt.Close() })

	embedder := &testEmbedder{}
	breaker := qerrors.NewCircuitBreaker("embed", qerrors.WithMaxFailures(2))
	pipeline := NewPipeline(chunk.NewCodeChunker(), embedder, rt, breaker)

	coord := NewCoordinator(folder, Config{Workers: 2, Intensity: config.IntensityHigh}, pipeline, rt)
	t.Cleanup(coord.Close)

	return &fixture{folder: folder, coord: coord, router: rt, embedder: embedder, breaker: breaker}
}

func goFile(name string) string {
	return "package demo\n\nfunc " + name + "() int {\n\treturn 42\n}\n"
}

func waitForStatus(t *testing.T, c *Coordinator, want JobStatus) Snapshot {
	t.Helper()
	var snap Snapshot
	require.Eventually(t, func() bool {
		s, ok := c.Status()
		if ok && s.Status == want {
			snap = s
			return true
		}
		return false
	}, 5*time.Second, 5*time.Millisecond)
	return snap
}

func TestStartFull_IndexesEverything(t *testing.T) {
	f := newFixture(t, map[string]string{
		"a.go":       goFile("Alpha"),
		"b.go":       goFile("Beta"),
		"sub/c.go":   goFile("Gamma"),
		"README.txt": "not a supported language",
	})
	ctx := context.Background()

	snap, err := f.coord.StartFull(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, snap.TotalFiles) // .txt never enters the queue

	done := waitForStatus(t, f.coord, StatusCompleted)
	assert.Equal(t, 3, done.IndexedFiles)
	assert.Empty(t, done.Failures)

	// Indexed content is queryable.
	results, err := f.router.Query(ctx, done.Handle, []float32{1, 0, 0}, 10, 0)
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestStartFull_SecondStartRejected(t *testing.T) {
	f := newFixture(t, map[string]string{"a.go": goFile("Alpha"), "b.go": goFile("Beta")})
	f.embedder.gate = make(chan struct{})
	ctx := context.Background()

	_, err := f.coord.StartFull(ctx)
	require.NoError(t, err)

	// A second start while the job runs is rejected synchronously.
	_, err = f.coord.StartFull(ctx)
	require.Error(t, err)
	assert.Equal(t, qerrors.ErrCodeAlreadyIndexing, qerrors.GetCode(err))

	close(f.embedder.gate)
	waitForStatus(t, f.coord, StatusCompleted)

	// After completion a new job may start.
	_, err = f.coord.StartFull(ctx)
	require.NoError(t, err)
	waitForStatus(t, f.coord, StatusCompleted)
}

func TestPauseResume_IndexesEveryFileExactlyOnce(t *testing.T) {
	files := map[string]string{}
	names := []string{"Alpha", "Beta", "Gamma", "Delta", "Epsilon", "Zeta"}
	for i, n := range names {
		files[string(rune('a'+i))+".go"] = goFile(n)
	}
	f := newFixture(t, files)
	f.embedder.gate = make(chan struct{}, len(names))
	ctx := context.Background()

	_, err := f.coord.StartFull(ctx)
	require.NoError(t, err)

	// Let the first batch through and wait for the cursor to move, so
	// the pause cannot land before any file was processed.
	f.embedder.gate <- struct{}{}
	f.embedder.gate <- struct{}{}
	require.Eventually(t, func() bool {
		s, ok := f.coord.Status()
		return ok && s.Cursor > 0
	}, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, f.coord.Pause())
	// Unblock any in-flight workers so the runner reaches the boundary.
	f.embedder.gate <- struct{}{}
	f.embedder.gate <- struct{}{}

	paused := waitForStatus(t, f.coord, StatusPaused)
	require.Less(t, paused.Cursor, paused.TotalFiles)
	require.Greater(t, paused.Cursor, 0)

	// Pausing a paused job is an error.
	err = f.coord.Pause()
	assert.Equal(t, qerrors.ErrCodeNotRunning, qerrors.GetCode(err))

	// Resume first, then feed the remaining tokens; the runner is the
	// consumer, so the sends can never wedge the test.
	require.NoError(t, f.coord.Resume())
	for i := 0; i < len(names); i++ {
		f.embedder.gate <- struct{}{}
	}
	done := waitForStatus(t, f.coord, StatusCompleted)

	assert.Equal(t, len(names), done.IndexedFiles)
	results, err := f.router.Query(ctx, done.Handle, []float32{1, 0, 0}, 20, 0)
	require.NoError(t, err)
	assert.Len(t, results, len(names)) // one chunk per file, none missing, none doubled
}

func TestResume_WithoutPauseIsError(t *testing.T) {
	f := newFixture(t, map[string]string{"a.go": goFile("Alpha")})

	err := f.coord.Resume()

	require.Error(t, err)
	assert.Equal(t, qerrors.ErrCodeNotPaused, qerrors.GetCode(err))
}

func TestCancel_KeepsPartialIndex(t *testing.T) {
	f := newFixture(t, map[string]string{
		"a.go": goFile("Alpha"), "b.go": goFile("Beta"),
		"c.go": goFile("Gamma"), "d.go": goFile("Delta"),
	})
	f.embedder.gate = make(chan struct{}, 8)
	ctx := context.Background()

	_, err := f.coord.StartFull(ctx)
	require.NoError(t, err)

	// Two files commit, then the job is cancelled.
	f.embedder.gate <- struct{}{}
	f.embedder.gate <- struct{}{}
	require.NoError(t, f.coord.Pause())
	f.embedder.gate <- struct{}{}
	f.embedder.gate <- struct{}{}
	paused := waitForStatus(t, f.coord, StatusPaused)

	require.NoError(t, f.coord.Cancel())
	cancelled := waitForStatus(t, f.coord, StatusCancelled)
	assert.Equal(t, paused.Cursor, cancelled.Cursor)

	// Committed work survives.
	results, err := f.router.Query(ctx, cancelled.Handle, []float32{1, 0, 0}, 20, 0)
	require.NoError(t, err)
	assert.Len(t, results, cancelled.IndexedFiles)

	// A cancelled job cannot resume.
	err = f.coord.Resume()
	assert.Equal(t, qerrors.ErrCodeNotPaused, qerrors.GetCode(err))
}

func TestProviderOutage_PausesInsteadOfFailing(t *testing.T) {
	files := map[string]string{}
	for i, n := range []string{"Alpha", "Beta", "Gamma", "Delta"} {
		files[string(rune('a'+i))+".go"] = goFile(n)
	}
	f := newFixture(t, files)

	// Workers=1 keeps the failure sequence deterministic.
	f.coord.cfg.Workers = 1
	f.embedder.setFail(qerrors.New(qerrors.ErrCodeProviderTimeout, "provider down", nil))

	_, err := f.coord.StartFull(context.Background())
	require.NoError(t, err)

	// Two failures trip the breaker; the next file sees an open circuit
	// and the job pauses itself instead of failing the whole queue.
	paused := waitForStatus(t, f.coord, StatusPaused)
	assert.Equal(t, "embedding provider unavailable", paused.PauseReason)
	assert.Len(t, paused.Failures, 2)
	assert.Less(t, paused.Cursor, paused.TotalFiles)
}

func TestStartFull_MissingRootIsFatal(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, os.RemoveAll(f.folder))

	_, err := f.coord.StartFull(context.Background())

	require.Error(t, err)
	assert.Equal(t, qerrors.ErrCodeRootVanished, qerrors.GetCode(err))
}

func TestCrossProcessLock_RejectsSecondCoordinator(t *testing.T) {
	f := newFixture(t, map[string]string{"a.go": goFile("Alpha")})
	dataDir := filepath.Join(t.TempDir(), "data")
	f.coord.cfg.DataDir = dataDir
	f.embedder.gate = make(chan struct{})

	_, err := f.coord.StartFull(context.Background())
	require.NoError(t, err)

	// A second coordinator on the same data directory cannot start.
	other := NewCoordinator(f.folder, Config{Workers: 1, DataDir: dataDir}, f.coord.pipeline, f.router)
	_, err = other.StartFull(context.Background())
	require.Error(t, err)
	assert.Equal(t, qerrors.ErrCodeAlreadyIndexing, qerrors.GetCode(err))

	close(f.embedder.gate)
	waitForStatus(t, f.coord, StatusCompleted)
}

func TestApplyIncremental_UpdateThenDelete(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	abs := filepath.Join(f.folder, "late.go")
	require.NoError(t, os.WriteFile(abs, []byte(goFile("Late")), 0o644))

	require.NoError(t, f.coord.ApplyIncremental(ctx, watcher.Event{Path: "late.go", Kind: watcher.KindUpdated}))

	handle, err := f.router.EnsureCollection(ctx, f.folder)
	require.NoError(t, err)
	results, err := f.router.Query(ctx, handle, []float32{1, 0, 0}, 10, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "late.go", results[0].Payload.FilePath)

	// Delete drops the points; a second delete is a no-op.
	require.NoError(t, f.coord.ApplyIncremental(ctx, watcher.Event{Path: "late.go", Kind: watcher.KindDeleted}))
	require.NoError(t, f.coord.ApplyIncremental(ctx, watcher.Event{Path: "late.go", Kind: watcher.KindDeleted}))

	results, err = f.router.Query(ctx, handle, []float32{1, 0, 0}, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestApplyIncremental_MergesIntoActiveJob(t *testing.T) {
	files := map[string]string{}
	for i, n := range []string{"Alpha", "Beta", "Gamma", "Delta", "Epsilon"} {
		files[string(rune('a'+i))+".go"] = goFile(n)
	}
	f := newFixture(t, files)
	f.embedder.gate = make(chan struct{}, 16)
	ctx := context.Background()

	_, err := f.coord.StartFull(ctx)
	require.NoError(t, err)
	require.NoError(t, f.coord.Pause())
	// Unblock any in-flight workers so the runner reaches the boundary.
	f.embedder.gate <- struct{}{}
	f.embedder.gate <- struct{}{}
	paused := waitForStatus(t, f.coord, StatusPaused)
	require.Less(t, paused.Cursor, paused.TotalFiles)

	// A change for a still-queued file stays with the job; nothing is
	// embedded here, so the file cannot be processed twice.
	before := f.embedder.callCount()
	require.NoError(t, f.coord.ApplyIncremental(ctx, watcher.Event{Path: "e.go", Kind: watcher.KindUpdated}))
	assert.Equal(t, before, f.embedder.callCount())

	// A brand-new file joins the pending queue.
	require.NoError(t, os.WriteFile(filepath.Join(f.folder, "f.go"), []byte(goFile("Eta")), 0o644))
	require.NoError(t, f.coord.ApplyIncremental(ctx, watcher.Event{Path: "f.go", Kind: watcher.KindUpdated}))
	assert.Equal(t, before, f.embedder.callCount())

	// A delete drops the file from the queue so it is never indexed.
	require.NoError(t, f.coord.ApplyIncremental(ctx, watcher.Event{Path: "d.go", Kind: watcher.KindDeleted}))

	snap, ok := f.coord.Status()
	require.True(t, ok)
	assert.Equal(t, 5, snap.TotalFiles) // a, b, c, e, f

	require.NoError(t, f.coord.Resume())
	for i := 0; i < 10; i++ {
		f.embedder.gate <- struct{}{}
	}
	done := waitForStatus(t, f.coord, StatusCompleted)
	assert.Equal(t, 5, done.IndexedFiles)

	results, err := f.router.Query(ctx, done.Handle, []float32{1, 0, 0}, 20, 0)
	require.NoError(t, err)
	assert.Len(t, results, 5) // each surviving file exactly once
	for _, res := range results {
		assert.NotEqual(t, "d.go", res.Payload.FilePath)
	}
}

func TestApplyIncremental_UpdateForVanishedFileRemoves(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	abs := filepath.Join(f.folder, "ghost.go")
	require.NoError(t, os.WriteFile(abs, []byte(goFile("Ghost")), 0o644))
	require.NoError(t, f.coord.ApplyIncremental(ctx, watcher.Event{Path: "ghost.go", Kind: watcher.KindUpdated}))
	require.NoError(t, os.Remove(abs))

	// The stale update event degrades to a removal.
	require.NoError(t, f.coord.ApplyIncremental(ctx, watcher.Event{Path: "ghost.go", Kind: watcher.KindUpdated}))

	handle, err := f.router.EnsureCollection(ctx, f.folder)
	require.NoError(t, err)
	results, err := f.router.Query(ctx, handle, []float32{1, 0, 0}, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}
