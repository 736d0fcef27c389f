package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWatcher(t *testing.T, root string) *Watcher {
	t.Helper()
	w, err := New(root, Options{DebounceWindow: 50 * time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })
	return w
}

func waitForEvent(t *testing.T, w *Watcher, timeout time.Duration) Event {
	t.Helper()
	select {
	case ev, ok := <-w.Events():
		require.True(t, ok, "event channel closed")
		return ev
	case <-time.After(timeout):
		t.Fatal("timeout waiting for watcher event")
		return Event{}
	}
}

func TestWatcher_EmitsUpdateOnWrite(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, root)

	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main"), 0o644))

	ev := waitForEvent(t, w, 2*time.Second)
	assert.Equal(t, "main.go", ev.Path)
	assert.Equal(t, KindUpdated, ev.Kind)
}

func TestWatcher_EmitsDeleteOnRemove(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "old.py")
	require.NoError(t, os.WriteFile(path, []byte("x = 1"), 0o644))

	w := startWatcher(t, root)
	require.NoError(t, os.Remove(path))

	ev := waitForEvent(t, w, 2*time.Second)
	assert.Equal(t, "old.py", ev.Path)
	assert.Equal(t, KindDeleted, ev.Kind)
}

func TestWatcher_IgnoresUnsupportedExtensions(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, root)

	require.NoError(t, os.WriteFile(filepath.Join(root, "data.bin"), []byte{0, 1, 2}, 0o644))

	select {
	case ev := <-w.Events():
		t.Fatalf("unexpected event for unsupported file: %+v", ev)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcher_WatchesNewSubdirectories(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, root)

	sub := filepath.Join(root, "pkg")
	require.NoError(t, os.Mkdir(sub, 0o755))
	// Give the watcher a moment to register the new directory.
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(sub, "util.go"), []byte("package pkg"), 0o644))

	ev := waitForEvent(t, w, 2*time.Second)
	assert.Equal(t, "pkg/util.go", ev.Path)
	assert.Equal(t, KindUpdated, ev.Kind)
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	root := t.TempDir()
	w, err := New(root, Options{DebounceWindow: 50 * time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))

	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
}
