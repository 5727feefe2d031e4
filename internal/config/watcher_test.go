package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestWatcherReloadsStore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chatdock.yaml")
	require.NoError(t, Save(path, File{Listen: "127.0.0.1:3000"}))

	f, err := Load(path)
	require.NoError(t, err)
	store := NewStore(path, f)

	reloaded := make(chan File, 4)
	w, err := NewWatcher(store, zaptest.NewLogger(t), func(f File) {
		reloaded <- f
	})
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, Save(path, File{Listen: "127.0.0.1:3000", EntryURL: "https://chat.example/start"}))

	select {
	case got := <-reloaded:
		require.Equal(t, "https://chat.example/start", got.EntryURL)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher never picked up the rewrite")
	}
	require.Equal(t, "https://chat.example/start", store.Current().EntryURL)
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chatdock.yaml")
	require.NoError(t, Save(path, File{Listen: "127.0.0.1:3000"}))

	store := NewStore(path, DefaultFile())
	reloaded := make(chan File, 4)
	w, err := NewWatcher(store, zaptest.NewLogger(t), func(f File) {
		reloaded <- f
	})
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, Save(filepath.Join(dir, "other.yaml"), File{EntryURL: "https://elsewhere"}))

	select {
	case f := <-reloaded:
		t.Fatalf("unexpected reload: %+v", f)
	case <-time.After(700 * time.Millisecond):
	}
}

func TestWatcherStopAfterFailedStart(t *testing.T) {
	// Config path in a directory that does not exist: Add fails and no
	// loop goroutine runs, but Stop must still return.
	path := filepath.Join(t.TempDir(), "missing", "chatdock.yaml")
	store := NewStore(path, DefaultFile())
	w, err := NewWatcher(store, zaptest.NewLogger(t), nil)
	require.NoError(t, err)
	require.Error(t, w.Start())

	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop hung after failed Start")
	}
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatdock.yaml")
	store := NewStore(path, DefaultFile())
	w, err := NewWatcher(store, zaptest.NewLogger(t), nil)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	w.Stop()
	w.Stop()
}
