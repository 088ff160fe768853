package storage

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatcherReportsExternalWrites(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFile(dir)
	require.NoError(t, err)
	require.NoError(t, f.Write("todos", "[]"))

	changes := make(chan string, 4)
	w, err := NewWatcher(f, WithDebounce(10*time.Millisecond), OnChange(func(key string) {
		changes <- key
	}))
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.Start("todos"))

	other, err := NewFile(dir)
	require.NoError(t, err)
	require.NoError(t, other.Write("todos", `[{"id":"x"}]`))

	select {
	case key := <-changes:
		require.Equal(t, "todos", key)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for watcher change")
	}
}

func TestWatcherSkipsUnchangedContent(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFile(dir)
	require.NoError(t, err)
	require.NoError(t, f.Write("todos", "same"))

	changes := make(chan string, 4)
	w, err := NewWatcher(f, WithDebounce(10*time.Millisecond), OnChange(func(key string) {
		changes <- key
	}))
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.Start("todos"))

	require.NoError(t, f.Write("todos", "same"))
	// Unrelated files in the directory are ignored.
	require.NoError(t, os.WriteFile(f.Dir()+"/notes.txt", []byte("hi"), 0o600))

	select {
	case key := <-changes:
		t.Fatalf("unexpected change for %q", key)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcherCloseIsIdempotent(t *testing.T) {
	f, err := NewFile(t.TempDir())
	require.NoError(t, err)
	w, err := NewWatcher(f)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}

func TestWatcherCloseWithoutStart(t *testing.T) {
	f, err := NewFile(t.TempDir())
	require.NoError(t, err)
	w, err := NewWatcher(f)
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func TestNewWatcherRequiresBackend(t *testing.T) {
	_, err := NewWatcher(nil)
	require.Error(t, err)
}
