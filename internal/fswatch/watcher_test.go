package fswatch

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nextBatch(t *testing.T, w *Watcher, timeout time.Duration) Batch {
	t.Helper()
	select {
	case b, ok := <-w.Batches():
		require.True(t, ok, "batches closed")
		return b
	case <-time.After(timeout):
		require.FailNow(t, "timeout waiting for batch")
		return nil
	}
}

func TestWatcher_BatchesInArrivalOrder(t *testing.T) {
	w := New(t.TempDir(), Options{Debounce: 20 * time.Millisecond})
	defer w.Stop()

	w.add("/p/b.txt", KindCreate)
	w.add("/p/a.txt", KindCreate)
	w.add("/p/b.txt", KindWrite)

	assert.Equal(t, Batch{
		{Path: "/p/b.txt", Kind: KindWrite},
		{Path: "/p/a.txt", Kind: KindCreate},
	}, nextBatch(t, w, time.Second))

	w.add("/p/c.txt", KindRemove)
	assert.Equal(t, Batch{{Path: "/p/c.txt", Kind: KindRemove}}, nextBatch(t, w, time.Second))
}

func TestWatcher_FilterDropsEvents(t *testing.T) {
	w := New(t.TempDir(), Options{
		Debounce: 20 * time.Millisecond,
		Filter:   func(path string) bool { return strings.HasSuffix(path, ".log") },
	})
	defer w.Stop()

	w.add("/p/trace.log", KindWrite)
	w.add("/p/main.go", KindWrite)

	assert.Equal(t, Batch{{Path: "/p/main.go", Kind: KindWrite}}, nextBatch(t, w, time.Second))
}

func TestWatcher_MaxDelayClosesBusyBatch(t *testing.T) {
	w := New(t.TempDir(), Options{Debounce: 50 * time.Millisecond, MaxDelay: 120 * time.Millisecond})
	defer w.Stop()

	stop := time.After(400 * time.Millisecond)
	got := make(chan Batch, 1)
	go func() {
		b := <-w.Batches()
		got <- b
	}()

	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case b := <-got:
			assert.NotEmpty(t, b)
			return
		case <-stop:
			t.Fatal("batch never closed while events kept arriving")
		case <-tick.C:
			w.add("/p/hot.txt", KindWrite)
		}
	}
}

func TestWatcher_StopFlushesAndCloses(t *testing.T) {
	w := New(t.TempDir(), Options{Debounce: time.Hour})
	w.add("/p/a.txt", KindCreate)
	w.Stop()
	w.Stop()

	b, ok := <-w.Batches()
	require.True(t, ok)
	assert.Equal(t, Batch{{Path: "/p/a.txt", Kind: KindCreate}}, b)

	_, ok = <-w.Batches()
	assert.False(t, ok)
}

func TestWatcher_StartTwice(t *testing.T) {
	w := New(t.TempDir(), Options{})
	require.NoError(t, w.Start(t.Context()))
	defer w.Stop()
	assert.ErrorIs(t, w.Start(t.Context()), ErrAlreadyStarted)
}

func TestWatcher_RealFilesystemEvents(t *testing.T) {
	dir := t.TempDir()
	w := New(dir, Options{Debounce: 50 * time.Millisecond})
	require.NoError(t, w.Start(t.Context()))
	defer w.Stop()

	// tmp dirs may sit behind a symlink (macOS)
	root := w.Root()
	file := filepath.Join(root, "test.txt")
	require.NoError(t, os.WriteFile(file, []byte("hello"), 0o644))

	deadline := time.After(3 * time.Second)
	for {
		select {
		case b := <-w.Batches():
			for _, ev := range b {
				if ev.Path == file {
					return
				}
			}
		case <-deadline:
			t.Fatal("no event for written file")
		}
	}
}
