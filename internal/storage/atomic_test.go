package storage_test

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/visitsync/internal/events"
	"github.com/TheMichaelB/visitsync/internal/storage"
)

func newStore(t *testing.T) (*storage.LocalStore, string) {
	t.Helper()
	tmpDir := t.TempDir()
	var buf bytes.Buffer
	logger := events.NewTestLogger(events.DebugLevel, "json", &buf)

	store, err := storage.NewLocalStore(tmpDir, logger)
	require.NoError(t, err)
	return store, tmpDir
}

func TestAtomicWrites(t *testing.T) {
	store, tmpDir := newStore(t)

	t.Run("concurrent writes different files", func(t *testing.T) {
		var wg sync.WaitGroup
		errs := make(chan error, 10)

		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()

				// separate store per goroutine so the loggers do not share a buffer
				var buf bytes.Buffer
				concurrentStore, err := storage.NewLocalStore(tmpDir, events.NewTestLogger(events.DebugLevel, "json", &buf))
				if err != nil {
					errs <- err
					return
				}

				path := fmt.Sprintf("concurrent-%d.json", n)
				if err := concurrentStore.Write(path, []byte(fmt.Sprintf("content-%d", n)), 0600); err != nil {
					errs <- err
				}
			}(i)
		}

		wg.Wait()
		close(errs)

		for err := range errs {
			t.Errorf("Write error: %v", err)
		}

		for i := 0; i < 10; i++ {
			data, err := store.Read(fmt.Sprintf("concurrent-%d.json", i))
			require.NoError(t, err)
			assert.Equal(t, fmt.Sprintf("content-%d", i), string(data))
		}
	})

	t.Run("overwrite replaces content", func(t *testing.T) {
		require.NoError(t, store.Write("worker.json", []byte(`{"id":"w1"}`), 0600))
		require.NoError(t, store.Write("worker.json", []byte(`{"id":"w2"}`), 0600))

		data, err := store.Read("worker.json")
		require.NoError(t, err)
		assert.Equal(t, `{"id":"w2"}`, string(data))
	})

	t.Run("size limit", func(t *testing.T) {
		store.SetMaxFileSize(16)
		defer store.SetMaxFileSize(1024 * 1024)

		err := store.Write("large.json", []byte(strings.Repeat("b", 32)), 0600)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "too large")

		exists, _ := store.Exists("large.json")
		assert.False(t, exists)
	})

	t.Run("write failure cleanup", func(t *testing.T) {
		require.NoError(t, os.Mkdir(filepath.Join(tmpDir, "blocker"), 0700))

		err := store.Write("blocker", []byte("data"), 0600)
		assert.Error(t, err)

		entries, err := os.ReadDir(tmpDir)
		require.NoError(t, err)
		for _, e := range entries {
			assert.NotContains(t, e.Name(), ".tmp.", "found temp file %s", e.Name())
		}
	})
}

func TestReadAndDelete(t *testing.T) {
	store, _ := newStore(t)

	_, err := store.Read("missing.json")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, store.Write("nested/state.json", []byte("{}"), 0600))
	exists, err := store.Exists("nested/state.json")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, store.Delete("nested/state.json"))
	require.NoError(t, store.Delete("nested/state.json"))

	exists, err = store.Exists("nested/state.json")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestPathValidation(t *testing.T) {
	store, tmpDir := newStore(t)

	for _, path := range []string{"../escape.json", "a/../../escape.json", "", ".", "bad\x00name"} {
		t.Run(fmt.Sprintf("%q", path), func(t *testing.T) {
			assert.Error(t, store.Write(path, []byte("x"), 0600))
		})
	}

	// absolute paths are re-rooted under the base directory
	require.NoError(t, store.Write("/abs.json", []byte("x"), 0600))
	_, err := os.Stat(filepath.Join(tmpDir, "abs.json"))
	assert.NoError(t, err)
}

func TestReadRejectsSymlink(t *testing.T) {
	store, tmpDir := newStore(t)

	target := filepath.Join(t.TempDir(), "secret")
	require.NoError(t, os.WriteFile(target, []byte("secret"), 0600))
	if err := os.Symlink(target, filepath.Join(tmpDir, "link.json")); err != nil {
		t.Skip("symlinks not supported")
	}

	_, err := store.Read("link.json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "symlinks not allowed")
}
