// Package local_test tests the local filesystem blob store.
package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socialtoolkit/lawharvest/internal/blob/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		store, err := local.New(local.Config{BaseDir: t.TempDir()})
		require.NoError(t, err)
		assert.NotNil(t, store)
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		tempFile, err := os.CreateTemp("", "testfile")
		require.NoError(t, err)
		t.Cleanup(func() {
			removeErr := os.Remove(tempFile.Name())
			if removeErr != nil && !os.IsNotExist(removeErr) {
				t.Fatalf("failed to remove temp file: %v", removeErr)
			}
		})

		_, err = local.New(local.Config{BaseDir: tempFile.Name()})
		assert.Error(t, err)
	})
}

func TestPutGet(t *testing.T) {
	tempDir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: tempDir})
	require.NoError(t, err)

	t.Run("RoundTrip", func(t *testing.T) {
		path := "payloads/abc123/20260301103000.pdf"
		data := []byte("%PDF-1.4 content")

		uri, err := store.Put(context.Background(), path, "application/pdf", data)
		require.NoError(t, err)
		assert.Equal(t, "file://"+filepath.Join(tempDir, path), uri)

		got, err := store.Get(context.Background(), path)
		require.NoError(t, err)
		assert.Equal(t, data, got)
	})

	t.Run("EmptyPath", func(t *testing.T) {
		_, err := store.Put(context.Background(), "", "text/plain", []byte("x"))
		assert.Error(t, err)
	})

	t.Run("PathTraversal", func(t *testing.T) {
		_, err := store.Put(context.Background(), "../escape.txt", "text/plain", []byte("x"))
		assert.Error(t, err)
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := store.Get(context.Background(), "payloads/missing.bin")
		assert.Error(t, err)
	})
}
