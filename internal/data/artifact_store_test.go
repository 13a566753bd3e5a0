package data

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/mstrycker/docexport/internal/errors"
)

func newTestArtifactStore(t *testing.T) *FSArtifactStore {
	store, err := NewFSArtifactStore(t.TempDir(), FSArtifactStoreConfig{})
	require.NoError(t, err)
	return store
}

func TestFSArtifactStore_PutGet_RoundTrip(t *testing.T) {
	store := newTestArtifactStore(t)
	ctx := context.Background()

	ref, err := store.Put(ctx, strings.NewReader("bundle bytes"), "application/zip")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(ref, ".zip"))
	assert.NotContains(t, ref, "/")

	rc, err := store.Get(ctx, ref)
	require.NoError(t, err)
	defer rc.Close()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "bundle bytes", string(got))
}

func TestFSArtifactStore_Put_UnknownContentType(t *testing.T) {
	store := newTestArtifactStore(t)

	ref, err := store.Put(context.Background(), strings.NewReader("x"), "application/octet-stream")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(ref, ".bin"))
}

func TestFSArtifactStore_Put_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFSArtifactStore(dir, FSArtifactStoreConfig{})
	require.NoError(t, err)

	_, err = store.Put(context.Background(), strings.NewReader("x"), "application/zip")
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), ".put-"), "temp file left behind: %s", e.Name())
	}
}

func TestFSArtifactStore_Get_NotFound(t *testing.T) {
	store := newTestArtifactStore(t)

	_, err := store.Get(context.Background(), "missing.zip")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestFSArtifactStore_Get_RejectsPathTraversal(t *testing.T) {
	store := newTestArtifactStore(t)

	for _, ref := range []string{"", "../escape.zip", "a/b.zip", `..\escape.zip`} {
		_, err := store.Get(context.Background(), ref)
		require.Error(t, err, "ref %q", ref)
		assert.True(t, apperrors.IsValidation(err), "ref %q", ref)
	}
}

func TestFSArtifactStore_Delete_Idempotent(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFSArtifactStore(dir, FSArtifactStoreConfig{})
	require.NoError(t, err)
	ctx := context.Background()

	ref, err := store.Put(ctx, strings.NewReader("x"), "application/zip")
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, ref))
	_, statErr := os.Stat(filepath.Join(dir, ref))
	assert.True(t, os.IsNotExist(statErr))

	// Second delete of the same reference is a no-op.
	require.NoError(t, store.Delete(ctx, ref))
}
