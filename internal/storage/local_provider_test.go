package storage

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestProvider(t *testing.T) (*LocalProvider, string) {
	t.Helper()
	dir := t.TempDir()
	provider, err := NewLocalProvider(dir)
	require.NoError(t, err)
	return provider, dir
}

func TestLocalProvider_PutGetObject(t *testing.T) {
	provider, baseDir := setupTestProvider(t)
	ctx := context.Background()

	content := []byte("activity file")
	require.NoError(t, provider.PutObject(ctx, "activities", "user/run.fit", bytes.NewReader(content)))

	data, err := os.ReadFile(filepath.Join(baseDir, "activities", "user", "run.fit"))
	require.NoError(t, err)
	assert.Equal(t, content, data)

	data, err = provider.GetObject(ctx, "activities", "user/run.fit")
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestLocalProvider_GetMissingObject(t *testing.T) {
	provider, _ := setupTestProvider(t)

	_, err := provider.GetObject(context.Background(), "activities", "missing.fit")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLocalProvider_DeleteObject(t *testing.T) {
	provider, _ := setupTestProvider(t)
	ctx := context.Background()

	require.NoError(t, provider.PutObject(ctx, "activities", "a.tcx", bytes.NewReader([]byte("x"))))
	require.NoError(t, provider.DeleteObject(ctx, "activities", "a.tcx"))

	_, err := provider.GetObject(ctx, "activities", "a.tcx")
	assert.Error(t, err)

	// Deleting twice is not an error.
	require.NoError(t, provider.DeleteObject(ctx, "activities", "a.tcx"))
}

func TestLocalProvider_ListObjects(t *testing.T) {
	provider, _ := setupTestProvider(t)
	ctx := context.Background()

	require.NoError(t, provider.CreateBucket(ctx, "activities"))
	require.NoError(t, provider.PutObject(ctx, "activities", "u1/a.fit", bytes.NewReader([]byte("abc"))))
	require.NoError(t, provider.PutObject(ctx, "activities", "u1/b.fit", bytes.NewReader([]byte("de"))))
	require.NoError(t, provider.PutObject(ctx, "activities", "u2/c.fit", bytes.NewReader([]byte("f"))))

	objects, err := provider.ListObjects(ctx, "activities", "u1/")
	require.NoError(t, err)
	assert.ElementsMatch(t, []Object{{Name: "u1/a.fit", Size: 3}, {Name: "u1/b.fit", Size: 2}}, objects)

	all, err := provider.ListObjects(ctx, "activities", "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
