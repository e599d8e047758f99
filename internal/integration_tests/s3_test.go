package integrationtests

import (
	"context"
	"strings"
	"testing"
	"time"

	"training-backend/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bucketName = "test-bucket"

func setupTestProvider(t *testing.T, ctx context.Context) *storage.S3Provider {
	t.Helper()

	endpoint := setupMinioContainer(t, ctx)

	provider, err := storage.NewS3Provider(ctx, &storage.S3ProviderConfig{
		S3EndpointURL:     endpoint,
		S3AccessKeyID:     minioUsername,
		S3SecretAccessKey: minioPassword,
		S3Region:          "us-east-1",
	})
	require.NoError(t, err)

	require.NoError(t, provider.CreateBucket(ctx, bucketName))
	return provider
}

func TestS3Provider_PutGetObject(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	provider := setupTestProvider(t, ctx)

	key := "user/activity.tcx"
	require.NoError(t, provider.PutObject(ctx, bucketName, key, strings.NewReader("Test content")))

	data, err := provider.GetObject(ctx, bucketName, key)
	require.NoError(t, err)
	assert.Equal(t, "Test content", string(data))

	_, err = provider.GetObject(ctx, bucketName, "user/missing.tcx")
	assert.Error(t, err)

	// Creating an existing bucket is not an error.
	require.NoError(t, provider.CreateBucket(ctx, bucketName))
}

func TestS3Provider_ListDeleteObjects(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	provider := setupTestProvider(t, ctx)

	files := []string{"user-a/1.fit", "user-a/2.tcx", "user-b/3.fit"}
	for _, file := range files {
		require.NoError(t, provider.PutObject(ctx, bucketName, file, strings.NewReader("content: "+file)))
	}

	objs, err := provider.ListObjects(ctx, bucketName, "user-a/")
	require.NoError(t, err)
	require.Len(t, objs, 2)
	assert.Equal(t, "user-a/1.fit", objs[0].Name)
	assert.Equal(t, int64(len("content: user-a/1.fit")), objs[0].Size)

	require.NoError(t, provider.DeleteObject(ctx, bucketName, "user-a/1.fit"))
	require.NoError(t, provider.DeleteObject(ctx, bucketName, "user-a/1.fit"))

	objs, err = provider.ListObjects(ctx, bucketName, "user-a/")
	require.NoError(t, err)
	assert.Len(t, objs, 1)
}
