package objectstore_test

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emprofiler/internal/config"
	"emprofiler/internal/storage/objectstore"
)

func exerciseStore(t *testing.T, store objectstore.Store, prefix string) {
	t.Helper()
	ctx := context.Background()
	key := prefix + "/report.json"
	body := []byte(`{"status":"succeeded"}`)

	require.NoError(t, store.Put(ctx, key, bytes.NewReader(body), int64(len(body)), "application/json"))

	info, err := store.Stat(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(len(body)), info.Size)
	assert.Equal(t, "application/json", info.ContentType)
	assert.NotEmpty(t, info.ETag)

	rc, got, err := store.Get(ctx, key)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, body, data)
	assert.Equal(t, info.Size, got.Size)

	require.NoError(t, store.Delete(ctx, key))
	_, err = store.Stat(ctx, key)
	assert.ErrorIs(t, err, objectstore.ErrNotFound)
}

func TestMemoryStore(t *testing.T) {
	store := objectstore.NewMemoryStore()
	exerciseStore(t, store, "runs/run-1")

	ctx := context.Background()
	_, _, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, objectstore.ErrNotFound)
	assert.NoError(t, store.Delete(ctx, "missing"))
	assert.Error(t, store.Put(ctx, "", strings.NewReader("x"), 1, "text/plain"))
	assert.Error(t, store.Put(ctx, "short", strings.NewReader("x"), 10, "text/plain"))

	require.NoError(t, store.Put(ctx, "runs/b/report.xlsx", strings.NewReader("xlsx"), -1, ""))
	require.NoError(t, store.Put(ctx, "runs/a/report.json", strings.NewReader("{}"), 2, ""))
	require.NoError(t, store.Put(ctx, "other/c", strings.NewReader("c"), 1, ""))
	assert.Equal(t, []string{"runs/a/report.json", "runs/b/report.xlsx"}, store.Keys("runs/"))
}

func TestMinioStore_Config(t *testing.T) {
	_, err := objectstore.NewMinIOClient(config.ArchiveConfig{})
	assert.Error(t, err)

	_, err = objectstore.NewMinioStoreWithClient(nil, "reports")
	assert.Error(t, err)

	client, err := objectstore.NewMinIOClient(config.ArchiveConfig{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "b"})
	require.NoError(t, err)
	_, err = objectstore.NewMinioStoreWithClient(client, "")
	assert.Error(t, err)

	store, err := objectstore.NewMinioStoreWithClient(client, "reports")
	require.NoError(t, err)
	assert.Equal(t, "reports", store.Bucket())
}

// TestMinioStore runs against a real server when EMP_TEST_MINIO_ENDPOINT is set
func TestMinioStore(t *testing.T) {
	endpoint := strings.TrimSpace(os.Getenv("EMP_TEST_MINIO_ENDPOINT"))
	if endpoint == "" {
		t.Skip("EMP_TEST_MINIO_ENDPOINT not set")
	}

	store, err := objectstore.NewMinioStore(context.Background(), config.ArchiveConfig{
		Endpoint:  endpoint,
		AccessKey: os.Getenv("EMP_TEST_MINIO_ACCESS_KEY"),
		SecretKey: os.Getenv("EMP_TEST_MINIO_SECRET_KEY"),
		Bucket:    "emprofiler-test",
		Region:    "us-east-1",
	})
	require.NoError(t, err)
	exerciseStore(t, store, "runs/"+uuid.NewString())
}
