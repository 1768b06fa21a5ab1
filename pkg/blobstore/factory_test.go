package blobstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DefaultIsFileStore(t *testing.T) {
	tmpDir := t.TempDir()
	store, err := New(context.Background(), Config{DataDir: tmpDir})
	require.NoError(t, err)

	fs, ok := store.(*FileStore)
	require.True(t, ok, "expected *FileStore, got %T", store)
	assert.Equal(t, filepath.Join(tmpDir, "blobs"), fs.baseDir)
}

func TestNew_Backends(t *testing.T) {
	ctx := context.Background()

	s, err := New(ctx, Config{Type: StoreTypeMemory})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = New(ctx, Config{Type: StoreTypeHTTP, HTTPURL: "http://localhost:5555"})
	require.NoError(t, err)
	assert.IsType(t, &HTTPStore{}, s)

	s, err = New(ctx, Config{Type: StoreTypeSQLite, DataDir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &SQLStore{}, s)
	require.NoError(t, s.(*SQLStore).Close())
}

func TestNew_MissingSettings(t *testing.T) {
	ctx := context.Background()
	cases := map[StoreType]string{
		StoreTypeHTTP:     "BLOB_HTTP_URL is required",
		StoreTypeS3:       "BLOB_S3_BUCKET is required",
		StoreTypeRedis:    "REDIS_ADDR is required",
		StoreTypePostgres: "DATABASE_URL is required",
		"azure":           "unsupported blob storage type",
	}
	for typ, msg := range cases {
		_, err := New(ctx, Config{Type: typ})
		require.Error(t, err, typ)
		assert.Contains(t, err.Error(), msg)
	}
}

func TestNew_GCSMissingBucket(t *testing.T) {
	_, err := New(context.Background(), Config{Type: StoreTypeGCS})
	require.Error(t, err)
	// Builds without the gcp tag report that GCS is disabled instead.
	assert.Regexp(t, `BLOB_GCS_BUCKET is required|not enabled in this build`, err.Error())
}
