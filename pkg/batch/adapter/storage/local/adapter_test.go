package local_test

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/chunkflow/pkg/batch/adapter/storage/local"
)

func TestLocalAdapter_RoundTrip(t *testing.T) {
	ctx := context.Background()
	conn, err := local.NewLocalAdapterFromProperties("exports", map[string]interface{}{
		"type":     "local",
		"base_dir": t.TempDir(),
	})
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Upload(ctx, "numbers", "part-0001.parquet", bytes.NewBufferString("abc"), "application/octet-stream"))

	var names []string
	require.NoError(t, conn.ListObjects(ctx, "numbers", "", func(name string) error {
		names = append(names, name)
		return nil
	}))
	assert.Equal(t, []string{"part-0001.parquet"}, names)

	rc, err := conn.Download(ctx, "numbers", "part-0001.parquet")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))

	require.NoError(t, conn.DeleteObject(ctx, "numbers", "part-0001.parquet"))
	assert.NoError(t, conn.DeleteObject(ctx, "numbers", "part-0001.parquet"), "deleting a missing object is not an error")
}

func TestLocalAdapter_RejectsEscapingPaths(t *testing.T) {
	conn, err := local.NewLocalAdapterFromProperties("exports", map[string]interface{}{"base_dir": t.TempDir()})
	require.NoError(t, err)
	err = conn.Upload(context.Background(), "", "../outside.txt", bytes.NewBufferString("x"), "text/plain")
	assert.Error(t, err)
}

func TestLocalAdapter_TypeMismatch(t *testing.T) {
	_, err := local.NewLocalAdapterFromProperties("exports", map[string]interface{}{"type": "gcs", "base_dir": t.TempDir()})
	assert.Error(t, err)
}

func TestLocalAdapter_ListObjectsFiltersByPrefix(t *testing.T) {
	ctx := context.Background()
	conn, err := local.NewLocalAdapterFromProperties("exports", map[string]interface{}{
		"base_dir":    t.TempDir(),
		"bucket_name": "numbers",
	})
	require.NoError(t, err)

	for _, name := range []string{"decade=0/part-1.parquet", "decade=1/part-2.parquet", "decade=1/part-3.parquet"} {
		require.NoError(t, conn.Upload(ctx, "", name, bytes.NewBufferString(name), "application/octet-stream"))
	}

	var names []string
	require.NoError(t, conn.ListObjects(ctx, "", "decade=1/", func(name string) error {
		names = append(names, name)
		return nil
	}))
	assert.Equal(t, []string{"decade=1/part-2.parquet", "decade=1/part-3.parquet"}, names)

	var none []string
	require.NoError(t, conn.ListObjects(ctx, "missing", "", func(name string) error {
		none = append(none, name)
		return nil
	}))
	assert.Empty(t, none)
}
