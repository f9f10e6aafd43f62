package objectstore_test

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"corpusd/internal/objectstore"
)

func TestMemoryStorePutThenGetRoundTrips(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewMemoryStore()

	etag, err := store.Put(ctx, "raw/doc1/a.txt", bytes.NewReader([]byte("hello world")), objectstore.PutOptions{ContentType: "text/plain"})
	require.NoError(t, err)
	require.NotEmpty(t, etag)

	rc, attrs, err := store.Get(ctx, "raw/doc1/a.txt")
	require.NoError(t, err)
	defer rc.Close()

	content, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(content))
	require.Equal(t, int64(len("hello world")), attrs.Size)
	require.Equal(t, "text/plain", attrs.ContentType)
}

func TestMemoryStoreGetMissingKeyReturnsErrNotFound(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewMemoryStore()
	_, _, err := store.Get(ctx, "missing")
	require.ErrorIs(t, err, objectstore.ErrNotFound)
}

func TestMemoryStoreExistsReflectsPutAndDelete(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewMemoryStore()

	exists, err := store.Exists(ctx, "raw/doc1/a.txt")
	require.NoError(t, err)
	require.False(t, exists)

	_, err = store.Put(ctx, "raw/doc1/a.txt", bytes.NewReader([]byte("x")), objectstore.PutOptions{})
	require.NoError(t, err)

	exists, err = store.Exists(ctx, "raw/doc1/a.txt")
	require.NoError(t, err)
	require.True(t, exists)

	require.NoError(t, store.Delete(ctx, "raw/doc1/a.txt"))

	exists, err = store.Exists(ctx, "raw/doc1/a.txt")
	require.NoError(t, err)
	require.False(t, exists)
}
