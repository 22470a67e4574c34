package utils

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalStore_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	n, err := store.Put(ctx, "f1/backups/a.json.gz", strings.NewReader("hello"), "application/gzip")
	require.NoError(t, err)
	require.EqualValues(t, 5, n)

	rc, err := store.Get(ctx, "f1/backups/a.json.gz")
	require.NoError(t, err)
	b, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	require.Equal(t, "hello", string(b))

	require.NoError(t, store.Delete(ctx, "f1/backups/a.json.gz"))
	_, err = store.Get(ctx, "f1/backups/a.json.gz")
	require.ErrorIs(t, err, ErrorObjectNotFound)
	// deleting twice is fine
	require.NoError(t, store.Delete(ctx, "f1/backups/a.json.gz"))
}

func TestLocalStore_RejectsTraversal(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	_, err = store.Put(context.Background(), "../escape", strings.NewReader("x"), "")
	require.Error(t, err)
}
