package fs

import (
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFileStoreRoundTrip(t *testing.T) {
	var defer1 = StoreRoot
	defer func() { StoreRoot = defer1 }()
	StoreRoot = t.TempDir()

	var ep, err = url.Parse("file:///chain/")
	require.NoError(t, err)
	store, err := New(ep)
	require.NoError(t, err)

	var ctx = context.Background()

	// Put fails until the store's base directory exists.
	err = store.Put(ctx, "snapshot-1", strings.NewReader("abc"), 3)
	require.Error(t, err)
	require.True(t, store.IsAuthError(err))

	require.NoError(t, os.MkdirAll(filepath.Join(StoreRoot, "chain"), 0750))
	require.NoError(t, store.Put(ctx, "snapshot-1", strings.NewReader("abc"), 3))
	require.NoError(t, store.Put(ctx, "delta-1-2", strings.NewReader("de"), 2))

	exists, err := store.Exists(ctx, "snapshot-1")
	require.NoError(t, err)
	require.True(t, exists)

	rc, err := store.Get(ctx, "snapshot-1")
	require.NoError(t, err)
	content, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.Equal(t, "abc", string(content))

	var listed []string
	require.NoError(t, store.List(ctx, "", func(path string, _ time.Time) error {
		listed = append(listed, path)
		return nil
	}))
	require.ElementsMatch(t, []string{"snapshot-1", "delta-1-2"}, listed)

	require.NoError(t, store.Remove(ctx, "snapshot-1"))
	exists, err = store.Exists(ctx, "snapshot-1")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestStoreArgsParsing(t *testing.T) {
	var ep, err = url.Parse("file:///chain/?Find=old/&Replace=new/")
	require.NoError(t, err)
	_, err = New(ep)
	require.NoError(t, err)

	ep, err = url.Parse("file:///chain/?bogus=1")
	require.NoError(t, err)
	_, err = New(ep)
	require.Error(t, err)
}
