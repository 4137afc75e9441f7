package stores

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryStoreOperations(t *testing.T) {
	var ms = NewMemoryStore()
	var ctx = context.Background()

	exists, err := ms.Exists(ctx, "chain/snapshot-1")
	require.NoError(t, err)
	require.False(t, exists)

	require.NoError(t, ms.Put(ctx, "chain/snapshot-1", strings.NewReader("content"), 7))

	exists, err = ms.Exists(ctx, "chain/snapshot-1")
	require.NoError(t, err)
	require.True(t, exists)

	rc, err := ms.Get(ctx, "chain/snapshot-1")
	require.NoError(t, err)
	content, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.Equal(t, "content", string(content))

	// Listing is relative to the prefix.
	require.NoError(t, ms.Put(ctx, "chain/delta-1-2", strings.NewReader("delta"), 5))
	require.NoError(t, ms.Put(ctx, "other/snapshot-9", strings.NewReader("x"), 1))

	var listed []string
	require.NoError(t, ms.List(ctx, "chain/", func(path string, _ time.Time) error {
		listed = append(listed, path)
		return nil
	}))
	require.ElementsMatch(t, []string{"snapshot-1", "delta-1-2"}, listed)

	require.NoError(t, ms.Remove(ctx, "chain/snapshot-1"))
	exists, err = ms.Exists(ctx, "chain/snapshot-1")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestRegistryConstructsAndCaches(t *testing.T) {
	var constructed int
	RegisterProviders(map[string]Constructor{
		"testmem": func(ep *url.URL) (Store, error) {
			constructed++
			return NewMemoryStore(), nil
		},
		"testfail": func(ep *url.URL) (Store, error) {
			return nil, errors.New("nope")
		},
	})

	var s1, err = Get("testmem://bucket/prefix/")
	require.NoError(t, err)

	s2, err := Get("testmem://bucket/prefix/")
	require.NoError(t, err)
	require.Equal(t, s1, s2)
	require.Equal(t, 1, constructed)

	// A different URL constructs a distinct store.
	_, err = Get("testmem://bucket/other/")
	require.NoError(t, err)
	require.Equal(t, 2, constructed)

	// Construction failures are not cached.
	_, err = Get("testfail://bucket/")
	require.Error(t, err)
	_, err = Get("unknown://bucket/")
	require.Error(t, err)
}

func TestMeteredStorePassesThrough(t *testing.T) {
	RegisterProviders(map[string]Constructor{
		"testmetered": func(ep *url.URL) (Store, error) { return NewMemoryStore(), nil },
	})
	var store, err = Get(fmt.Sprintf("testmetered://bucket/%d/", time.Now().UnixNano()))
	require.NoError(t, err)

	var ctx = context.Background()
	require.NoError(t, store.Put(ctx, "p/snapshot-1", strings.NewReader("abc"), 3))

	exists, err := store.Exists(ctx, "p/snapshot-1")
	require.NoError(t, err)
	require.True(t, exists)

	var count int
	require.NoError(t, store.List(ctx, "p/", func(string, time.Time) error {
		count++
		return nil
	}))
	require.Equal(t, 1, count)

	require.NoError(t, store.Remove(ctx, "p/snapshot-1"))
	require.Equal(t, "memory", store.Provider())
}
