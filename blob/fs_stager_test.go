package blob

import (
	"context"
	"io"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.deltaset.dev/core/blob/codecs"
	"go.deltaset.dev/core/blob/stores"
)

func TestStagerWriteReadCleanup(t *testing.T) {
	for _, codec := range []codecs.Compression{
		codecs.None, codecs.Gzip, codecs.Snappy, codecs.Zstandard,
	} {
		var fs = afero.NewMemMapFs()
		var stager, err = NewFSStager(fs, "/staging", codec)
		require.NoError(t, err)

		staged, err := stager.OpenSnapshot(1001)
		require.NoError(t, err)
		require.Equal(t, SnapshotRef(1001, codec), staged.Ref())

		require.NoError(t, staged.Write(func(w io.Writer) error {
			var _, err = w.Write([]byte("some blob content"))
			return err
		}))

		// Content round-trips through the codec.
		rc, err := staged.NewReader()
		require.NoError(t, err)
		content, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		require.Equal(t, "some blob content", string(content))

		// The staged (compressed) form is published as-is.
		file, err := staged.Content()
		require.NoError(t, err)
		var raw = make([]byte, file.Size())
		_, err = file.ReadAt(raw, 0)
		require.NoError(t, err)
		require.NoError(t, file.Close())

		if codec == codecs.None {
			require.Equal(t, "some blob content", string(raw))
		} else {
			require.NotEqual(t, "some blob content", string(raw))
		}

		// Cleanup removes the staged file and is idempotent.
		require.NoError(t, staged.Cleanup())
		require.NoError(t, staged.Cleanup())
		_, err = staged.NewReader()
		require.Error(t, err)

		// No partial files remain.
		infos, err := afero.ReadDir(fs, "/staging")
		require.NoError(t, err)
		require.Empty(t, infos)
	}
}

func TestStagerFailedWriteLeavesNoBlob(t *testing.T) {
	var fs = afero.NewMemMapFs()
	var stager, err = NewFSStager(fs, "/staging", codecs.None)
	require.NoError(t, err)

	staged, err := stager.OpenDelta(1001, 1002)
	require.NoError(t, err)

	require.Error(t, staged.Write(func(w io.Writer) error {
		var _, _ = w.Write([]byte("partial"))
		return io.ErrUnexpectedEOF
	}))

	// Neither the blob nor its partial file exists.
	_, err = staged.NewReader()
	require.Error(t, err)
	infos, err := afero.ReadDir(fs, "/staging")
	require.NoError(t, err)
	require.Empty(t, infos)
}

func TestPublisherIsIdempotent(t *testing.T) {
	var fs = afero.NewMemMapFs()
	var stager, err = NewFSStager(fs, "/staging", codecs.Snappy)
	require.NoError(t, err)

	staged, err := stager.OpenSnapshot(1001)
	require.NoError(t, err)
	require.NoError(t, staged.Write(func(w io.Writer) error {
		var _, err = w.Write([]byte("snapshot content"))
		return err
	}))

	var store = &countingStore{MemoryStore: stores.NewMemoryStore()}
	var publisher = NewStorePublisher(store, "chain/")

	var ctx = context.Background()
	require.NoError(t, publisher.Publish(ctx, staged))
	require.Equal(t, 1, store.puts)

	// Republishing an existing blob is a no-op.
	require.NoError(t, publisher.Publish(ctx, staged))
	require.Equal(t, 1, store.puts)
	require.Contains(t, store.MemoryStore.Content, "chain/snapshot-1001.sz")
}

// countingStore counts Put operations of the wrapped MemoryStore.
type countingStore struct {
	*stores.MemoryStore
	puts int
}

func (s *countingStore) Put(ctx context.Context, path string, content io.ReaderAt, n int64) error {
	s.puts++
	return s.MemoryStore.Put(ctx, path, content, n)
}
