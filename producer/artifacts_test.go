package producer

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"go.deltaset.dev/core/blob"
	"go.deltaset.dev/core/blob/codecs"
)

func TestArtifactsCleanupReleasesDeltasImmediately(t *testing.T) {
	var a = newArtifacts()
	var snapshot, delta, reverse = newFakeStaged(t, blob.Snapshot), newFakeStaged(t, blob.Delta), newFakeStaged(t, blob.ReverseDelta)
	a.snapshot, a.delta, a.reverseDelta = snapshot, delta, reverse

	// Cleanup releases deltas, but the snapshot survives until its
	// publication is reported complete.
	a.cleanup()
	require.Equal(t, 1, delta.cleanups)
	require.Equal(t, 1, reverse.cleanups)
	require.Zero(t, snapshot.cleanups)
	require.False(t, a.snapshotPublished.Resolved())

	a.markSnapshotPublishComplete()
	require.Equal(t, 1, snapshot.cleanups)
	require.True(t, a.snapshotPublished.Resolved())
}

func TestArtifactsSnapshotCompleteBeforeCleanup(t *testing.T) {
	var a = newArtifacts()
	var snapshot = newFakeStaged(t, blob.Snapshot)
	a.snapshot = snapshot

	a.markSnapshotPublishComplete()
	require.Zero(t, snapshot.cleanups)

	a.cleanup()
	require.Equal(t, 1, snapshot.cleanups)
}

func TestArtifactsCleanupIsIdempotent(t *testing.T) {
	var a = newArtifacts()
	var snapshot, delta = newFakeStaged(t, blob.Snapshot), newFakeStaged(t, blob.Delta)
	a.snapshot, a.delta = snapshot, delta

	a.markSnapshotPublishComplete()
	a.cleanup()
	a.cleanup()
	a.markSnapshotPublishComplete()

	// Each blob was released exactly once.
	require.Equal(t, 1, snapshot.cleanups)
	require.Equal(t, 1, delta.cleanups)
}

type fakeStaged struct {
	ref      blob.Ref
	cleanups int
}

func newFakeStaged(t *testing.T, kind blob.Kind) *fakeStaged {
	switch kind {
	case blob.Snapshot:
		return &fakeStaged{ref: blob.SnapshotRef(100, codecs.None)}
	case blob.Delta:
		return &fakeStaged{ref: blob.DeltaRef(99, 100, codecs.None)}
	default:
		return &fakeStaged{ref: blob.ReverseDeltaRef(100, 99, codecs.None)}
	}
}

func (f *fakeStaged) Ref() blob.Ref                      { return f.ref }
func (f *fakeStaged) Write(func(io.Writer) error) error  { panic("not supported") }
func (f *fakeStaged) NewReader() (io.ReadCloser, error)  { panic("not supported") }
func (f *fakeStaged) Content() (blob.File, error)        { panic("not supported") }
func (f *fakeStaged) Cleanup() error                     { f.cleanups++; return nil }
