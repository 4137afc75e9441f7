package producer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.deltaset.dev/core/blob"
)

// failingSnapshotPublisher fails snapshot publications while |fail| is
// set, and delegates everything else.
type failingSnapshotPublisher struct {
	inner blob.Publisher
	fail  bool
}

func (p *failingSnapshotPublisher) Publish(ctx context.Context, staged blob.Staged) error {
	if p.fail && staged.Ref().Kind == blob.Snapshot {
		return errors.New("snapshot store unavailable")
	}
	return p.inner.Publish(ctx, staged)
}

func TestAsyncSnapshotPublishFailureDoesNotFailCycle(t *testing.T) {
	var executor = new(queuedExecutor)
	var h = newTestHarness(t, WithSnapshotPublishExecutor(executor))
	var ctx = context.Background()

	// Interpose on the publisher after construction.
	var failing = &failingSnapshotPublisher{inner: h.producer.publisher}
	h.producer.publisher = failing

	require.NoError(t, h.producer.RunCycle(ctx, populatorOf(testRecord{ID: 1, Name: "a"})))

	// A second producing cycle defers its snapshot to the executor; the
	// deferred publication fails, but the cycle already succeeded and the
	// delta chain remains sound.
	failing.fail = true
	require.NoError(t, h.producer.RunCycle(ctx, populatorOf(testRecord{ID: 1, Name: "b"})))
	require.Equal(t, []int64{1001, 1002}, h.announcer.versions)
	require.Equal(t, int64(1002), h.producer.CurrentVersion())

	require.Equal(t, 1, executor.drain())
	require.False(t, h.storePaths()[blob.SnapshotRef(1002, h.snapshotCodec()).ContentPath()])
	require.True(t, h.storePaths()[blob.DeltaRef(1001, 1002, h.snapshotCodec()).ContentPath()])

	// Consumers can still advance: the next cycle publishes normally.
	failing.fail = false
	require.NoError(t, h.producer.RunCycle(ctx, populatorOf(testRecord{ID: 1, Name: "c"})))
	require.Equal(t, 1, executor.drain())
	require.True(t, h.storePaths()[blob.SnapshotRef(1003, h.snapshotCodec()).ContentPath()])
}
