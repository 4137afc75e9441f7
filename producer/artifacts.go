package producer

import (
	"sync"

	log "github.com/sirupsen/logrus"
	"go.deltaset.dev/core/async"
	"go.deltaset.dev/core/blob"
)

// artifacts holds the up-to-three blobs staged during a cycle. Delta and
// reverse-delta blobs are released as soon as cycle cleanup is requested,
// but the snapshot may still be publishing on the snapshot executor when
// the cycle finishes: it is released only once cleanup has been requested
// AND its publication has been reported complete, in either order. Both
// events may race, so the artifacts value carries its own mutex.
type artifacts struct {
	mu sync.Mutex

	snapshot     blob.Staged
	delta        blob.Staged
	reverseDelta blob.Staged

	cleanupCalled           bool
	snapshotPublishComplete bool

	// snapshotPublished resolves when snapshot publication is reported
	// complete (whether or not it succeeded).
	snapshotPublished async.Promise
}

func newArtifacts() *artifacts {
	return &artifacts{snapshotPublished: make(async.Promise)}
}

// cleanup releases the cycle's blobs. It is idempotent, and defers
// snapshot release until publication completes.
func (a *artifacts) cleanup() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.cleanupCalled = true
	a.cleanupSnapshot()

	if a.delta != nil {
		releaseBlob(a.delta)
		a.delta = nil
	}
	if a.reverseDelta != nil {
		releaseBlob(a.reverseDelta)
		a.reverseDelta = nil
	}
}

// markSnapshotPublishComplete records that snapshot publication finished,
// releasing the snapshot if cycle cleanup already ran.
func (a *artifacts) markSnapshotPublishComplete() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.snapshotPublishComplete {
		return
	}
	a.snapshotPublishComplete = true
	a.snapshotPublished.Resolve()

	a.cleanupSnapshot()
}

// cleanupSnapshot requires a.mu is held.
func (a *artifacts) cleanupSnapshot() {
	if a.cleanupCalled && a.snapshotPublishComplete && a.snapshot != nil {
		releaseBlob(a.snapshot)
		a.snapshot = nil
	}
}

func (a *artifacts) hasDelta() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.delta != nil
}

func (a *artifacts) hasReverseDelta() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reverseDelta != nil
}

func releaseBlob(staged blob.Staged) {
	if err := staged.Cleanup(); err != nil {
		log.WithFields(log.Fields{"err": err, "blob": staged.Ref()}).
			Warn("failed to cleanup staged blob")
	}
}
