package producer

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.deltaset.dev/core/blob"
	"go.deltaset.dev/core/engine"
)

// publish stages the cycle's blobs and publishes them: delta and reverse
// delta synchronously, and the snapshot synchronously, deferred to the
// snapshot executor, or not at all, per the snapshot cadence. Snapshot
// publication is I/O-expensive and consumers can always catch up via
// deltas, so a cadence > 0 trades periodic cold-start entry points for
// cycle latency.
func (p *Producer) publish(ctx context.Context, writeEngine *engine.WriteEngine, arts *artifacts, toVersion int64) error {
	return p.phase(toVersion,
		func(l Listener, v int64) { l.OnPublishStart(v) },
		func(l Listener, s Status, d time.Duration) { l.OnPublishComplete(s, d) },
		func() error {
			var err error
			if arts.snapshot, err = p.stager.OpenSnapshot(toVersion); err != nil {
				return errors.WithMessage(err, "opening snapshot")
			}
			if err = arts.snapshot.Write(writeEngine.WriteSnapshot); err != nil {
				return err
			}

			if !p.readStates.hasCurrent() {
				// First cycle of a delta chain: only the snapshot exists,
				// and it must be published synchronously.
				if err = p.publishBlob(ctx, arts.snapshot); err != nil {
					return err
				}
				arts.markSnapshotPublishComplete()
				p.numStatesUntilNextSnapshot = p.numStatesBetweenSnapshots
				return nil
			}
			var fromVersion = p.readStates.current.version

			if arts.delta, err = p.stager.OpenDelta(fromVersion, toVersion); err != nil {
				return errors.WithMessage(err, "opening delta")
			}
			if err = arts.delta.Write(writeEngine.WriteDelta); err != nil {
				return err
			}
			if arts.reverseDelta, err = p.stager.OpenReverseDelta(toVersion, fromVersion); err != nil {
				return errors.WithMessage(err, "opening reverse delta")
			}
			if err = arts.reverseDelta.Write(writeEngine.WriteReverseDelta); err != nil {
				return err
			}

			if err = p.publishBlob(ctx, arts.delta); err != nil {
				return err
			}
			if err = p.publishBlob(ctx, arts.reverseDelta); err != nil {
				return err
			}

			if p.numStatesUntilNextSnapshot--; p.numStatesUntilNextSnapshot < 0 {
				var snapshot = arts.snapshot
				p.snapshotPublishExecutor.Execute(func() {
					// The cycle (and its context) may have finished by the
					// time a deferred publication runs; a failure here is
					// logged but never fails the cycle, as the delta chain
					// remains sound without the snapshot.
					defer arts.markSnapshotPublishComplete()

					if err := p.publishBlob(context.Background(), snapshot); err != nil {
						log.WithFields(log.Fields{"err": err, "blob": snapshot.Ref()}).
							Warn("snapshot publish failed")
					}
				})
				p.numStatesUntilNextSnapshot = p.numStatesBetweenSnapshots
			} else {
				arts.markSnapshotPublishComplete()
			}
			return nil
		})
}

func (p *Producer) publishBlob(ctx context.Context, staged blob.Staged) error {
	var started = time.Now()
	var err = p.publisher.Publish(ctx, staged)

	var status = PublishStatus{Ref: staged.Ref(), Err: err}
	p.listeners.fire(func(l Listener) { l.OnBlobPublish(status, time.Since(started)) })

	return errors.WithMessagef(err, "publishing %s", staged.Ref())
}

// checkIntegrity proves that the staged blobs are consistent with the
// previously announced state, so that every consumer path converges to
// the same bytes:
//
//	S_cur.apply(delta).checksum(common)        == S_pnd.checksum(common)
//	S_pnd.apply(reverseDelta).checksum(common) == S_cur.checksum(common)
//
// The staged snapshot is read into the candidate's fresh pending engine.
// Deltas are applied to copies of the current and pending engines, so a
// failed check leaves the holder's engines untouched. On success the
// candidate is swapped: the reverse-applied engine takes the current slot
// and the forward-applied engine becomes pending, which commit promotes.
func (p *Producer) checkIntegrity(candidate readStateHolder, arts *artifacts) (readStateHolder, error) {
	var result = candidate
	var err = p.phase(candidate.pending.version,
		func(l Listener, v int64) { l.OnIntegrityCheckStart(v) },
		func(l Listener, s Status, d time.Duration) { l.OnIntegrityCheckComplete(s, d) },
		func() error {
			var pending = candidate.pending.engine
			if err := readBlob(arts.snapshot, pending.ReadSnapshot); err != nil {
				return errors.WithMessage(err, "reading staged snapshot")
			}
			if !candidate.hasCurrent() {
				return nil // The pending state roots a new delta chain.
			}
			var current = candidate.current.engine

			// Schema sets may differ between versions; checksums are
			// restricted to schemas present in both states.
			var currentChecksum = engine.ChecksumOfCommonSchemas(current, pending)
			var pendingChecksum = engine.ChecksumOfCommonSchemas(pending, current)
			log.WithFields(log.Fields{
				"cur": currentChecksum,
				"pnd": pendingChecksum,
			}).Debug("integrity checksums")

			var forward, reverse *engine.ReadEngine

			if arts.hasDelta() {
				forward = current.Copy()
				if err := readBlob(arts.delta, forward.ApplyDelta); err != nil {
					return errors.WithMessage(err, "applying staged delta")
				}
				if engine.ChecksumOfCommonSchemas(forward, current) != pendingChecksum {
					return ChecksumError{Kind: blob.Delta}
				}
			}
			if arts.hasReverseDelta() {
				reverse = pending.Copy()
				if err := readBlob(arts.reverseDelta, reverse.ApplyDelta); err != nil {
					return errors.WithMessage(err, "applying staged reverse delta")
				}
				if engine.ChecksumOfCommonSchemas(reverse, current) != currentChecksum {
					return ChecksumError{Kind: blob.ReverseDelta}
				}

				// As in-place application would: the current slot now holds
				// the forward-applied engine and pending the reverse-applied
				// one. Swap so each slot's engine matches its version again.
				result = readStateHolder{
					current: newReadState(candidate.current.version, forward),
					pending: newReadState(candidate.pending.version, reverse),
				}.swap()
			}
			return nil
		})

	if err != nil {
		return candidate, err
	}
	return result, nil
}

func readBlob(staged blob.Staged, fn func(io.Reader) error) error {
	var rc, err = staged.NewReader()
	if err != nil {
		return err
	}
	if err = fn(rc); err != nil {
		_ = rc.Close()
		return err
	}
	return rc.Close()
}

// validate runs every validator against the pending read state. All
// validators run, even after one fails; failures are collected into a
// single ValidationError.
func (p *Producer) validate(pending *ReadState) error {
	return p.phase(pending.version,
		func(l Listener, v int64) { l.OnValidationStart(v) },
		func(l Listener, s Status, d time.Duration) { l.OnValidationComplete(s, d) },
		func() error {
			var failures []error
			for _, v := range p.validators {
				if err := v.Validate(pending); err != nil {
					failures = append(failures, err)
				}
			}
			if len(failures) != 0 {
				return &ValidationError{Failures: failures}
			}
			return nil
		})
}

func (p *Producer) announce(ctx context.Context, pending *ReadState) error {
	return p.phase(pending.version,
		func(l Listener, v int64) { l.OnAnnouncementStart(v) },
		func(l Listener, s Status, d time.Duration) { l.OnAnnouncementComplete(s, d) },
		func() error {
			return errors.WithMessage(p.announcer.Announce(ctx, pending.version), "announce")
		})
}
