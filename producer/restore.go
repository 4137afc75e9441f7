package producer

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.deltaset.dev/core/consumer"
)

// Restore boots the producer's state from a previously-announced version,
// so that its next cycle produces a delta continuous with history.
//
// A transient consumer is refreshed to |desired| through |retriever|. On
// reaching it, the materialized state is installed as the holder's
// current, and a fresh write engine carrying the same data model is
// rehydrated from it. The mapper and write engine are replaced only after
// the rehydration fully succeeds: restoring into a non-empty write engine
// is undefined, and a partially-initialized engine must never become
// visible.
//
// A |desired| of VersionNone is a no-op.
func (p *Producer) Restore(ctx context.Context, desired int64, retriever consumer.BlobRetriever) (*ReadState, error) {
	var started = time.Now()
	var status = RestoreStatus{Desired: desired, Reached: VersionNone}

	p.listeners.fire(func(l Listener) { l.OnProducerRestoreStart(desired) })
	defer func() {
		p.listeners.fire(func(l Listener) {
			l.OnProducerRestoreComplete(status, time.Since(started))
		})
	}()

	if desired == VersionNone {
		return nil, nil
	}

	var client = consumer.New(retriever)
	if err := client.RefreshTo(ctx, desired); err != nil {
		status.Err = errors.WithMessage(err, "refreshing transient consumer")
		return nil, status.Err
	}
	status.Reached = client.CurrentVersion()

	if status.Reached != desired {
		status.Err = RestoreMismatchError{Desired: desired, Reached: status.Reached}
		return nil, status.Err
	}

	var readState = newReadState(status.Reached, client.Engine())
	p.readStates = restored(readState)

	var mapper, err = p.mapper.Fork()
	if err == nil {
		err = mapper.Engine().RestoreFrom(readState.engine)
	}
	if err != nil {
		status.Err = errors.WithMessage(err, "rehydrating write engine")
		return nil, status.Err
	}
	p.mapper = mapper // Rehydration succeeded, so swap.

	return readState, nil
}
