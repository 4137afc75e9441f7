// Package consumer materializes published dataset states in memory: it
// retrieves blobs through a BlobRetriever and advances through the
// version chain by loading a snapshot and applying forward deltas.
package consumer

import (
	"context"
	"io"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.deltaset.dev/core/blob"
	"go.deltaset.dev/core/engine"
)

// Retrieved is a blob fetched from the blob store: its Ref, and its
// decompressed content.
type Retrieved struct {
	Ref blob.Ref
	// NewReader returns a reader of the decompressed blob content.
	NewReader func() (io.ReadCloser, error)
}

// BlobRetriever fetches blobs of a prior-published version chain.
type BlobRetriever interface {
	// RetrieveSnapshot returns the snapshot blob with the greatest
	// version not exceeding |desired|, or nil if none exists.
	RetrieveSnapshot(ctx context.Context, desired int64) (*Retrieved, error)
	// RetrieveDelta returns the forward delta blob transitioning from
	// |from|, or nil if none exists.
	RetrieveDelta(ctx context.Context, from int64) (*Retrieved, error)
	// RetrieveReverseDelta returns the reverse delta blob transitioning
	// from |from|, or nil if none exists.
	RetrieveReverseDelta(ctx context.Context, from int64) (*Retrieved, error)
}

// Consumer materializes one dataset state at a time.
type Consumer struct {
	retriever BlobRetriever
	engine    *engine.ReadEngine
	version   int64
}

// New returns an empty Consumer which retrieves blobs through |retriever|.
func New(retriever BlobRetriever) *Consumer {
	return &Consumer{retriever: retriever, version: blob.VersionNone}
}

// CurrentVersion returns the version of the materialized state, or
// VersionNone if none has been loaded.
func (c *Consumer) CurrentVersion() int64 { return c.version }

// Engine returns the materialized read engine, or nil if no state has
// been loaded.
func (c *Consumer) Engine() *engine.ReadEngine { return c.engine }

// RefreshTo advances the Consumer to |desired|: an empty Consumer loads
// the nearest preceding snapshot, and forward deltas are then applied
// until |desired| is reached or the chain offers no further progress.
// Reaching a different version than |desired| is not itself an error;
// callers decide whether the reached version suffices.
func (c *Consumer) RefreshTo(ctx context.Context, desired int64) error {
	if c.engine == nil {
		var retrieved, err = c.retriever.RetrieveSnapshot(ctx, desired)
		if err != nil {
			return errors.WithMessage(err, "retrieving snapshot")
		} else if retrieved == nil {
			return errors.Errorf("no snapshot at or before version %d", desired)
		}

		var eng = engine.NewReadEngine()
		if err = readRetrieved(retrieved, eng.ReadSnapshot); err != nil {
			return errors.WithMessagef(err, "reading snapshot %s", retrieved.Ref)
		}
		c.engine, c.version = eng, retrieved.Ref.To

		log.WithField("version", c.version).Debug("loaded snapshot")
	}

	for c.version < desired {
		var retrieved, err = c.retriever.RetrieveDelta(ctx, c.version)
		if err != nil {
			return errors.WithMessage(err, "retrieving delta")
		} else if retrieved == nil {
			return nil // No further progress is possible.
		} else if retrieved.Ref.To > desired {
			return nil // The chain skips past |desired|.
		}

		if err = readRetrieved(retrieved, c.engine.ApplyDelta); err != nil {
			return errors.WithMessagef(err, "applying delta %s", retrieved.Ref)
		}
		c.version = retrieved.Ref.To

		log.WithField("version", c.version).Debug("applied delta")
	}
	return nil
}

func readRetrieved(retrieved *Retrieved, fn func(io.Reader) error) error {
	var rc, err = retrieved.NewReader()
	if err != nil {
		return err
	}
	if err = fn(rc); err != nil {
		_ = rc.Close()
		return err
	}
	return rc.Close()
}
