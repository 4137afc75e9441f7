package blob

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.deltaset.dev/core/blob/stores"
)

// publishTimeout bounds a single blob publication. We expect publishing
// individual blobs to be fast, but storage backends have wedged retrying
// multi-part uploads indefinitely in the past. A generous timeout detects
// and recovers from this class of error.
var publishTimeout = 5 * time.Minute

// StorePublisher publishes staged blobs to a durable Store.
type StorePublisher struct {
	store  stores.Store
	prefix string
}

// NewStorePublisher returns a StorePublisher of |store|, publishing blobs
// under |prefix|.
func NewStorePublisher(store stores.Store, prefix string) *StorePublisher {
	return &StorePublisher{store: store, prefix: prefix}
}

// Publish persists |staged| to the Store. If the blob already exists at
// its content path, Publish is a no-op.
func (p *StorePublisher) Publish(ctx context.Context, staged Staged) error {
	var path = p.prefix + staged.Ref().ContentPath()

	exists, err := p.store.Exists(ctx, path)
	if err != nil {
		return errors.WithMessagef(err, "checking %s", path)
	} else if exists {
		return nil // All done.
	}

	content, err := staged.Content()
	if err != nil {
		return errors.WithMessagef(err, "opening staged %s", staged.Ref())
	}
	defer content.Close()

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err = p.store.Put(ctx, path, content, content.Size()); err != nil {
		return errors.WithMessagef(err, "publishing %s", path)
	}
	return nil
}
