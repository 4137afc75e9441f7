package consumer

import (
	"bytes"
	"context"
	"io"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.deltaset.dev/core/blob"
	"go.deltaset.dev/core/blob/codecs"
	"go.deltaset.dev/core/blob/stores"
)

// DefaultRetrieverCacheSize is the default capacity, in blobs, of a
// StoreRetriever's content cache.
const DefaultRetrieverCacheSize = 16

// StoreRetriever is a BlobRetriever over a durable blob Store. Retrieved
// blob content is held in an LRU cache, as restore and refresh walks
// revisit delta blobs.
type StoreRetriever struct {
	store  stores.Store
	prefix string
	cache  *lru.Cache
}

// NewStoreRetriever returns a StoreRetriever of blobs published under
// |prefix| of |store|.
func NewStoreRetriever(store stores.Store, prefix string) (*StoreRetriever, error) {
	var cache, err = lru.New(DefaultRetrieverCacheSize)
	if err != nil {
		return nil, err
	}
	return &StoreRetriever{store: store, prefix: prefix, cache: cache}, nil
}

func (r *StoreRetriever) RetrieveSnapshot(ctx context.Context, desired int64) (*Retrieved, error) {
	var best *blob.Ref
	var err = r.listRefs(ctx, func(ref blob.Ref) {
		if ref.Kind != blob.Snapshot || ref.To > desired {
			return
		}
		if best == nil || ref.To > best.To {
			best = &ref
		}
	})
	if err != nil || best == nil {
		return nil, err
	}
	return r.retrieved(ctx, *best), nil
}

func (r *StoreRetriever) RetrieveDelta(ctx context.Context, from int64) (*Retrieved, error) {
	return r.retrieveDelta(ctx, blob.Delta, from)
}

func (r *StoreRetriever) RetrieveReverseDelta(ctx context.Context, from int64) (*Retrieved, error) {
	return r.retrieveDelta(ctx, blob.ReverseDelta, from)
}

func (r *StoreRetriever) retrieveDelta(ctx context.Context, kind blob.Kind, from int64) (*Retrieved, error) {
	var found *blob.Ref
	var err = r.listRefs(ctx, func(ref blob.Ref) {
		if ref.Kind == kind && ref.From == from {
			found = &ref
		}
	})
	if err != nil || found == nil {
		return nil, err
	}
	return r.retrieved(ctx, *found), nil
}

func (r *StoreRetriever) listRefs(ctx context.Context, fn func(blob.Ref)) error {
	return r.store.List(ctx, r.prefix, func(path string, _ time.Time) error {
		var ref, err = blob.ParseContentPath(path)
		if err != nil {
			log.WithFields(log.Fields{"path": path, "err": err}).
				Warn("ignoring object which is not a blob")
			return nil
		}
		fn(ref)
		return nil
	})
}

func (r *StoreRetriever) retrieved(ctx context.Context, ref blob.Ref) *Retrieved {
	return &Retrieved{
		Ref: ref,
		NewReader: func() (io.ReadCloser, error) {
			var raw, err = r.fetch(ctx, ref)
			if err != nil {
				return nil, err
			}
			return codecs.NewCodecReader(bytes.NewReader(raw), ref.Codec)
		},
	}
}

// fetch reads the raw (compressed) blob content, through the cache.
func (r *StoreRetriever) fetch(ctx context.Context, ref blob.Ref) ([]byte, error) {
	var path = r.prefix + ref.ContentPath()

	if cached, ok := r.cache.Get(path); ok {
		return cached.([]byte), nil
	}

	var rc, err = r.store.Get(ctx, path)
	if err != nil {
		return nil, errors.WithMessagef(err, "fetching %s", path)
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, errors.WithMessagef(err, "reading %s", path)
	}
	r.cache.Add(path, raw)
	return raw, nil
}
