// Package announce implements announcement backends: the producer-side
// publication of a newly-produced version, and the consumer-side retrieval
// and watch of the announced version.
package announce

import (
	"context"
	"fmt"
	"strconv"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.deltaset.dev/core/blob"
)

// Etcd announces versions by putting them under a single Etcd key in a
// transaction, recording the key's revision so that a torn or concurrent
// update is detected rather than silently overwritten. A single producer
// owns the announcement key.
type Etcd struct {
	client   *clientv3.Client
	key      string
	revision int64
}

// NewEtcd returns an Etcd announcer of |key|.
func NewEtcd(client *clientv3.Client, key string) *Etcd {
	return &Etcd{client: client, key: key}
}

// Announce publishes |version| under the announcement key. After the
// first announcement, Announce asserts the key has not been modified by
// another party since.
func (a *Etcd) Announce(ctx context.Context, version int64) error {
	var value = strconv.FormatInt(version, 10)

	if a.revision == 0 {
		// First announcement of this producer: take ownership of the key.
		var resp, err = a.client.Put(ctx, a.key, value)
		if err != nil {
			return errors.WithMessage(err, "announcing version")
		}
		a.revision = resp.Header.Revision
	} else {
		var resp, err = a.client.Txn(ctx).
			If(clientv3.Compare(clientv3.ModRevision(a.key), "=", a.revision)).
			Then(clientv3.OpPut(a.key, value)).
			Commit()

		if err != nil {
			return errors.WithMessage(err, "announcing version")
		} else if !resp.Succeeded {
			return fmt.Errorf("announcement key %s was modified externally (expected revision %d)",
				a.key, a.revision)
		}
		a.revision = resp.Header.Revision
	}

	log.WithFields(log.Fields{"key": a.key, "version": version}).Info("announced version")
	return nil
}

// Retrieve reads the currently-announced version, or VersionNone if no
// version has been announced.
func (a *Etcd) Retrieve(ctx context.Context) (int64, error) {
	return RetrieveEtcd(ctx, a.client, a.key)
}

// RetrieveEtcd reads the version announced under |key|, or VersionNone if
// no version has been announced.
func RetrieveEtcd(ctx context.Context, client *clientv3.Client, key string) (int64, error) {
	var resp, err = client.Get(ctx, key)
	if err != nil {
		return blob.VersionNone, errors.WithMessage(err, "reading announcement key")
	}
	if len(resp.Kvs) == 0 {
		return blob.VersionNone, nil
	}
	return parseVersion(string(resp.Kvs[0].Value))
}

// WatchEtcd streams versions announced under |key| to the returned
// channel, until |ctx| is cancelled. The currently-announced version (if
// any) is sent first.
func WatchEtcd(ctx context.Context, client *clientv3.Client, key string) (<-chan int64, error) {
	var resp, err = client.Get(ctx, key)
	if err != nil {
		return nil, errors.WithMessage(err, "reading announcement key")
	}

	var out = make(chan int64, 1)
	if len(resp.Kvs) != 0 {
		if version, err := parseVersion(string(resp.Kvs[0].Value)); err != nil {
			return nil, err
		} else {
			out <- version
		}
	}

	var watch = client.Watch(ctx, key, clientv3.WithRev(resp.Header.Revision+1))
	go func() {
		defer close(out)

		for watchResp := range watch {
			if err := watchResp.Err(); err != nil {
				log.WithFields(log.Fields{"err": err, "key": key}).
					Warn("announcement watch failed")
				return
			}
			for _, event := range watchResp.Events {
				if event.Type != clientv3.EventTypePut {
					continue
				}
				version, err := parseVersion(string(event.Kv.Value))
				if err != nil {
					log.WithFields(log.Fields{"err": err, "key": key}).
						Warn("ignoring malformed announcement")
					continue
				}
				select {
				case out <- version:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func parseVersion(value string) (int64, error) {
	var version, err = strconv.ParseInt(value, 10, 64)
	if err != nil {
		return blob.VersionNone, fmt.Errorf("malformed announced version %q: %w", value, err)
	}
	return version, nil
}
