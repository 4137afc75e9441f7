// Package gcs implements a blob Store backed by Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/gorilla/schema"
	log "github.com/sirupsen/logrus"
	"go.deltaset.dev/core/blob/stores"
	"go.deltaset.dev/core/blob/stores/common"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// StoreQueryArgs contains fields that are parsed from the query arguments
// of a gs:// blob store URL.
type StoreQueryArgs struct {
	common.RewriterConfig
}

type store struct {
	bucket string
	prefix string
	args   StoreQueryArgs
	client *storage.Client
}

// New creates a new GCS Store from the provided URL.
func New(ep *url.URL) (stores.Store, error) {
	var args StoreQueryArgs
	if err := parseStoreArgs(ep, &args); err != nil {
		return nil, err
	}
	// Omit leading slash from the bucket prefix.
	var bucket, prefix = ep.Host, strings.TrimPrefix(ep.Path, "/")

	var client, err = storage.NewClient(context.Background())
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"bucket": bucket,
		"prefix": prefix,
	}).Info("constructed new GCS client")

	return &store{
		bucket: bucket,
		prefix: prefix,
		args:   args,
		client: client,
	}, nil
}

func (s *store) Provider() string { return "gcs" }

func (s *store) Exists(ctx context.Context, path string) (exists bool, err error) {
	_, err = s.object(path).Attrs(ctx)
	if err == nil {
		exists = true
	} else if errors.Is(err, storage.ErrObjectNotExist) {
		err = nil
	}
	return exists, err
}

func (s *store) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	return s.object(path).NewReader(ctx)
}

func (s *store) Put(ctx context.Context, path string, content io.ReaderAt, contentLength int64) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wc = s.object(path).NewWriter(ctx)

	var _, err = io.Copy(wc, io.NewSectionReader(content, 0, contentLength))
	if err != nil {
		return err
	}
	return wc.Close()
}

func (s *store) List(ctx context.Context, prefix string, callback func(path string, modTime time.Time) error) error {
	prefix = s.args.RewritePath(s.prefix, prefix)
	var (
		q   = storage.Query{Prefix: prefix}
		it  = s.client.Bucket(s.bucket).Objects(ctx, &q)
		obj *storage.ObjectAttrs
		err error
	)
	for obj, err = it.Next(); err == nil; obj, err = it.Next() {
		if strings.HasSuffix(obj.Name, "/") {
			continue // Ignore directory-like objects.
		}
		if err := callback(strings.TrimPrefix(obj.Name, prefix), obj.Updated); err != nil {
			return err
		}
	}
	if err == iterator.Done {
		err = nil
	}
	return err
}

func (s *store) Remove(ctx context.Context, path string) error {
	return s.object(path).Delete(ctx)
}

func (s *store) IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, storage.ErrBucketNotExist) {
		return true
	}

	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		switch gErr.Code {
		case http.StatusForbidden:
			return true
		case http.StatusNotFound:
			// Only treat bucket-level 404s as AuthZ failures, not object-level.
			if strings.Contains(gErr.Message, "bucket") {
				return true
			}
		}
	}
	return false
}

func (s *store) object(path string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(s.args.RewritePath(s.prefix, path))
}

func parseStoreArgs(ep *url.URL, args interface{}) error {
	var decoder = schema.NewDecoder()
	decoder.IgnoreUnknownKeys(false)

	if q, err := url.ParseQuery(ep.RawQuery); err != nil {
		return err
	} else if err = decoder.Decode(args, q); err != nil {
		return fmt.Errorf("parsing store URL arguments: %s", err)
	}
	return nil
}
