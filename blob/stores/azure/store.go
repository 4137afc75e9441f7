// Package azure implements a blob Store backed by Azure Blob Storage,
// authenticated with a Shared Key (azure:// scheme).
package azure

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/Azure/azure-pipeline-go/pipeline"
	"github.com/Azure/azure-storage-blob-go/azblob"
	"github.com/gorilla/schema"
	log "github.com/sirupsen/logrus"
	"go.deltaset.dev/core/blob/stores"
	"go.deltaset.dev/core/blob/stores/common"
)

// StoreQueryArgs contains fields that are parsed from the query arguments
// of an azure:// blob store URL.
type StoreQueryArgs struct {
	common.RewriterConfig
}

type store struct {
	args           StoreQueryArgs
	storageAccount string // Storage accounts in Azure are the equivalent of a "bucket" in S3.
	blobDomain     string // The domain of the blob storage account (e.g. blob.core.windows.net).
	container      string // Blobs are stored inside of containers, which live inside accounts.
	prefix         string // Path prefix for the blobs inside the container.
	pipeline       pipeline.Pipeline
}

// New creates a new Shared Key authenticated Azure Store from the provided
// URL. AZURE_ACCOUNT_NAME and AZURE_ACCOUNT_KEY must be set.
func New(ep *url.URL) (stores.Store, error) {
	var args StoreQueryArgs
	if err := parseStoreArgs(ep, &args); err != nil {
		return nil, err
	}

	var container = ep.Host
	var prefix = strings.TrimPrefix(ep.Path, "/")

	var storageAccount = os.Getenv("AZURE_ACCOUNT_NAME")
	var accountKey = os.Getenv("AZURE_ACCOUNT_KEY")

	if storageAccount == "" || accountKey == "" {
		return nil, fmt.Errorf("AZURE_ACCOUNT_NAME and AZURE_ACCOUNT_KEY must be set for azure:// URLs")
	}

	var blobDomain = os.Getenv("AZURE_BLOB_DOMAIN")
	if blobDomain == "" {
		blobDomain = "blob.core.windows.net"
	}

	credentials, err := azblob.NewSharedKeyCredential(storageAccount, accountKey)
	if err != nil {
		return nil, err
	}

	var s = &store{
		args:           args,
		storageAccount: storageAccount,
		blobDomain:     blobDomain,
		container:      container,
		prefix:         prefix,
		pipeline:       azblob.NewPipeline(credentials, azblob.PipelineOptions{}),
	}

	log.WithFields(log.Fields{
		"storageAccount": storageAccount,
		"blobDomain":     blobDomain,
		"container":      container,
		"prefix":         prefix,
	}).Info("constructed new Azure Shared Key storage client")

	return s, nil
}

func (a *store) Provider() string { return "azure" }

func (a *store) Exists(ctx context.Context, path string) (bool, error) {
	var blobURL, err = a.buildBlobURL(path)
	if err != nil {
		return false, err
	}
	if _, err = blobURL.GetProperties(ctx, azblob.BlobAccessConditions{}, azblob.ClientProvidedKeyOptions{}); err == nil {
		return true, nil
	}
	if inner, ok := err.(azblob.StorageError); ok && inner.ServiceCode() == azblob.ServiceCodeBlobNotFound {
		return false, nil
	}
	return false, err
}

func (a *store) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	var blobURL, err = a.buildBlobURL(path)
	if err != nil {
		return nil, err
	}
	download, err := blobURL.Download(ctx, 0, azblob.CountToEnd, azblob.BlobAccessConditions{}, false, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		return nil, err
	}
	return download.Body(azblob.RetryReaderOptions{}), nil
}

func (a *store) Put(ctx context.Context, path string, content io.ReaderAt, contentLength int64) error {
	var blobURL, err = a.buildBlobURL(path)
	if err != nil {
		return err
	}
	// The Azure SDK requires io.ReadSeeker, so adapt the io.ReaderAt.
	var sectionReader = io.NewSectionReader(content, 0, contentLength)
	_, err = blobURL.Upload(ctx, sectionReader, azblob.BlobHTTPHeaders{}, azblob.Metadata{},
		azblob.BlobAccessConditions{}, azblob.DefaultAccessTier, azblob.BlobTagsMap{},
		azblob.ClientProvidedKeyOptions{}, azblob.ImmutabilityPolicyOptions{})
	return err
}

func (a *store) List(ctx context.Context, prefix string, callback func(path string, modTime time.Time) error) error {
	prefix = a.args.RewritePath(a.prefix, prefix)

	var u, err = url.Parse(a.containerURL())
	if err != nil {
		return err
	}
	var containerURL = azblob.NewContainerURL(*u, a.pipeline)
	var options = azblob.ListBlobsSegmentOptions{Prefix: prefix}
	for marker := (azblob.Marker{}); marker.NotDone(); {
		var segmentList, err = containerURL.ListBlobsFlatSegment(ctx, marker, options)
		if err != nil {
			return err
		}
		for _, b := range segmentList.Segment.BlobItems {
			if strings.HasSuffix(b.Name, "/") {
				continue // Ignore directory-like objects.
			}
			if err := callback(strings.TrimPrefix(b.Name, prefix), b.Properties.LastModified); err != nil {
				return err
			}
		}
		marker = segmentList.NextMarker
	}
	return nil
}

func (a *store) Remove(ctx context.Context, path string) error {
	var blobURL, err = a.buildBlobURL(path)
	if err != nil {
		return err
	}
	_, err = blobURL.Delete(ctx, azblob.DeleteSnapshotsOptionNone, azblob.BlobAccessConditions{})
	return err
}

func (a *store) IsAuthError(err error) bool {
	if err == nil {
		return false
	}

	if storageErr, ok := err.(azblob.StorageError); ok {
		switch storageErr.ServiceCode() {
		case azblob.ServiceCodeContainerNotFound,
			azblob.ServiceCodeContainerDisabled,
			azblob.ServiceCodeAccountIsDisabled:
			return true
		}

		if storageErr.Response() != nil {
			if storageErr.Response().StatusCode == http.StatusForbidden {
				return true
			}
		}
	}
	return false
}

func (a *store) buildBlobURL(path string) (*azblob.BlockBlobURL, error) {
	var u, err = url.Parse(fmt.Sprint(a.containerURL(), "/", a.args.RewritePath(a.prefix, path)))
	if err != nil {
		return nil, err
	}
	var blobURL = azblob.NewBlockBlobURL(*u, a.pipeline)
	return &blobURL, nil
}

func (a *store) containerURL() string {
	return fmt.Sprintf("https://%s.%s/%s", a.storageAccount, a.blobDomain, a.container)
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
