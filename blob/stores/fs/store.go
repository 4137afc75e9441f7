// Package fs implements a blob Store backed by a local filesystem.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/schema"
	log "github.com/sirupsen/logrus"
	"go.deltaset.dev/core/blob/stores"
	"go.deltaset.dev/core/blob/stores/common"
)

// StoreRoot is the filesystem path which roots content paths of a file://
// blob store. It must be set at program startup prior to use.
var StoreRoot = "/dev/null/must/configure/file/store/root"

// StoreQueryArgs contains fields that are parsed from the query arguments
// of a file:// blob store URL.
type StoreQueryArgs struct {
	common.RewriterConfig
}

type store struct {
	args   StoreQueryArgs
	prefix string
}

// New creates a new filesystem Store from the provided URL.
func New(ep *url.URL) (stores.Store, error) {
	var s = &store{prefix: ep.Path}
	return s, parseStoreArgs(ep, &s.args)
}

func (s store) Provider() string { return "fs" }

func (s store) Exists(_ context.Context, path string) (bool, error) {
	if _, err := os.Stat(s.fsPath(path)); os.IsNotExist(err) {
		return false, nil
	} else if err == nil {
		return true, nil
	} else {
		return false, err
	}
}

func (s store) Get(_ context.Context, path string) (io.ReadCloser, error) {
	return os.Open(s.fsPath(path))
}

func (s store) Put(_ context.Context, path string, content io.ReaderAt, contentLength int64) error {
	// Verify that the base directory exists (StoreRoot + prefix).
	var baseDir = filepath.Join(StoreRoot, filepath.FromSlash(s.prefix))
	if _, err := os.Stat(baseDir); err != nil {
		return fmt.Errorf("%s %s: %w", invalidFileStoreDirectory, baseDir, err)
	}
	var fsPath = s.fsPath(path)

	if err := os.MkdirAll(filepath.Dir(fsPath), 0750); err != nil {
		return err
	}

	var f, err = os.CreateTemp(filepath.Dir(fsPath), ".partial-"+filepath.Base(fsPath))
	if err != nil {
		return err
	}

	defer func(name string) {
		if rmErr := os.Remove(name); rmErr != nil && !os.IsNotExist(rmErr) {
			log.WithFields(log.Fields{"err": rmErr, "path": fsPath}).
				Warn("failed to cleanup temp file")
		}
	}(f.Name())

	_, err = io.Copy(f, io.NewSectionReader(content, 0, contentLength))

	if err == nil {
		err = f.Close()
	}
	if err == nil {
		err = os.Rename(f.Name(), fsPath)
	}
	return err
}

func (s store) List(_ context.Context, prefix string, callback func(path string, modTime time.Time) error) error {
	var dir = filepath.Join(StoreRoot,
		filepath.FromSlash(s.args.RewritePath(s.prefix, prefix)))

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}
	return filepath.Walk(dir,
		func(name string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			} else if info.IsDir() {
				return nil // Descend into directory.
			} else if strings.HasPrefix(filepath.Base(name), ".partial-") {
				return nil // Skip in-flight writes.
			}

			relPath, err := filepath.Rel(dir, name)
			if err != nil {
				return err
			}
			return callback(filepath.ToSlash(relPath), info.ModTime())
		})
}

func (s store) Remove(_ context.Context, path string) error {
	return os.Remove(s.fsPath(path))
}

func (s store) IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, os.ErrPermission) || os.IsPermission(err) ||
		strings.Contains(err.Error(), invalidFileStoreDirectory)
}

func (s store) fsPath(path string) string {
	return filepath.Join(StoreRoot, filepath.FromSlash(s.args.RewritePath(s.prefix, path)))
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

const invalidFileStoreDirectory = "invalid file store directory"
