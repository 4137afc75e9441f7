package blob

import (
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"go.deltaset.dev/core/blob/codecs"
)

// FSStager stages blobs as files under a staging directory. Content is
// written through the configured compression codec to a uniquely-named
// partial file, which is renamed into place only once serialization
// completes, so a crashed cycle never leaves a well-named partial blob.
type FSStager struct {
	fs    afero.Fs
	dir   string
	codec codecs.Compression
}

// NewFSStager returns an FSStager of |dir| which compresses staged blob
// content under |codec|.
func NewFSStager(fs afero.Fs, dir string, codec codecs.Compression) (*FSStager, error) {
	if err := fs.MkdirAll(dir, 0750); err != nil {
		return nil, errors.WithMessage(err, "creating staging directory")
	}
	return &FSStager{fs: fs, dir: dir, codec: codec}, nil
}

func (s *FSStager) OpenSnapshot(toVersion int64) (Staged, error) {
	return s.open(SnapshotRef(toVersion, s.codec))
}

func (s *FSStager) OpenDelta(fromVersion, toVersion int64) (Staged, error) {
	return s.open(DeltaRef(fromVersion, toVersion, s.codec))
}

func (s *FSStager) OpenReverseDelta(fromVersion, toVersion int64) (Staged, error) {
	return s.open(ReverseDeltaRef(fromVersion, toVersion, s.codec))
}

func (s *FSStager) open(ref Ref) (Staged, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	return &fsStaged{
		ref:  ref,
		fs:   s.fs,
		path: filepath.Join(s.dir, ref.ContentPath()),
	}, nil
}

type fsStaged struct {
	ref     Ref
	fs      afero.Fs
	path    string
	written bool
	cleaned bool
}

func (b *fsStaged) Ref() Ref { return b.ref }

func (b *fsStaged) Write(fn func(io.Writer) error) error {
	if b.written {
		panic("staged blob already written")
	}

	var partial = b.path + ".partial-" + uuid.NewString()
	var f, err = b.fs.OpenFile(partial, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0640)
	if err != nil {
		return errors.WithMessage(err, "creating partial blob file")
	}

	defer func() {
		if rmErr := b.fs.Remove(partial); rmErr != nil && !os.IsNotExist(rmErr) {
			log.WithFields(log.Fields{"err": rmErr, "path": partial}).
				Warn("failed to cleanup partial blob file")
		}
	}()

	var cw codecs.Compressor
	if cw, err = codecs.NewCodecWriter(f, b.ref.Codec); err == nil {
		err = fn(cw)
	}
	if err == nil {
		err = cw.Close()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = b.fs.Rename(partial, b.path)
	}
	if err != nil {
		return errors.WithMessagef(err, "staging %s", b.ref)
	}
	b.written = true
	return nil
}

func (b *fsStaged) NewReader() (io.ReadCloser, error) {
	var f, err = b.fs.Open(b.path)
	if err != nil {
		return nil, err
	}
	dec, err := codecs.NewCodecReader(f, b.ref.Codec)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &decompressedReader{Reader: dec, dec: dec, raw: f}, nil
}

func (b *fsStaged) Content() (File, error) {
	var f, err = b.fs.Open(b.path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return fsFile{File: f, size: info.Size()}, nil
}

func (b *fsStaged) Cleanup() error {
	if b.cleaned {
		return nil
	}
	b.cleaned = true

	if err := b.fs.Remove(b.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

type fsFile struct {
	afero.File
	size int64
}

func (f fsFile) Size() int64 { return f.size }

// decompressedReader closes both the decompressor and its backing file.
type decompressedReader struct {
	io.Reader
	dec io.Closer
	raw io.Closer
}

func (r *decompressedReader) Close() error {
	var err = r.dec.Close()
	if rawErr := r.raw.Close(); err == nil {
		err = rawErr
	}
	return err
}
