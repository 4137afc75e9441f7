// Package blob defines the identity and staging protocol of dataset blobs:
// the snapshot, delta, and reverse-delta artifacts which a producer stages,
// publishes to a durable store, and which consumers later retrieve.
package blob

import (
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"go.deltaset.dev/core/blob/codecs"
)

// VersionNone is the sentinel "no version". It tags the from-side of
// snapshot blobs, and an empty producer or consumer reports it as its
// current version.
const VersionNone int64 = math.MinInt64

// Kind enumerates the blob artifact kinds.
type Kind int

const (
	// Snapshot is the full serialized dataset at a version.
	Snapshot Kind = iota
	// Delta is an edit script transitioning a version to its successor.
	Delta
	// ReverseDelta is an edit script transitioning a version to its predecessor.
	ReverseDelta
)

// Prefix returns the content-path prefix of the Kind.
func (k Kind) Prefix() string {
	switch k {
	case Snapshot:
		return "snapshot"
	case Delta:
		return "delta"
	case ReverseDelta:
		return "reversedelta"
	default:
		panic("invalid Kind")
	}
}

func (k Kind) String() string { return k.Prefix() }

// Ref names a single blob: its kind, the versions it transitions between,
// and the compression codec of its stored content.
type Ref struct {
	Kind Kind
	// From is the version this blob transitions from. It is VersionNone
	// for snapshots.
	From int64
	// To is the version this blob transitions to.
	To int64
	// Codec is the compression applied to the blob content.
	Codec codecs.Compression
}

// SnapshotRef returns the Ref of a snapshot at |to|.
func SnapshotRef(to int64, codec codecs.Compression) Ref {
	return Ref{Kind: Snapshot, From: VersionNone, To: to, Codec: codec}
}

// DeltaRef returns the Ref of a forward delta |from| => |to|.
func DeltaRef(from, to int64, codec codecs.Compression) Ref {
	return Ref{Kind: Delta, From: from, To: to, Codec: codec}
}

// ReverseDeltaRef returns the Ref of a reverse delta |from| => |to|.
func ReverseDeltaRef(from, to int64, codec codecs.Compression) Ref {
	return Ref{Kind: ReverseDelta, From: from, To: to, Codec: codec}
}

// Validate returns an error if the Ref is malformed.
func (r Ref) Validate() error {
	switch r.Kind {
	case Snapshot:
		if r.From != VersionNone {
			return fmt.Errorf("snapshot Ref has a from-version (%d)", r.From)
		}
	case Delta:
		if r.From >= r.To {
			return fmt.Errorf("delta Ref versions not ascending (%d => %d)", r.From, r.To)
		}
	case ReverseDelta:
		if r.From <= r.To {
			return fmt.Errorf("reverse delta Ref versions not descending (%d => %d)", r.From, r.To)
		}
	default:
		return fmt.Errorf("invalid Kind (%d)", r.Kind)
	}
	if err := r.Codec.Validate(); err != nil {
		return err
	}
	return nil
}

// ContentPath returns the store path of the blob, which encodes its Kind,
// versions, and compression codec extension.
func (r Ref) ContentPath() string {
	switch r.Kind {
	case Snapshot:
		return fmt.Sprintf("%s-%d%s", r.Kind.Prefix(), r.To, r.Codec.Extension())
	default:
		return fmt.Sprintf("%s-%d-%d%s", r.Kind.Prefix(), r.From, r.To, r.Codec.Extension())
	}
}

func (r Ref) String() string { return r.ContentPath() }

// ParseContentPath maps a ContentPath back to its Ref.
func ParseContentPath(path string) (Ref, error) {
	var name, codec = splitExtension(path)
	var fields = strings.Split(name, "-")

	var ref = Ref{Codec: codec}
	var err error

	switch {
	case len(fields) == 2 && fields[0] == Snapshot.Prefix():
		ref.Kind, ref.From = Snapshot, VersionNone
		if ref.To, err = strconv.ParseInt(fields[1], 10, 64); err != nil {
			return Ref{}, fmt.Errorf("parsing %q: %w", path, err)
		}
	case len(fields) == 3 && (fields[0] == Delta.Prefix() || fields[0] == ReverseDelta.Prefix()):
		if fields[0] == Delta.Prefix() {
			ref.Kind = Delta
		} else {
			ref.Kind = ReverseDelta
		}
		if ref.From, err = strconv.ParseInt(fields[1], 10, 64); err != nil {
			return Ref{}, fmt.Errorf("parsing %q: %w", path, err)
		}
		if ref.To, err = strconv.ParseInt(fields[2], 10, 64); err != nil {
			return Ref{}, fmt.Errorf("parsing %q: %w", path, err)
		}
	default:
		return Ref{}, fmt.Errorf("not a blob content path: %q", path)
	}

	if err = ref.Validate(); err != nil {
		return Ref{}, err
	}
	return ref, nil
}

func splitExtension(path string) (string, codecs.Compression) {
	for _, c := range []codecs.Compression{codecs.Gzip, codecs.Snappy, codecs.Zstandard} {
		if strings.HasSuffix(path, c.Extension()) {
			return strings.TrimSuffix(path, c.Extension()), c
		}
	}
	return path, codecs.None
}

// Staged is a blob under production: opened by a Stager, serialized to by
// the producer, published, read back during the integrity check, and
// finally cleaned up.
type Staged interface {
	// Ref of the blob.
	Ref() Ref
	// Write serializes blob content by invoking |fn| with a Writer which
	// compresses under the blob's codec. It must be called exactly once.
	Write(fn func(io.Writer) error) error
	// NewReader returns a reader of the decompressed blob content.
	NewReader() (io.ReadCloser, error)
	// Content returns the staged (compressed) content for publication.
	// The caller must Close the returned File when done.
	Content() (File, error)
	// Cleanup releases the staged blob. It is idempotent.
	Cleanup() error
}

// File is the staged content handle handed to a Publisher.
type File interface {
	io.ReaderAt
	io.Closer
	// Size of the staged content in bytes.
	Size() int64
}

// Stager opens writable blobs for staging.
type Stager interface {
	OpenSnapshot(toVersion int64) (Staged, error)
	OpenDelta(fromVersion, toVersion int64) (Staged, error)
	OpenReverseDelta(fromVersion, toVersion int64) (Staged, error)
}

// Publisher persists a staged blob to the durable blob store.
type Publisher interface {
	Publish(ctx context.Context, staged Staged) error
}
