package blob

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.deltaset.dev/core/blob/codecs"
)

func TestRefContentPathRoundTrips(t *testing.T) {
	var cases = []struct {
		ref  Ref
		path string
	}{
		{SnapshotRef(1001, codecs.None), "snapshot-1001"},
		{SnapshotRef(1001, codecs.Gzip), "snapshot-1001.gz"},
		{DeltaRef(1001, 1002, codecs.Snappy), "delta-1001-1002.sz"},
		{ReverseDeltaRef(1002, 1001, codecs.Zstandard), "reversedelta-1002-1001.zst"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.path, tc.ref.ContentPath())

		var parsed, err = ParseContentPath(tc.path)
		require.NoError(t, err)
		require.Equal(t, tc.ref, parsed)
	}
}

func TestParseContentPathRejectsMalformedPaths(t *testing.T) {
	for _, path := range []string{
		"",
		"snapshot",
		"snapshot-abc",
		"delta-1001",
		"delta-1002-1001",        // Not ascending.
		"reversedelta-1001-1002", // Not descending.
		"checkpoint-1001",
		"snapshot-1001.partial-xyz",
	} {
		var _, err = ParseContentPath(path)
		require.Error(t, err, "path %q", path)
	}
}

func TestRefValidation(t *testing.T) {
	require.NoError(t, SnapshotRef(1, codecs.None).Validate())
	require.Error(t, Ref{Kind: Snapshot, From: 5, To: 6}.Validate())
	require.Error(t, Ref{Kind: Delta, From: 6, To: 6}.Validate())
	require.Error(t, Ref{Kind: ReverseDelta, From: 6, To: 6}.Validate())
	require.Error(t, Ref{Kind: Kind(9), To: 6}.Validate())
}
