package announce

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.deltaset.dev/core/blob"
)

func TestFSAnnounceRetrieveRoundTrip(t *testing.T) {
	var fs = afero.NewMemMapFs()
	var a, err = NewFS(fs, "/announce")
	require.NoError(t, err)

	var ctx = context.Background()

	// Before any announcement, Retrieve reports no version.
	version, err := a.Retrieve(ctx)
	require.NoError(t, err)
	require.Equal(t, blob.VersionNone, version)

	require.NoError(t, a.Announce(ctx, 1001))
	version, err = a.Retrieve(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1001), version)

	// A later announcement replaces the prior one.
	require.NoError(t, a.Announce(ctx, 1002))
	version, err = a.Retrieve(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1002), version)

	// No partial file remains.
	exists, err := afero.Exists(fs, "/announce/"+AnnouncementFile+".partial")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestFSRetrieveRejectsMalformedAnnouncement(t *testing.T) {
	var fs = afero.NewMemMapFs()
	var a, err = NewFS(fs, "/announce")
	require.NoError(t, err)

	require.NoError(t, afero.WriteFile(fs, "/announce/"+AnnouncementFile, []byte("garbage"), 0640))
	_, err = a.Retrieve(context.Background())
	require.Error(t, err)
}
