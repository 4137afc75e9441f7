package announce

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.deltaset.dev/core/blob"
)

// AnnouncementFile is the name of the file an FS announcer maintains.
const AnnouncementFile = "announced.version"

// FS announces versions by durably writing an announcement file: the
// version is written to a temp file which is renamed into place, so
// readers observe either the prior or the new announcement, never a torn
// one.
type FS struct {
	fs  afero.Fs
	dir string
}

// NewFS returns an FS announcer of |dir|.
func NewFS(fs afero.Fs, dir string) (*FS, error) {
	if err := fs.MkdirAll(dir, 0750); err != nil {
		return nil, errors.WithMessage(err, "creating announcement directory")
	}
	return &FS{fs: fs, dir: dir}, nil
}

// Announce publishes |version| to the announcement file.
func (a *FS) Announce(_ context.Context, version int64) error {
	var path = filepath.Join(a.dir, AnnouncementFile)
	var partial = path + ".partial"

	var err = afero.WriteFile(a.fs, partial, []byte(strconv.FormatInt(version, 10)), 0640)
	if err == nil {
		err = a.fs.Rename(partial, path)
	}
	return errors.WithMessage(err, "writing announcement file")
}

// Retrieve reads the currently-announced version, or VersionNone if no
// version has been announced.
func (a *FS) Retrieve(_ context.Context) (int64, error) {
	var b, err = afero.ReadFile(a.fs, filepath.Join(a.dir, AnnouncementFile))
	if os.IsNotExist(err) {
		return blob.VersionNone, nil
	} else if err != nil {
		return blob.VersionNone, errors.WithMessage(err, "reading announcement file")
	}
	return parseVersion(strings.TrimSpace(string(b)))
}
