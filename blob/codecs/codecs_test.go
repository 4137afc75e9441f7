package codecs

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCodecRoundTrips(t *testing.T) {
	var input = strings.Repeat("dataset blob content ", 1000)

	for _, codec := range []Compression{None, Gzip, Snappy, Zstandard} {
		var buf bytes.Buffer

		var cw, err = NewCodecWriter(&buf, codec)
		require.NoError(t, err)
		_, err = io.Copy(cw, strings.NewReader(input))
		require.NoError(t, err)
		require.NoError(t, cw.Close())

		if codec != None {
			require.Less(t, buf.Len(), len(input))
		}

		cr, err := NewCodecReader(&buf, codec)
		require.NoError(t, err)
		output, err := io.ReadAll(cr)
		require.NoError(t, err)
		require.NoError(t, cr.Close())

		require.Equal(t, input, string(output), "codec %s", codec)
	}
}

func TestCompressionFlagAndExtension(t *testing.T) {
	var cases = []struct {
		flag string
		c    Compression
		ext  string
	}{
		{"none", None, ""},
		{"gzip", Gzip, ".gz"},
		{"snappy", Snappy, ".sz"},
		{"zstd", Zstandard, ".zst"},
	}
	for _, tc := range cases {
		var c Compression
		require.NoError(t, c.UnmarshalFlag(tc.flag))
		require.Equal(t, tc.c, c)
		require.Equal(t, tc.ext, c.Extension())
		require.Equal(t, tc.flag, c.String())
	}

	var c Compression
	require.Error(t, c.UnmarshalFlag("lzma"))
	require.Error(t, Compression(42).Validate())
}
