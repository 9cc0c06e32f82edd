package archive

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// Compression identifies the compressor applied to the tar stream.
type Compression string

const (
	None  Compression = "none"
	Gzip  Compression = "gzip"
	Bzip2 Compression = "bzip2"
	XZ    Compression = "xz"
	Zstd  Compression = "zstd"
)

var suffixes = []struct {
	suffix      string
	compression Compression
}{
	{".tar.gz", Gzip},
	{".tgz", Gzip},
	{".tar.bz2", Bzip2},
	{".tbz2", Bzip2},
	{".tbz", Bzip2},
	{".tar.xz", XZ},
	{".txz", XZ},
	{".tar.zst", Zstd},
	{".tzst", Zstd},
	{".tar", None},
}

// Extensions lists the archive name suffixes that CompressionFor accepts.
func Extensions() []string {
	out := make([]string, 0, len(suffixes))
	for _, s := range suffixes {
		out = append(out, s.suffix)
	}
	return out
}

// CompressionFor picks the compression from the archive file name.
func CompressionFor(name string) (Compression, error) {
	lower := strings.ToLower(filepath.Base(name))
	for _, s := range suffixes {
		if strings.HasSuffix(lower, s.suffix) && len(lower) > len(s.suffix) {
			return s.compression, nil
		}
	}
	return "", fmt.Errorf("unsupported archive name %q (want one of %s)", filepath.Base(name), strings.Join(Extensions(), ", "))
}

// BaseName strips the directory and every extension from an archive name:
// "/tmp/out.tar.bz2" becomes "out".
func BaseName(name string) string {
	base := filepath.Base(name)
	if i := strings.IndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	return base
}

func newCompressor(c Compression, w io.Writer) (io.WriteCloser, error) {
	switch c {
	case None:
		return nopCloser{w}, nil
	case Gzip:
		return gzip.NewWriter(w), nil
	case Bzip2:
		return bzip2.NewWriter(w, &bzip2.WriterConfig{Level: bzip2.BestCompression})
	case XZ:
		return xz.NewWriter(w)
	case Zstd:
		return zstd.NewWriter(w)
	default:
		return nil, fmt.Errorf("unknown compression %q", c)
	}
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error {
	return nil
}
