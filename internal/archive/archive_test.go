package archive

import (
	"archive/tar"
	stdbzip2 "compress/bzip2"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

type entry struct {
	typeflag byte
	linkname string
	mode     int64
	content  string
}

func buildTree(t *testing.T) string {
	t.Helper()

	root := filepath.Join(t.TempDir(), "rootfs")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "etc", "network"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "etc", "hostname"), []byte("debian\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "etc", "network", "interfaces"), []byte("auto eth0\n"), 0o600))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "bin", "busybox"), []byte("#!/bin/true\n"), 0o755))
	require.NoError(t, os.Link(filepath.Join(root, "bin", "busybox"), filepath.Join(root, "bin", "ls")))
	require.NoError(t, os.Symlink("busybox", filepath.Join(root, "bin", "sh")))
	return root
}

func readArchive(t *testing.T, path string, compression Compression) map[string]entry {
	t.Helper()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var r io.Reader
	switch compression {
	case None:
		r = f
	case Gzip:
		gr, err := gzip.NewReader(f)
		require.NoError(t, err)
		defer gr.Close()
		r = gr
	case Bzip2:
		r = stdbzip2.NewReader(f)
	case XZ:
		xr, err := xz.NewReader(f)
		require.NoError(t, err)
		r = xr
	case Zstd:
		zr, err := zstd.NewReader(f)
		require.NoError(t, err)
		defer zr.Close()
		r = zr
	}

	entries := map[string]entry{}
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		data, err := io.ReadAll(tr)
		require.NoError(t, err)
		entries[hdr.Name] = entry{
			typeflag: hdr.Typeflag,
			linkname: hdr.Linkname,
			mode:     hdr.Mode & 0o7777,
			content:  string(data),
		}
	}
	return entries
}

func TestCreateAllCompressions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		compression Compression
	}{
		{"rootfs.tar", None},
		{"rootfs.tar.gz", Gzip},
		{"rootfs.tgz", Gzip},
		{"rootfs.tar.bz2", Bzip2},
		{"rootfs.tar.xz", XZ},
		{"rootfs.tar.zst", Zstd},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			root := buildTree(t)
			dst := filepath.Join(t.TempDir(), tt.name)

			w := &Writer{}
			require.NoError(t, w.Create(context.Background(), root, dst))

			_, err := os.Stat(dst + PartialSuffix)
			assert.True(t, os.IsNotExist(err), "partial file left behind")

			entries := readArchive(t, dst, tt.compression)

			require.Contains(t, entries, "./")
			assert.Equal(t, byte(tar.TypeDir), entries["./"].typeflag)
			require.Contains(t, entries, "./etc/")

			hostname := entries["./etc/hostname"]
			assert.Equal(t, "debian\n", hostname.content)
			assert.Equal(t, int64(0o644), hostname.mode)
			assert.Equal(t, int64(0o600), entries["./etc/network/interfaces"].mode)

			sh := entries["./bin/sh"]
			assert.Equal(t, byte(tar.TypeSymlink), sh.typeflag)
			assert.Equal(t, "busybox", sh.linkname)

			busybox, ls := entries["./bin/busybox"], entries["./bin/ls"]
			if busybox.typeflag == tar.TypeLink {
				busybox, ls = ls, busybox
			}
			assert.Equal(t, byte(tar.TypeReg), busybox.typeflag)
			assert.Equal(t, byte(tar.TypeLink), ls.typeflag)
			assert.Contains(t, []string{"./bin/busybox", "./bin/ls"}, ls.linkname)
		})
	}
}

func TestCreateRejectsUnknownExtension(t *testing.T) {
	t.Parallel()

	dst := filepath.Join(t.TempDir(), "rootfs.zip")
	err := (&Writer{}).Create(context.Background(), buildTree(t), dst)
	require.Error(t, err)

	_, statErr := os.Stat(dst + PartialSuffix)
	assert.True(t, os.IsNotExist(statErr))
}

func TestCreateCanceledLeavesNothing(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dst := filepath.Join(t.TempDir(), "rootfs.tar.gz")
	err := (&Writer{}).Create(ctx, buildTree(t), dst)
	require.ErrorIs(t, err, context.Canceled)

	for _, path := range []string{dst, dst + PartialSuffix} {
		_, statErr := os.Stat(path)
		assert.True(t, os.IsNotExist(statErr), path)
	}
}

func TestCompressionFor(t *testing.T) {
	t.Parallel()

	tests := map[string]Compression{
		"out.tar":          None,
		"out.tar.gz":       Gzip,
		"out.TGZ":          Gzip,
		"/tmp/out.tar.bz2": Bzip2,
		"out.tbz2":         Bzip2,
		"out.tbz":          Bzip2,
		"out.tar.xz":       XZ,
		"out.txz":          XZ,
		"out.tar.zst":      Zstd,
		"out.tzst":         Zstd,
	}
	for name, want := range tests {
		got, err := CompressionFor(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	for _, name := range []string{"out.zip", "out", "out.gz", ".tar"} {
		_, err := CompressionFor(name)
		assert.Error(t, err, name)
	}
}

func TestBaseName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "out", BaseName("out.tar.bz2"))
	assert.Equal(t, "rootfs", BaseName("/srv/images/rootfs.tgz"))
	assert.Equal(t, "debian", BaseName("debian.wheezy.tar"))
}
