// Package archive packs a target tree into a (compressed) tar file.
//
// Entries are stored relative to the tree root ("./", "./etc/hostname", ...)
// with numeric ownership, permission bits, symlinks, hard links and device
// nodes preserved so the result can be extracted onto a boot medium as-is.
package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"

	"github.com/cochaviz/rootstrap/internal/logging"
)

// PartialSuffix is appended to the destination while the archive is being written.
const PartialSuffix = ".partial"

// Writer creates archives from directory trees.
type Writer struct {
	Logger *slog.Logger
}

// Create writes root into dst, choosing the compression from the name of dst.
// The archive is written next to dst and renamed into place on success.
func (w *Writer) Create(ctx context.Context, root, dst string) (err error) {
	compression, err := CompressionFor(dst)
	if err != nil {
		return err
	}
	logger := logging.Ensure(w.Logger).With("archive", dst, "compression", string(compression))

	partial := dst + PartialSuffix
	f, err := os.OpenFile(partial, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(partial)
		}
	}()

	compressor, err := newCompressor(compression, f)
	if err != nil {
		return fmt.Errorf("init %s compressor: %w", compression, err)
	}
	tw := tar.NewWriter(compressor)

	logger.Info("writing archive", "root", root)
	count, err := writeTree(ctx, tw, root, logger)
	if err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("finish tar stream: %w", err)
	}
	if err := compressor.Close(); err != nil {
		return fmt.Errorf("finish %s stream: %w", compression, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync archive: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	if err := os.Rename(partial, dst); err != nil {
		return fmt.Errorf("move archive into place: %w", err)
	}
	logger.Info("archive written", "entries", count)
	return nil
}

type inode struct {
	dev uint64
	ino uint64
}

func writeTree(ctx context.Context, tw *tar.Writer, root string, logger *slog.Logger) (int, error) {
	links := map[inode]string{}
	count := 0

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		name := "./"
		if rel != "." {
			name = "./" + filepath.ToSlash(rel)
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Mode()&fs.ModeSocket != 0 {
			logger.Debug("skipping socket", "path", name)
			return nil
		}

		link := ""
		if info.Mode()&fs.ModeSymlink != 0 {
			if link, err = os.Readlink(path); err != nil {
				return fmt.Errorf("read link %s: %w", name, err)
			}
		}

		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return fmt.Errorf("header for %s: %w", name, err)
		}
		hdr.Name = name
		if info.IsDir() && rel != "." {
			hdr.Name += "/"
		}
		hdr.Uname = ""
		hdr.Gname = ""

		if st, ok := info.Sys().(*syscall.Stat_t); ok && info.Mode().IsRegular() && st.Nlink > 1 {
			key := inode{dev: uint64(st.Dev), ino: uint64(st.Ino)}
			if first, seen := links[key]; seen {
				hdr.Typeflag = tar.TypeLink
				hdr.Linkname = first
				hdr.Size = 0
			} else {
				links[key] = name
			}
		}

		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("write header for %s: %w", name, err)
		}
		count++
		if hdr.Typeflag != tar.TypeReg || hdr.Size == 0 {
			return nil
		}
		return copyFile(tw, path, name)
	})
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return count, err
	}
	if err != nil {
		return count, fmt.Errorf("archive %s: %w", root, err)
	}
	return count, nil
}

func copyFile(w io.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("copy %s: %w", name, err)
	}
	return nil
}
