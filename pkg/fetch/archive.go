package fetch

import (
	"archive/tar"
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pysqlcipher/amalgam/pkg/types"
	"github.com/pysqlcipher/amalgam/pkg/utils"
	"github.com/ulikunitz/xz"
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	xzMagic   = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
)

// TopLevelDir returns the single top-level directory shared by all entry
// names, taking each name's prefix up to the first separator. Zero or
// several distinct prefixes are a malformed archive.
func TopLevelDir(names []string) (string, error) {
	roots := make(map[string]struct{})
	var order []string

	for _, name := range names {
		name = strings.TrimPrefix(name, "./")
		if name == "" || name == "." {
			continue
		}
		root, _, _ := strings.Cut(name, "/")
		if _, ok := roots[root]; !ok {
			roots[root] = struct{}{}
			order = append(order, root)
		}
	}

	switch len(order) {
	case 0:
		return "", fmt.Errorf("%w: archive has no entries", types.ErrMalformedArchive)
	case 1:
		return order[0], nil
	default:
		return "", fmt.Errorf("%w: expected one top-level directory, found %d (%s)",
			types.ErrMalformedArchive, len(order), strings.Join(order, ", "))
	}
}

// openTar opens a tar archive, transparently decompressing gzip or xz
func openTar(file *os.File) (*tar.Reader, error) {
	br := bufio.NewReader(file)
	head, err := br.Peek(len(xzMagic))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	switch {
	case bytes.HasPrefix(head, gzipMagic):
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrMalformedArchive, err)
		}
		return tar.NewReader(zr), nil
	case bytes.HasPrefix(head, xzMagic):
		xr, err := xz.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrMalformedArchive, err)
		}
		return tar.NewReader(xr), nil
	default:
		return tar.NewReader(br), nil
	}
}

// isMetadata reports pax headers that describe the archive, not a file
func isMetadata(hdr *tar.Header) bool {
	return hdr.Typeflag == tar.TypeXGlobalHeader || hdr.Typeflag == tar.TypeXHeader
}

// listEntries returns the names of all entries in the archive
func listEntries(ctx context.Context, archivePath string) ([]string, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	tr, err := openTar(file)
	if err != nil {
		return nil, err
	}

	var names []string
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrMalformedArchive, err)
		}
		if isMetadata(hdr) {
			continue
		}
		names = append(names, hdr.Name)
	}
	return names, nil
}

// extractAll unpacks every entry below dest. Entries escaping dest are
// rejected before anything is written for them. Cancellation stops it
// between entries.
func extractAll(ctx context.Context, archivePath, dest string) (int, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	tr, err := openTar(file)
	if err != nil {
		return 0, err
	}

	count := 0
	for {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return count, nil
		}
		if err != nil {
			return count, fmt.Errorf("%w: %v", types.ErrMalformedArchive, err)
		}
		if isMetadata(hdr) {
			continue
		}

		target, err := utils.SafeJoin(dest, hdr.Name)
		if err != nil {
			return count, fmt.Errorf("%w: %v", types.ErrMalformedArchive, err)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return count, err
			}
		case tar.TypeReg:
			if err := writeEntry(target, tr, hdr.FileInfo().Mode().Perm()); err != nil {
				return count, err
			}
		case tar.TypeSymlink:
			linkDest := path.Join(path.Dir(hdr.Name), hdr.Linkname)
			if path.IsAbs(hdr.Linkname) {
				return count, fmt.Errorf("%w: absolute symlink %s", types.ErrMalformedArchive, hdr.Name)
			}
			if _, err := utils.SafeJoin(dest, linkDest); err != nil {
				return count, fmt.Errorf("%w: %v", types.ErrMalformedArchive, err)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return count, err
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return count, err
			}
		default:
			// devices, fifos and hard links never appear in source releases
			continue
		}
		count++
	}
}

func writeEntry(target string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	if mode == 0 {
		mode = 0644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
