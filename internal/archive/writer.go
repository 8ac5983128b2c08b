package archive

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ulikunitz/xz"

	"github.com/FocuswithJustin/apfingest/core/errors"
)

// epoch is the modification time written for every entry, so archives of
// the same bundles are byte-identical.
var epoch = time.Unix(0, 0).UTC()

// Create writes files into a .tar.xz or .tar.gz archive at dst, choosing the
// compression from the extension. Entries are named baseDir/<file name>, or
// just the file name when baseDir is empty. Parent directories of dst are
// created.
func Create(dst, baseDir string, files []string) error {
	var compress func(io.Writer) (io.WriteCloser, error)
	switch {
	case strings.HasSuffix(dst, ".tar.xz"):
		compress = func(w io.Writer) (io.WriteCloser, error) { return xz.NewWriter(w) }
	case strings.HasSuffix(dst, ".tar.gz"):
		compress = func(w io.Writer) (io.WriteCloser, error) { return gzip.NewWriter(w), nil }
	default:
		return errors.NewUnsupported("archive format", filepath.Base(dst))
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return errors.NewIO("create", filepath.Dir(dst), err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return errors.NewIO("create", dst, err)
	}

	if err := write(out, compress, baseDir, files); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		return errors.NewIO("close", dst, err)
	}
	return nil
}

func write(out io.Writer, compress func(io.Writer) (io.WriteCloser, error), baseDir string, files []string) error {
	cw, err := compress(out)
	if err != nil {
		return errors.Wrap(err, "start compressor")
	}
	tw := tar.NewWriter(cw)

	if baseDir != "" {
		if err := tw.WriteHeader(&tar.Header{
			Typeflag: tar.TypeDir,
			Name:     baseDir + "/",
			Mode:     0755,
			ModTime:  epoch,
		}); err != nil {
			return err
		}
	}

	seen := make(map[string]bool, len(files))
	for _, path := range files {
		name := filepath.Base(path)
		if seen[name] {
			return errors.NewValidation("archive", "duplicate entry "+name)
		}
		seen[name] = true
		if err := addFile(tw, baseDir, path); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return errors.Wrap(err, "close tar")
	}
	return cw.Close()
}

func addFile(tw *tar.Writer, baseDir, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.NewIO("open", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return errors.NewIO("stat", path, err)
	}
	if !info.Mode().IsRegular() {
		return errors.NewValidation("archive", path+" is not a regular file")
	}

	name := filepath.Base(path)
	if baseDir != "" {
		name = baseDir + "/" + name
	}
	if err := tw.WriteHeader(&tar.Header{
		Typeflag: tar.TypeReg,
		Name:     name,
		Mode:     0644,
		Size:     info.Size(),
		ModTime:  epoch,
	}); err != nil {
		return err
	}
	if _, err := io.Copy(tw, f); err != nil {
		return errors.NewIO("archive", path, err)
	}
	return nil
}
