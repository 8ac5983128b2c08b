// Package archive writes and reads the compressed tarballs used to ship
// project bundles to annotators.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"os"
	"strings"

	"github.com/ulikunitz/xz"

	"github.com/FocuswithJustin/apfingest/core/errors"
	"github.com/FocuswithJustin/apfingest/internal/validation"
)

// Reader wraps a tar.Reader with automatic decompression handling.
type Reader struct {
	*tar.Reader
	file         *os.File
	decompressor io.Closer
}

// NewReader opens a .tar.gz or .tar.xz archive.
func NewReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.NewIO("open", path, err)
	}

	var reader io.Reader
	var decompressor io.Closer

	switch {
	case strings.HasSuffix(path, ".tar.xz"):
		xzr, err := xz.NewReader(f)
		if err != nil {
			f.Close()
			return nil, errors.Wrapf(err, "xz reader %s", path)
		}
		reader = xzr
	case strings.HasSuffix(path, ".tar.gz"):
		gzr, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, errors.Wrapf(err, "gzip reader %s", path)
		}
		reader = gzr
		decompressor = gzr
	default:
		f.Close()
		return nil, errors.NewUnsupported("archive format", path)
	}

	return &Reader{
		Reader:       tar.NewReader(reader),
		file:         f,
		decompressor: decompressor,
	}, nil
}

// Close closes the archive reader and any underlying decompressors.
func (r *Reader) Close() error {
	var errs []error
	if r.decompressor != nil {
		if err := r.decompressor.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := r.file.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Visitor is called for each regular file entry. Return true to stop.
type Visitor func(header *tar.Header, content io.Reader) (stop bool, err error)

// Iterate walks the regular file entries of the archive. Entries whose names
// would escape the extraction directory are rejected.
func (r *Reader) Iterate(visitor Visitor) error {
	for {
		header, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "read header")
		}
		if !validation.IsPathSafe(".", header.Name) {
			return &errors.ValidationError{Field: "entry", Value: header.Name, Message: "unsafe archive entry name"}
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}

		stop, err := visitor(header, r)
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
}

// Walk opens the archive at path and iterates its file entries.
func Walk(path string, visitor Visitor) error {
	r, err := NewReader(path)
	if err != nil {
		return err
	}
	defer r.Close()
	return r.Iterate(visitor)
}

// List returns the names of the file entries in an archive.
func List(path string) ([]string, error) {
	var names []string
	err := Walk(path, func(header *tar.Header, _ io.Reader) (bool, error) {
		names = append(names, header.Name)
		return false, nil
	})
	return names, err
}

// ReadFile returns the content of one entry. The name may omit the
// archive's leading directory.
func ReadFile(archivePath, filename string) ([]byte, error) {
	var content []byte
	found := false
	err := Walk(archivePath, func(header *tar.Header, r io.Reader) (bool, error) {
		name := header.Name
		if idx := strings.Index(name, "/"); idx >= 0 {
			name = name[idx+1:]
		}
		if name == filename || header.Name == filename {
			var err error
			content, err = io.ReadAll(r)
			found = true
			return true, err
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.NewNotFound("archive entry", filename)
	}
	return content, nil
}
