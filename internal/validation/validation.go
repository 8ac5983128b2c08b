// Package validation checks file names and paths that come from corpus
// data, such as document ids and event type keys, before they are used to
// name snapshots, project bundles or archive entries.
package validation

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode"
)

const (
	// MaxFilenameLength is the maximum allowed filename length.
	MaxFilenameLength = 255
	// MaxPathLength is the maximum allowed path length.
	MaxPathLength = 4096
)

// Common validation errors.
var (
	ErrPathTraversal    = errors.New("path traversal detected")
	ErrInvalidFilename  = errors.New("invalid filename")
	ErrPathTooLong      = errors.New("path too long")
	ErrFilenameTooLong  = errors.New("filename too long")
	ErrInvalidCharacter = errors.New("invalid character in path")
	ErrEmptyPath        = errors.New("path cannot be empty")
	ErrFileType         = errors.New("unexpected file type")
)

// SanitizePath cleans a relative path such as an archive entry name and
// makes sure it stays inside baseDir. It returns the cleaned relative path.
func SanitizePath(baseDir, userPath string) (string, error) {
	if userPath == "" {
		return "", ErrEmptyPath
	}
	if len(userPath) > MaxPathLength {
		return "", ErrPathTooLong
	}

	cleanPath := filepath.Clean(userPath)
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return "", ErrPathTraversal
	}
	if filepath.IsAbs(cleanPath) {
		return "", fmt.Errorf("%w: absolute path not allowed", ErrPathTraversal)
	}

	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base directory: %w", err)
	}
	absPath, err := filepath.Abs(filepath.Join(baseDir, cleanPath))
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	relPath, err := filepath.Rel(absBase, absPath)
	if err != nil || relPath == ".." || strings.HasPrefix(relPath, ".."+string(filepath.Separator)) {
		return "", ErrPathTraversal
	}

	return cleanPath, nil
}

// IsPathSafe reports whether SanitizePath accepts userPath.
func IsPathSafe(baseDir, userPath string) bool {
	_, err := SanitizePath(baseDir, userPath)
	return err == nil
}

// ValidateFilename rejects names with path separators, control characters,
// reserved names and a leading hyphen.
func ValidateFilename(filename string) error {
	if filename == "" {
		return ErrInvalidFilename
	}
	if len(filename) > MaxFilenameLength {
		return ErrFilenameTooLong
	}
	if filename == "." || filename == ".." {
		return fmt.Errorf("%w: reserved name", ErrInvalidFilename)
	}
	if strings.ContainsAny(filename, "/\\") {
		return fmt.Errorf("%w: path separator not allowed", ErrInvalidFilename)
	}
	for _, r := range filename {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: control character not allowed", ErrInvalidFilename)
		}
	}
	if strings.HasPrefix(filename, "-") {
		return fmt.Errorf("%w: filename cannot start with hyphen", ErrInvalidFilename)
	}
	return nil
}

// ValidatePath checks length and characters of a path from configuration.
func ValidatePath(path string) error {
	if path == "" {
		return ErrEmptyPath
	}
	if len(path) > MaxPathLength {
		return ErrPathTooLong
	}
	for _, r := range path {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: control character not allowed", ErrInvalidCharacter)
		}
	}
	return nil
}

// SanitizeFilename turns a generated name, for example one built from a
// document id and an event type, into a safe file name.
func SanitizeFilename(filename string) (string, error) {
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return "", ErrInvalidFilename
	}

	var cleaned strings.Builder
	for _, r := range filename {
		switch {
		case r == '/' || r == '\\':
			cleaned.WriteRune('_')
		case unicode.IsControl(r):
		default:
			cleaned.WriteRune(r)
		}
	}
	filename = strings.TrimLeft(cleaned.String(), "-")

	if err := ValidateFilename(filename); err != nil {
		return "", err
	}
	return filename, nil
}

// FileType is a kind of file the pipeline reads or writes.
type FileType string

const (
	FileTypeSGM     FileType = "sgm"
	FileTypeAPF     FileType = "apf"
	FileTypeJSON    FileType = "json"
	FileTypeZip     FileType = "zip"
	FileTypeTarXZ   FileType = "tar.xz"
	FileTypeTarGZ   FileType = "tar.gz"
	FileTypeXZ      FileType = "xz"
	FileTypeGzip    FileType = "gzip"
	FileTypeSQLite  FileType = "sqlite"
	FileTypeUnknown FileType = "unknown"
)

var magicBytes = []struct {
	fileType FileType
	magic    []byte
}{
	{FileTypeGzip, []byte{0x1f, 0x8b}},
	{FileTypeXZ, []byte{0xfd, 0x37, 0x7a, 0x58, 0x5a, 0x00}},
	{FileTypeZip, []byte{0x50, 0x4b, 0x03, 0x04}},
	{FileTypeSQLite, []byte("SQLite format 3")},
}

// FileTypeFromName returns the type implied by a file name.
func FileTypeFromName(filename string) FileType {
	lower := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(lower, ".apf.xml"):
		return FileTypeAPF
	case strings.HasSuffix(lower, ".tar.xz"):
		return FileTypeTarXZ
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return FileTypeTarGZ
	}
	switch filepath.Ext(lower) {
	case ".sgm":
		return FileTypeSGM
	case ".json":
		return FileTypeJSON
	case ".zip":
		return FileTypeZip
	case ".xz":
		return FileTypeXZ
	case ".gz":
		return FileTypeGzip
	case ".db", ".sqlite", ".sqlite3":
		return FileTypeSQLite
	}
	return FileTypeUnknown
}

// DetectFileType returns the type found in the leading bytes of a file.
// Text formats are reported as unknown.
func DetectFileType(header []byte) FileType {
	for _, sig := range magicBytes {
		if bytes.HasPrefix(header, sig.magic) {
			return sig.fileType
		}
	}
	return FileTypeUnknown
}

// ValidateFileType checks that the content read from r matches the type its
// name implies. Compressed tarballs are recognised by their outer wrapper;
// text types only need to look like text.
func ValidateFileType(r io.Reader, filename string) (FileType, error) {
	buf := make([]byte, 512)
	n, err := io.ReadFull(r, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return FileTypeUnknown, fmt.Errorf("failed to read file header: %w", err)
	}
	buf = buf[:n]

	expected := FileTypeFromName(filename)
	detected := DetectFileType(buf)

	switch expected {
	case FileTypeTarXZ:
		if detected == FileTypeXZ {
			return expected, nil
		}
	case FileTypeTarGZ:
		if detected == FileTypeGzip {
			return expected, nil
		}
	case FileTypeSGM, FileTypeAPF, FileTypeJSON:
		if detected == FileTypeUnknown && isLikelyText(buf) {
			return expected, nil
		}
	case FileTypeUnknown:
		return detected, nil
	default:
		if detected == expected {
			return expected, nil
		}
	}
	return FileTypeUnknown, fmt.Errorf("%w: %s looks like %s, want %s", ErrFileType, filename, detected, expected)
}

// isLikelyText reports whether buf is mostly printable ASCII or UTF-8.
func isLikelyText(buf []byte) bool {
	if len(buf) == 0 {
		return true
	}
	if bytes.IndexByte(buf, 0) != -1 {
		return false
	}
	printable, control := 0, 0
	for _, b := range buf {
		switch {
		case b >= 0x20 || b == '\t' || b == '\n' || b == '\r':
			printable++
		default:
			control++
		}
	}
	return float64(printable)/float64(printable+control) > 0.95
}
