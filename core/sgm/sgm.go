// Package sgm loads ACE source documents and strips their inline markup.
//
// The annotation files index characters of the source with every tag removed
// and every CRLF collapsed to a single LF. Strip reproduces exactly that text,
// so the stripped buffer is the offset space for everything downstream.
package sgm

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/FocuswithJustin/apfingest/core/errors"
)

// Extension is the file extension of ACE source documents.
const Extension = ".sgm"

// tagPattern matches one angle-bracket tag, non-greedy, newlines included.
var tagPattern = regexp.MustCompile(`(?s)<.*?>`)

// Document is a decoded and stripped source document.
// It is immutable after Load or New returns.
type Document struct {
	// ID is the document identifier derived from the filename.
	ID string

	// Path is the file the document was read from (empty for in-memory documents).
	Path string

	// Raw is the decoded file content, markup included.
	Raw string

	// Text is the stripped plain text all mention offsets index into.
	Text string

	runes []rune
}

// Strip removes inline markup from raw source text.
// CRLF is collapsed to LF before tags are removed; tags are replaced by nothing.
func Strip(raw string) string {
	collapsed := strings.ReplaceAll(raw, "\r\n", "\n")
	return tagPattern.ReplaceAllLiteralString(collapsed, "")
}

// Decode validates that data is UTF-8 text and returns it as a string.
func Decode(data []byte, path string) (string, error) {
	if !utf8.Valid(data) {
		return "", &errors.DecodeError{Path: path, Offset: firstInvalid(data)}
	}
	return string(data), nil
}

// firstInvalid returns the byte offset of the first invalid UTF-8 sequence.
func firstInvalid(data []byte) int {
	for i := 0; i < len(data); {
		r, size := utf8.DecodeRune(data[i:])
		if r == utf8.RuneError && size <= 1 {
			return i
		}
		i += size
	}
	return len(data)
}

// New builds a document from already decoded raw text.
func New(id, raw string) *Document {
	text := Strip(raw)
	return &Document{
		ID:    id,
		Raw:   raw,
		Text:  text,
		runes: []rune(text),
	}
}

// Load reads, decodes and strips the source document at path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewIO("read", path, err)
	}
	raw, err := Decode(data, path)
	if err != nil {
		return nil, err
	}
	doc := New(IDFromPath(path), raw)
	doc.Path = path
	return doc, nil
}

// IDFromPath derives a document identifier from a source file name.
func IDFromPath(path string) string {
	return strings.TrimSuffix(filepath.Base(path), Extension)
}

// Len returns the length of the stripped text in characters.
func (d *Document) Len() int {
	return len(d.runes)
}

// Slice returns the characters [start, end) of the stripped text.
// Out of range bounds are clamped; callers validate offsets before relying on Slice.
func (d *Document) Slice(start, end int) string {
	if start < 0 {
		start = 0
	}
	if end > len(d.runes) {
		end = len(d.runes)
	}
	if start >= end {
		return ""
	}
	return string(d.runes[start:end])
}

// InRange reports whether the inclusive span [start, end] lies inside the text.
func (d *Document) InRange(start, end int) bool {
	return start >= 0 && start <= end && end < len(d.runes)
}
