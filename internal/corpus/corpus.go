// Package corpus finds ACE source and annotation file pairs on disk.
package corpus

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/FocuswithJustin/apfingest/core/apf"
	"github.com/FocuswithJustin/apfingest/core/errors"
	"github.com/FocuswithJustin/apfingest/core/sgm"
	"github.com/FocuswithJustin/apfingest/internal/fileutil"
	"github.com/FocuswithJustin/apfingest/internal/logging"
)

// Pair is a source document and its annotation file.
type Pair struct {
	ID      string `json:"id"`
	SGMPath string `json:"sgm_path"`
	APFPath string `json:"apf_path"`
}

// Loaded is a pair read into memory. It is not modified after Load returns.
type Loaded struct {
	Doc    *sgm.Document
	Result *apf.Result
	// Header is nil when the annotation file is not well-formed XML.
	Header *apf.Header
}

// IsCorpusFile reports whether name is a source or annotation file.
func IsCorpusFile(name string) bool {
	return strings.HasSuffix(name, sgm.Extension) || strings.HasSuffix(name, apf.Extension)
}

// Flatten copies the source and annotation files of every corpus directory
// into dest and returns how many files were copied. Subdirectories are not
// descended into. A file name seen in an earlier directory is overwritten.
// Corpus files left in dest by an earlier pass that no corpus directory
// holds any more are removed.
func Flatten(corpusPaths []string, dest string) (int, error) {
	if err := os.MkdirAll(dest, 0755); err != nil {
		return 0, errors.NewIO("create", dest, err)
	}

	origin := make(map[string]string)
	copied := 0
	for _, dir := range corpusPaths {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return copied, errors.NewIO("read", dir, err)
		}
		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() || !IsCorpusFile(name) {
				continue
			}
			if prev, ok := origin[name]; ok {
				logging.Warn("duplicate corpus file", "file", name, "first", prev, "replaced_by", dir)
			}
			origin[name] = dir
			if err := fileutil.CopyFile(filepath.Join(dir, name), filepath.Join(dest, name)); err != nil {
				return copied, errors.NewIO("copy", filepath.Join(dir, name), err)
			}
			copied++
		}
	}
	return copied, prune(dest, origin)
}

func prune(dest string, keep map[string]string) error {
	entries, err := os.ReadDir(dest)
	if err != nil {
		return errors.NewIO("read", dest, err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !IsCorpusFile(name) {
			continue
		}
		if _, ok := keep[name]; ok {
			continue
		}
		if err := os.Remove(filepath.Join(dest, name)); err != nil {
			return errors.NewIO("remove", filepath.Join(dest, name), err)
		}
		logging.Debug("removed stale corpus file", "file", name)
	}
	return nil
}

// Discover pairs every .sgm file in dir with the .apf.xml file of the same
// id. Pairs are sorted by id. Source files without annotations are logged
// and skipped.
func Discover(dir string) ([]Pair, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.NewIO("read", dir, err)
	}

	present := make(map[string]bool, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			present[entry.Name()] = true
		}
	}

	var pairs []Pair
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, sgm.Extension) {
			continue
		}
		id := strings.TrimSuffix(name, sgm.Extension)
		if !present[id+apf.Extension] {
			logging.Warn("skipping document", "doc_id", id,
				"error", errors.NewNotFound("annotation file", id+apf.Extension).Error())
			continue
		}
		pairs = append(pairs, Pair{
			ID:      id,
			SGMPath: filepath.Join(dir, name),
			APFPath: filepath.Join(dir, id+apf.Extension),
		})
	}

	sort.Slice(pairs, func(i, j int) bool { return pairs[i].ID < pairs[j].ID })
	return pairs, nil
}

// Load reads, decodes and parses both files of the pair. Decode and I/O
// failures are returned; malformed annotation blocks are in Result.Warnings.
func (p Pair) Load() (*Loaded, error) {
	doc, err := sgm.Load(p.SGMPath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p.APFPath)
	if err != nil {
		return nil, errors.NewIO("read", p.APFPath, err)
	}
	text, err := sgm.Decode(data, p.APFPath)
	if err != nil {
		return nil, err
	}

	res := apf.Parse(text)
	for _, w := range res.Warnings {
		w.Path = p.APFPath
	}

	header, err := apf.ReadHeader(data)
	if err != nil {
		logging.Debug("apf header unreadable", "doc_id", p.ID, "error", err.Error())
		header = nil
	}

	return &Loaded{Doc: doc, Result: res, Header: header}, nil
}

// Mismatches lists disagreements between the document id taken from the file
// name and the ids inside the annotation file.
func (l *Loaded) Mismatches() []string {
	var out []string
	if l.Header != nil && l.Header.DocID != l.Doc.ID {
		out = append(out, fmt.Sprintf("DOCID %q does not match file name id %q", l.Header.DocID, l.Doc.ID))
	}
	for _, ev := range l.Result.Events {
		if prefix := ev.DocID; prefix != l.Doc.ID {
			out = append(out, fmt.Sprintf("event %s has document prefix %q, want %q", ev.ID, prefix, l.Doc.ID))
		}
	}
	return out
}
