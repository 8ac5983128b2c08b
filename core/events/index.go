// Package events groups parsed APF events by type key.
//
// An Index maps each TYPE.SUBTYPE key to the documents that contain at least
// one event of that type. A document appears at most once per key no matter
// how many events of that type it has. The sentinel key None is always
// present with no documents; it stands for the empty control project.
package events

import (
	"strings"

	"github.com/FocuswithJustin/apfingest/core/apf"
)

// None is the sentinel key of the empty control project.
const None = "None"

// Wildcard selects every key in an index. Matched case-insensitively.
const Wildcard = "all"

// DocumentEvents is one document's contribution to an index.
type DocumentEvents struct {
	DocID  string
	Events []apf.EventRecord
}

// Index maps type keys to document ids. Keys and documents keep insertion
// order. It is not safe for concurrent writers.
type Index struct {
	keys []string
	docs map[string][]string
	seen map[string]map[string]bool
}

// NewIndex creates an index holding only the sentinel key.
func NewIndex() *Index {
	return &Index{
		docs: make(map[string][]string),
		seen: make(map[string]map[string]bool),
	}
}

// BuildIndex runs the corpus pass over docs in order.
func BuildIndex(docs []DocumentEvents) *Index {
	idx := NewIndex()
	for _, d := range docs {
		idx.Add(d.DocID, d.Events)
	}
	return idx
}

// Add records docID once under the type key of each of its events.
func (x *Index) Add(docID string, events []apf.EventRecord) {
	for _, ev := range events {
		x.Record(ev.TypeKey(), docID)
	}
}

// Record adds docID under key unless it is already there. None is ignored.
func (x *Index) Record(key, docID string) {
	if key == None {
		return
	}
	docs, ok := x.seen[key]
	if !ok {
		docs = make(map[string]bool)
		x.seen[key] = docs
		x.keys = append(x.keys, key)
	}
	if docs[docID] {
		return
	}
	docs[docID] = true
	x.docs[key] = append(x.docs[key], docID)
}

// Merge folds other into x. Keys new to x are appended in other's order.
func (x *Index) Merge(other *Index) {
	if other == nil {
		return
	}
	for _, key := range other.keys {
		for _, doc := range other.docs[key] {
			x.Record(key, doc)
		}
	}
}

// Keys returns every type key in insertion order followed by None.
func (x *Index) Keys() []string {
	keys := make([]string, 0, len(x.keys)+1)
	keys = append(keys, x.keys...)
	return append(keys, None)
}

// Has reports whether key is in the index.
func (x *Index) Has(key string) bool {
	if key == None {
		return true
	}
	_, ok := x.seen[key]
	return ok
}

// Docs returns the documents recorded under key. The result is a copy and is
// empty, never nil, for None and unknown keys.
func (x *Index) Docs(key string) []string {
	return append([]string{}, x.docs[key]...)
}

// Len returns the number of type keys, not counting None.
func (x *Index) Len() int {
	return len(x.keys)
}

// Resolve expands event-type selectors into type keys. The wildcard expands
// to every key including None. Selectors not in the index are kept, so they
// yield empty projects, and are also reported in unknown.
func (x *Index) Resolve(selectors []string) (keys, unknown []string) {
	picked := make(map[string]bool)
	pick := func(k string) {
		if !picked[k] {
			picked[k] = true
			keys = append(keys, k)
		}
	}
	for _, sel := range selectors {
		sel = strings.TrimSpace(sel)
		switch {
		case sel == "":
		case strings.EqualFold(sel, Wildcard):
			for _, k := range x.Keys() {
				pick(k)
			}
		default:
			if !x.Has(sel) {
				unknown = append(unknown, sel)
			}
			pick(sel)
		}
	}
	return keys, unknown
}

// Map returns the index as a plain map, None included.
func (x *Index) Map() map[string][]string {
	m := make(map[string][]string, len(x.keys)+1)
	for _, k := range x.Keys() {
		m[k] = x.Docs(k)
	}
	return m
}
