// Package apf extracts entity and event records from ACE APF annotation files.
//
// APF is parsed as a stream of tags rather than as XML: a tokenizer splits the
// file into open tags, close tags and character data, and a recursive-descent
// reader walks the fixed entity/event grammar over that stream. A block with a
// malformed header is reported as a warning and skipped, so one bad record
// never costs the rest of the document.
//
// Offsets are copied verbatim from the START and END attributes of charseq
// elements. END is inclusive and both index the stripped source text.
package apf

import (
	"strings"

	"github.com/FocuswithJustin/apfingest/core/errors"
)

// Extension is the file extension of APF annotation files.
const Extension = ".apf.xml"

// Format names APF in parse errors.
const Format = "APF"

// Mention is an inclusive character span into the stripped source text.
type Mention struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of characters covered by the span.
func (m Mention) Len() int {
	return m.End - m.Start + 1
}

// EntityMention is one mention of an entity. ID is kept for reference only.
type EntityMention struct {
	ID     string  `json:"id"`
	Extent Mention `json:"extent"`
	Text   string  `json:"text,omitempty"`
}

// EntityRecord is an <entity> block.
type EntityRecord struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Subtype  string          `json:"subtype"`
	Class    string          `json:"class,omitempty"`
	Mentions []EntityMention `json:"mentions"`
}

// TypeKey returns TYPE.SUBTYPE.
func (e EntityRecord) TypeKey() string {
	return TypeKey(e.Type, e.Subtype)
}

// Argument is a role-labelled span attached to an event mention.
type Argument struct {
	Role string  `json:"role"`
	Span Mention `json:"span"`
	Text string  `json:"text,omitempty"`
}

// EventMention is one mention of an event: its trigger (anchor) span and its
// arguments in document order. ID is kept for reference only. The text fields
// hold the charseq surface text with newlines removed.
type EventMention struct {
	ID          string     `json:"id"`
	Trigger     Mention    `json:"trigger"`
	TriggerText string     `json:"trigger_text,omitempty"`
	Arguments   []Argument `json:"arguments,omitempty"`
}

// EventRecord is an <event> block.
type EventRecord struct {
	ID       string         `json:"id"`
	DocID    string         `json:"doc_id"`
	Type     string         `json:"type"`
	Subtype  string         `json:"subtype"`
	Mentions []EventMention `json:"mentions"`
}

// TypeKey returns TYPE.SUBTYPE.
func (e EventRecord) TypeKey() string {
	return TypeKey(e.Type, e.Subtype)
}

// Result holds everything parsed from one annotation file.
type Result struct {
	Entities []EntityRecord      `json:"entities"`
	Events   []EventRecord       `json:"events"`
	Warnings []*errors.ParseError `json:"-"`
}

// TypeKey joins an APF TYPE and SUBTYPE, case preserved.
func TypeKey(typ, subtype string) string {
	return typ + "." + subtype
}

// DocIDFromEventID returns the document id encoded in an event id of the form
// <DOC_ID>-EV<n>, or an empty string when the id does not follow that form.
func DocIDFromEventID(id string) string {
	i := strings.Index(id, "-EV")
	if i < 0 {
		return ""
	}
	return id[:i]
}
