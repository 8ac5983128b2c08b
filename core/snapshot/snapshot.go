// Package snapshot builds per-event-type annotation snapshots.
//
// A snapshot is one (document, event type) pair: the stripped document text
// with a trigger span per event mention and, per argument, an argument span
// plus a relation from the argument (governor) to its trigger (dependent)
// labelled with the argument role. Source offsets are inclusive; snapshot
// spans are end-exclusive, so every end bound is shifted by one.
//
// Each snapshot starts from its own clone of the template, and a built
// snapshot is never modified afterwards.
package snapshot

import (
	"github.com/FocuswithJustin/apfingest/core/apf"
	"github.com/FocuswithJustin/apfingest/core/errors"
	"github.com/FocuswithJustin/apfingest/core/events"
	"github.com/FocuswithJustin/apfingest/core/sgm"
	"github.com/FocuswithJustin/apfingest/internal/validation"
)

// SpanKind tells which layer a span belongs to.
type SpanKind string

const (
	KindTrigger  SpanKind = "trigger"
	KindArgument SpanKind = "argument"
	KindToken    SpanKind = "token"
	KindEntity   SpanKind = "entity"
)

// Span is an end-exclusive annotation over the snapshot text.
type Span struct {
	ID              int      `json:"id"`
	Begin           int      `json:"begin"`
	End             int      `json:"end"`
	Label           string   `json:"label,omitempty"`
	NegativeExample bool     `json:"negative_example"`
	Kind            SpanKind `json:"kind"`
}

// Relation links an argument span (Governor) to its trigger span
// (Dependent). RelationType is the argument role.
type Relation struct {
	ID           int    `json:"id"`
	Governor     int    `json:"governor"`
	Dependent    int    `json:"dependent"`
	RelationType string `json:"relation_type"`
}

// Snapshot is the annotation document for one (document, event type) pair.
type Snapshot struct {
	DocumentID string     `json:"document_id"`
	EventType  string     `json:"event_type"`
	Text       string     `json:"text"`
	MimeType   string     `json:"mime_type"`
	Template   *Template  `json:"template"`
	Triggers   []Span     `json:"triggers"`
	Arguments  []Span     `json:"arguments"`
	Relations  []Relation `json:"relations"`
	Tokens     []Span     `json:"tokens,omitempty"`
	Entities   []Span     `json:"entities,omitempty"`
}

// FirstID is the id of the first annotation; lower ids belong to the sofa
// and the document metadata.
const FirstID = 3

// Option configures optional snapshot layers.
type Option func(*options)

type options struct {
	tokens   bool
	entities []apf.EntityRecord
}

// WithTokens adds a token layer.
func WithTokens() Option {
	return func(o *options) { o.tokens = true }
}

// WithEntities adds an entity span per entity mention.
func WithEntities(entities []apf.EntityRecord) Option {
	return func(o *options) { o.entities = entities }
}

// Build returns one snapshot per type key in merged. An offset outside the
// document text fails the whole document with an OffsetRangeError.
func Build(doc *sgm.Document, merged events.Merged, tmpl *Template, opts ...Option) (map[string]*Snapshot, error) {
	out := make(map[string]*Snapshot, len(merged))
	for _, g := range merged {
		snap, err := BuildOne(doc, g, tmpl, opts...)
		if err != nil {
			return nil, err
		}
		out[g.TypeKey] = snap
	}
	return out, nil
}

// BuildOne builds the snapshot of a single group.
func BuildOne(doc *sgm.Document, group events.Group, tmpl *Template, opts ...Option) (*Snapshot, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if tmpl == nil {
		tmpl = DefaultTemplate()
	}

	b := &builder{
		doc:  doc,
		key:  group.TypeKey,
		next: FirstID,
		snap: &Snapshot{
			DocumentID: doc.ID,
			EventType:  group.TypeKey,
			Text:       doc.Text,
			Template:   tmpl.Clone(),
		},
	}
	b.snap.MimeType = b.snap.Template.MimeType

	for _, m := range group.Mentions {
		trigger, err := b.span(KindTrigger, m.ID, m.Trigger, "")
		if err != nil {
			return nil, err
		}
		b.snap.Triggers = append(b.snap.Triggers, trigger)

		for _, arg := range m.Arguments {
			span, err := b.span(KindArgument, m.ID, arg.Span, "")
			if err != nil {
				return nil, err
			}
			b.snap.Arguments = append(b.snap.Arguments, span)
			b.snap.Relations = append(b.snap.Relations, Relation{
				ID:           b.id(),
				Governor:     span.ID,
				Dependent:    trigger.ID,
				RelationType: arg.Role,
			})
		}
	}

	for _, e := range o.entities {
		for _, m := range e.Mentions {
			span, err := b.span(KindEntity, m.ID, m.Extent, e.TypeKey())
			if err != nil {
				return nil, err
			}
			b.snap.Entities = append(b.snap.Entities, span)
		}
	}

	if o.tokens {
		for _, tok := range sgm.Tokenize(doc.Text) {
			b.snap.Tokens = append(b.snap.Tokens, Span{
				ID:    b.id(),
				Begin: tok.Begin,
				End:   tok.End + 1,
				Kind:  KindToken,
			})
		}
	}

	return b.snap, nil
}

type builder struct {
	doc  *sgm.Document
	key  string
	next int
	snap *Snapshot
}

func (b *builder) id() int {
	id := b.next
	b.next++
	return id
}

// span validates an inclusive source mention and converts it.
func (b *builder) span(kind SpanKind, mentionID string, m apf.Mention, label string) (Span, error) {
	if !b.doc.InRange(m.Start, m.End) {
		return Span{}, &errors.OffsetRangeError{
			DocumentID: b.doc.ID,
			EventType:  b.key,
			MentionID:  mentionID,
			Start:      m.Start,
			End:        m.End,
			TextLength: b.doc.Len(),
		}
	}
	return Span{
		ID:    b.id(),
		Begin: m.Start,
		End:   m.End + 1,
		Label: label,
		Kind:  kind,
	}, nil
}

// FileName returns the file name a snapshot is stored under. It encodes both
// the document id and the event type so a document contributing to several
// event types never collides with itself.
func FileName(docID, typeKey string) string {
	name := docID + "-" + typeKey + ".json"
	if safe, err := validation.SanitizeFilename(name); err == nil {
		return safe
	}
	return name
}
