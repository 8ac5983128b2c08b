package apf

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/FocuswithJustin/apfingest/core/errors"
	"github.com/FocuswithJustin/apfingest/core/sgm"
)

// Parse extracts every entity and event record from APF text in one pass.
// Malformed blocks are skipped and reported in Result.Warnings.
func Parse(apfText string) *Result {
	r := newReader(apfText)
	r.document()
	return &Result{
		Entities: r.entities,
		Events:   r.events,
		Warnings: r.warnings,
	}
}

// ParseEntities returns the entity records of APF text and the warnings of
// entity blocks and of the file as a whole.
func ParseEntities(apfText string) ([]EntityRecord, []*errors.ParseError) {
	res := Parse(apfText)
	return res.Entities, warningsOf(res.Warnings, "entity")
}

// ParseEvents returns the event records of APF text and the warnings of
// event blocks and of the file as a whole.
func ParseEvents(apfText string) ([]EventRecord, []*errors.ParseError) {
	res := Parse(apfText)
	return res.Events, warningsOf(res.Warnings, "event")
}

// warningsOf keeps the warnings raised in blocks of kind and those not tied
// to a block.
func warningsOf(warnings []*errors.ParseError, kind string) []*errors.ParseError {
	var out []*errors.ParseError
	for _, w := range warnings {
		if w.Block == "" || w.Block == kind || strings.HasPrefix(w.Block, kind+" ") {
			out = append(out, w)
		}
	}
	return out
}

// ParseFile reads and parses an APF file. Only I/O and decode failures are
// returned as errors; warnings carry the file path.
func ParseFile(path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewIO("read", path, err)
	}
	text, err := sgm.Decode(data, path)
	if err != nil {
		return nil, err
	}
	res := Parse(text)
	for _, w := range res.Warnings {
		w.Path = path
	}
	return res, nil
}

// reader is a recursive-descent walker over the tag stream.
type reader struct {
	stream   []event
	pos      int
	open     []string
	entities []EntityRecord
	events   []EventRecord
	warnings []*errors.ParseError
}

func newReader(text string) *reader {
	text = strings.NewReplacer("\r", "", "\n", "").Replace(text)
	r := &reader{}
	stream, err := tokenize(text)
	if err != nil {
		r.warn("", "tokenize: %v", err)
		return r
	}
	r.stream = stream
	return r
}

func (r *reader) warn(block, format string, args ...any) {
	r.warnings = append(r.warnings, errors.NewParse(Format, block, fmt.Sprintf(format, args...)))
}

// document scans the top level. Wrapper elements such as source_file and
// document are transparent; entity and event blocks are read wherever they
// appear outside another block.
func (r *reader) document() {
	for r.pos < len(r.stream) {
		ev := r.stream[r.pos]
		r.pos++
		if ev.kind != kindStart {
			continue
		}
		switch ev.name {
		case "entity":
			r.entity(ev)
		case "event":
			r.event(ev)
		}
	}
}

// walk consumes the content of the element name whose start tag was just
// read, up to and including its end tag. Child start tags go to onStart,
// which must consume the child; a nil onStart skips them. It returns false
// when the element is not closed, either at EOF or because an end tag for
// an enclosing element or the start of the next block arrived first. That
// tag is left in the stream.
func (r *reader) walk(name string, onStart func(event), onText func(string)) bool {
	r.open = append(r.open, name)
	defer func() { r.open = r.open[:len(r.open)-1] }()

	for r.pos < len(r.stream) {
		ev := r.stream[r.pos]
		r.pos++
		switch ev.kind {
		case kindText:
			if onText != nil {
				onText(ev.text)
			}
		case kindStart:
			if isBlock(ev.name) {
				r.pos--
				return false
			}
			if onStart != nil {
				onStart(ev)
			} else {
				r.skip(ev)
			}
		case kindEnd:
			if ev.name == name {
				return true
			}
			if r.enclosing(ev.name) {
				r.pos--
				return false
			}
		}
	}
	return false
}

// skip consumes an element the grammar does not care about.
func (r *reader) skip(start event) bool {
	if start.selfClosing {
		return true
	}
	return r.walk(start.name, nil, nil)
}

// isBlock reports whether name starts a top-level record. Records never nest.
func isBlock(name string) bool {
	return name == "entity" || name == "event"
}

func (r *reader) enclosing(name string) bool {
	for i := len(r.open) - 2; i >= 0; i-- {
		if r.open[i] == name {
			return true
		}
	}
	return false
}

// header checks that a block start tag carries non-empty values for attrs.
func header(start event, attrs ...string) error {
	if start.malformed != nil {
		return start.malformed
	}
	var missing []string
	for _, a := range attrs {
		if !start.hasAttr(a) {
			missing = append(missing, a)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing %s attribute", strings.Join(missing, ", "))
	}
	return nil
}

func blockName(start event) string {
	if id := start.attr("ID"); id != "" {
		return start.name + " " + id
	}
	return start.name
}

func (r *reader) entity(start event) {
	block := blockName(start)
	if err := header(start, "ID", "TYPE", "SUBTYPE"); err != nil {
		r.warn(block, "%v", err)
		r.skip(start)
		return
	}
	rec := EntityRecord{
		ID:      start.attr("ID"),
		Type:    start.attr("TYPE"),
		Subtype: start.attr("SUBTYPE"),
		Class:   start.attr("CLASS"),
	}
	if start.selfClosing {
		r.entities = append(r.entities, rec)
		return
	}

	closed := r.walk("entity", func(ev event) {
		if ev.name != "entity_mention" {
			r.skip(ev)
			return
		}
		if m, ok := r.entityMention(ev, block); ok {
			rec.Mentions = append(rec.Mentions, m)
		}
	}, nil)
	if !closed {
		r.warn(block, "unterminated block")
		return
	}
	r.entities = append(r.entities, rec)
}

func (r *reader) entityMention(start event, block string) (EntityMention, bool) {
	m := EntityMention{ID: start.attr("ID")}
	if start.malformed != nil {
		r.warn(block, "%v", start.malformed)
		r.skip(start)
		return m, false
	}
	if start.selfClosing {
		r.warn(block, "entity_mention %s has no extent", m.ID)
		return m, false
	}

	found := false
	var spanErr error
	r.walk("entity_mention", func(ev event) {
		if ev.name != "extent" || found {
			r.skip(ev)
			return
		}
		m.Extent, m.Text, found, spanErr = r.span(ev)
	}, nil)

	switch {
	case spanErr != nil:
		r.warn(block, "entity_mention %s: %v", m.ID, spanErr)
		return m, false
	case !found:
		r.warn(block, "entity_mention %s has no extent", m.ID)
		return m, false
	}
	return m, true
}

func (r *reader) event(start event) {
	block := blockName(start)
	if err := header(start, "ID", "TYPE", "SUBTYPE"); err != nil {
		r.warn(block, "%v", err)
		r.skip(start)
		return
	}
	rec := EventRecord{
		ID:      start.attr("ID"),
		DocID:   DocIDFromEventID(start.attr("ID")),
		Type:    start.attr("TYPE"),
		Subtype: start.attr("SUBTYPE"),
	}
	if start.selfClosing {
		r.events = append(r.events, rec)
		return
	}

	closed := r.walk("event", func(ev event) {
		if ev.name != "event_mention" {
			r.skip(ev)
			return
		}
		if m, ok := r.eventMention(ev, block); ok {
			rec.Mentions = append(rec.Mentions, m)
		}
	}, nil)
	if !closed {
		r.warn(block, "unterminated block")
		return
	}
	r.events = append(r.events, rec)
}

func (r *reader) eventMention(start event, block string) (EventMention, bool) {
	m := EventMention{ID: start.attr("ID")}
	if start.malformed != nil {
		r.warn(block, "%v", start.malformed)
		r.skip(start)
		return m, false
	}
	if start.selfClosing {
		r.warn(block, "event_mention %s has no anchor", m.ID)
		return m, false
	}

	found := false
	var anchorErr error
	r.walk("event_mention", func(ev event) {
		switch ev.name {
		case "anchor":
			if found {
				r.skip(ev)
				return
			}
			m.Trigger, m.TriggerText, found, anchorErr = r.span(ev)
		case "event_mention_argument":
			if arg, ok := r.argument(ev, block, m.ID); ok {
				m.Arguments = append(m.Arguments, arg)
			}
		default:
			r.skip(ev)
		}
	}, nil)

	switch {
	case anchorErr != nil:
		r.warn(block, "event_mention %s anchor: %v", m.ID, anchorErr)
		return m, false
	case !found:
		r.warn(block, "event_mention %s has no anchor", m.ID)
		return m, false
	}
	return m, true
}

func (r *reader) argument(start event, block, mentionID string) (Argument, bool) {
	if err := header(start, "ROLE"); err != nil {
		r.warn(block, "event_mention %s argument: %v", mentionID, err)
		r.skip(start)
		return Argument{}, false
	}
	arg := Argument{Role: start.attr("ROLE")}
	if start.selfClosing {
		r.warn(block, "event_mention %s argument %s has no extent", mentionID, arg.Role)
		return arg, false
	}

	found := false
	var spanErr error
	r.walk("event_mention_argument", func(ev event) {
		if ev.name != "extent" || found {
			r.skip(ev)
			return
		}
		arg.Span, arg.Text, found, spanErr = r.span(ev)
	}, nil)

	switch {
	case spanErr != nil:
		r.warn(block, "event_mention %s argument %s: %v", mentionID, arg.Role, spanErr)
		return arg, false
	case !found:
		r.warn(block, "event_mention %s argument %s has no extent", mentionID, arg.Role)
		return arg, false
	}
	return arg, true
}

// span reads the first charseq inside a wrapper such as extent or anchor.
func (r *reader) span(start event) (m Mention, text string, found bool, err error) {
	if start.selfClosing {
		return m, "", false, nil
	}
	r.walk(start.name, func(ev event) {
		if ev.name != "charseq" || found {
			r.skip(ev)
			return
		}
		found = true
		m, err = charseq(ev)
		if ev.selfClosing {
			return
		}
		var sb strings.Builder
		r.walk("charseq", nil, func(s string) { sb.WriteString(s) })
		text = sb.String()
	}, nil)
	return m, text, found, err
}

func charseq(ev event) (Mention, error) {
	if ev.malformed != nil {
		return Mention{}, ev.malformed
	}
	start, err := offset(ev, "START")
	if err != nil {
		return Mention{}, err
	}
	end, err := offset(ev, "END")
	if err != nil {
		return Mention{}, err
	}
	if start > end {
		return Mention{}, fmt.Errorf("charseq START %d after END %d", start, end)
	}
	return Mention{Start: start, End: end}, nil
}

func offset(ev event, attr string) (int, error) {
	if !ev.hasAttr(attr) {
		return 0, fmt.Errorf("charseq missing %s", attr)
	}
	n, err := strconv.Atoi(strings.TrimSpace(ev.attr(attr)))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("charseq %s %q is not a character offset", attr, ev.attr(attr))
	}
	return n, nil
}
