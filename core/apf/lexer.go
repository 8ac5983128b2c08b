package apf

import (
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// streamLexer splits an annotation file into markup and character data.
// Order matters: comments and declarations must win over plain open tags.
var streamLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Comment", Pattern: `<!--[\s\S]*?-->`},
	{Name: "Decl", Pattern: `<[?!][^<>]*>`},
	{Name: "EndTag", Pattern: `</[^<>]*>`},
	{Name: "StartTag", Pattern: `<[^<>]*>`},
	// A '<' that never closes; kept so the lexer never fails mid-file.
	{Name: "Stray", Pattern: `<`},
	{Name: "CharData", Pattern: `[^<]+`},
})

// tagGrammar is the participle grammar for a single start or end tag.
// Examples: `<event ID="D-EV1" TYPE="Life" SUBTYPE="Die">`, `</event>`,
// `<event_argument REFID="D-E1" ROLE="Victim"/>`
//
//nolint:govet // participle grammar tags are not standard struct tags
type tagGrammar struct {
	Open  string      `parser:"@Open"`
	Name  string      `parser:"@Name"`
	Attrs []*attrPart `parser:"@@*"`
	Close string      `parser:"@Close"`
}

//nolint:govet // participle grammar tags are not standard struct tags
type attrPart struct {
	Key   string `parser:"@Name \"=\""`
	Value string `parser:"@String"`
}

var tagLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Open", Pattern: `</?`},
	{Name: "Close", Pattern: `/?>`},
	{Name: "Name", Pattern: `[A-Za-z_][A-Za-z0-9_.:-]*`},
	{Name: "Eq", Pattern: `=`},
	{Name: "String", Pattern: `"[^"]*"|'[^']*'`},
	{Name: "Whitespace", Pattern: `\s+`},
})

// tagParser is the participle parser for tags.
var tagParser = participle.MustBuild[tagGrammar](
	participle.Lexer(tagLexer),
	participle.Elide("Whitespace"),
)

// eventKind classifies a stream event.
type eventKind int

const (
	kindStart eventKind = iota
	kindEnd
	kindText
)

// event is one item of the tag stream.
type event struct {
	kind        eventKind
	name        string
	attrs       map[string]string
	selfClosing bool
	text        string
	// malformed is set when a start tag did not match tagGrammar.
	malformed error
}

// attr returns the named attribute, or "" when absent.
func (e event) attr(name string) string {
	return e.attrs[name]
}

// hasAttr reports whether the named attribute is present and not empty.
func (e event) hasAttr(name string) bool {
	return e.attrs[name] != ""
}

// tokenize turns annotation text into the tag stream the block reader walks.
// Comments, declarations and stray '<' characters are dropped.
func tokenize(text string) ([]event, error) {
	lex, err := streamLexer.LexString("", text)
	if err != nil {
		return nil, err
	}
	symbols := streamLexer.Symbols()

	var events []event
	for {
		tok, err := lex.Next()
		if err != nil {
			return nil, err
		}
		if tok.EOF() {
			break
		}
		switch tok.Type {
		case symbols["StartTag"]:
			events = append(events, parseStartTag(tok.Value))
		case symbols["EndTag"]:
			events = append(events, event{kind: kindEnd, name: endTagName(tok.Value)})
		case symbols["CharData"]:
			events = append(events, event{kind: kindText, text: tok.Value})
		}
	}
	return events, nil
}

// parseStartTag parses a start tag. A tag that does not match the grammar is
// still returned with its best-effort name so the reader can skip its block.
func parseStartTag(raw string) event {
	tag, err := tagParser.ParseString("", raw)
	if err != nil {
		return event{
			kind:      kindStart,
			name:      looseTagName(raw),
			attrs:     map[string]string{},
			malformed: fmt.Errorf("malformed tag %q: %w", raw, err),
		}
	}
	attrs := make(map[string]string, len(tag.Attrs))
	for _, a := range tag.Attrs {
		attrs[a.Key] = unquote(a.Value)
	}
	return event{
		kind:        kindStart,
		name:        tag.Name,
		attrs:       attrs,
		selfClosing: tag.Close == "/>",
	}
}

// endTagName returns the element name of an end tag such as "</event >".
func endTagName(raw string) string {
	name := strings.TrimPrefix(raw, "</")
	name = strings.TrimSuffix(name, ">")
	return strings.TrimSpace(name)
}

// looseTagName returns the first word of a tag that failed to parse.
func looseTagName(raw string) string {
	body := strings.TrimPrefix(raw, "<")
	body = strings.TrimSuffix(body, ">")
	body = strings.TrimSuffix(body, "/")
	if fields := strings.Fields(body); len(fields) > 0 {
		return fields[0]
	}
	return ""
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') {
		return s[1 : len(s)-1]
	}
	return s
}
