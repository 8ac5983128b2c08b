package main

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"unicode"

	"github.com/FocuswithJustin/apfingest/core/apf"
	"github.com/FocuswithJustin/apfingest/core/sgm"
	"github.com/FocuswithJustin/apfingest/core/xml"
	"github.com/FocuswithJustin/apfingest/internal/corpus"
	"github.com/FocuswithJustin/apfingest/internal/validation"
)

// StripCmd prints the stripped text mention offsets index into.
type StripCmd struct {
	Path    string `arg:"" help:"Source document (.sgm)" type:"existingfile"`
	Offsets bool   `help:"Prefix each line with the offset of its first character"`
}

func (c *StripCmd) Run() error {
	doc, err := sgm.Load(c.Path)
	if err != nil {
		return err
	}
	if !c.Offsets {
		fmt.Fprint(stdout, doc.Text)
		return nil
	}
	pos := 0
	for _, line := range strings.SplitAfter(doc.Text, "\n") {
		if line == "" {
			continue
		}
		fmt.Fprintf(stdout, "%6d  %s", pos, line)
		pos += len([]rune(line))
	}
	return nil
}

// ParseCmd prints parsed APF records.
type ParseCmd struct {
	Path string `arg:"" help:"Annotation file (.apf.xml)" type:"existingfile"`
	JSON bool   `help:"Print records as JSON"`
}

func (c *ParseCmd) Run() error {
	if err := setupLogging(); err != nil {
		return err
	}
	res, err := apf.ParseFile(c.Path)
	if err != nil {
		return err
	}
	if c.JSON {
		warnings := make([]string, len(res.Warnings))
		for i, w := range res.Warnings {
			warnings[i] = w.Error()
		}
		return printJSON(struct {
			*apf.Result
			Warnings []string `json:"warnings"`
		}{res, warnings})
	}

	for _, ent := range res.Entities {
		fmt.Fprintf(stdout, "entity %s %s (%d mentions)\n", ent.ID, ent.TypeKey(), len(ent.Mentions))
	}
	for _, ev := range res.Events {
		fmt.Fprintf(stdout, "event %s %s\n", ev.ID, ev.TypeKey())
		for _, m := range ev.Mentions {
			fmt.Fprintf(stdout, "  mention %s trigger [%d, %d] %q\n", m.ID, m.Trigger.Start, m.Trigger.End, m.TriggerText)
			for _, arg := range m.Arguments {
				fmt.Fprintf(stdout, "    %s [%d, %d] %q\n", arg.Role, arg.Span.Start, arg.Span.End, arg.Text)
			}
		}
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(stdout, "warning: %v\n", w)
	}
	return nil
}

// Severity of a check finding.
const (
	severityError   = "error"
	severityWarning = "warning"
)

// Finding is one problem reported by check.
type Finding struct {
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// CheckCmd lints a pair without building anything.
type CheckCmd struct {
	SGM  string `arg:"" help:"Source document (.sgm)" type:"existingfile"`
	APF  string `arg:"" help:"Annotation file (.apf.xml)" type:"existingfile"`
	JSON bool   `help:"Print findings as JSON"`
}

func (c *CheckCmd) Run() error {
	if err := setupLogging(); err != nil {
		return err
	}
	findings, err := checkPair(c.SGM, c.APF)
	if err != nil {
		return err
	}

	if c.JSON {
		if findings == nil {
			findings = []Finding{}
		}
		if err := printJSON(findings); err != nil {
			return err
		}
	} else {
		for _, f := range findings {
			fmt.Fprintf(stdout, "%s: %s\n", f.Severity, f.Message)
		}
		if len(findings) == 0 {
			fmt.Fprintln(stdout, "ok")
		}
	}

	errs := 0
	for _, f := range findings {
		if f.Severity == severityError {
			errs++
		}
	}
	if errs > 0 {
		return fmt.Errorf("%d errors in %s", errs, c.APF)
	}
	return nil
}

// checkPair returns the findings for a pair. An error is returned only when
// the pair cannot be read at all.
func checkPair(sgmPath, apfPath string) ([]Finding, error) {
	var findings []Finding
	add := func(sev, format string, args ...any) {
		findings = append(findings, Finding{Severity: sev, Message: fmt.Sprintf(format, args...)})
	}

	var tree *xml.Document
	for _, path := range []string{sgmPath, apfPath} {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if _, err := validation.ValidateFileType(bytes.NewReader(data), path); err != nil {
			add(severityError, "%v", err)
		}
		if strings.HasSuffix(path, apf.Extension) {
			if res := xml.Validate(data); !res.Valid {
				for _, e := range res.Errors {
					add(severityWarning, "%s:%d:%d: not well-formed XML: %s", path, e.Line, e.Column, e.Message)
				}
			} else if tree, err = xml.Parse(data); err != nil {
				add(severityWarning, "%s: %v", path, err)
			}
		}
	}

	pair := corpus.Pair{ID: sgm.IDFromPath(sgmPath), SGMPath: sgmPath, APFPath: apfPath}
	loaded, err := pair.Load()
	if err != nil {
		return nil, err
	}
	for _, w := range loaded.Result.Warnings {
		add(severityWarning, "%v", w)
	}
	for _, m := range loaded.Mismatches() {
		add(severityWarning, "%s", m)
	}

	doc := loaded.Doc
	span := func(what string, m apf.Mention) {
		if !doc.InRange(m.Start, m.End) {
			add(severityError, "%s [%d, %d] outside text of length %d", what, m.Start, m.End, doc.Len())
			return
		}
		if strings.IndexFunc(doc.Slice(m.Start, m.End+1), func(r rune) bool { return !unicode.IsSpace(r) }) < 0 {
			add(severityWarning, "%s [%d, %d] covers only whitespace", what, m.Start, m.End)
		}
	}
	for _, ev := range loaded.Result.Events {
		for _, m := range ev.Mentions {
			span("event mention "+m.ID+" trigger", m.Trigger)
			for _, arg := range m.Arguments {
				span("event mention "+m.ID+" argument "+arg.Role, arg.Span)
			}
		}
	}
	for _, ent := range loaded.Result.Entities {
		for _, m := range ent.Mentions {
			span("entity mention "+m.ID, m.Extent)
		}
	}

	if tree != nil {
		if err := crossCheck(tree, loaded, add); err != nil {
			return nil, err
		}
	}
	return findings, nil
}

// crossCheck compares the XML tree of a well-formed annotation file with the
// parsed records: every event_mention element must have been parsed, and the
// text of every charseq must match the source text it points at.
func crossCheck(tree *xml.Document, loaded *corpus.Loaded, add func(sev, format string, args ...any)) error {
	want, err := tree.Count("//event_mention")
	if err != nil {
		return err
	}
	parsed := 0
	for _, ev := range loaded.Result.Events {
		parsed += len(ev.Mentions)
	}
	if parsed != want {
		add(severityWarning, "%d event_mention elements but %d parsed", want, parsed)
	}

	seqs, err := tree.XPath("//charseq")
	if err != nil {
		return err
	}
	for _, seq := range seqs {
		start, err1 := strconv.Atoi(seq.Attr("START"))
		end, err2 := strconv.Atoi(seq.Attr("END"))
		if err1 != nil || err2 != nil || !loaded.Doc.InRange(start, end) {
			continue
		}
		got, src := strings.Fields(seq.Text()), strings.Fields(loaded.Doc.Slice(start, end+1))
		if strings.Join(got, " ") != strings.Join(src, " ") {
			add(severityWarning, "charseq [%d, %d] text %q does not match source %q", start, end, seq.Text(), loaded.Doc.Slice(start, end+1))
		}
	}
	return nil
}
