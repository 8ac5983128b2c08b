package corpus

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/FocuswithJustin/apfingest/core/errors"
)

const sourceSGM = "<DOC>\r\n<TEXT>Paul drove to Boston</TEXT>\r\n</DOC>\r\n"

func annotationAPF(docID, eventDoc string) string {
	return `<?xml version="1.0"?>
<source_file URI="` + docID + `.sgm" SOURCE="newswire" TYPE="text">
<document DOCID="` + docID + `">
<event ID="` + eventDoc + `-EV1" TYPE="Movement" SUBTYPE="Transport">
  <event_mention ID="` + eventDoc + `-EV1-1">
    <anchor><charseq START="6" END="10">drove</charseq></anchor>
  </event_mention>
</event>
</document>
</source_file>
`
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func TestIsCorpusFile(t *testing.T) {
	tests := map[string]bool{
		"DOC1.sgm":     true,
		"DOC1.apf.xml": true,
		"DOC1.ag.xml":  false,
		"DOC1.tab":     false,
		"README":       false,
	}
	for name, want := range tests {
		if got := IsCorpusFile(name); got != want {
			t.Errorf("IsCorpusFile(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestFlatten(t *testing.T) {
	root := t.TempDir()
	bc := filepath.Join(root, "bc", "adj")
	nw := filepath.Join(root, "nw", "adj")
	writeFile(t, filepath.Join(bc, "A.sgm"), sourceSGM)
	writeFile(t, filepath.Join(bc, "A.apf.xml"), annotationAPF("A", "A"))
	writeFile(t, filepath.Join(bc, "A.ag.xml"), "ignored")
	writeFile(t, filepath.Join(bc, "nested", "C.sgm"), "ignored")
	writeFile(t, filepath.Join(nw, "B.sgm"), sourceSGM)
	writeFile(t, filepath.Join(nw, "B.apf.xml"), annotationAPF("B", "B"))

	dest := filepath.Join(root, "flat")
	n, err := Flatten([]string{bc, nw}, dest)
	if err != nil {
		t.Fatalf("Flatten failed: %v", err)
	}
	if n != 4 {
		t.Errorf("Expected 4 files copied, got %d", n)
	}

	entries, err := os.ReadDir(dest)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	if got := strings.Join(names, ","); got != "A.apf.xml,A.sgm,B.apf.xml,B.sgm" {
		t.Errorf("Unexpected flattened files: %s", got)
	}
}

func TestFlatten_RemovesStale(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "bc")
	writeFile(t, filepath.Join(src, "A.sgm"), sourceSGM)
	writeFile(t, filepath.Join(src, "A.apf.xml"), annotationAPF("A", "A"))
	writeFile(t, filepath.Join(src, "B.sgm"), sourceSGM)
	writeFile(t, filepath.Join(src, "B.apf.xml"), annotationAPF("B", "B"))

	dest := filepath.Join(root, "flat")
	if _, err := Flatten([]string{src}, dest); err != nil {
		t.Fatalf("Flatten failed: %v", err)
	}
	writeFile(t, filepath.Join(dest, "notes.txt"), "kept")
	for _, name := range []string{"B.sgm", "B.apf.xml"} {
		if err := os.Remove(filepath.Join(src, name)); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := Flatten([]string{src}, dest); err != nil {
		t.Fatalf("second Flatten failed: %v", err)
	}

	pairs, err := Discover(dest)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if len(pairs) != 1 || pairs[0].ID != "A" {
		t.Errorf("Expected only pair A after removal, got %v", pairs)
	}
	if _, err := os.Stat(filepath.Join(dest, "notes.txt")); err != nil {
		t.Errorf("Expected non-corpus file to be kept: %v", err)
	}
}

func TestFlatten_MissingDir(t *testing.T) {
	root := t.TempDir()
	_, err := Flatten([]string{filepath.Join(root, "missing")}, filepath.Join(root, "flat"))
	var ioErr *errors.IOError
	if !errors.As(err, &ioErr) {
		t.Errorf("Expected IOError, got %v", err)
	}
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "B.sgm"), sourceSGM)
	writeFile(t, filepath.Join(dir, "B.apf.xml"), annotationAPF("B", "B"))
	writeFile(t, filepath.Join(dir, "A.sgm"), sourceSGM)
	writeFile(t, filepath.Join(dir, "A.apf.xml"), annotationAPF("A", "A"))
	writeFile(t, filepath.Join(dir, "Orphan.sgm"), sourceSGM)
	writeFile(t, filepath.Join(dir, "Lonely.apf.xml"), annotationAPF("Lonely", "Lonely"))

	pairs, err := Discover(dir)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if len(pairs) != 2 {
		t.Fatalf("Expected 2 pairs, got %d: %+v", len(pairs), pairs)
	}
	if pairs[0].ID != "A" || pairs[1].ID != "B" {
		t.Errorf("Expected pairs sorted by id, got %s, %s", pairs[0].ID, pairs[1].ID)
	}
	if pairs[0].APFPath != filepath.Join(dir, "A.apf.xml") {
		t.Errorf("Unexpected apf path %s", pairs[0].APFPath)
	}

	if _, err := Discover(filepath.Join(dir, "missing")); err == nil {
		t.Error("Expected error for missing directory")
	}
}

func TestPairLoad(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "A.sgm"), sourceSGM)
	writeFile(t, filepath.Join(dir, "A.apf.xml"), annotationAPF("A", "A"))

	pairs, err := Discover(dir)
	if err != nil || len(pairs) != 1 {
		t.Fatalf("Discover: %v %v", pairs, err)
	}
	loaded, err := pairs[0].Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.Doc.ID != "A" {
		t.Errorf("Expected doc id A, got %s", loaded.Doc.ID)
	}
	if loaded.Doc.Text != "\nPaul drove to Boston\n\n" {
		t.Errorf("Unexpected stripped text %q", loaded.Doc.Text)
	}
	if got := loaded.Doc.Slice(6, 11); got != "drove" {
		t.Errorf("Expected trigger text drove, got %q", got)
	}
	if len(loaded.Result.Events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(loaded.Result.Events))
	}
	if loaded.Header == nil || loaded.Header.DocID != "A" {
		t.Errorf("Expected header DOCID A, got %+v", loaded.Header)
	}
	if m := loaded.Mismatches(); len(m) != 0 {
		t.Errorf("Expected no mismatches, got %v", m)
	}
}

func TestPairLoad_Mismatches(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "A.sgm"), sourceSGM)
	writeFile(t, filepath.Join(dir, "A.apf.xml"), annotationAPF("X", "Y"))

	loaded, err := Pair{ID: "A", SGMPath: filepath.Join(dir, "A.sgm"), APFPath: filepath.Join(dir, "A.apf.xml")}.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	m := loaded.Mismatches()
	if len(m) != 2 {
		t.Fatalf("Expected 2 mismatches, got %v", m)
	}
	if !strings.Contains(m[0], "DOCID") || !strings.Contains(m[1], "Y-EV1") {
		t.Errorf("Unexpected mismatches %v", m)
	}
}

func TestPairLoad_Errors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "A.sgm"), sourceSGM)
	writeFile(t, filepath.Join(dir, "Bad.sgm"), "caf\xe9")
	writeFile(t, filepath.Join(dir, "Bad.apf.xml"), annotationAPF("Bad", "Bad"))
	writeFile(t, filepath.Join(dir, "BadAPF.sgm"), sourceSGM)
	writeFile(t, filepath.Join(dir, "BadAPF.apf.xml"), "<event \xff>")

	tests := []struct {
		name string
		pair Pair
		want error
	}{
		{"missing annotations", Pair{ID: "A", SGMPath: filepath.Join(dir, "A.sgm"), APFPath: filepath.Join(dir, "A.apf.xml")}, os.ErrNotExist},
		{"source not utf-8", Pair{ID: "Bad", SGMPath: filepath.Join(dir, "Bad.sgm"), APFPath: filepath.Join(dir, "Bad.apf.xml")}, errors.ErrDecode},
		{"annotations not utf-8", Pair{ID: "BadAPF", SGMPath: filepath.Join(dir, "BadAPF.sgm"), APFPath: filepath.Join(dir, "BadAPF.apf.xml")}, errors.ErrDecode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.pair.Load()
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestPairLoad_BadHeader(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "A.sgm"), sourceSGM)
	writeFile(t, filepath.Join(dir, "A.apf.xml"), `<event ID="A-EV1" TYPE="Life" SUBTYPE="Die"><event_mention ID="A-EV1-1"><anchor><charseq START="1" END="2">x</charseq></anchor></event_mention></event>`+"\n<unclosed>")

	loaded, err := Pair{ID: "A", SGMPath: filepath.Join(dir, "A.sgm"), APFPath: filepath.Join(dir, "A.apf.xml")}.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Header != nil {
		t.Errorf("Expected nil header for malformed XML, got %+v", loaded.Header)
	}
	if len(loaded.Result.Events) != 1 {
		t.Errorf("Expected events to survive a bad header, got %d", len(loaded.Result.Events))
	}
}
