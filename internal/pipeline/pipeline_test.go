package pipeline

import (
	"archive/zip"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/FocuswithJustin/apfingest/core/cas"
	"github.com/FocuswithJustin/apfingest/core/errors"
	"github.com/FocuswithJustin/apfingest/core/events"
	"github.com/FocuswithJustin/apfingest/core/snapshot"
	"github.com/FocuswithJustin/apfingest/internal/archive"
	"github.com/FocuswithJustin/apfingest/internal/config"
	"github.com/FocuswithJustin/apfingest/internal/corpus"
)

// Stripped text: "\nPaul drove to Boston\n\n"; "Paul" is 1..4, "drove" 6..10,
// "Boston" 15..20.
const sourceSGM = "<DOC>\r\n<TEXT>Paul drove to Boston</TEXT>\r\n</DOC>\r\n"

type mention struct {
	typ, subtype string
	start, end   int
}

func annotationAPF(docID string, mentions ...mention) string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0"?>
<source_file URI="` + docID + `.sgm" SOURCE="newswire" TYPE="text">
<document DOCID="` + docID + `">
`)
	for i, m := range mentions {
		id := docID + "-EV" + string(rune('1'+i))
		sb.WriteString(`<event ID="` + id + `" TYPE="` + m.typ + `" SUBTYPE="` + m.subtype + `">
  <event_mention ID="` + id + `-1">
    <anchor><charseq START="` + strconv.Itoa(m.start) + `" END="` + strconv.Itoa(m.end) + `">x</charseq></anchor>
    <event_mention_argument REFID="` + docID + `-E1-1" ROLE="Artifact">
      <extent><charseq START="1" END="4">Paul</charseq></extent>
    </event_mention_argument>
  </event_mention>
</event>
`)
	}
	sb.WriteString("</document>\n</source_file>\n")
	return sb.String()
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

// writeCorpus creates:
//
//	A: Movement.Transport and Life.Die
//	B: Movement.Transport
//	C: Life.Die with an offset past the end of the text
//	D: source that is not valid UTF-8
//	E: source without an annotation file
func writeCorpus(t *testing.T, dir string) {
	t.Helper()
	writeFile(t, filepath.Join(dir, "A.sgm"), sourceSGM)
	writeFile(t, filepath.Join(dir, "A.apf.xml"), annotationAPF("A",
		mention{"Movement", "Transport", 6, 10},
		mention{"Life", "Die", 15, 20},
	))
	writeFile(t, filepath.Join(dir, "B.sgm"), sourceSGM)
	writeFile(t, filepath.Join(dir, "B.apf.xml"), annotationAPF("B", mention{"Movement", "Transport", 6, 10}))
	writeFile(t, filepath.Join(dir, "C.sgm"), sourceSGM)
	writeFile(t, filepath.Join(dir, "C.apf.xml"), annotationAPF("C", mention{"Life", "Die", 100, 105}))
	writeFile(t, filepath.Join(dir, "D.sgm"), "<DOC>\xff\xfe</DOC>")
	writeFile(t, filepath.Join(dir, "D.apf.xml"), annotationAPF("D"))
	writeFile(t, filepath.Join(dir, "E.sgm"), sourceSGM)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	src := filepath.Join(root, "corpus")
	writeCorpus(t, src)

	cfg := config.Default()
	cfg.CorpusPaths = []string{src}
	cfg.CacheDir = filepath.Join(root, "cache")
	cfg.OutputDir = filepath.Join(root, "out")
	cfg.IndexPath = filepath.Join(root, "cache", "index.db")
	cfg.Users = []string{"alice", "bob"}
	cfg.ProjectPrefix = "ACE"
	cfg.Workers = 2
	return cfg
}

func discover(t *testing.T, cfg *config.Config) []corpus.Pair {
	t.Helper()
	if _, err := corpus.Flatten(cfg.CorpusPaths, CorpusDir(cfg)); err != nil {
		t.Fatal(err)
	}
	pairs, err := corpus.Discover(CorpusDir(cfg))
	if err != nil {
		t.Fatal(err)
	}
	return pairs
}

func TestScan(t *testing.T) {
	cfg := testConfig(t)
	pairs := discover(t, cfg)
	if len(pairs) != 4 {
		t.Fatalf("Expected 4 pairs, got %d", len(pairs))
	}

	res, err := Scan(context.Background(), pairs, 3)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(res.Documents) != 3 {
		t.Errorf("Expected 3 documents, got %d", len(res.Documents))
	}
	if len(res.Failed) != 1 || res.Failed[0].DocID != "D" || !errors.Is(res.Failed[0], errors.ErrDecode) {
		t.Errorf("Expected decode failure for D, got %+v", res.Failed)
	}

	want := []string{"Movement.Transport", "Life.Die", events.None}
	keys := res.Index.Keys()
	if len(keys) != len(want) {
		t.Fatalf("Expected keys %v, got %v", want, keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("Key %d: expected %s, got %s", i, want[i], keys[i])
		}
	}
	if docs := res.Index.Docs("Life.Die"); len(docs) != 2 || docs[0] != "A" || docs[1] != "C" {
		t.Errorf("Unexpected Life.Die documents %v", docs)
	}
	if res.Events != 4 {
		t.Errorf("Expected 4 events, got %d", res.Events)
	}
}

func TestScan_WorkerCountIndependent(t *testing.T) {
	cfg := testConfig(t)
	pairs := discover(t, cfg)

	one, err := Scan(context.Background(), pairs, 1)
	if err != nil {
		t.Fatal(err)
	}
	many, err := Scan(context.Background(), pairs, 8)
	if err != nil {
		t.Fatal(err)
	}
	a, _ := json.Marshal(one.Index.Map())
	b, _ := json.Marshal(many.Index.Map())
	if string(a) != string(b) {
		t.Errorf("Index differs with worker count:\n%s\n%s", a, b)
	}
	for i := range one.Documents {
		if one.Documents[i].ID() != many.Documents[i].ID() {
			t.Errorf("Document order differs at %d", i)
		}
	}
}

func TestScan_Cancelled(t *testing.T) {
	cfg := testConfig(t)
	pairs := discover(t, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Scan(ctx, pairs, 2); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestBuildSnapshots(t *testing.T) {
	cfg := testConfig(t)
	scan, err := Scan(context.Background(), discover(t, cfg), 2)
	if err != nil {
		t.Fatal(err)
	}
	st, err := cas.NewStore(SnapshotDir(cfg))
	if err != nil {
		t.Fatal(err)
	}

	res, err := BuildSnapshots(context.Background(), scan, st, BuildOptions{Tokens: true})
	if !errors.Is(err, errors.ErrOffsetRange) {
		t.Errorf("Expected joined offset error, got %v", err)
	}
	if res == nil {
		t.Fatal("Expected a result despite document failures")
	}
	if res.Snapshots != 3 {
		t.Errorf("Expected 3 snapshots, got %d", res.Snapshots)
	}
	if len(res.Failed) != 1 || res.Failed[0].DocID != "C" || res.Failed[0].Stage != StageSnapshot {
		t.Errorf("Expected snapshot failure for C, got %+v", res.Failed)
	}
	if !res.Stored("A", "Life.Die") || res.Stored("C", "Life.Die") {
		t.Error("Unexpected stored set")
	}

	data, err := st.Get(snapshot.FileName("A", "Movement.Transport"))
	if err != nil {
		t.Fatalf("snapshot not stored: %v", err)
	}
	if !json.Valid(data) {
		t.Error("Stored snapshot is not JSON")
	}
	if st.Has(snapshot.FileName("C", "Life.Die")) {
		t.Error("Failed document left a snapshot behind")
	}
}

func TestBundle(t *testing.T) {
	cfg := testConfig(t)
	scan, err := Scan(context.Background(), discover(t, cfg), 2)
	if err != nil {
		t.Fatal(err)
	}
	st, _ := cas.NewStore(SnapshotDir(cfg))
	BuildSnapshots(context.Background(), scan, st, BuildOptions{})

	res, err := Bundle(context.Background(), scan.Index, st, BundleOptions{
		Prefix:     "ACE",
		Users:      []string{"alice", "bob"},
		EventTypes: []string{"ALL"},
		OutputDir:  cfg.OutputDir,
		Workers:    3,
	})
	if err != nil {
		t.Fatalf("Bundle failed: %v", err)
	}
	if len(res.Bundles) != 6 {
		t.Fatalf("Expected 6 bundles, got %d", len(res.Bundles))
	}
	if res.Bundles[0].Name != "ACE-Life.Die-alice" {
		t.Errorf("Expected bundles sorted by name, got %s first", res.Bundles[0].Name)
	}
	if res.Missing != 1 {
		t.Errorf("Expected 1 missing snapshot (C), got %d", res.Missing)
	}

	counts := map[string]int{}
	for _, b := range res.Bundles {
		counts[b.Name] = len(b.Manifest.Documents)
	}
	for name, want := range map[string]int{
		"ACE-Movement.Transport-alice": 2,
		"ACE-Life.Die-bob":             1,
		"ACE-None-alice":               0,
	} {
		if counts[name] != want {
			t.Errorf("%s: expected %d documents, got %d", name, want, counts[name])
		}
	}

	data, err := os.ReadFile(filepath.Join(cfg.OutputDir, ManifestFile))
	if err != nil {
		t.Fatalf("manifest not written: %v", err)
	}
	var ms []map[string]any
	if err := json.Unmarshal(data, &ms); err != nil || len(ms) != 6 {
		t.Errorf("Unexpected manifest: %v (%d entries)", err, len(ms))
	}
}

func TestBundle_UnknownSelector(t *testing.T) {
	st, _ := cas.NewStore(t.TempDir())
	res, err := Bundle(context.Background(), events.NewIndex(), st, BundleOptions{
		Users:      []string{"alice"},
		EventTypes: []string{"Conflict.Attack"},
		OutputDir:  t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Bundle failed: %v", err)
	}
	if len(res.Unknown) != 1 || res.Unknown[0] != "Conflict.Attack" {
		t.Errorf("Expected unknown selector reported, got %v", res.Unknown)
	}
	if len(res.Bundles) != 1 || len(res.Bundles[0].Manifest.Documents) != 0 {
		t.Errorf("Expected one empty project, got %+v", res.Bundles)
	}
}

func TestBundle_NoUsers(t *testing.T) {
	st, _ := cas.NewStore(t.TempDir())
	if _, err := Bundle(context.Background(), events.NewIndex(), st, BundleOptions{OutputDir: t.TempDir()}); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
}

func TestRun(t *testing.T) {
	cfg := testConfig(t)
	cfg.Archive = filepath.Join(cfg.OutputDir, "projects.tar.xz")

	rep, err := Run(context.Background(), cfg)
	if rep == nil {
		t.Fatalf("Run aborted: %v", err)
	}
	if err == nil {
		t.Error("Expected document failures in the returned error")
	}
	if rep.Documents != 3 || rep.Snapshots != 3 || rep.Projects != 6 {
		t.Errorf("Unexpected report %+v", rep)
	}
	if len(rep.Failed) != 2 {
		t.Errorf("Expected 2 failed documents, got %+v", rep.Failed)
	}
	if rep.RunID == "" {
		t.Error("Expected a run id")
	}

	names, err := archive.List(cfg.Archive)
	if err != nil {
		t.Fatalf("archive not readable: %v", err)
	}
	if len(names) != 7 {
		t.Errorf("Expected 6 bundles and the manifest in the archive, got %v", names)
	}

	idx, err := LoadIndex(context.Background(), cfg.IndexPath)
	if err != nil {
		t.Fatalf("LoadIndex failed: %v", err)
	}
	if docs := idx.Docs("Movement.Transport"); len(docs) != 2 {
		t.Errorf("Expected persisted index, got %v", docs)
	}

	if _, err := json.Marshal(rep); err != nil {
		t.Errorf("Report does not encode: %v", err)
	}
}

func zipEntries(t *testing.T, path string) map[string]bool {
	t.Helper()
	zr, err := zip.OpenReader(path)
	if err != nil {
		t.Fatalf("failed to open %s: %v", path, err)
	}
	defer zr.Close()
	entries := make(map[string]bool, len(zr.File))
	for _, f := range zr.File {
		entries[f.Name] = true
	}
	return entries
}

func TestRun_DroppedDocumentLeavesCache(t *testing.T) {
	cfg := testConfig(t)
	apfPath := filepath.Join(cfg.CorpusPaths[0], "C.apf.xml")
	writeFile(t, apfPath, annotationAPF("C", mention{"Life", "Die", 15, 20}))

	rep, _ := Run(context.Background(), cfg)
	if rep == nil || rep.Snapshots != 4 {
		t.Fatalf("Expected C built on the first run, got %+v", rep)
	}
	bundle := filepath.Join(cfg.OutputDir, "ACE-Life.Die-alice.zip")
	if !zipEntries(t, bundle)["source/C-Life.Die.json"] {
		t.Fatal("Expected C in the first bundle")
	}

	writeFile(t, apfPath, annotationAPF("C", mention{"Life", "Die", 100, 105}))
	rep, _ = Run(context.Background(), cfg)
	if rep == nil || rep.Snapshots != 3 {
		t.Fatalf("Expected C dropped on the second run, got %+v", rep)
	}
	entries := zipEntries(t, bundle)
	if entries["source/C-Life.Die.json"] || entries["annotation/C-Life.Die.json/alice.json"] {
		t.Error("Dropped document C is still bundled from the previous run")
	}
	if !entries["source/A-Life.Die.json"] {
		t.Error("Expected A to stay bundled")
	}

	st, _ := cas.NewStore(SnapshotDir(cfg))
	if st.Has(snapshot.FileName("C", "Life.Die")) {
		t.Error("Expected the cached snapshot of C to be pruned")
	}

	// A later bundle from the saved index does not pick C up either.
	idx, err := LoadIndex(context.Background(), cfg.IndexPath)
	if err != nil {
		t.Fatal(err)
	}
	res, err := BundleFromConfig(context.Background(), cfg, idx, []string{"carol"}, []string{"Life.Die"})
	if err != nil {
		t.Fatalf("BundleFromConfig failed: %v", err)
	}
	if res.Missing != 1 || len(res.Bundles[0].Manifest.Documents) != 1 {
		t.Errorf("Expected only A bundled and C missing, got missing=%d documents=%+v", res.Missing, res.Bundles[0].Manifest.Documents)
	}
}

func TestRun_RemovedDocument(t *testing.T) {
	cfg := testConfig(t)
	if rep, _ := Run(context.Background(), cfg); rep == nil {
		t.Fatal("first run aborted")
	}
	for _, name := range []string{"B.sgm", "B.apf.xml"} {
		if err := os.Remove(filepath.Join(cfg.CorpusPaths[0], name)); err != nil {
			t.Fatal(err)
		}
	}

	rep, _ := Run(context.Background(), cfg)
	if rep == nil {
		t.Fatal("second run aborted")
	}
	if rep.Documents != 2 {
		t.Errorf("Expected 2 documents after removing B, got %d", rep.Documents)
	}
	if zipEntries(t, filepath.Join(cfg.OutputDir, "ACE-Movement.Transport-bob.zip"))["source/B-Movement.Transport.json"] {
		t.Error("Removed document B is still bundled")
	}
}

func TestBundle_BuiltFilter(t *testing.T) {
	cfg := testConfig(t)
	scan, err := Scan(context.Background(), discover(t, cfg), 2)
	if err != nil {
		t.Fatal(err)
	}
	st, _ := cas.NewStore(SnapshotDir(cfg))
	built, _ := BuildSnapshots(context.Background(), scan, st, BuildOptions{})
	delete(built.Built, "B")

	res, err := Bundle(context.Background(), scan.Index, st, BundleOptions{
		Users:      []string{"alice"},
		EventTypes: []string{"Movement.Transport"},
		OutputDir:  cfg.OutputDir,
		Built:      built,
	})
	if err != nil {
		t.Fatalf("Bundle failed: %v", err)
	}
	if res.Missing != 1 || len(res.Bundles[0].Manifest.Documents) != 1 {
		t.Errorf("Expected B filtered out, got missing=%d documents=%+v", res.Missing, res.Bundles[0].Manifest.Documents)
	}
}

func TestBundleFromConfig_Overrides(t *testing.T) {
	cfg := testConfig(t)
	if _, err := ScanCorpus(context.Background(), cfg); err != nil {
		t.Fatal(err)
	}
	idx, err := LoadIndex(context.Background(), cfg.IndexPath)
	if err != nil {
		t.Fatal(err)
	}
	res, err := BundleFromConfig(context.Background(), cfg, idx, []string{"carol"}, []string{"Movement.Transport"})
	if err != nil {
		t.Fatalf("BundleFromConfig failed: %v", err)
	}
	if len(res.Bundles) != 1 || res.Bundles[0].Name != "ACE-Movement.Transport-carol" {
		t.Errorf("Unexpected bundles %+v", res.Bundles)
	}
	// No snapshots were built, so both documents are missing.
	if res.Missing != 2 {
		t.Errorf("Expected 2 missing snapshots, got %d", res.Missing)
	}
}

func TestMap(t *testing.T) {
	jobs := []int{5, 3, 8, 1, 9, 2}
	got := Map(context.Background(), 3, jobs, func(_ context.Context, n int) int { return n * n })
	for i, n := range jobs {
		if got[i] != n*n {
			t.Errorf("Result %d: expected %d, got %d", i, n*n, got[i])
		}
	}
	if out := Map(context.Background(), 0, []int(nil), func(context.Context, int) int { return 0 }); len(out) != 0 {
		t.Errorf("Expected no results, got %v", out)
	}
}

func TestPool(t *testing.T) {
	pool := NewPool[string, int](0, 4)
	pool.Start(context.Background(), func(_ context.Context, s string) int { return len(s) })
	for _, s := range []string{"a", "bb", "ccc", "dddd"} {
		pool.Submit(s)
	}
	pool.Close()

	sum := 0
	for n := range pool.Results() {
		sum += n
	}
	if sum != 10 {
		t.Errorf("Expected 10, got %d", sum)
	}
}
