package project

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/FocuswithJustin/apfingest/core/cas"
	"github.com/FocuswithJustin/apfingest/core/errors"
)

func TestName(t *testing.T) {
	tests := []struct {
		prefix, event, user, want string
	}{
		{"ACE", "Movement.Transport", "alice", "ACE-Movement.Transport-alice"},
		{"", "Life.Die", "bob", "Life.Die-bob"},
		{"ACE", "None", "alice", "ACE-None-alice"},
	}
	for _, tt := range tests {
		if got := Name(tt.prefix, tt.event, tt.user); got != tt.want {
			t.Errorf("Name(%q, %q, %q) = %q, want %q", tt.prefix, tt.event, tt.user, got, tt.want)
		}
	}
}

func TestDefaultTemplate(t *testing.T) {
	tmpl := DefaultTemplate()
	if _, ok := tmpl["layers"].([]any); !ok {
		t.Fatal("Expected layers list in default template")
	}
	if docs, ok := tmpl["source_documents"].([]any); !ok || len(docs) != 0 {
		t.Errorf("Expected empty source_documents, got %v", tmpl["source_documents"])
	}
}

func TestTemplateClone(t *testing.T) {
	tmpl := DefaultTemplate()
	clone := tmpl.Clone()
	clone["name"] = "changed"
	clone["layers"].([]any)[0].(map[string]any)["project_name"] = "changed"

	if tmpl["name"] == "changed" {
		t.Error("Clone shares top-level map")
	}
	if tmpl["layers"].([]any)[0].(map[string]any)["project_name"] == "changed" {
		t.Error("Clone shares nested layer maps")
	}
}

func TestLoadTemplate(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.json")
	os.WriteFile(good, []byte(`{"name":"x","layers":[]}`), 0644)
	tmpl, err := LoadTemplate(good)
	if err != nil {
		t.Fatalf("LoadTemplate failed: %v", err)
	}
	if _, ok := tmpl["project_permissions"].([]any); !ok {
		t.Error("Expected missing project_permissions to become an empty list")
	}

	tests := []struct {
		name    string
		content string
	}{
		{"not json", `{"name":`},
		{"not an object", `null`},
		{"bad permissions", `{"project_permissions":"all"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, "bad.json")
			os.WriteFile(path, []byte(tt.content), 0644)
			if _, err := LoadTemplate(path); !errors.Is(err, errors.ErrParse) {
				t.Errorf("Expected ErrParse, got %v", err)
			}
		})
	}

	if _, err := LoadTemplate(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestDefinition(t *testing.T) {
	tmpl := DefaultTemplate()
	sources := []Source{{Name: "DOC1-Movement.Transport.json"}, {Name: "DOC2-Movement.Transport.json"}}
	def := Definition(tmpl, "ACE-Movement.Transport-alice", "alice", sources)

	if def["name"] != "ACE-Movement.Transport-alice" {
		t.Errorf("Unexpected name %v", def["name"])
	}
	for _, l := range def["layers"].([]any) {
		layer := l.(map[string]any)
		if layer["project_name"] != "ACE-Movement.Transport-alice" {
			t.Errorf("Layer %v project_name not set", layer["name"])
		}
		for _, f := range layer["features"].([]any) {
			if f.(map[string]any)["project_name"] != "ACE-Movement.Transport-alice" {
				t.Errorf("Feature of %v project_name not set", layer["name"])
			}
		}
	}

	perms := def["project_permissions"].([]any)
	last := perms[len(perms)-1].(map[string]any)
	if last["level"] != "USER" || last["user"] != "alice" {
		t.Errorf("Expected USER permission for alice, got %v", last)
	}

	docs := def["source_documents"].([]any)
	if len(docs) != 2 {
		t.Fatalf("Expected 2 source documents, got %d", len(docs))
	}
	first := docs[0].(map[string]any)
	if first["name"] != "DOC1-Movement.Transport.json" || first["format"] != SourceFormat || first["state"] != "NEW" {
		t.Errorf("Unexpected source document %v", first)
	}

	if len(tmpl["source_documents"].([]any)) != 0 || tmpl["name"] == def["name"] {
		t.Error("Definition modified the template")
	}
}

func TestDefinition_LoadedTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "project.json")
	content := `{"name":"x","project_name":"project_name","layers":[{"project_name":"project_name","features":[{"project_name":"project_name","tags":[{"project_name":"project_name"}]}]}]}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	tmpl, err := LoadTemplate(path)
	if err != nil {
		t.Fatalf("LoadTemplate failed: %v", err)
	}

	def := Definition(tmpl, "ACE-Life.Die-bob", "bob", nil)
	data, err := json.Marshal(def)
	if err != nil {
		t.Fatal(err)
	}
	if n := bytes.Count(data, []byte(`"project_name":"ACE-Life.Die-bob"`)); n != 4 {
		t.Errorf("Expected 4 rewritten project_name fields, got %d in %s", n, data)
	}
	if bytes.Contains(data, []byte(`"project_name":"project_name"`)) {
		t.Errorf("Placeholder left in %s", data)
	}
}

func readZip(t *testing.T, path string) map[string][]byte {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read zip: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("invalid zip: %v", err)
	}
	files := make(map[string][]byte)
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatal(err)
		}
		var buf bytes.Buffer
		buf.ReadFrom(rc)
		rc.Close()
		files[f.Name] = buf.Bytes()
	}
	return files
}

func TestAssemble(t *testing.T) {
	out := t.TempDir()
	sources := []Source{
		{Name: "DOC1-Movement.Transport.json", Data: []byte(`{"doc":1}`)},
		{Name: "DOC2-Movement.Transport.json", Data: []byte(`{"doc":2}`)},
	}

	b, err := Assemble(Options{Prefix: "ACE", EventType: "Movement.Transport", User: "alice", Sources: sources, OutputDir: out})
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if b.Name != "ACE-Movement.Transport-alice" || b.Path != filepath.Join(out, "ACE-Movement.Transport-alice.zip") {
		t.Errorf("Unexpected bundle %+v", b)
	}

	files := readZip(t, b.Path)
	var names []string
	for n := range files {
		names = append(names, n)
	}
	sort.Strings(names)
	want := []string{
		"annotation/DOC1-Movement.Transport.json/alice.json",
		"annotation/DOC2-Movement.Transport.json/alice.json",
		"exportedprojectACE-Movement.Transport-alice.json",
		"source/DOC1-Movement.Transport.json",
		"source/DOC2-Movement.Transport.json",
	}
	if len(names) != len(want) {
		t.Fatalf("Expected entries %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Entry %d: expected %s, got %s", i, want[i], names[i])
		}
	}
	if string(files["source/DOC2-Movement.Transport.json"]) != `{"doc":2}` {
		t.Errorf("Unexpected source content %q", files["source/DOC2-Movement.Transport.json"])
	}

	var def map[string]any
	if err := json.Unmarshal(files["exportedprojectACE-Movement.Transport-alice.json"], &def); err != nil {
		t.Fatalf("invalid project json: %v", err)
	}
	if def["name"] != "ACE-Movement.Transport-alice" {
		t.Errorf("Unexpected project name %v", def["name"])
	}
	if bytes.Contains(files["exportedprojectACE-Movement.Transport-alice.json"], []byte(`"project_name": "project_name"`)) {
		t.Error("Exported project still carries the project_name placeholder")
	}

	data, _ := os.ReadFile(b.Path)
	if sum := cas.Sum(data); b.Manifest.SHA256 != sum.SHA256 || b.Manifest.BLAKE3 != sum.BLAKE3 {
		t.Error("Manifest digests do not match the zip")
	}
	if len(b.Manifest.Documents) != 2 || b.Manifest.Documents[0].SHA256 != cas.Sum([]byte(`{"doc":1}`)).SHA256 {
		t.Errorf("Unexpected manifest documents %+v", b.Manifest.Documents)
	}
	if b.Manifest.Documents[1].Size != len(`{"doc":2}`) {
		t.Errorf("Unexpected size %d", b.Manifest.Documents[1].Size)
	}
}

func TestAssemble_Deterministic(t *testing.T) {
	sources := []Source{{Name: "D-Life.Die.json", Data: []byte("{}")}}
	a, err := Assemble(Options{EventType: "Life.Die", User: "bob", Sources: sources, OutputDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	b, err := Assemble(Options{EventType: "Life.Die", User: "bob", Sources: sources, OutputDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	if a.Manifest.SHA256 != b.Manifest.SHA256 {
		t.Error("Expected identical bundles for identical input")
	}
}

func TestAssemble_EmptyControlProject(t *testing.T) {
	b, err := Assemble(Options{Prefix: "ACE", EventType: "None", User: "alice", OutputDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	files := readZip(t, b.Path)
	if len(files) != 1 {
		t.Errorf("Expected only the project file, got %d entries", len(files))
	}
	var def map[string]any
	json.Unmarshal(files["exportedprojectACE-None-alice.json"], &def)
	if docs, ok := def["source_documents"].([]any); !ok || len(docs) != 0 {
		t.Errorf("Expected empty source_documents, got %v", def["source_documents"])
	}
	if len(b.Manifest.Documents) != 0 {
		t.Errorf("Expected no manifest documents, got %d", len(b.Manifest.Documents))
	}
}

func TestAssemble_Validation(t *testing.T) {
	out := t.TempDir()
	tests := []struct {
		name string
		opts Options
	}{
		{"no event type", Options{User: "alice", OutputDir: out}},
		{"bad user", Options{EventType: "Life.Die", User: "../alice", OutputDir: out}},
		{"empty user", Options{EventType: "Life.Die", OutputDir: out}},
		{"bad event type", Options{EventType: "a/b", User: "alice", OutputDir: out}},
		{"bad source", Options{EventType: "Life.Die", User: "alice", OutputDir: out, Sources: []Source{{Name: "../x.json"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Assemble(tt.opts); !errors.Is(err, errors.ErrInvalidInput) {
				t.Errorf("Expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestWriteManifests(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")
	ms := []Manifest{{Project: "b"}, {Project: "a"}}
	if err := WriteManifests(path, ms); err != nil {
		t.Fatalf("WriteManifests failed: %v", err)
	}
	data, _ := os.ReadFile(path)
	got, err := ParseManifests(data)
	if err != nil {
		t.Fatalf("ParseManifests failed: %v", err)
	}
	if len(got) != 2 || got[0].Project != "a" {
		t.Errorf("Expected sorted manifests, got %+v", got)
	}
	if ms[0].Project != "b" {
		t.Error("WriteManifests reordered the caller's slice")
	}

	if err := WriteManifests(path, nil); err != nil {
		t.Fatal(err)
	}
	data, _ = os.ReadFile(path)
	if string(bytes.TrimSpace(data)) != "[]" {
		t.Errorf("Expected empty list, got %s", data)
	}
}

func TestParseManifests_Invalid(t *testing.T) {
	if _, err := ParseManifests([]byte(`{"project":"a"}`)); !errors.Is(err, errors.ErrParse) {
		t.Errorf("Expected ErrParse, got %v", err)
	}
}

func TestVerify(t *testing.T) {
	b, err := Assemble(Options{Prefix: "ACE", EventType: "Life.Die", User: "alice", OutputDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(b.Path)
	if err != nil {
		t.Fatal(err)
	}
	manifests := []Manifest{b.Manifest}

	tests := []struct {
		name    string
		zip     string
		data    []byte
		corrupt bool
	}{
		{"matching", b.Manifest.Zip, data, false},
		{"altered", b.Manifest.Zip, append(append([]byte(nil), data...), 0), true},
		{"not listed", "other.zip", []byte("anything"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Verify(manifests, tt.zip, tt.data)
			if got := errors.Is(err, errors.ErrCorrupt); got != tt.corrupt {
				t.Errorf("Expected corrupt=%v, got %v", tt.corrupt, err)
			}
		})
	}
}
