// Package project assembles annotation project bundles: one ZIP per event
// type and annotator, holding the project definition, the source documents
// and the annotator's pre-annotated copy of each document.
package project

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"path/filepath"
	"sort"

	"github.com/FocuswithJustin/apfingest/core/cas"
	"github.com/FocuswithJustin/apfingest/core/errors"
	"github.com/FocuswithJustin/apfingest/internal/fileutil"
	"github.com/FocuswithJustin/apfingest/internal/validation"
)

// Source document format recorded in the project definition.
const SourceFormat = "jsoncas"

// configPrefix is required by the importer to recognise the project file.
const configPrefix = "exportedproject"

// Source is one serialized snapshot to include in a project.
type Source struct {
	Name string
	Data []byte
}

// Options describes one project bundle.
type Options struct {
	Template  Template // nil selects DefaultTemplate
	Prefix    string
	EventType string
	User      string
	Sources   []Source
	OutputDir string
}

// Entry is the digest of one file inside a bundle.
type Entry struct {
	Name   string `json:"name"`
	Size   int    `json:"size"`
	SHA256 string `json:"sha256"`
	BLAKE3 string `json:"blake3"`
}

// Manifest describes a written bundle.
type Manifest struct {
	Project   string  `json:"project"`
	User      string  `json:"user"`
	EventType string  `json:"event_type"`
	Zip       string  `json:"zip"`
	SHA256    string  `json:"sha256"`
	BLAKE3    string  `json:"blake3"`
	Documents []Entry `json:"documents"`
}

// Bundle is an assembled project.
type Bundle struct {
	Name     string
	Path     string
	Manifest Manifest
}

// Name returns the project name [<prefix>-]<eventType>-<user>.
func Name(prefix, eventType, user string) string {
	name := eventType + "-" + user
	if prefix != "" {
		name = prefix + "-" + name
	}
	return name
}

// Assemble builds the project definition for opts and writes the bundle to
// <OutputDir>/<name>.zip.
func Assemble(opts Options) (*Bundle, error) {
	if opts.EventType == "" {
		return nil, errors.NewValidation("event_type", "is required")
	}
	if err := validation.ValidateFilename(opts.User); err != nil {
		return nil, &errors.ValidationError{Field: "user", Value: opts.User, Message: err.Error()}
	}
	name := Name(opts.Prefix, opts.EventType, opts.User)
	if err := validation.ValidateFilename(name + ".zip"); err != nil {
		return nil, &errors.ValidationError{Field: "project", Value: name, Message: err.Error()}
	}
	for _, src := range opts.Sources {
		if err := validation.ValidateFilename(src.Name); err != nil {
			return nil, &errors.ValidationError{Field: "source", Value: src.Name, Message: err.Error()}
		}
	}

	tmpl := opts.Template
	if tmpl == nil {
		tmpl = DefaultTemplate()
	}
	def := Definition(tmpl, name, opts.User, opts.Sources)

	data, err := Zip(name, def, opts.User, opts.Sources)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(opts.OutputDir, name+".zip")
	if err := fileutil.WriteAtomic(path, data); err != nil {
		return nil, err
	}

	sum := cas.Sum(data)
	m := Manifest{
		Project:   name,
		User:      opts.User,
		EventType: opts.EventType,
		Zip:       filepath.Base(path),
		SHA256:    sum.SHA256,
		BLAKE3:    sum.BLAKE3,
		Documents: make([]Entry, 0, len(opts.Sources)),
	}
	for _, src := range opts.Sources {
		s := cas.Sum(src.Data)
		m.Documents = append(m.Documents, Entry{Name: src.Name, Size: len(src.Data), SHA256: s.SHA256, BLAKE3: s.BLAKE3})
	}
	return &Bundle{Name: name, Path: path, Manifest: m}, nil
}

// Definition returns a filled-in copy of tmpl: the project name set, every
// project_name field rewritten, the user granted annotator access and one
// source document entry per source.
func Definition(tmpl Template, name, user string, sources []Source) Template {
	def := tmpl.Clone()
	def["name"] = name
	setProjectName(def, name)

	perms, _ := def["project_permissions"].([]any)
	def["project_permissions"] = append(perms, map[string]any{
		"level": "USER",
		"user":  user,
	})

	docs, _ := def["source_documents"].([]any)
	for _, src := range sources {
		docs = append(docs, map[string]any{
			"name":              src.Name,
			"format":            SourceFormat,
			"state":             "NEW",
			"timestamp":         nil,
			"sentence_accessed": 0,
			"created":           nil,
			"updated":           nil,
		})
	}
	if docs == nil {
		docs = []any{}
	}
	def["source_documents"] = docs
	return def
}

// Zip writes the bundle layout:
//
//	exportedproject<name>.json
//	source/<file>
//	annotation/<file>/<user>.json
func Zip(name string, def Template, user string, sources []Source) ([]byte, error) {
	config, err := json.MarshalIndent(def, "", "    ")
	if err != nil {
		return nil, errors.Wrapf(err, "encode project %s", name)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	add := func(entry string, data []byte) error {
		w, err := zw.Create(entry)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	}

	if err := add(configPrefix+name+".json", config); err != nil {
		return nil, errors.Wrapf(err, "write project %s", name)
	}
	for _, src := range sources {
		if err := add("source/"+src.Name, src.Data); err != nil {
			return nil, errors.Wrapf(err, "write source %s", src.Name)
		}
		if err := add("annotation/"+src.Name+"/"+user+".json", src.Data); err != nil {
			return nil, errors.Wrapf(err, "write annotation %s", src.Name)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, errors.Wrapf(err, "close zip %s", name)
	}
	return buf.Bytes(), nil
}

// WriteManifests writes all bundle manifests, sorted by project name, as
// one JSON file.
func WriteManifests(path string, manifests []Manifest) error {
	sorted := append([]Manifest(nil), manifests...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Project < sorted[j].Project })
	if sorted == nil {
		sorted = []Manifest{}
	}
	data, err := json.MarshalIndent(sorted, "", "  ")
	if err != nil {
		return err
	}
	return fileutil.WriteAtomic(path, append(data, '\n'))
}

// ParseManifests decodes a manifest file written by WriteManifests.
func ParseManifests(data []byte) ([]Manifest, error) {
	var manifests []Manifest
	if err := json.Unmarshal(data, &manifests); err != nil {
		return nil, &errors.ParseError{Format: "manifest", Message: err.Error()}
	}
	return manifests, nil
}

// Verify checks data, the content of the zip named zipName, against its
// manifest. A zip no manifest lists is not checked.
func Verify(manifests []Manifest, zipName string, data []byte) error {
	for _, m := range manifests {
		if m.Zip != zipName {
			continue
		}
		if sum := cas.Sum(data); sum.SHA256 != m.SHA256 || sum.BLAKE3 != m.BLAKE3 {
			return &errors.CorruptError{Resource: "bundle", ID: zipName, Want: m.BLAKE3, Got: sum.BLAKE3}
		}
		return nil
	}
	return nil
}
