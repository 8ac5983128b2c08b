// Package pipeline drives the batch conversion of an ACE corpus into
// annotation project bundles: flatten, discover, scan, build snapshots,
// assemble projects and optionally archive them.
package pipeline

import (
	"context"
	"path/filepath"
	"time"

	"github.com/FocuswithJustin/apfingest/core/cas"
	"github.com/FocuswithJustin/apfingest/core/errors"
	"github.com/FocuswithJustin/apfingest/core/events"
	"github.com/FocuswithJustin/apfingest/core/snapshot"
	"github.com/FocuswithJustin/apfingest/internal/archive"
	"github.com/FocuswithJustin/apfingest/internal/config"
	"github.com/FocuswithJustin/apfingest/internal/corpus"
	"github.com/FocuswithJustin/apfingest/internal/logging"
	"github.com/FocuswithJustin/apfingest/internal/project"
	"github.com/FocuswithJustin/apfingest/internal/store"
)

// Archive entries are placed under this directory.
const archiveDir = "projects"

// Report summarises one run.
type Report struct {
	RunID     string    `json:"run_id"`
	Documents int       `json:"documents"`
	Events    int       `json:"events"`
	EventKeys int       `json:"event_types"`
	Snapshots int       `json:"snapshots"`
	Projects  int       `json:"projects"`
	Warnings  int       `json:"warnings"`
	Failed    []Failure `json:"failed"`
	Unknown   []string  `json:"unknown_event_types,omitempty"`
	Manifest  string    `json:"manifest,omitempty"`
	Archive   string    `json:"archive,omitempty"`
	Duration  string    `json:"duration"`
}

// CorpusDir is where the corpus is flattened to.
func CorpusDir(cfg *config.Config) string {
	return filepath.Join(cfg.CacheDir, "corpus")
}

// SnapshotDir holds the snapshot store.
func SnapshotDir(cfg *config.Config) string {
	return filepath.Join(cfg.CacheDir, "snapshots")
}

// ScanCorpus flattens the configured corpus, scans every pair and saves the
// index and document table to the index database.
func ScanCorpus(ctx context.Context, cfg *config.Config) (*ScanResult, error) {
	dir := CorpusDir(cfg)
	n, err := corpus.Flatten(cfg.CorpusPaths, dir)
	if err != nil {
		return nil, err
	}
	logging.InfoContext(ctx, "corpus_flattened", "files", n, "dir", dir)

	pairs, err := corpus.Discover(dir)
	if err != nil {
		return nil, err
	}
	scan, err := Scan(ctx, pairs, cfg.Workers)
	if err != nil {
		return nil, err
	}
	if err := SaveScan(ctx, cfg.IndexPath, scan); err != nil {
		return nil, err
	}
	return scan, nil
}

// SaveScan replaces the saved index and document table with scan.
func SaveScan(ctx context.Context, path string, scan *ScanResult) error {
	st, err := store.Open(path)
	if err != nil {
		return err
	}
	defer st.Close()

	now := time.Now().UTC()
	docs := make([]store.Document, len(scan.Documents))
	for i, doc := range scan.Documents {
		docs[i] = store.Document{
			ID:         doc.ID(),
			SGMPath:    doc.Pair.SGMPath,
			APFPath:    doc.Pair.APFPath,
			TextLength: doc.Loaded.Doc.Len(),
			Events:     len(doc.Loaded.Result.Events),
			Warnings:   doc.Warnings,
			ScannedAt:  now,
		}
	}
	return st.SaveIndex(ctx, scan.Index, docs)
}

// LoadIndex reads the index saved by a previous scan. A missing index
// database is reported as ErrNotFound.
func LoadIndex(ctx context.Context, path string) (*events.Index, error) {
	st, err := store.OpenReadOnly(path)
	if err != nil {
		return nil, err
	}
	defer st.Close()
	return st.LoadIndex(ctx)
}

// BuildConfig returns the snapshot options of cfg.
func BuildConfig(cfg *config.Config) (BuildOptions, error) {
	opts := BuildOptions{Tokens: cfg.IncludeTokens, Entities: cfg.IncludeEntities}
	if cfg.AnnotationTemplate != "" {
		tmpl, err := snapshot.LoadTemplate(cfg.AnnotationTemplate)
		if err != nil {
			return opts, err
		}
		opts.Template = tmpl
	}
	return opts, nil
}

// BuildFromConfig builds and stores the snapshots of scan.
func BuildFromConfig(ctx context.Context, cfg *config.Config, scan *ScanResult) (*BuildResult, error) {
	opts, err := BuildConfig(cfg)
	if err != nil {
		return nil, err
	}
	st, err := cas.NewStore(SnapshotDir(cfg))
	if err != nil {
		return nil, err
	}
	return BuildSnapshots(ctx, scan, st, opts)
}

// BundleConfig returns the bundle options of cfg. Empty users or eventTypes
// keep the configured values.
func BundleConfig(cfg *config.Config, users, eventTypes []string) (BundleOptions, error) {
	opts := BundleOptions{
		Prefix:     cfg.ProjectPrefix,
		Users:      cfg.Users,
		EventTypes: cfg.EventTypes,
		OutputDir:  cfg.OutputDir,
		Workers:    cfg.Workers,
	}
	if len(users) > 0 {
		opts.Users = users
	}
	if len(eventTypes) > 0 {
		opts.EventTypes = eventTypes
	}
	if cfg.ProjectTemplate != "" {
		tmpl, err := project.LoadTemplate(cfg.ProjectTemplate)
		if err != nil {
			return opts, err
		}
		opts.Template = tmpl
	}
	return opts, nil
}

// BundleFromConfig assembles projects with idx and the cached snapshots.
func BundleFromConfig(ctx context.Context, cfg *config.Config, idx *events.Index, users, eventTypes []string) (*BundleResult, error) {
	opts, err := BundleConfig(cfg, users, eventTypes)
	if err != nil {
		return nil, err
	}
	return bundleWith(ctx, cfg, idx, opts)
}

func bundleWith(ctx context.Context, cfg *config.Config, idx *events.Index, opts BundleOptions) (*BundleResult, error) {
	st, err := cas.NewStore(SnapshotDir(cfg))
	if err != nil {
		return nil, err
	}
	return Bundle(ctx, idx, st, opts)
}

// ArchiveBundles packs the bundles and their manifest into cfg.Archive.
func ArchiveBundles(ctx context.Context, dst string, res *BundleResult) error {
	timer := logging.Stage(ctx, "archive")
	files := res.Paths()
	if res.Manifest != "" {
		files = append(files, res.Manifest)
	}
	if err := archive.Create(dst, archiveDir, files); err != nil {
		return err
	}
	timer.Done("archive", dst, "files", len(files))
	return nil
}

// Run executes the whole pipeline. Document failures do not stop the run:
// they are listed in the report and joined into the returned error. Any
// other error aborts the run and returns a nil report.
func Run(ctx context.Context, cfg *config.Config) (*Report, error) {
	start := time.Now()
	runID := logging.NewRunID()
	ctx = logging.WithRunID(ctx, runID)
	logging.InfoContext(ctx, "run_start", "corpus_paths", len(cfg.CorpusPaths), "output_dir", cfg.OutputDir)

	scan, err := ScanCorpus(ctx, cfg)
	if err != nil {
		return nil, err
	}
	rep := &Report{
		RunID:     runID,
		Documents: len(scan.Documents),
		Events:    scan.Events,
		EventKeys: scan.Index.Len(),
		Warnings:  scan.Warnings,
		Failed:    append([]Failure(nil), scan.Failed...),
	}
	docErrs := make([]error, 0, len(scan.Failed))
	for _, f := range scan.Failed {
		docErrs = append(docErrs, f)
	}

	built, err := BuildFromConfig(ctx, cfg, scan)
	if built == nil {
		return nil, err
	}
	rep.Snapshots = built.Snapshots
	rep.Failed = append(rep.Failed, built.Failed...)
	for _, f := range built.Failed {
		docErrs = append(docErrs, f)
	}

	opts, err := BundleConfig(cfg, nil, nil)
	if err != nil {
		return nil, err
	}
	opts.Built = built
	bundled, err := bundleWith(ctx, cfg, scan.Index, opts)
	if err != nil {
		return nil, err
	}
	rep.Projects = len(bundled.Bundles)
	rep.Unknown = bundled.Unknown
	rep.Manifest = bundled.Manifest

	if cfg.Archive != "" {
		if err := ArchiveBundles(ctx, cfg.Archive, bundled); err != nil {
			return nil, err
		}
		rep.Archive = cfg.Archive
	}

	elapsed := time.Since(start)
	rep.Duration = elapsed.Round(time.Millisecond).String()
	logging.StageDone(ctx, "run", elapsed,
		"documents", rep.Documents,
		"snapshots", rep.Snapshots,
		"projects", rep.Projects,
		"failed", len(rep.Failed),
	)
	return rep, errors.Join(docErrs...)
}
