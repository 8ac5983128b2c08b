package pipeline

import (
	"context"
	"path/filepath"
	"sort"

	"github.com/FocuswithJustin/apfingest/core/cas"
	"github.com/FocuswithJustin/apfingest/core/errors"
	"github.com/FocuswithJustin/apfingest/core/events"
	"github.com/FocuswithJustin/apfingest/core/snapshot"
	"github.com/FocuswithJustin/apfingest/internal/logging"
	"github.com/FocuswithJustin/apfingest/internal/project"
)

// ManifestFile is written next to the bundles.
const ManifestFile = "manifest.json"

// BundleOptions describes the projects to assemble.
type BundleOptions struct {
	Template   project.Template // nil selects project.DefaultTemplate
	Prefix     string
	Users      []string
	EventTypes []string // type keys or the wildcard
	OutputDir  string
	Workers    int
	// Built restricts the bundles to snapshots stored by that build. When
	// nil every snapshot in the store is used.
	Built *BuildResult
}

// BundleResult lists the written bundles.
type BundleResult struct {
	Bundles []*project.Bundle
	// Unknown holds selectors that matched no indexed type key. They still
	// produce empty projects.
	Unknown []string
	// Missing counts indexed documents skipped because their snapshot was
	// not in the store or not stored by BundleOptions.Built.
	Missing  int
	Manifest string
}

// Paths returns the zip paths of the written bundles.
func (r *BundleResult) Paths() []string {
	paths := make([]string, len(r.Bundles))
	for i, b := range r.Bundles {
		paths[i] = b.Path
	}
	return paths
}

// Manifests returns the bundle manifests.
func (r *BundleResult) Manifests() []project.Manifest {
	ms := make([]project.Manifest, len(r.Bundles))
	for i, b := range r.Bundles {
		ms[i] = b.Manifest
	}
	return ms
}

type bundleJob struct {
	user    string
	key     string
	sources []project.Source
}

type bundleOutcome struct {
	bundle *project.Bundle
	err    error
}

// Bundle assembles one project per user and resolved event type from the
// snapshots in store, then writes the manifest of all bundles. Bundles are
// written in parallel; a failed bundle does not stop the others and the
// returned error joins every failure.
func Bundle(ctx context.Context, idx *events.Index, store *cas.Store, opts BundleOptions) (*BundleResult, error) {
	timer := logging.Stage(ctx, StageBundle)
	if len(opts.Users) == 0 {
		return nil, errors.NewValidation("users", "at least one user is required")
	}
	tmpl := opts.Template
	if tmpl == nil {
		tmpl = project.DefaultTemplate()
	}

	keys, unknown := idx.Resolve(opts.EventTypes)
	for _, sel := range unknown {
		logging.WarnContext(ctx, "unknown_event_type", "selector", sel)
	}
	res := &BundleResult{Unknown: unknown}

	var jobs []bundleJob
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sources, missing, err := collectSources(idx, store, opts.Built, key)
		if err != nil {
			return nil, err
		}
		for _, doc := range missing {
			logging.WarnContext(ctx, "snapshot_missing", "doc_id", doc, "event_type", key)
		}
		res.Missing += len(missing)
		for _, user := range opts.Users {
			jobs = append(jobs, bundleJob{user: user, key: key, sources: sources})
		}
	}

	outcomes := Map(ctx, opts.Workers, jobs, func(ctx context.Context, job bundleJob) bundleOutcome {
		if err := ctx.Err(); err != nil {
			return bundleOutcome{err: err}
		}
		b, err := project.Assemble(project.Options{
			Template:  tmpl,
			Prefix:    opts.Prefix,
			EventType: job.key,
			User:      job.user,
			Sources:   job.sources,
			OutputDir: opts.OutputDir,
		})
		if err != nil {
			return bundleOutcome{err: errors.Wrapf(err, "project %s", project.Name(opts.Prefix, job.key, job.user))}
		}
		logging.DebugContext(ctx, "project_written", "project", b.Name, "documents", len(job.sources))
		return bundleOutcome{bundle: b}
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var errs []error
	for _, o := range outcomes {
		if o.err != nil {
			logging.ErrorContext(ctx, "bundle_failed", "error", o.err.Error())
			errs = append(errs, o.err)
			continue
		}
		res.Bundles = append(res.Bundles, o.bundle)
	}
	sort.Slice(res.Bundles, func(i, j int) bool { return res.Bundles[i].Name < res.Bundles[j].Name })

	res.Manifest = filepath.Join(opts.OutputDir, ManifestFile)
	if err := project.WriteManifests(res.Manifest, res.Manifests()); err != nil {
		errs = append(errs, err)
	}

	timer.Done("projects", len(res.Bundles), "event_types", len(keys), "users", len(opts.Users), "missing", res.Missing)
	return res, errors.Join(errs...)
}

// collectSources reads the stored snapshot of every document under key, in
// index order. Documents without a stored snapshot, or not stored by built
// when it is set, are returned in missing.
func collectSources(idx *events.Index, store *cas.Store, built *BuildResult, key string) (sources []project.Source, missing []string, err error) {
	for _, doc := range idx.Docs(key) {
		if built != nil && !built.Stored(doc, key) {
			missing = append(missing, doc)
			continue
		}
		name := snapshot.FileName(doc, key)
		data, err := store.Get(name)
		if errors.Is(err, errors.ErrNotFound) {
			missing = append(missing, doc)
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		sources = append(sources, project.Source{Name: name, Data: data})
	}
	return sources, missing, nil
}
