package pipeline

import (
	"context"

	"github.com/FocuswithJustin/apfingest/core/cas"
	"github.com/FocuswithJustin/apfingest/core/errors"
	"github.com/FocuswithJustin/apfingest/core/snapshot"
	"github.com/FocuswithJustin/apfingest/internal/logging"
)

// BuildOptions selects the snapshot template and optional layers.
type BuildOptions struct {
	Template *snapshot.Template // nil selects snapshot.DefaultTemplate
	Tokens   bool
	Entities bool
}

func (o BuildOptions) snapshotOptions(doc *Document) []snapshot.Option {
	var opts []snapshot.Option
	if o.Tokens {
		opts = append(opts, snapshot.WithTokens())
	}
	if o.Entities {
		opts = append(opts, snapshot.WithEntities(doc.Loaded.Result.Entities))
	}
	return opts
}

// BuildResult lists what BuildSnapshots stored.
type BuildResult struct {
	// Built maps document id to the type keys stored for it.
	Built     map[string][]string
	Snapshots int
	Failed    []Failure
}

// Stored reports whether the snapshot of docID for key was stored.
func (r *BuildResult) Stored(docID, key string) bool {
	for _, k := range r.Built[docID] {
		if k == key {
			return true
		}
	}
	return false
}

// BuildSnapshots builds every (document, type key) snapshot of scan, one
// document at a time, and stores each under snapshot.FileName. A document
// that fails is dropped as a whole and the others continue; the returned
// error joins every document failure, or is ctx.Err() on cancellation.
// The result is non-nil unless ctx is done.
//
// Afterwards the store holds exactly the names built here: snapshots of
// failed or removed documents and of type keys a document no longer has
// are pruned.
func BuildSnapshots(ctx context.Context, scan *ScanResult, store *cas.Store, opts BuildOptions) (*BuildResult, error) {
	timer := logging.Stage(ctx, StageSnapshot)
	tmpl := opts.Template
	if tmpl == nil {
		tmpl = snapshot.DefaultTemplate()
	}

	res := &BuildResult{Built: make(map[string][]string)}
	var errs []error
	for _, doc := range scan.Documents {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		keys, err := buildDocument(doc, tmpl, store, opts)
		if err != nil {
			logging.DocumentError(ctx, doc.ID(), StageSnapshot, err)
			f := Failure{DocID: doc.ID(), Stage: StageSnapshot, Err: err}
			res.Failed = append(res.Failed, f)
			errs = append(errs, f)
			continue
		}
		res.Built[doc.ID()] = keys
		res.Snapshots += len(keys)
	}

	keep := make(map[string]bool, res.Snapshots)
	for docID, keys := range res.Built {
		for _, key := range keys {
			keep[snapshot.FileName(docID, key)] = true
		}
	}
	pruned, err := store.Prune(func(name string) bool { return keep[name] })
	if err != nil {
		return nil, errors.Wrap(err, "prune snapshot store")
	}
	for _, name := range pruned {
		logging.DebugContext(ctx, "snapshot_pruned", "name", name)
	}

	timer.Done("snapshots", res.Snapshots, "failed", len(res.Failed), "pruned", len(pruned))
	return res, errors.Join(errs...)
}

// buildDocument builds all snapshots of doc before storing any of them, so
// an offset error leaves nothing of the document behind.
func buildDocument(doc *Document, tmpl *snapshot.Template, store *cas.Store, opts BuildOptions) ([]string, error) {
	snaps, err := snapshot.Build(doc.Loaded.Doc, doc.Merged, tmpl, opts.snapshotOptions(doc)...)
	if err != nil {
		return nil, err
	}

	encoded := make([][]byte, len(doc.Merged))
	for i, key := range doc.Merged.Keys() {
		data, err := snapshot.Marshal(snaps[key])
		if err != nil {
			return nil, errors.Wrapf(err, "encode snapshot %s", key)
		}
		encoded[i] = data
	}

	keys := doc.Merged.Keys()
	for i, key := range keys {
		if _, err := store.Put(snapshot.FileName(doc.ID(), key), encoded[i]); err != nil {
			return nil, err
		}
	}
	return keys, nil
}
