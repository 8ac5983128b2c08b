package pipeline

import (
	"context"
	"encoding/json"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/FocuswithJustin/apfingest/core/events"
	"github.com/FocuswithJustin/apfingest/internal/corpus"
	"github.com/FocuswithJustin/apfingest/internal/logging"
)

// Stage names used in failures and logs.
const (
	StageScan     = "scan"
	StageSnapshot = "snapshot"
	StageBundle   = "bundle"
)

// Document is one scanned pair. It is not modified after Scan returns.
type Document struct {
	Pair     corpus.Pair
	Loaded   *corpus.Loaded
	Merged   events.Merged
	Warnings int
}

// ID returns the document id.
func (d *Document) ID() string {
	return d.Pair.ID
}

// Failure is a document dropped by a stage.
type Failure struct {
	DocID string
	Stage string
	Err   error
}

func (f Failure) Error() string {
	return f.Stage + " " + f.DocID + ": " + f.Err.Error()
}

func (f Failure) Unwrap() error {
	return f.Err
}

// MarshalJSON includes the error message.
func (f Failure) MarshalJSON() ([]byte, error) {
	msg := ""
	if f.Err != nil {
		msg = f.Err.Error()
	}
	return json.Marshal(struct {
		DocID string `json:"doc_id"`
		Stage string `json:"stage"`
		Error string `json:"error"`
	}{f.DocID, f.Stage, msg})
}

// ScanResult is the corpus pass: every readable document, in discovery
// order, and the index built from them.
type ScanResult struct {
	Documents []*Document
	Index     *events.Index
	Events    int
	Warnings  int
	Failed    []Failure
}

type scanSlot struct {
	doc *Document
	err error
}

// Scan loads and parses pairs on up to workers goroutines. Each document is
// parsed into its own slot; the index is then built by a single writer in
// pair order, so the result does not depend on the worker count. Documents
// that cannot be read or decoded are reported in Failed. The returned error
// is non-nil only when ctx is done.
func Scan(ctx context.Context, pairs []corpus.Pair, workers int) (*ScanResult, error) {
	timer := logging.Stage(ctx, StageScan)
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	slots := make([]scanSlot, len(pairs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, pair := range pairs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			loaded, err := pair.Load()
			if err != nil {
				slots[i].err = err
				return nil
			}
			slots[i].doc = &Document{
				Pair:     pair,
				Loaded:   loaded,
				Merged:   events.MergeByType(loaded.Result.Events),
				Warnings: len(loaded.Result.Warnings),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &ScanResult{Index: events.NewIndex()}
	for i, slot := range slots {
		id := pairs[i].ID
		if slot.err != nil {
			logging.DocumentError(ctx, id, StageScan, slot.err)
			res.Failed = append(res.Failed, Failure{DocID: id, Stage: StageScan, Err: slot.err})
			continue
		}
		doc := slot.doc
		for _, w := range doc.Loaded.Result.Warnings {
			logging.ParseWarning(ctx, id, w)
		}
		for _, m := range doc.Loaded.Mismatches() {
			logging.WarnContext(ctx, "document_id_mismatch", "doc_id", id, "detail", m)
		}
		res.Index.Add(id, doc.Loaded.Result.Events)
		res.Documents = append(res.Documents, doc)
		res.Events += len(doc.Loaded.Result.Events)
		res.Warnings += doc.Warnings
	}

	timer.Done(
		"documents", len(res.Documents),
		"failed", len(res.Failed),
		"events", res.Events,
		"event_types", res.Index.Len(),
		"warnings", res.Warnings,
	)
	return res, nil
}
