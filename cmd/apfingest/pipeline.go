package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/FocuswithJustin/apfingest/core/errors"
	"github.com/FocuswithJustin/apfingest/core/events"
	"github.com/FocuswithJustin/apfingest/internal/archive"
	"github.com/FocuswithJustin/apfingest/internal/pipeline"
	"github.com/FocuswithJustin/apfingest/internal/store"
)

// ScanCmd scans the corpus and saves the index.
type ScanCmd struct {
	JSON bool `help:"Print the index as JSON"`
}

func (c *ScanCmd) Run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	scan, err := pipeline.ScanCorpus(commandContext(), cfg)
	if err != nil {
		return err
	}

	if c.JSON {
		return printJSON(scan.Index.Map())
	}
	printIndex(scan.Index)
	fmt.Fprintf(stdout, "\n%d documents, %d events, %d warnings, %d failed\n",
		len(scan.Documents), scan.Events, scan.Warnings, len(scan.Failed))
	fmt.Fprintf(stdout, "Index saved to %s\n", cfg.IndexPath)
	return nil
}

func printIndex(idx *events.Index) {
	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "EVENT TYPE\tDOCUMENTS")
	for _, key := range idx.Keys() {
		fmt.Fprintf(w, "%s\t%d\n", key, len(idx.Docs(key)))
	}
	w.Flush()
}

// BuildCmd scans the corpus and caches snapshots.
type BuildCmd struct {
	Strict bool `help:"Fail when any document is dropped"`
}

func (c *BuildCmd) Run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := commandContext()
	scan, err := pipeline.ScanCorpus(ctx, cfg)
	if err != nil {
		return err
	}
	built, err := pipeline.BuildFromConfig(ctx, cfg, scan)
	if built == nil {
		return err
	}

	failed := append(append([]pipeline.Failure(nil), scan.Failed...), built.Failed...)
	fmt.Fprintf(stdout, "%d snapshots cached in %s\n", built.Snapshots, pipeline.SnapshotDir(cfg))
	printFailures(failed)
	if c.Strict && len(failed) > 0 {
		return fmt.Errorf("%d documents dropped", len(failed))
	}
	return nil
}

// BundleCmd assembles projects from a previous build.
type BundleCmd struct {
	User    []string `name:"user" short:"u" help:"Annotator to bundle for (repeatable; default: users from config)"`
	Event   []string `name:"event" short:"e" help:"Event type to bundle, or \"all\" (repeatable; default: event_types from config)"`
	Archive string   `help:"Also pack the bundles into this .tar.xz or .tar.gz" type:"path"`
}

func (c *BundleCmd) Run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := commandContext()
	idx, err := pipeline.LoadIndex(ctx, cfg.IndexPath)
	if errors.Is(err, errors.ErrNotFound) {
		return errors.Wrap(err, "run scan and build first")
	}
	if err != nil {
		return err
	}
	if idx.Len() == 0 {
		fmt.Fprintf(stdout, "Warning: index %s is empty; run scan and build first\n", cfg.IndexPath)
	}

	res, err := pipeline.BundleFromConfig(ctx, cfg, idx, c.User, c.Event)
	if res == nil {
		return err
	}
	for _, b := range res.Bundles {
		fmt.Fprintf(stdout, "%s (%d documents)\n", b.Path, len(b.Manifest.Documents))
	}
	for _, sel := range res.Unknown {
		fmt.Fprintf(stdout, "Warning: event type %q is not in the index; its projects are empty\n", sel)
	}
	if res.Missing > 0 {
		fmt.Fprintf(stdout, "Warning: %d indexed documents had no cached snapshot\n", res.Missing)
	}
	if err != nil {
		return err
	}

	dst := c.Archive
	if dst == "" {
		dst = cfg.Archive
	}
	if dst != "" {
		if err := pipeline.ArchiveBundles(ctx, dst, res); err != nil {
			return err
		}
		names, err := archive.List(dst)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Archive written to %s (%d files)\n", dst, len(names))
	}
	return nil
}

// RunCmd runs every stage.
type RunCmd struct {
	Strict bool `help:"Fail when any document is dropped"`
}

func (c *RunCmd) Run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rep, err := pipeline.Run(commandContext(), cfg)
	if rep == nil {
		return err
	}
	if perr := printJSON(rep); perr != nil {
		return perr
	}
	if c.Strict && err != nil {
		return err
	}
	return nil
}

// DocumentsCmd lists the document table of the index database.
type DocumentsCmd struct {
	ID   string `arg:"" optional:"" help:"Show one document"`
	JSON bool   `help:"Print documents as JSON"`
}

func (c *DocumentsCmd) Run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := commandContext()
	st, err := store.OpenReadOnly(cfg.IndexPath)
	if err != nil {
		return err
	}
	defer st.Close()

	var docs []store.Document
	if c.ID != "" {
		d, err := st.Document(ctx, c.ID)
		if err != nil {
			return err
		}
		docs = []store.Document{*d}
	} else if docs, err = st.Documents(ctx); err != nil {
		return err
	}
	if c.JSON {
		if docs == nil {
			docs = []store.Document{}
		}
		return printJSON(docs)
	}

	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tLENGTH\tEVENTS\tWARNINGS\tSCANNED")
	for _, d := range docs {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\n", d.ID, d.TextLength, d.Events, d.Warnings, d.ScannedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func printFailures(failed []pipeline.Failure) {
	for _, f := range failed {
		var rangeErr *errors.OffsetRangeError
		if errors.As(f.Err, &rangeErr) {
			fmt.Fprintf(stdout, "DROPPED %s (%s): mention %s [%d, %d] outside text of length %d\n",
				f.DocID, f.Stage, rangeErr.MentionID, rangeErr.Start, rangeErr.End, rangeErr.TextLength)
			continue
		}
		fmt.Fprintf(stdout, "DROPPED %s (%s): %v\n", f.DocID, f.Stage, f.Err)
	}
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, string(data))
	return nil
}
