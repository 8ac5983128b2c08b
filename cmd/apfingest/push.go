package main

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/FocuswithJustin/apfingest/core/errors"
	"github.com/FocuswithJustin/apfingest/internal/archive"
	"github.com/FocuswithJustin/apfingest/internal/config"
	"github.com/FocuswithJustin/apfingest/internal/pipeline"
	"github.com/FocuswithJustin/apfingest/internal/project"
	"github.com/FocuswithJustin/apfingest/internal/remote"
	"github.com/FocuswithJustin/apfingest/internal/validation"
)

func remoteClient(cfg *config.Config) (*remote.Client, error) {
	if !cfg.Remote.Enabled() {
		return nil, errors.NewValidation("remote.url", "no annotation server configured")
	}
	return remote.New(cfg.Remote.URL, cfg.Remote.Username, cfg.Remote.Password), nil
}

// PushCmd uploads bundles to the annotation server.
type PushCmd struct {
	Paths []string `arg:"" help:"Project bundles (.zip) or archives of bundles (.tar.xz, .tar.gz)"`
}

func (c *PushCmd) Run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, err := remoteClient(cfg)
	if err != nil {
		return err
	}
	ctx := commandContext()

	var errs []error
	pushed := 0
	for _, p := range c.Paths {
		n, err := push(ctx, client, p)
		pushed += n
		if err != nil {
			fmt.Fprintf(stdout, "FAILED %s: %v\n", p, err)
			errs = append(errs, err)
		}
	}
	fmt.Fprintf(stdout, "%d projects imported\n", pushed)
	return errors.Join(errs...)
}

// push imports one bundle or every bundle inside an archive and returns how
// many were imported. Bundles listed in the manifest written beside them
// are checked against their digests first.
func push(ctx context.Context, client *remote.Client, p string) (int, error) {
	f, err := os.Open(p)
	if err != nil {
		return 0, err
	}
	ft, err := validation.ValidateFileType(f, p)
	f.Close()
	if err != nil {
		return 0, err
	}

	switch ft {
	case validation.FileTypeZip:
		manifests, err := manifestsFile(filepath.Join(filepath.Dir(p), pipeline.ManifestFile))
		if err != nil {
			return 0, err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return 0, err
		}
		if err := project.Verify(manifests, filepath.Base(p), data); err != nil {
			return 0, err
		}
		status, err := client.ImportProject(ctx, p)
		if err != nil {
			return 0, err
		}
		fmt.Fprintf(stdout, "%s: %d %s\n", p, status.Code, status.Message)
		return 1, nil
	case validation.FileTypeTarXZ, validation.FileTypeTarGZ:
		manifests, err := manifestsEntry(p)
		if err != nil {
			return 0, err
		}
		n := 0
		err = archive.Walk(p, func(hdr *tar.Header, r io.Reader) (bool, error) {
			if !strings.HasSuffix(hdr.Name, ".zip") {
				return false, nil
			}
			data, err := io.ReadAll(r)
			if err != nil {
				return false, err
			}
			name := path.Base(hdr.Name)
			if err := project.Verify(manifests, name, data); err != nil {
				return false, errors.Wrapf(err, "%s in %s", name, p)
			}
			status, err := client.ImportProjectData(ctx, name, data)
			if err != nil {
				return false, errors.Wrapf(err, "%s in %s", name, p)
			}
			fmt.Fprintf(stdout, "%s: %d %s\n", name, status.Code, status.Message)
			n++
			return false, nil
		})
		return n, err
	}
	return 0, errors.NewUnsupported(string(ft), "push accepts .zip bundles and .tar.xz or .tar.gz archives")
}

// manifestsFile reads a manifest file. A missing file yields no manifests.
func manifestsFile(path string) ([]project.Manifest, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return project.ParseManifests(data)
}

// manifestsEntry reads the manifest packed into an archive of bundles.
func manifestsEntry(archivePath string) ([]project.Manifest, error) {
	data, err := archive.ReadFile(archivePath, pipeline.ManifestFile)
	if errors.Is(err, errors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return project.ParseManifests(data)
}

// ProjectsCmd lists server projects.
type ProjectsCmd struct {
	JSON bool `help:"Print the raw project list as JSON"`
}

func (c *ProjectsCmd) Run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, err := remoteClient(cfg)
	if err != nil {
		return err
	}
	projects, err := client.ListProjects(commandContext())
	if err != nil {
		return err
	}
	if c.JSON {
		return printJSON(projects)
	}

	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME")
	for _, p := range projects {
		fmt.Fprintf(w, "%v\t%v\n", p["id"], p["name"])
	}
	return w.Flush()
}
