// Command apfingest converts an ACE 2005 corpus into annotation projects.
// It scans source and APF annotation pairs, builds one snapshot per document
// and event type, and packages them into per-annotator project bundles.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/kong"

	"github.com/FocuswithJustin/apfingest/core/sqlite"
	"github.com/FocuswithJustin/apfingest/internal/config"
	"github.com/FocuswithJustin/apfingest/internal/logging"
)

const version = "0.4.0"

// stdout is where command output goes.
var stdout io.Writer = os.Stdout

// CLI defines the command-line interface for apfingest.
var CLI struct {
	// Global flags
	Config    string `name:"config" short:"c" help:"Pipeline configuration file" default:"apfingest.yaml" type:"path"`
	LogLevel  string `name:"log-level" help:"Override log level (debug, info, warn, error)"`
	LogFormat string `name:"log-format" help:"Override log format (json, text)"`

	// Pipeline stages
	Scan   ScanCmd   `cmd:"" help:"Flatten and scan the corpus, save the event index"`
	Build  BuildCmd  `cmd:"" help:"Scan the corpus and cache one snapshot per document and event type"`
	Bundle BundleCmd `cmd:"" help:"Assemble project bundles from the saved index and cached snapshots"`
	Run    RunCmd    `cmd:"" help:"Run the whole pipeline"`

	Documents DocumentsCmd `cmd:"" help:"List the documents recorded by the last scan"`

	// Single-file tools
	Strip StripCmd `cmd:"" help:"Print the stripped text of a source document"`
	Parse ParseCmd `cmd:"" help:"Print the records parsed from an APF file"`
	Check CheckCmd `cmd:"" help:"Lint a source and annotation pair"`

	// Annotation server
	Push     PushCmd     `cmd:"" help:"Import project bundles into the annotation server"`
	Projects ProjectsCmd `cmd:"" help:"List projects on the annotation server"`

	Version VersionCmd `cmd:"" help:"Print version information"`
}

// loadConfig reads the configuration named by --config and sets up logging.
// Logs go to stderr so command output stays parseable.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return nil, err
	}
	if CLI.LogLevel != "" {
		cfg.Log.Level = CLI.LogLevel
	}
	if CLI.LogFormat != "" {
		cfg.Log.Format = CLI.LogFormat
	}
	if err := cfg.ApplyLogging(); err != nil {
		return nil, err
	}
	logging.SetOutput(os.Stderr)
	return cfg, nil
}

// setupLogging configures the logger for commands that take no config file.
func setupLogging() error {
	level, format := logging.LevelWarn, logging.FormatText
	if CLI.LogLevel != "" {
		l, err := logging.ParseLevel(CLI.LogLevel)
		if err != nil {
			return err
		}
		level = l
	}
	if CLI.LogFormat != "" {
		f, err := logging.ParseFormat(CLI.LogFormat)
		if err != nil {
			return err
		}
		format = f
	}
	logging.InitLogger(level, format)
	logging.SetOutput(os.Stderr)
	return nil
}

func commandContext() context.Context {
	return logging.WithRunID(context.Background(), logging.NewRunID())
}

// VersionCmd prints version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	info := sqlite.GetInfo()
	fmt.Fprintf(stdout, "apfingest version %s\n", version)
	fmt.Fprintf(stdout, "sqlite driver: %s (%s, %s)\n", info.DriverName, info.DriverType, info.Package)
	return nil
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("apfingest"),
		kong.Description("ACE APF to annotation project converter"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)
	err := ctx.Run(ctx)
	ctx.FatalIfErrorf(err)
}
