// Package config loads the pipeline configuration from a YAML file.
package config

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/FocuswithJustin/apfingest/core/errors"
	"github.com/FocuswithJustin/apfingest/core/events"
	"github.com/FocuswithJustin/apfingest/internal/logging"
	"github.com/FocuswithJustin/apfingest/internal/validation"
)

// Environment variables that override file values.
const (
	EnvOutputDir      = "APFINGEST_OUTPUT_DIR"
	EnvWorkers        = "APFINGEST_WORKERS"
	EnvLogLevel       = "APFINGEST_LOG_LEVEL"
	EnvRemotePassword = "APFINGEST_REMOTE_PASSWORD"
)

// Config is the full pipeline configuration.
type Config struct {
	CorpusPaths        []string `yaml:"corpus_paths"`                          // directories holding .sgm and .apf.xml pairs
	CacheDir           string   `yaml:"cache_dir"`                             // flattened corpus and snapshot store
	OutputDir          string   `yaml:"output_dir" env:"APFINGEST_OUTPUT_DIR"` // project bundles are written here
	Users              []string `yaml:"users"`                                 // one project per user and event type
	EventTypes         []string `yaml:"event_types"`                           // type keys, or "all"
	ProjectTemplate    string   `yaml:"project_template"`                      // optional project JSON template
	AnnotationTemplate string   `yaml:"annotation_template"`                   // optional snapshot template
	ProjectPrefix      string   `yaml:"project_prefix"`
	IndexPath          string   `yaml:"index_path"` // sqlite corpus index
	IncludeTokens      bool     `yaml:"include_tokens"`
	IncludeEntities    bool     `yaml:"include_entities"`
	Workers            int      `yaml:"workers" env:"APFINGEST_WORKERS"`
	Archive            string   `yaml:"archive"` // optional .tar.xz or .tar.gz of all bundles
	Remote             Remote   `yaml:"remote"`
	Log                Log      `yaml:"log"`
}

// Remote holds the annotation server import endpoint.
type Remote struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password" env:"APFINGEST_REMOTE_PASSWORD"`
}

// Enabled reports whether a remote endpoint is configured.
func (r Remote) Enabled() bool {
	return r.URL != ""
}

// Log holds logger settings.
type Log struct {
	Level  string `yaml:"level" env:"APFINGEST_LOG_LEVEL"`
	Format string `yaml:"format"`
}

// Default returns a configuration with every optional field set.
func Default() *Config {
	return &Config{
		CacheDir:        "cache",
		OutputDir:       "out",
		EventTypes:      []string{events.Wildcard},
		IncludeTokens:   true,
		IncludeEntities: false,
		Workers:         runtime.NumCPU(),
		Log:             Log{Level: "info", Format: "json"},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewIO("read", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		var perr *errors.ParseError
		if errors.As(err, &perr) {
			perr.Path = path
		}
		return nil, err
	}
	cfg.resolve(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and applies environment overrides.
// It does not validate.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, errors.NewParse("config", "yaml", err.Error())
	}
	if err := env.Parse(cfg); err != nil {
		return nil, errors.NewParse("config", "environment", err.Error())
	}
	if cfg.IndexPath == "" {
		cfg.IndexPath = filepath.Join(cfg.CacheDir, "index.db")
	}
	return cfg, nil
}

// resolve makes relative paths relative to the config file directory.
func (c *Config) resolve(base string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	for i, p := range c.CorpusPaths {
		c.CorpusPaths[i] = abs(p)
	}
	c.CacheDir = abs(c.CacheDir)
	c.OutputDir = abs(c.OutputDir)
	c.IndexPath = abs(c.IndexPath)
	c.ProjectTemplate = abs(c.ProjectTemplate)
	c.AnnotationTemplate = abs(c.AnnotationTemplate)
	c.Archive = abs(c.Archive)
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	var errs []error
	if len(c.CorpusPaths) == 0 {
		errs = append(errs, errors.NewValidation("corpus_paths", "at least one corpus directory is required"))
	}
	for _, p := range c.CorpusPaths {
		if err := validation.ValidatePath(p); err != nil {
			errs = append(errs, &errors.ValidationError{Field: "corpus_paths", Value: p, Message: err.Error()})
		}
	}
	if c.OutputDir == "" {
		errs = append(errs, errors.NewValidation("output_dir", "is required"))
	}
	if c.CacheDir == "" {
		errs = append(errs, errors.NewValidation("cache_dir", "is required"))
	}
	for _, u := range c.Users {
		if err := validation.ValidateFilename(u); err != nil {
			errs = append(errs, &errors.ValidationError{Field: "users", Value: u, Message: err.Error()})
		}
	}
	if len(c.EventTypes) == 0 {
		errs = append(errs, errors.NewValidation("event_types", "at least one event type or \"all\" is required"))
	}
	if c.Workers < 1 {
		errs = append(errs, errors.NewValidation("workers", "must be at least 1"))
	}
	if c.Archive != "" && !strings.HasSuffix(c.Archive, ".tar.xz") && !strings.HasSuffix(c.Archive, ".tar.gz") {
		errs = append(errs, &errors.ValidationError{Field: "archive", Value: c.Archive, Message: "must end in .tar.xz or .tar.gz"})
	}
	if c.Remote.Enabled() && c.Remote.Username == "" {
		errs = append(errs, errors.NewValidation("remote.username", "is required when remote.url is set"))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if _, err := logging.ParseFormat(c.Log.Format); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ApplyLogging initialises the global logger from the log section.
func (c *Config) ApplyLogging() error {
	level, err := logging.ParseLevel(c.Log.Level)
	if err != nil {
		return err
	}
	format, err := logging.ParseFormat(c.Log.Format)
	if err != nil {
		return err
	}
	logging.InitLogger(level, format)
	return nil
}
