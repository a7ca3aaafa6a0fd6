// Package config loads .mutacheck.yaml project configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/sprite-ai/mutacheck/internal/model"
)

// FileNames are the configuration files looked up in a project directory,
// in order.
var FileNames = []string{".mutacheck.yaml", ".mutacheck.yml"}

// Defaults.
const (
	DefaultFormat   = "text"
	DefaultLogLevel = "warn"
	DefaultFailOn   = "DEFINITELY_NOT_IMMUTABLE"
)

// Config is the project configuration. Paths are relative to the directory
// of the file they were loaded from.
type Config struct {
	Sources     []string `yaml:"sources,omitempty" validate:"dive,required"`
	Descriptors []string `yaml:"descriptors,omitempty" validate:"dive,required"`
	AllowList   string   `yaml:"allowlist,omitempty"`
	Skip        []string `yaml:"skip,omitempty" validate:"dive,required"`
	Format      string   `yaml:"format" validate:"oneof=text json"`
	FailOn      string   `yaml:"fail_on" validate:"verdict"`
	Concurrency int      `yaml:"concurrency" validate:"gte=0,lte=256"`
	LogLevel    string   `yaml:"log_level" validate:"oneof=debug info warn error"`

	// Path is the file the configuration was loaded from, if any.
	Path string `yaml:"-"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("verdict", func(fl validator.FieldLevel) bool {
		_, err := model.ParseVerdict(fl.Field().String())
		return err == nil
	})
	return v
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Format:   DefaultFormat,
		FailOn:   DefaultFailOn,
		LogLevel: DefaultLogLevel,
	}
}

// Find returns the first configuration file present in dir.
func Find(dir string) (string, bool) {
	for _, name := range FileNames {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, true
		}
	}
	return "", false
}

// Load reads and validates a configuration file. Unset values keep their
// defaults; unknown keys are rejected.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	defer f.Close()

	cfg := Default()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	cfg.Path = path
	cfg.resolvePaths(filepath.Dir(path))
	return cfg, nil
}

// LoadDir loads the configuration file in dir, or the defaults if there
// is none.
func LoadDir(dir string) (*Config, error) {
	path, ok := Find(dir)
	if !ok {
		return Default(), nil
	}
	return Load(path)
}

// Validate checks every field against its constraints.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: invalid value %v (%s)", yamlName(fe), fe.Value(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func yamlName(fe validator.FieldError) string {
	switch fe.StructField() {
	case "AllowList":
		return "allowlist"
	case "FailOn":
		return "fail_on"
	case "LogLevel":
		return "log_level"
	}
	return strings.ToLower(fe.Field())
}

func (c *Config) resolvePaths(dir string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}
	for i, p := range c.Sources {
		c.Sources[i] = abs(p)
	}
	for i, p := range c.Descriptors {
		c.Descriptors[i] = abs(p)
	}
	c.AllowList = abs(c.AllowList)
}

// FailOnVerdict returns the verdict at or below which a check fails.
func (c *Config) FailOnVerdict() model.Verdict {
	v, err := model.ParseVerdict(c.FailOn)
	if err != nil {
		return model.DefinitelyNotImmutable
	}
	return v
}

// Level returns the configured log level.
func (c *Config) Level() slog.Level {
	return ParseLevel(c.LogLevel)
}

// ParseLevel maps a level name to a slog level, defaulting to warn.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	}
	return slog.LevelWarn
}
