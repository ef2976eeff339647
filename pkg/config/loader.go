package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SANESYNC_"

// Load reads the configuration at path, applies environment overrides and
// validates the result. Files ending in .cue are parsed as CUE; anything else
// as YAML. An empty path loads the defaults.
func Load(ctx context.Context, path string) (*Config, error) {
	var cfg *Config
	var err error

	switch {
	case path == "":
		cfg = Default()
	case strings.HasSuffix(path, ".cue"):
		cfg, err = NewCUEParser().Parse(ctx, []string{path})
	default:
		cfg, err = loadYAML(path)
	}
	if err != nil {
		return nil, err
	}

	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	cfg.SourceFiles = []string{path}
	return cfg, nil
}

// Write stores cfg as YAML at path, creating parent directories.
func Write(path string, cfg *Config) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// envOverride maps one SANESYNC_* variable onto the config.
type envOverride struct {
	name  string
	apply func(cfg *Config, value string) error
}

var envOverrides = []envOverride{
	{"DATA_DIR", func(c *Config, v string) error { c.DataDir = v; return nil }},
	{"DB_PATH", func(c *Config, v string) error { c.Store.Path = v; return nil }},
	{"CATALOG", func(c *Config, v string) error { c.Catalog.Type = v; return nil }},
	{"CATALOG_FILE", func(c *Config, v string) error { c.Catalog.File.Path = v; return nil }},
	{"SHOPIFY_ENDPOINT", func(c *Config, v string) error { c.Catalog.Shopify.Endpoint = v; return nil }},
	{"SHOPIFY_API_VERSION", func(c *Config, v string) error { c.Catalog.Shopify.APIVersion = v; return nil }},
	{"WRITE_DELAY", func(c *Config, v string) error { return setDuration(&c.Sync.WriteDelay, v) }},
	{"UNRESOLVED_PAIRS", func(c *Config, v string) error { c.Sync.UnresolvedPairs = v; return nil }},
	{"SCHEDULE", func(c *Config, v string) error { c.Serve.Schedule = v; return nil }},
	{"LOG_LEVEL", func(c *Config, v string) error { c.Telemetry.Logging.Level = v; return nil }},
	{"LOG_FORMAT", func(c *Config, v string) error { c.Telemetry.Logging.Format = v; return nil }},
	{"METRICS_ADDR", func(c *Config, v string) error {
		c.Telemetry.Metrics.ListenAddress = v
		c.Telemetry.Metrics.Enabled = v != ""
		return nil
	}},
	{"TRACING_ENDPOINT", func(c *Config, v string) error {
		c.Telemetry.Tracing.Endpoint = v
		c.Telemetry.Tracing.Enabled = v != ""
		c.Telemetry.Tracing.Exporter = "otlp"
		return nil
	}},
	{"TRACE_SAMPLE_RATE", func(c *Config, v string) error {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		c.Telemetry.Tracing.SamplingRate = rate
		return nil
	}},
}

// ApplyEnv applies SANESYNC_* overrides found by lookup.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	for _, o := range envOverrides {
		name := EnvPrefix + o.name
		value, ok := lookup(name)
		if !ok {
			continue
		}
		if err := o.apply(cfg, value); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	return nil
}

func setDuration(d *time.Duration, value string) error {
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Validate checks the struct constraints and the rules spanning sections.
func (c *Config) Validate() error {
	var errs ValidationErrors

	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		for _, fe := range fieldErrs {
			errs = append(errs, ValidationError{
				Path:    fieldPath(fe.Namespace()),
				Message: fmt.Sprintf("failed %q constraint (value=%v)", constraint(fe), fe.Value()),
			})
		}
	}

	if c.Catalog.Type == CatalogFile && c.Catalog.File.Path == "" {
		errs = append(errs, ValidationError{Path: "catalog.file.path", Message: "required when catalog.type is file"})
	}
	if c.Serve.Schedule != "" {
		if _, err := cron.Parse(c.Serve.Schedule); err != nil {
			errs = append(errs, ValidationError{Path: "serve.schedule", Message: err.Error()})
		}
	}
	if err := c.Telemetry.Validate(); err != nil {
		errs = append(errs, ValidationError{Path: "telemetry", Message: err.Error()})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func constraint(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}

// fieldPath turns "Config.Sync.WriteDelay" into "sync.write_delay".
func fieldPath(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, p := range parts {
		parts[i] = snakeCase(p)
	}
	return strings.Join(parts, ".")
}

func snakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && !(s[i-1] >= 'A' && s[i-1] <= 'Z') {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
