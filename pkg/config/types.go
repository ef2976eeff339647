package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/matijagrcic/sane-shopify/pkg/catalog/file"
	"github.com/matijagrcic/sane-shopify/pkg/catalog/shopify"
	"github.com/matijagrcic/sane-shopify/pkg/engine"
	"github.com/matijagrcic/sane-shopify/pkg/stores"
	"github.com/matijagrcic/sane-shopify/pkg/telemetry"
)

// Catalog types.
const (
	CatalogShopify = "shopify"
	CatalogFile    = "file"
)

// DefaultFileName is the config file written by `sanesync init`.
const DefaultFileName = "sanesync.yaml"

// DefaultPassphraseEnv names the variable holding the secret store passphrase.
const DefaultPassphraseEnv = "SANESYNC_SECRET_KEY"

// Config is the complete sanesync configuration.
type Config struct {
	// DataDir holds the database and other local state.
	DataDir string `yaml:"data_dir" validate:"required"`

	// Store.Path is relative to DataDir unless absolute. ":memory:" is allowed.
	Store     stores.Config    `yaml:"store"`
	Catalog   CatalogConfig    `yaml:"catalog"`
	Sync      SyncConfig       `yaml:"sync"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	Serve     ServeConfig      `yaml:"serve"`
	Secrets   SecretsConfig    `yaml:"secrets"`

	// SourceFiles lists the files the configuration was read from.
	SourceFiles []string `yaml:"-"`
}

// CatalogConfig selects and configures the source catalog.
type CatalogConfig struct {
	Type    string            `yaml:"type" validate:"required,oneof=shopify file"`
	File    FileCatalogConfig `yaml:"file"`
	Shopify shopify.Config    `yaml:"shopify"`
}

// FileCatalogConfig configures the JSON export catalog.
type FileCatalogConfig struct {
	Path          string        `yaml:"path"`
	PageSize      int           `yaml:"page_size,omitempty" validate:"gte=0"`
	WatchDebounce time.Duration `yaml:"watch_debounce,omitempty"`
}

// SyncConfig tunes the orchestrator.
type SyncConfig struct {
	// WriteDelay is the pause before each store mutation.
	WriteDelay time.Duration `yaml:"write_delay" validate:"gte=200ms"`

	// UnresolvedPairs is drop, warn or fail.
	UnresolvedPairs string `yaml:"unresolved_pairs" validate:"required,oneof=drop warn fail"`
}

// ServeConfig configures `sanesync serve`.
type ServeConfig struct {
	// Schedule is a cron expression with a seconds field, or a descriptor
	// such as "@every 15m".
	Schedule   string `yaml:"schedule" validate:"required"`
	RunOnStart bool   `yaml:"run_on_start"`
}

// SecretsConfig configures credential storage.
type SecretsConfig struct {
	PassphraseEnv string `yaml:"passphrase_env" validate:"required"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	tel := telemetry.DefaultConfig()
	tel.Metrics.Enabled = false
	tel.Events.EnableAsync = false

	return &Config{
		DataDir: ".sanesync",
		Store: stores.Config{
			Path:            "sanesync.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Catalog: CatalogConfig{
			Type: CatalogShopify,
			File: FileCatalogConfig{
				PageSize:      file.DefaultPageSize,
				WatchDebounce: file.DefaultDebounce,
			},
			Shopify: shopify.Config{
				APIVersion:        shopify.DefaultAPIVersion,
				PageSize:          shopify.DefaultPageSize,
				RequestsPerSecond: shopify.DefaultRequestsPerSecond,
				Burst:             4,
				Timeout:           30 * time.Second,
			},
		},
		Sync: SyncConfig{
			WriteDelay:      engine.DefaultWriteDelay,
			UnresolvedPairs: string(engine.PairPolicyDrop),
		},
		Telemetry: *tel,
		Serve: ServeConfig{
			Schedule: "@every 1h",
		},
		Secrets: SecretsConfig{
			PassphraseEnv: DefaultPassphraseEnv,
		},
	}
}

// DatabasePath resolves Store.Path against DataDir.
func (c *Config) DatabasePath() string {
	if c.Store.Path == ":memory:" || filepath.IsAbs(c.Store.Path) {
		return c.Store.Path
	}
	return filepath.Join(c.DataDir, c.Store.Path)
}

// PairPolicy returns the configured unresolved pair policy.
func (c *Config) PairPolicy() engine.PairPolicy {
	return engine.PairPolicy(c.Sync.UnresolvedPairs)
}

// ValidationError represents a validation error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the field path (e.g., "sync.write_delay").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`
}

func (e ValidationError) String() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", e.Line, e.Column)
		}
		b.WriteString(": ")
	}
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// ValidationErrors is returned by Load and Validate when the configuration is invalid.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, e := range v {
		msgs[i] = e.String()
	}
	return "invalid configuration: " + strings.Join(msgs, "; ")
}
