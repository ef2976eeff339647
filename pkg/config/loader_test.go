package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "sanesync.yaml", `
data_dir: /var/lib/sanesync
catalog:
  type: file
  file:
    path: export.json
    watch_debounce: 1s
sync:
  write_delay: 300ms
  unresolved_pairs: fail
serve:
  schedule: "0 */15 * * * *"
`)

	cfg, err := Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.DataDir != "/var/lib/sanesync" {
		t.Errorf("unexpected data dir %s", cfg.DataDir)
	}
	if cfg.Catalog.File.WatchDebounce != time.Second {
		t.Errorf("expected 1s debounce, got %v", cfg.Catalog.File.WatchDebounce)
	}
	if cfg.Sync.WriteDelay != 300*time.Millisecond {
		t.Errorf("expected 300ms write delay, got %v", cfg.Sync.WriteDelay)
	}
	if cfg.Catalog.File.PageSize != 50 {
		t.Errorf("unset fields must keep defaults, got page size %d", cfg.Catalog.File.PageSize)
	}
	if got := cfg.DatabasePath(); got != "/var/lib/sanesync/sanesync.db" {
		t.Errorf("unexpected database path %s", got)
	}
	if diff := cmp.Diff([]string{path}, cfg.SourceFiles); diff != "" {
		t.Errorf("source files mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_CUE(t *testing.T) {
	path := writeFile(t, "sanesync.cue", `
catalog: {
	type: "file"
	file: path: "export.json"
}
`)
	cfg, err := Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Catalog.Type != CatalogFile {
		t.Errorf("expected file catalog, got %s", cfg.Catalog.Type)
	}
}

func TestLoad_Errors(t *testing.T) {
	ctx := context.Background()

	if _, err := Load(ctx, filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	unknown := writeFile(t, "unknown.yaml", "workers: 4\n")
	if _, err := Load(ctx, unknown); err == nil || !strings.Contains(err.Error(), "workers") {
		t.Errorf("expected unknown field error, got %v", err)
	}

	invalid := writeFile(t, "invalid.yaml", "sync:\n  write_delay: 10ms\n")
	var verrs ValidationErrors
	if _, err := Load(ctx, invalid); !errors.As(err, &verrs) {
		t.Errorf("expected ValidationErrors, got %v", err)
	}
}

func TestLoad_EmptyFile(t *testing.T) {
	path := writeFile(t, "empty.yaml", "")
	cfg, err := Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Catalog.Type != CatalogShopify {
		t.Errorf("expected default catalog, got %s", cfg.Catalog.Type)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"SANESYNC_CATALOG":           "file",
		"SANESYNC_CATALOG_FILE":      "/tmp/export.json",
		"SANESYNC_WRITE_DELAY":       "1s",
		"SANESYNC_UNRESOLVED_PAIRS":  "warn",
		"SANESYNC_LOG_LEVEL":         "debug",
		"SANESYNC_METRICS_ADDR":      ":9191",
		"SANESYNC_TRACE_SAMPLE_RATE": "0.5",
	}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}

	cfg := Default()
	if err := ApplyEnv(cfg, lookup); err != nil {
		t.Fatalf("ApplyEnv failed: %v", err)
	}

	want := Default()
	want.Catalog.Type = CatalogFile
	want.Catalog.File.Path = "/tmp/export.json"
	want.Sync.WriteDelay = time.Second
	want.Sync.UnresolvedPairs = "warn"
	want.Telemetry.Logging.Level = "debug"
	want.Telemetry.Metrics.Enabled = true
	want.Telemetry.Metrics.ListenAddress = ":9191"
	want.Telemetry.Tracing.SamplingRate = 0.5

	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyEnv_InvalidValue(t *testing.T) {
	lookup := func(key string) (string, bool) {
		if key == "SANESYNC_WRITE_DELAY" {
			return "fast", true
		}
		return "", false
	}
	err := ApplyEnv(Default(), lookup)
	if err == nil || !strings.Contains(err.Error(), "SANESYNC_WRITE_DELAY") {
		t.Errorf("expected error naming the variable, got %v", err)
	}
}

func TestDefault_DatabasePath(t *testing.T) {
	tests := []struct {
		name string
		path string
		want string
	}{
		{name: "relative to data dir", path: "", want: filepath.Join(".sanesync", "sanesync.db")},
		{name: "absolute", path: "/var/lib/sanesync.db", want: "/var/lib/sanesync.db"},
		{name: "in memory", path: ":memory:", want: ":memory:"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			if cfg.Store.MaxOpenConns != 25 || cfg.Store.ConnMaxLifetime != 5*time.Minute {
				t.Fatalf("unexpected store defaults: %+v", cfg.Store)
			}
			if tt.path != "" {
				cfg.Store.Path = tt.path
			}
			if got := cfg.DatabasePath(); got != tt.want {
				t.Errorf("DatabasePath() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		errPath string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{
			name:    "write delay below minimum",
			mutate:  func(c *Config) { c.Sync.WriteDelay = 100 * time.Millisecond },
			errPath: "sync.write_delay",
		},
		{
			name:    "unknown pair policy",
			mutate:  func(c *Config) { c.Sync.UnresolvedPairs = "ignore" },
			errPath: "sync.unresolved_pairs",
		},
		{
			name:    "unknown catalog",
			mutate:  func(c *Config) { c.Catalog.Type = "csv" },
			errPath: "catalog.type",
		},
		{
			name:    "file catalog without path",
			mutate:  func(c *Config) { c.Catalog.Type = CatalogFile },
			errPath: "catalog.file.path",
		},
		{
			name:    "malformed endpoint",
			mutate:  func(c *Config) { c.Catalog.Shopify.Endpoint = "not a url" },
			errPath: "catalog.shopify.endpoint",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Telemetry.Logging.Level = "loud" },
			errPath: "telemetry",
		},
		{
			name:    "malformed schedule",
			mutate:  func(c *Config) { c.Serve.Schedule = "every five minutes" },
			errPath: "serve.schedule",
		},
		{
			name:   "schedule with seconds",
			mutate: func(c *Config) { c.Serve.Schedule = "0 */5 * * * *" },
		},
		{
			name:    "missing schedule",
			mutate:  func(c *Config) { c.Serve.Schedule = "" },
			errPath: "serve.schedule",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errPath == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			var verrs ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("expected ValidationErrors, got %v", err)
			}
			found := false
			for _, e := range verrs {
				if e.Path == tt.errPath {
					found = true
				}
			}
			if !found {
				t.Errorf("expected error at %s, got %v", tt.errPath, err)
			}
		})
	}
}

func TestWrite_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", DefaultFileName)

	if err := Write(path, Default()); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	cfg, err := loadYAML(path)
	if err != nil {
		t.Fatalf("loadYAML failed: %v", err)
	}

	opts := cmp.Options{
		cmpopts.IgnoreFields(Config{}, "SourceFiles"),
		cmpopts.EquateEmpty(),
	}
	if diff := cmp.Diff(Default(), cfg, opts); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestValidationError_String(t *testing.T) {
	tests := []struct {
		err  ValidationError
		want string
	}{
		{ValidationError{Message: "boom"}, "boom"},
		{ValidationError{Path: "sync.write_delay", Message: "too small"}, "sync.write_delay: too small"},
		{ValidationError{File: "a.cue", Line: 3, Column: 7, Path: "sync", Message: "bad"}, "a.cue:3:7: sync: bad"},
	}
	for _, tt := range tests {
		if got := tt.err.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
