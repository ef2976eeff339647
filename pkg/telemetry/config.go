package telemetry

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// Config is the telemetry section of the sanesync configuration.
type Config struct {
	ServiceName    string `yaml:"service_name" json:"service_name"`
	ServiceVersion string `yaml:"service_version" json:"service_version"`
	Environment    string `yaml:"environment" json:"environment"`

	Logging LoggingConfig `yaml:"logging" json:"logging"`
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
	Events  EventsConfig  `yaml:"events" json:"events"`
}

// LoggingConfig configures the zerolog logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"` // console or json
	// Output is stdout, stderr or a file path opened for appending.
	Output string `yaml:"output" json:"output"`

	EnableCaller       bool   `yaml:"enable_caller" json:"enable_caller"`
	EnableSampling     bool   `yaml:"enable_sampling" json:"enable_sampling"`
	SamplingInitial    int    `yaml:"sampling_initial" json:"sampling_initial"`
	SamplingThereafter int    `yaml:"sampling_thereafter" json:"sampling_thereafter"`
	TimeFormat         string `yaml:"time_format" json:"time_format"`
}

// TracingConfig configures OpenTelemetry span export.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Exporter string `yaml:"exporter" json:"exporter"` // otlp, stdout or none
	// Endpoint is the OTLP gRPC collector, e.g. "localhost:4317".
	Endpoint     string  `yaml:"endpoint" json:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate" json:"sampling_rate"`

	MaxExportBatchSize int               `yaml:"max_export_batch_size" json:"max_export_batch_size"`
	ExportTimeout      time.Duration     `yaml:"export_timeout" json:"export_timeout"`
	Headers            map[string]string `yaml:"headers" json:"headers"`
	Insecure           bool              `yaml:"insecure" json:"insecure"`
}

// MetricsConfig configures the Prometheus registry and its HTTP endpoint.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled" json:"enabled"`
	ListenAddress string `yaml:"listen_address" json:"listen_address"`
	Path          string `yaml:"path" json:"path"`
	Namespace     string `yaml:"namespace" json:"namespace"`

	// DefaultHistogramBuckets are latency buckets in seconds.
	DefaultHistogramBuckets []float64 `yaml:"histogram_buckets" json:"histogram_buckets"`
}

// EventsConfig configures the run timeline publisher.
type EventsConfig struct {
	Enabled     bool `yaml:"enabled" json:"enabled"`
	BufferSize  int  `yaml:"buffer_size" json:"buffer_size"`
	EnableAsync bool `yaml:"enable_async" json:"enable_async"`
}

var (
	logLevels     = []string{"trace", "debug", "info", "warn", "error", "fatal"}
	logFormats    = []string{"console", "json"}
	traceExporter = []string{"otlp", "stdout", "none"}
)

// DefaultConfig returns the settings used by `sanesync init`: console logs
// on stderr, metrics on :9090, tracing off.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "sanesync",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:              "info",
			Format:             "console",
			Output:             "stderr",
			SamplingInitial:    100,
			SamplingThereafter: 100,
			TimeFormat:         "rfc3339",
		},
		Tracing: TracingConfig{
			Exporter:           "none",
			SamplingRate:       1.0,
			MaxExportBatchSize: 512,
			ExportTimeout:      30 * time.Second,
			Headers:            map[string]string{},
			Insecure:           true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			ListenAddress:           ":9090",
			Path:                    "/metrics",
			Namespace:               "sanesync",
			DefaultHistogramBuckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.2, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		Events: EventsConfig{
			Enabled:     true,
			BufferSize:  1000,
			EnableAsync: true,
		},
	}
}

// ProductionConfig logs JSON with sampling and exports a tenth of all traces
// over OTLP with TLS. The collector endpoint still has to be set.
func ProductionConfig() *Config {
	cfg := DefaultConfig()
	cfg.Environment = "production"
	cfg.Logging.Format = "json"
	cfg.Logging.EnableSampling = true
	cfg.Logging.TimeFormat = "unix"
	cfg.Tracing = TracingConfig{
		Enabled:            true,
		Exporter:           "otlp",
		SamplingRate:       0.1,
		MaxExportBatchSize: cfg.Tracing.MaxExportBatchSize,
		ExportTimeout:      cfg.Tracing.ExportTimeout,
		Headers:            map[string]string{},
	}
	return cfg
}

// DevelopmentConfig logs at debug with caller info and prints spans to stdout.
func DevelopmentConfig() *Config {
	cfg := DefaultConfig()
	cfg.Logging.Level = "debug"
	cfg.Logging.EnableCaller = true
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "stdout"
	return cfg
}

// Validate reports every problem found in the configuration.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.ServiceName != "", "service name is required")
	check(c.ServiceVersion != "", "service version is required")

	check(slices.Contains(logLevels, c.Logging.Level), "invalid log level %q", c.Logging.Level)
	check(slices.Contains(logFormats, c.Logging.Format), "invalid log format %q (want console or json)", c.Logging.Format)

	if c.Tracing.Enabled {
		check(slices.Contains(traceExporter, c.Tracing.Exporter), "invalid trace exporter %q", c.Tracing.Exporter)
		check(c.Tracing.Exporter != "otlp" || c.Tracing.Endpoint != "", "otlp exporter requires an endpoint")
	}
	check(c.Tracing.SamplingRate >= 0 && c.Tracing.SamplingRate <= 1,
		"trace sampling rate must be within [0, 1], got %g", c.Tracing.SamplingRate)

	check(!c.Metrics.Enabled || c.Metrics.ListenAddress != "", "metrics listen address is required when metrics are enabled")
	check(!c.Events.Enabled || !c.Events.EnableAsync || c.Events.BufferSize > 0,
		"event buffer size must be positive, got %d", c.Events.BufferSize)

	return errors.Join(errs...)
}
