package telemetry

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process logger built from LoggingConfig.
type Logger struct {
	zlog zerolog.Logger
}

var timeFieldFormats = map[string]string{
	"unix":    zerolog.TimeFormatUnix,
	"unixms":  zerolog.TimeFormatUnixMs,
	"rfc3339": time.RFC3339,
}

// NewLogger opens cfg.Output and builds a zerolog logger on top of it.
// TimeFormat sets zerolog's package-wide timestamp format.
func NewLogger(cfg LoggingConfig) (*Logger, error) {
	out, err := logOutput(cfg.Output)
	if err != nil {
		return nil, err
	}
	if cfg.Format == "console" {
		consoleTime := time.RFC3339
		if cfg.TimeFormat == "kitchen" {
			consoleTime = time.Kitchen
		}
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: consoleTime}
	}

	if f, ok := timeFieldFormats[cfg.TimeFormat]; ok {
		zerolog.TimeFieldFormat = f
	} else {
		zerolog.TimeFieldFormat = time.RFC3339
	}

	ctx := zerolog.New(out).Level(ParseLevel(cfg.Level)).With().Timestamp()
	if cfg.EnableCaller {
		ctx = ctx.Caller()
	}
	zlog := ctx.Logger()

	if cfg.EnableSampling {
		zlog = zlog.Sample(&zerolog.BurstSampler{
			Burst:       uint32(cfg.SamplingInitial),
			Period:      time.Second,
			NextSampler: &zerolog.BasicSampler{N: uint32(cfg.SamplingThereafter)},
		})
	}
	return &Logger{zlog: zlog}, nil
}

func logOutput(output string) (io.Writer, error) {
	switch output {
	case "", "stderr":
		return os.Stderr, nil
	case "stdout":
		return os.Stdout, nil
	}
	return os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// Zerolog returns the underlying logger.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zlog
}

// Component returns a logger tagged with component=name.
func (l *Logger) Component(name string) zerolog.Logger {
	return l.zlog.With().Str("component", name).Logger()
}

// ParseLevel converts a level name to a zerolog level. Unknown or empty
// names map to info.
func ParseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}
