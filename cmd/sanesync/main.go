package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/matijagrcic/sane-shopify/cmd/sanesync/commands"
	"github.com/matijagrcic/sane-shopify/pkg/config"
	"github.com/matijagrcic/sane-shopify/pkg/telemetry"
)

// Set with -ldflags "-X main.Version=...".
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	setupLogging()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := commands.Execute(ctx, Version, Commit, BuildDate); err != nil {
		log.Error().Err(err).Msg("sanesync failed")
		stop()
		os.Exit(1)
	}
}

// setupLogging configures the global logger used before the configuration
// is loaded. SANESYNC_LOG_LEVEL also caps the configured logger.
func setupLogging() {
	level := zerolog.InfoLevel
	if v := os.Getenv(config.EnvPrefix + "LOG_LEVEL"); v != "" {
		level = telemetry.ParseLevel(v)
		zerolog.SetGlobalLevel(level)
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
}
