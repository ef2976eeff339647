package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/matijagrcic/sane-shopify/pkg/catalog/file"
	"github.com/matijagrcic/sane-shopify/pkg/catalog/shopify"
	"github.com/matijagrcic/sane-shopify/pkg/config"
	"github.com/matijagrcic/sane-shopify/pkg/engine"
	"github.com/matijagrcic/sane-shopify/pkg/stores"
	"github.com/matijagrcic/sane-shopify/pkg/stores/memory"
	"github.com/matijagrcic/sane-shopify/pkg/telemetry"
)

// errNoPassphrase is returned by commands that need the secret store when
// the passphrase variable is unset.
var errNoPassphrase = errors.New("secret store passphrase is not set")

// app is the process-wide wiring shared by the commands.
type app struct {
	cfg    *config.Config
	tel    *telemetry.Telemetry
	logger zerolog.Logger

	store   *stores.SQLiteStore
	secrets *stores.SecretStore

	// Exactly one of shop and files is set, matching cfg.Catalog.Type.
	shop    *shopify.Client
	files   *file.Catalog
	catalog engine.SourceCatalog

	engine *engine.Orchestrator
}

func loadConfig(ctx context.Context) (*config.Config, error) {
	path := configPath
	if path == "" {
		if _, err := os.Stat(config.DefaultFileName); err == nil {
			path = config.DefaultFileName
		}
	}

	cfg, err := config.Load(ctx, path)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Telemetry.Logging.Level = logLevel
	}
	return cfg, nil
}

// openApp loads the configuration and opens the store, catalog and
// orchestrator. The caller must call close.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.NewTelemetry(&cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	a := &app{cfg: cfg, tel: tel, logger: tel.Logger.Component("cli")}

	store, err := openStore(ctx, cfg)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, err
	}
	a.store = store

	if passphrase := os.Getenv(cfg.Secrets.PassphraseEnv); passphrase != "" {
		cipher, err := stores.NewSecretCipher(passphrase)
		if err != nil {
			a.close(ctx)
			return nil, err
		}
		a.secrets = stores.NewSecretStore(store, cipher)
	} else {
		a.logger.Debug().Str("env", cfg.Secrets.PassphraseEnv).Msg("Secret store disabled")
	}

	if a.catalog, err = a.openCatalog(ctx); err != nil {
		a.close(ctx)
		return nil, err
	}

	persistCtx := context.WithoutCancel(ctx)
	tel.Events.Subscribe(store.EventSink(persistCtx, func(err error) {
		a.logger.Warn().Err(err).Msg("Failed to persist event")
	}), nil)

	if a.engine, err = a.newEngine(ctx, store, engine.WithEvents(tel.Events)); err != nil {
		a.close(ctx)
		return nil, err
	}
	return a, nil
}

// newEngine builds and initializes an orchestrator over target with the
// configured options. opts are applied last.
func (a *app) newEngine(ctx context.Context, target engine.TargetStore, opts ...engine.Option) (*engine.Orchestrator, error) {
	var secretStore engine.SecretStore
	if a.secrets != nil {
		secretStore = a.secrets
	}
	base := []engine.Option{
		engine.WithLogger(a.tel.Logger.Zerolog()),
		engine.WithMetrics(a.tel.Metrics),
		engine.WithTracer(a.tel.Tracer),
		engine.WithWriteDelay(a.cfg.Sync.WriteDelay),
		engine.WithPairPolicy(a.cfg.PairPolicy()),
	}
	o, err := engine.New(a.catalog, target, secretStore, append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	if err := o.Initialize(ctx); err != nil {
		return nil, err
	}
	return o, nil
}

// dryRunEngine returns an orchestrator whose writes go to an in-memory copy
// of the database.
func (a *app) dryRunEngine(ctx context.Context) (*engine.Orchestrator, *memory.Store, error) {
	docs, err := a.store.QueryAll(ctx, engine.Filter{})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to copy documents: %w", err)
	}
	scratch := memory.New()
	if err := scratch.Seed(docs...); err != nil {
		return nil, nil, err
	}

	o, err := a.newEngine(ctx, scratch, engine.WithWriteDelay(0))
	if err != nil {
		return nil, nil, err
	}
	return o, scratch, nil
}

// openStore opens the database and applies pending migrations.
func openStore(ctx context.Context, cfg *config.Config) (*stores.SQLiteStore, error) {
	storeCfg := cfg.Store
	storeCfg.Path = cfg.DatabasePath()
	if storeCfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(storeCfg.Path), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	store, err := stores.NewSQLiteStore(storeCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

func (a *app) openCatalog(ctx context.Context) (engine.SourceCatalog, error) {
	switch a.cfg.Catalog.Type {
	case config.CatalogFile:
		c, err := file.New(a.cfg.Catalog.File.Path,
			file.WithPageSize(a.cfg.Catalog.File.PageSize),
			file.WithLogger(a.tel.Logger.Zerolog()),
		)
		if err != nil {
			return nil, err
		}
		a.files = c
		return c, nil

	default:
		var secrets engine.Secrets
		if a.secrets != nil {
			var err error
			if secrets, err = a.secrets.Fetch(ctx); err != nil {
				return nil, err
			}
		}
		a.shop = shopify.New(a.cfg.Catalog.Shopify, secrets, shopify.WithLogger(a.tel.Logger.Zerolog()))
		return a.shop, nil
	}
}

// refreshSecrets hands the stored credentials to the Storefront client.
// Long-running commands call it before each run so `secrets save` from
// another process takes effect.
func (a *app) refreshSecrets(ctx context.Context) error {
	if a.shop == nil || a.secrets == nil {
		return nil
	}
	secrets, err := a.secrets.Fetch(ctx)
	if err != nil {
		return err
	}
	a.shop.SetSecrets(secrets)
	return nil
}

// record persists the summary of a finished run.
func (a *app) record(ctx context.Context, summary *engine.RunSummary) {
	if summary == nil {
		return
	}
	if err := a.store.RecordRun(context.WithoutCancel(ctx), summary); err != nil {
		a.logger.Warn().Err(err).Str("run_id", summary.RunID).Msg("Failed to record run")
	}
}

func (a *app) close(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := a.tel.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn().Err(err).Msg("Telemetry shutdown failed")
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to close store")
		}
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
