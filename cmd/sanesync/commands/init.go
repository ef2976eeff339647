package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/matijagrcic/sane-shopify/pkg/config"
)

func newInitCommand() *cobra.Command {
	var (
		catalogType string
		catalogFile string
		force       bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a sanesync workspace",
		Long: `Initialize a workspace: write a default configuration file, create the
data directory and the SQLite database, and apply the schema migrations.`,
		Example: `  # Storefront API catalog
  sanesync init

  # JSON export catalog
  sanesync init --catalog file --catalog-file ./export.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			path := configPath
			if path == "" {
				path = config.DefaultFileName
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}

			cfg := config.Default()
			cfg.Catalog.Type = catalogType
			cfg.Catalog.File.Path = catalogFile
			if err := config.ApplyEnv(cfg, os.LookupEnv); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			log.Info().Str("config", path).Str("catalog", cfg.Catalog.Type).Msg("Initializing workspace")

			if err := config.Write(path, cfg); err != nil {
				return err
			}
			fmt.Fprintf(out, "✓ Created config file: %s\n", path)

			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()
			fmt.Fprintf(out, "✓ Initialized SQLite database: %s\n", cfg.DatabasePath())

			fmt.Fprintln(out, "\nNext steps:")
			if cfg.Catalog.Type == config.CatalogShopify {
				fmt.Fprintf(out, "  export %s=<passphrase>\n", cfg.Secrets.PassphraseEnv)
				fmt.Fprintln(out, "  sanesync secrets save --shop <shop> --token <storefront token>")
			}
			fmt.Fprintln(out, "  sanesync sync all")
			return nil
		},
	}

	cmd.Flags().StringVar(&catalogType, "catalog", config.CatalogShopify, "catalog type (shopify, file)")
	cmd.Flags().StringVar(&catalogFile, "catalog-file", "", "JSON export path for the file catalog")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}
