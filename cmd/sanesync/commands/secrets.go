package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/matijagrcic/sane-shopify/pkg/engine"
)

func newSecretsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage Storefront API credentials",
		Long: `Manage the Storefront API credentials kept in the local database.

Credentials are encrypted with a key derived from the passphrase in the
variable named by secrets.passphrase_env (SANESYNC_SECRET_KEY by default).`,
	}

	cmd.AddCommand(newSecretsSaveCommand())
	cmd.AddCommand(newSecretsTestCommand())
	cmd.AddCommand(newSecretsClearCommand())
	return cmd
}

func newSecretsSaveCommand() *cobra.Command {
	var secrets engine.Secrets

	cmd := &cobra.Command{
		Use:     "save",
		Short:   "Test and store credentials",
		Example: `  SANESYNC_SECRET_KEY=... sanesync secrets save --shop demo --token shpat_...`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.close(ctx)
			if a.secrets == nil {
				return fmt.Errorf("%w: set %s", errNoPassphrase, a.cfg.Secrets.PassphraseEnv)
			}

			if err := a.engine.SaveSecrets(ctx, secrets); err != nil {
				return err
			}
			state := a.engine.State()
			if state.Phase == engine.PhaseSecretsError {
				return errors.New(state.Error)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved credentials for %s\n", state.ShopName)
			return nil
		},
	}

	cmd.Flags().StringVar(&secrets.ShopName, "shop", "", "shop name (the <shop> in <shop>.myshopify.com)")
	cmd.Flags().StringVar(&secrets.AccessToken, "token", "", "Storefront API access token")
	_ = cmd.MarkFlagRequired("shop")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}

func newSecretsTestCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Test the stored credentials against the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.close(ctx)
			if a.secrets == nil {
				return fmt.Errorf("%w: set %s", errNoPassphrase, a.cfg.Secrets.PassphraseEnv)
			}

			secrets, err := a.secrets.Fetch(ctx)
			if err != nil {
				return err
			}
			check := a.engine.TestSecrets(ctx, secrets)
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), check)
			}
			if check.IsError {
				return fmt.Errorf("credentials rejected: %s", check.Message)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Credentials for %s are valid\n", secrets.ShopName)
			return nil
		},
	}
}

func newSecretsClearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove the stored credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.close(ctx)
			if a.secrets == nil {
				return fmt.Errorf("%w: set %s", errNoPassphrase, a.cfg.Secrets.PassphraseEnv)
			}

			if err := a.engine.ClearSecrets(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Cleared credentials")
			return nil
		},
	}
}
