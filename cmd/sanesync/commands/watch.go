package commands

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
)

func newWatchCommand() *cobra.Command {
	var initial bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-sync whenever the catalog export file changes",
		Long: `Watch the JSON export used by the file catalog and run a full sync
each time it changes. Bursts of writes are coalesced using
catalog.file.watch_debounce. Requires catalog.type: file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			if a.files == nil {
				return errors.New("watch requires catalog.type: file")
			}

			out := cmd.OutOrStdout()
			syncAll := func(ctx context.Context) error {
				summary, err := a.engine.SyncAll(ctx, progressCallbacks(out))
				a.record(ctx, summary)
				if err == nil {
					printSummary(out, summary)
				}
				return err
			}

			if initial {
				if err := syncAll(ctx); err != nil {
					return err
				}
			}

			w, err := a.files.Watch(ctx, a.cfg.Catalog.File.WatchDebounce, syncAll)
			if err != nil {
				return err
			}
			defer w.Close()

			a.logger.Info().Str("path", a.files.Path()).Msg("Watching catalog")
			select {
			case <-ctx.Done():
			case <-w.Done():
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&initial, "initial", true, "run a full sync before watching")
	return cmd
}
