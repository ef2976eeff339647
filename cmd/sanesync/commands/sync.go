package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/matijagrcic/sane-shopify/pkg/engine"
	"github.com/matijagrcic/sane-shopify/pkg/stores/memory"
)

type syncFunc func(ctx context.Context, o *engine.Orchestrator, cbs engine.Callbacks) (*engine.RunSummary, error)

// dryRun routes writes to an in-memory copy of the database.
var dryRun bool

func newSyncCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync products and collections into the document store",
		Long: `Sync products and collections from the catalog into the document store.

Full syncs (all, products, collections) also archive documents whose items
are gone from the catalog. Targeted syncs archive the one document when its
item no longer exists.`,
		Example: `  # Sync everything
  sanesync sync all

  # Sync one product and print the run summary as JSON
  sanesync sync product linen-shirt --json

  # Sync by Storefront id
  sanesync sync item gid://shopify/Collection/42

  # Show what a full sync would change without saving anything
  sanesync sync all --dry-run`,
	}
	cmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "sync against an in-memory copy of the database")

	cmd.AddCommand(newSyncSubcommand("all", "Sync all products and collections", cobra.NoArgs,
		func(ctx context.Context, o *engine.Orchestrator, cbs engine.Callbacks) (*engine.RunSummary, error) {
			return o.SyncAll(ctx, cbs)
		}))
	cmd.AddCommand(newSyncSubcommand("products", "Sync all products", cobra.NoArgs,
		func(ctx context.Context, o *engine.Orchestrator, cbs engine.Callbacks) (*engine.RunSummary, error) {
			return o.SyncProducts(ctx, cbs)
		}))
	cmd.AddCommand(newSyncSubcommand("collections", "Sync all collections", cobra.NoArgs,
		func(ctx context.Context, o *engine.Orchestrator, cbs engine.Callbacks) (*engine.RunSummary, error) {
			return o.SyncCollections(ctx, cbs)
		}))
	cmd.AddCommand(newTargetedSyncCommand("product <handle>", "Sync one product by handle",
		func(ctx context.Context, o *engine.Orchestrator, arg string, cbs engine.Callbacks) (*engine.RunSummary, error) {
			return o.SyncProductByHandle(ctx, arg, cbs)
		}))
	cmd.AddCommand(newTargetedSyncCommand("collection <handle>", "Sync one collection by handle",
		func(ctx context.Context, o *engine.Orchestrator, arg string, cbs engine.Callbacks) (*engine.RunSummary, error) {
			return o.SyncCollectionByHandle(ctx, arg, cbs)
		}))
	cmd.AddCommand(newTargetedSyncCommand("item <id>", "Sync one product or collection by id",
		func(ctx context.Context, o *engine.Orchestrator, arg string, cbs engine.Callbacks) (*engine.RunSummary, error) {
			return o.SyncItemByID(ctx, arg, cbs)
		}))

	return cmd
}

func newSyncSubcommand(use, short string, args cobra.PositionalArgs, fn syncFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd, fn)
		},
	}
}

func newTargetedSyncCommand(use, short string, fn func(ctx context.Context, o *engine.Orchestrator, arg string, cbs engine.Callbacks) (*engine.RunSummary, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, func(ctx context.Context, o *engine.Orchestrator, cbs engine.Callbacks) (*engine.RunSummary, error) {
				return fn(ctx, o, args[0], cbs)
			})
		},
	}
}

// runSync opens the app, runs fn and reports the summary.
func runSync(cmd *cobra.Command, fn syncFunc) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	out := cmd.OutOrStdout()
	var cbs engine.Callbacks
	if !jsonOutput {
		cbs = progressCallbacks(out)
	}

	o := a.engine
	var scratch *memory.Store
	if dryRun {
		if o, scratch, err = a.dryRunEngine(ctx); err != nil {
			return err
		}
	}

	summary, err := fn(ctx, o, cbs)
	if scratch == nil {
		a.record(ctx, summary)
	}
	if err != nil {
		a.logger.Debug().Err(err).Msg("Sync failed")
		if jsonOutput && summary != nil {
			_ = writeJSON(out, summary)
		}
		return err
	}

	if jsonOutput {
		return writeJSON(out, summary)
	}
	printSummary(out, summary)
	if scratch != nil {
		fmt.Fprintf(out, "\nDry run: %d writes, nothing saved\n", len(scratch.Writes()))
	}
	return nil
}

// progressCallbacks prints one line per fetched page, synced item, link
// change and archived document.
func progressCallbacks(w io.Writer) engine.Callbacks {
	return engine.Callbacks{
		OnFetched: func(page []engine.SourceItem) {
			fmt.Fprintf(w, "Fetched %d items\n", len(page))
		},
		OnSynced: func(op engine.SyncOperation) {
			fmt.Fprintf(w, "%-7s %s %s\n", op.Type, op.Document.Type, op.Document.Handle)
		},
		OnLinked: func(link engine.LinkOperation) {
			if len(link.Removed) == 0 && len(link.Unresolved) == 0 {
				return
			}
			fmt.Fprintf(w, "linked  %s: %d related, %d removed, %d unresolved\n",
				link.Document.Handle, len(link.Pairs), len(link.Removed), len(link.Unresolved))
		},
		OnArchived: func(doc engine.TargetDocument) {
			fmt.Fprintf(w, "archive %s %s\n", doc.Type, doc.Handle)
		},
	}
}

func printSummary(w io.Writer, s *engine.RunSummary) {
	fmt.Fprintf(w, "\n%s %s in %s\n", s.Operation, s.Status, s.Duration().Round(time.Millisecond))
	fmt.Fprintf(w, "  fetched:  %d\n", s.Fetched)
	fmt.Fprintf(w, "  created:  %d\n", s.Created)
	fmt.Fprintf(w, "  updated:  %d\n", s.Updated)
	fmt.Fprintf(w, "  skipped:  %d\n", s.Skipped)
	fmt.Fprintf(w, "  linked:   %d\n", s.Linked)
	fmt.Fprintf(w, "  archived: %d\n", len(s.Archived))
	if len(s.Unresolved) > 0 {
		fmt.Fprintf(w, "  unresolved: %v\n", s.Unresolved)
	}
}
