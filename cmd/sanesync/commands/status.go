package commands

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/matijagrcic/sane-shopify/pkg/engine"
	"github.com/matijagrcic/sane-shopify/pkg/stores"
	"github.com/matijagrcic/sane-shopify/pkg/telemetry"
)

// statusReport is the --json output of `sanesync status`.
type statusReport struct {
	Database    string              `json:"database"`
	Credentials string              `json:"credentials"`
	ShopName    string              `json:"shop_name,omitempty"`
	Ready       bool                `json:"ready"`
	Documents   map[string]int      `json:"documents"`
	Runs        []engine.RunSummary `json:"runs"`
	Events      []telemetry.Event   `json:"events,omitempty"`
}

// Credential states reported by status.
const (
	credentialsDisabled = "disabled"
	credentialsMissing  = "missing"
	credentialsStored   = "stored"
)

func newStatusCommand() *cobra.Command {
	var (
		limit  int
		failed bool
		runID  string
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show stored credentials, document counts and recent runs",
		Example: `  # Last five failed runs
  sanesync status --failed --limit 5

  # Event timeline of one run
  sanesync status --run 5f0c...`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			state := a.engine.State()
			report := statusReport{
				Database:    a.cfg.DatabasePath(),
				Credentials: credentialsDisabled,
				ShopName:    state.ShopName,
				Ready:       state.Ready,
			}
			if err := a.store.HealthCheck(ctx); err != nil {
				return fmt.Errorf("database %s: %w", report.Database, err)
			}
			if a.secrets != nil {
				secrets, err := a.secrets.Fetch(ctx)
				if err != nil {
					return err
				}
				report.Credentials = credentialsMissing
				if !secrets.Empty() {
					report.Credentials = credentialsStored
				}
			}

			if report.Documents, err = a.store.CountDocuments(ctx); err != nil {
				return err
			}

			filter := stores.RunFilter{Limit: limit}
			if failed {
				filter.Status = string(engine.RunStatusFailed)
			}
			if report.Runs, err = a.store.ListRuns(ctx, filter); err != nil {
				return err
			}
			if runID != "" {
				if report.Events, err = a.store.ListEvents(ctx, stores.EventFilter{RunID: runID, Limit: 1000}); err != nil {
					return err
				}
			}

			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), report)
			}
			printStatus(cmd.OutOrStdout(), report)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of runs to show")
	cmd.Flags().BoolVar(&failed, "failed", false, "show failed runs only")
	cmd.Flags().StringVar(&runID, "run", "", "show the event timeline of a run")
	return cmd
}

func printStatus(w io.Writer, r statusReport) {
	fmt.Fprintf(w, "Database:    %s\n", r.Database)
	fmt.Fprintf(w, "Credentials: %s", r.Credentials)
	if r.ShopName != "" {
		fmt.Fprintf(w, " (%s, ready=%t)", r.ShopName, r.Ready)
	}
	fmt.Fprintln(w)

	types := make([]string, 0, len(r.Documents))
	for t := range r.Documents {
		types = append(types, t)
	}
	sort.Strings(types)
	fmt.Fprintln(w, "Documents:")
	for _, t := range types {
		fmt.Fprintf(w, "  %-20s %d\n", t, r.Documents[t])
	}

	fmt.Fprintln(w, "Recent runs:")
	if len(r.Runs) == 0 {
		fmt.Fprintln(w, "  none")
	}
	for _, run := range r.Runs {
		fmt.Fprintf(w, "  %s  %-24s %-9s %8s  +%d ~%d =%d archived=%d\n",
			run.StartedAt.Local().Format(time.DateTime), run.Operation, run.Status,
			run.Duration().Round(time.Millisecond), run.Created, run.Updated, run.Skipped, len(run.Archived))
		if run.Error != "" {
			fmt.Fprintf(w, "      error: %s\n", run.Error)
		}
	}

	if len(r.Events) > 0 {
		fmt.Fprintln(w, "Events:")
		for _, ev := range r.Events {
			fmt.Fprintf(w, "  %s  %-7s %-18s %s\n", ev.Timestamp.Local().Format(time.TimeOnly), ev.Level, ev.Type, ev.Message)
		}
	}
}
