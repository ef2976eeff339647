package commands

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/robfig/cron"
	"github.com/spf13/cobra"

	"github.com/matijagrcic/sane-shopify/pkg/engine"
)

func newServeCommand() *cobra.Command {
	var (
		schedule   string
		runOnStart bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run scheduled full syncs and expose metrics",
		Long: `Run a full sync on a cron schedule until interrupted.

The schedule takes a seconds field ("0 */15 * * * *") or a descriptor such
as "@every 15m" or "@hourly". When metrics are enabled the Prometheus
endpoint is served alongside. A tick that fires while the previous run is
still going is skipped.`,
		Example: `  # Sync every 15 minutes, starting now
  sanesync serve --schedule "@every 15m" --run-on-start`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			if cmd.Flags().Changed("schedule") {
				a.cfg.Serve.Schedule = schedule
			}
			if cmd.Flags().Changed("run-on-start") {
				a.cfg.Serve.RunOnStart = runOnStart
			}
			return serve(ctx, a)
		},
	}

	cmd.Flags().StringVar(&schedule, "schedule", "", "cron schedule (overrides serve.schedule)")
	cmd.Flags().BoolVar(&runOnStart, "run-on-start", false, "run a full sync immediately")
	return cmd
}

// jobTracker counts in-flight sync jobs. Once stopped it refuses new jobs, so
// Add never races the final Wait.
type jobTracker struct {
	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

// begin registers a job and reports whether it may run.
func (t *jobTracker) begin() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return false
	}
	t.wg.Add(1)
	return true
}

func (t *jobTracker) done() { t.wg.Done() }

// run executes fn in the calling goroutine unless the tracker is stopped.
func (t *jobTracker) run(fn func()) bool {
	if !t.begin() {
		return false
	}
	defer t.done()
	fn()
	return true
}

// stop refuses further jobs and waits for the running ones.
func (t *jobTracker) stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
	t.wg.Wait()
}

// serve blocks until ctx is cancelled, running SyncAll on the configured
// schedule.
func serve(ctx context.Context, a *app) error {
	var (
		running atomic.Bool
		jobs    jobTracker
	)
	runOnce := func(trigger string) {
		logger := a.logger.With().Str("trigger", trigger).Logger()
		if !running.CompareAndSwap(false, true) {
			logger.Warn().Msg("Previous sync still running, skipping")
			return
		}
		defer running.Store(false)

		if err := a.refreshSecrets(ctx); err != nil {
			logger.Error().Err(err).Msg("Failed to load credentials")
			return
		}
		summary, err := a.engine.SyncAll(ctx, engine.Callbacks{})
		a.record(ctx, summary)
		if err != nil {
			logger.Error().Err(err).Msg("Scheduled sync failed")
		}
	}

	scheduler := cron.New()
	if err := scheduler.AddFunc(a.cfg.Serve.Schedule, func() {
		jobs.run(func() { runOnce("schedule") })
	}); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", a.cfg.Serve.Schedule, err)
	}
	scheduler.Start()
	defer func() {
		scheduler.Stop()
		jobs.stop()
	}()

	a.logger.Info().Str("schedule", a.cfg.Serve.Schedule).Msg("Sync scheduler started")
	if a.cfg.Serve.RunOnStart && jobs.begin() {
		go func() {
			defer jobs.done()
			runOnce("start")
		}()
	}

	return a.tel.Metrics.Serve(ctx)
}
