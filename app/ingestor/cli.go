package ingestor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/fredx-io/fredx/pkg/db/models/series"
	"github.com/fredx-io/fredx/pkg/ingest/orchestrator"
	"github.com/fredx-io/fredx/pkg/redis"
	"github.com/fredx-io/fredx/pkg/utils"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	LogLevel string
	Format   string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// ErrSyncFailures is returned by the sync command when at least one series failed.
var ErrSyncFailures = errors.New("one or more series failed")

// NewRootCommand creates the root command of the ingestor CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "fredx",
		Short:         "Ingest FRED time series into PostgreSQL",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", utils.Env("LOG_LEVEL", "info"), "log level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(newSyncCommand(opts))
	cmd.AddCommand(newStatusCommand(opts))
	cmd.AddCommand(newInitDBCommand(opts))
	cmd.AddCommand(newDedupeCommand(opts))
	cmd.AddCommand(newEventsCommand(opts))

	return cmd
}

func newSyncCommand(root *RootOptions) *cobra.Command {
	var (
		seriesList string
		dryRun     bool
	)

	cmd := &cobra.Command{
		Use:   "sync [SERIES_ID...]",
		Short: "Fetch series and upsert their metadata and observations",
		Example: `  fredx sync GDP UNRATE
  fredx sync --series GDP,CPIAUCSL --lookback-days 90
  fredx sync GDP --update --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := append(utils.SplitList(seriesList), args...)
			if len(utils.Dedup(ids)) == 0 {
				return errors.New("no series ids given")
			}
			opts := syncOptions(cmd)

			ctx := cmd.Context()
			app, err := Initialize(ctx, Config{LogLevel: root.LogLevel, DryRun: dryRun})
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.Store.InitializeDB(ctx); err != nil {
				return fmt.Errorf("initialize schema: %w", err)
			}

			summary := app.Orchestrator.SyncMany(ctx, ids, opts)
			if err := writeSummary(cmd.OutOrStdout(), root.Format, summary); err != nil {
				return err
			}
			if summary.Failed > 0 {
				return fmt.Errorf("%w: %d of %d", ErrSyncFailures, summary.Failed, summary.TotalSeries)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&seriesList, "series", "", "comma separated series ids")
	cmd.Flags().Bool("update", false, "overwrite metadata of series that already exist")
	cmd.Flags().Int("lookback-days", 0, "only request observations from the last N days (new series still get full history)")
	cmd.Flags().Bool("full", false, "request the full observation history")
	cmd.Flags().Duration("delay", orchestrator.DefaultSeriesDelay, "delay between consecutive series")
	cmd.Flags().Int("concurrency", 1, "number of series synced at once")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "write to an in-memory store instead of PostgreSQL")
	cmd.MarkFlagsMutuallyExclusive("full", "lookback-days")

	return cmd
}

// syncOptions applies the flags the user set on top of the environment defaults.
func syncOptions(cmd *cobra.Command) orchestrator.Options {
	opts := orchestrator.OptionsFromEnv()
	f := cmd.Flags()
	if f.Changed("update") {
		opts.UpdateMetadata, _ = f.GetBool("update")
	}
	if f.Changed("lookback-days") {
		days, _ := f.GetInt("lookback-days")
		opts.Window = orchestrator.Lookback(days)
	}
	if full, _ := f.GetBool("full"); full {
		opts.Window = orchestrator.FullHistory()
	}
	if f.Changed("delay") {
		opts.SeriesDelay, _ = f.GetDuration("delay")
	}
	if f.Changed("concurrency") {
		opts.Concurrency, _ = f.GetInt("concurrency")
	}
	return opts
}

func writeSummary(w io.Writer, format string, s orchestrator.Summary) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SERIES\tSTATUS\tADDED\tUPDATED\tREJECTED\tAPI CALLS\tDURATION\tERROR")
	for _, r := range s.Results {
		status := "ok"
		if !r.Success {
			status = "failed"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
			r.SeriesID, status, r.RecordsAdded, r.RecordsUpdated, r.Rejected, r.APICalls,
			r.Duration.Round(time.Millisecond), r.Error)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\nrun %s: %d/%d succeeded, %d failed, %d api calls\n",
		s.RunID, s.Succeeded, s.TotalSeries, s.Failed, s.TotalAPICalls)
	return err
}

func newStatusCommand(root *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "status SERIES_ID...",
		Short: "Show recent sync attempts of series",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := Initialize(ctx, Config{LogLevel: root.LogLevel})
			if err != nil {
				return err
			}
			defer app.Close()

			history := make(map[string][]series.SyncAttempt)
			for _, id := range utils.Dedup(args) {
				attempts, err := app.Ledger.History(ctx, id, limit)
				if err != nil {
					return err
				}
				history[id] = attempts
			}
			return writeHistory(cmd.OutOrStdout(), root.Format, utils.Dedup(args), history)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "number of attempts per series")
	return cmd
}

func writeHistory(w io.Writer, format string, ids []string, history map[string][]series.SyncAttempt) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(history)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SERIES\tSYNC DATE\tSTATUS\tADDED\tUPDATED\tAPI CALLS\tERROR")
	for _, id := range ids {
		attempts := history[id]
		if len(attempts) == 0 {
			fmt.Fprintf(tw, "%s\tnever\t\t\t\t\t\n", id)
			continue
		}
		for _, a := range attempts {
			status := "ok"
			if !a.Success {
				status = "failed"
			}
			msg := ""
			if a.ErrorMessage != nil {
				msg = *a.ErrorMessage
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
				id, a.SyncDate.Format(time.RFC3339), status, a.RecordsAdded, a.RecordsUpdated, a.APICallsUsed, msg)
		}
	}
	return tw.Flush()
}

func newInitDBCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init-db",
		Short: "Create the tables and the observation unique constraint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := Initialize(ctx, Config{LogLevel: root.LogLevel})
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.Store.InitializeDB(ctx); err != nil {
				return err
			}
			app.Logger.Info("Schema ready")
			return nil
		},
	}
}

func newDedupeCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "dedupe",
		Short: "Remove duplicate observations and add the unique constraint",
		Long: `Deletes all but the newest row of every (series_id, observation_date) pair and then
adds the unique constraint upserts depend on. Both steps run in one transaction.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := Initialize(ctx, Config{LogLevel: root.LogLevel})
			if err != nil {
				return err
			}
			defer app.Close()

			var removed int64
			err = app.Store.InTx(ctx, func(ctx context.Context) error {
				n, err := app.Store.DeduplicateObservations(ctx)
				if err != nil {
					return err
				}
				removed = n
				return app.Store.EnsureUniqueConstraint(ctx)
			})
			if err != nil {
				return fmt.Errorf("dedupe: %w", err)
			}
			app.Logger.Info("Duplicate observations removed", zap.Int64("rows", removed))
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "removed %d duplicate observations\n", removed)
			return err
		},
	}
}

func newEventsCommand(root *RootOptions) *cobra.Command {
	var from string

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Tail sync events from the Redis stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !redis.Enabled() {
				return errors.New("REDIS_HOST is not set")
			}
			ctx := cmd.Context()
			app, err := Initialize(ctx, Config{LogLevel: root.LogLevel})
			if err != nil {
				return err
			}
			defer app.Close()
			if app.Redis == nil {
				return errors.New("redis is unavailable")
			}
			if err := app.Redis.Health(ctx); err != nil {
				return fmt.Errorf("redis health: %w", err)
			}

			consumer, err := redis.NewStreamConsumer(app.Redis, redis.StreamConsumerConfig{
				LastID: from,
				Logger: app.Logger,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			err = consumer.Run(ctx, func(_ context.Context, msg redis.Message) error {
				ev, err := msg.SyncEvent()
				if err != nil {
					return err
				}
				return writeEvent(out, root.Format, ev)
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVar(&from, "from", "$", `stream position to start at ("0" for the beginning, "$" for new events)`)
	return cmd
}

func writeEvent(w io.Writer, format string, ev series.SyncEvent) error {
	if format == "json" {
		return json.NewEncoder(w).Encode(ev)
	}
	status := "ok"
	if !ev.Success {
		status = "failed: " + ev.Error
	}
	_, err := fmt.Fprintf(w, "%s %s run=%s added=%d updated=%d rejected=%d %s\n",
		ev.SyncedAt.Format(time.RFC3339), ev.SeriesID, ev.RunID, ev.RecordsAdded, ev.RecordsUpdated, ev.Rejected, status)
	return err
}
