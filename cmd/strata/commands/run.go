package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/stratagen/strata/pkg/engine"
	"github.com/stratagen/strata/pkg/steps"
	"github.com/stratagen/strata/pkg/stores"
	"github.com/stratagen/strata/pkg/telemetry"
	"github.com/stratagen/strata/pkg/trace"
	"github.com/stratagen/strata/pkg/world"
)

type runOptions struct {
	runID         string
	seed          int64
	verboseSteps  []string
	archivePath   string
	policyPaths   []string
	metricsAddr   string
	serveMetrics  bool
	traceExporter string
	traceEndpoint string
	sampleRate    float64
}

func newRunCommand() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run <recipe>",
		Short: "Compile and execute a recipe",
		Long: `Compile a recipe, admit the plan through the policies and execute it on an
in-memory world.

Every run emits a trace that is:
  - Logged through the structured logger
  - Exported as OpenTelemetry spans (--trace-exporter)
  - Counted in Prometheus metrics (--metrics-addr)
  - Archived to SQLite (--archive)`,
		Example: `  # Run a recipe
  strata run recipes/default.yaml

  # Override the seed and trace erosion verbosely
  strata run recipes/default.yaml --seed 42 --verbose morphology.erosion

  # Archive the trace and print spans to stdout
  strata run recipes/default.yaml --archive runs.db --trace-exporter stdout

  # Serve metrics until interrupted
  strata run recipes/default.yaml --metrics-addr :9464 --serve-metrics`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecipe(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.runID, "run-id", "", "run identifier (default: random UUID)")
	cmd.Flags().Int64Var(&opts.seed, "seed", 0, "override the recipe seed")
	cmd.Flags().StringArrayVar(&opts.verboseSteps, "verbose", nil, "trace a step verbosely (repeatable)")
	cmd.Flags().StringVar(&opts.archivePath, "archive", "", "SQLite database to archive the run trace in")
	cmd.Flags().StringSliceVar(&opts.policyPaths, "policies", nil, "policy files or directories (.rego, .json)")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.Flags().BoolVar(&opts.serveMetrics, "serve-metrics", false, "keep serving metrics after the run until interrupted")
	cmd.Flags().StringVar(&opts.traceExporter, "trace-exporter", "none", "span exporter (none, stdout, otlp)")
	cmd.Flags().StringVar(&opts.traceEndpoint, "trace-endpoint", "", "OTLP gRPC endpoint")
	cmd.Flags().Float64Var(&opts.sampleRate, "trace-sample-rate", 1.0, "span sampling rate (0.0-1.0)")

	return cmd
}

func (o *runOptions) telemetryConfig() *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.Logging = loggingConfig()
	cfg.Tracing.Exporter = o.traceExporter
	cfg.Tracing.Enabled = o.traceExporter != "" && o.traceExporter != "none"
	cfg.Tracing.Endpoint = o.traceEndpoint
	cfg.Tracing.SamplingRate = o.sampleRate
	cfg.Metrics.ListenAddress = o.metricsAddr
	return cfg
}

func runRecipe(cmd *cobra.Command, path string, opts *runOptions) (err error) {
	ctx := cmd.Context()

	tel, err := telemetry.NewTelemetryWithLogger(opts.telemetryConfig(), logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if serr := tel.Shutdown(shutdownCtx); serr != nil {
			log.Warn().Err(serr).Msg("Telemetry shutdown failed")
		}
	}()
	ctx = tel.WithContext(ctx)

	if opts.metricsAddr != "" {
		addr, err := tel.Metrics.StartMetricsServer(ctx)
		if err != nil {
			return err
		}
		log.Info().Str("addr", addr).Msg("Serving metrics")
	}

	// Compile
	op := telemetry.StartOperation(ctx, "strata.compile")
	file, err := newRecipeLoader().LoadFile(op.Context, path)
	if err == nil {
		if cmd.Flags().Changed("seed") {
			file.Settings.Seed = opts.seed
		}
		var c *compiled
		c, err = compileFile(op.Context, file, opts.verboseSteps)
		if err == nil {
			op.End(nil)
			return executePlan(ctx, cmd, tel, c, opts)
		}
	}
	op.End(err)
	return fmt.Errorf("%s", describeError(err))
}

func executePlan(ctx context.Context, cmd *cobra.Command, tel *telemetry.Telemetry, c *compiled, opts *runOptions) error {
	// Admission
	pe, err := newPolicyEngine(ctx, opts.policyPaths)
	if err != nil {
		return err
	}
	result, admitErr := pe.Admit(ctx, c.plan, "run")
	if result != nil {
		for _, v := range append(result.Violations, result.Warnings...) {
			tel.Metrics.RecordPolicyViolation(v.Policy, string(v.Severity))
		}
		printPolicyResult(cmd.ErrOrStderr(), result)
	}
	if admitErr != nil {
		return admitErr
	}

	runID := opts.runID
	if runID == "" {
		runID = uuid.NewString()
	}
	runLog := tel.Logger.WithRunID(runID)

	sinks := trace.MultiSink{tel.Sink()}
	var archive *stores.TraceArchive
	if opts.archivePath != "" {
		store, err := openArchive(ctx, opts.archivePath)
		if err != nil {
			return err
		}
		defer store.Close()

		name := c.file.Name
		if name == "" {
			name = c.file.Path
		}
		archive = stores.NewTraceArchive(ctx, store, stores.WithRecipeName(name))
		sinks = append(sinks, archive)
	}

	settings := c.plan.Settings()
	adapter := world.NewMemoryAdapter(settings.Grid())
	wc, err := settings.NewWorld(adapter)
	if err != nil {
		return err
	}

	exec := engine.NewExecutor(c.registry,
		engine.WithTraceSink(sinks),
		engine.WithExecutorLogger(runLog.NewComponentLogger("executor").Zerolog()),
	)

	op := telemetry.StartOperation(ctx, "strata.execute")
	started := time.Now()
	runErr := exec.Execute(op.Context, wc, c.plan, engine.WithRunID(runID))
	op.End(runErr)

	if runErr != nil {
		tel.Events.Abort(runID, runErr)
		if archive != nil {
			archive.Abort(runID, runErr)
		}
	}
	if err := tel.Events.Flush(ctx); err != nil {
		runLog.WithError(err).Warn("Event flush failed")
	}
	if archive != nil {
		if err := archive.Err(); err != nil {
			runLog.WithError(err).Warn("Trace archive incomplete")
		}
	}
	if runErr != nil {
		return fmt.Errorf("run %s failed: %w", runID, runErr)
	}

	writeRunSummary(cmd.OutOrStdout(), runID, c, adapter, time.Since(started))

	if opts.serveMetrics && opts.metricsAddr != "" {
		log.Info().Msg("Run finished, serving metrics until interrupted")
		<-ctx.Done()
	}
	return nil
}

func openArchive(ctx context.Context, path string) (*stores.SQLiteStore, error) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

func writeRunSummary(w io.Writer, runID string, c *compiled, adapter *world.MemoryAdapter, took time.Duration) {
	fmt.Fprintln(w, headingStyle.Render("Run "+runID))
	fmt.Fprintf(w, "fingerprint: %s\n", c.plan.Fingerprint())
	fmt.Fprintf(w, "steps:       %d\n", c.plan.Len())
	fmt.Fprintf(w, "duration:    %s\n", took.Round(time.Millisecond))

	if elevation, ok := adapter.CommittedFloat32(steps.HostFieldElevation); ok && len(elevation) > 0 {
		lo, hi, land := elevation[0], elevation[0], 0
		for _, v := range elevation {
			lo = min(lo, v)
			hi = max(hi, v)
			if v > 0 {
				land++
			}
		}
		fmt.Fprintf(w, "elevation:   %.3f .. %.3f, %.1f%% above zero\n", lo, hi, 100*float64(land)/float64(len(elevation)))
	}
	if terrain, ok := adapter.CommittedInt32(steps.HostFieldTerrain); ok {
		counts := map[int32]int{}
		for _, v := range terrain {
			counts[v]++
		}
		fmt.Fprintf(w, "terrain:     %d distinct types\n", len(counts))
	}
	for _, name := range adapter.Commits() {
		fmt.Fprintf(w, "committed:   %s\n", name)
	}
}
