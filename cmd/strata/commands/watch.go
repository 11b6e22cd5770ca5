package commands

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/stratagen/strata/pkg/config"
)

func newWatchCommand() *cobra.Command {
	var (
		debounce    time.Duration
		policyPaths []string
	)

	cmd := &cobra.Command{
		Use:   "watch <recipe>",
		Short: "Recompile a recipe whenever it changes",
		Long: `Watch a recipe file and recompile it on every change, printing the new
fingerprint. Invalid edits are reported and the watch continues.

Each plan is checked against the built-in policies and any loaded with
--policies; policy files are reloaded when they change.`,
		Example: `  # Recompile on save
  strata watch recipes/default.cue

  # Also follow a policy directory
  strata watch recipes/default.cue --policies ./policies`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			pe, err := newPolicyEngine(ctx, policyPaths)
			if err != nil {
				return err
			}
			if len(policyPaths) > 0 {
				policyLoader, err := pe.Watch(ctx, policyPaths)
				if err != nil {
					return err
				}
				defer func() { _ = policyLoader.StopWatching() }()
			}

			watcher := config.NewWatcher(newRecipeLoader(), args[0],
				config.WithDebounce(debounce),
				config.WithWatcherLogger(logger.NewComponentLogger("watch").Zerolog()),
			)

			var last string
			return watcher.Watch(ctx, func(file *config.File, err error) {
				if err == nil {
					var c *compiled
					if c, err = compileFile(ctx, file, nil); err == nil {
						fp := c.plan.Fingerprint()
						status := "unchanged"
						if fp != last {
							status = "changed"
						}
						last = fp

						result, perr := pe.Evaluate(ctx, c.plan, "watch")
						switch {
						case perr != nil:
							log.Warn().Err(perr).Msg("Policy evaluation failed")
							status += ", policy error"
						case !result.Allowed:
							status += ", denied"
						}
						fmt.Fprintf(out, "%s %s (%d steps, %s)\n",
							time.Now().Format(time.TimeOnly), fp, c.plan.Len(), status)
						if result != nil {
							printPolicyResult(out, result)
						}
						return
					}
				}
				log.Warn().Err(err).Msg("Recipe is invalid")
				fmt.Fprintf(out, "%s invalid: %s\n", time.Now().Format(time.TimeOnly), describeError(err))
			})
		},
	}

	cmd.Flags().StringSliceVar(&policyPaths, "policies", nil, "policy files or directories to load and follow")
	cmd.Flags().DurationVar(&debounce, "debounce", 200*time.Millisecond, "wait this long after the last change before recompiling")

	return cmd
}
