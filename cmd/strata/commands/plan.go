package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/stratagen/strata/pkg/engine"
)

func newPlanCommand() *cobra.Command {
	var (
		format       string
		outFile      string
		policyPaths  []string
		verboseSteps []string
	)

	cmd := &cobra.Command{
		Use:   "plan <recipe>",
		Short: "Compile a recipe into an execution plan",
		Long: `Compile a recipe into an execution plan and print it.

The plan:
  - Orders the selected steps by the tags they require and provide
  - Resolves every step configuration against its schema
  - Carries a fingerprint identifying the plan content
  - Is checked against the built-in and loaded policies`,
		Example: `  # Print the step order and fingerprint
  strata plan recipes/default.yaml

  # Write the plan document as JSON
  strata plan recipes/default.yaml --format json --out plan.json

  # Render the dependency graph
  strata plan recipes/default.yaml --format dot | dot -Tsvg > plan.svg

  # Check against custom policies
  strata plan recipes/default.yaml --policies ./policies`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			c, err := loadAndCompile(ctx, args[0], verboseSteps)
			if err != nil {
				return fmt.Errorf("%s", describeError(err))
			}

			pe, err := newPolicyEngine(ctx, policyPaths)
			if err != nil {
				return err
			}
			result, err := pe.Evaluate(ctx, c.plan, "plan")
			if err != nil {
				return err
			}

			var out io.Writer = cmd.OutOrStdout()
			if outFile != "" {
				f, err := os.Create(outFile)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", outFile, err)
				}
				defer f.Close()
				out = f
			}

			switch format {
			case "text":
				writePlanText(out, c)
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(c.plan); err != nil {
					return err
				}
			case "dot":
				fmt.Fprint(out, c.plan.DOT())
			default:
				return fmt.Errorf("unknown format %q: must be text, json or dot", format)
			}

			printPolicyResult(cmd.ErrOrStderr(), result)
			log.Debug().
				Str("fingerprint", c.plan.Fingerprint()).
				Int("steps", c.plan.Len()).
				Bool("allowed", result.Allowed).
				Msg("Plan compiled")

			return result.Err()
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format (text, json, dot)")
	cmd.Flags().StringVarP(&outFile, "out", "o", "", "write the plan to a file instead of stdout")
	cmd.Flags().StringSliceVar(&policyPaths, "policies", nil, "policy files or directories (.rego, .json)")
	cmd.Flags().StringArrayVar(&verboseSteps, "verbose", nil, "trace a step verbosely (repeatable)")

	return cmd
}

func writePlanText(w io.Writer, c *compiled) {
	settings := c.plan.Settings()

	name := c.file.Name
	if name == "" {
		name = c.file.Path
	}
	fmt.Fprintln(w, headingStyle.Render("Plan "+name))
	fmt.Fprintf(w, "fingerprint: %s\n", c.plan.Fingerprint())
	fmt.Fprintf(w, "seed:        %d\n", settings.Seed)
	fmt.Fprintf(w, "grid:        %dx%d\n", settings.Dimensions.Width, settings.Dimensions.Height)

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("#", "STEP", "STRATEGY", "DEPENDS ON", "TRACE")
	for _, s := range c.plan.Steps() {
		t.Row(
			fmt.Sprint(s.Index),
			s.ID,
			s.Config.Strategy,
			strings.Join(s.DependsOn, ", "),
			verbosityOf(settings, s),
		)
	}
	fmt.Fprintln(w, t.String())
}

func verbosityOf(settings engine.RunSettings, s engine.PlannedStep) string {
	if v, ok := settings.Trace.Steps[s.ID]; ok {
		return string(v)
	}
	return "off"
}
