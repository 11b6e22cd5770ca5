package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/stratagen/strata/pkg/engine"
	"github.com/stratagen/strata/pkg/steps"
)

var headingStyle = lipgloss.NewStyle().Bold(true)

func newStepsCommand() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "steps",
		Short: "List registered tags and steps",
		Long: `List the dependency tags and the built-in generation steps with the tags
each step requires and provides.`,
		Example: `  # Show tags and steps as tables
  strata steps

  # Machine-readable listing
  strata steps --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := steps.NewRegistry()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(stepsListing(reg))
			}

			tags := table.New().
				Border(lipgloss.NormalBorder()).
				Headers("TAG", "KIND", "DESCRIPTION")
			for _, t := range reg.Tags().All() {
				tags.Row(t.ID, string(t.Kind), t.Description)
			}

			defs := table.New().
				Border(lipgloss.NormalBorder()).
				Headers("STEP", "PHASE", "REQUIRES", "PROVIDES")
			for _, d := range reg.All() {
				defs.Row(d.ID, d.Phase, strings.Join(d.Requires, "\n"), strings.Join(d.Provides, "\n"))
			}

			fmt.Fprintln(out, headingStyle.Render("Tags"))
			fmt.Fprintln(out, tags.String())
			fmt.Fprintln(out, headingStyle.Render("Steps"))
			fmt.Fprintln(out, defs.String())
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	return cmd
}

type stepListing struct {
	ID          string   `json:"id"`
	Phase       string   `json:"phase,omitempty"`
	Description string   `json:"description,omitempty"`
	Requires    []string `json:"requires"`
	Provides    []string `json:"provides"`
	Config      any      `json:"defaults,omitempty"`
}

func stepsListing(reg *engine.StepRegistry) map[string]any {
	defs := reg.All()
	out := make([]stepListing, len(defs))
	for i, d := range defs {
		out[i] = stepListing{
			ID:          d.ID,
			Phase:       d.Phase,
			Description: d.Description,
			Requires:    append([]string{}, d.Requires...),
			Provides:    append([]string{}, d.Provides...),
		}
		if d.Config != nil {
			out[i].Config = d.Config.Defaults().Document()
		}
	}
	return map[string]any{
		"tags":  reg.Tags().All(),
		"steps": out,
	}
}
