package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <recipe>",
		Short: "Validate a recipe",
		Long: `Validate a recipe file by compiling it against the built-in steps.

This command checks:
  - Recipe syntax (YAML, CUE, HCL or Starlark)
  - Settings and step configuration against their schemas
  - Every required tag is provided by an earlier step
  - The dependency graph has no cycles

The first contract violation is reported with its error code.`,
		Example: `  # Validate a YAML recipe
  strata validate recipes/default.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Debug().Str("path", args[0]).Msg("Validating recipe")

			c, err := loadAndCompile(cmd.Context(), args[0], nil)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "invalid: %s\n", describeError(err))
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d steps, fingerprint %s\n", c.plan.Len(), c.plan.Fingerprint())
			return nil
		},
	}

	return cmd
}
