package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/reductus/engine/internal/cmdutil"
	"github.com/reductus/engine/internal/satisfy"
	"github.com/reductus/engine/internal/template"
)

func newValidateCmd() *cobra.Command {
	var target int

	cmd := &cobra.Command{
		Use:   "validate TEMPLATE_FILE",
		Short: "Validate a template's structure and check satisfaction of a target node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return cmdutil.NewExitError(err, cmdutil.ExitGeneralError)
			}

			tmpl, err := template.Import(data, app.Registry)
			if err != nil {
				return cmdutil.NewExitError(err, cmdutil.ExitCodeFromError(err))
			}

			if err := tmpl.Validate(app.Registry); err != nil {
				return cmdutil.NewExitError(err, cmdutil.ExitCodeFromError(err))
			}
			fmt.Fprintln(cmd.OutOrStdout(), "template structure: ok")

			result, err := satisfy.Check(tmpl, app.Registry, target)
			if err != nil {
				return cmdutil.NewExitError(err, cmdutil.ExitCodeFromError(err))
			}

			if result.Satisfied {
				fmt.Fprintf(cmd.OutOrStdout(), "target %d: satisfied\n", target)
				return nil
			}

			fmt.Fprintf(cmd.OutOrStdout(), "target %d: unsatisfied\n", target)
			for node, reason := range result.Reasons {
				fmt.Fprintf(cmd.OutOrStdout(), "  node %d: %s\n", node, reason)
			}
			return cmdutil.NewExitError(fmt.Errorf("target %d is not satisfied", target), cmdutil.ExitValidation)
		},
	}

	cmd.Flags().IntVar(&target, "target", 0, "index of the module node to check")
	return cmd
}
