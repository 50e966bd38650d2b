package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/reductus/engine/internal/cmdutil"
	"github.com/reductus/engine/internal/engine"
	"github.com/reductus/engine/internal/template"
)

func newCalcCmd() *cobra.Command {
	var (
		target      int
		returnType  string
		exportType  string
		concatenate bool
		outFile     string
	)

	cmd := &cobra.Command{
		Use:   "calc TEMPLATE_FILE",
		Short: "Evaluate a template's terminal and print the result",
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

			out, err := app.Engine.CalcTerminal(cmd.Context(), engine.Request{
				Template:    tmpl,
				Target:      target,
				ReturnType:  returnType,
				ExportType:  exportType,
				Concatenate: concatenate,
			})
			if err != nil {
				return cmdutil.NewExitError(err, cmdutil.ExitCodeFromError(err))
			}

			encoded, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return cmdutil.NewExitError(err, cmdutil.ExitGeneralError)
			}

			if outFile != "" {
				if err := os.WriteFile(outFile, encoded, 0o644); err != nil {
					return cmdutil.NewExitError(err, cmdutil.ExitGeneralError)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", outFile)
				return nil
			}

			fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
			return nil
		},
	}

	cmd.Flags().IntVar(&target, "target", 0, "index of the module node to evaluate")
	cmd.Flags().StringVar(&returnType, "return-type", "", "shape of the result: metadata, plottable, export or full (default full)")
	cmd.Flags().StringVar(&exportType, "export-type", "", "export type recorded in the request (part of its cache key)")
	cmd.Flags().BoolVar(&concatenate, "concatenate", false, "concatenate flag recorded in the request (part of its cache key)")
	cmd.Flags().StringVar(&outFile, "out", "", "write the result to this file instead of stdout")

	return cmd
}
