package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/reductus/engine/internal/cmdutil"
	"github.com/reductus/engine/internal/reload"
)

func newReloadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reload DATA_FILE",
		Short: "Recover the originating template from a previously exported data file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return cmdutil.NewExitError(err, cmdutil.ExitGeneralError)
			}

			doc, err := reload.Decode(data)
			if err != nil {
				return cmdutil.NewExitError(err, cmdutil.ExitCodeFromError(err))
			}

			fmt.Fprintf(cmd.OutOrStdout(), "format: %s\n", doc.Format)
			if len(doc.Template) > 0 {
				var pretty any
				if err := json.Unmarshal(doc.Template, &pretty); err == nil {
					encoded, _ := json.MarshalIndent(pretty, "", "  ")
					fmt.Fprintf(cmd.OutOrStdout(), "template:\n%s\n", encoded)
				}
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "template: (none embedded)")
			}

			if len(doc.ColumnNames) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "columns: %v (%d rows)\n", doc.ColumnNames, len(doc.Columns))
			}
			return nil
		},
	}
	return cmd
}
