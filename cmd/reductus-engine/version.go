package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reductus/engine/internal/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show CLI version information",
		RunE:  runVersion,
	}
}

func runVersion(cmd *cobra.Command, _ []string) error {
	fmt.Fprintln(cmd.OutOrStdout(), version.Get().String())
	return nil
}
