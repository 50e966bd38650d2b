// Command reductus-engine is the CLI front end for the reduction
// pipeline engine: it loads templates, runs calc_terminal, validates the
// satisfaction analyzer, round-trips the template-reload codec, and
// smoke-tests the Levenberg-Marquardt solver.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/reductus/engine/internal/cmdutil"
)

func main() {
	rootCmd := NewRootCmd()

	if err := rootCmd.Execute(); err != nil {
		var exitErr *cmdutil.ExitError
		if errors.As(err, &exitErr) {
			if !exitErr.Printed {
				fmt.Fprintln(os.Stderr, err)
			}
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cmdutil.ExitCodeFromError(err))
	}
}
