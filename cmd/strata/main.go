// Command strata resolves dataset definitions and runs them against a
// REST backend through the fragment cache.
package main

import (
	"os"

	"github.com/roach88/strata/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(cli.GetExitCode(err))
	}
}
