// Command rcmflow validates, runs, tests and serves revenue-cycle workflow
// rules.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/rcmflow/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
