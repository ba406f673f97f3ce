// Command ptsync keeps a local copy of an account's update stream in sync.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/ptsync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		// Subcommands silence cobra's own error printing.
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
