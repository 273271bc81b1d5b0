// Command txq applies transactions to their state URIs in causal order.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/txq/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
