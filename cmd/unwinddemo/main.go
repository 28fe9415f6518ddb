// Command unwinddemo exercises pkg/scenario's synthetic-stack harness
// from the command line: load a Starlark scenario script, walk it with
// _Unwind_Backtrace or drive a full two-phase _Unwind_RaiseException over
// it, and inspect the result as colorized text or as a pprof profile.
//
// It is not a port of any single teacher command; its subcommand layout
// (register/backtrace/raise/pprof/script) is grounded on delve's own
// cobra-based `dlv` root command, generalized from "attach to a real
// process" to "load a fabricated one".
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "unwinddemo",
	Short: "inspect the freestanding Itanium unwinder against synthetic stacks",
}

func main() {
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(backtraceCmd)
	rootCmd.AddCommand(raiseCmd)
	rootCmd.AddCommand(pprofCmd)
	rootCmd.AddCommand(scriptCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
