package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/cosiner/argv"
	liner "github.com/go-delve/liner"
	"github.com/spf13/cobra"

	"github.com/nbdd0121/unwinding/pkg/abi"
	"github.com/nbdd0121/unwinding/pkg/scenario"
)

// scriptCmd is a line-edited interactive shell for issuing raise/
// backtrace/force-unwind commands against one loaded scenario, tokenized
// with cosiner/argv exactly as delve's own command REPL tokenizes user
// input before dispatching to a command table.
var scriptCmd = &cobra.Command{
	Use:   "script <scenario.star>",
	Short: "interactive shell for driving a scenario's state machine",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sc, err := loadScenario(args[0])
		if err != nil {
			return err
		}
		return runShell(sc)
	},
}

func runShell(sc *scenario.Scenario) error {
	sym := newSymtab(sc)

	line := liner.NewLiner()
	defer line.Close()
	line.SetCompleter(func(input string) []string {
		return sym.Complete(input)
	})

	w := newColorWriter()
	fmt.Fprintln(w, "unwinddemo interactive shell: raise, backtrace, force-unwind <n>, quit")

	for {
		input, err := line.Prompt("(unwind) ")
		if err == io.EOF {
			fmt.Fprintln(w)
			return nil
		}
		if err != nil {
			return err
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		tokens, err := argv.Argv(input, nil, nil)
		if err != nil {
			w.colorf(ansiRed, "parse error: %v\n", err)
			continue
		}
		if len(tokens) == 0 || len(tokens[0]) == 0 {
			continue
		}
		args := tokens[0]

		switch args[0] {
		case "quit", "exit":
			return nil
		case "raise":
			res := sc.RunRaise(&abi.UnwindException{ExceptionClass: 0x474e5543432b2b00})
			printCalls(w, sc, sym, res)
		case "backtrace", "bt":
			res := sc.RunBacktrace()
			printCalls(w, sc, sym, res)
		case "force-unwind":
			n := 0
			if len(args) > 1 {
				n, _ = strconv.Atoi(args[1])
			}
			res := sc.RunForceUnwind(&abi.UnwindException{ExceptionClass: 0x474e5543432b2b00}, n)
			printCalls(w, sc, sym, res)
		default:
			w.colorf(ansiRed, "unknown command %q\n", args[0])
		}
	}
}

func printCalls(w *colorWriter, sc *scenario.Scenario, sym *symtab, res *scenario.Result) {
	for _, call := range res.Calls {
		pc := sc.Frames[call.FrameIndex].PC
		fmt.Fprintf(w, "  %-10s %s\n", call.Phase, sym.NameForPC(pc))
	}
	w.colorf(ansiYellow, "reason: %d\n", res.Reason)
}
