package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var backtraceCmd = &cobra.Command{
	Use:   "backtrace <scenario.star>",
	Short: "walk a scenario's synthetic stack with _Unwind_Backtrace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sc, err := loadScenario(args[0])
		if err != nil {
			return err
		}
		sym := newSymtab(sc)
		res := sc.RunBacktrace()

		w := newColorWriter()
		for _, call := range res.Calls {
			pc := sc.Frames[call.FrameIndex].PC
			w.colorf(ansiGreen, "#%-3d", call.FrameIndex)
			fmt.Fprintf(w, " %s\n", sym.NameForPC(pc))
		}
		w.colorf(ansiYellow, "reason: %d\n", res.Reason)
		return nil
	},
}
