package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/nbdd0121/unwinding/pkg/abi"
)

// hexUint64 is a pflag.Value accepting a plain decimal or 0x-prefixed hex
// literal, used for --exception-class. Only the packed uint64 form of a
// tag is accepted; a tag written as characters is rejected.
type hexUint64 uint64

func (h *hexUint64) String() string { return fmt.Sprintf("%#x", uint64(*h)) }
func (h *hexUint64) Type() string   { return "uint64" }
func (h *hexUint64) Set(s string) error {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return err
	}
	*h = hexUint64(v)
	return nil
}

var _ pflag.Value = (*hexUint64)(nil)

var raiseExceptionClass = hexUint64(0x474e5543432b2b00) // "GNUCC++\0", glibc's C++ tag

var raiseCmd = &cobra.Command{
	Use:   "raise <scenario.star>",
	Short: "drive _Unwind_RaiseException over a scenario's synthetic stack",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sc, err := loadScenario(args[0])
		if err != nil {
			return err
		}
		sym := newSymtab(sc)

		ex := &abi.UnwindException{ExceptionClass: uint64(raiseExceptionClass)}
		res := sc.RunRaise(ex)

		w := newColorWriter()
		for _, call := range res.Calls {
			color := ansiGreen
			if call.Phase == "search" {
				color = ansiYellow
			}
			w.colorf(color, "%-8s", call.Phase)
			fmt.Fprintf(w, " frame=%-16s personality=%s\n", sym.NameForPC(sc.Frames[call.FrameIndex].PC), call.Personality)
		}

		color := ansiGreen
		if res.Reason != abi.HandlerFound && res.Reason != abi.NoReason {
			color = ansiRed
		}
		w.colorf(color, "reason: %d\n", res.Reason)
		return nil
	},
}

func init() {
	raiseCmd.Flags().VarP(&raiseExceptionClass, "exception-class", "c", "exception class tag, decimal or 0x-prefixed hex")
}
