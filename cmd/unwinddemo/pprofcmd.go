package main

import (
	"fmt"
	"os"

	"github.com/google/pprof/profile"
	"github.com/spf13/cobra"
)

var pprofOut string

// pprofCmd turns a scenario's _Unwind_Backtrace walk into a one-sample
// pprof profile, the same "walked stack -> profile.proto" conversion
// dispatchrun/wzprof does for wasm call stacks, so the result can be
// opened with `go tool pprof -http=:0 <file>` for a flame graph of a
// scenario's synthetic frames.
var pprofCmd = &cobra.Command{
	Use:   "pprof <scenario.star>",
	Short: "export a scenario's backtrace as a pprof profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sc, err := loadScenario(args[0])
		if err != nil {
			return err
		}
		sym := newSymtab(sc)
		res := sc.RunBacktrace()

		prof := &profile.Profile{
			SampleType: []*profile.ValueType{{Type: "samples", Unit: "count"}},
			PeriodType: &profile.ValueType{Type: "trace", Unit: "count"},
			Period:     1,
		}

		locByPC := map[uint64]*profile.Location{}
		var sampleLocs []*profile.Location
		for _, call := range res.Calls {
			pc := sc.Frames[call.FrameIndex].PC
			loc, ok := locByPC[pc]
			if !ok {
				fn := &profile.Function{
					ID:   uint64(len(prof.Function)) + 1,
					Name: sym.NameForPC(pc),
				}
				prof.Function = append(prof.Function, fn)
				loc = &profile.Location{
					ID:      uint64(len(prof.Location)) + 1,
					Address: pc,
					Line:    []profile.Line{{Function: fn}},
				}
				prof.Location = append(prof.Location, loc)
				locByPC[pc] = loc
			}
			sampleLocs = append(sampleLocs, loc)
		}
		prof.Sample = append(prof.Sample, &profile.Sample{
			Location: sampleLocs,
			Value:    []int64{1},
		})

		if err := prof.CheckValid(); err != nil {
			return fmt.Errorf("building profile: %w", err)
		}

		out := os.Stdout
		if pprofOut != "" && pprofOut != "-" {
			f, err := os.Create(pprofOut)
			if err != nil {
				return err
			}
			defer f.Close()
			out = f
		}
		return prof.Write(out)
	},
}

func init() {
	pprofCmd.Flags().StringVarP(&pprofOut, "output", "o", "-", "output file, \"-\" for stdout")
}
