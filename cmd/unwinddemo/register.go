package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var registerCmd = &cobra.Command{
	Use:   "register <scenario.star>",
	Short: "load a scenario script and report the frames it describes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sc, err := loadScenario(args[0])
		if err != nil {
			return err
		}
		sym := newSymtab(sc)
		w := newColorWriter()
		for i, f := range sc.Frames {
			name := sym.NameForPC(f.PC)
			w.colorf(ansiGreen, "frame %d", i)
			fmt.Fprintf(w, " %-16s pc=%#x size=%#x cfa_offset=%#x", name, f.PC, f.Size, f.CFAOffset)
			if f.Personality != "" {
				fmt.Fprintf(w, " personality=%s catches=%v", f.Personality, f.Catches)
			}
			fmt.Fprintln(w)
		}
		return nil
	},
}
