// Package unwindcfg selects and validates the compiled-in architecture
// this build of the unwinder targets. pkg/arch already picks the right
// Arch via its own per-file build tags; unwindcfg's job is narrower: it
// exposes that singleton through Arch(), and it asserts at init that the
// build tag actually matches
// runtime.GOARCH (catching a mismatched cross-build rather than silently
// unwinding with the wrong register numbering). The other packages of
// this module read arch.Current directly and do not import unwindcfg, so
// that check runs only in a program that imports this package.
package unwindcfg

import (
	"fmt"
	"runtime"

	"github.com/nbdd0121/unwinding/pkg/arch"
)

func init() {
	if arch.Current == nil {
		panic("unwindcfg: pkg/arch has no Current Arch for this build (unsupported GOARCH)")
	}
	if arch.Current.Name != runtime.GOARCH {
		panic(fmt.Sprintf("unwindcfg: built for %s but running on %s", arch.Current.Name, runtime.GOARCH))
	}
}

// Arch returns the single compiled-in architecture description. There is
// no runtime reconfiguration: one Context type per target, selected at
// build time, made visible to the rest of the module.
func Arch() *arch.Arch { return arch.Current }
