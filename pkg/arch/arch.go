// Package arch defines the architecture layer: the register-file type
// (Context) and the two assembly primitives used to snapshot and install
// it, plus the handful of per-target constants (stack-pointer /
// return-address DWARF register numbers and the private data size of an
// UnwindException header) the rest of the unwinder is parameterized by.
//
// Exactly one of context_amd64.go / context_arm64.go is compiled in,
// selected by GOARCH: one Context type per target, chosen at build time,
// no virtual dispatch.
package arch

import "fmt"

// Arch collects the constants a target must supply. It is never
// constructed outside this package; Current is set by the build-tagged
// init() in <GOARCH>.go (amd64.go / arm64.go).
type Arch struct {
	Name string

	// PtrSize is the width of a machine word on this target, in bytes.
	PtrSize int

	// SP and RA are the DWARF register numbers of the stack pointer and
	// the return-address column.
	SP int
	RA int

	// UnwindPrivateDataSize is UNWIND_PRIVATE_DATA_SIZE: the number of
	// machine words reserved after exception_cleanup in an
	// UnwindException header, sized to match the platform ABI.
	UnwindPrivateDataSize int
}

// Current is the architecture this binary was built for.
var Current *Arch

// MaxRegs bounds the DWARF register numbers this module's Context can
// address. It comfortably covers both supported targets: x86_64's GP/RIP
// registers (0-16) plus its vector registers (17-32), and AArch64's X0-X30
// plus SP (0-31) plus its vector registers (64-95).
const MaxRegs = 96

// Context is the register file save_context captures and restore_context
// installs: a fixed-size record holding every DWARF-numbered
// general-purpose register, plus stack pointer and return address.
//
// raw must remain Context's only field: context_<GOARCH>.s addresses it by
// constant offsets computed from go_asm.h, and adding a second field would
// silently invalidate every offset in the assembly.
type Context struct {
	raw [MaxRegs]uint64
}

// Reg returns the value of DWARF register n. An out-of-range register
// number is a fatal programming error, not a recoverable one: callers
// are expected to only ever pass register numbers that came
// out of a decoded RegisterRule, which this module has already range
// checked against MaxRegs at decode time.
func (c *Context) Reg(n int) uint64 {
	if n < 0 || n >= MaxRegs {
		fatalf("arch: register %d out of range (max %d)", n, MaxRegs-1)
	}
	return c.raw[n]
}

// SetReg stores v into DWARF register n.
func (c *Context) SetReg(n int, v uint64) {
	if n < 0 || n >= MaxRegs {
		fatalf("arch: register %d out of range (max %d)", n, MaxRegs-1)
	}
	c.raw[n] = v
}

// SP returns the current stack pointer.
func (c *Context) SP() uint64 { return c.Reg(Current.SP) }

// SetSP sets the stack pointer.
func (c *Context) SetSP(v uint64) { c.SetReg(Current.SP, v) }

// RA returns the current return address, aliased by _Unwind_GetIP and
// _Unwind_SetIP.
func (c *Context) RA() uint64 { return c.Reg(Current.RA) }

// SetRA sets the return address.
func (c *Context) SetRA(v uint64) { c.SetReg(Current.RA, v) }

// Clone returns an independent copy of c, used by Frame.Unwind to build
// the caller's register file without mutating the callee's.
func (c *Context) Clone() *Context {
	n := new(Context)
	n.raw = c.raw
	return n
}

// fatalf aborts the process. It is used only for the "programming error"
// class of failure: out-of-range register access, an unreachable
// RegisterRule::Architectural, or restore_context failing
// to install a context. These indicate a toolchain or ABI violation, not
// a recoverable runtime condition, so the library does not return an
// error for them.
func fatalf(format string, args ...interface{}) {
	panic(fmt.Sprintf(format, args...))
}
