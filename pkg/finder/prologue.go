//go:build amd64

package finder

import (
	"runtime/debug"
	"unsafe"

	"github.com/nbdd0121/unwinding/pkg/frame"
)

// CodeReaderFn returns up to n bytes of executable code starting at pc, or
// ok=false if pc isn't mapped readable. PrologueFinder never reads more
// than it needs to recognize a "push rbp; mov rbp, rsp" prologue.
type CodeReaderFn func(pc uint64, n int) (code []byte, ok bool)

// PrologueFinder is the last-resort sub-finder: when nothing else covers
// pc, it disassembles the few bytes at pc looking for a standard
// frame-pointer prologue and synthesizes a one-row FDE from it. This only
// ever helps when pc lands exactly on a function's entry point, since a
// push-rbp/mov-rbp-rsp sequence mid-function is indistinguishable from
// other code; it exists for the "no FDE at all for this range" case, not
// as a general substitute for real CFI.
type PrologueFinder struct {
	ReadCode CodeReaderFn
}

func (p PrologueFinder) FindFDE(pc uint64) (Result, bool) {
	if p.ReadCode == nil {
		return Result{}, false
	}
	code, ok := p.ReadCode(pc, 8)
	if !ok {
		return Result{}, false
	}
	fde, ok := frame.PrologueFallback(code, pc)
	if !ok {
		return Result{}, false
	}
	return Result{FDE: fde}, true
}

// DefaultPrologueFinder reads this process's own memory directly, the
// only way to recover from a pc that none of the registry/eh_frame_hdr/
// phdr sub-finders cover without a separate symbol table. A read from an
// unmapped pc would fault; readCodeLive recovers from that and reports a
// miss instead, since an invalid pc reaching this finder is an ordinary
// outcome (a corrupt frame, or stack exhaustion), not a programming error.
var DefaultPrologueFinder SubFinder = PrologueFinder{ReadCode: readCodeLive}

func readCodeLive(pc uint64, n int) (code []byte, ok bool) {
	// Without this, only a fault in the nil page would become a panic;
	// any other unmapped address would kill the process.
	defer debug.SetPanicOnFault(debug.SetPanicOnFault(true))
	defer func() {
		if recover() != nil {
			code, ok = nil, false
		}
	}()
	buf := make([]byte, n)
	src := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(pc))), n)
	copy(buf, src)
	return buf, true
}
