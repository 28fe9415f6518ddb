// Package abi implements the two-phase unwind state machine
// and the external ABI surface: _Unwind_RaiseException,
// _Unwind_ForceUnwind, _Unwind_Resume, _Unwind_Resume_or_Rethrow,
// _Unwind_Backtrace, _Unwind_DeleteException, the _Unwind_Get*/_Unwind_Set*
// context accessors, and the __register_frame family.
//
// Grounded on delve's pkg/proc.(*Target) call-injection state machine for
// the "drive a loop of frames, call out to a callback per frame, act on
// its verdict" shape (see proc/fncall.go's callInjection phases, not
// present verbatim in the retrieval pack but the same phase-by-phase
// design delve documents in pkg/proc/stack.go's Stacktrace/FrameBase
// split) generalized to the Itanium ABI's own phase 1/phase 2 split.
package abi

import (
	"github.com/nbdd0121/unwinding/pkg/arch"
	"github.com/nbdd0121/unwinding/pkg/unwind"
)

// ReasonCode is UnwindReasonCode: fixed integer values matching the
// Itanium C++ ABI so a foreign personality (libgcc, libc++abi) can
// interpret a code this library returns and vice versa.
type ReasonCode int32

const (
	NoReason ReasonCode = iota
	ForeignExceptionCaught
	_ // reserved, matches the Itanium ABI's unused value 2
	_ // reserved, matches the Itanium ABI's unused value 3
	FatalPhase2Error
	FatalPhase1Error
	NormalStop
	EndOfStack
	HandlerFound
	InstallContext
	ContinueUnwind
)

// Action is UnwindAction: bitflags, combinable by OR, passed to a
// personality or stop function.
type Action uint32

const (
	SearchPhase Action = 1 << iota
	CleanupPhase
	HandlerFrame
	ForceUnwindAction
	EndOfStackAction
)

// PersonalityFn is the per-CIE personality routine a language runtime
// attaches to its functions, called once per frame per phase.
type PersonalityFn func(version int, actions Action, exceptionClass uint64, ex *UnwindException, ctx *UnwindContext) ReasonCode

// StopFn is the callback _Unwind_ForceUnwind drives instead of consulting
// personalities for a search phase.
type StopFn func(version int, actions Action, exceptionClass uint64, ex *UnwindException, ctx *UnwindContext, stopArg uintptr) ReasonCode

// TraceFn is the callback _Unwind_Backtrace drives once per frame.
type TraceFn func(ctx *UnwindContext, arg uintptr) ReasonCode

// UnwindException is the Itanium ABI exception header: repr(C), 16 bytes
// of common header plus arch.Current.UnwindPrivateDataSize words of
// private data. Host runtimes embed this at offset 0 of
// their own exception allocation and recover it by pointer arithmetic, so
// field order and size here are load-bearing, not just documentation.
type UnwindException struct {
	ExceptionClass   uint64
	ExceptionCleanup func(reason ReasonCode, ex *UnwindException)

	// private_1: nil means a normal two-phase raise is in progress;
	// non-nil is the stop function of a forced unwind.
	private1 StopFn
	// private_2: the handler CFA recorded in phase 1 (normal raise), or
	// the stop function's user argument (forced unwind).
	private2 uintptr

	// Reserved tail filling out arch.UnwindPrivateDataWords: private1 and
	// private2 already account for two of those words, so reserved holds
	// the rest (4 on x86_64, 3 on AArch64). Sized per GOARCH so the
	// struct's total size matches what a foreign libgcc/libc++abi
	// consumer expects on each target.
	reserved [arch.UnwindPrivateDataWords - 2]uintptr
}

// isForced reports whether this exception is mid forced-unwind (private_1
// set to a non-nil stop function).
func (ex *UnwindException) isForced() bool { return ex.private1 != nil }

// UnwindContext is the short-lived (frame, Context) borrow pair handed to
// a personality/stop/trace callback for exactly one invocation.
type UnwindContext struct {
	frame *unwind.Frame
	ctx   *arch.Context

	// handlerCFA is not filled in by raise.go: cleanupPhase compares each
	// frame's CFA against its own handlerCFA argument and records a match
	// in isHandler, which is what marks the one frame with HandlerFrame.
	handlerCFA uint64
	isHandler  bool
}
