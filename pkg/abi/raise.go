package abi

import (
	"errors"
	"fmt"

	"github.com/nbdd0121/unwinding/internal/logflags"
	"github.com/nbdd0121/unwinding/pkg/arch"
	"github.com/nbdd0121/unwinding/pkg/finder"
	"github.com/nbdd0121/unwinding/pkg/unwind"
)

// fatalf aborts on a programming-error condition (restore_context install
// failure, an unknown RegisterRule::Architectural, an invalid personality
// return inside _Unwind_Resume): a single panic(fmt.Sprintf(...)) helper,
// delve-style, rather than scattering bare panic(err) calls.
func fatalf(format string, args ...interface{}) {
	if logflags.ABI() {
		logflags.ABILogger().Errorf(format, args...)
	}
	panic(fmt.Sprintf(format, args...))
}

// RaiseException implements _Unwind_RaiseException: a normal two-phase
// throw over this process's own stack.
func RaiseException(ex *UnwindException) ReasonCode {
	var saved arch.Context
	arch.SaveContext(&saved)
	return RaiseExceptionFrom(ex, saved.Clone(), defaultFinder(), unwind.LiveMemory)
}

// RaiseExceptionFrom runs the same two-phase search+cleanup protocol as
// RaiseException, but over an explicitly supplied starting context,
// finder and memory view instead of this process's live stack. Real
// callers never need this; it exists so pkg/scenario can drive the state
// machine against a synthetic stack built from a Starlark scenario
// description without performing unsafe reads of this process's own
// memory.
func RaiseExceptionFrom(ex *UnwindException, initial *arch.Context, f finder.SubFinder, mem unwind.MemReader) ReasonCode {
	handlerCFA, rc := searchPhase(ex, initial.Clone(), f, mem)
	if rc != HandlerFound {
		return rc
	}

	ex.private1 = nil
	ex.private2 = uintptr(handlerCFA)
	return cleanupPhase(ex, initial.Clone(), f, mem, handlerCFA, 0)
}

// searchPhase walks frames youngest-to-oldest calling each personality
// with SearchPhase: phase 1 of the two-phase protocol.
func searchPhase(ex *UnwindException, cur *arch.Context, f finder.SubFinder, mem unwind.MemReader) (uint64, ReasonCode) {
	for {
		fr, err := unwind.FromContext(cur, f)
		if err != nil {
			if errors.Is(err, unwind.EndOfStack) {
				return 0, EndOfStack
			}
			return 0, FatalPhase1Error
		}

		if fr.FDE.CIE.HasPersonality {
			if pfn, ok := lookupPersonality(fr.FDE.CIE.Personality); ok {
				uctx := &UnwindContext{frame: fr, ctx: cur}
				switch pfn(1, SearchPhase, ex.ExceptionClass, ex, uctx) {
				case ContinueUnwind:
				case HandlerFound:
					cfa, err := fr.CFA(mem)
					if err != nil {
						return 0, FatalPhase1Error
					}
					return cfa, HandlerFound
				default:
					return 0, FatalPhase1Error
				}
			}
		}

		next, err := fr.Unwind(mem)
		if err != nil {
			return 0, FatalPhase1Error
		}
		cur = next
	}
}

// cleanupPhase walks frames again from cur, calling each personality with
// CleanupPhase (and HandlerFrame at the frame whose CFA equals
// handlerCFA): phase 2 of the two-phase protocol. extraActions lets
// ForceUnwind reuse this loop with ForceUnwindAction also set.
func cleanupPhase(ex *UnwindException, cur *arch.Context, f finder.SubFinder, mem unwind.MemReader, handlerCFA uint64, extraActions Action) ReasonCode {
	for {
		fr, err := unwind.FromContext(cur, f)
		if err != nil {
			return FatalPhase2Error
		}

		actions := CleanupPhase | extraActions
		uctx := &UnwindContext{frame: fr, ctx: cur}
		cfa, err := fr.CFA(mem)
		if err == nil && cfa == handlerCFA {
			actions |= HandlerFrame
			uctx.isHandler = true
		}

		if fr.FDE.CIE.HasPersonality {
			if pfn, ok := lookupPersonality(fr.FDE.CIE.Personality); ok {
				switch pfn(1, actions, ex.ExceptionClass, ex, uctx) {
				case InstallContext:
					arch.RestoreContext(cur)
					fatalf("abi: restore_context returned")
				case ContinueUnwind:
				default:
					return FatalPhase2Error
				}
			}
		}

		next, err := fr.Unwind(mem)
		if err != nil {
			return FatalPhase2Error
		}
		cur = next
	}
}

// ForceUnwind implements _Unwind_ForceUnwind over this process's own
// stack: no search phase, a stop function consulted before each
// personality.
func ForceUnwind(ex *UnwindException, stop StopFn, stopArg uintptr) ReasonCode {
	var saved arch.Context
	arch.SaveContext(&saved)
	return ForceUnwindFrom(ex, saved.Clone(), defaultFinder(), unwind.LiveMemory, stop, stopArg)
}

// ForceUnwindFrom is ForceUnwind's synthetic-stack counterpart, used by
// Resume's forced-resume path and by pkg/scenario.
func ForceUnwindFrom(ex *UnwindException, cur *arch.Context, f finder.SubFinder, mem unwind.MemReader, stop StopFn, stopArg uintptr) ReasonCode {
	ex.private1 = stop
	ex.private2 = stopArg

	for {
		fr, err := unwind.FromContext(cur, f)
		endOfStack := errors.Is(err, unwind.EndOfStack)
		if err != nil && !endOfStack {
			return FatalPhase2Error
		}

		actions := ForceUnwindAction
		if endOfStack {
			actions |= EndOfStackAction
		}
		var uctx *UnwindContext
		if !endOfStack {
			uctx = &UnwindContext{frame: fr, ctx: cur}
		}

		if rc := stop(1, actions, ex.ExceptionClass, ex, uctx, stopArg); rc != NoReason {
			if endOfStack {
				return EndOfStack
			}
			return rc
		}
		if endOfStack {
			return EndOfStack
		}

		if fr.FDE.CIE.HasPersonality {
			if pfn, ok := lookupPersonality(fr.FDE.CIE.Personality); ok {
				switch pfn(1, ForceUnwindAction|CleanupPhase, ex.ExceptionClass, ex, uctx) {
				case InstallContext:
					arch.RestoreContext(cur)
					fatalf("abi: restore_context returned")
				case ContinueUnwind:
				default:
					return FatalPhase2Error
				}
			}
		}

		next, err := fr.Unwind(mem)
		if err != nil {
			return FatalPhase2Error
		}
		cur = next
	}
}

// Resume implements _Unwind_Resume: called from a landing pad with no
// matching handler of its own, continuing either phase 2 of a normal
// raise or a forced unwind. Never returns: it always either transfers
// control via restore_context or aborts.
func Resume(ex *UnwindException) {
	var saved arch.Context
	arch.SaveContext(&saved)

	if ex.isForced() {
		rc := ForceUnwindFrom(ex, saved.Clone(), defaultFinder(), unwind.LiveMemory, ex.private1, ex.private2)
		fatalf("abi: _Unwind_Resume (forced) fell through with reason %d", rc)
		return
	}

	handlerCFA := uint64(ex.private2)
	rc := cleanupPhase(ex, saved.Clone(), defaultFinder(), unwind.LiveMemory, handlerCFA, 0)
	fatalf("abi: _Unwind_Resume fell through with reason %d", rc)
}

// ResumeOrRethrow implements _Unwind_Resume_or_Rethrow: re-enters
// RaiseException for a normal exception, or continues forced unwind.
func ResumeOrRethrow(ex *UnwindException) ReasonCode {
	if ex.isForced() {
		return ForceUnwind(ex, ex.private1, ex.private2)
	}
	return RaiseException(ex)
}

// DeleteException implements _Unwind_DeleteException: invokes
// exception_cleanup with FOREIGN_EXCEPTION_CAUGHT if present, at most
// once.
func DeleteException(ex *UnwindException) {
	if ex.ExceptionCleanup == nil {
		return
	}
	cleanup := ex.ExceptionCleanup
	ex.ExceptionCleanup = nil
	cleanup(ForeignExceptionCaught, ex)
}

// Backtrace implements _Unwind_Backtrace: walks frames calling trace for
// each.
func Backtrace(trace TraceFn, arg uintptr) ReasonCode {
	var saved arch.Context
	arch.SaveContext(&saved)
	return BacktraceFrom(saved.Clone(), defaultFinder(), unwind.LiveMemory, trace, arg)
}

// BacktraceFrom is Backtrace's synthetic-stack counterpart.
func BacktraceFrom(cur *arch.Context, f finder.SubFinder, mem unwind.MemReader, trace TraceFn, arg uintptr) ReasonCode {
	for {
		fr, err := unwind.FromContext(cur, f)
		if err != nil {
			if errors.Is(err, unwind.EndOfStack) {
				return EndOfStack
			}
			return FatalPhase1Error
		}

		uctx := &UnwindContext{frame: fr, ctx: cur}
		if rc := trace(uctx, arg); rc != NoReason {
			return FatalPhase1Error
		}

		next, err := fr.Unwind(mem)
		if err != nil {
			return FatalPhase1Error
		}
		cur = next
	}
}
