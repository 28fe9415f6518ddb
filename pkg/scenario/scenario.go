// Package scenario builds a synthetic call stack — fabricated FDEs, a
// fabricated stack image, and a starting register context — and drives
// pkg/abi's two-phase state machine over it instead of over this
// process's own live stack. It exists so the state machine's frame-walk,
// reason-code, and personality-dispatch logic can be exercised
// deterministically without depending on the Go compiler's own stack
// layout or unwind tables.
//
// Grounded on go-delve/delve's own test fixtures, which build small
// fixed assembly programs to pin down unwinder behavior (see
// _fixtures/... driven from pkg/proc's stacktrace tests) — this package
// is the freestanding equivalent, synthesizing CFI records directly
// instead of compiling fixture binaries, since this module has no
// compiler toolchain of its own to drive.
package scenario

import (
	"fmt"

	"github.com/nbdd0121/unwinding/pkg/abi"
	"github.com/nbdd0121/unwinding/pkg/arch"
	"github.com/nbdd0121/unwinding/pkg/finder"
	"github.com/nbdd0121/unwinding/pkg/frame"
)

// FrameSpec describes one synthetic activation record, innermost frame
// first, the way a call stack is described when walking outward from the
// throw site ("frame 0 throws", "frame k catches").
type FrameSpec struct {
	PC   uint64
	Size uint64

	// CFAOffset and RAOffset parameterize the one-instruction-pair CFA
	// program this frame gets: "CFA = incoming SP + CFAOffset" and "RA is
	// saved at CFA + RAOffset".
	CFAOffset uint64
	RAOffset  int64

	// Personality names this frame's personality routine for the call
	// log; empty means the frame has no personality (a leaf with no
	// exception-handling code of its own).
	Personality string

	// Catches, if Personality is non-empty, makes the personality return
	// HandlerFound during the search phase instead of ContinueUnwind.
	Catches bool
}

// Scenario is a complete synthetic stack plus the starting register
// state to walk it from.
type Scenario struct {
	Frames    []FrameSpec
	InitialSP uint64
}

// CallRecord is one personality/stop/trace invocation a Run observed,
// in the order the state machine made it.
type CallRecord struct {
	FrameIndex  int
	Personality string
	Phase       string // "search", "cleanup", "forced", "trace"
	Actions     abi.Action
}

// Result is what a scenario run produced: the reason code the top-level
// ABI entry point returned, plus the full call log for assertions about
// *which* frames were visited and in what phase.
type Result struct {
	Reason abi.ReasonCode
	Calls  []CallRecord
}

// dwarf CFA opcodes this package emits. Mirrors pkg/frame's unexported
// decode-side table; scenario owns the encode side since nothing else in
// this module ever needs to write a CFA program, only read one.
const (
	opDefCFA = 0x0c
	opOffset = 0x80
)

func uleb128(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			return out
		}
	}
}

// buildProgram encodes "DW_CFA_def_cfa(sp, cfaOffset); DW_CFA_offset(ra,
// -raOffset)", using a data alignment factor of -1 so the short-form
// DW_CFA_offset instruction's unsigned operand can still express a
// negative saved-RA displacement.
func buildProgram(spReg, raReg int, cfaOffset uint64, raOffset int64) []byte {
	var prog []byte
	prog = append(prog, opDefCFA)
	prog = append(prog, uleb128(uint64(spReg))...)
	prog = append(prog, uleb128(cfaOffset)...)

	prog = append(prog, byte(opOffset)|byte(raReg))
	prog = append(prog, uleb128(uint64(-raOffset))...)
	return prog
}

// build constructs the synthetic FDEs, the personality registrations, the
// initial register context, and the backing stack image for s.
func (s *Scenario) build(log *[]CallRecord) (finder.SubFinder, *arch.Context, *memoryImage, []func()) {
	spReg := arch.Current.SP
	raReg := arch.Current.RA

	fdes := make(frame.FrameDescriptionEntries, len(s.Frames))
	cfas := make([]uint64, len(s.Frames))
	cleanups := make([]func(), 0, len(s.Frames))

	sp := s.InitialSP
	for i, f := range s.Frames {
		cfa := sp + f.CFAOffset
		cfas[i] = cfa
		sp = cfa

		cie := &frame.CommonInformationEntry{
			CodeAlignmentFactor: 1,
			DataAlignmentFactor: -1,
			ReturnAddressColumn: uint64(raReg),
		}
		if f.Personality != "" {
			addr := syntheticPersonalityAddr(i)
			cie.HasPersonality = true
			cie.Personality = addr
			name, catches := f.Personality, f.Catches
			idx := i
			fn := makePersonality(idx, name, catches, log)
			abi.RegisterPersonality(addr, fn)
			cleanups = append(cleanups, func() { abi.UnregisterPersonality(addr) })
		}

		fdes[i] = &frame.FrameDescriptionEntry{
			CIE:          cie,
			Begin:        f.PC,
			End:          f.PC + f.Size,
			Instructions: buildProgram(spReg, raReg, f.CFAOffset, f.RAOffset),
		}
	}

	mem := &memoryImage{words: map[uint64]uint64{}}
	for i, f := range s.Frames {
		var ra uint64
		if i+1 < len(s.Frames) {
			ra = s.Frames[i+1].PC + 1
		}
		mem.words[uint64(int64(cfas[i])+f.RAOffset)] = ra
	}

	initial := &arch.Context{}
	initial.SetSP(s.InitialSP)
	if len(s.Frames) > 0 {
		initial.SetRA(s.Frames[0].PC + 1)
	}

	return staticFinder(fdes), initial, mem, cleanups
}

func syntheticPersonalityAddr(i int) uint64 { return 0xdead0000 + uint64(i) }

func makePersonality(idx int, name string, catches bool, log *[]CallRecord) abi.PersonalityFn {
	return func(version int, actions abi.Action, exceptionClass uint64, ex *abi.UnwindException, ctx *abi.UnwindContext) abi.ReasonCode {
		phase := "cleanup"
		if actions&abi.SearchPhase != 0 {
			phase = "search"
		}
		*log = append(*log, CallRecord{FrameIndex: idx, Personality: name, Phase: phase, Actions: actions})

		if actions&abi.SearchPhase != 0 {
			if catches {
				return abi.HandlerFound
			}
			return abi.ContinueUnwind
		}

		// Cleanup phase: deliberately never returns InstallContext. Doing
		// so would make the generic code call arch.RestoreContext and
		// transfer control into this scenario's fabricated (non-existent)
		// code and stack, which only makes sense against a real call
		// stack. A scenario run only asserts on the reason code and the
		// call log, not on an actual landing-pad transfer.
		return abi.ContinueUnwind
	}
}

// memoryImage is the unwind.MemReader backing a scenario's fabricated
// stack: a sparse word-addressed map rather than a contiguous byte slice,
// since the fabricated CFAs need not be contiguous or realistic
// addresses.
type memoryImage struct {
	words map[uint64]uint64
}

func (m *memoryImage) ReadWord(addr uint64) (uint64, error) {
	v, ok := m.words[addr]
	if !ok {
		return 0, fmt.Errorf("scenario: read from unmapped synthetic address %#x", addr)
	}
	return v, nil
}

// staticFinder adapts a fixed, already-sorted FrameDescriptionEntries
// slice to finder.SubFinder without needing pkg/finder's section-parsing
// machinery at all.
type fdeSliceFinder frame.FrameDescriptionEntries

func (f fdeSliceFinder) FindFDE(pc uint64) (finder.Result, bool) {
	fde := frame.FrameDescriptionEntries(f).FDEForPC(pc)
	if fde == nil {
		return finder.Result{}, false
	}
	return finder.Result{FDE: fde}, true
}

func staticFinder(fdes frame.FrameDescriptionEntries) finder.SubFinder {
	sorted := make(frame.FrameDescriptionEntries, len(fdes))
	copy(sorted, fdes)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1].Begin > sorted[j].Begin; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	return fdeSliceFinder(sorted)
}

// RunRaise drives abi.RaiseExceptionFrom over the scenario's synthetic
// stack.
func (s *Scenario) RunRaise(ex *abi.UnwindException) *Result {
	var log []CallRecord
	f, initial, mem, cleanups := s.build(&log)
	defer runCleanups(cleanups)

	reason := abi.RaiseExceptionFrom(ex, initial, f, mem)
	return &Result{Reason: reason, Calls: log}
}

// RunBacktrace drives abi.BacktraceFrom over the scenario's synthetic
// stack, recording one call-log entry per frame visited.
func (s *Scenario) RunBacktrace() *Result {
	var log []CallRecord
	f, initial, mem, cleanups := s.build(&log)
	defer runCleanups(cleanups)

	idx := 0
	reason := abi.BacktraceFrom(initial, f, mem, func(ctx *abi.UnwindContext, arg uintptr) abi.ReasonCode {
		log = append(log, CallRecord{FrameIndex: idx, Phase: "trace"})
		idx++
		return abi.NoReason
	}, 0)
	return &Result{Reason: reason, Calls: log}
}

// RunForceUnwind drives abi.ForceUnwindFrom over the scenario's synthetic
// stack, stopping once stop has been consulted stopAfter times.
func (s *Scenario) RunForceUnwind(ex *abi.UnwindException, stopAfter int) *Result {
	var log []CallRecord
	f, initial, mem, cleanups := s.build(&log)
	defer runCleanups(cleanups)

	seen := 0
	reason := abi.ForceUnwindFrom(ex, initial, f, mem, func(version int, actions abi.Action, exceptionClass uint64, ex *abi.UnwindException, ctx *abi.UnwindContext, stopArg uintptr) abi.ReasonCode {
		log = append(log, CallRecord{FrameIndex: seen, Phase: "forced", Actions: actions})
		seen++
		if stopAfter > 0 && seen >= stopAfter {
			return abi.NormalStop
		}
		return abi.NoReason
	}, 0)
	return &Result{Reason: reason, Calls: log}
}

func runCleanups(cleanups []func()) {
	for _, c := range cleanups {
		c()
	}
}
