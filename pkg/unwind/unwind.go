// Package unwind implements the Frame type: reconstructing one physical
// stack frame from a register context, and computing the context of its
// caller. This is the layer the two-phase state machine in pkg/abi
// drives; pkg/unwind itself never decides what to do with a frame, only
// how to read and step through one.
//
// Grounded on go-delve/delve's pkg/proc.(*Thread).Stacktrace walking a
// Stackframe chain via a frame.FrameContext (the now-written pkg/frame
// package) and an Arch's FixFrameUnwindContext hook — generalized from
// delve's debugger-attached, ptrace-backed reads to the trusted, same-
// process reads this freestanding runtime performs directly.
package unwind

import (
	"fmt"

	"github.com/nbdd0121/unwinding/pkg/arch"
	"github.com/nbdd0121/unwinding/pkg/finder"
	"github.com/nbdd0121/unwinding/pkg/frame"
	"github.com/nbdd0121/unwinding/pkg/memview"
)

// Frame is the decoded unwind-table row for one PC plus the register
// context it was computed from: the decoded unwind-table row for the
// query PC, plus the register context it was read against.
type Frame struct {
	PC      uint64
	FDE     *frame.FrameDescriptionEntry
	Bases   memview.BaseAddresses
	Row     *frame.FrameContext
	Context *arch.Context
}

// EndOfStack is returned by FromContext when RA is zero or when the
// finder has no FDE for the call-site pc; callers treat both cases as
// reaching the top of the stack.
var EndOfStack = fmt.Errorf("unwind: end of stack")

// FromContext reads RA out of ctx, computes the call-site pc, asks
// finder for the covering FDE, and runs the CFA bytecode interpreter up
// to pc.
func FromContext(ctx *arch.Context, f finder.SubFinder) (*Frame, error) {
	ra := ctx.RA()
	if ra == 0 {
		return nil, EndOfStack
	}
	pc := ra - 1

	result, ok := f.FindFDE(pc)
	if !ok {
		return nil, EndOfStack
	}

	row, err := frame.ExecuteDwarfProgram(result.FDE, pc)
	if err != nil {
		return nil, fmt.Errorf("unwind: %w", err)
	}

	return &Frame{PC: pc, FDE: result.FDE, Bases: result.Bases, Row: row, Context: ctx}, nil
}

// MemReader abstracts the single word-sized read rule application and
// expression evaluation need, so tests can substitute a fake process
// image instead of `unsafe`-reading this process's own memory.
type MemReader interface {
	ReadWord(addr uint64) (uint64, error)
}

// liveMemory reads directly out of this process's own address space via
// unsafe: unaligned, unchecked reads that trust the unwind tables are
// correct for the running process's own stack.
type liveMemory struct{}

func (liveMemory) ReadWord(addr uint64) (uint64, error) {
	return readWordUnsafe(addr), nil
}

// LiveMemory is the MemReader every in-process unwind (the common case:
// _Unwind_RaiseException unwinding the same process's own stack) uses.
var LiveMemory MemReader = liveMemory{}

// exprContext adapts a Frame's old context and CFA to frame.ExprContext,
// letting Expression/ValExpression rules reuse the same evaluator the CFA
// rule itself does.
type exprContext struct {
	old *arch.Context
	cfa uint64
	mem MemReader
}

func (e *exprContext) Register(n uint64) uint64 { return e.old.Reg(int(n)) }
func (e *exprContext) Memory(addr uint64) (uint64, error) {
	return e.mem.ReadWord(addr)
}
func (e *exprContext) CFA() (uint64, error) { return e.cfa, nil }

// Unwind resolves the CFA, seeds the new context, then applies each
// register rule reading from the old context/CFA and writing to the new
// one.
func (fr *Frame) Unwind(mem MemReader) (*arch.Context, error) {
	if mem == nil {
		mem = LiveMemory
	}

	old := fr.Context
	cfa, err := resolveCFA(fr.Row.CFA, old, mem)
	if err != nil {
		return nil, fmt.Errorf("unwind: resolving CFA: %w", err)
	}

	next := &arch.Context{}
	next.SetSP(cfa)
	next.SetRA(0)

	ectx := &exprContext{old: old, cfa: cfa, mem: mem}

	for reg, rule := range fr.Row.Regs {
		v, err := applyRule(rule, old, cfa, ectx, mem, reg)
		if err != nil {
			return nil, fmt.Errorf("unwind: register %d: %w", reg, err)
		}
		next.SetReg(int(reg), v)
	}

	return next, nil
}

// CFA resolves this frame's canonical frame address without performing a
// full unwind, used by pkg/abi to compare against the handler CFA
// recorded in phase 1, against which phase 2 checks each frame's own CFA
// to find the frame the search phase already selected as the handler.
func (fr *Frame) CFA(mem MemReader) (uint64, error) {
	if mem == nil {
		mem = LiveMemory
	}
	return resolveCFA(fr.Row.CFA, fr.Context, mem)
}

func resolveCFA(rule frame.DWRule, old *arch.Context, mem MemReader) (uint64, error) {
	switch rule.Rule {
	case frame.RuleCFA:
		return uint64(int64(old.Reg(int(rule.Reg))) + rule.Offset), nil
	case frame.RuleExpression, frame.RuleValExpression:
		ectx := &exprContext{old: old, mem: mem}
		return frame.EvaluateExpression(rule.Expression, ectx)
	default:
		return 0, fmt.Errorf("unsupported CFA rule kind %d", rule.Rule)
	}
}

// applyRule implements the per-register switch a caller's register file
// is rebuilt from. reg is the register the rule is being applied for,
// needed only so
// Undefined/SameValue can copy the matching register from the old
// context.
func applyRule(rule frame.DWRule, old *arch.Context, cfa uint64, ectx *exprContext, mem MemReader, reg uint64) (uint64, error) {
	switch rule.Rule {
	case frame.RuleUndefined, frame.RuleSameValue:
		return old.Reg(int(reg)), nil
	case frame.RuleOffset:
		return mem.ReadWord(uint64(int64(cfa) + rule.Offset))
	case frame.RuleValOffset:
		return uint64(int64(cfa) + rule.Offset), nil
	case frame.RuleRegister:
		return old.Reg(int(rule.Reg)), nil
	case frame.RuleExpression:
		addr, err := frame.EvaluateExpression(rule.Expression, ectx)
		if err != nil {
			return 0, err
		}
		return mem.ReadWord(addr)
	case frame.RuleValExpression:
		return frame.EvaluateExpression(rule.Expression, ectx)
	case frame.RuleArchitectural:
		// Architectural rules are unreachable: no compiler this module
		// targets emits them.
		panic("unwind: RuleArchitectural rule encountered, which no supported compiler emits")
	default:
		return 0, fmt.Errorf("unsupported register rule kind %d", rule.Rule)
	}
}
