package unwind

import (
	"testing"

	"github.com/nbdd0121/unwinding/pkg/arch"
	"github.com/nbdd0121/unwinding/pkg/finder"
	"github.com/nbdd0121/unwinding/pkg/frame"
)

// DWARF CFA opcodes used to hand-build the FDE below, spelled out as raw
// bytes since pkg/frame keeps its opcode table unexported.
const (
	dwCFAAdvanceLoc1    = 0x02
	dwCFAOffset         = 0x80
	dwCFADefCFA         = 0x0c
	dwCFADefCFARegister = 0x0d
	dwCFADefCFAOffset   = 0x0e
)

func uleb(v uint64) []byte {
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

// buildPrologueFDE mirrors pkg/frame's own amd64-prologue test fixture:
// CFA at rsp+8 before the prologue runs, rbp+16 with rbp and the return
// address saved off the CFA after it does.
func buildPrologueFDE(begin, end uint64) *frame.FrameDescriptionEntry {
	cie := &frame.CommonInformationEntry{
		CodeAlignmentFactor: 1,
		DataAlignmentFactor: -8,
		ReturnAddressColumn: 16,
	}
	cie.Instructions = append(cie.Instructions, dwCFADefCFA)
	cie.Instructions = append(cie.Instructions, uleb(7)...) // rsp
	cie.Instructions = append(cie.Instructions, uleb(8)...)
	cie.Instructions = append(cie.Instructions, byte(dwCFAOffset)|16, 1) // rip at CFA-8

	var prog []byte
	prog = append(prog, dwCFAAdvanceLoc1, 1)
	prog = append(prog, byte(dwCFAOffset)|6, 2) // rbp at CFA-16
	prog = append(prog, dwCFAAdvanceLoc1, 3)
	prog = append(prog, dwCFADefCFARegister)
	prog = append(prog, uleb(6)...)
	prog = append(prog, dwCFADefCFAOffset)
	prog = append(prog, uleb(16)...)

	return &frame.FrameDescriptionEntry{CIE: cie, Begin: begin, End: end, Instructions: prog}
}

type fakeFinder struct {
	fde *frame.FrameDescriptionEntry
}

func (f fakeFinder) FindFDE(pc uint64) (finder.Result, bool) {
	if f.fde == nil || !f.fde.Cover(pc) {
		return finder.Result{}, false
	}
	return finder.Result{FDE: f.fde}, true
}

type fakeMem struct {
	words map[uint64]uint64
}

func (m fakeMem) ReadWord(addr uint64) (uint64, error) {
	return m.words[addr], nil
}

func TestFromContextEndOfStackOnZeroRA(t *testing.T) {
	arch.Current = &arch.Arch{Name: "fake-test", PtrSize: 8, SP: 7, RA: 16}

	ctx := &arch.Context{}
	ctx.SetRA(0)

	if _, err := FromContext(ctx, fakeFinder{}); err != EndOfStack {
		t.Fatalf("err = %v, want EndOfStack", err)
	}
}

func TestFromContextEndOfStackOnFinderMiss(t *testing.T) {
	arch.Current = &arch.Arch{Name: "fake-test", PtrSize: 8, SP: 7, RA: 16}

	ctx := &arch.Context{}
	ctx.SetRA(0x400050)

	if _, err := FromContext(ctx, fakeFinder{}); err != EndOfStack {
		t.Fatalf("err = %v, want EndOfStack", err)
	}
}

func TestFromContextAndUnwindPostPrologue(t *testing.T) {
	arch.Current = &arch.Arch{Name: "fake-test", PtrSize: 8, SP: 7, RA: 16}

	fde := buildPrologueFDE(0x400000, 0x400100)
	f := fakeFinder{fde: fde}

	ctx := &arch.Context{}
	ctx.SetRA(0x400051) // call-site pc (ra-1) = 0x400050, past the prologue
	ctx.SetReg(6, 0x7ffe0000)

	fr, err := FromContext(ctx, f)
	if err != nil {
		t.Fatal(err)
	}
	if fr.PC != 0x400050 {
		t.Fatalf("PC = %#x, want 0x400050 (ra-1)", fr.PC)
	}

	wantCFA := uint64(0x7ffe0000 + 16)
	mem := fakeMem{words: map[uint64]uint64{
		wantCFA - 8:  0x400999, // saved rip
		wantCFA - 16: 0x7ffd0000, // saved rbp
	}}

	cfa, err := fr.CFA(mem)
	if err != nil {
		t.Fatal(err)
	}
	if cfa != wantCFA {
		t.Fatalf("CFA = %#x, want %#x", cfa, wantCFA)
	}

	next, err := fr.Unwind(mem)
	if err != nil {
		t.Fatal(err)
	}
	if next.SP() != wantCFA {
		t.Fatalf("caller SP = %#x, want %#x", next.SP(), wantCFA)
	}
	if next.RA() != 0x400999 {
		t.Fatalf("caller RA = %#x, want 0x400999", next.RA())
	}
	if next.Reg(6) != 0x7ffd0000 {
		t.Fatalf("caller rbp = %#x, want 0x7ffd0000", next.Reg(6))
	}
}

func TestResolveCFAUnsupportedRuleKind(t *testing.T) {
	old := &arch.Context{}
	rule := frame.DWRule{Rule: 99}
	if _, err := resolveCFA(rule, old, fakeMem{}); err == nil {
		t.Fatal("expected error for unsupported CFA rule kind")
	}
}

func TestApplyRuleSameValueCopiesOldRegister(t *testing.T) {
	old := &arch.Context{}
	old.SetReg(3, 0xabc)
	v, err := applyRule(frame.DWRule{Rule: frame.RuleSameValue}, old, 0, nil, fakeMem{}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0xabc {
		t.Fatalf("got %#x, want 0xabc", v)
	}
}
