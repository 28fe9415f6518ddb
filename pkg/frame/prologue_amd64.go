//go:build amd64

package frame

import "golang.org/x/arch/x86/x86asm"

// PrologueFallback disassembles the first few instructions at pc looking
// for the standard "push rbp; mov rbp, rsp" frame-pointer prologue, and
// synthesizes a one-row FrameDescriptionEntry that chases the frame
// pointer instead of reading CFI. It is a last resort for a pc that falls
// in some range no FDE covers at all (a stripped .eh_frame, a hand-written
// assembly stub), the same role delve's prologue-recognizing fallback
// plays when Go's own pclntab is missing a function's frame layout.
//
// Grounded on delve's pkg/proc/bininfo.go prologue detection, generalized
// from Go's fixed "SUB SP, N" prologue shape to the C ABI's push-rbp
// convention, and decoded with the same golang.org/x/arch/x86/x86asm
// package delve uses for its own disassembler.
func PrologueFallback(code []byte, pc uint64) (*FrameDescriptionEntry, bool) {
	if len(code) < 4 {
		return nil, false
	}

	pushRBP := code[0] == 0x55
	if !pushRBP {
		return nil, false
	}

	inst, err := x86asm.Decode(code[1:], 64)
	if err != nil {
		return nil, false
	}
	if !isMovRBPRSP(inst) {
		return nil, false
	}

	// CFA = rbp+16 once the prologue has run (return address at rbp+8,
	// saved rbp at rbp+0); the DWARF rbp register number is 6, rsp is 7,
	// and the return-address column is rip (16) on this target.
	cie := &CommonInformationEntry{
		CodeAlignmentFactor: 1,
		DataAlignmentFactor: -8,
		ReturnAddressColumn: 16,
	}
	prog := []byte{
		0x0c, 6, 16, // DW_CFA_def_cfa rbp, 16
		0x80 | 16, 1, // DW_CFA_offset rip (col 16), factor*1 = -8
		0x80 | 6, 2, // DW_CFA_offset rbp (col 6), factor*2 = -16
	}
	return &FrameDescriptionEntry{
		CIE:          cie,
		Begin:        pc,
		End:          pc + uint64(len(code)),
		Instructions: prog,
	}, true
}

func isMovRBPRSP(inst x86asm.Inst) bool {
	if inst.Op != x86asm.MOV {
		return false
	}
	dst, ok := inst.Args[0].(x86asm.Reg)
	if !ok || dst != x86asm.RBP {
		return false
	}
	src, ok := inst.Args[1].(x86asm.Reg)
	return ok && src == x86asm.RSP
}
