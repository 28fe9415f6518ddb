package ehabi

import "testing"

type fakeEhabiMem struct {
	words map[uint32]uint32
}

func (m fakeEhabiMem) ReadWord(addr uint32) (uint32, error) {
	return m.words[addr], nil
}

func TestInterpretPopMaskRegisters(t *testing.T) {
	vrs := &VRS{}
	vrs.R[13] = 0x1000 // sp
	vrs.R[14] = 0xdead // lr

	mem := fakeEhabiMem{words: map[uint32]uint32{
		0x1000: 0x11,
		0x1004: 0x22,
		0x1008: 0x33,
		0x100c: 0x44,
	}}

	// Pop r4-r7 (mask bits 0-3).
	program := []byte{0x80, 0x0f}
	if err := Interpret(program, vrs, mem); err != nil {
		t.Fatal(err)
	}
	if vrs.R[4] != 0x11 || vrs.R[5] != 0x22 || vrs.R[6] != 0x33 || vrs.R[7] != 0x44 {
		t.Fatalf("R4-R7 = %v, want [0x11 0x22 0x33 0x44]", vrs.R[4:8])
	}
	if vrs.SP() != 0x1010 {
		t.Fatalf("SP = %#x, want 0x1010", vrs.SP())
	}
	if vrs.PC() != 0xdead {
		t.Fatalf("PC = %#x, want LR (0xdead) since PC was not popped", vrs.PC())
	}
}

func TestInterpretPopMaskIncludingPC(t *testing.T) {
	vrs := &VRS{}
	vrs.R[13] = 0x2000

	mem := fakeEhabiMem{words: map[uint32]uint32{0x2000: 0x400500}}

	// mask bit 11 = r15 (pc): op low nibble bit3 (0x08) selects r15 in
	// the high byte of the 12-bit mask.
	program := []byte{0x88, 0x00}
	if err := Interpret(program, vrs, mem); err != nil {
		t.Fatal(err)
	}
	if vrs.PC() != 0x400500 {
		t.Fatalf("PC = %#x, want 0x400500 (popped, not copied from LR)", vrs.PC())
	}
	if vrs.SP() != 0x2004 {
		t.Fatalf("SP = %#x, want 0x2004", vrs.SP())
	}
}

func TestInterpretPopRangeWithLR(t *testing.T) {
	vrs := &VRS{}
	vrs.R[13] = 0x3000

	mem := fakeEhabiMem{words: map[uint32]uint32{
		0x3000: 1,
		0x3004: 2,
		0x3008: 3,
		0x300c: 0x400600, // lr
	}}

	// 0b1010_1_010: n=2 (pop r4..r6), popLR bit set.
	program := []byte{0xaa}
	if err := Interpret(program, vrs, mem); err != nil {
		t.Fatal(err)
	}
	if vrs.R[4] != 1 || vrs.R[5] != 2 || vrs.R[6] != 3 {
		t.Fatalf("R4-R6 = %v, want [1 2 3]", vrs.R[4:7])
	}
	if vrs.R[14] != 0x400600 {
		t.Fatalf("LR = %#x, want 0x400600", vrs.R[14])
	}
	if vrs.PC() != 0x400600 {
		t.Fatalf("PC = %#x, want copied from LR", vrs.PC())
	}
}

func TestInterpretStackAdjustments(t *testing.T) {
	vrs := &VRS{}
	vrs.R[13] = 0x4000
	vrs.R[14] = 0x1

	// 0x02 -> vsp += (2<<2)+4 = 12; 0x42 -> vsp -= 12; net zero.
	program := []byte{0x02, 0x42, vrsFinish}
	if err := Interpret(program, vrs, fakeEhabiMem{}); err != nil {
		t.Fatal(err)
	}
	if vrs.SP() != 0x4000 {
		t.Fatalf("SP = %#x, want unchanged 0x4000", vrs.SP())
	}
}

func TestInterpretRefuseToUnwindOnZeroMask(t *testing.T) {
	vrs := &VRS{}
	if err := Interpret([]byte{0x80, 0x00}, vrs, fakeEhabiMem{}); err == nil {
		t.Fatal("expected an error for a zero pop mask")
	}
}

func TestInterpretTruncatedPopMask(t *testing.T) {
	vrs := &VRS{}
	if err := Interpret([]byte{0x80}, vrs, fakeEhabiMem{}); err == nil {
		t.Fatal("expected an error for a truncated pop-mask instruction")
	}
}

func TestInterpretUnsupportedOpcode(t *testing.T) {
	vrs := &VRS{}
	if err := Interpret([]byte{0xc0}, vrs, fakeEhabiMem{}); err == nil {
		t.Fatal("expected an error for an unrecognized opcode")
	}
}
