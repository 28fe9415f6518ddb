package ehabi

import (
	"encoding/binary"
	"testing"
)

func buildTestTable() *Table {
	entries := []Entry{
		{FuncAddr: 0x1000, Data: exidxCantUnwind},
		{FuncAddr: 0x2000, Data: 0x80b00000}, // inline: [0xb0(finish), 0, 0]
		{FuncAddr: 0x3000, Data: 0},          // non-inline, extab offset resolves to 0
	}
	extabVMA := uint64(0x9000 + 2*8 + 4) // == wordAddr of entry 2, so prel31(0, wordAddr) == ExtabVMA
	extab := make([]byte, 4)
	binary.LittleEndian.PutUint32(extab, 0x00112233) // 0 extra words, program = 0x11 0x22 0x33

	return &Table{Entries: entries, Extab: extab, ExtabVMA: extabVMA, ExidxVMA: 0x9000}
}

func TestTableProgramCantUnwind(t *testing.T) {
	tbl := buildTestTable()
	_, entry, err := tbl.Program(0x1050)
	if err != ErrCantUnwind {
		t.Fatalf("err = %v, want ErrCantUnwind", err)
	}
	if entry.FuncAddr != 0x1000 {
		t.Fatalf("entry = %+v", entry)
	}
}

func TestTableProgramInline(t *testing.T) {
	tbl := buildTestTable()
	prog, _, err := tbl.Program(0x2050)
	if err != nil {
		t.Fatal(err)
	}
	if len(prog) != 3 || prog[0] != 0xb0 {
		t.Fatalf("program = %v, want [0xb0 0 0]", prog)
	}
}

func TestTableProgramExtab(t *testing.T) {
	tbl := buildTestTable()
	prog, _, err := tbl.Program(0x3050)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0x11, 0x22, 0x33}
	if len(prog) != len(want) {
		t.Fatalf("program = %v, want %v", prog, want)
	}
	for i := range want {
		if prog[i] != want[i] {
			t.Fatalf("program = %v, want %v", prog, want)
		}
	}
}

func TestTableProgramNoEntry(t *testing.T) {
	tbl := buildTestTable()
	if _, _, err := tbl.Program(0x500); err == nil {
		t.Fatal("expected error for a pc before the first entry")
	}
}

func TestTableUnwindInlineFinish(t *testing.T) {
	tbl := buildTestTable()
	vrs := &VRS{}
	vrs.R[13] = 0x5000
	vrs.R[14] = 0xcafe

	if err := tbl.Unwind(0x2050, vrs, fakeEhabiMem{}); err != nil {
		t.Fatal(err)
	}
	if vrs.SP() != 0x5000 {
		t.Fatalf("SP = %#x, want unchanged 0x5000", vrs.SP())
	}
	if vrs.PC() != 0xcafe {
		t.Fatalf("PC = %#x, want copied from LR", vrs.PC())
	}
}

func TestStaticFinderSetAndTable(t *testing.T) {
	var sf StaticFinder
	if sf.Table() != nil {
		t.Fatal("expected nil table before SetSection")
	}

	data := make([]byte, 8)
	binary.LittleEndian.PutUint32(data[0:4], 0)
	binary.LittleEndian.PutUint32(data[4:8], exidxCantUnwind)

	if err := sf.SetSection(data, 0x9000, nil, 0); err != nil {
		t.Fatal(err)
	}
	tbl := sf.Table()
	if tbl == nil || len(tbl.Entries) != 1 {
		t.Fatalf("table = %+v, want one entry", tbl)
	}
}
