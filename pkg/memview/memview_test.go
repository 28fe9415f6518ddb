package memview

import "testing"

func TestReaderFixedLittleAndBigEndian(t *testing.T) {
	r := &Reader{Data: []byte{0x01, 0x02, 0x03, 0x04}, Little: true}
	v, err := r.Fixed(4)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0x04030201 {
		t.Fatalf("little-endian Fixed(4) = %#x, want 0x04030201", v)
	}

	r = &Reader{Data: []byte{0x01, 0x02, 0x03, 0x04}, Little: false}
	v, err = r.Fixed(4)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0x01020304 {
		t.Fatalf("big-endian Fixed(4) = %#x, want 0x01020304", v)
	}
}

func TestReaderUleb128(t *testing.T) {
	// 624485 encodes to 0xe5 0x8e 0x26 in the DWARF spec's own example.
	r := &Reader{Data: []byte{0xe5, 0x8e, 0x26}}
	v, err := r.Uleb128()
	if err != nil {
		t.Fatal(err)
	}
	if v != 624485 {
		t.Fatalf("Uleb128() = %d, want 624485", v)
	}
}

func TestReaderSleb128Negative(t *testing.T) {
	// -123456 encodes to 0xc0 0xbb 0x78 in the DWARF spec's own example.
	r := &Reader{Data: []byte{0xc0, 0xbb, 0x78}}
	v, err := r.Sleb128()
	if err != nil {
		t.Fatal(err)
	}
	if v != -123456 {
		t.Fatalf("Sleb128() = %d, want -123456", v)
	}
}

func TestReaderPastEndIsError(t *testing.T) {
	r := &Reader{Data: []byte{0x01}}
	if _, err := r.Fixed(4); err == nil {
		t.Fatal("expected an error reading past the end of Data")
	}
}

func TestReadEncodedPointerAbsolute(t *testing.T) {
	r := &Reader{Data: []byte{0x00, 0x00, 0x40, 0x00, 0, 0, 0, 0}, Little: true}
	v, err := r.ReadEncodedPointer(PEabsptr, 0)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0x400000 {
		t.Fatalf("ReadEncodedPointer(PEabsptr) = %#x, want 0x400000", v)
	}
}

func TestReadEncodedPointerPCRelSigned4(t *testing.T) {
	// PEpcrel|PEsdata4 at address 0x2000: value -16 added to the
	// pointer's own address.
	r := &Reader{Data: []byte{0xf0, 0xff, 0xff, 0xff}, Little: true, Start: 0x2000}
	v, err := r.ReadEncodedPointer(PEpcrel|PEsdata4, 0)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0x2000-16 {
		t.Fatalf("ReadEncodedPointer(pcrel sdata4) = %#x, want %#x", v, uint64(0x2000-16))
	}
}

func TestReadEncodedPointerDataRelUnsigned4(t *testing.T) {
	r := &Reader{Data: []byte{0x10, 0x00, 0x00, 0x00}, Little: true}
	v, err := r.ReadEncodedPointer(PEdatarel|PEudata4, 0x500000)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0x500010 {
		t.Fatalf("ReadEncodedPointer(datarel udata4) = %#x, want 0x500010", v)
	}
}

func TestReadEncodedPointerOmitIsError(t *testing.T) {
	r := &Reader{Data: []byte{}}
	if _, err := r.ReadEncodedPointer(PEomit, 0); err == nil {
		t.Fatal("expected an error for DW_EH_PE_omit")
	}
}

func TestReadEncodedPointerIndirectUnsupported(t *testing.T) {
	r := &Reader{Data: []byte{0, 0, 0, 0, 0, 0, 0, 0}, Little: true}
	if _, err := r.ReadEncodedPointer(PEindirect|PEabsptr, 0); err == nil {
		t.Fatal("expected an error for an indirect pointer encoding")
	}
}
