// Package memview implements a leaf component of its own: decoding
// DWARF/GCC "encoded pointers" (the DW_EH_PE_* scheme .eh_frame and
// .eh_frame_hdr use for compact, position-independent references) and
// building bounded views over loader-supplied memory (an .eh_frame
// section, a registered region, a memory-mapped ELF image) that the rest
// of the unwinder reads from.
//
// The encoding format and the base-address selection below follow the
// pattyshack/bad `dwarf` package's framePointerDecoder, generalized from a
// single ELF-file reader to one BaseAddresses struct shared across the
// registry, the phdr finder and the static finder, since each locates its
// bases differently but decodes the same way once it has them.
package memview

import "fmt"

// BaseAddresses are the reference addresses needed to decode any DWARF
// pointer encoding an FDE or CIE may use, carried alongside an FDE search
// result. Not every sub-finder can populate every field: the phdr finder
// always has Text and EhFrame, and the registry carries whatever bases the
// registering caller passed; Got is only known when a PT_DYNAMIC/DT_PLTGOT
// entry was found; EhFrameHdr is only set when the object has a readable
// .eh_frame_hdr section.
type BaseAddresses struct {
	Text       uint64
	Data       uint64
	Got        uint64
	EhFrame    uint64
	EhFrameHdr uint64
}

// Pointer encodings, DW_EH_PE_* from the LSB's eh_frame specification.
const (
	PEabsptr  = 0x00
	PEuleb128 = 0x01
	PEudata2  = 0x02
	PEudata4  = 0x03
	PEudata8  = 0x04
	PEsleb128 = 0x09
	PEsdata2  = 0x0a
	PEsdata4  = 0x0b
	PEsdata8  = 0x0c

	PEapplMask = 0x70
	PEabs      = 0x00
	PEpcrel    = 0x10
	PEtextrel  = 0x20
	PEdatarel  = 0x30
	PEfuncrel  = 0x40
	PEaligned  = 0x50

	PEindirect = 0x80
	PEomit     = 0xff
)

// Reader is a cursor over an .eh_frame-family byte slice, tracking the
// absolute file/memory address its current position corresponds to so
// that PEpcrel-encoded pointers can be resolved.
type Reader struct {
	Data   []byte
	Pos    int
	Little bool

	// Start is the address Data[0] is loaded at, used to resolve
	// PEpcrel ("relative to the encoded pointer's own address").
	Start uint64
}

func (r *Reader) u8() (byte, error) {
	if r.Pos >= len(r.Data) {
		return 0, fmt.Errorf("memview: read past end of section")
	}
	b := r.Data[r.Pos]
	r.Pos++
	return b, nil
}

func (r *Reader) fixed(n int) (uint64, error) {
	if r.Pos+n > len(r.Data) {
		return 0, fmt.Errorf("memview: read past end of section")
	}
	var v uint64
	for i := 0; i < n; i++ {
		shift := i * 8
		if !r.Little {
			shift = (n - 1 - i) * 8
		}
		v |= uint64(r.Data[r.Pos+i]) << uint(shift)
	}
	r.Pos += n
	return v, nil
}

func (r *Reader) uleb128() (uint64, error) {
	var result uint64
	var shift uint
	for {
		b, err := r.u8()
		if err != nil {
			return 0, err
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
	}
}

func (r *Reader) sleb128() (int64, error) {
	var result int64
	var shift uint
	var b byte
	var err error
	for {
		b, err = r.u8()
		if err != nil {
			return 0, err
		}
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}
	if shift < 64 && b&0x40 != 0 {
		result |= -1 << shift
	}
	return result, nil
}

// Uint8 reads a single byte and advances past it.
func (r *Reader) Uint8() (byte, error) { return r.u8() }

// Uleb128 reads an unsigned LEB128 value and advances past it.
func (r *Reader) Uleb128() (uint64, error) { return r.uleb128() }

// Sleb128 reads a signed LEB128 value and advances past it.
func (r *Reader) Sleb128() (int64, error) { return r.sleb128() }

// Fixed reads an n-byte fixed-width unsigned value and advances past it.
func (r *Reader) Fixed(n int) (uint64, error) { return r.fixed(n) }

// ReadEncodedPointer decodes one pointer at the reader's current position
// using encoding, and advances past it. base must be the correct
// reference address for encoding's application field (PEtextrel ->
// bases.Text, PEdatarel -> bases.Got, PEfuncrel -> the containing FDE's
// initial address, PEpcrel -> the pointer's own address, computed from
// r.Start+r.Pos). ReadEncodedPointer itself ignores base only for a plain
// DW_EH_PE_absptr and returns an error when the indirect flag is set;
// for every other encoding callers supply the resolved base.
func (r *Reader) ReadEncodedPointer(encoding uint8, base uint64) (uint64, error) {
	if encoding == PEomit {
		return 0, fmt.Errorf("memview: DW_EH_PE_omit has no value")
	}

	application := encoding & PEapplMask
	if application == PEpcrel {
		base = r.Start + uint64(r.Pos)
	}

	var offset uint64
	var signed int64
	isSigned := false
	switch encoding & 0x0f {
	case PEabsptr, PEudata8:
		v, err := r.fixed(8)
		if err != nil {
			return 0, err
		}
		offset = v
	case PEudata2:
		v, err := r.fixed(2)
		if err != nil {
			return 0, err
		}
		offset = v
	case PEudata4:
		v, err := r.fixed(4)
		if err != nil {
			return 0, err
		}
		offset = v
	case PEuleb128:
		v, err := r.uleb128()
		if err != nil {
			return 0, err
		}
		offset = v
	case PEsleb128:
		v, err := r.sleb128()
		if err != nil {
			return 0, err
		}
		signed, isSigned = v, true
	case PEsdata2:
		v, err := r.fixed(2)
		if err != nil {
			return 0, err
		}
		signed, isSigned = int64(int16(v)), true
	case PEsdata4:
		v, err := r.fixed(4)
		if err != nil {
			return 0, err
		}
		signed, isSigned = int64(int32(v)), true
	case PEsdata8:
		v, err := r.fixed(8)
		if err != nil {
			return 0, err
		}
		signed, isSigned = int64(v), true
	default:
		return 0, fmt.Errorf("memview: unsupported pointer encoding %#x", encoding)
	}

	var addr uint64
	switch {
	case application == PEabs && encoding&0x0f == PEabsptr:
		// Absolute pointer, no base to add.
		addr = offset
	case isSigned:
		addr = uint64(int64(base) + signed)
	default:
		addr = base + offset
	}

	if encoding&PEindirect != 0 {
		return 0, fmt.Errorf("memview: indirect pointer encodings require a live memory read, not supported by this reader")
	}

	return addr, nil
}
