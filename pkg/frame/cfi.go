// Package frame implements DWARF/GCC Call Frame Information decoding: the
// CIE/FDE record format, the CFA bytecode interpreter, and the DWARF
// expression subset an unwinder needs. The public shapes
// (FrameDescriptionEntry, DWRule, the Rule* constants, FrameContext,
// ExecuteDwarfProgram) follow the naming go-delve/delve's own
// pkg/dwarf/frame package uses — mirrored here because three other repos
// in the retrieval pack (ltagliamonte-dd/parca-agent, razzie/raztracer,
// cloudwego/goref) all consume that exact shape, and the opcode table
// itself is grounded on pattyshack/bad's dwarf.computeUnwindRules and
// ConradIrwin/go-dwarf's CanonicalFrameAddress.
package frame

import (
	"encoding/binary"
	"fmt"

	"github.com/nbdd0121/unwinding/pkg/memview"
)

// CommonInformationEntry is a parsed CIE: the fields FDEs referencing it
// share — the DWARF records describing a group of functions' shared
// unwind conventions.
type CommonInformationEntry struct {
	CodeAlignmentFactor uint64
	DataAlignmentFactor int64
	ReturnAddressColumn uint64

	FDEPointerEncoding uint8
	LSDAPointerEncoding uint8

	HasPersonality bool
	Personality    uint64

	Instructions []byte
}

// FrameDescriptionEntry is a parsed FDE: the unwind program for one
// function (or contiguous range of functions), plus the CIE it augments.
type FrameDescriptionEntry struct {
	CIE *CommonInformationEntry

	Begin uint64
	End   uint64

	LSDA uint64

	Instructions []byte

	Bases memview.BaseAddresses
}

// Cover reports whether pc falls within this FDE's address range, the
// containment test a finder's search result must satisfy.
func (fde *FrameDescriptionEntry) Cover(pc uint64) bool {
	return pc >= fde.Begin && pc < fde.End
}

// FrameDescriptionEntries is a sorted-by-address table of FDEs, as both
// the .eh_frame_hdr binary search table and a linearly-scanned .eh_frame
// section are modeled once parsed.
type FrameDescriptionEntries []*FrameDescriptionEntry

// FDEForPC binary-searches for the FDE covering pc. The slice must be
// sorted by Begin, which Parse guarantees.
func (fdes FrameDescriptionEntries) FDEForPC(pc uint64) *FrameDescriptionEntry {
	lo, hi := 0, len(fdes)
	for lo < hi {
		mid := (lo + hi) / 2
		if fdes[mid].Begin <= pc {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo == 0 {
		return nil
	}
	candidate := fdes[lo-1]
	if candidate.Cover(pc) {
		return candidate
	}
	return nil
}

// Parse decodes every CIE/FDE record out of an .eh_frame section's raw
// bytes. sectionVMA is the address the section is loaded at (needed to
// resolve PEpcrel-encoded pointers); bases carries whatever the caller
// already knows about the containing object (Text, Got) so pointer
// encodings relative to those can be resolved too.
//
// Adapted from pattyshack/bad/dwarf's frameParser.frameEntry /
// commonInfoEntry / frameDescriptionEntry: this module reads the eh_frame
// variant (zero CIE pointer marks a CIE, not the dwarf-proper 0xffffffff),
// the same augmentation string grammar ('z', 'R', 'L', 'P'), and the same
// ULEB128/SLEB128 alignment-factor encoding.
func Parse(data []byte, order binary.ByteOrder, sectionVMA uint64, bases memview.BaseAddresses) (FrameDescriptionEntries, error) {
	little := order == binary.LittleEndian
	r := &memview.Reader{Data: data, Little: little, Start: sectionVMA}

	cies := map[int]*CommonInformationEntry{}
	var fdes FrameDescriptionEntries

	for r.Pos < len(data) {
		entryStart := r.Pos
		length, err := readU32(r)
		if err != nil {
			return nil, err
		}
		if length == 0 {
			break // terminator
		}
		if length == 0xffffffff {
			return nil, fmt.Errorf("frame: 64-bit DWARF format not supported")
		}
		end := r.Pos + int(length)

		cieRelStart := r.Pos
		cieDelta, err := readU32(r)
		if err != nil {
			return nil, err
		}

		if cieDelta == 0 {
			cie, err := parseCIE(r, end)
			if err != nil {
				return nil, fmt.Errorf("frame: bad CIE at %#x: %w", entryStart, err)
			}
			cies[entryStart] = cie
		} else {
			cieOffset := cieRelStart - int(cieDelta)
			cie, ok := cies[cieOffset]
			if !ok {
				// CIEs always precede their FDEs in a well-formed
				// .eh_frame section; a miss here means a malformed
				// region. Registration callers drop those silently;
				// Parse itself just reports the error and lets the
				// caller decide.
				return nil, fmt.Errorf("frame: FDE at %#x references unknown CIE at %#x", entryStart, cieOffset)
			}
			fde, err := parseFDE(r, end, cie, bases)
			if err != nil {
				return nil, fmt.Errorf("frame: bad FDE at %#x: %w", entryStart, err)
			}
			fdes = append(fdes, fde)
		}

		r.Pos = end
	}

	sortFDEs(fdes)
	return fdes, nil
}

// ParseFDEAt parses a single FDE record whose address is already known
// (as read out of an .eh_frame_hdr binary-search table entry), without
// scanning the rest of the section. fdeVMA is the FDE's address in the
// same address space as sectionVMA; data must be the full .eh_frame
// section's bytes so the CIE it references (always earlier in the
// section) can be located.
func ParseFDEAt(data []byte, order binary.ByteOrder, sectionVMA uint64, bases memview.BaseAddresses, fdeVMA uint64) (*FrameDescriptionEntry, error) {
	if fdeVMA < sectionVMA || fdeVMA-sectionVMA >= uint64(len(data)) {
		return nil, fmt.Errorf("frame: FDE address %#x outside .eh_frame section", fdeVMA)
	}
	little := order == binary.LittleEndian
	r := &memview.Reader{Data: data, Pos: int(fdeVMA - sectionVMA), Little: little, Start: sectionVMA}

	length, err := readU32(r)
	if err != nil {
		return nil, err
	}
	if length == 0xffffffff {
		return nil, fmt.Errorf("frame: 64-bit DWARF format not supported")
	}
	end := r.Pos + int(length)

	cieFieldPos := r.Pos
	cieDelta, err := readU32(r)
	if err != nil {
		return nil, err
	}
	if cieDelta == 0 {
		return nil, fmt.Errorf("frame: address %#x names a CIE, not a FDE", fdeVMA)
	}
	cieOffset := cieFieldPos - int(cieDelta)
	if cieOffset < 0 || cieOffset >= len(data) {
		return nil, fmt.Errorf("frame: FDE at %#x references out-of-range CIE offset %#x", fdeVMA, cieOffset)
	}

	cr := &memview.Reader{Data: data, Pos: cieOffset, Little: little, Start: sectionVMA}
	cieEntryStart := cr.Pos
	cieLength, err := readU32(cr)
	if err != nil {
		return nil, err
	}
	cieEnd := cr.Pos + int(cieLength)
	cieDeltaCheck, err := readU32(cr)
	if err != nil {
		return nil, err
	}
	if cieDeltaCheck != 0 {
		return nil, fmt.Errorf("frame: offset %#x computed from FDE is not a CIE", cieEntryStart)
	}
	cie, err := parseCIE(cr, cieEnd)
	if err != nil {
		return nil, fmt.Errorf("frame: bad CIE at %#x: %w", cieEntryStart, err)
	}

	fde, err := parseFDE(r, end, cie, bases)
	if err != nil {
		return nil, fmt.Errorf("frame: bad FDE at %#x: %w", fdeVMA, err)
	}
	return fde, nil
}

func sortFDEs(fdes FrameDescriptionEntries) {
	// Small, allocation-light insertion sort: .eh_frame sections in
	// practice are already nearly sorted (one per function, in link
	// order), and this avoids pulling in sort.Slice's interface
	// indirection for what is usually an already-ordered input.
	for i := 1; i < len(fdes); i++ {
		for j := i; j > 0 && fdes[j-1].Begin > fdes[j].Begin; j-- {
			fdes[j-1], fdes[j] = fdes[j], fdes[j-1]
		}
	}
}

func readU32(r *memview.Reader) (uint32, error) {
	v, err := r.Fixed(4)
	return uint32(v), err
}

func parseCIE(r *memview.Reader, end int) (*CommonInformationEntry, error) {
	version, err := readByte(r)
	if err != nil {
		return nil, err
	}
	if version != 1 && version != 3 && version != 4 {
		return nil, fmt.Errorf("unsupported eh_frame CIE version %d", version)
	}

	aug, err := readCString(r)
	if err != nil {
		return nil, err
	}

	if version == 4 {
		if _, err := readByte(r); err != nil { // address size
			return nil, err
		}
		if _, err := readByte(r); err != nil { // segment selector size
			return nil, err
		}
	}

	codeAlign, err := r.Uleb128()
	if err != nil {
		return nil, err
	}
	dataAlign, err := r.Sleb128()
	if err != nil {
		return nil, err
	}

	var retReg uint64
	if version == 1 {
		b, err := readByte(r)
		if err != nil {
			return nil, err
		}
		retReg = uint64(b)
	} else {
		retReg, err = r.Uleb128()
		if err != nil {
			return nil, err
		}
	}

	cie := &CommonInformationEntry{
		CodeAlignmentFactor: codeAlign,
		DataAlignmentFactor: dataAlign,
		ReturnAddressColumn: retReg,
		FDEPointerEncoding:  memview.PEabsptr,
	}

	if len(aug) > 0 && aug[0] == 'z' {
		augLen, err := r.Uleb128()
		if err != nil {
			return nil, err
		}
		augEnd := r.Pos + int(augLen)

		for _, c := range aug[1:] {
			switch c {
			case 'R':
				enc, err := readByte(r)
				if err != nil {
					return nil, err
				}
				cie.FDEPointerEncoding = enc
			case 'L':
				enc, err := readByte(r)
				if err != nil {
					return nil, err
				}
				cie.LSDAPointerEncoding = enc
			case 'P':
				enc, err := readByte(r)
				if err != nil {
					return nil, err
				}
				v, err := r.ReadEncodedPointer(enc, r.Start)
				if err != nil {
					return nil, err
				}
				cie.HasPersonality = true
				cie.Personality = v
			case 'S', 'B':
				// Signal-frame / BTI markers: no payload, nothing to
				// decode, just a hint the unwinder doesn't currently
				// act on.
			}
		}

		if r.Pos > augEnd {
			return nil, fmt.Errorf("augmentation data overran its declared length")
		}
		r.Pos = augEnd
	}

	if end < r.Pos {
		return nil, fmt.Errorf("CIE instructions start past its own end")
	}
	cie.Instructions = r.Data[r.Pos:end]
	return cie, nil
}

func parseFDE(r *memview.Reader, end int, cie *CommonInformationEntry, bases memview.BaseAddresses) (*FrameDescriptionEntry, error) {
	base := bases.Text
	if cie.FDEPointerEncoding&memview.PEapplMask == memview.PEdatarel {
		base = bases.Got
	}
	begin, err := r.ReadEncodedPointer(cie.FDEPointerEncoding, base)
	if err != nil {
		return nil, err
	}

	// The range (length) field uses the same value-width as the FDE
	// pointer encoding, but is never pc-relative or data-relative: it is
	// always a plain absolute-width count, per the LSB eh_frame spec and
	// pattyshack/bad's frameDescriptionEntry.
	rangeEncoding := memview.PEabsptr | (cie.FDEPointerEncoding & 0x0f)
	length, err := r.ReadEncodedPointer(rangeEncoding, 0)
	if err != nil {
		return nil, err
	}

	fde := &FrameDescriptionEntry{
		CIE:   cie,
		Begin: begin,
		End:   begin + length,
		Bases: bases,
	}

	if len(cie.Instructions) > 0 || cie.LSDAPointerEncoding != 0 {
		// z-augmented FDE: an augmentation length precedes the LSDA
		// pointer (if the CIE declared an 'L' entry) and anything else.
	}
	if cie.LSDAPointerEncoding != 0 || cie.HasPersonality {
		augLen, err := r.Uleb128()
		if err == nil {
			augEnd := r.Pos + int(augLen)
			if cie.LSDAPointerEncoding != 0 && cie.LSDAPointerEncoding != memview.PEomit {
				lsdaBase := bases.Text
				if cie.LSDAPointerEncoding&memview.PEapplMask == memview.PEdatarel {
					lsdaBase = bases.Got
				}
				lsda, err := r.ReadEncodedPointer(cie.LSDAPointerEncoding, lsdaBase)
				if err == nil {
					fde.LSDA = lsda
				}
			}
			r.Pos = augEnd
		}
	}

	if end < r.Pos {
		return nil, fmt.Errorf("FDE instructions start past its own end")
	}
	fde.Instructions = r.Data[r.Pos:end]
	return fde, nil
}

func readByte(r *memview.Reader) (byte, error) {
	return r.Uint8()
}

func readCString(r *memview.Reader) (string, error) {
	start := r.Pos
	for {
		b, err := r.Uint8()
		if err != nil {
			return "", err
		}
		if b == 0 {
			return string(r.Data[start : r.Pos-1]), nil
		}
	}
}
