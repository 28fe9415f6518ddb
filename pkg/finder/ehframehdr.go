package finder

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/nbdd0121/unwinding/pkg/frame"
	"github.com/nbdd0121/unwinding/pkg/memview"
)

// ehFrameHdrTableEntry is one row of the .eh_frame_hdr binary search
// table: an (initial_loc, fde_addr) pair, both already resolved to
// absolute addresses.
type ehFrameHdrTableEntry struct {
	initialLoc uint64
	fdeAddr    uint64
}

// EhFrameHdrFinder locates FDEs via a single object's .eh_frame_hdr
// binary-search table instead of a linear
// .eh_frame scan. One instance covers one loaded object (one PT_LOAD
// range); the phdr finder is responsible for picking which object's
// EhFrameHdrFinder to consult for a given pc.
type EhFrameHdrFinder struct {
	EhFrame    *memview.Section
	EhFrameHdr *memview.Section
	Bases      memview.BaseAddresses
	Order      binary.ByteOrder

	once    sync.Once
	table   []ehFrameHdrTableEntry
	parseOK bool
}

func (f *EhFrameHdrFinder) parseHeader() {
	f.once.Do(func() {
		table, err := decodeEhFrameHdr(f.EhFrameHdr, f.Bases)
		if err != nil {
			// A malformed .eh_frame_hdr is treated the same as absent:
			// the composite finder falls through to the next sub-finder
			// rather than erroring the whole lookup.
			return
		}
		f.table = table
		f.parseOK = true
	})
}

// decodeEhFrameHdr parses the fixed header plus its binary search table,
// per the LSB's eh_frame_hdr layout: a 4-byte prefix (version,
// eh_frame_ptr_enc, fde_count_enc, table_enc) followed by eh_frame_ptr,
// fde_count, then fde_count (initial_loc, address) pairs encoded with
// table_enc.
func decodeEhFrameHdr(hdr *memview.Section, bases memview.BaseAddresses) ([]ehFrameHdrTableEntry, error) {
	if hdr == nil {
		return nil, fmt.Errorf("finder: no .eh_frame_hdr section")
	}
	r := &memview.Reader{Data: hdr.Bytes, Little: true, Start: hdr.VMA}

	version, err := r.Uint8()
	if err != nil {
		return nil, err
	}
	if version != 1 {
		return nil, fmt.Errorf("finder: unsupported .eh_frame_hdr version %d", version)
	}
	ehFramePtrEnc, err := r.Uint8()
	if err != nil {
		return nil, err
	}
	fdeCountEnc, err := r.Uint8()
	if err != nil {
		return nil, err
	}
	tableEnc, err := r.Uint8()
	if err != nil {
		return nil, err
	}

	if ehFramePtrEnc != memview.PEomit {
		if _, err := r.ReadEncodedPointer(ehFramePtrEnc, bases.Text); err != nil {
			return nil, err
		}
	}

	if fdeCountEnc == memview.PEomit {
		return nil, fmt.Errorf("finder: .eh_frame_hdr has no binary search table")
	}
	count, err := r.ReadEncodedPointer(fdeCountEnc&0x0f, 0)
	if err != nil {
		return nil, err
	}

	table := make([]ehFrameHdrTableEntry, 0, count)
	for i := uint64(0); i < count; i++ {
		loc, err := r.ReadEncodedPointer(tableEnc, bases.EhFrameHdr)
		if err != nil {
			return nil, err
		}
		addr, err := r.ReadEncodedPointer(tableEnc, bases.EhFrameHdr)
		if err != nil {
			return nil, err
		}
		table = append(table, ehFrameHdrTableEntry{initialLoc: loc, fdeAddr: addr})
	}
	return table, nil
}

func (f *EhFrameHdrFinder) FindFDE(pc uint64) (Result, bool) {
	f.parseHeader()
	if !f.parseOK || f.EhFrame == nil {
		return Result{}, false
	}

	lo, hi := 0, len(f.table)
	for lo < hi {
		mid := (lo + hi) / 2
		if f.table[mid].initialLoc <= pc {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo == 0 {
		return Result{}, false
	}
	entry := f.table[lo-1]

	order := f.Order
	if order == nil {
		order = binary.LittleEndian
	}
	fde, err := frame.ParseFDEAt(f.EhFrame.Bytes, order, f.EhFrame.VMA, f.Bases, entry.fdeAddr)
	if err != nil || !fde.Cover(pc) {
		return Result{}, false
	}
	return Result{FDE: fde, Bases: f.Bases}, true
}
