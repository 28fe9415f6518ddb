package ehabi

import (
	"fmt"
	"sync"
)

// Table is a parsed .ARM.exidx section plus the .ARM.extbl bytes its
// non-inline entries reference, the EHABI analog of pkg/frame's parsed
// .eh_frame.
type Table struct {
	Entries  []Entry
	Extab    []byte
	ExtabVMA uint64
	ExidxVMA uint64
}

// ErrCantUnwind is returned when the located entry is EXIDX_CANTUNWIND.
var ErrCantUnwind = fmt.Errorf("ehabi: EXIDX_CANTUNWIND")

// Program returns the VRS instruction stream for the entry covering pc:
// it binary-searches exidx for that entry, then returns either its
// inline program or the program decoded from .ARM.extbl, uninterpreted.
func (t *Table) Program(pc uint64) ([]byte, *Entry, error) {
	entry, ok := FindEntry(t.Entries, pc)
	if !ok {
		return nil, nil, fmt.Errorf("ehabi: no exidx entry covers pc %#x", pc)
	}
	if entry.CantUnwind() {
		return nil, entry, ErrCantUnwind
	}
	if entry.Inline() {
		return entry.InlineProgram(), entry, nil
	}

	// The second word's own address is the base for its prel31 offset:
	// entries are 8 bytes, word1 is 4 bytes into the entry.
	wordAddr := entryWordAddr(t, entry)
	off := entry.ExtabOffset(wordAddr) - t.ExtabVMA
	program, err := DecodeExtabProgram(t.Extab, off)
	if err != nil {
		return nil, entry, err
	}
	return program, entry, nil
}

func entryWordAddr(t *Table, e *Entry) uint64 {
	for i := range t.Entries {
		if &t.Entries[i] == e {
			return t.ExidxVMA + uint64(i*8) + 4
		}
	}
	return 0
}

// Unwind runs the VRS program covering pc against vrs, mutating it into
// the caller's register state.
func (t *Table) Unwind(pc uint64, vrs *VRS, mem MemReader) error {
	program, _, err := t.Program(pc)
	if err != nil {
		return err
	}
	return Interpret(program, vrs, mem)
}

// StaticFinder is the "static EHABI finder" analog of pkg/finder's
// StaticFinder: a compiled-in .ARM.exidx/.ARM.extbl pair for freestanding
// ARM32 targets with no loader to walk, installed once at startup.
type StaticFinder struct {
	mu    sync.RWMutex
	table *Table
}

// SetSection installs the statically linked exidx/extab pair this finder
// should search.
func (s *StaticFinder) SetSection(exidx []byte, exidxVMA uint64, extab []byte, extabVMA uint64) error {
	entries, err := ParseExidx(exidx, exidxVMA)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.table = &Table{Entries: entries, Extab: extab, ExtabVMA: extabVMA, ExidxVMA: exidxVMA}
	s.mu.Unlock()
	return nil
}

// Table returns the currently installed table, or nil if none was set.
func (s *StaticFinder) Table() *Table {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.table
}

// DefaultStatic is the static EHABI table a freestanding ARM32 embedder
// installs its compiled-in exidx/extab image into.
var DefaultStatic StaticFinder
