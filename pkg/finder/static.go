package finder

import (
	"encoding/binary"
	"sync"

	"github.com/nbdd0121/unwinding/pkg/frame"
	"github.com/nbdd0121/unwinding/pkg/memview"
)

// StaticFinder wraps a compiled-in
// __eh_frame_start/__eh_frame_end section for targets with no loader to
// walk program headers against (a statically linked freestanding binary,
// or a target this module is cross-compiled for). Go has no linker
// symbol equivalent to __eh_frame_start that user code can reference
// directly, so this module exposes the same shape as an explicit
// registration call the embedder's init() makes once at startup.
type StaticFinder struct {
	mu    sync.RWMutex
	fdes  frame.FrameDescriptionEntries
	bases memview.BaseAddresses
}

// SetSection installs the statically-linked .eh_frame image this finder
// should search, replacing anything previously installed. data is parsed
// eagerly: a static section, unlike a registry entry, is expected to be
// parsed once at startup and never change.
func (s *StaticFinder) SetSection(data []byte, order binary.ByteOrder, sectionVMA uint64, bases memview.BaseAddresses) error {
	fdes, err := frame.Parse(data, order, sectionVMA, bases)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.fdes = fdes
	s.bases = bases
	s.mu.Unlock()
	return nil
}

func (s *StaticFinder) FindFDE(pc uint64) (Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.fdes == nil {
		return Result{}, false
	}
	fde := s.fdes.FDEForPC(pc)
	if fde == nil {
		return Result{}, false
	}
	return Result{FDE: fde, Bases: s.bases}, true
}

// DefaultStatic is the static sub-finder a freestanding embedder installs
// its compiled-in .eh_frame image into, analogous to the Rust crate's
// reliance on a single pair of __eh_frame_start/__eh_frame_end symbols.
var DefaultStatic StaticFinder
