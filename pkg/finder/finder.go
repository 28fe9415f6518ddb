// Package finder implements a composite FDE finder: up to four
// sub-finders tried in order, first hit wins.
//
// Grounded on go-delve/delve's pkg/proc.BinaryInfo, which resolves a PC to
// its containing Image by walking a registered list and asks each Image in
// turn — the same "try candidates in a fixed priority order, first match
// wins" shape, generalized here to the registry/eh_frame_hdr/phdr/static
// chain this module wires together.
package finder

import (
	"github.com/nbdd0121/unwinding/pkg/frame"
	"github.com/nbdd0121/unwinding/pkg/memview"
)

// Result is a finder's search result: the parsed FDE and the base
// addresses needed to decode its pointer encodings. The CIE it
// references is not stored separately; it is reachable via FDE.CIE.
type Result struct {
	FDE   *frame.FrameDescriptionEntry
	Bases memview.BaseAddresses
}

// SubFinder is the contract each of the four finders implements: find_fde
// a finder implements. pc is always the call-site PC (RA-1); a miss returns
// ok=false, never an error — lookups on a bad or unmapped pc are an
// ordinary, expected outcome, not a failure.
type SubFinder interface {
	FindFDE(pc uint64) (Result, bool)
}

// Composite tries its sub-finders in order and returns the first hit,
// the standard priority chain (registry, eh_frame_hdr, program headers,
// static). Sub-finders absent on a given platform (e.g. no
// static section registered) are simply omitted from Finders rather than
// represented as a no-op implementation.
type Composite struct {
	Finders []SubFinder
}

// NewComposite builds a Composite that tries finders in exactly the order
// given; it adds nothing of its own, so a caller wanting the registry
// first passes it first.
func NewComposite(finders ...SubFinder) *Composite {
	return &Composite{Finders: finders}
}

func (c *Composite) FindFDE(pc uint64) (Result, bool) {
	for _, f := range c.Finders {
		if f == nil {
			continue
		}
		if r, ok := f.FindFDE(pc); ok {
			return r, true
		}
	}
	return Result{}, false
}
