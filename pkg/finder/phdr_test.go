package finder

import (
	"testing"

	"github.com/nbdd0121/unwinding/pkg/frame"
	"github.com/nbdd0121/unwinding/pkg/memview"
)

func TestPhdrFinderLinearFallback(t *testing.T) {
	cie := &frame.CommonInformationEntry{CodeAlignmentFactor: 1, DataAlignmentFactor: -8, ReturnAddressColumn: 16}
	fdes := frame.FrameDescriptionEntries{{CIE: cie, Begin: 0x400000, End: 0x400100}}

	obj := &LoadedObject{
		LoadRange:     [2]uint64{0x400000, 0x401000},
		Bases:         memview.BaseAddresses{Text: 0x400000},
		ehFrameLinear: fdes,
	}
	pf := &PhdrFinder{Objects: []*LoadedObject{obj}}

	res, ok := pf.FindFDE(0x400050)
	if !ok {
		t.Fatal("expected a hit via the linear .eh_frame fallback")
	}
	if res.FDE.Begin != 0x400000 {
		t.Fatalf("fde.Begin = %#x, want 0x400000", res.FDE.Begin)
	}

	if _, ok := pf.FindFDE(0x500000); ok {
		t.Fatal("expected a miss for a pc outside every object's LoadRange")
	}
}

func TestPhdrFinderPicksContainingObject(t *testing.T) {
	cie := &frame.CommonInformationEntry{CodeAlignmentFactor: 1, DataAlignmentFactor: -8, ReturnAddressColumn: 16}
	fdesA := frame.FrameDescriptionEntries{{CIE: cie, Begin: 0x400000, End: 0x400100}}
	fdesB := frame.FrameDescriptionEntries{{CIE: cie, Begin: 0x500000, End: 0x500100}}

	objA := &LoadedObject{LoadRange: [2]uint64{0x400000, 0x401000}, ehFrameLinear: fdesA}
	objB := &LoadedObject{LoadRange: [2]uint64{0x500000, 0x501000}, ehFrameLinear: fdesB}
	pf := &PhdrFinder{Objects: []*LoadedObject{objA, objB}}

	res, ok := pf.FindFDE(0x500050)
	if !ok || res.FDE.Begin != 0x500000 {
		t.Fatalf("FindFDE(0x500050) = %+v, %v, want a hit in objB", res, ok)
	}
}

func TestLoadedObjectFindFDEFallsBackToLinearWithoutHdr(t *testing.T) {
	cie := &frame.CommonInformationEntry{CodeAlignmentFactor: 1, DataAlignmentFactor: -8, ReturnAddressColumn: 16}
	linear := frame.FrameDescriptionEntries{{CIE: cie, Begin: 0x400000, End: 0x400100}}

	// No ehFrameHdrFinder installed: findFDE must fall through to the
	// linear table rather than reporting a miss.
	obj := &LoadedObject{LoadRange: [2]uint64{0x400000, 0x401000}, ehFrameLinear: linear}
	pf := &PhdrFinder{Objects: []*LoadedObject{obj}}

	if _, ok := pf.FindFDE(0x400050); !ok {
		t.Fatal("expected the linear table to serve the lookup when no hdr finder is installed")
	}
}
