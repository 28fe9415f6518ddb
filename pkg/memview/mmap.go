package memview

import (
	"fmt"
	"os"

	mmap "github.com/edsrzf/mmap-go"
)

// Section is a read-only, loader-supplied bounded view of part of an
// object's image: an .eh_frame or .eh_frame_hdr section backed either by
// a slice already in the Go heap (the registry's case, and the phdr
// finder's, which copies its sections out with debug/elf) or by a
// memory-mapped region of an on-disk file (MapSection; within this
// module only mmap_test.go maps one).
type Section struct {
	Bytes []byte

	// VMA is the virtual address Bytes[0] would be loaded at were this
	// object mapped by the runtime loader. FDE search results report
	// addresses in this space.
	VMA uint64

	m mmap.MMap // non-nil only when Bytes is backed by a live mmap
}

// NewSection wraps an already-resident slice (e.g. one __register_frame
// was handed, or one read out of this process's own mapped segments).
func NewSection(b []byte, vma uint64) *Section {
	return &Section{Bytes: b, VMA: vma}
}

// MapSection memory-maps [offset, offset+length) of the file at path,
// read-only, as the bytes for an .eh_frame-family section living at vma in
// the object's address space. This gives a bounded view of loader-supplied
// memory real backing storage when an object is inspected from its
// on-disk image rather than a live process, as github.com/saferwall/pe
// does for PE sections with the same library.
func MapSection(path string, offset int64, length int, vma uint64) (*Section, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("memview: open %s: %w", path, err)
	}
	defer f.Close()

	m, err := mmap.MapRegion(f, length, mmap.RDONLY, 0, offset)
	if err != nil {
		return nil, fmt.Errorf("memview: mmap %s at %#x/%d: %w", path, offset, length, err)
	}

	return &Section{Bytes: []byte(m), VMA: vma, m: m}, nil
}

// Close unmaps the section if it was backed by a live mmap; a no-op
// otherwise.
func (s *Section) Close() error {
	if s.m == nil {
		return nil
	}
	err := s.m.Unmap()
	s.m = nil
	return err
}

// Contains reports whether vma falls inside this section's mapped range.
func (s *Section) Contains(vma uint64) bool {
	return vma >= s.VMA && vma < s.VMA+uint64(len(s.Bytes))
}

// Slice returns the bytes of this section corresponding to the address
// range [vma, vma+n), or an error if any part of it falls outside the
// section.
func (s *Section) Slice(vma uint64, n int) ([]byte, error) {
	if vma < s.VMA || vma+uint64(n) > s.VMA+uint64(len(s.Bytes)) {
		return nil, fmt.Errorf("memview: address range [%#x,%#x) outside section [%#x,%#x)", vma, vma+uint64(n), s.VMA, s.VMA+uint64(len(s.Bytes)))
	}
	off := vma - s.VMA
	return s.Bytes[off : off+uint64(n)], nil
}
