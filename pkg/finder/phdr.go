package finder

import (
	"bufio"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/nbdd0121/unwinding/pkg/frame"
	"github.com/nbdd0121/unwinding/pkg/memview"
)

// auxv vector tags this module reads, per the System V auxiliary vector
// layout glibc's __libc_csu and the dynamic loader populate.
const (
	atNull  = 0
	atPhdr  = 3
	atPhent = 4
	atPhnum = 5
	atEntry = 9
)

// Auxv holds the handful of auxiliary-vector entries the phdr finder
// needs to locate the main executable's own program headers without
// going through /proc/self/maps for it (the main binary is rarely
// position-independent-loaded the same way shared libraries are, so its
// AT_PHDR entry is the authoritative source).
type Auxv struct {
	Phdr  uint64
	Phent uint64
	Phnum uint64
	Entry uint64
}

// ReadSelfAuxv reads this process's own auxiliary vector from
// /proc/self/auxv, opened with golang.org/x/sys/unix so this module's
// only syscall surface for process introspection goes through the same
// package the rest of the finder chain uses for /proc access.
func ReadSelfAuxv() (Auxv, error) {
	fd, err := unix.Open("/proc/self/auxv", unix.O_RDONLY, 0)
	if err != nil {
		return Auxv{}, fmt.Errorf("finder: open /proc/self/auxv: %w", err)
	}
	defer unix.Close(fd)

	var buf [4096]byte
	n, err := unix.Read(fd, buf[:])
	if err != nil {
		return Auxv{}, fmt.Errorf("finder: read /proc/self/auxv: %w", err)
	}

	var av Auxv
	data := buf[:n]
	for len(data) >= 16 {
		tag := binary.LittleEndian.Uint64(data[0:8])
		val := binary.LittleEndian.Uint64(data[8:16])
		data = data[16:]
		switch tag {
		case atNull:
			return av, nil
		case atPhdr:
			av.Phdr = val
		case atPhent:
			av.Phent = val
		case atPhnum:
			av.Phnum = val
		case atEntry:
			av.Entry = val
		}
	}
	return av, nil
}

// LoadedObject is one entry of the phdr finder's object list: a single
// ELF image mapped somewhere in this process's address space, with its
// .eh_frame/.eh_frame_hdr sections resolved to a live Section and its
// PT_LOAD ranges recorded so PhdrFinder can pick the right object for a
// given pc: the one whose PT_LOAD segment contains it.
type LoadedObject struct {
	Path      string
	LoadBias  uint64
	LoadRange [2]uint64 // [min, max) across all PT_LOAD segments, biased

	EhFrame    *memview.Section
	EhFrameHdr *memview.Section
	Bases      memview.BaseAddresses

	ehFrameHdrFinder *EhFrameHdrFinder
	ehFrameLinear    frame.FrameDescriptionEntries
}

func (o *LoadedObject) contains(pc uint64) bool {
	return pc >= o.LoadRange[0] && pc < o.LoadRange[1]
}

func (o *LoadedObject) findFDE(pc uint64) (Result, bool) {
	if o.ehFrameHdrFinder != nil {
		if r, ok := o.ehFrameHdrFinder.FindFDE(pc); ok {
			return r, true
		}
	}
	if o.ehFrameLinear != nil {
		if fde := o.ehFrameLinear.FDEForPC(pc); fde != nil {
			return Result{FDE: fde, Bases: o.Bases}, true
		}
	}
	return Result{}, false
}

// PhdrFinder iterates loaded objects by program header, picks the one
// covering pc, and falls back to a
// linear .eh_frame scan when that object has no usable .eh_frame_hdr.
type PhdrFinder struct {
	Objects []*LoadedObject
}

func (p *PhdrFinder) FindFDE(pc uint64) (Result, bool) {
	for _, o := range p.Objects {
		if !o.contains(pc) {
			continue
		}
		return o.findFDE(pc)
	}
	return Result{}, false
}

// DiscoverSelf builds a PhdrFinder covering every ELF object currently
// mapped into this process, by reading /proc/self/maps for the distinct
// backing file paths and opening each with debug/elf — the same package
// delve itself links against for binary introspection, so no third-party
// ELF parser is warranted here (see DESIGN.md's stdlib-usage entry for
// pkg/finder).
func DiscoverSelf() (*PhdrFinder, error) {
	paths, bases, err := selfMappedObjects()
	if err != nil {
		return nil, err
	}

	pf := &PhdrFinder{}
	for _, path := range paths {
		obj, err := loadObject(path, bases[path])
		if err != nil {
			continue // unreadable or non-ELF mapping; skip, not fatal
		}
		pf.Objects = append(pf.Objects, obj)
	}
	return pf, nil
}

// selfMappedObjects parses /proc/self/maps for the lowest mapped address
// of each distinct backing file, which is the load bias debug/elf's
// reported vaddrs must be offset by for a PIE/shared object.
func selfMappedObjects() ([]string, map[string]uint64, error) {
	f, err := os.Open("/proc/self/maps")
	if err != nil {
		return nil, nil, fmt.Errorf("finder: open /proc/self/maps: %w", err)
	}
	defer f.Close()

	bases := map[string]uint64{}
	var order []string

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		fields := strings.Fields(line)
		if len(fields) < 6 {
			continue
		}
		path := fields[len(fields)-1]
		if !strings.HasPrefix(path, "/") {
			continue
		}
		addrRange := strings.SplitN(fields[0], "-", 2)
		if len(addrRange) != 2 {
			continue
		}
		lo, err := strconv.ParseUint(addrRange[0], 16, 64)
		if err != nil {
			continue
		}
		if _, ok := bases[path]; !ok {
			order = append(order, path)
			bases[path] = lo
		} else if lo < bases[path] {
			bases[path] = lo
		}
	}
	if err := sc.Err(); err != nil {
		return nil, nil, fmt.Errorf("finder: scan /proc/self/maps: %w", err)
	}
	return order, bases, nil
}

func loadObject(path string, mappedLo uint64) (*LoadedObject, error) {
	ef, err := elf.Open(path)
	if err != nil {
		return nil, err
	}
	defer ef.Close()

	var minVaddr uint64 = ^uint64(0)
	var maxVaddr uint64
	havePTLoad := false
	for _, prog := range ef.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		havePTLoad = true
		if prog.Vaddr < minVaddr {
			minVaddr = prog.Vaddr
		}
		if end := prog.Vaddr + prog.Memsz; end > maxVaddr {
			maxVaddr = end
		}
	}
	if !havePTLoad {
		return nil, fmt.Errorf("finder: %s has no PT_LOAD segments", path)
	}

	bias := mappedLo - minVaddr
	if ef.Type != elf.ET_DYN {
		// Non-PIE executables are loaded at their linked addresses: no
		// bias to apply.
		bias = 0
	}

	obj := &LoadedObject{
		Path:      path,
		LoadBias:  bias,
		LoadRange: [2]uint64{minVaddr + bias, maxVaddr + bias},
		Bases:     memview.BaseAddresses{Text: minVaddr + bias},
	}

	if pltgot, err := ef.DynValue(elf.DT_PLTGOT); err == nil && len(pltgot) > 0 {
		obj.Bases.Got = pltgot[0] + bias
	}
	if data := ef.Section(".data"); data != nil {
		obj.Bases.Data = data.Addr + bias
	}

	ehFrameSec := ef.Section(".eh_frame")
	if ehFrameSec == nil {
		return nil, fmt.Errorf("finder: %s has no .eh_frame section", path)
	}
	ehFrameBytes, err := ehFrameSec.Data()
	if err != nil {
		return nil, fmt.Errorf("finder: read .eh_frame from %s: %w", path, err)
	}
	obj.EhFrame = memview.NewSection(ehFrameBytes, ehFrameSec.Addr+bias)
	obj.Bases.EhFrame = obj.EhFrame.VMA

	if hdrSec := ef.Section(".eh_frame_hdr"); hdrSec != nil {
		if hdrBytes, err := hdrSec.Data(); err == nil {
			obj.EhFrameHdr = memview.NewSection(hdrBytes, hdrSec.Addr+bias)
			obj.Bases.EhFrameHdr = obj.EhFrameHdr.VMA
			obj.ehFrameHdrFinder = &EhFrameHdrFinder{
				EhFrame:    obj.EhFrame,
				EhFrameHdr: obj.EhFrameHdr,
				Bases:      obj.Bases,
				Order:      binary.LittleEndian,
			}
			obj.ehFrameHdrFinder.parseHeader()
			if !obj.ehFrameHdrFinder.parseOK {
				// No binary search table (or a malformed header).
				obj.ehFrameHdrFinder = nil
			}
		}
	}

	if obj.ehFrameHdrFinder == nil {
		// No usable .eh_frame_hdr: fall back to a full linear parse of
		// .eh_frame.
		fdes, err := frame.Parse(ehFrameBytes, binary.LittleEndian, obj.EhFrame.VMA, obj.Bases)
		if err == nil {
			obj.ehFrameLinear = fdes
		}
	}

	return obj, nil
}
