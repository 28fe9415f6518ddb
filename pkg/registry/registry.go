// Package registry implements the linked-list manual frame registry
// backing the __register_frame/__register_frame_info/
// __deregister_frame family, used by JIT-compiled or
// otherwise dynamically-generated code that never shows up in a program's
// ELF phdrs.
//
// Grounded on go-delve/delve's pattern of a package-level mutex-guarded
// slice/list protecting a shared, mutated-at-runtime table (see
// pkg/proc/bininfo.go's Images slice and its loadedMutex), generalized here
// to a singly linked list since entries are registered/deregistered by
// pointer identity rather than indexed.
package registry

import (
	"sync"

	"github.com/nbdd0121/unwinding/pkg/frame"
	"github.com/nbdd0121/unwinding/pkg/memview"
)

// Entry is one registered .eh_frame-family region: either a whole section
// (__register_frame_info, which can contain many FDEs) or a single FDE
// handed directly to __register_frame.
type Entry struct {
	next *Entry

	Bases memview.BaseAddresses
	FDEs  frame.FrameDescriptionEntries

	// key is the address identifying this registration, used to find the
	// matching entry again on deregister. For __register_frame it is the
	// FDE's own address; for __register_frame_info it is the section's
	// base address.
	key uint64
}

// Registry is a mutex-guarded singly linked list of registered regions.
// The zero value is ready to use.
type Registry struct {
	mu   sync.Mutex
	head *Entry
}

// Register adds a parsed region under key, which deregister must later be
// called with. Malformed regions are the caller's problem to catch before
// calling Register: this type only stores what it is given.
func (r *Registry) Register(key uint64, bases memview.BaseAddresses, fdes frame.FrameDescriptionEntries) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.head = &Entry{next: r.head, Bases: bases, FDEs: fdes, key: key}
}

// Deregister removes the entry previously registered under key, if any.
// Unknown keys are silently ignored, matching __deregister_frame's
// documented tolerance of being called on something never registered.
func (r *Registry) Deregister(key uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var prev *Entry
	for e := r.head; e != nil; e = e.next {
		if e.key == key {
			if prev == nil {
				r.head = e.next
			} else {
				prev.next = e.next
			}
			return
		}
		prev = e
	}
}

// FindFDE walks the registry looking for an entry whose FDE table covers
// pc, returning the FDE and the BaseAddresses needed to interpret its
// pointer encodings. Malformed or unparseable entries were already
// dropped at Register time, so this walk never errors — a miss just means
// no registered region covers pc.
func (r *Registry) FindFDE(pc uint64) (*frame.FrameDescriptionEntry, memview.BaseAddresses, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for e := r.head; e != nil; e = e.next {
		if fde := e.FDEs.FDEForPC(pc); fde != nil {
			return fde, e.Bases, true
		}
	}
	return nil, memview.BaseAddresses{}, false
}

// Default is the process-wide registry __register_frame and friends
// operate on, mirroring the single global table the Itanium ABI specifies.
var Default Registry
