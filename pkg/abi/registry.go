package abi

import (
	"encoding/binary"

	"github.com/nbdd0121/unwinding/internal/logflags"
	"github.com/nbdd0121/unwinding/pkg/frame"
	"github.com/nbdd0121/unwinding/pkg/memview"
	"github.com/nbdd0121/unwinding/pkg/registry"
)

// RegisterFrame implements __register_frame: parses data as a
// null-terminated sequence of CIE/FDE records living at vma and inserts
// it at the head of the process registry. A malformed region is dropped
// silently — a subsequent DeregisterFrame(vma) is then simply a no-op.
func RegisterFrame(data []byte, vma uint64, bases memview.BaseAddresses) {
	fdes, err := frame.Parse(data, binary.LittleEndian, vma, bases)
	if err != nil {
		if logflags.Registry() {
			logflags.RegistryLogger().WithError(err).Warn("dropping malformed __register_frame region")
		}
		return
	}
	registry.Default.Register(vma, bases, fdes)
}

// RegisterFrameInfo implements __register_frame_info: identical to
// RegisterFrame, the `_obj` parameter in the Itanium ABI signature exists
// only for implementations that need an opaque per-object cookie to
// deregister by, which this registry's pointer-identity (vma) key makes
// unnecessary.
func RegisterFrameInfo(data []byte, vma uint64, bases memview.BaseAddresses) {
	RegisterFrame(data, vma, bases)
}

// DeregisterFrame implements __deregister_frame: removes the region
// previously registered at vma. No-op if vma was never registered or was
// dropped for being malformed.
func DeregisterFrame(vma uint64) {
	registry.Default.Deregister(vma)
}
