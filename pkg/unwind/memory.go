package unwind

import "unsafe"

// readWordUnsafe performs the single unaligned pointer-sized read rule
// application needs. addr always comes from a CFA/register rule derived
// from the running process's own stack; a corrupt unwind table produces
// undefined behavior here.
func readWordUnsafe(addr uint64) uint64 {
	return *(*uint64)(unsafe.Pointer(uintptr(addr)))
}
