package abi

import "sync"

// Real Itanium-ABI unwinding calls a personality through a raw function
// pointer recovered from the CIE's relocated augmentation data. A
// same-process Go build has no way to materialize a callable Go value
// from an arbitrary foreign address without cgo, so this module keys
// personalities by the same uint64 address a toolchain would relocate
// into the CIE and lets callers (language runtimes, or this module's own
// test scenarios) register the Go closure that address should invoke.
var (
	personalityMu sync.RWMutex
	personalities = map[uint64]PersonalityFn{}
)

// RegisterPersonality associates addr (the value a CIE's personality
// pointer field carries) with fn. A frame whose CIE personality has no
// registered function is treated as a plain pass-through frame: the
// state machine unwinds past it without invoking anything, exactly as a
// CIE with no personality at all.
func RegisterPersonality(addr uint64, fn PersonalityFn) {
	personalityMu.Lock()
	defer personalityMu.Unlock()
	personalities[addr] = fn
}

// UnregisterPersonality removes a previously registered personality.
func UnregisterPersonality(addr uint64) {
	personalityMu.Lock()
	defer personalityMu.Unlock()
	delete(personalities, addr)
}

func lookupPersonality(addr uint64) (PersonalityFn, bool) {
	personalityMu.RLock()
	defer personalityMu.RUnlock()
	fn, ok := personalities[addr]
	return fn, ok
}
