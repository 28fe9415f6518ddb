//go:build arm64

package arch

// DWARF register numbers for AArch64 (DWARF for the ARM 64-bit
// Architecture, §4.1): X0-X30 are 0-30, SP is 31, V0-V31 occupy 64-95.
const (
	DW_x0  = 0
	DW_x29 = 29 // frame pointer, by AAPCS64 convention
	DW_x30 = 30 // link register: the return-address column
	DW_sp  = 31

	DW_v0 = 64
)

// UnwindPrivateDataWords is UNWIND_PRIVATE_DATA_SIZE on this target:
// libgcc's generic unwind-dw2.h header reserves 5 words of private data
// here.
const UnwindPrivateDataWords = 5

func init() {
	Current = &Arch{
		Name:                  "arm64",
		PtrSize:               8,
		SP:                    DW_sp,
		RA:                    DW_x30,
		UnwindPrivateDataSize: UnwindPrivateDataWords,
	}
}
