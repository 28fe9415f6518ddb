//go:build amd64

package arch

// DWARF register numbers for x86_64, per the System V AMD64 ABI's DWARF
// register number mapping (the same numbering gcc/libgcc's .eh_frame and
// .eh_frame_hdr sections use).
const (
	DW_rax = 0
	DW_rdx = 1
	DW_rcx = 2
	DW_rbx = 3
	DW_rsi = 4
	DW_rdi = 5
	DW_rbp = 6
	DW_rsp = 7
	DW_r8  = 8
	DW_r9  = 9
	DW_r10 = 10
	DW_r11 = 11
	DW_r12 = 12
	DW_r13 = 13
	DW_r14 = 14
	DW_r15 = 15
	DW_rip = 16 // the return-address column

	DW_xmm0 = 17 // xmm0-xmm15 occupy 17-32
)

// UnwindPrivateDataWords is UNWIND_PRIVATE_DATA_SIZE on this target:
// libgcc's unwind-x86_64.h reserves 6 words of private data in struct
// _Unwind_Exception here.
const UnwindPrivateDataWords = 6

func init() {
	Current = &Arch{
		Name:                  "amd64",
		PtrSize:               8,
		SP:                    DW_rsp,
		RA:                    DW_rip,
		UnwindPrivateDataSize: UnwindPrivateDataWords,
	}
}
