//go:build arm64

package arch

// SaveContext and RestoreContext are AArch64's implementations of the
// save/restore contract; see context_amd64.go for the full description.
// On this target the AAPCS64 callee-saved set is x19-x29 plus the link
// register (x30) and the stack pointer.
//
//go:noescape
func SaveContext(ctx *Context)

//go:noescape
func RestoreContext(ctx *Context)
