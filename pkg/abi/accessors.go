package abi

// GetGR implements _Unwind_GetGR: reads a DWARF-numbered register out of
// the context's register file.
func (c *UnwindContext) GetGR(reg int) uint64 { return c.ctx.Reg(reg) }

// SetGR implements _Unwind_SetGR: writes a DWARF-numbered register.
func (c *UnwindContext) SetGR(reg int, value uint64) { c.ctx.SetReg(reg, value) }

// GetIP implements _Unwind_GetIP: IP aliases the RA register.
func (c *UnwindContext) GetIP() uint64 { return c.ctx.RA() }

// SetIP implements _Unwind_SetIP.
func (c *UnwindContext) SetIP(value uint64) { c.ctx.SetRA(value) }

// GetIPInfo implements _Unwind_GetIPInfo. ipBeforeInsn is always 0: this
// library always reports the return-to address, never a pre-call IP;
// signal-frame detection that would set this is stubbed.
func (c *UnwindContext) GetIPInfo() (ip uint64, ipBeforeInsn int) {
	return c.ctx.RA(), 0
}

// GetCFA implements _Unwind_GetCFA: the current SP, which step 2 of
// frame.unwind establishes as the CFA of the frame this context
// describes.
func (c *UnwindContext) GetCFA() uint64 { return c.ctx.SP() }

// GetLanguageSpecificData implements _Unwind_GetLanguageSpecificData:
// the address of the frame's LSDA, or 0 if it has none.
func (c *UnwindContext) GetLanguageSpecificData() uint64 {
	if c.frame == nil {
		return 0
	}
	return c.frame.FDE.LSDA
}

// GetRegionStart implements _Unwind_GetRegionStart: the FDE's initial
// address.
func (c *UnwindContext) GetRegionStart() uint64 {
	if c.frame == nil {
		return 0
	}
	return c.frame.FDE.Begin
}

// GetTextRelBase implements _Unwind_GetTextRelBase.
func (c *UnwindContext) GetTextRelBase() uint64 {
	if c.frame == nil {
		return 0
	}
	return c.frame.Bases.Text
}

// GetDataRelBase implements _Unwind_GetDataRelBase.
func (c *UnwindContext) GetDataRelBase() uint64 {
	if c.frame == nil {
		return 0
	}
	return c.frame.Bases.Got
}

// IsHandlerFrame reports whether HandlerFrame was set for this callback
// invocation, letting a personality avoid re-deriving it from actions.
func (c *UnwindContext) IsHandlerFrame() bool { return c.isHandler }

// FindEnclosingFunction implements _Unwind_FindEnclosingFunction: for any
// pc covered by some FDE, returns the FDE's initial address; otherwise
// returns 0.
func FindEnclosingFunction(pc uint64) uint64 {
	result, ok := defaultFinder().FindFDE(pc)
	if !ok {
		return 0
	}
	return result.FDE.Begin
}
