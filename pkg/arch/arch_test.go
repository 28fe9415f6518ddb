package arch

import "testing"

func TestCurrentMatchesCompiledTarget(t *testing.T) {
	if Current == nil {
		t.Fatal("expected Current to be set by a build-tagged init()")
	}
	if Current.SP < 0 || Current.SP >= MaxRegs {
		t.Fatalf("SP register %d out of range", Current.SP)
	}
	if Current.RA < 0 || Current.RA >= MaxRegs {
		t.Fatalf("RA register %d out of range", Current.RA)
	}
}

func TestContextRegRoundTrip(t *testing.T) {
	c := &Context{}
	c.SetReg(3, 0xdeadbeef)
	if got := c.Reg(3); got != 0xdeadbeef {
		t.Fatalf("Reg(3) = %#x, want 0xdeadbeef", got)
	}
}

func TestContextSPAndRA(t *testing.T) {
	c := &Context{}
	c.SetSP(0x7ffe0000)
	c.SetRA(0x401234)
	if c.SP() != 0x7ffe0000 {
		t.Fatalf("SP() = %#x, want 0x7ffe0000", c.SP())
	}
	if c.RA() != 0x401234 {
		t.Fatalf("RA() = %#x, want 0x401234", c.RA())
	}
}

func TestContextCloneIsIndependent(t *testing.T) {
	c := &Context{}
	c.SetReg(5, 1)
	clone := c.Clone()
	clone.SetReg(5, 2)
	if c.Reg(5) != 1 {
		t.Fatalf("original Reg(5) = %d, want unchanged 1", c.Reg(5))
	}
	if clone.Reg(5) != 2 {
		t.Fatalf("clone Reg(5) = %d, want 2", clone.Reg(5))
	}
}

func TestRegOutOfRangePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic for an out-of-range register number")
		}
	}()
	c := &Context{}
	c.Reg(MaxRegs)
}

func TestSetRegOutOfRangePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic for an out-of-range register number")
		}
	}()
	c := &Context{}
	c.SetReg(-1, 0)
}
