package frame

import "fmt"

// CFA bytecode opcodes, DW_CFA_* — unchanged from pattyshack/bad/dwarf and
// ConradIrwin/go-dwarf's tables (which in turn come straight from the
// DWARF spec's Call Frame Information chapter).
const (
	opAdvanceLoc = 0x40 // high 2 bits of opcode, low 6 bits = delta
	opOffset     = 0x80 // high 2 bits, low 6 bits = register
	opRestore    = 0xc0 // high 2 bits, low 6 bits = register

	opNop               = 0x00
	opSetLoc            = 0x01
	opAdvanceLoc1       = 0x02
	opAdvanceLoc2       = 0x03
	opAdvanceLoc4       = 0x04
	opOffsetExtended    = 0x05
	opRestoreExtended   = 0x06
	opUndefined         = 0x07
	opSameValue         = 0x08
	opRegister          = 0x09
	opRememberState     = 0x0a
	opRestoreState      = 0x0b
	opDefCFA            = 0x0c
	opDefCFARegister    = 0x0d
	opDefCFAOffset      = 0x0e
	opDefCFAExpression  = 0x0f
	opExpression        = 0x10
	opOffsetExtendedSF  = 0x11
	opDefCFASF          = 0x12
	opDefCFAOffsetSF    = 0x13
	opValOffset         = 0x14
	opValOffsetSF       = 0x15
	opValExpression     = 0x16
	opGNUArgsSize       = 0x2e
	opGNUNegativeOffset = 0x2f
)

// RuleKind identifies how to recover a register's (or the CFA's) value in
// the caller, one of the RegisterRule variants DWARF CFI defines.
type RuleKind int

const (
	RuleUndefined RuleKind = iota
	RuleSameValue
	RuleOffset
	RuleValOffset
	RuleRegister
	RuleExpression
	RuleValExpression
	RuleArchitectural
	RuleCFA // only ever used as FrameContext.CFA's own Rule
	RuleFramePointer
)

// DWRule is one entry of an UnwindTableRow: a RegisterRule describing
// how to recover its caller value.
type DWRule struct {
	Rule       RuleKind
	Reg        uint64
	Offset     int64
	Expression []byte
}

// FrameContext is the decoded unwind-table row for one PC: the CFA rule
// and, for each register of interest, a RegisterRule.
type FrameContext struct {
	CFA        DWRule
	Regs       map[uint64]DWRule
	RetAddrReg uint64
}

func newFrameContext() *FrameContext {
	return &FrameContext{Regs: map[uint64]DWRule{}}
}

func (fc *FrameContext) copy() *FrameContext {
	regs := make(map[uint64]DWRule, len(fc.Regs))
	for k, v := range fc.Regs {
		regs[k] = v
	}
	return &FrameContext{CFA: fc.CFA, Regs: regs, RetAddrReg: fc.RetAddrReg}
}

// ExecuteDwarfProgram runs a FDE's CIE initialization program followed by
// its own program up to pc, and returns the resulting FrameContext. This
// is this module's own unwind_info_for_address(pc) equivalent, a direct
// state-machine interpretation of the CFA bytecode rather than a
// third-party DWARF library, following
// pattyshack/bad/dwarf.computeUnwindRules almost line for line.
func ExecuteDwarfProgram(fde *FrameDescriptionEntry, pc uint64) (*FrameContext, error) {
	state := &cfiState{
		fde:   fde,
		stack: []*FrameContext{newFrameContext()},
	}
	state.top().RetAddrReg = fde.CIE.ReturnAddressColumn

	if err := state.run(fde.CIE.Instructions, fde.Begin, ^uint64(0)); err != nil {
		return nil, fmt.Errorf("frame: CIE program: %w", err)
	}
	state.cieRules = state.top().copy()

	if err := state.run(fde.Instructions, fde.Begin, pc); err != nil {
		return nil, fmt.Errorf("frame: FDE program: %w", err)
	}

	return state.top(), nil
}

type cfiState struct {
	fde      *FrameDescriptionEntry
	location uint64
	cieRules *FrameContext
	stack    []*FrameContext
}

func (s *cfiState) top() *FrameContext { return s.stack[len(s.stack)-1] }

func (s *cfiState) push() {
	s.stack = append(s.stack, s.top().copy())
}

func (s *cfiState) pop() error {
	if len(s.stack) < 2 {
		return fmt.Errorf("DW_CFA_restore_state with no matching remember_state")
	}
	s.stack = s.stack[:len(s.stack)-1]
	return nil
}

// run executes instructions (either the CIE's initialization program or an
// FDE's program) starting at location=start, stopping either when the
// instruction stream is exhausted or the current location has advanced
// past stopPC (used by the FDE program, which stops once its location
// has advanced past the query pc).
func (s *cfiState) run(instructions []byte, start uint64, stopPC uint64) error {
	s.location = start
	pos := 0
	for pos < len(instructions) {
		if stopPC != ^uint64(0) && s.location > stopPC {
			return nil
		}

		op := instructions[pos]
		pos++

		primary := op & 0xc0
		arg := op & 0x3f

		switch primary {
		case opAdvanceLoc:
			s.location += uint64(arg) * s.fde.CIE.CodeAlignmentFactor
			continue
		case opOffset:
			v, n, err := uleb128At(instructions[pos:])
			if err != nil {
				return err
			}
			pos += n
			s.setReg(uint64(arg), DWRule{Rule: RuleOffset, Offset: int64(v) * s.fde.CIE.DataAlignmentFactor})
			continue
		case opRestore:
			if err := s.restore(uint64(arg)); err != nil {
				return err
			}
			continue
		}

		switch arg {
		case opNop:
		case opSetLoc:
			// Full-width encoded address, same width as the FDE pointer
			// encoding; since this module never emits set_loc from its
			// own writer and compilers rarely use it inside a CFA
			// program (set_loc is for hand-written assembly CFI), a
			// conservative absolute-pointer read covers the common case.
			if pos+8 > len(instructions) {
				return fmt.Errorf("truncated DW_CFA_set_loc")
			}
			var v uint64
			for i := 0; i < 8; i++ {
				v |= uint64(instructions[pos+i]) << (8 * i)
			}
			pos += 8
			s.location = v
		case opAdvanceLoc1:
			if pos+1 > len(instructions) {
				return fmt.Errorf("truncated DW_CFA_advance_loc1")
			}
			s.location += uint64(instructions[pos]) * s.fde.CIE.CodeAlignmentFactor
			pos++
		case opAdvanceLoc2:
			if pos+2 > len(instructions) {
				return fmt.Errorf("truncated DW_CFA_advance_loc2")
			}
			delta := uint64(instructions[pos]) | uint64(instructions[pos+1])<<8
			s.location += delta * s.fde.CIE.CodeAlignmentFactor
			pos += 2
		case opAdvanceLoc4:
			if pos+4 > len(instructions) {
				return fmt.Errorf("truncated DW_CFA_advance_loc4")
			}
			var delta uint64
			for i := 0; i < 4; i++ {
				delta |= uint64(instructions[pos+i]) << (8 * i)
			}
			s.location += delta * s.fde.CIE.CodeAlignmentFactor
			pos += 4
		case opDefCFA:
			reg, n, err := uleb128At(instructions[pos:])
			if err != nil {
				return err
			}
			pos += n
			off, n, err := uleb128At(instructions[pos:])
			if err != nil {
				return err
			}
			pos += n
			s.top().CFA = DWRule{Rule: RuleCFA, Reg: reg, Offset: int64(off)}
		case opDefCFASF:
			reg, n, err := uleb128At(instructions[pos:])
			if err != nil {
				return err
			}
			pos += n
			off, n, err := sleb128At(instructions[pos:])
			if err != nil {
				return err
			}
			pos += n
			s.top().CFA = DWRule{Rule: RuleCFA, Reg: reg, Offset: off * s.fde.CIE.DataAlignmentFactor}
		case opDefCFARegister:
			reg, n, err := uleb128At(instructions[pos:])
			if err != nil {
				return err
			}
			pos += n
			s.top().CFA.Reg = reg
		case opDefCFAOffset:
			off, n, err := uleb128At(instructions[pos:])
			if err != nil {
				return err
			}
			pos += n
			s.top().CFA.Offset = int64(off)
		case opDefCFAOffsetSF:
			off, n, err := sleb128At(instructions[pos:])
			if err != nil {
				return err
			}
			pos += n
			s.top().CFA.Offset = off * s.fde.CIE.DataAlignmentFactor
		case opDefCFAExpression:
			length, n, err := uleb128At(instructions[pos:])
			if err != nil {
				return err
			}
			pos += n
			if pos+int(length) > len(instructions) {
				return fmt.Errorf("truncated DW_CFA_def_cfa_expression")
			}
			s.top().CFA = DWRule{Rule: RuleExpression, Expression: instructions[pos : pos+int(length)]}
			pos += int(length)
		case opUndefined:
			reg, n, err := uleb128At(instructions[pos:])
			if err != nil {
				return err
			}
			pos += n
			s.setReg(reg, DWRule{Rule: RuleUndefined})
		case opSameValue:
			reg, n, err := uleb128At(instructions[pos:])
			if err != nil {
				return err
			}
			pos += n
			s.setReg(reg, DWRule{Rule: RuleSameValue})
		case opOffsetExtended, opValOffset:
			reg, n, err := uleb128At(instructions[pos:])
			if err != nil {
				return err
			}
			pos += n
			off, n, err := uleb128At(instructions[pos:])
			if err != nil {
				return err
			}
			pos += n
			kind := RuleOffset
			if arg == opValOffset {
				kind = RuleValOffset
			}
			s.setReg(reg, DWRule{Rule: kind, Offset: int64(off) * s.fde.CIE.DataAlignmentFactor})
		case opOffsetExtendedSF, opValOffsetSF:
			reg, n, err := uleb128At(instructions[pos:])
			if err != nil {
				return err
			}
			pos += n
			off, n, err := sleb128At(instructions[pos:])
			if err != nil {
				return err
			}
			pos += n
			kind := RuleOffset
			if arg == opValOffsetSF {
				kind = RuleValOffset
			}
			s.setReg(reg, DWRule{Rule: kind, Offset: off * s.fde.CIE.DataAlignmentFactor})
		case opRegister:
			reg, n, err := uleb128At(instructions[pos:])
			if err != nil {
				return err
			}
			pos += n
			other, n, err := uleb128At(instructions[pos:])
			if err != nil {
				return err
			}
			pos += n
			s.setReg(reg, DWRule{Rule: RuleRegister, Reg: other})
		case opExpression, opValExpression:
			reg, n, err := uleb128At(instructions[pos:])
			if err != nil {
				return err
			}
			pos += n
			length, n, err := uleb128At(instructions[pos:])
			if err != nil {
				return err
			}
			pos += n
			if pos+int(length) > len(instructions) {
				return fmt.Errorf("truncated DW_CFA_expression")
			}
			kind := RuleExpression
			if arg == opValExpression {
				kind = RuleValExpression
			}
			s.setReg(reg, DWRule{Rule: kind, Expression: instructions[pos : pos+int(length)]})
			pos += int(length)
		case opRestoreExtended:
			reg, n, err := uleb128At(instructions[pos:])
			if err != nil {
				return err
			}
			pos += n
			if err := s.restore(reg); err != nil {
				return err
			}
		case opRememberState:
			s.push()
		case opRestoreState:
			if err := s.pop(); err != nil {
				return err
			}
		case opGNUArgsSize:
			_, n, err := uleb128At(instructions[pos:])
			if err != nil {
				return err
			}
			pos += n
		case opGNUNegativeOffset:
			reg, n, err := uleb128At(instructions[pos:])
			if err != nil {
				return err
			}
			pos += n
			off, n, err := uleb128At(instructions[pos:])
			if err != nil {
				return err
			}
			pos += n
			s.setReg(reg, DWRule{Rule: RuleOffset, Offset: -int64(off) * s.fde.CIE.DataAlignmentFactor})
		default:
			return fmt.Errorf("unknown CFA opcode %#x", op)
		}
	}
	return nil
}

func (s *cfiState) setReg(reg uint64, rule DWRule) {
	s.top().Regs[reg] = rule
}

func (s *cfiState) restore(reg uint64) error {
	if s.cieRules == nil {
		// DW_CFA_restore inside the CIE's own initialization program
		// makes no sense; treat it as restoring to undefined.
		s.setReg(reg, DWRule{Rule: RuleUndefined})
		return nil
	}
	rule, ok := s.cieRules.Regs[reg]
	if !ok {
		rule = DWRule{Rule: RuleUndefined}
	}
	s.setReg(reg, rule)
	return nil
}

func uleb128At(b []byte) (uint64, int, error) {
	var result uint64
	var shift uint
	for i, by := range b {
		result |= uint64(by&0x7f) << shift
		if by&0x80 == 0 {
			return result, i + 1, nil
		}
		shift += 7
	}
	return 0, 0, fmt.Errorf("truncated ULEB128")
}

func sleb128At(b []byte) (int64, int, error) {
	var result int64
	var shift uint
	for i, by := range b {
		result |= int64(by&0x7f) << shift
		shift += 7
		if by&0x80 == 0 {
			if shift < 64 && by&0x40 != 0 {
				result |= -1 << shift
			}
			return result, i + 1, nil
		}
	}
	return 0, 0, fmt.Errorf("truncated SLEB128")
}
