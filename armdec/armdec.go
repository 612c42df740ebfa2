// Package armdec decodes classic ARM instructions into IR for the block
// decoder. It covers the data-processing group, multiply, B/BL and SWI;
// anything else terminates the block as undecodable. Flag-setting
// instructions write the lazy flag thunk, never the flag bits themselves.
package armdec

import (
	"encoding/binary"

	"github.com/lookbusy1344/arm-translator/arm"
	"github.com/lookbusy1344/arm-translator/ir"
	"github.com/lookbusy1344/arm-translator/translate"
)

// Data processing operation codes (instruction bits 24:21)
const (
	opAND = 0x0 // Bitwise AND
	opEOR = 0x1 // Bitwise Exclusive OR
	opSUB = 0x2 // Subtract
	opRSB = 0x3 // Reverse Subtract
	opADD = 0x4 // Add
	opADC = 0x5 // Add with Carry
	opSBC = 0x6 // Subtract with Carry
	opRSC = 0x7 // Reverse Subtract with Carry
	opTST = 0x8 // Test (AND without storing result)
	opTEQ = 0x9 // Test Equivalence (EOR without storing result)
	opCMP = 0xA // Compare (SUB without storing result)
	opCMN = 0xB // Compare Negative (ADD without storing result)
	opORR = 0xC // Bitwise OR
	opMOV = 0xD // Move
	opBIC = 0xE // Bit Clear
	opMVN = 0xF // Move Not
)

// Shift type field values (instruction bits 6:5)
const (
	shiftLSL = 0
	shiftLSR = 1
	shiftASR = 2
	shiftROR = 3
)

const instrLen = 4 // Every classic ARM instruction is one word

// Decoder is an InstrDecoder for the classic ARM instruction set
type Decoder struct{}

// New creates an ARM instruction decoder
func New() *Decoder {
	return &Decoder{}
}

// dis carries the per-instruction decode state so the helpers don't need
// long parameter lists
type dis struct {
	sb      *ir.SuperBlock
	word    uint32
	guestIP uint64
}

// DisOneInstr decodes the instruction at guestCode[delta:] and appends its
// IR to sb. Guest memory is little-endian regardless of the host.
func (d *Decoder) DisOneInstr(sb *ir.SuperBlock, putIP bool,
	resteerOK translate.ResteerFn, guestCode []byte, delta int64,
	guestIP uint64, arch *translate.ArchInfo, hostBigEndian bool) translate.DisResult {

	ctx := &dis{sb: sb, guestIP: guestIP}

	if delta < 0 || delta+instrLen > int64(len(guestCode)) {
		return ctx.undecodable()
	}
	ctx.word = binary.LittleEndian.Uint32(guestCode[delta:])

	if putIP {
		sb.AddStmt(&ir.Put{Offset: arm.OffR(arm.PC), Data: ir.MkU32(uint32(guestIP))})
	}

	cond := arm.ConditionCode(ctx.word >> 28)
	if cond == arm.CondNV {
		return ctx.undecodable()
	}

	switch {
	case ctx.word>>25&0x7 == 0x5:
		return ctx.disBranch(cond, resteerOK)

	case ctx.word>>24&0xF == 0xF:
		return ctx.disSWI(cond)

	case ctx.word>>22&0x3F == 0 && ctx.word>>4&0xF == 0x9:
		return ctx.disMultiply(cond)

	case ctx.word>>26&0x3 == 0:
		return ctx.disDataProcessing(cond)
	}

	return ctx.undecodable()
}

// undecodable ends the block at this instruction so the dispatcher can
// raise the guest's undefined-instruction event
func (c *dis) undecodable() translate.DisResult {
	c.sb.Next = ir.MkU32(uint32(c.guestIP))
	c.sb.JumpKind = ir.JkNoDecode
	return translate.DisResult{Len: instrLen, WhatNext: translate.DisStopHere}
}

// ccGets reads the four thunk words from the guest state
func ccGets() [4]ir.Expr {
	return [4]ir.Expr{
		ir.MkGet(arm.OffCCOp, ir.I32),
		ir.MkGet(arm.OffCCDep1, ir.I32),
		ir.MkGet(arm.OffCCDep2, ir.I32),
		ir.MkGet(arm.OffCCDep3, ir.I32),
	}
}

// condExpr builds a 0/1 expression evaluating cond against the current
// thunk. The thunk operation is only known at run time, so the condition
// selector is OR-ed onto it; the optimizer folds the helper call away when
// the operation turns out constant.
func condExpr(cond arm.ConditionCode) ir.Expr {
	cc := ccGets()
	return ir.MkCCall(ir.I32, ir.HelperCalcCondition,
		ir.MkBinop(ir.OpOr32, ir.MkU32(uint32(cond)<<4), cc[0]),
		cc[1], cc[2], cc[3])
}

// condGuard is condExpr narrowed to the I1 an exit guard needs
func condGuard(cond arm.ConditionCode) ir.Expr {
	return ir.MkUnop(ir.Op32to1, condExpr(cond))
}

// oldC reads the current carry flag as a 0/1 expression
func (c *dis) oldC() ir.Expr {
	cc := ccGets()
	return ir.MkCCall(ir.I32, ir.HelperCalcFlagC, cc[0], cc[1], cc[2], cc[3])
}

// oldV reads the current overflow flag as a 0/1 expression
func (c *dis) oldV() ir.Expr {
	cc := ccGets()
	return ir.MkCCall(ir.I32, ir.HelperCalcFlagV, cc[0], cc[1], cc[2], cc[3])
}

// getReg reads general register r. Reading R15 yields the current
// instruction address plus 8, the architectural pipeline effect, which is
// a constant at translation time.
func (c *dis) getReg(r int) ir.Expr {
	if r == arm.PC {
		return ir.MkU32(uint32(c.guestIP) + 8)
	}
	return ir.MkGet(arm.OffR(r), ir.I32)
}

// assign evaluates e into a fresh temporary and returns the read of it
func (c *dis) assign(e ir.Expr) ir.Expr {
	t := c.sb.NewTemp(ir.I32)
	c.sb.AddStmt(&ir.WrTmp{Tmp: t, Data: e})
	return ir.MkRdTmp(t)
}

// skipUnlessCond emits the side exit that makes a conditional instruction
// conditional: if cond fails, control leaves the block at the next
// instruction and the body below never runs
func (c *dis) skipUnlessCond(cond arm.ConditionCode) {
	c.sb.AddStmt(&ir.Exit{
		Guard:    condGuard(cond.Invert()),
		JumpKind: ir.JkBoring,
		Dest:     ir.MkU32(uint32(c.guestIP) + instrLen),
	})
}

// temped forces e into a temporary unless it is already free of state reads
func (c *dis) temped(e ir.Expr) ir.Expr {
	switch e.(type) {
	case *ir.RdTmp, *ir.Const:
		return e
	}
	return c.assign(e)
}

// setThunk writes a flag thunk: operation selector plus up to three
// dependency words. The dependencies are evaluated into temporaries first,
// because they may read the very state slots the puts overwrite.
func (c *dis) setThunk(op arm.CCOp, d1, d2, d3 ir.Expr) {
	d1 = c.temped(d1)
	d2 = c.temped(d2)
	d3 = c.temped(d3)
	c.sb.AddStmt(&ir.Put{Offset: arm.OffCCOp, Data: ir.MkU32(uint32(op))})
	c.sb.AddStmt(&ir.Put{Offset: arm.OffCCDep1, Data: d1})
	c.sb.AddStmt(&ir.Put{Offset: arm.OffCCDep2, Data: d2})
	c.sb.AddStmt(&ir.Put{Offset: arm.OffCCDep3, Data: d3})
}

// disBranch handles B and BL, including chase attempts for unconditional
// branches
func (c *dis) disBranch(cond arm.ConditionCode, resteerOK translate.ResteerFn) translate.DisResult {
	link := c.word>>24&1 != 0

	// 24-bit signed word offset, relative to the pipeline PC
	offset := int64(int32(c.word<<8) >> 8 << 2)
	target := uint64(int64(c.guestIP) + 8 + offset)

	jk := ir.JkBoring
	if link {
		jk = ir.JkCall
	}

	if cond != arm.CondAL {
		if !link {
			// Taken edge leaves through a side exit; fall-through
			// keeps decoding
			c.sb.AddStmt(&ir.Exit{
				Guard:    condGuard(cond),
				JumpKind: jk,
				Dest:     ir.MkU32(uint32(target)),
			})
			return translate.DisResult{Len: instrLen, WhatNext: translate.DisContinue}
		}
		// Conditional BL: skip past it when the condition fails, so
		// the link register is only written on the taken path
		c.skipUnlessCond(cond)
	}

	if link {
		c.sb.AddStmt(&ir.Put{Offset: arm.OffR(arm.LR), Data: ir.MkU32(uint32(c.guestIP) + instrLen)})
	}

	if cond == arm.CondAL && resteerOK(target) {
		return translate.DisResult{
			Len:        instrLen,
			WhatNext:   translate.DisResteer,
			ContinueAt: target,
		}
	}
	c.sb.Next = ir.MkU32(uint32(target))
	c.sb.JumpKind = jk
	return translate.DisResult{Len: instrLen, WhatNext: translate.DisStopHere}
}

// disSWI handles the software interrupt: record where the syscall was
// raised and hand control to the dispatcher
func (c *dis) disSWI(cond arm.ConditionCode) translate.DisResult {
	if cond != arm.CondAL {
		c.skipUnlessCond(cond)
	}
	c.sb.AddStmt(&ir.Put{Offset: arm.OffIPAtSyscall, Data: ir.MkU32(uint32(c.guestIP))})
	c.sb.Next = ir.MkU32(uint32(c.guestIP) + instrLen)
	c.sb.JumpKind = ir.JkSyscall
	return translate.DisResult{Len: instrLen, WhatNext: translate.DisStopHere}
}

// disMultiply handles MUL and MLA
func (c *dis) disMultiply(cond arm.ConditionCode) translate.DisResult {
	accumulate := c.word>>21&1 != 0
	setFlags := c.word>>20&1 != 0
	rd := int(c.word >> 16 & 0xF)
	rn := int(c.word >> 12 & 0xF)
	rs := int(c.word >> 8 & 0xF)
	rm := int(c.word & 0xF)

	if rd == arm.PC {
		return c.undecodable()
	}
	if cond != arm.CondAL {
		c.skipUnlessCond(cond)
	}

	prod := ir.MkBinop(ir.OpMul32, c.getReg(rm), c.getReg(rs))
	if accumulate {
		prod = ir.MkBinop(ir.OpAdd32, prod, c.getReg(rn))
	}
	res := c.assign(prod)

	if setFlags {
		// C and V survive a multiply; pack them into dep3
		packed := ir.MkBinop(ir.OpOr32,
			ir.MkBinop(ir.OpShl32, c.oldC(), ir.MkU8(1)),
			c.oldV())
		c.setThunk(arm.CCOpMul, res, ir.MkU32(0), packed)
	}
	c.sb.AddStmt(&ir.Put{Offset: arm.OffR(rd), Data: res})
	return translate.DisResult{Len: instrLen, WhatNext: translate.DisContinue}
}

// shifterOperand computes the data-processing second operand and the carry
// the shifter produces alongside it. Register-specified shift amounts and
// rotates are outside the supported subset.
func (c *dis) shifterOperand() (op2, shifterC ir.Expr, ok bool) {
	if c.word>>25&1 != 0 {
		// Immediate with rotation
		imm := c.word & 0xFF
		rotation := (c.word >> 8 & 0xF) * 2
		if rotation == 0 {
			// No rotation leaves the carry untouched
			return ir.MkU32(imm), c.oldC(), true
		}
		val := imm>>rotation | imm<<(32-rotation)
		return ir.MkU32(val), ir.MkU32(val >> 31 & 1), true
	}

	if c.word>>4&1 != 0 {
		// Shift amount in a register
		return nil, nil, false
	}
	rm := int(c.word & 0xF)
	amount := c.word >> 7 & 0x1F
	rmVal := c.getReg(rm)

	// bitOf extracts bit n of the unshifted operand as a 0/1 expression
	bitOf := func(n uint32) ir.Expr {
		return ir.MkBinop(ir.OpAnd32,
			ir.MkBinop(ir.OpShr32, rmVal, ir.MkU8(uint8(n))),
			ir.MkU32(1))
	}

	switch c.word >> 5 & 0x3 {
	case shiftLSL:
		if amount == 0 {
			return rmVal, c.oldC(), true
		}
		return ir.MkBinop(ir.OpShl32, rmVal, ir.MkU8(uint8(amount))),
			bitOf(32 - amount), true

	case shiftLSR:
		// LSR #0 is encoded to mean LSR #32
		if amount == 0 {
			return ir.MkU32(0), bitOf(31), true
		}
		return ir.MkBinop(ir.OpShr32, rmVal, ir.MkU8(uint8(amount))),
			bitOf(amount - 1), true

	case shiftASR:
		// ASR #0 is encoded to mean ASR #32; shifting by 31 already
		// fills the word with copies of the sign bit
		if amount == 0 {
			return ir.MkBinop(ir.OpSar32, rmVal, ir.MkU8(31)),
				bitOf(31), true
		}
		return ir.MkBinop(ir.OpSar32, rmVal, ir.MkU8(uint8(amount))),
			bitOf(amount - 1), true
	}

	// ROR / RRX
	return nil, nil, false
}

// disDataProcessing handles the sixteen AND..MVN operations
func (c *dis) disDataProcessing(cond arm.ConditionCode) translate.DisResult {
	opcode := c.word >> 21 & 0xF
	setFlags := c.word>>20&1 != 0
	rn := int(c.word >> 16 & 0xF)
	rd := int(c.word >> 12 & 0xF)

	compareOnly := opcode >= opTST && opcode <= opCMN
	if compareOnly && !setFlags {
		// TST/TEQ/CMP/CMN without S is the MRS/MSR space
		return c.undecodable()
	}
	if setFlags && rd == arm.PC {
		// SPSR restore, privileged
		return c.undecodable()
	}

	if cond != arm.CondAL {
		c.skipUnlessCond(cond)
	}

	op2, shifterC, ok := c.shifterOperand()
	if !ok {
		return c.undecodable()
	}
	op2 = c.temped(op2)
	argL := c.getReg(rn)

	var res ir.Expr
	writeResult := true

	switch opcode {
	case opAND, opTST:
		res = c.assign(ir.MkBinop(ir.OpAnd32, argL, op2))
	case opEOR, opTEQ:
		res = c.assign(ir.MkBinop(ir.OpXor32, argL, op2))
	case opSUB, opCMP:
		res = c.assign(ir.MkBinop(ir.OpSub32, argL, op2))
	case opRSB:
		res = c.assign(ir.MkBinop(ir.OpSub32, op2, argL))
	case opADD, opCMN:
		res = c.assign(ir.MkBinop(ir.OpAdd32, argL, op2))
	case opADC:
		res = c.assign(ir.MkBinop(ir.OpAdd32,
			ir.MkBinop(ir.OpAdd32, argL, op2), c.oldC()))
	case opSBC:
		// argL - op2 - (1 - oldC)
		res = c.assign(ir.MkBinop(ir.OpSub32,
			ir.MkBinop(ir.OpSub32, argL, op2),
			ir.MkBinop(ir.OpXor32, c.oldC(), ir.MkU32(1))))
	case opRSC:
		res = c.assign(ir.MkBinop(ir.OpSub32,
			ir.MkBinop(ir.OpSub32, op2, argL),
			ir.MkBinop(ir.OpXor32, c.oldC(), ir.MkU32(1))))
	case opORR:
		res = c.assign(ir.MkBinop(ir.OpOr32, argL, op2))
	case opMOV:
		res = op2
	case opBIC:
		res = c.assign(ir.MkBinop(ir.OpAnd32, argL,
			ir.MkUnop(ir.OpNot32, op2)))
	case opMVN:
		res = c.assign(ir.MkUnop(ir.OpNot32, op2))
	}
	if compareOnly {
		writeResult = false
	}

	if setFlags {
		switch opcode {
		case opSUB, opCMP:
			c.setThunk(arm.CCOpSub, argL, op2, ir.MkU32(0))
		case opRSB:
			c.setThunk(arm.CCOpSub, op2, argL, ir.MkU32(0))
		case opADD, opCMN:
			c.setThunk(arm.CCOpAdd, argL, op2, ir.MkU32(0))
		case opADC:
			c.setThunk(arm.CCOpAdc, argL, op2, c.oldC())
		case opSBC:
			c.setThunk(arm.CCOpSbb, argL, op2, c.oldC())
		case opRSC:
			c.setThunk(arm.CCOpSbb, op2, argL, c.oldC())
		default:
			// Bitwise group: C from the shifter, V unchanged
			c.setThunk(arm.CCOpLogic, res, shifterC, c.oldV())
		}
	}

	if writeResult {
		if rd == arm.PC {
			// Branch through the computed result
			c.sb.Next = res
			c.sb.JumpKind = ir.JkBoring
			return translate.DisResult{Len: instrLen, WhatNext: translate.DisStopHere}
		}
		c.sb.AddStmt(&ir.Put{Offset: arm.OffR(rd), Data: res})
	}
	return translate.DisResult{Len: instrLen, WhatNext: translate.DisContinue}
}
