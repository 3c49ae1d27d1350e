// emit_alu.go - 整数与浮点运算
//
// 32 位整数值在寄存器中一律保持符号扩展形式：运算按 64 位进行，
// 可能越出 32 位范围的结果再用 LGFR 截断回符号扩展。

package codegen

import (
	"math"

	"github.com/tangzhangming/novajit/internal/errors"
	"github.com/tangzhangming/novajit/internal/jit/platform"
	"github.com/tangzhangming/novajit/internal/jit/types"
)

// binop d = s1 op s2，处理目标与源寄存器重叠
func binop(a *platform.Assembler, op platform.Op, d, s1, s2 platform.Reg, commutative bool) {
	switch {
	case d == s1:
		a.RRE(op, uint8(d), uint8(s2))
	case d == s2 && commutative:
		a.RRE(op, uint8(d), uint8(s1))
	case d == s2:
		a.LGR(platform.R0, s1)
		a.RRE(op, uint8(platform.R0), uint8(s2))
		a.LGR(d, platform.R0)
	default:
		a.LGR(d, s1)
		a.RRE(op, uint8(d), uint8(s2))
	}
}

// narrow 把 64 位运算结果截断为符号扩展的 32 位值
func narrow(a *platform.Assembler, d platform.Reg) {
	a.RRE(platform.OpLGFR, uint8(d), uint8(d))
}

func emitALU(e *Emitter, a *platform.Assembler, ins, _ *types.Inst) {
	d, s1 := gpr(ins.Dst), gpr(ins.Src1)
	switch ins.Op {
	case types.OP_IADD, types.OP_LADD:
		binop(a, platform.OpAGR, d, s1, gpr(ins.Src2), true)
	case types.OP_ISUB, types.OP_LSUB:
		binop(a, platform.OpSGR, d, s1, gpr(ins.Src2), false)
	case types.OP_IMUL, types.OP_LMUL:
		binop(a, platform.OpMSGR, d, s1, gpr(ins.Src2), true)
	case types.OP_IAND, types.OP_LAND:
		binop(a, platform.OpNGR, d, s1, gpr(ins.Src2), true)
	case types.OP_IOR, types.OP_LOR:
		binop(a, platform.OpOGR, d, s1, gpr(ins.Src2), true)
	case types.OP_IXOR, types.OP_LXOR:
		binop(a, platform.OpXGR, d, s1, gpr(ins.Src2), true)
	case types.OP_INEG, types.OP_LNEG:
		a.RRE(platform.OpLCGR, uint8(d), uint8(s1))
	case types.OP_INOT, types.OP_LNOT:
		a.LGHI(platform.R0, -1)
		binop(a, platform.OpXGR, d, s1, platform.R0, true)
	default:
		e.emitDivide(a, ins)
		return
	}
	switch ins.Op {
	case types.OP_IADD, types.OP_ISUB, types.OP_IMUL, types.OP_INEG:
		narrow(a, d)
	}
	e.lastSub = ins.Op == types.OP_ISUB || ins.Op == types.OP_LSUB
}

// emitDivide 除法与取余
//
// DSGR/DLGR 以 r0:r1 为被除数寄存器对，商在 r1，余数在 r0。
func (e *Emitter) emitDivide(a *platform.Assembler, ins *types.Inst) {
	d, s1, s2 := gpr(ins.Dst), gpr(ins.Src1), gpr(ins.Src2)
	is32 := ins.Op.Is32Bit()
	var signed, rem bool
	switch ins.Op {
	case types.OP_IDIV, types.OP_LDIV:
		signed = true
	case types.OP_IREM, types.OP_LREM:
		signed, rem = true, true
	case types.OP_IREM_UN, types.OP_LREM_UN:
		rem = true
	case types.OP_IDIV_UN, types.OP_LDIV_UN:
	default:
		errors.Fatal(errors.J1001, "%v is not an ALU opcode", ins.Op)
	}

	a.LTGR(platform.R0, s2)
	e.raiseIf(a, platform.CondEQ, ExcDivideByZero)

	if signed {
		skip := e.newLabel()
		a.CGHI(s2, -1)
		a.BranchTo(platform.CondNE, skip)
		min := int64(math.MinInt64)
		if is32 {
			min = math.MinInt32
		}
		a.LoadConst(platform.R0, min)
		a.CGR(s1, platform.R0)
		e.raiseIf(a, platform.CondEQ, ExcOverflow)
		a.Label(skip)
		a.LGR(platform.R1, s1)
		a.RRE(platform.OpDSGR, uint8(platform.R0), uint8(s2))
	} else {
		a.LGHI(platform.R0, 0)
		if is32 {
			a.RRE(platform.OpLLGFR, uint8(platform.R1), uint8(s1))
			a.RRE(platform.OpLLGFR, uint8(platform.R13), uint8(s2))
			a.RRE(platform.OpDLGR, uint8(platform.R0), uint8(platform.R13))
		} else {
			a.LGR(platform.R1, s1)
			a.RRE(platform.OpDLGR, uint8(platform.R0), uint8(s2))
		}
	}

	if rem {
		a.LGR(d, platform.R0)
	} else {
		a.LGR(d, platform.R1)
	}
	if is32 {
		narrow(a, d)
	}
}

func emitALUImm(e *Emitter, a *platform.Assembler, ins, _ *types.Inst) {
	d, s1 := gpr(ins.Dst), gpr(ins.Src1)
	imm := ins.Imm
	if d != s1 {
		a.LGR(d, s1)
	}
	logical := func(op platform.Op) {
		a.LoadConst(platform.R0, imm)
		a.RRE(op, uint8(d), uint8(platform.R0))
	}
	switch ins.Op {
	case types.OP_IADD_IMM, types.OP_LADD_IMM:
		a.AddImm(d, imm)
	case types.OP_ISUB_IMM, types.OP_LSUB_IMM:
		a.AddImm(d, -imm)
	case types.OP_IMUL_IMM, types.OP_LMUL_IMM:
		if platform.FitsInt32(imm) {
			a.RIL(platform.OpMSGFI, uint8(d), uint32(int32(imm)))
		} else {
			a.LoadConst(platform.R0, imm)
			a.RRE(platform.OpMSGR, uint8(d), uint8(platform.R0))
		}
	case types.OP_IAND_IMM, types.OP_LAND_IMM:
		logical(platform.OpNGR)
	case types.OP_IOR_IMM, types.OP_LOR_IMM:
		logical(platform.OpOGR)
	case types.OP_IXOR_IMM, types.OP_LXOR_IMM:
		logical(platform.OpXGR)
	}
	switch ins.Op {
	case types.OP_IADD_IMM, types.OP_ISUB_IMM, types.OP_IMUL_IMM,
		types.OP_IAND_IMM, types.OP_IOR_IMM, types.OP_IXOR_IMM:
		narrow(a, d)
	}
	e.lastSub = ins.Op == types.OP_ISUB_IMM || ins.Op == types.OP_LSUB_IMM
}

// ============================================================================
// 移位
// ============================================================================

func emitShift(e *Emitter, a *platform.Assembler, ins, _ *types.Inst) {
	d, s1 := gpr(ins.Dst), gpr(ins.Src1)
	is32 := ins.Op.Is32Bit()

	var op platform.Op
	unsigned := false
	imm := false
	switch ins.Op {
	case types.OP_ISHL, types.OP_LSHL:
		op = platform.OpSLLG
	case types.OP_ISHL_IMM, types.OP_LSHL_IMM:
		op, imm = platform.OpSLLG, true
	case types.OP_ISHR, types.OP_LSHR:
		op = platform.OpSRAG
	case types.OP_ISHR_IMM, types.OP_LSHR_IMM:
		op, imm = platform.OpSRAG, true
	case types.OP_ISHR_UN, types.OP_LSHR_UN:
		op, unsigned = platform.OpSRLG, true
	case types.OP_ISHR_UN_IMM, types.OP_LSHR_UN_IMM:
		op, unsigned, imm = platform.OpSRLG, true, true
	}

	mask := int64(63)
	if is32 {
		mask = 31
	}

	if imm {
		src := s1
		if unsigned && is32 {
			a.RRE(platform.OpLLGFR, uint8(platform.R0), uint8(s1))
			src = platform.R0
		}
		a.RSY(op, uint8(d), uint8(src), 0, ins.Imm&mask)
	} else {
		// 移位量取自地址计算，先复制到 r1 再屏蔽
		a.LGR(platform.R1, gpr(ins.Src2))
		if is32 {
			a.RI(platform.OpNILL, uint8(platform.R1), uint16(mask))
		}
		src := s1
		if unsigned && is32 {
			a.RRE(platform.OpLLGFR, uint8(platform.R0), uint8(s1))
			src = platform.R0
		}
		a.RSY(op, uint8(d), uint8(src), uint8(platform.R1), 0)
	}
	if is32 {
		narrow(a, d)
	}
}

// ============================================================================
// 溢出检查运算
// ============================================================================

// 溢出检查运算：先在 r0 中完成运算，条件成立时跳到共享的抛出序列
type ovfOp struct {
	op    platform.Op
	cond  platform.Cond
	wide  bool
	isSub bool
}

var ovfOps = map[types.Opcode]ovfOp{
	types.OP_IADD_OVF:    {platform.OpAR, platform.CondOV, false, false},
	types.OP_IADD_OVF_UN: {platform.OpALR, platform.CondCarry, false, false},
	types.OP_ISUB_OVF:    {platform.OpSR, platform.CondOV, false, true},
	types.OP_ISUB_OVF_UN: {platform.OpSLR, platform.CondNoCarry, false, true},
	types.OP_LADD_OVF:    {platform.OpAGR, platform.CondOV, true, false},
	types.OP_LADD_OVF_UN: {platform.OpALGR, platform.CondCarry, true, false},
	types.OP_LSUB_OVF:    {platform.OpSGR, platform.CondOV, true, true},
	types.OP_LSUB_OVF_UN: {platform.OpSLGR, platform.CondNoCarry, true, true},
}

func emitOverflow(e *Emitter, a *platform.Assembler, ins, _ *types.Inst) {
	o, ok := ovfOps[ins.Op]
	if !ok {
		errors.Fatal(errors.J1001, "%v is not an overflow opcode", ins.Op)
	}
	d, s1, s2 := gpr(ins.Dst), gpr(ins.Src1), gpr(ins.Src2)
	if o.wide {
		a.LGR(platform.R0, s1)
		a.RRE(o.op, uint8(platform.R0), uint8(s2))
	} else {
		a.RR(platform.OpLR, uint8(platform.R0), uint8(s1))
		a.RR(o.op, uint8(platform.R0), uint8(s2))
	}
	e.raiseIf(a, o.cond, ExcOverflow)
	if o.wide {
		a.LGR(d, platform.R0)
	} else {
		a.RRE(platform.OpLGFR, uint8(d), uint8(platform.R0))
	}
	e.lastSub = o.isSub
}

// ============================================================================
// 浮点运算
// ============================================================================

// FloatScratch 除法操作数重叠时使用的临时浮点寄存器
const FloatScratch = platform.F15

func emitFloat(e *Emitter, a *platform.Assembler, ins, _ *types.Inst) {
	d, s1 := fpr(ins.Dst), fpr(ins.Src1)
	fbin := func(op platform.Op, commutative bool) {
		s2 := fpr(ins.Src2)
		switch {
		case d == s1:
		case d == s2 && commutative:
			a.RRE(op, uint8(d), uint8(s1))
			return
		default:
			a.LDR(d, s1)
		}
		a.RRE(op, uint8(d), uint8(s2))
	}
	switch ins.Op {
	case types.OP_FADD:
		fbin(platform.OpADBR, true)
	case types.OP_FMUL:
		fbin(platform.OpMDBR, true)
	case types.OP_FSUB:
		if s2 := fpr(ins.Src2); d == s2 && d != s1 {
			// d = -s2 + s1
			a.RRE(platform.OpLCDBR, uint8(d), uint8(d))
			a.RRE(platform.OpADBR, uint8(d), uint8(s1))
			return
		}
		fbin(platform.OpSDBR, false)
	case types.OP_FDIV:
		if s2 := fpr(ins.Src2); d == s2 && d != s1 {
			if e.m.UsedFPRegs&(1<<FloatScratch) == 0 {
				errors.Fatal(errors.J1005, "fdiv with aliased divisor needs %s reserved", FloatScratch)
			}
			a.LDR(FloatScratch, s2)
			a.LDR(d, s1)
			a.RRE(platform.OpDDBR, uint8(d), uint8(FloatScratch))
			return
		}
		fbin(platform.OpDDBR, false)
	case types.OP_FNEG:
		a.RRE(platform.OpLCDBR, uint8(d), uint8(s1))
	}
}

// Prepare 发射前检查方法，标记需要保存的临时浮点寄存器
//
// 必须在帧布局之前调用。
func Prepare(m *types.Method) {
	for _, b := range m.Blocks {
		for _, ins := range b.Insts {
			if ins.Op == types.OP_FDIV && ins.Dst == ins.Src2 && ins.Dst != ins.Src1 {
				m.UsedFPRegs |= 1 << FloatScratch
				return
			}
		}
	}
}
