// emit_branch.go - 比较、条件分支与跳转表
//
// 比较指令本身不知道操作数的符号性，由紧随其后的消费者决定：
// 下一条是 *_UN 分支或 CLT_UN/CGT_UN 时使用逻辑比较，否则使用有符号比较。
// 两种比较产生相同含义的条件码，消费者只需选择掩码。

package codegen

import (
	"github.com/tangzhangming/novajit/internal/errors"
	"github.com/tangzhangming/novajit/internal/jit/abi"
	"github.com/tangzhangming/novajit/internal/jit/platform"
	"github.com/tangzhangming/novajit/internal/jit/types"
)

// ============================================================================
// 比较
// ============================================================================

func emitCompare(e *Emitter, a *platform.Assembler, ins, next *types.Inst) {
	unsigned := next != nil && next.Op.IsUnsignedConsumer()
	s1 := uint8(ins.Src1)
	e.lastCmpFloat = false
	e.lastSub = false

	switch ins.Op {
	case types.OP_ICOMPARE:
		if unsigned {
			a.RR(platform.OpCLR, s1, uint8(gpr(ins.Src2)))
		} else {
			a.RR(platform.OpCR, s1, uint8(gpr(ins.Src2)))
		}
	case types.OP_LCOMPARE:
		if unsigned {
			a.CLGR(gpr(ins.Src1), gpr(ins.Src2))
		} else {
			a.CGR(gpr(ins.Src1), gpr(ins.Src2))
		}
	case types.OP_ICOMPARE_IMM:
		imm := uint32(int32(ins.Imm))
		if unsigned {
			a.RIL(platform.OpCLFI, uint8(gpr(ins.Src1)), imm)
		} else {
			a.RIL(platform.OpCFI, uint8(gpr(ins.Src1)), imm)
		}
	case types.OP_LCOMPARE_IMM:
		r := gpr(ins.Src1)
		switch {
		case unsigned && ins.Imm >= 0 && ins.Imm <= 0xFFFFFFFF:
			a.RIL(platform.OpCLGFI, uint8(r), uint32(ins.Imm))
		case !unsigned && platform.FitsInt32(ins.Imm):
			a.RIL(platform.OpCGFI, uint8(r), uint32(int32(ins.Imm)))
		default:
			a.LoadConst(platform.R0, ins.Imm)
			if unsigned {
				a.CLGR(r, platform.R0)
			} else {
				a.CGR(r, platform.R0)
			}
		}
	case types.OP_FCOMPARE:
		a.RRE(platform.OpCDBR, uint8(fpr(ins.Src1)), uint8(fpr(ins.Src2)))
		e.lastCmpFloat = true
	}
}

// ============================================================================
// 条件掩码
// ============================================================================

var branchConds = map[types.Opcode]platform.Cond{
	types.OP_IBEQ:    platform.CondEQ,
	types.OP_IBNE_UN: platform.CondNE,
	types.OP_IBLT:    platform.CondLT,
	types.OP_IBLT_UN: platform.CondLT,
	types.OP_IBGT:    platform.CondGT,
	types.OP_IBGT_UN: platform.CondGT,
	types.OP_IBGE:    platform.CondGE,
	types.OP_IBGE_UN: platform.CondGE,
	types.OP_IBLE:    platform.CondLE,
	types.OP_IBLE_UN: platform.CondLE,

	// 浮点：*_UN 在无序（CC3）时也成立
	types.OP_FBEQ:    platform.CondEQ,
	types.OP_FBNE_UN: platform.CondNE,
	types.OP_FBLT:    platform.CondLT,
	types.OP_FBLT_UN: platform.CondLT | platform.CondUnordered,
	types.OP_FBGT:    platform.CondGT,
	types.OP_FBGT_UN: platform.CondGT | platform.CondUnordered,
	types.OP_FBGE:    platform.CondGE,
	types.OP_FBLE:    platform.CondLE,
}

var condExcConds = map[types.Opcode]platform.Cond{
	types.OP_COND_EXC_EQ:    platform.CondEQ,
	types.OP_COND_EXC_NE_UN: platform.CondNE,
	types.OP_COND_EXC_LT:    platform.CondLT,
	types.OP_COND_EXC_LT_UN: platform.CondLT,
	types.OP_COND_EXC_GT:    platform.CondGT,
	types.OP_COND_EXC_GT_UN: platform.CondGT,
	types.OP_COND_EXC_GE:    platform.CondGE,
	types.OP_COND_EXC_GE_UN: platform.CondGE,
	types.OP_COND_EXC_LE:    platform.CondLE,
	types.OP_COND_EXC_LE_UN: platform.CondLE,
	types.OP_COND_EXC_OV:    platform.CondOV,
	types.OP_COND_EXC_NO:    platform.CondNO,
}

// setccCond CEQ/CLT/CGT 对应的掩码
func (e *Emitter) setccCond(op types.Opcode) platform.Cond {
	switch op {
	case types.OP_CEQ:
		return platform.CondEQ
	case types.OP_CLT:
		return platform.CondLT
	case types.OP_CLT_UN:
		if e.lastCmpFloat {
			return platform.CondLT | platform.CondUnordered
		}
		return platform.CondLT
	case types.OP_CGT:
		return platform.CondGT
	case types.OP_CGT_UN:
		if e.lastCmpFloat {
			return platform.CondGT | platform.CondUnordered
		}
		return platform.CondGT
	}
	errors.Fatal(errors.J1001, "%v is not a compare-result opcode", op)
	return 0
}

// emitSetCC d = cond ? 1 : 0
func emitSetCC(e *Emitter, a *platform.Assembler, ins, _ *types.Inst) {
	d := gpr(ins.Dst)
	a.LGHI(d, 1)
	// 跳过下一条 4 字节 LGHI
	a.BRC(e.setccCond(ins.Op), 4)
	a.LGHI(d, 0)
}

// ============================================================================
// 分支
// ============================================================================

func emitBranch(e *Emitter, a *platform.Assembler, ins, next *types.Inst) {
	switch ins.Op {
	case types.OP_BR:
		a.BranchTo(platform.CondAlways, e.blockLabel(ins.Target))
	case types.OP_SWITCH:
		e.emitSwitch(a, ins)
	case types.OP_RET:
		e.emitRet(a, ins, next)
	default:
		cond, ok := branchConds[ins.Op]
		if !ok {
			errors.Fatal(errors.J1001, "%v is not a branch opcode", ins.Op)
		}
		a.BranchTo(cond, e.blockLabel(ins.Target))
	}
}

// emitRet 返回值放入 r2/f0，然后跳到尾声（紧贴尾声时省略）
func (e *Emitter) emitRet(a *platform.Assembler, ins, next *types.Inst) {
	if ins.Src1 != types.NoReg {
		switch e.frame.Info.Ret.Storage {
		case abi.ArgFP, abi.ArgFPR4:
			if s := fpr(ins.Src1); s != abi.FReturnReg {
				a.LDR(abi.FReturnReg, s)
			}
		default:
			if s := gpr(ins.Src1); s != abi.ReturnReg {
				a.LGR(abi.ReturnReg, s)
			}
		}
	}
	if next == nil && e.inLastBlock {
		return
	}
	a.BranchTo(platform.CondAlways, LabelEpilog)
}

// emitSwitch 跳转表分发
//
// 表项保存目标相对表起始的偏移，表紧跟在分发代码之后：
//
//	sllg  r0,idx,3
//	larl  r1,table
//	agr   r1,r0
//	lg    r0,0(r1)
//	larl  r1,table
//	agr   r1,r0
//	br    r1
func (e *Emitter) emitSwitch(a *platform.Assembler, ins *types.Inst) {
	idx := gpr(ins.Src1)
	if ins.Target >= 0 {
		a.RIL(platform.OpCLGFI, uint8(idx), uint32(len(ins.Targets)))
		a.BranchTo(platform.CondGE, e.blockLabel(ins.Target))
	}
	table := e.newLabel()
	a.RSY(platform.OpSLLG, uint8(platform.R0), uint8(idx), 0, 3)
	a.LoadLabelAddr(platform.R1, table)
	a.AGR(platform.R1, platform.R0)
	a.LG(platform.R0, platform.R1, 0)
	a.LoadLabelAddr(platform.R1, table)
	a.AGR(platform.R1, platform.R0)
	a.BR(platform.R1)

	labels := make([]int, len(ins.Targets))
	for i, t := range ins.Targets {
		labels[i] = e.blockLabel(t)
	}
	a.Label(table)
	a.JumpTable(labels)
}

// emitCondExc 条件成立时跳到对应异常类的抛出序列
func emitCondExc(e *Emitter, a *platform.Assembler, ins, _ *types.Inst) {
	if ins.Exception == "" {
		errors.Fatal(errors.J1005, "%v without exception class", ins.Op)
	}
	var cond platform.Cond
	switch ins.Op {
	case types.OP_COND_EXC_C:
		// 逻辑加：CC2/CC3 表示进位；逻辑减：CC1 表示借位
		cond = platform.CondCarry
		if e.lastSub {
			cond = platform.CondNoCarry
		}
	case types.OP_COND_EXC_NC:
		cond = platform.CondNoCarry
		if e.lastSub {
			cond = platform.CondCarry
		}
	default:
		c, ok := condExcConds[ins.Op]
		if !ok {
			errors.Fatal(errors.J1001, "%v is not a conditional exception opcode", ins.Op)
		}
		cond = c
	}
	e.raiseIf(a, cond, ins.Exception)
}
