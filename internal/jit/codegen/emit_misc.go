// emit_misc.go - 异常处理指令、序列点与杂项

package codegen

import (
	"github.com/tangzhangming/novajit/internal/errors"
	"github.com/tangzhangming/novajit/internal/jit/abi"
	"github.com/tangzhangming/novajit/internal/jit/codebuf"
	"github.com/tangzhangming/novajit/internal/jit/platform"
	"github.com/tangzhangming/novajit/internal/jit/types"
)

// raiseIf 条件成立时跳到异常类 name 的共享抛出序列
func (e *Emitter) raiseIf(a *platform.Assembler, cond platform.Cond, name string) {
	a.BranchToTarget(cond, codebuf.Target{Kind: codebuf.TargetException, Name: name})
}

// ============================================================================
// 异常处理
// ============================================================================

// handlerVar 处理块保存返回地址的槽位
//
// Target 指明所属的处理块，缺省为当前基本块。
func (e *Emitter) handlerVar(ins *types.Inst) (int64, bool) {
	block := e.curBlock
	if ins.Target >= 0 {
		block = ins.Target
	}
	off, ok := e.frame.HandlerVars[block]
	return off, ok
}

func emitEH(e *Emitter, a *platform.Assembler, ins, _ *types.Inst) {
	fr := e.frame.FrameReg
	switch ins.Op {
	case types.OP_THROW:
		if s := gpr(ins.Src1); s != platform.R2 {
			a.LGR(platform.R2, s)
		}
		e.call(a, codebuf.SymbolTarget(SymThrow))
	case types.OP_RETHROW:
		if s := gpr(ins.Src1); s != platform.R2 {
			a.LGR(platform.R2, s)
		}
		e.call(a, codebuf.SymbolTarget(SymRethrow))
	case types.OP_START_HANDLER:
		// catch 块由异常分发直接恢复执行，没有返回地址要保存
		if off, ok := e.handlerVar(ins); ok {
			a.STG(abi.LinkReg, fr, off)
		}
	case types.OP_ENDFINALLY:
		off, ok := e.handlerVar(ins)
		if !ok {
			errors.Fatal(errors.J1005, "endfinally outside a finally/fault handler in B%d", e.curBlock)
		}
		a.LG(abi.LinkReg, fr, off)
		a.BR(abi.LinkReg)
	case types.OP_ENDFILTER:
		off, ok := e.handlerVar(ins)
		if !ok {
			errors.Fatal(errors.J1005, "endfilter outside a filter in B%d", e.curBlock)
		}
		if s := gpr(ins.Src1); s != platform.R2 {
			a.LGR(platform.R2, s)
		}
		a.LG(abi.LinkReg, fr, off)
		a.BR(abi.LinkReg)
	case types.OP_CALL_HANDLER:
		a.CallLabel(abi.LinkReg, e.blockLabel(ins.Target))
	}
}

// ============================================================================
// 杂项
// ============================================================================

// SeqPointSlot 序列点陷阱槽位的两种编码，仅第 3 字节（基址寄存器）不同
var (
	SeqPointNop  = [6]byte{0xE3, 0x00, 0xF0, 0x00, 0x00, 0x04} // lg r0,0(r15)
	SeqPointTrap = [6]byte{0xE3, 0x00, 0x10, 0x00, 0x00, 0x04} // lg r0,0(r1)
)

func emitMisc(e *Emitter, a *platform.Assembler, ins, _ *types.Inst) {
	f := e.frame
	switch ins.Op {
	case types.OP_NOP, types.OP_NOT_REACHED, types.OP_DUMMY_USE:
	case types.OP_MEMORY_BARRIER:
		a.BCR(platform.Cond(14), platform.R0)
	case types.OP_SEQ_POINT:
		e.emitSeqPoint(a, ins)
	case types.OP_CHECK_THIS:
		a.LTGR(platform.R0, gpr(ins.Src1))
		e.raiseIf(a, platform.CondEQ, ExcNullReference)
	case types.OP_LOCALLOC:
		// 新块位于出参区之上；back chain 随 SP 一起下移
		src, dst := gpr(ins.Src1), gpr(ins.Dst)
		a.LA(platform.R1, src, 7)
		a.RI(platform.OpNILL, uint8(platform.R1), 0xFFF8)
		a.LG(platform.R0, platform.SP, 0)
		a.SGR(platform.SP, platform.R1)
		a.STG(platform.R0, platform.SP, 0)
		a.LA(dst, platform.SP, int64(f.ParamArea))
	case types.OP_ARGLIST:
		if !f.Info.Variadic {
			errors.Fatal(errors.J1005, "arglist in non-variadic method %s", e.m.Name)
		}
		a.LA(platform.R0, f.Cookie.Base, f.Cookie.Offset)
		a.STG(platform.R0, gpr(ins.Src1), 0)
	}
}

// emitSeqPoint 序列点
//
//	[lg r1,ss(fp); lg r0,0(r1)]   单步探针，单步时触发页不可读
//	lg r1,bp(fp)
//	lg r0,0(r15)                  断点槽位，设置断点时改为 lg r0,0(r1)
func (e *Emitter) emitSeqPoint(a *platform.Assembler, ins *types.Inst) {
	f := e.frame
	if !abi.HasVar(f.SSVarOffset) || !abi.HasVar(f.BPVarOffset) {
		errors.Fatal(errors.J1005, "sequence point in %s without trigger page variables", e.m.Name)
	}
	sp := SeqPoint{ILOffset: ins.ILOffset, Probe: -1}
	if e.m.Has(types.FlagSingleStep) {
		sp.Probe = a.Pos()
		a.LG(platform.R1, f.FrameReg, f.SSVarOffset)
		a.LG(platform.R0, platform.R1, 0)
	}
	a.LG(platform.R1, f.FrameReg, f.BPVarOffset)
	sp.Offset = a.Pos()
	a.LG(platform.R0, platform.SP, 0)
	e.seqPoints = append(e.seqPoints, sp)
}
