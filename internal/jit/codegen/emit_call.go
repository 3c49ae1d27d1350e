// emit_call.go - 调用、尾调用与泛型类初始化

package codegen

import (
	"github.com/tangzhangming/novajit/internal/errors"
	"github.com/tangzhangming/novajit/internal/jit/abi"
	"github.com/tangzhangming/novajit/internal/jit/platform"
	"github.com/tangzhangming/novajit/internal/jit/types"
)

func emitCall(e *Emitter, a *platform.Assembler, ins, _ *types.Inst) {
	switch ins.Op {
	case types.OP_CALL, types.OP_FCALL:
		e.call(a, targetOf(ins.Call))
	case types.OP_CALL_REG:
		a.BASR(abi.LinkReg, gpr(ins.Src1))
	case types.OP_CALL_MEMBASE:
		a.LG(platform.R1, gpr(ins.Base), ins.Offset)
		a.BASR(abi.LinkReg, platform.R1)
	case types.OP_IMT_CALL:
		a.LoadConst(abi.IMTReg, ins.Imm)
		a.LG(platform.R1, gpr(ins.Base), ins.Offset)
		a.BASR(abi.LinkReg, platform.R1)
	case types.OP_TAILCALL:
		e.emitTailcall(a, ins)
		return
	case types.OP_GENERIC_CLASS_INIT:
		e.emitClassInit(a, ins)
		return
	}
	if ins.Dst == types.NoReg {
		return
	}
	if ins.Op == types.OP_FCALL {
		if d := fpr(ins.Dst); d != abi.FReturnReg {
			a.LDR(d, abi.FReturnReg)
		}
		return
	}
	if d := gpr(ins.Dst); d != abi.ReturnReg {
		a.LGR(d, abi.ReturnReg)
	}
}

// emitTailcall 尾调用
//
// 调用前 IR 已把新的实参写入本方法的参数槽位，这里按序言的逆过程
// 把它们装回参数寄存器，拆除本帧后直接跳转。r6 既是参数寄存器又是
// 被调用者保存寄存器，恢复 r6..r14 会覆盖它，因此使用 r6 的签名不能尾调用。
// 生成 IR 前应先用 abi.TailcallSupported 判断。
func (e *Emitter) emitTailcall(a *platform.Assembler, ins *types.Inst) {
	if e.frame.Info.UsesLastArgReg() {
		errors.Fatal(errors.J1005, "tail call from %s: argument in %s", e.m.Name, abi.LastArgReg)
	}
	e.moveArgs(a, false)
	e.emitTeardown(a)
	a.LMG(platform.R6, platform.R14, platform.SP, abi.RegSaveOffset)
	a.LoadAbs(platform.R1, targetOf(ins.Call))
	a.BR(platform.R1)
}

// emitClassInit 泛型类初始化检查
//
// vtable 已初始化时直接跳过，否则调用初始化蹦床（vtable 在 r2 中传入）。
func (e *Emitter) emitClassInit(a *platform.Assembler, ins *types.Inst) {
	vt := gpr(ins.Src1)
	if vt != abi.VTableReg {
		a.LGR(abi.VTableReg, vt)
	}
	bit := byte(ins.Imm)
	if bit == 0 {
		bit = 1
	}
	if platform.FitsDisp12(ins.Offset) {
		a.TM(abi.VTableReg, ins.Offset, bit)
	} else {
		a.LA(platform.R1, abi.VTableReg, ins.Offset)
		a.TM(platform.R1, 0, bit)
	}
	skip := e.newLabel()
	a.BranchTo(platform.CondOnes, skip)
	e.call(a, targetOf(ins.Call))
	a.Label(skip)
}
