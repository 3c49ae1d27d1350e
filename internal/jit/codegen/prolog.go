// prolog.go - 方法序言
//
//	stmg  r6,r15,48(r15)        保存被调用者保存寄存器
//	lgr   r1,r0                 （泛型上下文）
//	lgr   r12,r15               （参数在调用者栈上）
//	lgr   r0,r15
//	aghi  r15,-alloc
//	stg   r0,0(r15)             back chain
//	std   f8..f15               使用到的被调用者保存浮点寄存器
//	lgr   r11,r15               （帧寄存器）
//	...                         rgctx、返回值地址、参数落地
//	...                         帧记录、触发页变量、跟踪
//
// 帧记录最后一步才写入链表头，此前链表对其它线程始终一致。

package codegen

import (
	"github.com/tangzhangming/novajit/internal/errors"
	"github.com/tangzhangming/novajit/internal/jit/abi"
	"github.com/tangzhangming/novajit/internal/jit/codebuf"
	"github.com/tangzhangming/novajit/internal/jit/platform"
	"github.com/tangzhangming/novajit/internal/jit/types"
)

// 定长片段的最坏长度
const (
	loadConstMaxLen = 12
	callMaxLen      = platform.CallTemplateLen + 2 // 对齐用的 nopr
	addImmMaxLen    = loadConstMaxLen + 4
)

// argsMaxLen 参数寄存器与槽位之间搬运一次的最坏长度（返回值地址、签名 cookie 各占一次）
func (e *Emitter) argsMaxLen() int {
	return (len(e.frame.Args) + 2) * platform.MemMaxLen
}

// lmfPushMaxLen 帧记录压入的最坏长度
func lmfPushMaxLen() int {
	// la, stg×6, lg, 16 个 std；stmg×2, lmg, 调用, 方法常量, basr
	return (8+16)*platform.MemMaxLen + 3*6 + callMaxLen + loadConstMaxLen + 2
}

// traceEnterMaxLen 进入跟踪的最坏长度（含调用后的参数装回）
func (e *Emitter) traceEnterMaxLen() int {
	return loadConstMaxLen + 4 + callMaxLen + e.argsMaxLen()
}

// prologMaxLen 序言的最坏长度
func (e *Emitter) prologMaxLen() int {
	f := e.frame
	n := 6 + 4 + 4 + 4 + addImmMaxLen + platform.MemMaxLen
	n += len(f.Shape.FPRSaves())*platform.MemMaxLen + 4
	n += platform.MemMaxLen
	n += e.argsMaxLen()
	if f.Shape.HasLMF() {
		n += lmfPushMaxLen()
	}
	if abi.HasVar(f.SSVarOffset) {
		n += 2 * (loadConstMaxLen + platform.MemMaxLen)
	}
	if e.m.Has(types.FlagTrace) {
		n += e.traceEnterMaxLen()
	}
	return n
}

func (e *Emitter) emitProlog() error {
	max := e.prologMaxLen()
	if err := e.buf.Reserve(max); err != nil {
		return err
	}
	start := e.buf.Len()
	if err := e.frame.Shape.Validate(); err != nil {
		errors.Fatal(errors.J1006, "%s: %v", e.m.Name, err)
	}
	a := platform.NewAssembler(e.buf)
	f := e.frame
	fr := f.FrameReg

	a.STMG(platform.R6, platform.R15, platform.SP, abi.RegSaveOffset)
	if e.m.Has(types.FlagNeedsRgctx) {
		a.LGR(platform.R1, abi.RgctxReg)
	}
	if f.UseBackChain {
		a.LGR(abi.BackChainReg, platform.SP)
	}
	a.LGR(platform.R0, platform.SP)
	a.AddImm(platform.SP, -int64(f.AllocSize))
	a.STG(platform.R0, platform.SP, 0)

	for _, s := range f.Shape.FPRSaves() {
		a.STD(platform.FReg(s.Reg), platform.SP, f.Shape.SPRelative(s.Offset))
	}
	if fr != platform.SP {
		a.LGR(fr, platform.SP)
	}
	if abi.HasVar(f.RgctxOffset) {
		a.STG(platform.R1, fr, f.RgctxOffset)
	}

	e.moveArgs(a, true)

	if f.Shape.HasLMF() {
		e.emitLMFPush(a)
	}
	if abi.HasVar(f.SSVarOffset) {
		a.LoadAbs(platform.R1, codebuf.SymbolTarget(SymSSTriggerPage))
		a.STG(platform.R1, fr, f.SSVarOffset)
		a.LoadAbs(platform.R1, codebuf.SymbolTarget(SymBPTriggerPage))
		a.STG(platform.R1, fr, f.BPVarOffset)
	}
	if e.m.Has(types.FlagTrace) {
		a.LoadConst(platform.R2, int64(e.m.ID))
		a.LGR(platform.R3, fr)
		e.call(a, codebuf.SymbolTarget(SymTraceEnter))
		// 跟踪回调破坏参数寄存器
		e.moveArgs(a, false)
	}
	if n := e.buf.Len() - start; n > max {
		errors.Fatal(errors.J1003, "%s: prologue emitted %d bytes, declared worst case %d", e.m.Name, n, max)
	}
	return nil
}

// ============================================================================
// 参数落地
// ============================================================================

// moveArgs 在参数寄存器与参数槽位之间搬运
//
// store 为真时把寄存器写入槽位（序言），否则从槽位装回寄存器（跟踪回调之后、尾调用）。
func (e *Emitter) moveArgs(a *platform.Assembler, store bool) {
	f := e.frame
	ci := f.Info
	if ci.StructRet && ci.Ret.InReg() {
		moveGPR(a, store, platform.Reg(ci.Ret.Reg), f.Vret, types.TypeI)
	}
	for i := range ci.Args {
		moveArg(a, store, &ci.Args[i], f.Args[i])
	}
	if ci.Variadic && ci.SigCookie.InReg() {
		moveGPR(a, store, platform.Reg(ci.SigCookie.Reg), f.Cookie, types.TypeI)
	}
}

func moveArg(a *platform.Assembler, store bool, ai *abi.ArgInfo, loc abi.VarLoc) {
	if !ai.InReg() {
		return
	}
	switch ai.Storage {
	case abi.ArgFP:
		if store {
			a.STD(platform.FReg(ai.Reg), loc.Base, loc.Offset)
		} else {
			a.LD(platform.FReg(ai.Reg), loc.Base, loc.Offset)
		}
	case abi.ArgFPR4:
		if store {
			a.STE(platform.FReg(ai.Reg), loc.Base, loc.Offset)
		} else {
			a.LE(platform.FReg(ai.Reg), loc.Base, loc.Offset)
		}
	case abi.ArgStructByAddr:
		moveGPR(a, store, platform.Reg(ai.Reg), loc, types.TypeI)
	case abi.ArgStructByVal:
		if ai.Size == 0 {
			return
		}
		moveGPR(a, store, platform.Reg(ai.Reg), loc, types.TypeU)
	default:
		moveGPR(a, store, platform.Reg(ai.Reg), loc, ai.Kind)
	}
}

// moveGPR 按槽位大小存取整数寄存器，装回时按类型符号扩展
func moveGPR(a *platform.Assembler, store bool, r platform.Reg, loc abi.VarLoc, kind types.TypeKind) {
	signed := true
	switch kind {
	case types.TypeU1, types.TypeBool, types.TypeU2, types.TypeChar, types.TypeU4, types.TypeU:
		signed = false
	}
	switch loc.Size {
	case 1:
		if store {
			a.STC(r, loc.Base, loc.Offset)
		} else if signed {
			a.LGB(r, loc.Base, loc.Offset)
		} else {
			a.LLGC(r, loc.Base, loc.Offset)
		}
	case 2:
		if store {
			a.STH(r, loc.Base, loc.Offset)
		} else if signed {
			a.LGH(r, loc.Base, loc.Offset)
		} else {
			a.LLGH(r, loc.Base, loc.Offset)
		}
	case 4:
		if store {
			a.ST(r, loc.Base, loc.Offset)
		} else if signed {
			a.LGF(r, loc.Base, loc.Offset)
		} else {
			a.LLGF(r, loc.Base, loc.Offset)
		}
	case 8:
		if store {
			a.STG(r, loc.Base, loc.Offset)
		} else {
			a.LG(r, loc.Base, loc.Offset)
		}
	default:
		errors.Fatal(errors.J1005, "argument slot of %d bytes", loc.Size)
	}
}

// ============================================================================
// 帧记录
// ============================================================================

// emitLMFPush 压入帧记录
//
// r13 指向帧记录。get_lmf_addr 会破坏参数寄存器，调用前后经 pregs 保存恢复。
func (e *Emitter) emitLMFPush(a *platform.Assembler) {
	f := e.frame
	lmf := platform.R13

	a.LA(lmf, f.FrameReg, f.LMFOffset)
	a.STMG(platform.R2, platform.R6, lmf, abi.LMFPRegs)
	e.call(a, codebuf.SymbolTarget(SymGetLMFAddr))

	// r2 = 链表头地址
	a.STG(platform.R2, lmf, abi.LMFAddr)
	a.LG(platform.R0, platform.R2, 0)
	a.STG(platform.R0, lmf, abi.LMFPrevious)
	a.LoadConst(platform.R0, int64(e.m.ID))
	a.STG(platform.R0, lmf, abi.LMFMethod)
	a.STG(platform.SP, lmf, abi.LMFSP)
	a.BASR(platform.R1, platform.R0)
	a.STG(platform.R1, lmf, abi.LMFIP)
	a.STMG(platform.R0, platform.R15, lmf, abi.LMFGRegs)
	for i := platform.F0; i <= platform.F15; i++ {
		a.STD(i, lmf, abi.LMFFRegs+int64(i)*8)
	}

	a.STG(lmf, platform.R2, 0)
	a.LMG(platform.R2, platform.R6, lmf, abi.LMFPRegs)
}
