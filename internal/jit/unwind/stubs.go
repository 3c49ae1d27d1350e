// stubs.go - 抛出、恢复与处理块调用桩
//
// 抛出桩（r2 = 异常对象或类标记，r14 = 抛出位置，r15 = 抛出方法的 SP）：
//
//	stmg  r0,r15,-264(r15)        寄存器写入即将分配的上下文
//	aghi  r15,-424
//	std   f0..f15,ctx.fregs(r15)
//	stg   r14,ctx.ip(r15)
//	la    r3,160(r15)             r3 = 上下文
//	lghi  r4,kind
//	iihf/iilf r1,dispatcher
//	basr  r14,r1                  分发器不返回
//
// 恢复桩（r2 = 上下文）装回全部寄存器后跳到上下文中的 IP。
//
// 处理块调用桩（r2 = 上下文，r3 = 处理块，r4 = 异常对象）保存调用者寄存器，
// 从上下文装入 r6..r13 与 f8..f15 后调用处理块，返回后恢复并返回 r2。
// 处理块经帧寄存器访问所属方法的帧，r15 仍指向桩自己的帧。

package unwind

import (
	"go.uber.org/multierr"

	"github.com/tangzhangming/novajit/internal/jit/abi"
	"github.com/tangzhangming/novajit/internal/jit/codebuf"
	"github.com/tangzhangming/novajit/internal/jit/codecache"
	"github.com/tangzhangming/novajit/internal/jit/platform"
)

// ThrowKind 抛出桩种类，经 r4 传给分发器
type ThrowKind int

const (
	ThrowObject ThrowKind = iota // r2 为异常对象
	Rethrow                      // r2 为正在处理的异常对象
	ThrowCorlib                  // r2 为核心库异常类标记
)

func (k ThrowKind) String() string {
	switch k {
	case ThrowObject:
		return "throw"
	case Rethrow:
		return "rethrow"
	case ThrowCorlib:
		return "throw_corlib"
	}
	return "?"
}

// throwFrame 抛出桩的帧大小
const throwFrame = abi.MinimalStackSize + CtxSize

// callFilterFrame 处理块调用桩的帧大小（最小帧 + f8..f15）
const callFilterFrame = abi.MinimalStackSize + 8*8

// EmitThrow 发射抛出桩
func EmitThrow(a *platform.Assembler, kind ThrowKind, dispatcher uint64) {
	ctx := int64(abi.MinimalStackSize)
	a.STMG(platform.R0, platform.R15, platform.SP, ctx-throwFrame+CtxGRegs)
	a.AGHI(platform.SP, -throwFrame)
	for f := platform.F0; f <= platform.F15; f++ {
		a.STD(f, platform.SP, ctx+CtxFRegs+int64(f)*8)
	}
	a.STG(platform.R14, platform.SP, ctx+CtxIP)
	a.LA(platform.R3, platform.SP, ctx)
	a.LGHI(platform.R4, int16(kind))
	a.LoadAbsValue(platform.R1, dispatcher)
	a.BASR(platform.R14, platform.R1)
	// 分发器返回说明上下文已损坏，执行非法指令
	a.Buffer().EmitU16(0)
}

// EmitRestoreContext 发射恢复桩
func EmitRestoreContext(a *platform.Assembler) {
	for f := platform.F0; f <= platform.F15; f++ {
		a.LD(f, platform.R2, CtxFRegs+int64(f)*8)
	}
	a.LG(platform.R0, platform.R2, CtxGRegs)
	a.LMG(platform.R3, platform.R15, platform.R2, CtxGRegs+3*8)
	a.LG(platform.R1, platform.R2, CtxIP)
	a.LG(platform.R2, platform.R2, CtxGRegs+2*8)
	a.BR(platform.R1)
}

// EmitCallFilter 发射处理块调用桩
func EmitCallFilter(a *platform.Assembler) {
	a.STMG(platform.R6, platform.R14, platform.SP, abi.RegSaveOffset)
	a.LGR(platform.R0, platform.SP)
	a.AGHI(platform.SP, -callFilterFrame)
	a.STG(platform.R0, platform.SP, 0)
	for f := platform.F8; f <= platform.F15; f++ {
		a.STD(f, platform.SP, abi.MinimalStackSize+int64(f-platform.F8)*8)
	}

	a.LGR(platform.R1, platform.R3)
	for f := platform.F8; f <= platform.F15; f++ {
		a.LD(f, platform.R2, CtxFRegs+int64(f)*8)
	}
	a.LMG(platform.R6, platform.R13, platform.R2, CtxGRegs+6*8)
	a.LGR(platform.R2, platform.R4)
	a.BASR(platform.R14, platform.R1)

	for f := platform.F8; f <= platform.F15; f++ {
		a.LD(f, platform.SP, abi.MinimalStackSize+int64(f-platform.F8)*8)
	}
	a.AGHI(platform.SP, callFilterFrame)
	a.LMG(platform.R6, platform.R14, platform.SP, abi.RegSaveOffset)
	a.BR(platform.R14)
}

// ============================================================================
// 发布
// ============================================================================

// Stubs 已发布的回溯桩地址
type Stubs struct {
	Throw          uint64
	Rethrow        uint64
	ThrowCorlib    uint64
	RestoreContext uint64
	CallFilter     uint64
}

// BuildStubs 生成全部桩并发布到代码区，dispatcher 为分发回调地址
func BuildStubs(arena *codecache.Arena, dispatcher uint64) (*Stubs, error) {
	var err error
	publish := func(emit func(a *platform.Assembler)) uint64 {
		buf := codebuf.New(256, 0)
		emit(platform.NewAssembler(buf))
		addr, e := arena.Publish(buf.Bytes(), codecache.DefaultAlign)
		err = multierr.Append(err, e)
		return addr
	}
	s := &Stubs{
		Throw:          publish(func(a *platform.Assembler) { EmitThrow(a, ThrowObject, dispatcher) }),
		Rethrow:        publish(func(a *platform.Assembler) { EmitThrow(a, Rethrow, dispatcher) }),
		ThrowCorlib:    publish(func(a *platform.Assembler) { EmitThrow(a, ThrowCorlib, dispatcher) }),
		RestoreContext: publish(EmitRestoreContext),
		CallFilter:     publish(EmitCallFilter),
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}
