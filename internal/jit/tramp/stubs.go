// stubs.go - 类初始化闸门、rgctx 取槽、上下文注入与委托桩

package tramp

import (
	"github.com/tangzhangming/novajit/internal/errors"
	"github.com/tangzhangming/novajit/internal/jit/abi"
	"github.com/tangzhangming/novajit/internal/jit/codebuf"
	"github.com/tangzhangming/novajit/internal/jit/platform"
)

// emitSpecificInline 在当前位置内联一个特定蹦床
func emitSpecificInline(a *platform.Assembler, generic, payload uint64) {
	buf := a.Buffer()
	buf.AddPatch(codebuf.Patch{Offset: buf.Len(), Kind: codebuf.KindRel32, Target: codebuf.AbsTarget(generic)})
	a.BRASL(platform.R1, 0)
	a.Quad(payload)
}

// ============================================================================
// 类初始化闸门
// ============================================================================

// ClassInitGate 初始化位的位置
type ClassInitGate struct {
	// Offset 初始化标志字节相对 vtable 的偏移
	Offset int64
	// Bit 标志字节中的初始化位
	Bit byte
}

// EmitClassInitGate 发射类初始化闸门（vtable 在 r2）
//
//	tm    off(r2),bit
//	bcr   ones,r14           已初始化直接返回
//	brasl r1,generic_class_init
//	.quad payload
func EmitClassInitGate(a *platform.Assembler, g ClassInitGate, generic, payload uint64) {
	if platform.FitsDisp12(g.Offset) {
		a.TM(abi.VTableReg, g.Offset, g.Bit)
	} else {
		a.LA(platform.R1, abi.VTableReg, g.Offset)
		a.TM(platform.R1, 0, g.Bit)
	}
	a.BCR(platform.CondOnes, abi.LinkReg)
	emitSpecificInline(a, generic, payload)
}

// ClassInit 返回 payload 的类初始化闸门
func (f *Factory) ClassInit(g ClassInitGate, payload uint64) (uint64, error) {
	generic := f.Generic(KindClassInit)
	if generic == 0 {
		return 0, errors.Newf(errors.J3001, "no %s callback configured", KindClassInit)
	}
	if g.Bit == 0 {
		g.Bit = 1
	}
	key := Key{Entry: EntryClassInit, Payload: payload, Extra: uint64(g.Offset)<<8 | uint64(g.Bit)}
	return f.cached(key, func() (uint64, error) {
		return f.emit("class_init_gate", func(a *platform.Assembler) {
			EmitClassInitGate(a, g, generic, payload)
		})
	})
}

// ============================================================================
// rgctx 取槽
// ============================================================================

// RgctxSlotOffset 槽位在 rgctx 中的偏移
func RgctxSlotOffset(slot uint64) int64 {
	return int64(slot+1) * abi.PtrSize
}

// EmitRgctxFetch 发射 rgctx 取槽快路径（rgctx 在 r2）
//
//	lg    r1,slot(r2)
//	ltgr  r1,r1
//	brc   eq,slow
//	lgr   r2,r1
//	br    r14
//	slow: brasl r1,generic_rgctx_fetch
//	      .quad slot
func EmitRgctxFetch(a *platform.Assembler, slot, generic uint64) {
	const slow = 1
	a.LG(platform.R1, platform.R2, RgctxSlotOffset(slot))
	a.LTGR(platform.R1, platform.R1)
	a.BranchTo(platform.CondEQ, slow)
	a.LGR(platform.R2, platform.R1)
	a.BR(abi.LinkReg)
	a.Label(slow)
	emitSpecificInline(a, generic, slot)
}

// RgctxFetch 返回 slot 的取槽桩
func (f *Factory) RgctxFetch(slot uint64) (uint64, error) {
	generic := f.Generic(KindRgctxFetch)
	if generic == 0 {
		return 0, errors.Newf(errors.J3001, "no %s callback configured", KindRgctxFetch)
	}
	return f.cached(Key{Entry: EntryRgctxFetch, Payload: slot}, func() (uint64, error) {
		return f.emit("rgctx_fetch", func(a *platform.Assembler) {
			EmitRgctxFetch(a, slot, generic)
		})
	})
}

// ============================================================================
// 上下文注入
// ============================================================================

// EmitStaticRgctx 装入上下文后跳到 target
//
//	iihf/iilf r0,ctx
//	iihf/iilf r1,target
//	br    r1
func EmitStaticRgctx(a *platform.Assembler, ctx, target uint64) {
	a.LoadAbsValue(abi.RgctxReg, ctx)
	a.LoadAbsValue(platform.R1, target)
	a.BR(platform.R1)
}

// StaticRgctx 返回为 target 注入 ctx 的蹦床
func (f *Factory) StaticRgctx(ctx, target uint64) (uint64, error) {
	return f.cached(Key{Entry: EntryStaticRgctx, Payload: target, Extra: ctx}, func() (uint64, error) {
		return f.emit("static_rgctx", func(a *platform.Assembler) {
			EmitStaticRgctx(a, ctx, target)
		})
	})
}

// ============================================================================
// 委托
// ============================================================================

// DelegateLayout 委托对象字段偏移
type DelegateLayout struct {
	MethodPtr int64
	Target    int64
	Method    int64
	// VTable 对象中 vtable 指针的偏移
	VTable int64
}

// DefaultDelegateLayout 默认委托布局
var DefaultDelegateLayout = DelegateLayout{MethodPtr: 16, Target: 24, Method: 32, VTable: 0}

// delegate 桩变体，与参数个数一起编码进缓存键
const (
	delegateHasTarget = 1 << 32
	delegateVirtual   = 2 << 32
	delegateLoadIMT   = 4 << 32
)

// EmitDelegateInvoke 发射委托调用桩（委托在 r2）
//
// 有目标时把 this 替换为目标对象；无目标时把 nparams 个整数参数
// 依次前移一个位置，第 5 个起从调用者栈上的参数区前移。
func EmitDelegateInvoke(a *platform.Assembler, l DelegateLayout, hasTarget bool, nparams int) {
	a.LG(platform.R1, platform.R2, l.MethodPtr)
	if hasTarget {
		a.LG(platform.R2, platform.R2, l.Target)
		a.BR(platform.R1)
		return
	}
	regs := abi.ArgGRegs
	for i := 0; i < nparams; i++ {
		if i+1 < len(regs) {
			a.LGR(regs[i], regs[i+1])
			continue
		}
		// regs[i] 为 r6 或已在栈上：从栈参数区前移
		from := int64(abi.MinimalStackSize + (i+1-len(regs))*abi.PtrSize)
		if i < len(regs) {
			a.LG(regs[i], platform.SP, from)
			continue
		}
		a.LG(platform.R0, platform.SP, from)
		a.STG(platform.R0, platform.SP, from-abi.PtrSize)
	}
	a.BR(platform.R1)
}

// EmitDelegateVirtual 发射虚委托调用桩：经目标对象的 vtable 槽位跳转
func EmitDelegateVirtual(a *platform.Assembler, l DelegateLayout, slot int32, loadIMT bool) {
	a.LGR(platform.R1, platform.R2)
	a.LG(platform.R2, platform.R1, l.Target)
	if loadIMT {
		a.LG(abi.IMTReg, platform.R1, l.Method)
	}
	a.LG(platform.R1, platform.R2, l.VTable)
	if slot != 0 {
		a.AGFI(platform.R1, slot)
	}
	a.LG(platform.R1, platform.R1, 0)
	a.BR(platform.R1)
}

// DelegateInvoke 返回委托调用桩
func (f *Factory) DelegateInvoke(l DelegateLayout, hasTarget bool, nparams int) (uint64, error) {
	extra := uint64(nparams)
	if hasTarget {
		extra = delegateHasTarget
	}
	key := Key{Entry: EntryDelegate, Payload: layoutHash(l), Extra: extra}
	return f.cached(key, func() (uint64, error) {
		return f.emit("delegate_invoke", func(a *platform.Assembler) {
			EmitDelegateInvoke(a, l, hasTarget, nparams)
		})
	})
}

// DelegateVirtual 返回虚委托调用桩，slot 为 vtable 内的字节偏移
func (f *Factory) DelegateVirtual(l DelegateLayout, slot int32, loadIMT bool) (uint64, error) {
	extra := delegateVirtual | uint64(uint32(slot))
	if loadIMT {
		extra |= delegateLoadIMT
	}
	key := Key{Entry: EntryDelegate, Payload: layoutHash(l), Extra: extra}
	return f.cached(key, func() (uint64, error) {
		return f.emit("delegate_virtual", func(a *platform.Assembler) {
			EmitDelegateVirtual(a, l, slot, loadIMT)
		})
	})
}

func layoutHash(l DelegateLayout) uint64 {
	return Key{Payload: uint64(l.MethodPtr)<<32 | uint64(l.Target), Extra: uint64(l.Method)<<32 | uint64(l.VTable)}.Hash()
}
