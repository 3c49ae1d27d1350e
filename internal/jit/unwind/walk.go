package unwind

import (
	"github.com/tangzhangming/novajit/internal/errors"
	"github.com/tangzhangming/novajit/internal/jit/platform"
)

// ============================================================================
// 栈回溯
// ============================================================================

// maxFrames 单次回溯的帧数上限
const maxFrames = 1 << 12

// Frame 回溯得到的一帧
type Frame struct {
	// Method 已编译方法，nil 表示经帧记录跳过的非托管帧
	Method *MethodInfo
	Ctx    Context
	// LMF 本帧压入的帧记录地址，0 表示没有；非托管帧为跳过它所用的帧记录
	LMF uint64
}

// Unwinder 基于帧形状和帧记录的栈回溯
type Unwinder struct {
	Registry *Registry
	Mem      Memory
	Thread   *Thread
}

// frameBase 帧寄存器的值（序言下移之后的 SP）
func frameBase(m *MethodInfo, ctx *Context) uint64 {
	return ctx.IntReg(m.Shape.FrameReg)
}

// lmfOf 方法帧中的帧记录地址
func lmfOf(m *MethodInfo, ctx *Context) uint64 {
	if !m.Shape.HasLMF() {
		return 0
	}
	return frameBase(m, ctx) + uint64(m.Shape.LMFOffset)
}

// Caller 按帧形状恢复调用者上下文
func (u *Unwinder) Caller(m *MethodInfo, ctx Context) (Context, error) {
	entrySP := frameBase(m, &ctx) + uint64(m.Shape.AllocSize)
	caller := ctx
	for _, s := range m.Shape.Saved {
		v, err := u.Mem.ReadU64(entrySP + uint64(s.Offset))
		if err != nil {
			return ctx, errors.Wrap(errors.J1006, err, "restore %s of %s", s, m.Name)
		}
		if s.Float {
			caller.FPR[s.Reg] = v
		} else {
			caller.GPR[s.Reg] = v
		}
	}
	caller.IP = caller.GPR[platform.R14]
	return caller, nil
}

// Walk 从 ctx 开始逐帧回调 fn，fn 返回 false 时停止
//
// ctx 位于已编译方法中时按帧形状恢复调用者；否则用尚未跳过的最近一条
// 帧记录跳回压入它的托管方法，非托管帧以 Method 为 nil 的帧出现一次。
// 两者都不可用时回溯结束。
func (u *Unwinder) Walk(ctx Context, fn func(f Frame) bool) error {
	var lmf uint64
	if u.Thread != nil {
		top, err := u.Thread.Top(u.Mem)
		if err != nil {
			return err
		}
		lmf = top
	}
	for n := 0; n < maxFrames; n++ {
		if m, ok := u.Registry.Lookup(ctx.IP); ok {
			f := Frame{Method: m, Ctx: ctx, LMF: lmfOf(m, &ctx)}
			if !fn(f) {
				return nil
			}
			if f.LMF != 0 && f.LMF == lmf {
				r, err := ReadFrameRecord(u.Mem, lmf)
				if err != nil {
					return err
				}
				lmf = r.Previous
			}
			caller, err := u.Caller(m, ctx)
			if err != nil {
				return err
			}
			ctx = caller
			continue
		}
		if lmf == 0 {
			return nil
		}
		r, err := ReadFrameRecord(u.Mem, lmf)
		if err != nil {
			return err
		}
		next := r.Context()
		if _, ok := u.Registry.Lookup(next.IP); !ok || next.SP() < ctx.SP() {
			return errors.Newf(errors.J1006, "frame record %#x does not lead back to managed code", lmf)
		}
		if !fn(Frame{Ctx: ctx, LMF: lmf}) {
			return nil
		}
		ctx, lmf = next, r.Previous
	}
	return errors.Newf(errors.J1006, "stack walk exceeded %d frames", maxFrames)
}

// Backtrace 收集从 ctx 开始的全部帧
func (u *Unwinder) Backtrace(ctx Context) ([]Frame, error) {
	var out []Frame
	err := u.Walk(ctx, func(f Frame) bool {
		out = append(out, f)
		return true
	})
	return out, err
}
