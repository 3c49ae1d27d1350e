// sim.go - 在模拟处理器上安装异常运行时
//
// 分发器与 get_lmf_addr 注册为模拟器钩子，线程块映射在独立区域：
// 偏移 0 为帧记录链表头，之后是调用处理块时使用的上下文暂存区。

package unwind

import (
	"go.uber.org/zap"

	"github.com/tangzhangming/novajit/internal/errors"
	"github.com/tangzhangming/novajit/internal/jit/codecache"
	"github.com/tangzhangming/novajit/internal/jit/codegen"
	"github.com/tangzhangming/novajit/internal/jit/platform"
	"github.com/tangzhangming/novajit/internal/jit/sim"
)

const (
	// DefaultThreadBase 模拟线程块地址
	DefaultThreadBase uint64 = 0x7D00_0000
	threadBlockSize          = 1 << 16
	scratchOffset            = 256
	maxHandlerDepth          = (threadBlockSize - scratchOffset) / CtxSize

	// SymHandleException 分发器钩子名称
	SymHandleException = "handle_exception"
)

// SimRuntime 模拟器上的异常运行时
type SimRuntime struct {
	*Dispatcher
	CPU   *sim.CPU
	Stubs *Stubs

	dispatchHook uint64
	lmfHook      uint64
	scratch      uint64
	depth        int
}

// Install 在 cpu 上安装异常运行时，桩发布到 arena
func Install(cpu *sim.CPU, arena *codecache.Arena, reg *Registry, model ObjectModel, logger *zap.Logger) (*SimRuntime, error) {
	block, err := cpu.Mem.Map(DefaultThreadBase, threadBlockSize, sim.ProtRW, "thread")
	if err != nil {
		return nil, errors.Wrap(errors.J2002, err, "map thread block")
	}
	thread := &Thread{Head: block.Base}
	rt := &SimRuntime{
		Dispatcher: NewDispatcher(reg, cpu.Mem, thread, model, logger),
		CPU:        cpu,
		scratch:    block.Base + scratchOffset,
	}
	rt.dispatchHook = cpu.Symbol(SymHandleException, rt.handleException)
	rt.lmfHook = cpu.Symbol(codegen.SymGetLMFAddr, func(c *sim.CPU) error {
		c.GPR[platform.R2] = thread.Head
		return nil
	})
	stubs, err := BuildStubs(arena, rt.dispatchHook)
	if err != nil {
		return nil, err
	}
	rt.Stubs = stubs
	return rt, nil
}

// Symbol 解析生成代码引用的异常运行时符号
func (rt *SimRuntime) Symbol(name string) (uint64, bool) {
	switch name {
	case codegen.SymThrow:
		return rt.Stubs.Throw, true
	case codegen.SymRethrow:
		return rt.Stubs.Rethrow, true
	case codegen.SymThrowCorlib:
		return rt.Stubs.ThrowCorlib, true
	case codegen.SymGetLMFAddr:
		return rt.lmfHook, true
	}
	return 0, false
}

// handleException 抛出桩调用的分发入口：r2 异常，r3 上下文，r4 抛出种类
func (rt *SimRuntime) handleException(c *sim.CPU) error {
	ctxAddr := c.GPR[platform.R3]
	kind := ThrowKind(c.GPR[platform.R4])
	ctx, err := LoadContext(c.Mem, ctxAddr)
	if err != nil {
		return err
	}
	exc, err := rt.Exception(kind, c.GPR[platform.R2])
	if err != nil {
		return err
	}
	rt.Logger.Debug("throw", zap.Stringer("kind", kind), zap.Uint64("ip", ctx.IP))

	resume, err := rt.Dispatch(ctx, exc, rt)
	if err != nil {
		return err
	}
	if err := resume.Store(c.Mem, ctxAddr); err != nil {
		return err
	}
	c.GPR[platform.R2] = ctxAddr
	c.Jump(rt.Stubs.RestoreContext)
	return nil
}

// CallHandler 经处理块调用桩执行过滤块或 finally 块
func (rt *SimRuntime) CallHandler(ctx *Context, handler, exc uint64) (uint64, error) {
	if rt.depth >= maxHandlerDepth {
		return 0, errors.Newf(errors.J2001, "handler nesting exceeds %d", maxHandlerDepth)
	}
	addr := rt.scratch + uint64(rt.depth*CtxSize)
	if err := ctx.Store(rt.CPU.Mem, addr); err != nil {
		return 0, err
	}
	rt.depth++
	defer func() { rt.depth-- }()
	return rt.CPU.Call(rt.Stubs.CallFilter, addr, handler, exc)
}
