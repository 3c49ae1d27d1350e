// host.go - 模拟器宿主
//
// SimHost 把编译器、代码区、异常运行时、调试陷阱和蹦床回调装配到一台
// 模拟处理器上，生成的代码可以直接执行。运行时回调都是模拟器钩子。

package jit

import (
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/tangzhangming/novajit/internal/errors"
	"github.com/tangzhangming/novajit/internal/jit/codecache"
	"github.com/tangzhangming/novajit/internal/jit/codegen"
	"github.com/tangzhangming/novajit/internal/jit/debugtrap"
	"github.com/tangzhangming/novajit/internal/jit/platform"
	"github.com/tangzhangming/novajit/internal/jit/sim"
	"github.com/tangzhangming/novajit/internal/jit/tramp"
	"github.com/tangzhangming/novajit/internal/jit/unwind"
)

// 宿主钩子名称
const (
	SymLazyCompile = "jit_compile"
	SymClassInit   = "generic_class_init"
	SymRgctxFetch  = "rgctx_fetch"
)

// ClassInitFunc 泛型类初始化，vtable 为触发初始化的虚表地址
type ClassInitFunc func(vtable, payload uint64) error

// RgctxFunc 计算 rgctx 槽位的值
type RgctxFunc func(ctx, slot uint64) (uint64, error)

// TraceEvent 方法进入/退出事件
type TraceEvent struct {
	Leave  bool
	Method string
}

// TrapEvent 调试陷入事件
type TrapEvent struct {
	Kind debugtrap.Kind
	IP   uint64
}

// HostOption 宿主选项
type HostOption func(*SimHost)

// WithClassInit 设置泛型类初始化回调
func WithClassInit(fn ClassInitFunc) HostOption {
	return func(h *SimHost) { h.classInit = fn }
}

// WithRgctx 设置 rgctx 槽位回调
func WithRgctx(fn RgctxFunc) HostOption {
	return func(h *SimHost) { h.rgctx = fn }
}

// WithObjectModel 设置异常对象模型
func WithObjectModel(m unwind.ObjectModel) HostOption {
	return func(h *SimHost) { h.model = m }
}

// WithTrapHandler 设置调试陷入回调
func WithTrapHandler(fn debugtrap.Handler) HostOption {
	return func(h *SimHost) { h.onTrap = fn }
}

// SimHost 模拟器宿主
type SimHost struct {
	CPU        *sim.CPU
	Arena      *codecache.Arena
	Compiler   *Compiler
	Exceptions *unwind.SimRuntime
	Traps      *debugtrap.Traps

	logger    *zap.Logger
	callbacks tramp.Callbacks
	symbols   map[string]uint64

	classInit ClassInitFunc
	rgctx     RgctxFunc
	model     unwind.ObjectModel
	onTrap    debugtrap.Handler

	mu     sync.Mutex
	traces []TraceEvent
	trapEv []TrapEvent
}

// NewSimHost 创建模拟器并装配全部运行时
func NewSimHost(cfg *Config, opts ...HostOption) (*SimHost, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	h := &SimHost{
		logger:  cfg.logger(),
		symbols: make(map[string]uint64),
		model:   unwind.TokenModel{},
	}
	for _, opt := range opts {
		opt(h)
	}

	mem := sim.NewMemory()
	region, err := codecache.NewSimRegion(mem, codecache.DefaultSimBase, cfg.Backend.ArenaSize)
	if err != nil {
		return nil, err
	}
	h.Arena = codecache.New(region, codecache.WithLogger(h.logger))
	if h.CPU, err = sim.NewCPU(mem, 0); err != nil {
		return nil, err
	}

	reg := unwind.NewRegistry()
	if h.Exceptions, err = unwind.Install(h.CPU, h.Arena, reg, h.model, h.logger); err != nil {
		return nil, err
	}
	h.Traps, err = debugtrap.New(debugtrap.NewSimPages(mem, debugtrap.DefaultSimPageBase), h.Arena,
		debugtrap.WithLogger(h.logger))
	if err != nil {
		return nil, err
	}
	h.Traps.Attach(h.CPU, h.trap)

	lmf, _ := h.Exceptions.Symbol(codegen.SymGetLMFAddr)
	h.callbacks = tramp.Callbacks{
		Compile:    h.CPU.Symbol(SymLazyCompile, h.lazyCompile),
		ClassInit:  h.CPU.Symbol(SymClassInit, h.initClass),
		RgctxFetch: h.CPU.Symbol(SymRgctxFetch, h.fetchRgctx),
		GetLMFAddr: lmf,
	}
	h.symbols[codegen.SymTraceEnter] = h.CPU.Symbol(codegen.SymTraceEnter, h.traceHook(false))
	h.symbols[codegen.SymTraceLeave] = h.CPU.Symbol(codegen.SymTraceLeave, h.traceHook(true))

	h.Compiler, err = NewCompiler(cfg, h.Arena, h, WithRegistry(reg), WithTraps(h.Traps))
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Callbacks 实现 Runtime
func (h *SimHost) Callbacks() tramp.Callbacks { return h.callbacks }

// Symbol 实现 Runtime
func (h *SimHost) Symbol(name string) (uint64, bool) {
	if addr, ok := h.Exceptions.Symbol(name); ok {
		return addr, true
	}
	addr, ok := h.symbols[name]
	return addr, ok
}

// Call 调用方法（未编译时经懒编译蹦床进入）
func (h *SimHost) Call(id int, args ...uint64) (uint64, error) {
	entry, err := h.Compiler.Entry(id)
	if err != nil {
		return 0, err
	}
	return h.CPU.Call(entry, args...)
}

// CallName 按方法名调用
func (h *SimHost) CallName(name string, args ...uint64) (uint64, error) {
	e, ok := h.Compiler.Methods().ByName(name)
	if !ok {
		return 0, errors.Newf(errors.J3001, "method %q not defined", name)
	}
	return h.Call(e.Method.ID, args...)
}

// Traces 已记录的跟踪事件
func (h *SimHost) Traces() []TraceEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]TraceEvent(nil), h.traces...)
}

// Trapped 已记录的调试陷入
func (h *SimHost) Trapped() []TrapEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]TrapEvent(nil), h.trapEv...)
}

// Close 释放触发页与代码区
func (h *SimHost) Close() error {
	return multierr.Combine(h.Traps.Close(), h.Arena.Close())
}

// ============================================================================
// 钩子
// ============================================================================

// lazyCompile 回调约定：r2 帧记录，r3 调用者返回地址，r4 方法 ID
func (h *SimHost) lazyCompile(c *sim.CPU) error {
	if ce := h.logger.Check(zap.DebugLevel, "lazy compile"); ce != nil {
		if rec, err := unwind.ReadFrameRecord(c.Mem, c.GPR[platform.R2]); err == nil {
			ctx := rec.Context()
			ce.Write(zap.Uint64("method", c.GPR[platform.R4]),
				zap.Uint64("this", ctx.ThisArg()), zap.Uint64("imt", ctx.IMTMethod()))
		}
	}
	entry, err := h.Compiler.LazyCompile(c.GPR[platform.R3], c.GPR[platform.R4])
	if err != nil {
		return err
	}
	c.GPR[platform.R2] = entry
	return nil
}

func (h *SimHost) initClass(c *sim.CPU) error {
	args, err := tramp.FrameArgs(c.Mem, c.GPR[platform.R2])
	if err != nil {
		return err
	}
	vtable, payload := args[0], c.GPR[platform.R4]
	h.logger.Debug("generic class init", zap.Uint64("vtable", vtable), zap.Uint64("payload", payload))
	if h.classInit != nil {
		if err := h.classInit(vtable, payload); err != nil {
			return err
		}
	}
	c.GPR[platform.R2] = 0
	return nil
}

// fetchRgctx 计算槽位并写回上下文，之后的取槽走快路径
func (h *SimHost) fetchRgctx(c *sim.CPU) error {
	args, err := tramp.FrameArgs(c.Mem, c.GPR[platform.R2])
	if err != nil {
		return err
	}
	ctx, slot := args[0], c.GPR[platform.R4]
	if h.rgctx == nil {
		return errors.Newf(errors.J3001, "no rgctx resolver for slot %d", slot)
	}
	v, err := h.rgctx(ctx, slot)
	if err != nil {
		return err
	}
	if v != 0 {
		if err := c.Mem.WriteU64(ctx+uint64(tramp.RgctxSlotOffset(slot)), v); err != nil {
			return err
		}
	}
	c.GPR[platform.R2] = v
	return nil
}

// traceHook 跟踪调用来自方法内部，按返回地址查找方法
func (h *SimHost) traceHook(leave bool) sim.Hook {
	return func(c *sim.CPU) error {
		name := "?"
		if mi, ok := h.Compiler.Registry().Lookup(c.GPR[platform.R14]); ok {
			name = mi.Name
		}
		h.mu.Lock()
		h.traces = append(h.traces, TraceEvent{Leave: leave, Method: name})
		h.mu.Unlock()
		return nil
	}
}

func (h *SimHost) trap(kind debugtrap.Kind, ip uint64) {
	h.mu.Lock()
	h.trapEv = append(h.trapEv, TrapEvent{Kind: kind, IP: ip})
	h.mu.Unlock()
	if h.onTrap != nil {
		h.onTrap(kind, ip)
	}
}
