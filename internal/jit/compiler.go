package jit

import (
	"encoding/binary"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/tangzhangming/novajit/internal/errors"
	"github.com/tangzhangming/novajit/internal/jit/abi"
	"github.com/tangzhangming/novajit/internal/jit/codebuf"
	"github.com/tangzhangming/novajit/internal/jit/codecache"
	"github.com/tangzhangming/novajit/internal/jit/codegen"
	"github.com/tangzhangming/novajit/internal/jit/debugtrap"
	"github.com/tangzhangming/novajit/internal/jit/platform"
	"github.com/tangzhangming/novajit/internal/jit/tramp"
	"github.com/tangzhangming/novajit/internal/jit/types"
	"github.com/tangzhangming/novajit/internal/jit/unwind"
)

// ============================================================================
// 编译器
// ============================================================================

// Compiler 方法编译器，可被多个 goroutine 同时使用
type Compiler struct {
	config  *Config
	logger  *zap.Logger
	policy  abi.Policy
	arena   *codecache.Arena
	runtime Runtime

	tramps   *tramp.Factory
	registry *unwind.Registry
	traps    *debugtrap.Traps
	methods  *MethodTable

	// 同一方法的并发编译只执行一次
	group singleflight.Group

	Stats Stats
}

// Option 编译器选项
type Option func(*Compiler)

// WithRegistry 使用给定的展开信息表（与异常分发器共享）
func WithRegistry(r *unwind.Registry) Option {
	return func(c *Compiler) { c.registry = r }
}

// WithTraps 登记序列点并解析触发页符号
func WithTraps(t *debugtrap.Traps) Option {
	return func(c *Compiler) { c.traps = t }
}

// NewCompiler 创建编译器并生成通用蹦床
func NewCompiler(cfg *Config, arena *codecache.Arena, rt Runtime, opts ...Option) (*Compiler, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Compiler{
		config:  cfg,
		logger:  cfg.logger(),
		policy:  cfg.Policy(),
		arena:   arena,
		runtime: rt,
		methods: NewMethodTable(),
		Stats:   newStats(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.registry == nil {
		c.registry = unwind.NewRegistry()
	}
	f, err := tramp.New(arena, rt.Callbacks(),
		tramp.WithLogger(c.logger),
		tramp.WithCacheSize(cfg.Backend.TrampCache))
	if err != nil {
		return nil, err
	}
	c.tramps = f
	return c, nil
}

// Methods 方法表
func (c *Compiler) Methods() *MethodTable { return c.methods }

// Tramps 蹦床工厂
func (c *Compiler) Tramps() *tramp.Factory { return c.tramps }

// Registry 展开信息表
func (c *Compiler) Registry() *unwind.Registry { return c.registry }

// Arena 代码区
func (c *Compiler) Arena() *codecache.Arena { return c.arena }

// Define 登记方法，方法在第一次被调用或显式 Compile 时编译
func (c *Compiler) Define(ms ...*types.Method) error {
	rep := errors.NewReporter()
	for _, m := range ms {
		_, err := c.methods.Define(m)
		rep.Add(err)
	}
	return rep.Err()
}

// Entry 方法的调用地址：已编译时为入口，否则为懒编译蹦床
func (c *Compiler) Entry(id int) (uint64, error) {
	return c.resolveTarget(codebuf.Target{Kind: codebuf.TargetMethod, Method: id})
}

// Compile 编译方法并返回入口地址，已编译时直接返回
func (c *Compiler) Compile(id int) (uint64, error) {
	e, ok := c.methods.Get(id)
	if !ok {
		return 0, errors.Newf(errors.J3001, "method#%d not defined", id)
	}
	if addr, ok := c.methods.Address(id); ok {
		return addr, nil
	}
	v, err, _ := c.group.Do(strconv.Itoa(id), func() (interface{}, error) {
		if addr, ok := c.methods.Address(id); ok {
			return addr, nil
		}
		return c.compile(e)
	})
	if err != nil {
		return 0, err
	}
	return v.(uint64), nil
}

// CompileAll 编译全部已登记的方法，错误合并返回
func (c *Compiler) CompileAll() error {
	rep := errors.NewReporter()
	for _, id := range c.methods.IDs() {
		_, err := c.Compile(id)
		rep.Add(err)
	}
	return rep.Err()
}

func (c *Compiler) compile(e *MethodEntry) (uint64, error) {
	if !c.methods.begin(e) {
		return e.Entry, nil
	}
	start := time.Now()
	m := e.Method
	c.logger.Debug("compile start", zap.Int("method", m.ID), zap.String("name", m.Name))

	entry, res, err := c.build(m)
	elapsed := time.Since(start)
	c.Stats.CompileNanos.Add(elapsed.Nanoseconds())
	if err != nil {
		c.methods.setFailed(e, err)
		c.Stats.Failed.Inc()
		c.logger.Debug("compile failed",
			zap.Int("method", m.ID),
			zap.String("name", m.Name),
			zap.Error(err))
		return 0, err
	}

	c.methods.setCompiled(e, entry, res)
	c.Stats.Compiled.Inc()
	c.Stats.CodeBytes.Add(int64(len(res.Code)))
	c.logger.Debug("compile finish",
		zap.Int("method", m.ID),
		zap.String("name", m.Name),
		zap.Uint64("entry", entry),
		zap.Int("size", len(res.Code)),
		zap.Duration("elapsed", elapsed))
	return entry, nil
}

// build 发射、解析、发布并登记一个方法
func (c *Compiler) build(m *types.Method) (uint64, *codegen.Result, error) {
	c.applyFlags(m)
	res, err := c.emit(m)
	if err != nil {
		return 0, nil, err
	}
	entry, err := c.arena.Alloc(len(res.Code), codecache.DefaultAlign)
	if err != nil {
		return 0, nil, err
	}
	resolver := codebuf.ResolverFunc(c.resolveTarget)
	if err := codebuf.Resolve(res.Code, entry, res.Patches, res.Labels, resolver); err != nil {
		return 0, nil, err
	}
	if err := c.arena.Write(entry, res.Code); err != nil {
		return 0, nil, err
	}
	if err := c.registry.Register(unwind.NewMethodInfo(m.ID, m.Name, entry, res)); err != nil {
		return 0, nil, err
	}
	if c.traps != nil && len(res.SeqPoints) > 0 {
		c.traps.Register(m.ID, entry, res.SeqPoints)
	}
	return entry, res, nil
}

// applyFlags 按配置追加方法标志
func (c *Compiler) applyFlags(m *types.Method) {
	if c.config.Backend.Trace {
		m.Flags |= types.FlagTrace
	}
	if c.config.Debug.SeqPoints {
		m.Flags |= types.FlagSeqPoints
	}
	if c.config.Debug.SingleStep {
		m.Flags |= types.FlagSeqPoints | types.FlagSingleStep
	}
}

// emit 分类、布局并发射；内部一致性错误转换为返回值
func (c *Compiler) emit(m *types.Method) (res *codegen.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			ie, ok := r.(*errors.InternalError)
			if !ok {
				panic(r)
			}
			err = ie
		}
	}()
	codegen.Prepare(m)
	frame := abi.Layout(m, abi.Classify(m.Sig, c.policy))
	return codegen.Emit(m, frame, codegen.Options{MaxSize: c.config.Backend.MaxMethodSize})
}

// ============================================================================
// 符号解析
// ============================================================================

func (c *Compiler) resolveTarget(tg codebuf.Target) (uint64, error) {
	switch tg.Kind {
	case codebuf.TargetMethod:
		if addr, ok := c.methods.Address(tg.Method); ok {
			return addr, nil
		}
		if _, ok := c.methods.Get(tg.Method); !ok {
			return 0, errors.Newf(errors.J3001, "method#%d not defined", tg.Method)
		}
		return c.tramps.Specific(tramp.KindJIT, uint64(tg.Method))
	case codebuf.TargetSymbol:
		if addr, ok := c.runtime.Symbol(tg.Name); ok {
			return addr, nil
		}
		if c.traps != nil {
			if addr, ok := c.traps.Symbol(tg.Name); ok {
				return addr, nil
			}
		}
	case codebuf.TargetAbs:
		return tg.Addr, nil
	case codebuf.TargetRgctxFetch:
		return c.tramps.RgctxFetch(tg.Payload)
	case codebuf.TargetClassInit:
		return c.tramps.Specific(tramp.KindClassInit, tg.Payload)
	}
	return 0, errors.Newf(errors.J3001, "unresolved target %s", tg)
}

// ============================================================================
// 懒编译
// ============================================================================

// LazyCompile 懒编译蹦床回调：编译 payload 指定的方法并改写调用点
//
// ret 为调用者的返回地址。调用者经调用模板进入蹦床时，模板被改写为
// 直接调用新入口；其他调用方式（寄存器间接调用、宿主调用）只编译。
func (c *Compiler) LazyCompile(ret, payload uint64) (uint64, error) {
	c.Stats.LazyCompiles.Inc()
	id := int(payload)
	entry, err := c.Compile(id)
	if err != nil {
		return 0, err
	}
	site, ok := c.callSite(ret, payload)
	if !ok {
		return entry, nil
	}
	if err := c.arena.PatchCallSite(site, entry); err != nil {
		return 0, err
	}
	if e, ok := c.methods.Get(id); ok {
		c.methods.addPatchSite(e, site)
	}
	c.Stats.PatchedSites.Inc()
	return entry, nil
}

// callSite 返回以 ret 结尾、目标为该方法懒编译蹦床的调用模板
func (c *Compiler) callSite(ret, payload uint64) (uint64, bool) {
	if ret < platform.CallTemplateLen {
		return 0, false
	}
	site := ret - platform.CallTemplateLen
	if site&3 != 0 || !c.arena.Contains(site) {
		return 0, false
	}
	code, err := c.arena.Read(site, platform.CallTemplateLen)
	if err != nil || !platform.IsCallTemplate(code, 0) {
		return 0, false
	}
	tr, err := c.tramps.Specific(tramp.KindJIT, payload)
	if err != nil {
		return 0, false
	}
	return site, templateTarget(code) == tr
}

// templateTarget 调用模板中 IIHF/IILF 装入的地址
func templateTarget(code []byte) uint64 {
	hi := binary.BigEndian.Uint32(code[2:])
	lo := binary.BigEndian.Uint32(code[8:])
	return uint64(hi)<<32 | uint64(lo)
}
