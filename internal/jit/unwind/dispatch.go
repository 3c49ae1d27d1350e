// dispatch.go - 两遍异常分发
//
// 第一遍自抛出点向上回溯，对每帧中覆盖当前 IP 的子句依次判断：
// catch 按异常类匹配，filter 调用过滤块，返回非零即选中。第一遍只读内存。
// 第二遍从抛出点到选中帧执行覆盖 IP 的 finally/fault 块，被越过的帧
// 若压入过帧记录则解除链接，每帧恰好一次。最后以选中帧的上下文恢复到
// 处理块，r2 携带异常对象。

package unwind

import (
	"fmt"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/tangzhangming/novajit/internal/errors"
	"github.com/tangzhangming/novajit/internal/jit/abi"
	"github.com/tangzhangming/novajit/internal/jit/codegen"
	"github.com/tangzhangming/novajit/internal/jit/types"
)

// ============================================================================
// 异常对象模型
// ============================================================================

// ObjectModel 异常对象与类之间的关系
type ObjectModel interface {
	// NewCorlib 创建核心库异常对象
	NewCorlib(class string) (uint64, error)
	// ClassOf 对象的异常类名
	ClassOf(obj uint64) string
	// IsInstance 对象是否为 class（或其子类）的实例，空串匹配全部
	IsInstance(obj uint64, class string) bool
}

// tokenTag 标记对象的高位
const tokenTag uint64 = 0xE5C0 << 48

// TokenModel 以类标记编码异常对象的最小对象模型
//
// 对象值为 tokenTag | 类标记，类层次只区分核心库的算术异常。
type TokenModel struct{}

// Object 由类名构造对象值
func (TokenModel) Object(class string) uint64 {
	return tokenTag | uint64(uint32(codegen.ExceptionToken(class)))
}

func (m TokenModel) NewCorlib(class string) (uint64, error) {
	return m.Object(class), nil
}

func (TokenModel) ClassOf(obj uint64) string {
	if obj&^0xFFFFFFFF != tokenTag {
		return ""
	}
	name, _ := codegen.ExceptionName(int32(uint32(obj)))
	return name
}

var parentClass = map[string]string{
	codegen.ExcDivideByZero: codegen.ExcArithmetic,
	codegen.ExcOverflow:     codegen.ExcArithmetic,
}

func (m TokenModel) IsInstance(obj uint64, class string) bool {
	if class == "" || class == "Exception" {
		return true
	}
	for c := m.ClassOf(obj); c != ""; c = parentClass[c] {
		if c == class {
			return true
		}
	}
	return false
}

// ============================================================================
// 分发器
// ============================================================================

// Invoker 在帧上下文中调用处理块（过滤块、finally）
type Invoker interface {
	CallHandler(ctx *Context, handler, exc uint64) (uint64, error)
}

// UnhandledError 没有任何处理块接住异常
type UnhandledError struct {
	Object uint64
	Class  string
	IP     uint64
	Trace  []string
}

func (e *UnhandledError) Error() string {
	return fmt.Sprintf("unhandled %s at %#x", e.Class, e.IP)
}

// Stats 分发计数
type Stats struct {
	Throws    *atomic.Int64
	Caught    *atomic.Int64
	Finallies *atomic.Int64
	Unhandled *atomic.Int64
}

// Dispatcher 异常分发器
type Dispatcher struct {
	Unwinder
	Model  ObjectModel
	Logger *zap.Logger
	Stats  Stats
}

// NewDispatcher 创建分发器
func NewDispatcher(reg *Registry, mem Memory, thread *Thread, model ObjectModel, logger *zap.Logger) *Dispatcher {
	if model == nil {
		model = TokenModel{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		Unwinder: Unwinder{Registry: reg, Mem: mem, Thread: thread},
		Model:    model,
		Logger:   logger,
		Stats: Stats{
			Throws:    atomic.NewInt64(0),
			Caught:    atomic.NewInt64(0),
			Finallies: atomic.NewInt64(0),
			Unhandled: atomic.NewInt64(0),
		},
	}
}

// Exception 把抛出桩传入的 r2 转换为异常对象
func (d *Dispatcher) Exception(kind ThrowKind, r2 uint64) (uint64, error) {
	if kind != ThrowCorlib {
		return r2, nil
	}
	name, ok := codegen.ExceptionName(int32(uint32(r2)))
	if !ok {
		return 0, errors.Newf(errors.J1005, "unknown exception token %d", int32(uint32(r2)))
	}
	return d.Model.NewCorlib(name)
}

// target 第一遍选中的处理位置
type target struct {
	frame  int
	clause int
}

// Dispatch 分发异常，返回恢复到处理块的上下文
func (d *Dispatcher) Dispatch(ctx Context, exc uint64, inv Invoker) (Context, error) {
	d.Stats.Throws.Inc()
	class := d.Model.ClassOf(exc)
	d.Logger.Debug("dispatch exception",
		zap.String("class", class),
		zap.Uint64("ip", ctx.IP))

	frames, err := d.Backtrace(ctx)
	if err != nil {
		return ctx, err
	}

	// 第一遍
	var found *target
search:
	for fi, f := range frames {
		if f.Method == nil {
			continue
		}
		pc := f.Ctx.IP - 1
		for ci := range f.Method.Clauses {
			c := &f.Method.Clauses[ci]
			if !c.Covers(pc) {
				continue
			}
			switch c.Kind {
			case types.ClauseCatch:
				if d.Model.IsInstance(exc, c.CatchClass) {
					found = &target{fi, ci}
					break search
				}
			case types.ClauseFilter:
				r, err := inv.CallHandler(&f.Ctx, c.Filter, exc)
				if err != nil {
					return ctx, err
				}
				if r != 0 {
					found = &target{fi, ci}
					break search
				}
			}
		}
	}
	if found == nil {
		d.Stats.Unhandled.Inc()
		return ctx, &UnhandledError{Object: exc, Class: class, IP: ctx.IP, Trace: trace(frames)}
	}

	// 第二遍
	for fi := 0; fi <= found.frame; fi++ {
		f := frames[fi]
		if f.Method == nil {
			if err := Unlink(d.Mem, f.LMF); err != nil {
				return ctx, err
			}
			continue
		}
		pc := f.Ctx.IP - 1
		for ci := range f.Method.Clauses {
			if fi == found.frame && ci >= found.clause {
				break
			}
			c := &f.Method.Clauses[ci]
			if !c.Covers(pc) || (c.Kind != types.ClauseFinally && c.Kind != types.ClauseFault) {
				continue
			}
			d.Stats.Finallies.Inc()
			if _, err := inv.CallHandler(&f.Ctx, c.Handler, exc); err != nil {
				return ctx, err
			}
		}
		if fi < found.frame && f.LMF != 0 {
			if err := Unlink(d.Mem, f.LMF); err != nil {
				return ctx, err
			}
		}
	}

	f := frames[found.frame]
	c := f.Method.Clauses[found.clause]
	resume := f.Ctx
	resume.IP = c.Handler
	resume.SetIntReg(abi.ReturnReg, exc)
	d.Stats.Caught.Inc()
	d.Logger.Debug("exception caught",
		zap.String("class", class),
		zap.String("method", f.Method.Name),
		zap.Uint64("handler", c.Handler))
	return resume, nil
}

func trace(frames []Frame) []string {
	out := make([]string, 0, len(frames))
	for _, f := range frames {
		if f.Method == nil {
			out = append(out, fmt.Sprintf("<native %#x>", f.Ctx.IP))
			continue
		}
		out = append(out, fmt.Sprintf("%s+%#x", f.Method.Name, f.Ctx.IP-f.Method.Start))
	}
	return out
}
