// Package tramp 生成蹦床与分发桩
//
// 通用蹦床每种一个，在进程生命期内只生成一次；特定蹦床由固定模板
// 复制并改写一个相对位移和一个常量得到，按 (种类, 负载) 缓存。
// IMT 桩、类初始化闸门、rgctx 取槽快路径和委托桩同样经缓存发布。
//
// 所有生成结果发布后不再修改。并发构建同一缓存项时只有一个结果被
// 发布，其余构建者返回胜出者的地址。
package tramp

import (
	"fmt"

	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/tangzhangming/novajit/internal/errors"
	"github.com/tangzhangming/novajit/internal/jit/codebuf"
	"github.com/tangzhangming/novajit/internal/jit/codecache"
	"github.com/tangzhangming/novajit/internal/jit/platform"
)

// Kind 通用蹦床种类
type Kind int

const (
	// KindJIT 首次调用时编译，回调返回代码地址后尾跳转过去
	KindJIT Kind = iota
	// KindClassInit 执行泛型类初始化后返回调用者
	KindClassInit
	// KindRgctxFetch 取 rgctx 槽位，回调返回值经 r2 返回调用者
	KindRgctxFetch

	numKinds
)

var kindNames = [...]string{
	KindJIT:        "jit",
	KindClassInit:  "generic_class_init",
	KindRgctxFetch: "rgctx_fetch",
}

func (k Kind) String() string {
	if k >= 0 && k < numKinds {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// tailJump 回调结果是否作为跳转目标
func (k Kind) tailJump() bool { return k == KindJIT }

// Callbacks 运行时回调地址
//
// 回调约定：r2 = 蹦床帧中的帧记录地址（可读出入口时的参数寄存器），
// r3 = 调用者返回地址，r4 = 负载；返回值在 r2。
type Callbacks struct {
	Compile    uint64
	ClassInit  uint64
	RgctxFetch uint64
	// GetLMFAddr 返回线程帧记录链表头所在的地址
	GetLMFAddr uint64
}

func (c *Callbacks) of(k Kind) uint64 {
	switch k {
	case KindJIT:
		return c.Compile
	case KindClassInit:
		return c.ClassInit
	case KindRgctxFetch:
		return c.RgctxFetch
	}
	return 0
}

// Stats 蹦床统计
type Stats struct {
	Built *atomic.Int64 // 实际生成并发布的代码段
	Hits  *atomic.Int64 // 缓存命中
	Races *atomic.Int64 // 并发构建中落败被丢弃的结果
	Bytes *atomic.Int64 // 已发布字节数
}

// Option 工厂选项
type Option func(*Factory)

// WithLogger 设置日志
func WithLogger(l *zap.Logger) Option {
	return func(f *Factory) { f.logger = l }
}

// WithCacheSize 设置缓存槽位数（向上取 2 的幂）
func WithCacheSize(n int) Option {
	return func(f *Factory) { f.cacheSize = n }
}

// Factory 蹦床工厂
type Factory struct {
	arena     *codecache.Arena
	callbacks Callbacks
	logger    *zap.Logger
	cacheSize int

	generic  [numKinds]uint64
	template []byte
	cache    *Cache
	group    singleflight.Group

	Stats Stats
}

// DefaultCacheSize 默认缓存槽位数
const DefaultCacheSize = 1 << 12

// New 创建工厂并生成全部通用蹦床
func New(arena *codecache.Arena, cb Callbacks, opts ...Option) (*Factory, error) {
	f := &Factory{
		arena:     arena,
		callbacks: cb,
		logger:    zap.NewNop(),
		cacheSize: DefaultCacheSize,
		Stats: Stats{
			Built: atomic.NewInt64(0),
			Hits:  atomic.NewInt64(0),
			Races: atomic.NewInt64(0),
			Bytes: atomic.NewInt64(0),
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	f.cache = NewCache(f.cacheSize)
	f.template = specificTemplate()

	rep := errors.NewReporter()
	for k := Kind(0); k < numKinds; k++ {
		if cb.of(k) == 0 {
			continue
		}
		addr, err := f.emit(k.String(), func(a *platform.Assembler) {
			EmitGeneric(a, k, cb.of(k), cb.GetLMFAddr)
		})
		rep.Add(err)
		f.generic[k] = addr
	}
	if err := rep.Err(); err != nil {
		return nil, err
	}
	return f, nil
}

// Generic 通用蹦床地址，未配置回调的种类返回 0
func (f *Factory) Generic(k Kind) uint64 {
	if k < 0 || k >= numKinds {
		return 0
	}
	return f.generic[k]
}

// Cache 工厂使用的缓存
func (f *Factory) Cache() *Cache { return f.cache }

// ============================================================================
// 发布
// ============================================================================

// emit 汇编、按最终地址解析标签后写入代码区
func (f *Factory) emit(name string, fn func(a *platform.Assembler)) (uint64, error) {
	buf := codebuf.New(128, 0)
	fn(platform.NewAssembler(buf))
	return f.publish(name, buf)
}

func (f *Factory) publish(name string, buf *codebuf.Buffer) (uint64, error) {
	code := buf.Bytes()
	addr, err := f.arena.Alloc(len(code), codecache.DefaultAlign)
	if err != nil {
		return 0, err
	}
	if err := codebuf.Resolve(code, addr, buf.Patches(), buf.Labels(), nil); err != nil {
		return 0, err
	}
	if err := f.arena.Write(addr, code); err != nil {
		return 0, err
	}
	f.Stats.Built.Inc()
	f.Stats.Bytes.Add(int64(len(code)))
	f.logger.Debug("trampoline created",
		zap.String("name", name),
		zap.Uint64("addr", addr),
		zap.Int("size", len(code)))
	return addr, nil
}

// cached 查缓存，未命中时经 singleflight 构建并以 CAS 发布
func (f *Factory) cached(key Key, build func() (uint64, error)) (uint64, error) {
	if addr, ok := f.cache.Lookup(key); ok {
		f.Stats.Hits.Inc()
		return addr, nil
	}
	v, err, _ := f.group.Do(key.String(), func() (interface{}, error) {
		if addr, ok := f.cache.Lookup(key); ok {
			return addr, nil
		}
		addr, err := build()
		if err != nil {
			return uint64(0), err
		}
		winner, err := f.cache.Publish(key, addr)
		if err != nil {
			return uint64(0), err
		}
		if winner != addr {
			f.Stats.Races.Inc()
			f.logger.Debug("trampoline race lost",
				zap.Stringer("key", key),
				zap.Uint64("discarded", addr),
				zap.Uint64("winner", winner))
		}
		return winner, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(uint64), nil
}
