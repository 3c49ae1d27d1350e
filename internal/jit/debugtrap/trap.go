// Package debugtrap 实现序列点断点与单步
//
// 每个序列点编译为：
//
//	[lg r1,ss(fp); lg r0,0(r1)]   单步探针（可选）
//	lg r1,bp(fp)
//	lg r0,0(r15)                  6 字节断点槽位
//
// 设置断点把槽位改写为 lg r0,0(r1)，两种编码只差第 3 字节（基址寄存器），
// 因此设置与清除都是单字节写入，执行中的线程总能看到合法指令。
package debugtrap

import (
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/tangzhangming/novajit/internal/errors"
	"github.com/tangzhangming/novajit/internal/jit/codegen"
	"github.com/tangzhangming/novajit/internal/jit/platform"
)

// 断点槽位中基址寄存器字节
const (
	slotBaseOff = 2
	nopBase     = 0xF0
	trapBase    = 0x10
)

// CodeWriter 已发布代码的读写接口（codecache.Arena 实现该接口）
type CodeWriter interface {
	Read(addr uint64, n int) ([]byte, error)
	Write(addr uint64, p []byte) error
}

// Kind 故障分类
type Kind int

const (
	KindNone Kind = iota
	KindBreakpoint
	KindSingleStep
)

func (k Kind) String() string {
	switch k {
	case KindBreakpoint:
		return "breakpoint"
	case KindSingleStep:
		return "single-step"
	}
	return "none"
}

// Point 已发布方法中的一个序列点
type Point struct {
	ILOffset int
	// Slot 断点槽位地址
	Slot uint64
	// Probe 单步探针地址，0 表示没有
	Probe uint64
}

// Traps 触发页与断点状态
type Traps struct {
	pages  PageProvider
	code   CodeWriter
	logger *zap.Logger

	ssPage   uint64
	bpPage   uint64
	stepping *atomic.Bool
	hits     *atomic.Int64

	mu          sync.Mutex
	methods     map[int][]Point
	breakpoints map[uint64]bool
}

// Option Traps 选项
type Option func(*Traps)

// WithLogger 设置日志记录器
func WithLogger(l *zap.Logger) Option {
	return func(t *Traps) { t.logger = l }
}

// New 分配两个触发页；断点页不可读，单步页可读
func New(pages PageProvider, code CodeWriter, opts ...Option) (*Traps, error) {
	t := &Traps{
		pages:       pages,
		code:        code,
		logger:      zap.NewNop(),
		stepping:    atomic.NewBool(false),
		hits:        atomic.NewInt64(0),
		methods:     make(map[int][]Point),
		breakpoints: make(map[uint64]bool),
	}
	for _, o := range opts {
		o(t)
	}
	var err error
	if t.ssPage, err = pages.Alloc("ss_trigger_page"); err != nil {
		return nil, err
	}
	if t.bpPage, err = pages.Alloc("bp_trigger_page"); err != nil {
		return nil, err
	}
	if err := pages.SetReadable(t.ssPage, true); err != nil {
		return nil, err
	}
	return t, nil
}

// SSPage 单步触发页地址
func (t *Traps) SSPage() uint64 { return t.ssPage }

// BPPage 断点触发页地址
func (t *Traps) BPPage() uint64 { return t.bpPage }

// Hits 已处理的陷入次数
func (t *Traps) Hits() int64 { return t.hits.Load() }

// Symbol 解析触发页符号
func (t *Traps) Symbol(name string) (uint64, bool) {
	switch name {
	case codegen.SymSSTriggerPage:
		return t.ssPage, true
	case codegen.SymBPTriggerPage:
		return t.bpPage, true
	}
	return 0, false
}

// Close 释放触发页
func (t *Traps) Close() error {
	return t.pages.Close()
}

// ============================================================================
// 序列点登记
// ============================================================================

// Register 登记已发布方法的序列点，base 为方法入口
func (t *Traps) Register(method int, base uint64, sps []codegen.SeqPoint) {
	points := make([]Point, len(sps))
	for i, sp := range sps {
		points[i] = Point{ILOffset: sp.ILOffset, Slot: base + uint64(sp.Offset)}
		if sp.Probe >= 0 {
			points[i].Probe = base + uint64(sp.Probe)
		}
	}
	t.mu.Lock()
	t.methods[method] = points
	t.mu.Unlock()
}

// Points 方法的序列点
func (t *Traps) Points(method int) []Point {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Point(nil), t.methods[method]...)
}

// Lookup 按 IL 偏移查找序列点
func (t *Traps) Lookup(method, ilOffset int) (Point, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.methods[method] {
		if p.ILOffset == ilOffset {
			return p, true
		}
	}
	return Point{}, false
}

// ============================================================================
// 断点
// ============================================================================

// SetBreakpoint 在断点槽位上设置断点
func (t *Traps) SetBreakpoint(slot uint64) error {
	return t.toggle(slot, true)
}

// ClearBreakpoint 清除断点
func (t *Traps) ClearBreakpoint(slot uint64) error {
	return t.toggle(slot, false)
}

// HasBreakpoint 槽位上是否设置了断点
func (t *Traps) HasBreakpoint(slot uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.breakpoints[slot]
}

func (t *Traps) toggle(slot uint64, on bool) error {
	cur, err := t.code.Read(slot, len(codegen.SeqPointNop))
	if err != nil {
		return err
	}
	var want [6]byte
	copy(want[:], cur)
	if want != codegen.SeqPointNop && want != codegen.SeqPointTrap {
		return errors.Newf(errors.J1004, "no sequence point slot at %#x", slot)
	}
	b := byte(nopBase)
	if on {
		b = trapBase
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.code.Write(slot+slotBaseOff, []byte{b}); err != nil {
		return err
	}
	if on {
		t.breakpoints[slot] = true
	} else {
		delete(t.breakpoints, slot)
	}
	t.logger.Debug("toggle breakpoint",
		zap.Uint64("slot", slot),
		zap.Bool("enabled", on))
	return nil
}

// ============================================================================
// 单步
// ============================================================================

// StartSingleStep 使单步页不可读，所有单步探针开始陷入
func (t *Traps) StartSingleStep() error {
	if t.stepping.Swap(true) {
		return nil
	}
	t.logger.Debug("single step on")
	return t.pages.SetReadable(t.ssPage, false)
}

// StopSingleStep 恢复单步页可读
func (t *Traps) StopSingleStep() error {
	if !t.stepping.Swap(false) {
		return nil
	}
	t.logger.Debug("single step off")
	return t.pages.SetReadable(t.ssPage, true)
}

// Stepping 是否处于单步状态
func (t *Traps) Stepping() bool { return t.stepping.Load() }

// ============================================================================
// 故障处理
// ============================================================================

// Classify 按故障地址区分断点与单步
func (t *Traps) Classify(faultAddr uint64) Kind {
	switch faultAddr {
	case t.bpPage:
		return KindBreakpoint
	case t.ssPage:
		return KindSingleStep
	}
	return KindNone
}

// Skip 返回越过 ip 处故障指令后的地址
func (t *Traps) Skip(ip uint64) (uint64, error) {
	head, err := t.code.Read(ip, 1)
	if err != nil {
		return 0, err
	}
	t.hits.Inc()
	return ip + uint64(platform.ILC(head[0])), nil
}
