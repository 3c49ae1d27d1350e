// Package sim 实现 s390x 指令子集模拟器
//
// 模拟器能够执行后端生成的全部指令（platform.AllOps），用于在非 s390x
// 主机上运行生成的代码：验证帧平衡、异常抛出、单步探针等运行时行为。
//
// 运行时回调以钩子形式注册在未映射的地址上：PSW 到达钩子地址时调用
// 对应的 Go 函数，函数返回后按 r14 返回（与 br r14 相同），除非钩子
// 通过 Jump 指定了新的执行位置。
package sim

import (
	"fmt"
	"math"

	"github.com/tangzhangming/novajit/internal/errors"
	"github.com/tangzhangming/novajit/internal/jit/platform"
)

// ============================================================================
// 地址空间布局
// ============================================================================

const (
	// StackBase 栈区域起始地址
	StackBase uint64 = 0x7F00_0000
	// DefaultStackSize 默认栈大小
	DefaultStackSize = 1 << 20
	// HookBase 钩子地址起点（不映射）
	HookBase uint64 = 0x7FFF_0000_0000
	// exitBase Call 返回标记地址起点（不映射）
	exitBase uint64 = 0x7FFE_0000_0000

	// MinFrame 被调用者可以使用的最小调用者帧
	MinFrame = 160
	// DefaultMaxSteps 单次 Call 的默认指令数上限
	DefaultMaxSteps = 10_000_000
	// MaxCallDepth 钩子内嵌套 Call 的最大深度
	MaxCallDepth = 256
)

// ErrStepLimit 超过指令数上限
var ErrStepLimit = errors.Newf(errors.J2001, "simulator step limit reached")

// ============================================================================
// 处理器
// ============================================================================

// Hook 钩子函数
type Hook func(c *CPU) error

type hookEntry struct {
	name string
	fn   Hook
}

// hookFrame 正在执行的钩子
type hookFrame struct {
	jumped bool
	target uint64
}

// CPU 模拟处理器状态
type CPU struct {
	Mem *Memory

	GPR [16]uint64
	FPR [16]uint64 // 位模式；短浮点占高 32 位
	PSW uint64
	CC  uint8

	// OnInterrupt 程序中断处理；返回 true 表示已处理，从（可能修改过的）PSW 继续
	OnInterrupt func(c *CPU, it *Interrupt) bool
	// Trace 每条指令执行前调用
	Trace func(pc uint64, in platform.Inst)
	// MaxSteps 指令数上限，0 表示使用默认值
	MaxSteps int

	// Steps 已执行的指令数
	Steps int
	// LastReturnSP 最近一次 Call 返回时被调用者留下的 SP
	LastReturnSP uint64

	stack    *Region
	hooks    map[uint64]hookEntry
	nextHook uint64
	frames   []*hookFrame
	exits    []uint64

	// 当前指令地址与顺序执行的下一地址
	pc   uint64
	next uint64
}

// NewCPU 创建处理器并映射栈，stackSize 为 0 时使用默认大小
func NewCPU(mem *Memory, stackSize int) (*CPU, error) {
	if stackSize <= 0 {
		stackSize = DefaultStackSize
	}
	stack, err := mem.Map(StackBase, stackSize, ProtRW, "stack")
	if err != nil {
		return nil, err
	}
	c := &CPU{
		Mem:      mem,
		stack:    stack,
		hooks:    make(map[uint64]hookEntry),
		nextHook: HookBase,
	}
	c.GPR[platform.SP] = stack.End() - MinFrame
	return c, nil
}

// Stack 栈区域
func (c *CPU) Stack() *Region { return c.stack }

// ============================================================================
// 钩子
// ============================================================================

// Hook 在 addr 上注册钩子
func (c *CPU) Hook(addr uint64, name string, fn Hook) {
	c.hooks[addr] = hookEntry{name: name, fn: fn}
}

// Symbol 为钩子分配地址并注册
func (c *CPU) Symbol(name string, fn Hook) uint64 {
	addr := c.nextHook
	c.nextHook += 16
	c.Hook(addr, name, fn)
	return addr
}

// HookName 查询钩子名称
func (c *CPU) HookName(addr uint64) (string, bool) {
	h, ok := c.hooks[addr]
	return h.name, ok
}

// Jump 在钩子中调用时指定钩子返回后的执行位置，否则直接设置 PSW
func (c *CPU) Jump(addr uint64) {
	if n := len(c.frames); n > 0 {
		f := c.frames[n-1]
		f.jumped, f.target = true, addr
		return
	}
	c.PSW = addr
}

func (c *CPU) invoke(h hookEntry) error {
	ret := c.GPR[platform.R14]
	f := &hookFrame{}
	c.frames = append(c.frames, f)
	err := h.fn(c)
	c.frames = c.frames[:len(c.frames)-1]
	if err != nil {
		return fmt.Errorf("hook %s: %w", h.name, err)
	}
	if f.jumped {
		c.PSW = f.target
	} else {
		c.PSW = ret
	}
	return nil
}

// ============================================================================
// 执行
// ============================================================================

// Call 按 s390x 调用约定调用 entry，返回 r2
//
// 调用前在当前 SP 之下分配一个最小帧，超过 5 个的参数写入该帧的参数区。
// 钩子中可以嵌套调用。
func (c *CPU) Call(entry uint64, args ...uint64) (uint64, error) {
	if len(c.exits) >= MaxCallDepth {
		return 0, errors.Newf(errors.J2001, "simulator call depth %d exceeded", MaxCallDepth)
	}
	extra := 0
	if len(args) > 5 {
		extra = len(args) - 5
	}
	oldSP := c.GPR[platform.SP]
	sp := oldSP - uint64(MinFrame+8*extra)
	sp &^= 7
	if err := c.Mem.WriteU64(sp, oldSP); err != nil {
		return 0, err
	}
	for i, a := range args {
		if i < 5 {
			c.GPR[2+i] = a
			continue
		}
		if err := c.Mem.WriteU64(sp+MinFrame+uint64(8*(i-5)), a); err != nil {
			return 0, err
		}
	}

	exit := exitBase + uint64(2*len(c.exits))
	c.exits = append(c.exits, exit)
	defer func() { c.exits = c.exits[:len(c.exits)-1] }()

	c.GPR[platform.SP] = sp
	c.GPR[platform.R14] = exit
	c.PSW = entry
	err := c.run(exit)
	c.LastReturnSP = c.GPR[platform.SP]
	c.GPR[platform.SP] = oldSP
	if err != nil {
		return 0, err
	}
	return c.GPR[platform.R2], nil
}

// CallFloat 调用 entry 并返回 f0 中的双精度结果
func (c *CPU) CallFloat(entry uint64, args ...uint64) (float64, error) {
	if _, err := c.Call(entry, args...); err != nil {
		return 0, err
	}
	return c.F64(platform.F0), nil
}

// Run 从当前 PSW 执行直到到达 until
func (c *CPU) Run(until uint64) error {
	return c.run(until)
}

func (c *CPU) run(exit uint64) error {
	max := c.MaxSteps
	if max <= 0 {
		max = DefaultMaxSteps
	}
	start := c.Steps
	for c.PSW != exit {
		if h, ok := c.hooks[c.PSW]; ok {
			if err := c.invoke(h); err != nil {
				return err
			}
			continue
		}
		if c.Steps-start >= max {
			return ErrStepLimit
		}
		if err := c.Step(); err != nil {
			if it, ok := err.(*Interrupt); ok && c.OnInterrupt != nil && c.OnInterrupt(c, it) {
				continue
			}
			return err
		}
	}
	return nil
}

// Step 执行一条指令
func (c *CPU) Step() error {
	pc := c.PSW
	head, err := c.Mem.slice(pc, 2, AccessFetch)
	if err != nil {
		return c.fault(err, pc, 2)
	}
	n := platform.ILC(head[0])
	code, err := c.Mem.slice(pc, n, AccessFetch)
	if err != nil {
		return c.fault(err, pc, n)
	}
	in, err := platform.Decode(code)
	if err != nil {
		return &Interrupt{Kind: IntOperation, PC: pc, ILC: n}
	}
	fn, ok := dispatchTable[in.Op]
	if !ok {
		return &Interrupt{Kind: IntOperation, PC: pc, ILC: n}
	}
	if c.Trace != nil {
		c.Trace(pc, in)
	}

	c.pc, c.next = pc, pc+uint64(n)
	if err := fn(c, &in); err != nil {
		return c.fault(err, pc, n)
	}
	c.Steps++
	c.PSW = c.next
	return nil
}

func (c *CPU) fault(err error, pc uint64, n int) error {
	if it, ok := err.(*Interrupt); ok {
		it.PC, it.ILC = pc, n
	}
	return err
}

// ============================================================================
// 寄存器访问
// ============================================================================

// F64 读取双精度浮点寄存器
func (c *CPU) F64(r platform.FReg) float64 {
	return math.Float64frombits(c.FPR[r])
}

// SetF64 写入双精度浮点寄存器
func (c *CPU) SetF64(r platform.FReg, v float64) {
	c.FPR[r] = math.Float64bits(v)
}

// F32 读取单精度浮点寄存器（高 32 位）
func (c *CPU) F32(r platform.FReg) float32 {
	return math.Float32frombits(uint32(c.FPR[r] >> 32))
}

// SetF32 写入单精度浮点寄存器，低 32 位不变
func (c *CPU) SetF32(r platform.FReg, v float32) {
	c.FPR[r] = c.FPR[r]&0xFFFFFFFF | uint64(math.Float32bits(v))<<32
}

func (c *CPU) low(r uint8) uint32 { return uint32(c.GPR[r]) }

func (c *CPU) setLow(r uint8, v uint32) {
	c.GPR[r] = c.GPR[r]&^0xFFFFFFFF | uint64(v)
}

// reg 寻址用寄存器值，r0 表示 0
func (c *CPU) reg(r uint8) uint64 {
	if r == 0 {
		return 0
	}
	return c.GPR[r]
}

// addr 计算 D(X,B) 有效地址
func (c *CPU) addr(in *platform.Inst) uint64 {
	return c.reg(in.X2) + c.reg(in.B2) + uint64(in.D)
}

// shiftAmount RS/RSY 移位数为第二操作数地址的低 6 位
func (c *CPU) shiftAmount(in *platform.Inst) uint {
	return uint((c.reg(in.B2) + uint64(in.D)) & 63)
}

// branch 相对分支，I 以半字为单位
func (c *CPU) branch(halfwords int64) {
	c.next = c.pc + uint64(halfwords*2)
}

func (c *CPU) String() string {
	s := fmt.Sprintf("psw=%#x cc=%d\n", c.PSW, c.CC)
	for i := 0; i < 16; i += 4 {
		s += fmt.Sprintf("r%-2d %016x  r%-2d %016x  r%-2d %016x  r%-2d %016x\n",
			i, c.GPR[i], i+1, c.GPR[i+1], i+2, c.GPR[i+2], i+3, c.GPR[i+3])
	}
	return s
}
