// Package unwind 实现栈回溯与托管异常分发
//
// 抛出桩把全部寄存器与调用者地址保存为栈上的 Context，然后调用分发回调。
// 分发器用帧形状逐帧回溯已编译方法，遇到非托管帧时借助帧记录（LMF）
// 链表跳回托管代码；找到处理块后执行沿途的 finally，再经恢复桩跳到处理块。
package unwind

import (
	"fmt"

	"github.com/tangzhangming/novajit/internal/jit/abi"
	"github.com/tangzhangming/novajit/internal/jit/platform"
)

// Memory 回溯时访问目标内存的接口（sim.Memory 实现该接口）
type Memory interface {
	ReadU64(addr uint64) (uint64, error)
	WriteU64(addr uint64, v uint64) error
}

// ============================================================================
// 执行上下文
// ============================================================================

// Context 内存布局
const (
	CtxGRegs = 0
	CtxFRegs = CtxGRegs + 16*8
	CtxIP    = CtxFRegs + 16*8
	CtxSize  = CtxIP + 8
)

// Context 执行上下文，SP 即 r15
type Context struct {
	GPR [16]uint64
	FPR [16]uint64
	IP  uint64
}

// SP 栈指针
func (c *Context) SP() uint64 { return c.GPR[platform.SP] }

// IntReg 读取整数寄存器
func (c *Context) IntReg(r platform.Reg) uint64 { return c.GPR[r] }

// SetIntReg 设置整数寄存器
func (c *Context) SetIntReg(r platform.Reg, v uint64) { c.GPR[r] = v }

// ThisArg 调用点上的 this。接收者总在第一个整数参数寄存器。
func (c *Context) ThisArg() uint64 { return c.GPR[abi.FirstArgReg] }

// IMTMethod 接口调用点上的 IMT 键
func (c *Context) IMTMethod() uint64 { return c.GPR[abi.IMTReg] }

// LoadContext 从 addr 读取上下文
func LoadContext(mem Memory, addr uint64) (Context, error) {
	var c Context
	var err error
	for i := range c.GPR {
		if c.GPR[i], err = mem.ReadU64(addr + CtxGRegs + uint64(8*i)); err != nil {
			return c, err
		}
	}
	for i := range c.FPR {
		if c.FPR[i], err = mem.ReadU64(addr + CtxFRegs + uint64(8*i)); err != nil {
			return c, err
		}
	}
	c.IP, err = mem.ReadU64(addr + CtxIP)
	return c, err
}

// Store 把上下文写入 addr
func (c *Context) Store(mem Memory, addr uint64) error {
	for i, v := range c.GPR {
		if err := mem.WriteU64(addr+CtxGRegs+uint64(8*i), v); err != nil {
			return err
		}
	}
	for i, v := range c.FPR {
		if err := mem.WriteU64(addr+CtxFRegs+uint64(8*i), v); err != nil {
			return err
		}
	}
	return mem.WriteU64(addr+CtxIP, c.IP)
}

func (c *Context) String() string {
	return fmt.Sprintf("ip=%#x sp=%#x r11=%#x r14=%#x", c.IP, c.SP(), c.GPR[11], c.GPR[14])
}
