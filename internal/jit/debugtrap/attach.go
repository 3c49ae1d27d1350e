package debugtrap

import (
	"go.uber.org/zap"

	"github.com/tangzhangming/novajit/internal/jit/sim"
)

// Handler 陷入回调，ip 为故障指令地址
type Handler func(kind Kind, ip uint64)

// Attach 把触发页故障处理挂到模拟处理器上
//
// 触发页上的保护异常交给 h，然后越过故障指令继续执行；
// 其他中断交给原有处理函数。
func (t *Traps) Attach(cpu *sim.CPU, h Handler) {
	prev := cpu.OnInterrupt
	cpu.OnInterrupt = func(c *sim.CPU, it *sim.Interrupt) bool {
		if it.Kind == sim.IntProtection {
			if kind := t.Classify(it.Addr); kind != KindNone {
				if h != nil {
					h(kind, it.PC)
				}
				next, err := t.Skip(it.PC)
				if err != nil {
					t.logger.Warn("skip trap", zap.Uint64("ip", it.PC), zap.Error(err))
					return false
				}
				c.PSW = next
				return true
			}
		}
		return prev != nil && prev(c, it)
	}
}
