// pages.go - 触发页
//
// 序列点通过读取触发页来陷入调试器：页不可读时读取产生保护异常，
// 异常地址即触发页地址。断点页永远不可读；单步页只在单步期间不可读。

package debugtrap

import (
	"github.com/tangzhangming/novajit/internal/errors"
	"github.com/tangzhangming/novajit/internal/jit/sim"
)

// PageProvider 分配触发页并切换其可读性
type PageProvider interface {
	// Alloc 分配一页，初始不可读
	Alloc(name string) (uint64, error)
	// SetReadable 切换页的可读性
	SetReadable(addr uint64, readable bool) error
	// PageSize 页大小
	PageSize() int
	// Close 释放全部触发页
	Close() error
}

// ============================================================================
// 模拟器触发页
// ============================================================================

// DefaultSimPageBase 模拟触发页默认起始地址
const DefaultSimPageBase uint64 = 0x7E00_0000

const simPageSize = 4096

// SimPages 映射在模拟内存中的触发页
type SimPages struct {
	mem   *sim.Memory
	next  uint64
	pages []uint64
}

// NewSimPages 在 mem 中从 base 开始分配触发页
func NewSimPages(mem *sim.Memory, base uint64) *SimPages {
	return &SimPages{mem: mem, next: base}
}

func (p *SimPages) Alloc(name string) (uint64, error) {
	addr := p.next
	if _, err := p.mem.Map(addr, simPageSize, sim.ProtNone, name); err != nil {
		return 0, errors.Wrap(errors.J2003, err, "map trigger page %s", name)
	}
	p.next += simPageSize
	p.pages = append(p.pages, addr)
	return addr, nil
}

func (p *SimPages) SetReadable(addr uint64, readable bool) error {
	prot := sim.ProtNone
	if readable {
		prot = sim.ProtRead
	}
	return p.mem.Protect(addr, prot)
}

func (p *SimPages) PageSize() int { return simPageSize }

func (p *SimPages) Close() error {
	rep := errors.NewReporter()
	for _, addr := range p.pages {
		rep.Add(p.mem.Unmap(addr))
	}
	p.pages = nil
	return rep.Err()
}
