// region.go - 可执行内存区域
//
// 代码区建立在一块连续的可执行内存上。区域有两种实现：
//   - 本机区域：mmap/VirtualAlloc 分配的 RWX 内存，生成的代码可以直接执行
//   - 模拟区域：映射在 sim.Memory 中，由模拟器取指执行
//
// 写入通过 WriteAt 完成，区域负责处理保护属性。

package codecache

import (
	"github.com/tangzhangming/novajit/internal/errors"
	"github.com/tangzhangming/novajit/internal/jit/sim"
)

// Region 可执行内存区域
type Region interface {
	// Base 区域起始地址
	Base() uint64
	// Size 区域字节数
	Size() int
	// WriteAt 在区域内偏移 off 处写入
	WriteAt(p []byte, off int) error
	// ReadAt 从区域内偏移 off 处读取
	ReadAt(p []byte, off int) error
	// Close 释放区域
	Close() error
}

func checkRange(r Region, off, n int) error {
	if off < 0 || n < 0 || off+n > r.Size() {
		return errors.Newf(errors.J1004, "access [%#x,+%d) outside region of %d bytes", off, n, r.Size())
	}
	return nil
}

// ============================================================================
// 模拟区域
// ============================================================================

// DefaultSimBase 模拟代码区默认起始地址
const DefaultSimBase uint64 = 0x1000_0000

// SimRegion 映射在模拟器内存中的代码区
type SimRegion struct {
	mem    *sim.Memory
	region *sim.Region
}

// NewSimRegion 在 mem 中映射一块只读可执行区域
func NewSimRegion(mem *sim.Memory, base uint64, size int) (*SimRegion, error) {
	r, err := mem.Map(base, size, sim.ProtRX, "code")
	if err != nil {
		return nil, errors.Wrap(errors.J2002, err, "map simulated code region")
	}
	return &SimRegion{mem: mem, region: r}, nil
}

// Memory 所属的模拟内存
func (r *SimRegion) Memory() *sim.Memory { return r.mem }

func (r *SimRegion) Base() uint64 { return r.region.Base }

func (r *SimRegion) Size() int { return len(r.region.Data) }

func (r *SimRegion) WriteAt(p []byte, off int) error {
	if err := checkRange(r, off, len(p)); err != nil {
		return err
	}
	return r.mem.Poke(r.Base()+uint64(off), p)
}

func (r *SimRegion) ReadAt(p []byte, off int) error {
	if err := checkRange(r, off, len(p)); err != nil {
		return err
	}
	b, err := r.mem.Peek(r.Base()+uint64(off), len(p))
	if err != nil {
		return err
	}
	copy(p, b)
	return nil
}

func (r *SimRegion) Close() error {
	return r.mem.Unmap(r.Base())
}
