// Package codecache 管理已发布机器码所在的可执行代码区
//
// 代码区是一块区域上的单调递增分配器：方法体、蹦床、IMT 桩都从同一块
// 区域按对齐分配，分配后不再回收。游标以 CAS 推进，多个编译线程可以
// 并发分配而无需加锁。
package codecache

import (
	"encoding/binary"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/tangzhangming/novajit/internal/errors"
	"github.com/tangzhangming/novajit/internal/jit/platform"
)

// DefaultAlign 方法入口对齐
const DefaultAlign = 8

// Arena 可执行代码区
type Arena struct {
	region Region
	logger *zap.Logger

	cursor *atomic.Uint64
	allocs *atomic.Int64

	closeOnce sync.Once
	closeErr  error
}

// Option 代码区选项
type Option func(*Arena)

// WithLogger 设置日志记录器
func WithLogger(l *zap.Logger) Option {
	return func(a *Arena) { a.logger = l }
}

// New 在 region 上创建代码区
func New(region Region, opts ...Option) *Arena {
	a := &Arena{
		region: region,
		logger: zap.NewNop(),
		cursor: atomic.NewUint64(0),
		allocs: atomic.NewInt64(0),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Region 底层区域
func (a *Arena) Region() Region { return a.region }

// Base 代码区起始地址
func (a *Arena) Base() uint64 { return a.region.Base() }

// Size 代码区容量
func (a *Arena) Size() int { return a.region.Size() }

// Used 已分配字节数
func (a *Arena) Used() int { return int(a.cursor.Load()) }

// Allocations 分配次数
func (a *Arena) Allocations() int64 { return a.allocs.Load() }

// Contains 地址是否落在已分配范围内
func (a *Arena) Contains(addr uint64) bool {
	base := a.region.Base()
	return addr >= base && addr < base+a.cursor.Load()
}

// Alloc 分配 size 字节，起始地址按 align 对齐
func (a *Arena) Alloc(size, align int) (uint64, error) {
	if align <= 0 {
		align = DefaultAlign
	}
	if align&(align-1) != 0 {
		errors.Fatal(errors.J1005, "alignment %d is not a power of two", align)
	}
	base := a.region.Base()
	limit := uint64(a.region.Size())
	for {
		cur := a.cursor.Load()
		start := (base+cur+uint64(align-1))&^uint64(align-1) - base
		end := start + uint64(size)
		if end > limit {
			return 0, errors.Newf(errors.J2002, "arena full: need %d bytes, %d of %d used", size, cur, limit)
		}
		if a.cursor.CAS(cur, end) {
			a.allocs.Inc()
			return base + start, nil
		}
	}
}

// Write 向已分配的地址写入
func (a *Arena) Write(addr uint64, p []byte) error {
	off, err := a.offset(addr, len(p))
	if err != nil {
		return err
	}
	return a.region.WriteAt(p, off)
}

// Read 读取代码区内容
func (a *Arena) Read(addr uint64, n int) ([]byte, error) {
	off, err := a.offset(addr, n)
	if err != nil {
		return nil, err
	}
	p := make([]byte, n)
	if err := a.region.ReadAt(p, off); err != nil {
		return nil, err
	}
	return p, nil
}

func (a *Arena) offset(addr uint64, n int) (int, error) {
	base := a.region.Base()
	if addr < base || addr+uint64(n) > base+a.cursor.Load() {
		return 0, errors.Newf(errors.J1004, "address %#x (+%d) outside allocated arena", addr, n)
	}
	return int(addr - base), nil
}

// Publish 分配并写入一段已重定位的代码
//
// 只适用于位置无关的代码；含补丁的代码先 Alloc，按返回地址解析后再 Write。
func (a *Arena) Publish(code []byte, align int) (uint64, error) {
	addr, err := a.Alloc(len(code), align)
	if err != nil {
		return 0, err
	}
	if err := a.Write(addr, code); err != nil {
		return 0, err
	}
	a.logger.Debug("publish code",
		zap.Uint64("addr", addr),
		zap.Int("size", len(code)))
	return addr, nil
}

// ============================================================================
// 调用点改写
// ============================================================================

// PatchWord 原地写入一个对齐的 32 位字
func (a *Arena) PatchWord(addr uint64, v uint32) error {
	if addr&3 != 0 {
		return errors.Newf(errors.J1004, "unaligned word patch at %#x", addr)
	}
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return a.Write(addr, b[:])
}

// PatchCallSite 把已发布的调用模板改写为调用 target
//
// 模板起始 4 字节对齐，IILF 的立即数是一个对齐字，以单字写入。
// 代码区内的目标高 32 位通常与原值相同，此时执行中的线程总能看到
// 旧目标或新目标之一；高字不同时先写高字再写低字。
func (a *Arena) PatchCallSite(site, target uint64) error {
	code, err := a.Read(site, platform.CallTemplateLen)
	if err != nil {
		return err
	}
	if site&3 != 0 || !platform.IsCallTemplate(code, 0) {
		return errors.Newf(errors.J1004, "no call template at %#x", site)
	}
	hi, lo := uint32(target>>32), uint32(target)
	if binary.BigEndian.Uint32(code[2:]) != hi {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], hi)
		if err := a.Write(site+2, b[:]); err != nil {
			return err
		}
	}
	if err := a.PatchWord(site+8, lo); err != nil {
		return err
	}
	a.logger.Debug("patch call site",
		zap.Uint64("site", site),
		zap.Uint64("target", target))
	return nil
}

// Close 释放代码区，可重复调用
func (a *Arena) Close() error {
	a.closeOnce.Do(func() {
		a.closeErr = multierr.Append(a.closeErr, a.region.Close())
	})
	return a.closeErr
}
