// memory.go - 模拟器地址空间
//
// 地址空间由若干互不重叠的区域组成，每个区域有独立的保护属性。
// 访问未映射地址或违反保护属性时产生程序中断，中断地址即访问地址。
// 多字节值按大端序存取。

package sim

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"github.com/tangzhangming/novajit/internal/errors"
)

// ============================================================================
// 保护属性
// ============================================================================

// Prot 区域保护属性
type Prot uint8

const (
	ProtNone  Prot = 0
	ProtRead  Prot = 1 << 0
	ProtWrite Prot = 1 << 1
	ProtExec  Prot = 1 << 2

	ProtRW  = ProtRead | ProtWrite
	ProtRX  = ProtRead | ProtExec
	ProtRWX = ProtRead | ProtWrite | ProtExec
)

func (p Prot) String() string {
	b := []byte("---")
	if p&ProtRead != 0 {
		b[0] = 'r'
	}
	if p&ProtWrite != 0 {
		b[1] = 'w'
	}
	if p&ProtExec != 0 {
		b[2] = 'x'
	}
	return string(b)
}

// Access 访问类型
type Access uint8

const (
	AccessRead Access = iota
	AccessWrite
	AccessFetch
)

func (a Access) String() string {
	switch a {
	case AccessRead:
		return "read"
	case AccessWrite:
		return "write"
	case AccessFetch:
		return "fetch"
	}
	return "?"
}

func (a Access) needs() Prot {
	switch a {
	case AccessWrite:
		return ProtWrite
	case AccessFetch:
		return ProtExec
	}
	return ProtRead
}

// ============================================================================
// 区域
// ============================================================================

// Region 一段映射的内存
type Region struct {
	Base uint64
	Data []byte
	Prot Prot
	Name string
}

// End 区域结束地址（不含）
func (r *Region) End() uint64 { return r.Base + uint64(len(r.Data)) }

func (r *Region) contains(addr uint64, n int) bool {
	return addr >= r.Base && addr+uint64(n) <= r.End() && addr+uint64(n) >= addr
}

// Memory 模拟器地址空间
type Memory struct {
	mu      sync.RWMutex
	regions []*Region // 按 Base 升序
}

// NewMemory 创建空地址空间
func NewMemory() *Memory {
	return &Memory{}
}

// Map 映射一段清零的内存，返回的 Data 与模拟器共享存储
func (m *Memory) Map(base uint64, size int, prot Prot, name string) (*Region, error) {
	if size <= 0 {
		return nil, errors.Newf(errors.J2002, "map %s: size %d", name, size)
	}
	r := &Region{Base: base, Data: make([]byte, size), Prot: prot, Name: name}
	if r.End() < base {
		return nil, errors.Newf(errors.J2002, "map %s: %#x+%#x wraps", name, base, size)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	i := sort.Search(len(m.regions), func(i int) bool { return m.regions[i].Base >= base })
	if i > 0 && m.regions[i-1].End() > base {
		return nil, errors.Newf(errors.J2002, "map %s: overlaps %s", name, m.regions[i-1].Name)
	}
	if i < len(m.regions) && m.regions[i].Base < r.End() {
		return nil, errors.Newf(errors.J2002, "map %s: overlaps %s", name, m.regions[i].Name)
	}
	m.regions = append(m.regions, nil)
	copy(m.regions[i+1:], m.regions[i:])
	m.regions[i] = r
	return r, nil
}

// Unmap 取消映射以 base 开始的区域
func (m *Memory) Unmap(base uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.regions {
		if r.Base == base {
			m.regions = append(m.regions[:i], m.regions[i+1:]...)
			return nil
		}
	}
	return errors.Newf(errors.J2004, "unmap %#x: not mapped", base)
}

// Protect 修改以 base 开始的区域的保护属性
func (m *Memory) Protect(base uint64, prot Prot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.regions {
		if r.Base == base {
			r.Prot = prot
			return nil
		}
	}
	return errors.Newf(errors.J2004, "protect %#x: not mapped", base)
}

// Lookup 查找包含 addr 的区域
func (m *Memory) Lookup(addr uint64) *Region {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lookup(addr)
}

func (m *Memory) lookup(addr uint64) *Region {
	i := sort.Search(len(m.regions), func(i int) bool { return m.regions[i].End() > addr })
	if i < len(m.regions) && m.regions[i].Base <= addr {
		return m.regions[i]
	}
	return nil
}

// Regions 当前全部区域的快照
func (m *Memory) Regions() []Region {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Region, len(m.regions))
	for i, r := range m.regions {
		out[i] = *r
	}
	return out
}

// ============================================================================
// 访问
// ============================================================================

// slice 返回 [addr, addr+n) 的存储，检查映射与保护属性
//
// 中断地址是第一个不可访问的字节。访问不能跨越区域，越过区域末尾时按
// 末尾之后的地址报告。保护属性在读锁内读取，Protect 可与执行并发。
func (m *Memory) slice(addr uint64, n int, acc Access) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r := m.lookup(addr)
	if r == nil {
		return nil, &Interrupt{Kind: IntAddressing, Addr: addr, Access: acc}
	}
	if r.Prot&acc.needs() == 0 {
		return nil, &Interrupt{Kind: IntProtection, Addr: addr, Access: acc}
	}
	if !r.contains(addr, n) {
		end := r.End()
		if next := m.lookup(end); next != nil && next.Prot&acc.needs() == 0 {
			return nil, &Interrupt{Kind: IntProtection, Addr: end, Access: acc}
		}
		return nil, &Interrupt{Kind: IntAddressing, Addr: end, Access: acc}
	}
	off := addr - r.Base
	return r.Data[off : off+uint64(n)], nil
}

// Read 读取 n 字节（复制）
func (m *Memory) Read(addr uint64, n int) ([]byte, error) {
	b, err := m.slice(addr, n, AccessRead)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), b...), nil
}

// Write 写入字节
func (m *Memory) Write(addr uint64, data []byte) error {
	b, err := m.slice(addr, len(data), AccessWrite)
	if err != nil {
		return err
	}
	copy(b, data)
	return nil
}

// Poke 忽略保护属性写入，用于装载代码和打补丁
func (m *Memory) Poke(addr uint64, data []byte) error {
	m.mu.RLock()
	r := m.lookup(addr)
	m.mu.RUnlock()
	if r == nil || !r.contains(addr, len(data)) {
		return &Interrupt{Kind: IntAddressing, Addr: addr, Access: AccessWrite}
	}
	copy(r.Data[addr-r.Base:], data)
	return nil
}

// Peek 忽略保护属性读取
func (m *Memory) Peek(addr uint64, n int) ([]byte, error) {
	m.mu.RLock()
	r := m.lookup(addr)
	m.mu.RUnlock()
	if r == nil || !r.contains(addr, n) {
		return nil, &Interrupt{Kind: IntAddressing, Addr: addr, Access: AccessRead}
	}
	off := addr - r.Base
	return append([]byte(nil), r.Data[off:off+uint64(n)]...), nil
}

// ReadU8 读取单字节
func (m *Memory) ReadU8(addr uint64) (uint8, error) {
	b, err := m.slice(addr, 1, AccessRead)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadU16 读取 16 位值
func (m *Memory) ReadU16(addr uint64) (uint16, error) {
	b, err := m.slice(addr, 2, AccessRead)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

// ReadU32 读取 32 位值
func (m *Memory) ReadU32(addr uint64) (uint32, error) {
	b, err := m.slice(addr, 4, AccessRead)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// ReadU64 读取 64 位值
func (m *Memory) ReadU64(addr uint64) (uint64, error) {
	b, err := m.slice(addr, 8, AccessRead)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// WriteU8 写入单字节
func (m *Memory) WriteU8(addr uint64, v uint8) error {
	b, err := m.slice(addr, 1, AccessWrite)
	if err != nil {
		return err
	}
	b[0] = v
	return nil
}

// WriteU16 写入 16 位值
func (m *Memory) WriteU16(addr uint64, v uint16) error {
	b, err := m.slice(addr, 2, AccessWrite)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint16(b, v)
	return nil
}

// WriteU32 写入 32 位值
func (m *Memory) WriteU32(addr uint64, v uint32) error {
	b, err := m.slice(addr, 4, AccessWrite)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint32(b, v)
	return nil
}

// WriteU64 写入 64 位值
func (m *Memory) WriteU64(addr uint64, v uint64) error {
	b, err := m.slice(addr, 8, AccessWrite)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint64(b, v)
	return nil
}

// ============================================================================
// 程序中断
// ============================================================================

// InterruptKind 程序中断种类
type InterruptKind int

const (
	IntAddressing    InterruptKind = iota + 1 // 访问未映射地址
	IntProtection                             // 违反保护属性
	IntOperation                              // 未知指令
	IntFixedDivide                            // 定点除法除零或商溢出
	IntSpecification                          // 寄存器对编号为奇数等
)

func (k InterruptKind) String() string {
	switch k {
	case IntAddressing:
		return "addressing"
	case IntProtection:
		return "protection"
	case IntOperation:
		return "operation"
	case IntFixedDivide:
		return "fixed-point divide"
	case IntSpecification:
		return "specification"
	}
	return "?"
}

// Interrupt 程序中断
//
// PSW 停在引起中断的指令上，ILC 为该指令长度。
type Interrupt struct {
	Kind   InterruptKind
	Addr   uint64 // 访问地址（存储类中断）
	Access Access
	PC     uint64
	ILC    int
}

func (it *Interrupt) Error() string {
	switch it.Kind {
	case IntAddressing, IntProtection:
		return fmt.Sprintf("%s exception at %#x: %s of %#x", it.Kind, it.PC, it.Access, it.Addr)
	}
	return fmt.Sprintf("%s exception at %#x", it.Kind, it.PC)
}
