// buffer.go - 可增长的代码缓冲区
//
// 代码缓冲区只增不减。发射每条指令前调用 Reserve 保证剩余空间
// 不小于该指令声明的最坏情况长度；超过最大方法大小时返回资源耗尽错误。
//
// 多字节值一律按大端序写入（z/Architecture）。

package codebuf

import (
	"encoding/binary"

	"github.com/tangzhangming/novajit/internal/errors"
)

// DefaultMaxSize 默认的单方法最大代码大小
const DefaultMaxSize = 1 << 20

// Buffer 代码缓冲区
type Buffer struct {
	code    []byte      // 已发射的代码，len 即游标
	maxSize int         // 允许的最大大小
	labels  map[int]int // 标签 ID -> 代码偏移
	patches []Patch     // 待解析的补丁
}

// New 创建代码缓冲区
func New(initial, maxSize int) *Buffer {
	if initial <= 0 {
		initial = 256
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if initial > maxSize {
		initial = maxSize
	}
	return &Buffer{
		code:    make([]byte, 0, initial),
		maxSize: maxSize,
		labels:  make(map[int]int),
	}
}

// Len 当前游标位置
func (b *Buffer) Len() int { return len(b.code) }

// Cap 当前容量
func (b *Buffer) Cap() int { return cap(b.code) }

// MaxSize 最大允许大小
func (b *Buffer) MaxSize() int { return b.maxSize }

// Bytes 返回已发射的代码（与缓冲区共享存储）
func (b *Buffer) Bytes() []byte { return b.code }

// Reserve 保证至少还有 n 字节空间
func (b *Buffer) Reserve(n int) error {
	need := len(b.code) + n
	if need <= cap(b.code) {
		return nil
	}
	if need > b.maxSize {
		return errors.Newf(errors.J2001, "need %d bytes, limit %d", need, b.maxSize)
	}
	newCap := cap(b.code) * 2
	for newCap < need {
		newCap *= 2
	}
	if newCap > b.maxSize {
		newCap = b.maxSize
	}
	grown := make([]byte, len(b.code), newCap)
	copy(grown, b.code)
	b.code = grown
	return nil
}

// ============================================================================
// 写入
// ============================================================================

// Emit 追加字节
func (b *Buffer) Emit(bs ...byte) {
	b.code = append(b.code, bs...)
}

// EmitU16 追加大端 16 位值
func (b *Buffer) EmitU16(v uint16) {
	b.code = binary.BigEndian.AppendUint16(b.code, v)
}

// EmitU32 追加大端 32 位值
func (b *Buffer) EmitU32(v uint32) {
	b.code = binary.BigEndian.AppendUint32(b.code, v)
}

// EmitU64 追加大端 64 位值
func (b *Buffer) EmitU64(v uint64) {
	b.code = binary.BigEndian.AppendUint64(b.code, v)
}

// PutU8At 覆写单字节
func (b *Buffer) PutU8At(off int, v byte) {
	b.code[off] = v
}

// PutU16At 覆写 16 位值
func (b *Buffer) PutU16At(off int, v uint16) {
	binary.BigEndian.PutUint16(b.code[off:], v)
}

// PutU32At 覆写 32 位值
func (b *Buffer) PutU32At(off int, v uint32) {
	binary.BigEndian.PutUint32(b.code[off:], v)
}

// PutU64At 覆写 64 位值
func (b *Buffer) PutU64At(off int, v uint64) {
	binary.BigEndian.PutUint64(b.code[off:], v)
}

// Truncate 回退游标（仅用于丢弃试探性发射的片段）
func (b *Buffer) Truncate(n int) {
	b.code = b.code[:n]
}

// ============================================================================
// 标签与补丁
// ============================================================================

// Bind 把标签绑定到当前位置
func (b *Buffer) Bind(label int) {
	b.labels[label] = len(b.code)
}

// BindAt 把标签绑定到指定位置
func (b *Buffer) BindAt(label, off int) {
	b.labels[label] = off
}

// LabelOffset 查询标签偏移
func (b *Buffer) LabelOffset(label int) (int, bool) {
	off, ok := b.labels[label]
	return off, ok
}

// Labels 返回标签表
func (b *Buffer) Labels() map[int]int { return b.labels }

// AddPatch 记录补丁
func (b *Buffer) AddPatch(p Patch) {
	b.patches = append(b.patches, p)
}

// Patches 返回全部补丁记录
func (b *Buffer) Patches() []Patch { return b.patches }

// Append 追加一个片段，片段内补丁偏移按当前位置平移
func (b *Buffer) Append(f *Fragment) {
	base := len(b.code)
	b.code = append(b.code, f.Code...)
	for _, p := range f.Patches {
		p.Offset += base
		if p.Kind == KindTableSlot {
			p.TableBase += base
		}
		b.patches = append(b.patches, p)
	}
	for label, off := range f.Labels {
		b.labels[label] = base + off
	}
}

// Fragment 单条 IR 指令发射出的代码片段
type Fragment struct {
	Code    []byte
	Patches []Patch
	Labels  map[int]int
}

// Fragment 把整个缓冲区作为片段返回
func (b *Buffer) Fragment() *Fragment {
	return &Fragment{Code: b.code, Patches: b.patches, Labels: b.labels}
}
