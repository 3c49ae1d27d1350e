// patch.go - 补丁记录与解析
//
// 发射阶段无法确定的地址（方法入口、运行时符号、基本块、异常序列）
// 以占位符写入代码并记录一条补丁。最终基址确定后统一解析：
//
//	KindAbs64     IIHF/IILF 指令对的两个 32 位立即数，合成 64 位绝对地址
//	KindData64    8 字节数据槽（蹦床常量、IMT 目标）
//	KindRel16     RI 格式相对分支，立即数 = (目标 - 指令地址) / 2
//	KindRel32     RIL 格式相对分支/LARL，立即数同上
//	KindTableSlot 跳转表项，8 字节，值 = 目标 - 表起始地址
//
// 解析只依赖基址和目标地址，与补丁原值和解析顺序无关，
// 因而可重复执行（幂等）。

package codebuf

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/tangzhangming/novajit/internal/errors"
)

// Kind 补丁种类
type Kind int

const (
	KindNone Kind = iota
	KindAbs64
	KindData64
	KindRel16
	KindRel32
	KindTableSlot
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindAbs64:
		return "abs64"
	case KindData64:
		return "data64"
	case KindRel16:
		return "rel16"
	case KindRel32:
		return "rel32"
	case KindTableSlot:
		return "table"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Width 补丁覆盖的字节范围（相对 Offset）
func (k Kind) Width() int {
	switch k {
	case KindAbs64:
		return 12
	case KindData64, KindTableSlot:
		return 8
	case KindRel16:
		return 4
	case KindRel32:
		return 6
	}
	return 0
}

// TargetKind 补丁目标种类
type TargetKind int

const (
	TargetLabel      TargetKind = iota // 本缓冲区内的标签
	TargetMethod                       // 托管方法入口
	TargetSymbol                       // 运行时符号
	TargetAbs                          // 已知绝对地址
	TargetException                    // 按异常类共享的抛出序列，发射结束前转换为标签
	TargetRgctxFetch                   // rgctx 懒取蹦床
	TargetClassInit                    // 泛型类初始化蹦床
)

// Target 补丁目标
type Target struct {
	Kind    TargetKind
	Label   int
	Method  int
	Name    string
	Addr    uint64
	Payload uint64
}

func (t Target) String() string {
	switch t.Kind {
	case TargetLabel:
		return fmt.Sprintf("L%d", t.Label)
	case TargetMethod:
		return fmt.Sprintf("method#%d", t.Method)
	case TargetSymbol:
		return t.Name
	case TargetAbs:
		return fmt.Sprintf("%#x", t.Addr)
	case TargetException:
		return "exc:" + t.Name
	case TargetRgctxFetch:
		return fmt.Sprintf("rgctx_fetch[%d]", t.Payload)
	case TargetClassInit:
		return "generic_class_init"
	}
	return "?"
}

// Patch 补丁记录
type Patch struct {
	Offset int
	Kind   Kind
	Target Target
	// TableBase 跳转表起始偏移，仅 KindTableSlot 使用
	TableBase int
}

func (p Patch) String() string {
	return fmt.Sprintf("+%#x %s -> %s", p.Offset, p.Kind, p.Target)
}

// LabelTarget 构造标签目标
func LabelTarget(label int) Target {
	return Target{Kind: TargetLabel, Label: label}
}

// SymbolTarget 构造符号目标
func SymbolTarget(name string) Target {
	return Target{Kind: TargetSymbol, Name: name}
}

// AbsTarget 构造绝对地址目标
func AbsTarget(addr uint64) Target {
	return Target{Kind: TargetAbs, Addr: addr}
}

// ============================================================================
// 解析
// ============================================================================

// SymbolResolver 解析非标签目标
type SymbolResolver interface {
	ResolveTarget(t Target) (uint64, error)
}

// ResolverFunc 函数适配器
type ResolverFunc func(t Target) (uint64, error)

// ResolveTarget 实现 SymbolResolver
func (f ResolverFunc) ResolveTarget(t Target) (uint64, error) {
	return f(t)
}

// Resolve 以 base 为最终基址解析全部补丁
//
// 所有补丁都会尝试应用，错误合并后返回。
func Resolve(code []byte, base uint64, patches []Patch, labels map[int]int, syms SymbolResolver) error {
	rep := errors.NewReporter()
	for _, p := range patches {
		if p.Kind == KindNone {
			continue
		}
		target, err := targetAddr(base, p.Target, labels, syms)
		if err != nil {
			rep.Add(err)
			continue
		}
		rep.Add(Apply(code, base, p, target))
	}
	return rep.Err()
}

func targetAddr(base uint64, t Target, labels map[int]int, syms SymbolResolver) (uint64, error) {
	switch t.Kind {
	case TargetLabel:
		off, ok := labels[t.Label]
		if !ok {
			return 0, errors.Newf(errors.J3003, "label L%d", t.Label)
		}
		return base + uint64(off), nil
	case TargetAbs:
		return t.Addr, nil
	case TargetException:
		return 0, errors.Newf(errors.J3001, "exception sequence %q was never emitted", t.Name)
	}
	if syms == nil {
		return 0, errors.Newf(errors.J3001, "%s: no resolver", t)
	}
	addr, err := syms.ResolveTarget(t)
	if err != nil {
		return 0, errors.Wrap(errors.J3001, err, "%s", t)
	}
	return addr, nil
}

// Apply 把一条补丁写入 code（code[0] 位于 base）
func Apply(code []byte, base uint64, p Patch, target uint64) error {
	if p.Offset < 0 || p.Offset+p.Kind.Width() > len(code) {
		return errors.Newf(errors.J1004, "patch %s outside buffer of %d bytes", p, len(code))
	}
	site := base + uint64(p.Offset)
	switch p.Kind {
	case KindAbs64:
		binary.BigEndian.PutUint32(code[p.Offset+2:], uint32(target>>32))
		binary.BigEndian.PutUint32(code[p.Offset+8:], uint32(target))
	case KindData64:
		binary.BigEndian.PutUint64(code[p.Offset:], target)
	case KindRel16:
		disp, err := halfwords(site, target, math.MinInt16, math.MaxInt16)
		if err != nil {
			return err
		}
		binary.BigEndian.PutUint16(code[p.Offset+2:], uint16(int16(disp)))
	case KindRel32:
		disp, err := halfwords(site, target, math.MinInt32, math.MaxInt32)
		if err != nil {
			return err
		}
		binary.BigEndian.PutUint32(code[p.Offset+2:], uint32(int32(disp)))
	case KindTableSlot:
		tableStart := base + uint64(p.TableBase)
		binary.BigEndian.PutUint64(code[p.Offset:], target-tableStart)
	default:
		return errors.Newf(errors.J1004, "unknown patch kind %d", int(p.Kind))
	}
	return nil
}

func halfwords(site, target uint64, lo, hi int64) (int64, error) {
	delta := int64(target - site)
	if delta&1 != 0 {
		return 0, errors.Newf(errors.J3002, "odd branch displacement %d from %#x", delta, site)
	}
	disp := delta / 2
	if disp < lo || disp > hi {
		return 0, errors.Newf(errors.J3002, "displacement %d halfwords from %#x to %#x", disp, site, target)
	}
	return disp, nil
}

// Abs64Value 读出 IIHF/IILF 指令对中当前编码的 64 位值
func Abs64Value(code []byte, off int) uint64 {
	hi := binary.BigEndian.Uint32(code[off+2:])
	lo := binary.BigEndian.Uint32(code[off+8:])
	return uint64(hi)<<32 | uint64(lo)
}
