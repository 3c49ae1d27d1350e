// frame.go - 栈帧布局
//
// 偏移相对序言之后的 SP（即帧寄存器）自下而上分配：
//
//	0     .. 160        最小帧（给被调用者用）
//	160   .. ParamArea  出参区
//	      .. 参数主槽位（寄存器传入的参数落地于此）
//	      .. 局部变量（自然对齐）
//	      .. 寄存器分配溢出区
//	      .. rgctx / 序列点变量 / 帧记录
//	Alloc-FPSize .. Alloc  f8..f15 保存区
//
// 调用者栈上的参数不复制，通过 r12（入口 SP）直接寻址。

package abi

import (
	"fmt"
	"math/bits"
	"strings"

	"github.com/tangzhangming/novajit/internal/errors"
	"github.com/tangzhangming/novajit/internal/jit/platform"
	"github.com/tangzhangming/novajit/internal/jit/types"
)

// VarLoc 变量在帧中的位置
type VarLoc struct {
	Base   platform.Reg
	Offset int64
	Size   int
	// Indirect 槽位中保存的是值的地址
	Indirect bool
}

func (v VarLoc) String() string {
	s := fmt.Sprintf("%d(%s)", v.Offset, v.Base)
	if v.Indirect {
		s = "*" + s
	}
	return s
}

// Frame 一个方法的帧布局
type Frame struct {
	Info  *CallInfo
	Shape *FrameShape

	FrameReg platform.Reg
	// UseBackChain r12 保存入口 SP，用于访问调用者栈上的参数
	UseBackChain bool
	AllocSize    int
	// ParamArea 出参区结束位置
	ParamArea int

	Args   []VarLoc
	Locals []VarLoc
	Vret   VarLoc
	Cookie VarLoc

	SpillOffset int64
	// HandlerVars finally/fault/filter 块保存返回地址的槽位
	HandlerVars map[int]int64
	RgctxOffset int64
	SSVarOffset int64 // 单步触发页地址变量
	BPVarOffset int64 // 断点触发页地址变量
	LMFOffset   int64
}

// HasVar 偏移是否有效
func HasVar(off int64) bool { return off >= 0 }

// FPSaveOffset 浮点保存区相对新 SP 的偏移
func (f *Frame) FPSaveOffset() int64 {
	return int64(f.AllocSize - f.Shape.FPSize)
}

// SlotLoc 解析 IR 中的槽位引用
func (f *Frame) SlotLoc(s types.Slot) VarLoc {
	switch s.Kind {
	case types.SlotLocal:
		if s.Index >= 0 && s.Index < len(f.Locals) {
			return f.Locals[s.Index]
		}
	case types.SlotArg:
		if s.Index >= 0 && s.Index < len(f.Args) {
			return f.Args[s.Index]
		}
	}
	errors.Fatal(errors.J1005, "bad frame slot %+v", s)
	return VarLoc{}
}

// homeSize 寄存器参数落地槽位的大小
func homeSize(ai *ArgInfo) int {
	switch ai.Storage {
	case ArgStructByAddr, ArgStructByAddrOnStack:
		return PtrSize
	case ArgStructByVal:
		if ai.Size == 0 {
			return PtrSize
		}
	}
	return ai.Size
}

// Layout 为方法分配帧
func Layout(m *types.Method, ci *CallInfo) *Frame {
	f := &Frame{
		Info:        ci,
		FrameReg:    platform.SP,
		RgctxOffset: -1,
		SSVarOffset: -1,
		BPVarOffset: -1,
		LMFOffset:   -1,
	}
	if m.Has(types.FlagHasAlloca) || len(m.Clauses) > 0 {
		f.FrameReg = FrameReg
	}
	f.UseBackChain = ci.HasStackArgs()

	offset := MinimalStackSize + alignUp(m.ParamArea, StackAlign)
	f.ParamArea = offset

	slot := func(size, align int) int64 {
		if align < 1 {
			align = 1
		}
		if align > StackAlign {
			align = StackAlign
		}
		offset = alignUp(offset, align)
		at := offset
		offset += size
		return int64(at)
	}
	callerSlot := func(ai *ArgInfo) VarLoc {
		loc := VarLoc{Base: BackChainReg, Offset: int64(ai.Offset), Size: homeSize(ai), Indirect: ai.ByAddress()}
		// 小标量在 8 字节槽位中右对齐
		if !ai.ByAddress() && loc.Size < PtrSize {
			loc.Offset += int64(PtrSize - loc.Size)
		}
		return loc
	}
	home := func(ai *ArgInfo) VarLoc {
		if !ai.InReg() {
			return callerSlot(ai)
		}
		size := homeSize(ai)
		return VarLoc{Base: f.FrameReg, Offset: slot(size, size), Size: size, Indirect: ai.ByAddress()}
	}

	if ci.StructRet {
		f.Vret = home(&ci.Ret)
		f.Vret.Indirect = false
	}
	f.Args = make([]VarLoc, len(ci.Args))
	for i := range ci.Args {
		f.Args[i] = home(&ci.Args[i])
	}
	if ci.Variadic {
		f.Cookie = home(&ci.SigCookie)
	}

	f.Locals = make([]VarLoc, len(m.Locals))
	for i, l := range m.Locals {
		align := l.Align
		if align == 0 {
			align = l.Size
		}
		f.Locals[i] = VarLoc{Base: f.FrameReg, Offset: slot(l.Size, align), Size: l.Size}
	}

	f.SpillOffset = slot(alignUp(m.SpillArea, PtrSize), PtrSize)
	f.HandlerVars = make(map[int]int64)
	for _, c := range m.Clauses {
		if c.Kind == types.ClauseFinally || c.Kind == types.ClauseFault {
			f.HandlerVars[c.HandlerBlock] = slot(PtrSize, PtrSize)
		}
		if c.Kind == types.ClauseFilter {
			f.HandlerVars[c.FilterBlock] = slot(PtrSize, PtrSize)
		}
	}
	if m.Has(types.FlagNeedsRgctx) {
		f.RgctxOffset = slot(PtrSize, PtrSize)
	}
	if m.Has(types.FlagSeqPoints) {
		f.SSVarOffset = slot(PtrSize, PtrSize)
		f.BPVarOffset = slot(PtrSize, PtrSize)
	}
	if m.Has(types.FlagSaveLMF) {
		f.LMFOffset = slot(LMFSize, PtrSize)
	}

	fpSize := 8 * bits.OnesCount16(m.UsedFPRegs&0xFF00)
	total := alignUp(offset, StackAlign) + fpSize
	if m.Has(types.FlagTrace) && total < MinimalStackSize+TraceStackSize {
		total = MinimalStackSize + TraceStackSize
	}
	f.AllocSize = alignUp(total, StackAlign)
	f.Shape = NewFrameShape(m.UsedFPRegs, f.AllocSize, f.FrameReg, f.LMFOffset)
	return f
}

// Dump 帧布局的文本形式
func (f *Frame) Dump() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "frame: alloc=%d fp=%s backchain=%v param-area=%d\n",
		f.AllocSize, f.FrameReg, f.UseBackChain, f.ParamArea)
	for i, a := range f.Args {
		fmt.Fprintf(&sb, "  arg%-3d %-12s %s\n", i, a, &f.Info.Args[i])
	}
	for i, l := range f.Locals {
		fmt.Fprintf(&sb, "  local%-1d %s size=%d\n", i, l, l.Size)
	}
	if f.Info.StructRet {
		fmt.Fprintf(&sb, "  vret   %s\n", f.Vret)
	}
	if HasVar(f.LMFOffset) {
		fmt.Fprintf(&sb, "  lmf    %d\n", f.LMFOffset)
	}
	for _, r := range f.Shape.Saved {
		fmt.Fprintf(&sb, "  save   %s\n", r)
	}
	return sb.String()
}
