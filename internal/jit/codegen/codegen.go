// Package codegen 把已完成寄存器分配的 IR 翻译为 s390x 机器码
//
// 发射流程：
//
//	序言 → 逐基本块逐指令发射 → 尾声 → 越界异常序列
//
// 每条 IR 指令先按操作码声明的最坏长度预留空间，再由所属族的发射函数
// 写入一个独立片段，片段追加到方法缓冲区时补丁和标签整体平移。
// 片段超过声明长度属于内部一致性错误。
//
// 寄存器约定：r0、r1、r13、r14 是发射器的临时寄存器，不会作为 IR 操作数；
// r11 在有帧寄存器时保留，r12 在需要访问调用者栈参数时保留。
package codegen

import (
	"github.com/tangzhangming/novajit/internal/errors"
	"github.com/tangzhangming/novajit/internal/jit/abi"
	"github.com/tangzhangming/novajit/internal/jit/codebuf"
	"github.com/tangzhangming/novajit/internal/jit/platform"
	"github.com/tangzhangming/novajit/internal/jit/types"
)

// ============================================================================
// 运行时符号
// ============================================================================

// 生成代码引用的运行时符号，由编译驱动解析
const (
	SymThrow         = "throw"
	SymRethrow       = "rethrow"
	SymThrowCorlib   = "throw_corlib"
	SymGetLMFAddr    = "get_lmf_addr"
	SymTraceEnter    = "trace_enter"
	SymTraceLeave    = "trace_leave"
	SymSSTriggerPage = "ss_trigger_page"
	SymBPTriggerPage = "bp_trigger_page"
)

// LabelEpilog 尾声标签
const LabelEpilog = -1

// ============================================================================
// 发射结果
// ============================================================================

// SeqPoint 序列点
type SeqPoint struct {
	ILOffset int
	// Offset 6 字节陷阱槽位的偏移
	Offset int
	// Probe 单步探针的偏移，-1 表示没有
	Probe int
}

// CallSite 绝对地址调用模板的位置
type CallSite struct {
	Offset int
	Target codebuf.Target
}

// ClauseRange 异常子句的代码范围
type ClauseRange struct {
	Kind       types.ClauseKind
	TryStart   int
	TryEnd     int
	Handler    int
	Filter     int
	CatchClass string
}

// Result 一个方法的发射结果（补丁尚未解析）
type Result struct {
	Code    []byte
	Patches []codebuf.Patch
	Labels  map[int]int
	Frame   *abi.Frame

	SeqPoints []SeqPoint
	CallSites []CallSite
	Clauses   []ClauseRange

	PrologLen    int
	EpilogOffset int
}

// Options 发射选项
type Options struct {
	InitialSize int
	MaxSize     int
}

// ============================================================================
// 发射器
// ============================================================================

// Emitter 单个方法的发射状态
type Emitter struct {
	m     *types.Method
	frame *abi.Frame
	buf   *codebuf.Buffer

	nextLabel int

	seqPoints []SeqPoint
	callSites []CallSite

	// 最近一次比较/算术设置条件码的方式
	lastCmpFloat bool
	lastSub      bool

	curBlock    int
	inLastBlock bool
}

// Emit 发射整个方法
func Emit(m *types.Method, frame *abi.Frame, opts Options) (*Result, error) {
	e := &Emitter{
		m:         m,
		frame:     frame,
		buf:       codebuf.New(opts.InitialSize, opts.MaxSize),
		nextLabel: LabelEpilog - 1,
	}

	if err := e.emitProlog(); err != nil {
		return nil, err
	}
	prologLen := e.buf.Len()

	for bi, b := range m.Blocks {
		e.buf.Bind(b.ID)
		e.curBlock = b.ID
		e.inLastBlock = bi == len(m.Blocks)-1
		for i, ins := range b.Insts {
			var next *types.Inst
			if i+1 < len(b.Insts) {
				next = b.Insts[i+1]
			}
			if err := e.emitInst(ins, next); err != nil {
				return nil, err
			}
		}
	}

	epilog := e.buf.Len()
	e.buf.Bind(LabelEpilog)
	if err := e.emitEpilog(); err != nil {
		return nil, err
	}
	if err := e.emitExceptions(); err != nil {
		return nil, err
	}

	return &Result{
		Code:         e.buf.Bytes(),
		Patches:      e.buf.Patches(),
		Labels:       e.buf.Labels(),
		Frame:        frame,
		SeqPoints:    e.seqPoints,
		CallSites:    e.callSites,
		Clauses:      e.clauseRanges(epilog),
		PrologLen:    prologLen,
		EpilogOffset: epilog,
	}, nil
}

// newLabel 分配内部标签（负数，不与基本块 ID 冲突）
func (e *Emitter) newLabel() int {
	l := e.nextLabel
	e.nextLabel--
	return l
}

// emitFunc 操作码族的发射函数
type emitFunc func(e *Emitter, a *platform.Assembler, ins, next *types.Inst)

var emitters = [...]emitFunc{
	types.FamilyMisc:     emitMisc,
	types.FamilyConst:    emitConst,
	types.FamilyMove:     emitMove,
	types.FamilyLoad:     emitLoad,
	types.FamilyStore:    emitStore,
	types.FamilyALU:      emitALU,
	types.FamilyALUImm:   emitALUImm,
	types.FamilyShift:    emitShift,
	types.FamilyOverflow: emitOverflow,
	types.FamilyConv:     emitConv,
	types.FamilyFloat:    emitFloat,
	types.FamilyCompare:  emitCompare,
	types.FamilySetCC:    emitSetCC,
	types.FamilyBranch:   emitBranch,
	types.FamilyCondExc:  emitCondExc,
	types.FamilyCall:     emitCall,
	types.FamilyEH:       emitEH,
}

// EmitFragment 把单条指令发射为独立片段，origin 为片段在方法中的位置
func (e *Emitter) EmitFragment(ins, next *types.Inst, origin int) *codebuf.Fragment {
	fam := ins.Op.Family()
	if fam < 0 || int(fam) >= len(emitters) || emitters[fam] == nil {
		errors.Fatal(errors.J1001, "unknown opcode %v", ins.Op)
	}
	max := MaxLen(ins)
	frag := codebuf.New(max, 0)
	a := platform.NewFragmentAssembler(frag, origin, e.buf.LabelOffset)
	emitters[fam](e, a, ins, next)
	if frag.Len() > max {
		errors.Fatal(errors.J1003, "%v emitted %d bytes, declared worst case %d", ins.Op, frag.Len(), max)
	}
	return frag.Fragment()
}

func (e *Emitter) emitInst(ins, next *types.Inst) error {
	if !ins.Op.Valid() {
		errors.Fatal(errors.J1001, "unknown opcode %v", ins.Op)
	}
	if err := e.buf.Reserve(MaxLen(ins)); err != nil {
		return err
	}
	e.buf.Append(e.EmitFragment(ins, next, e.buf.Len()))
	return nil
}

// clauseRanges 把按基本块表示的子句换算为代码偏移
func (e *Emitter) clauseRanges(bodyEnd int) []ClauseRange {
	at := func(block int) int {
		if off, ok := e.buf.LabelOffset(block); ok {
			return off
		}
		return bodyEnd
	}
	out := make([]ClauseRange, 0, len(e.m.Clauses))
	for _, c := range e.m.Clauses {
		cr := ClauseRange{
			Kind:       c.Kind,
			TryStart:   at(c.TryStart),
			TryEnd:     at(c.TryEnd),
			Handler:    at(c.HandlerBlock),
			Filter:     -1,
			CatchClass: c.CatchClass,
		}
		if c.Kind == types.ClauseFilter {
			cr.Filter = at(c.FilterBlock)
		}
		out = append(out, cr)
	}
	return out
}

// ============================================================================
// 操作数辅助
// ============================================================================

// gpr 把 IR 寄存器编号转换为通用寄存器
func gpr(r int) platform.Reg {
	if r < 0 || r > 15 {
		errors.Fatal(errors.J1005, "general register operand %d", r)
	}
	return platform.Reg(r)
}

// fpr 把 IR 寄存器编号转换为浮点寄存器
func fpr(r int) platform.FReg {
	if r < 0 || r > 15 {
		errors.Fatal(errors.J1005, "float register operand %d", r)
	}
	return platform.FReg(r)
}

// memAddr 解析内存操作数，间接槽位先把地址装入 r1
func (e *Emitter) memAddr(a *platform.Assembler, ins *types.Inst) (platform.Reg, int64) {
	if ins.Slot.Kind != types.SlotNone {
		loc := e.frame.SlotLoc(ins.Slot)
		if loc.Indirect {
			a.LG(platform.R1, loc.Base, loc.Offset)
			return platform.R1, ins.Offset
		}
		return loc.Base, loc.Offset + ins.Offset
	}
	return gpr(ins.Base), ins.Offset
}

// blockLabel 基本块标签，目标块不存在时为内部错误
func (e *Emitter) blockLabel(id int) int {
	if e.m.BlockByID(id) == nil {
		errors.Fatal(errors.J1005, "branch to unknown block B%d", id)
	}
	return id
}

// targetOf 把 IR 调用目标转换为补丁目标
func targetOf(t *types.CallTarget) codebuf.Target {
	if t == nil {
		errors.Fatal(errors.J1005, "call without target")
	}
	switch t.Kind {
	case types.CallMethod:
		return codebuf.Target{Kind: codebuf.TargetMethod, Method: t.Method}
	case types.CallSymbol:
		return codebuf.SymbolTarget(t.Name)
	case types.CallAbs:
		return codebuf.AbsTarget(t.Addr)
	case types.CallRgctxFetch:
		return codebuf.Target{Kind: codebuf.TargetRgctxFetch, Payload: t.Payload}
	case types.CallClassInit:
		return codebuf.Target{Kind: codebuf.TargetClassInit, Payload: t.Payload}
	}
	errors.Fatal(errors.J1005, "unknown call target kind %d", int(t.Kind))
	return codebuf.Target{}
}

// call 发射调用模板并记录调用点
func (e *Emitter) call(a *platform.Assembler, t codebuf.Target) {
	start := a.Call(t)
	e.callSites = append(e.callSites, CallSite{Offset: start, Target: t})
}
