package types

import "fmt"

// ============================================================================
// IR 指令
// ============================================================================

// NoReg 未使用的寄存器操作数
const NoReg = -1

// SlotKind 帧槽位种类
type SlotKind int

const (
	SlotNone  SlotKind = iota // 使用 Base 寄存器寻址
	SlotLocal                 // 局部变量，Index 为 Method.Locals 下标
	SlotArg                   // 参数，Index 为 CallInfo.Args 下标
)

// Slot 帧内槽位引用，由帧布局解析为 帧寄存器+偏移
type Slot struct {
	Kind  SlotKind
	Index int
}

// CallKind 调用目标种类
type CallKind int

const (
	CallMethod     CallKind = iota // 托管方法（已编译或懒编译蹦床）
	CallSymbol                     // 运行时符号
	CallAbs                        // 绝对地址
	CallRgctxFetch                 // rgctx 懒取槽位，Payload 为槽位编号
	CallClassInit                  // 泛型类初始化蹦床
)

// CallTarget 调用/地址常量的目标
type CallTarget struct {
	Kind    CallKind
	Method  int
	Name    string
	Addr    uint64
	Payload uint64
}

func (t CallTarget) String() string {
	switch t.Kind {
	case CallMethod:
		return fmt.Sprintf("method#%d", t.Method)
	case CallSymbol:
		return t.Name
	case CallAbs:
		return fmt.Sprintf("%#x", t.Addr)
	case CallRgctxFetch:
		return fmt.Sprintf("rgctx_fetch[%d]", t.Payload)
	case CallClassInit:
		return "generic_class_init"
	}
	return "?"
}

// Inst 一条 IR 指令
type Inst struct {
	Op Opcode

	Dst  int
	Src1 int
	Src2 int

	// 内存操作数
	Base   int
	Offset int64
	Slot   Slot

	Imm  int64
	FImm float64

	// 控制流
	Target  int   // 目标基本块 ID
	Targets []int // OP_SWITCH 跳转表

	// 调用与异常
	Call      *CallTarget
	Exception string // OP_COND_EXC_* 抛出的异常类名
	ILOffset  int    // OP_SEQ_POINT
}

// NewInst 创建所有寄存器字段为 NoReg 的指令
func NewInst(op Opcode) *Inst {
	return &Inst{Op: op, Dst: NoReg, Src1: NoReg, Src2: NoReg, Base: NoReg, Target: -1}
}

func (i *Inst) String() string {
	s := i.Op.String()
	if i.Dst != NoReg {
		s += fmt.Sprintf(" d=%d", i.Dst)
	}
	if i.Src1 != NoReg {
		s += fmt.Sprintf(" s1=%d", i.Src1)
	}
	if i.Src2 != NoReg {
		s += fmt.Sprintf(" s2=%d", i.Src2)
	}
	if i.Base != NoReg || i.Slot.Kind != SlotNone {
		s += fmt.Sprintf(" [b=%d+%d slot=%v]", i.Base, i.Offset, i.Slot)
	}
	if i.Imm != 0 {
		s += fmt.Sprintf(" imm=%d", i.Imm)
	}
	if i.Target >= 0 {
		s += fmt.Sprintf(" ->B%d", i.Target)
	}
	if i.Call != nil {
		s += " " + i.Call.String()
	}
	if i.Exception != "" {
		s += " " + i.Exception
	}
	return s
}

// Block 基本块
type Block struct {
	ID    int
	Insts []*Inst
}

// ============================================================================
// 方法描述
// ============================================================================

// Local 局部变量
type Local struct {
	Name  string
	Size  int
	Align int
}

// ClauseKind 异常子句种类
type ClauseKind int

const (
	ClauseCatch ClauseKind = iota
	ClauseFilter
	ClauseFinally
	ClauseFault
)

func (k ClauseKind) String() string {
	switch k {
	case ClauseCatch:
		return "catch"
	case ClauseFilter:
		return "filter"
	case ClauseFinally:
		return "finally"
	case ClauseFault:
		return "fault"
	}
	return "?"
}

// Clause 异常子句，范围以基本块 ID 表示（TryEnd 不含）
type Clause struct {
	Kind         ClauseKind
	TryStart     int
	TryEnd       int
	HandlerBlock int
	FilterBlock  int
	CatchClass   string // 空串表示捕获全部
}

// MethodFlags 影响帧布局的方法标志
type MethodFlags uint32

const (
	FlagHasAlloca   MethodFlags = 1 << iota // 使用 localloc
	FlagSaveLMF                             // 需要压入帧记录（托管到原生转换）
	FlagSeqPoints                           // 生成调试序列点
	FlagNeedsRgctx                          // 通过 RGCTX 寄存器接收泛型上下文
	FlagTrace                               // 方法进入/退出跟踪
	FlagSingleStep                          // 序列点包含单步探针
)

// Method 一个待编译方法
type Method struct {
	ID      int
	Name    string
	Sig     *Signature
	Blocks  []*Block
	Locals  []Local
	Clauses []Clause
	Flags   MethodFlags

	// UsedFPRegs 使用到的被调用者保存浮点寄存器位图（bit n 对应 f n）
	UsedFPRegs uint16
	// ParamArea 出参区大小（不含 160 字节最小帧）
	ParamArea int
	// SpillArea 寄存器分配器溢出区大小
	SpillArea int
}

// Has 是否设置了标志
func (m *Method) Has(f MethodFlags) bool {
	return m.Flags&f != 0
}

// BlockByID 按 ID 查找基本块
func (m *Method) BlockByID(id int) *Block {
	for _, b := range m.Blocks {
		if b.ID == id {
			return b
		}
	}
	return nil
}

// HandlerBlocks 返回作为 finally/filter 入口的基本块集合
func (m *Method) HandlerBlocks() map[int]ClauseKind {
	out := make(map[int]ClauseKind)
	for _, c := range m.Clauses {
		out[c.HandlerBlock] = c.Kind
		if c.Kind == ClauseFilter {
			out[c.FilterBlock] = ClauseFilter
		}
	}
	return out
}
