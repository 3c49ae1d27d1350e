// calling_convention.go - s390x 调用约定分类
//
// 按声明顺序遍历参数，为每个参数分配寄存器或栈槽位：
// - 整数/指针/引用：r2..r6，用完后进入调用者栈上 160 开始的 8 字节槽位
// - 浮点：f0/f2/f4/f6，独立计数，用完后同样进入栈槽位
// - 结构体：大小为 0/1/2/4/8 时按整数值传递，其余按地址传递
// - 可变参数：在第一个可变参数之前插入签名 cookie
//
// 分类结果只依赖签名和策略，同一输入总是得到相同的 CallInfo。

package abi

import (
	"fmt"

	"github.com/tangzhangming/novajit/internal/errors"
	"github.com/tangzhangming/novajit/internal/jit/types"
)

// ============================================================================
// 存储类别
// ============================================================================

// ArgStorage 参数存储类别
type ArgStorage int

const (
	ArgNone                ArgStorage = iota // void 返回值
	ArgGeneral                               // 整数寄存器
	ArgBase                                  // 调用者栈槽位
	ArgFP                                    // 双精度浮点寄存器
	ArgFPR4                                  // 单精度浮点寄存器
	ArgStructByVal                           // 结构体值放在一个整数寄存器（或栈槽位）中
	ArgStructByAddr                          // 结构体地址放在整数寄存器中
	ArgStructByAddrOnStack                   // 结构体地址放在调用者栈槽位中
)

var argStorageNames = [...]string{
	ArgNone:                "none",
	ArgGeneral:             "general",
	ArgBase:                "base",
	ArgFP:                  "fp",
	ArgFPR4:                "fpr4",
	ArgStructByVal:         "struct-by-val",
	ArgStructByAddr:        "struct-by-addr",
	ArgStructByAddrOnStack: "struct-by-addr-on-stack",
}

func (s ArgStorage) String() string {
	if s >= 0 && int(s) < len(argStorageNames) {
		return argStorageNames[s]
	}
	return fmt.Sprintf("storage(%d)", int(s))
}

// ============================================================================
// 分类结果
// ============================================================================

// OnStack 表示参数不在寄存器中
const OnStack = -1

// ArgInfo 单个参数的位置
type ArgInfo struct {
	Storage ArgStorage
	// Reg 寄存器编号（整数或浮点寄存器），栈上传递时为 OnStack
	Reg int
	// Offset 相对调用者 SP 的栈槽位偏移（>= 160），仅在栈上时有效
	Offset int
	// Size 在寄存器/槽位中占用的大小
	Size int
	// VTSize 值类型的真实大小
	VTSize int
	Align  int
	Kind   types.TypeKind
	// ParmOffset 按地址传递的结构体副本在参数复制区中的偏移
	ParmOffset int
}

// InReg 是否通过寄存器传递
func (a *ArgInfo) InReg() bool {
	return a.Reg != OnStack
}

// IsFloat 是否占用浮点寄存器或浮点栈槽位
func (a *ArgInfo) IsFloat() bool {
	switch a.Storage {
	case ArgFP, ArgFPR4:
		return true
	case ArgBase:
		return a.Kind.IsFloat()
	}
	return false
}

// ByAddress 参数寄存器/槽位中保存的是结构体地址
func (a *ArgInfo) ByAddress() bool {
	return a.Storage == ArgStructByAddr || a.Storage == ArgStructByAddrOnStack
}

func (a *ArgInfo) String() string {
	loc := fmt.Sprintf("stack+%d", a.Offset)
	if a.InReg() {
		if a.Storage == ArgFP || a.Storage == ArgFPR4 {
			loc = fmt.Sprintf("%%f%d", a.Reg)
		} else {
			loc = fmt.Sprintf("%%r%d", a.Reg)
		}
	}
	return fmt.Sprintf("%-24s %-8s size=%d", a.Storage, loc, a.Size)
}

// Sizes 参数区大小汇总
type Sizes struct {
	// StackSize 调用者栈上参数占用的字节数（不含 160 字节最小帧）
	StackSize int
	// CodeSize 调用序列中参数搬运代码的估计长度
	CodeSize int
	// ParmSize 按地址传递的结构体副本总大小
	ParmSize int
	// RetStruct 通过地址返回的结构体大小
	RetStruct int
}

// CallInfo 一个签名的完整分类结果，创建后只读
type CallInfo struct {
	// Args 每个实参的位置，HasThis 时 Args[0] 为 this
	Args []ArgInfo
	Ret  ArgInfo
	// SigCookie 可变参数签名 cookie 的位置（Variadic 时有效）
	SigCookie ArgInfo
	Variadic  bool
	// StructRet 调用者通过隐藏参数传入返回值地址，地址位于 Ret.Reg/Ret.Offset
	StructRet bool
	// VretArgIndex 返回值地址在整数参数序列中的位置
	VretArgIndex int
	// LastGR 分类结束时下一个可用的整数参数寄存器
	LastGR int
	Sizes  Sizes
}

// HasStackArgs 是否有参数位于调用者栈上
func (c *CallInfo) HasStackArgs() bool {
	if c.Variadic && !c.SigCookie.InReg() {
		return true
	}
	if c.StructRet && !c.Ret.InReg() {
		return true
	}
	for i := range c.Args {
		if !c.Args[i].InReg() {
			return true
		}
	}
	return false
}

// UsesLastArgReg 是否有参数（含返回值地址和 cookie）经 r6 传入
func (c *CallInfo) UsesLastArgReg() bool {
	isR6 := func(ai *ArgInfo) bool {
		return ai.InReg() && !ai.IsFloat() && ai.Reg == int(LastArgReg)
	}
	if c.StructRet && isR6(&c.Ret) {
		return true
	}
	if c.Variadic && isR6(&c.SigCookie) {
		return true
	}
	for i := range c.Args {
		if isR6(&c.Args[i]) {
			return true
		}
	}
	return false
}

// StackEnd 栈参数区结束偏移（相对调用者 SP）
func (c *CallInfo) StackEnd() int {
	return MinimalStackSize + c.Sizes.StackSize
}

// ============================================================================
// 策略
// ============================================================================

// VarargsPolicy 可变参数 cookie 的放置策略
type VarargsPolicy int

const (
	// VarargsOnStack 在可变参数边界耗尽寄存器计数，cookie 与全部可变参数都在栈上
	VarargsOnStack VarargsPolicy = iota
	// VarargsCookieInNextSlot cookie 占用下一个整数槽位，可变参数继续分配寄存器
	VarargsCookieInNextSlot
)

func (p VarargsPolicy) String() string {
	if p == VarargsCookieInNextSlot {
		return "cookie-in-next-slot"
	}
	return "on-stack"
}

// ParseVarargsPolicy 解析配置中的策略名
func ParseVarargsPolicy(name string) (VarargsPolicy, bool) {
	switch name {
	case "", "on-stack":
		return VarargsOnStack, true
	case "cookie-in-next-slot":
		return VarargsCookieInNextSlot, true
	}
	return VarargsOnStack, false
}

// Policy ABI 边角情况的选择
type Policy struct {
	Varargs VarargsPolicy
	// VretAfterReceiver 没有 this 而第一个参数是引用类型时，返回值地址放在它之后
	// （经 calli 发起的虚调用）。有 this 时 this 总在 r2，不受此项影响。
	VretAfterReceiver bool
}

// DefaultPolicy 默认策略
func DefaultPolicy() Policy {
	return Policy{Varargs: VarargsOnStack, VretAfterReceiver: true}
}

// ============================================================================
// 分类器
// ============================================================================

type classifier struct {
	gr    int // 下一个整数参数寄存器
	fr    int // 下一个浮点参数寄存器
	sizes Sizes
}

func (c *classifier) stackSlot(ai *ArgInfo) {
	c.sizes.StackSize = alignUp(c.sizes.StackSize, PtrSize)
	ai.Reg = OnStack
	ai.Offset = MinimalStackSize + c.sizes.StackSize
	c.sizes.StackSize += PtrSize
}

// general 分配一个整数槽位
func (c *classifier) general(ai *ArgInfo, size int) {
	ai.Size = size
	if c.gr <= int(LastArgReg) {
		ai.Storage = ArgGeneral
		ai.Reg = c.gr
		c.sizes.CodeSize += 8
	} else {
		ai.Storage = ArgBase
		c.stackSlot(ai)
		c.sizes.CodeSize += 12
	}
	c.gr++
}

// float 分配一个浮点槽位
func (c *classifier) float(ai *ArgInfo, double bool) {
	ai.Size = 4
	if double {
		ai.Size = 8
	}
	if c.fr <= int(LastFPArgReg) {
		ai.Storage = ArgFPR4
		if double {
			ai.Storage = ArgFP
		}
		ai.Reg = c.fr
		c.fr += 2
	} else {
		ai.Storage = ArgBase
		c.stackSlot(ai)
	}
	c.sizes.CodeSize += 4
}

// byAddr 结构体按地址传递，副本大小计入 ParmSize
func (c *classifier) byAddr(ai *ArgInfo, size int) {
	ai.Size = PtrSize
	ai.VTSize = size
	if c.gr <= int(LastArgReg) {
		ai.Storage = ArgStructByAddr
		ai.Reg = c.gr
	} else {
		ai.Storage = ArgStructByAddrOnStack
		c.stackSlot(ai)
	}
	c.gr++
	ai.ParmOffset = c.sizes.ParmSize
	c.sizes.ParmSize += alignUp(size, PtrSize)
	c.sizes.CodeSize += 12
}

// exhaust 放弃剩余的参数寄存器
func (c *classifier) exhaust() {
	c.gr = int(LastArgReg) + 1
	c.fr = int(LastFPArgReg) + 2
}

// scalarSize 标量类型的大小，未知标签为致命错误
func scalarSize(k types.TypeKind) int {
	switch k {
	case types.TypeI1, types.TypeU1, types.TypeBool:
		return 1
	case types.TypeI2, types.TypeU2, types.TypeChar:
		return 2
	case types.TypeI4, types.TypeU4, types.TypeR4:
		return 4
	case types.TypeI8, types.TypeU8, types.TypeI, types.TypeU, types.TypePtr,
		types.TypeObject, types.TypeString, types.TypeArray, types.TypeByRef, types.TypeR8:
		return 8
	}
	errors.Fatal(errors.J1002, "unknown argument type tag %v", k)
	return 0
}

// regSizedStruct 能否装进一个整数寄存器
func regSizedStruct(size int) bool {
	switch size {
	case 0, 1, 2, 4, 8:
		return true
	}
	return false
}

func (c *classifier) param(ai *ArgInfo, p types.Param, pinvoke bool) {
	ai.Kind = p.Kind
	if !p.Kind.Valid() || p.Kind == types.TypeVoid {
		errors.Fatal(errors.J1002, "unknown argument type tag %v", p.Kind)
	}

	switch {
	case p.Kind == types.TypeTypedByRef:
		size := p.Size
		if size == 0 {
			size = TypedByRefSize
		}
		ai.Align = PtrSize
		c.byAddr(ai, size)

	case p.IsStruct():
		size := p.StructSize(pinvoke)
		ai.Align = p.Align
		ai.VTSize = size
		if !pinvoke && p.SingleFloat.IsFloat() {
			c.float(ai, p.SingleFloat == types.TypeR8)
			return
		}
		if regSizedStruct(size) {
			c.general(ai, size)
			ai.Storage = ArgStructByVal
			return
		}
		c.byAddr(ai, size)

	case p.Kind == types.TypeGenericInst:
		// 引用类型实例
		ai.Align = PtrSize
		c.general(ai, PtrSize)

	case p.Kind.IsFloat():
		ai.Align = scalarSize(p.Kind)
		c.float(ai, p.Kind == types.TypeR8)

	default:
		size := scalarSize(p.Kind)
		ai.Align = size
		c.general(ai, size)
	}
}

// classifyRet 返回值位置；需要隐藏地址参数时返回 true
func classifyRet(ret types.Param, pinvoke bool) (ArgInfo, bool) {
	ai := ArgInfo{Kind: ret.Kind, Reg: OnStack}
	if !ret.Kind.Valid() {
		errors.Fatal(errors.J1002, "unknown return type tag %v", ret.Kind)
	}
	switch {
	case ret.Kind == types.TypeVoid:
		ai.Storage = ArgNone
	case ret.Kind == types.TypeTypedByRef:
		size := ret.Size
		if size == 0 {
			size = TypedByRefSize
		}
		ai.Storage = ArgStructByAddr
		ai.Size, ai.VTSize = PtrSize, size
		return ai, true
	case ret.IsStruct():
		size := ret.StructSize(pinvoke)
		ai.VTSize = size
		if !pinvoke && ret.SingleFloat.IsFloat() {
			ai.Storage, ai.Reg, ai.Size = ArgFP, int(FReturnReg), 8
			if ret.SingleFloat == types.TypeR4 {
				ai.Storage, ai.Size = ArgFPR4, 4
			}
			return ai, false
		}
		if size != 0 && regSizedStruct(size) {
			ai.Storage, ai.Reg, ai.Size = ArgStructByVal, int(ReturnReg), size
			return ai, false
		}
		ai.Storage = ArgStructByAddr
		ai.Size = PtrSize
		return ai, true
	case ret.Kind == types.TypeR4:
		ai.Storage, ai.Reg, ai.Size = ArgFPR4, int(FReturnReg), 4
	case ret.Kind == types.TypeR8:
		ai.Storage, ai.Reg, ai.Size = ArgFP, int(FReturnReg), 8
	case ret.Kind == types.TypeGenericInst:
		ai.Storage, ai.Reg, ai.Size = ArgGeneral, int(ReturnReg), PtrSize
	default:
		ai.Storage, ai.Reg, ai.Size = ArgGeneral, int(ReturnReg), scalarSize(ret.Kind)
	}
	return ai, false
}

// Classify 对签名进行调用约定分类
func Classify(sig *types.Signature, policy Policy) *CallInfo {
	c := &classifier{gr: int(FirstArgReg), fr: int(FirstFPArgReg)}
	ci := &CallInfo{Variadic: sig.Variadic}

	ret, structRet := classifyRet(sig.Ret, sig.PInvoke)
	ci.StructRet = structRet
	if structRet {
		ci.Sizes.RetStruct = ret.VTSize
	}

	// this 总在 r2，返回值地址紧随其后；没有 this 时第一个引用类型参数按接收者对待
	vretLate := structRet && !sig.HasThis && policy.VretAfterReceiver && !sig.PInvoke &&
		len(sig.Params) > 0 && sig.Params[0].Kind.IsReference()

	placeVret := func() {
		size := ret.VTSize
		c.general(&ret, PtrSize)
		if ret.Storage == ArgGeneral {
			ret.Storage = ArgStructByAddr
		} else {
			ret.Storage = ArgStructByAddrOnStack
		}
		ret.VTSize = size
		ci.VretArgIndex = c.gr - int(FirstArgReg) - 1
	}
	if structRet && !sig.HasThis && !vretLate {
		placeVret()
	}

	cookie := func() {
		if policy.Varargs == VarargsOnStack {
			c.exhaust()
		}
		ci.SigCookie = ArgInfo{Kind: types.TypePtr, Align: PtrSize}
		c.general(&ci.SigCookie, PtrSize)
	}

	nargs := len(sig.Params)
	if sig.HasThis {
		nargs++
	}
	ci.Args = make([]ArgInfo, 0, nargs)

	if sig.HasThis {
		ai := ArgInfo{Kind: types.TypeObject, Align: PtrSize}
		c.general(&ai, PtrSize)
		ci.Args = append(ci.Args, ai)
		if structRet {
			placeVret()
		}
	}

	if sig.Variadic && len(sig.Params) == 0 {
		cookie()
	}

	for i, p := range sig.Params {
		if sig.Variadic && i == sig.SentinelPos {
			cookie()
		}
		var ai ArgInfo
		c.param(&ai, p, sig.PInvoke)
		ci.Args = append(ci.Args, ai)
		if i == 0 && vretLate {
			placeVret()
		}
	}

	if sig.Variadic && len(sig.Params) > 0 && sig.SentinelPos == len(sig.Params) {
		cookie()
	}

	ci.Ret = ret
	ci.LastGR = c.gr
	c.sizes.StackSize = alignUp(c.sizes.StackSize, StackAlign)
	ci.Sizes = c.sizes
	if structRet {
		ci.Sizes.RetStruct = ret.VTSize
	}
	return ci
}

func alignUp(v, align int) int {
	if align <= 1 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}

// ============================================================================
// 尾调用
// ============================================================================

// TailcallSupported 能否从 caller 尾调用 callee
//
// 被调用者的实参必须全部在寄存器中，栈参数区不超过调用者的。r6 既是参数
// 寄存器又是被调用者保存寄存器，拆帧时会被恢复，两边都不能用它传参。
func TailcallSupported(caller, callee *types.Signature, policy Policy) bool {
	from := Classify(caller, policy)
	to := Classify(callee, policy)
	if to.Sizes.StackSize > from.Sizes.StackSize {
		return false
	}
	if from.UsesLastArgReg() || to.UsesLastArgReg() || to.HasStackArgs() {
		return false
	}
	for i := range to.Args {
		ai := &to.Args[i]
		if ai.Storage == ArgStructByVal && !regSizedStruct(ai.VTSize) {
			return false
		}
	}
	return true
}
