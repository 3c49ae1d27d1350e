// s390x.go - z/Architecture 寄存器与条件码
//
// z/Architecture 有 16 个 64 位通用寄存器和 16 个浮点寄存器。
// 比较/算术指令设置 2 位条件码 CC，分支指令用 4 位掩码选择条件：
//
//	掩码位  8    4    2    1
//	CC     0    1    2    3
//
// 寄存器 0 作为基址或变址时表示“无寄存器”，因此不能用于寻址；
// BCR/BASR 的 R2 为 0 时不发生分支。

package platform

import "fmt"

// ============================================================================
// 寄存器定义
// ============================================================================

// Reg 通用寄存器
type Reg uint8

const (
	R0 Reg = iota
	R1
	R2
	R3
	R4
	R5
	R6
	R7
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

// SP 栈指针
const SP = R15

// IndexScratch 长位移寻址时装载位移的变址寄存器
const IndexScratch = R13

func (r Reg) String() string {
	if r > R15 {
		return fmt.Sprintf("%%r?%d", uint8(r))
	}
	return fmt.Sprintf("%%r%d", uint8(r))
}

// FReg 浮点寄存器
type FReg uint8

const (
	F0 FReg = iota
	F1
	F2
	F3
	F4
	F5
	F6
	F7
	F8
	F9
	F10
	F11
	F12
	F13
	F14
	F15
)

func (r FReg) String() string {
	return fmt.Sprintf("%%f%d", uint8(r))
}

// ============================================================================
// 条件码掩码
// ============================================================================

// Cond 分支条件掩码
type Cond uint8

const (
	CondNever   Cond = 0x0
	CondOV      Cond = 0x1 // CC3：有符号溢出 / 浮点无序 / TM 全 1
	CondGT      Cond = 0x2 // CC2
	CondCarry   Cond = 0x3 // CC2|CC3：逻辑加有进位
	CondLT      Cond = 0x4 // CC1
	CondNE      Cond = 0x7 // CC1|CC2|CC3
	CondEQ      Cond = 0x8 // CC0
	CondGE      Cond = 0xA // CC0|CC2
	CondLE      Cond = 0xC // CC0|CC1
	CondNoCarry Cond = 0xC // CC0|CC1：逻辑加无进位 / 逻辑减有借位
	CondNO      Cond = 0xE // 非溢出
	CondAlways  Cond = 0xF

	// 浮点比较：CC3 表示无序
	CondUnordered Cond = 0x1
	// TM 结果
	CondZeros Cond = 0x8 // 选中位全 0
	CondOnes  Cond = 0x1 // 选中位全 1
)

// Invert 取反条件
func (c Cond) Invert() Cond {
	return c ^ 0xF
}

// Taken 给定条件码时分支是否成立
func (c Cond) Taken(cc uint8) bool {
	return (uint8(c)>>(3-cc))&1 == 1
}

// ILC 由首字节计算指令长度（00→2，01/10→4，11→6）
func ILC(first byte) int {
	switch first >> 6 {
	case 0:
		return 2
	case 3:
		return 6
	}
	return 4
}
