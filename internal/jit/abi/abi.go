// Package abi 实现 s390x ELF ABI 的调用约定分类与栈帧布局
//
// s390x 栈帧约定：
//
//	调用者 SP+0     back chain（调用者的调用者 SP）
//	调用者 SP+48    r6..r15 保存区（由被调用者写入）
//	调用者 SP+160   栈上传递的参数（8 字节槽位，小标量右对齐）
//
// 被调用者在入口保存 r6..r15 到调用者帧的保存区，然后下移 SP，
// 新帧的前 160 字节同样是给下一级被调用者使用的最小帧。
package abi

import "github.com/tangzhangming/novajit/internal/jit/platform"

// ============================================================================
// 帧常量
// ============================================================================

const (
	// PtrSize 指针大小
	PtrSize = 8
	// StackAlign 栈对齐
	StackAlign = 8
	// MinimalStackSize 最小栈帧（back chain + 寄存器保存区 + 保留区）
	MinimalStackSize = 160
	// RegSaveOffset r6..r15 保存区在帧内的偏移
	RegSaveOffset = 48
	// TraceStackSize 方法进出跟踪需要的额外临时区
	TraceStackSize = 72
	// TypedByRefSize TypedReference 的默认大小
	TypedByRefSize = 24
)

// ============================================================================
// 寄存器角色
// ============================================================================

const (
	// FirstArgReg / LastArgReg 整数参数寄存器 r2..r6
	FirstArgReg = platform.R2
	LastArgReg  = platform.R6
	// FirstFPArgReg / LastFPArgReg 浮点参数寄存器 f0, f2, f4, f6
	FirstFPArgReg = platform.F0
	LastFPArgReg  = platform.F6

	// ReturnReg 整数返回值
	ReturnReg = platform.R2
	// FReturnReg 浮点返回值
	FReturnReg = platform.F0

	// FrameReg 有 localloc 或异常子句时的帧寄存器
	FrameReg = platform.R11
	// BackChainReg 参数在调用者栈上时保存入口 SP
	BackChainReg = platform.R12
	// LinkReg 返回地址
	LinkReg = platform.R14

	// IMTReg 接口调用时携带 IMT 键
	IMTReg = platform.R9
	// RgctxReg 泛型共享代码的上下文参数
	RgctxReg = platform.R0
	// VTableReg 虚调用时对象所在寄存器
	VTableReg = platform.R2
)

// ArgGRegs 整数参数寄存器列表
var ArgGRegs = []platform.Reg{platform.R2, platform.R3, platform.R4, platform.R5, platform.R6}

// ArgFRegs 浮点参数寄存器列表
var ArgFRegs = []platform.FReg{platform.F0, platform.F2, platform.F4, platform.F6}

// ============================================================================
// 帧记录（LMF）布局
// ============================================================================

// 帧记录内各字段的偏移
const (
	LMFPrevious = 0
	LMFAddr     = 8  // 指向线程块中链表头的指针
	LMFMethod   = 16 // 方法标识
	LMFSP       = 24
	LMFIP       = 32
	LMFPRegs    = 40              // r2..r6 参数寄存器
	LMFGRegs    = LMFPRegs + 5*8  // r0..r15
	LMFFRegs    = LMFGRegs + 16*8 // f0..f15
	LMFSize     = LMFFRegs + 16*8 // 336
	LMFNumPRegs = 5
)
