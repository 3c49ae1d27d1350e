// emit_data.go - 常量、移动、加载/存储与类型转换

package codegen

import (
	"math"

	"github.com/tangzhangming/novajit/internal/jit/platform"
	"github.com/tangzhangming/novajit/internal/jit/types"
)

// ============================================================================
// 常量与移动
// ============================================================================

func emitConst(e *Emitter, a *platform.Assembler, ins, _ *types.Inst) {
	switch ins.Op {
	case types.OP_ICONST:
		a.LoadConst(gpr(ins.Dst), int64(int32(ins.Imm)))
	case types.OP_I8CONST:
		a.LoadConst(gpr(ins.Dst), ins.Imm)
	case types.OP_R8CONST:
		loadFloatBits(a, fpr(ins.Dst), math.Float64bits(ins.FImm))
	case types.OP_R4CONST:
		// 短浮点数占用寄存器的高 32 位
		loadFloatBits(a, fpr(ins.Dst), uint64(math.Float32bits(float32(ins.FImm)))<<32)
	case types.OP_ADDR_CONST:
		a.LoadAbs(gpr(ins.Dst), targetOf(ins.Call))
	}
}

// loadFloatBits 经 r0 把位模式装入浮点寄存器
func loadFloatBits(a *platform.Assembler, f platform.FReg, bits uint64) {
	if bits == 0 {
		a.RRE(platform.OpLZDR, uint8(f), 0)
		return
	}
	a.LoadConst(platform.R0, int64(bits))
	a.RRE(platform.OpLDGR, uint8(f), uint8(platform.R0))
}

func emitMove(e *Emitter, a *platform.Assembler, ins, _ *types.Inst) {
	switch ins.Op {
	case types.OP_MOVE:
		if ins.Dst != ins.Src1 {
			a.LGR(gpr(ins.Dst), gpr(ins.Src1))
		}
	case types.OP_FMOVE:
		if ins.Dst != ins.Src1 {
			a.LDR(fpr(ins.Dst), fpr(ins.Src1))
		}
	case types.OP_LDADDR:
		d := gpr(ins.Dst)
		loc := e.frame.SlotLoc(ins.Slot)
		if loc.Indirect {
			// 按地址传递的结构体：槽位里存的就是地址
			a.LG(d, loc.Base, loc.Offset)
			a.AddImm(d, ins.Offset)
			return
		}
		a.LA(d, loc.Base, loc.Offset+ins.Offset)
	}
}

// ============================================================================
// 加载/存储
// ============================================================================

func emitLoad(e *Emitter, a *platform.Assembler, ins, _ *types.Inst) {
	base, off := e.memAddr(a, ins)
	switch ins.Op {
	case types.OP_LOADI1_MEMBASE:
		a.LGB(gpr(ins.Dst), base, off)
	case types.OP_LOADU1_MEMBASE:
		a.LLGC(gpr(ins.Dst), base, off)
	case types.OP_LOADI2_MEMBASE:
		a.LGH(gpr(ins.Dst), base, off)
	case types.OP_LOADU2_MEMBASE:
		a.LLGH(gpr(ins.Dst), base, off)
	case types.OP_LOADI4_MEMBASE:
		a.LGF(gpr(ins.Dst), base, off)
	case types.OP_LOADU4_MEMBASE:
		a.LLGF(gpr(ins.Dst), base, off)
	case types.OP_LOADI8_MEMBASE:
		a.LG(gpr(ins.Dst), base, off)
	case types.OP_LOADR4_MEMBASE:
		a.LE(fpr(ins.Dst), base, off)
	case types.OP_LOADR8_MEMBASE:
		a.LD(fpr(ins.Dst), base, off)
	}
}

func emitStore(e *Emitter, a *platform.Assembler, ins, _ *types.Inst) {
	src := platform.R0
	switch ins.Op {
	case types.OP_STOREI4_MEMBASE_IMM, types.OP_STOREI8_MEMBASE_IMM:
		a.LoadConst(platform.R0, ins.Imm)
	case types.OP_STORER4_MEMBASE_REG, types.OP_STORER8_MEMBASE_REG:
	default:
		src = gpr(ins.Src1)
	}
	base, off := e.memAddr(a, ins)
	switch ins.Op {
	case types.OP_STOREI1_MEMBASE_REG:
		a.STC(src, base, off)
	case types.OP_STOREI2_MEMBASE_REG:
		a.STH(src, base, off)
	case types.OP_STOREI4_MEMBASE_REG, types.OP_STOREI4_MEMBASE_IMM:
		a.ST(src, base, off)
	case types.OP_STOREI8_MEMBASE_REG, types.OP_STOREI8_MEMBASE_IMM:
		a.STG(src, base, off)
	case types.OP_STORER4_MEMBASE_REG:
		a.STE(fpr(ins.Src1), base, off)
	case types.OP_STORER8_MEMBASE_REG:
		a.STD(fpr(ins.Src1), base, off)
	}
}

// ============================================================================
// 类型转换
// ============================================================================

// 浮点转整数使用向零舍入
const roundTowardZero = 5

func emitConv(e *Emitter, a *platform.Assembler, ins, _ *types.Inst) {
	d, s := uint8(ins.Dst), uint8(ins.Src1)
	switch ins.Op {
	case types.OP_ICONV_TO_I1:
		a.RRE(platform.OpLGBR, d, s)
	case types.OP_ICONV_TO_U1:
		a.RRE(platform.OpLLGCR, d, s)
	case types.OP_ICONV_TO_I2:
		a.RRE(platform.OpLGHR, d, s)
	case types.OP_ICONV_TO_U2:
		a.RRE(platform.OpLLGHR, d, s)
	case types.OP_SEXT_I4:
		a.RRE(platform.OpLGFR, d, s)
	case types.OP_ZEXT_I4:
		a.RRE(platform.OpLLGFR, d, s)
	case types.OP_LCONV_TO_R8:
		a.RRE(platform.OpCDGBR, d, s)
	case types.OP_ICONV_TO_R8:
		a.RRE(platform.OpCDFBR, d, s)
	case types.OP_FCONV_TO_I8:
		a.RRF(platform.OpCGDBR, d, roundTowardZero, s)
	case types.OP_FCONV_TO_I4:
		a.RRF(platform.OpCFDBR, d, roundTowardZero, s)
		a.RRE(platform.OpLGFR, d, d)
	case types.OP_RCONV_TO_R8:
		a.RRE(platform.OpLDEBR, d, s)
	case types.OP_FCONV_TO_R4:
		a.RRE(platform.OpLEDBR, d, s)
	}
}
