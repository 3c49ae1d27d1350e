// s390x_asm.go - z/Architecture 汇编器
//
// 汇编器直接写入 codebuf.Buffer。分支和地址常量在目标未知时写入
// 固定宽度占位符并登记补丁，由 codebuf.Resolve 统一回填。
//
// 汇编器可以带一个 origin：当它只负责生成某条 IR 指令的片段时，
// Pos() 返回的是片段在整个方法中的位置，用于对齐和短分支判断。

package platform

import (
	"math"

	"github.com/tangzhangming/novajit/internal/errors"
	"github.com/tangzhangming/novajit/internal/jit/codebuf"
)

// ============================================================================
// 汇编器
// ============================================================================

// Assembler s390x 汇编器
type Assembler struct {
	buf    *codebuf.Buffer
	origin int
	// labelAt 查询外层缓冲区的标签（片段模式）
	labelAt func(label int) (int, bool)
}

// NewAssembler 创建汇编器
func NewAssembler(buf *codebuf.Buffer) *Assembler {
	return &Assembler{buf: buf}
}

// NewFragmentAssembler 创建片段汇编器，origin 为片段在方法中的起始偏移
func NewFragmentAssembler(buf *codebuf.Buffer, origin int, labelAt func(int) (int, bool)) *Assembler {
	return &Assembler{buf: buf, origin: origin, labelAt: labelAt}
}

// Buffer 底层缓冲区
func (a *Assembler) Buffer() *codebuf.Buffer { return a.buf }

// Pos 当前位置（相对方法起始）
func (a *Assembler) Pos() int { return a.origin + a.buf.Len() }

// Label 绑定标签到当前位置
func (a *Assembler) Label(id int) { a.buf.Bind(id) }

func (a *Assembler) lookupLabel(id int) (int, bool) {
	if off, ok := a.buf.LabelOffset(id); ok {
		return a.origin + off, true
	}
	if a.labelAt != nil {
		return a.labelAt(id)
	}
	return 0, false
}

// patch 登记补丁，off 为相对底层缓冲区的偏移
func (a *Assembler) patch(off int, kind codebuf.Kind, t codebuf.Target) {
	a.buf.AddPatch(codebuf.Patch{Offset: off, Kind: kind, Target: t})
}

// ============================================================================
// 格式编码
// ============================================================================

func checkReg(r uint8) {
	if r > 15 {
		errors.Fatal(errors.J1005, "register %d out of range", r)
	}
}

// RR 2 字节寄存器-寄存器
func (a *Assembler) RR(op Op, r1, r2 uint8) {
	checkReg(r1)
	checkReg(r2)
	a.buf.Emit(byte(op.Code), r1<<4|r2)
}

// RRE 4 字节寄存器-寄存器
func (a *Assembler) RRE(op Op, r1, r2 uint8) {
	checkReg(r1)
	checkReg(r2)
	a.buf.EmitU16(op.Code)
	a.buf.Emit(0, r1<<4|r2)
}

// RRF 带 M3 字段的寄存器-寄存器
func (a *Assembler) RRF(op Op, r1, m3, r2 uint8) {
	checkReg(r1)
	checkReg(r2)
	a.buf.EmitU16(op.Code)
	a.buf.Emit(m3<<4, r1<<4|r2)
}

// RX 12 位无符号位移
func (a *Assembler) RX(op Op, r1, x2, b2 uint8, d int64) {
	if d < 0 || d > 0xFFF {
		errors.Fatal(errors.J1005, "%s displacement %d out of 12-bit range", op.Name, d)
	}
	a.buf.Emit(byte(op.Code), r1<<4|x2, b2<<4|byte(d>>8), byte(d))
}

// RXY 20 位有符号位移
func (a *Assembler) RXY(op Op, r1, x2, b2 uint8, d int64) {
	if !FitsDisp20(d) {
		errors.Fatal(errors.J1005, "%s displacement %d out of 20-bit range", op.Name, d)
	}
	dl := d & 0xFFF
	dh := (d >> 12) & 0xFF
	a.buf.Emit(byte(op.Code>>8), r1<<4|x2, b2<<4|byte(dl>>8), byte(dl), byte(dh), byte(op.Code))
}

// RS 寄存器-存储（移位、STM/LM）
func (a *Assembler) RS(op Op, r1, r3, b2 uint8, d int64) {
	if d < 0 || d > 0xFFF {
		errors.Fatal(errors.J1005, "%s displacement %d out of 12-bit range", op.Name, d)
	}
	a.buf.Emit(byte(op.Code), r1<<4|r3, b2<<4|byte(d>>8), byte(d))
}

// RSY 20 位位移的寄存器-存储
func (a *Assembler) RSY(op Op, r1, r3, b2 uint8, d int64) {
	if !FitsDisp20(d) {
		errors.Fatal(errors.J1005, "%s displacement %d out of 20-bit range", op.Name, d)
	}
	dl := d & 0xFFF
	dh := (d >> 12) & 0xFF
	a.buf.Emit(byte(op.Code>>8), r1<<4|r3, b2<<4|byte(dl>>8), byte(dl), byte(dh), byte(op.Code))
}

// RI 16 位立即数
func (a *Assembler) RI(op Op, r1 uint8, imm uint16) {
	a.buf.Emit(byte(op.Code>>8), r1<<4|byte(op.Code&0xF))
	a.buf.EmitU16(imm)
}

// RIL 32 位立即数
func (a *Assembler) RIL(op Op, r1 uint8, imm uint32) {
	a.buf.Emit(byte(op.Code>>8), r1<<4|byte(op.Code&0xF))
	a.buf.EmitU32(imm)
}

// SI 存储-立即数
func (a *Assembler) SI(op Op, imm byte, b1 uint8, d int64) {
	if d < 0 || d > 0xFFF {
		errors.Fatal(errors.J1005, "%s displacement %d out of 12-bit range", op.Name, d)
	}
	a.buf.Emit(byte(op.Code), imm, b1<<4|byte(d>>8), byte(d))
}

// ============================================================================
// 立即数范围
// ============================================================================

// FitsInt16 是否为 16 位有符号数
func FitsInt16(v int64) bool { return v >= math.MinInt16 && v <= math.MaxInt16 }

// FitsInt32 是否为 32 位有符号数
func FitsInt32(v int64) bool { return v >= math.MinInt32 && v <= math.MaxInt32 }

// FitsDisp12 是否可以用 12 位无符号位移
func FitsDisp12(v int64) bool { return v >= 0 && v <= 0xFFF }

// FitsDisp20 是否可以用 20 位有符号位移
func FitsDisp20(v int64) bool { return v >= -(1<<19) && v < 1<<19 }

// ============================================================================
// 寄存器指令
// ============================================================================

// LGR r1 = r2
func (a *Assembler) LGR(r1, r2 Reg) { a.RRE(OpLGR, uint8(r1), uint8(r2)) }

// LTGR r1 = r2 并设置条件码
func (a *Assembler) LTGR(r1, r2 Reg) { a.RRE(OpLTGR, uint8(r1), uint8(r2)) }

// AGR r1 += r2
func (a *Assembler) AGR(r1, r2 Reg) { a.RRE(OpAGR, uint8(r1), uint8(r2)) }

// SGR r1 -= r2
func (a *Assembler) SGR(r1, r2 Reg) { a.RRE(OpSGR, uint8(r1), uint8(r2)) }

// CGR 64 位有符号比较
func (a *Assembler) CGR(r1, r2 Reg) { a.RRE(OpCGR, uint8(r1), uint8(r2)) }

// CLGR 64 位逻辑比较
func (a *Assembler) CLGR(r1, r2 Reg) { a.RRE(OpCLGR, uint8(r1), uint8(r2)) }

// LDR 浮点寄存器复制
func (a *Assembler) LDR(f1, f2 FReg) { a.RR(OpLDR, uint8(f1), uint8(f2)) }

// BASR 寄存器调用：r1 = 返回地址，跳转到 r2
func (a *Assembler) BASR(r1, r2 Reg) { a.RR(OpBASR, uint8(r1), uint8(r2)) }

// BCR 条件寄存器分支
func (a *Assembler) BCR(mask Cond, r Reg) { a.RR(OpBCR, uint8(mask), uint8(r)) }

// BR 无条件寄存器分支
func (a *Assembler) BR(r Reg) { a.BCR(CondAlways, r) }

// NOPR 2 字节空操作
func (a *Assembler) NOPR() { a.BCR(CondNever, R0) }

// ============================================================================
// 立即数指令
// ============================================================================

// LGHI r = sign-extend(imm16)
func (a *Assembler) LGHI(r Reg, imm int16) { a.RI(OpLGHI, uint8(r), uint16(imm)) }

// AGHI r += imm16
func (a *Assembler) AGHI(r Reg, imm int16) { a.RI(OpAGHI, uint8(r), uint16(imm)) }

// CGHI 与 16 位立即数比较
func (a *Assembler) CGHI(r Reg, imm int16) { a.RI(OpCGHI, uint8(r), uint16(imm)) }

// LGFI r = sign-extend(imm32)
func (a *Assembler) LGFI(r Reg, imm int32) { a.RIL(OpLGFI, uint8(r), uint32(imm)) }

// AGFI r += imm32
func (a *Assembler) AGFI(r Reg, imm int32) { a.RIL(OpAGFI, uint8(r), uint32(imm)) }

// IIHF 插入高 32 位
func (a *Assembler) IIHF(r Reg, imm uint32) { a.RIL(OpIIHF, uint8(r), imm) }

// IILF 插入低 32 位
func (a *Assembler) IILF(r Reg, imm uint32) { a.RIL(OpIILF, uint8(r), imm) }

// LoadConst 以最短编码把 64 位常量装入寄存器（最长 12 字节）
func (a *Assembler) LoadConst(r Reg, v int64) {
	switch {
	case FitsInt16(v):
		a.LGHI(r, int16(v))
	case FitsInt32(v):
		a.LGFI(r, int32(v))
	case v >= 0 && v <= math.MaxUint32:
		a.RIL(OpLLILF, uint8(r), uint32(v))
	case uint64(v)&0xFFFFFFFF == 0:
		a.RIL(OpLLIHF, uint8(r), uint32(uint64(v)>>32))
	default:
		a.IIHF(r, uint32(uint64(v)>>32))
		a.IILF(r, uint32(v))
	}
}

// AddImm r += v，按大小选择 AGHI/AGFI/装载后相加
func (a *Assembler) AddImm(r Reg, v int64) {
	switch {
	case v == 0:
	case FitsInt16(v):
		a.AGHI(r, int16(v))
	case FitsInt32(v):
		a.AGFI(r, int32(v))
	default:
		a.LoadConst(IndexScratch, v)
		a.AGR(r, IndexScratch)
	}
}

// LoadAbs 装载 64 位地址占位符并登记绝对补丁（固定 12 字节）
func (a *Assembler) LoadAbs(r Reg, t codebuf.Target) {
	off := a.buf.Len()
	a.IIHF(r, 0)
	a.IILF(r, 0)
	a.patch(off, codebuf.KindAbs64, t)
}

// LoadAbsValue 装载已知 64 位地址（固定 12 字节，便于原地改写）
func (a *Assembler) LoadAbsValue(r Reg, v uint64) {
	a.IIHF(r, uint32(v>>32))
	a.IILF(r, uint32(v))
}

// ============================================================================
// 存储访问（自动选择最短编码）
// ============================================================================

// memOp 按位移选择 RX / RXY / 变址寄存器形式
func (a *Assembler) memOp(short, long Op, r uint8, base Reg, d int64) {
	if base == IndexScratch && !FitsDisp20(d) {
		errors.Fatal(errors.J1005, "%s: base register %s conflicts with long displacement scratch", long.Name, base)
	}
	switch {
	case short.Valid() && FitsDisp12(d):
		a.RX(short, r, 0, uint8(base), d)
	case FitsDisp20(d):
		a.RXY(long, r, 0, uint8(base), d)
	default:
		a.LoadConst(IndexScratch, d)
		if short.Valid() {
			a.RX(short, r, uint8(IndexScratch), uint8(base), 0)
		} else {
			a.RXY(long, r, uint8(IndexScratch), uint8(base), 0)
		}
	}
}

// MemMaxLen 存储访问指令的最长编码
const MemMaxLen = 12 + 6

// LG 64 位加载
func (a *Assembler) LG(r, base Reg, d int64) { a.memOp(Op{}, OpLG, uint8(r), base, d) }

// STG 64 位存储
func (a *Assembler) STG(r, base Reg, d int64) { a.memOp(Op{}, OpSTG, uint8(r), base, d) }

// LTG 64 位加载并测试
func (a *Assembler) LTG(r, base Reg, d int64) { a.memOp(Op{}, OpLTG, uint8(r), base, d) }

// LGF 32 位有符号加载
func (a *Assembler) LGF(r, base Reg, d int64) { a.memOp(Op{}, OpLGF, uint8(r), base, d) }

// LLGF 32 位无符号加载
func (a *Assembler) LLGF(r, base Reg, d int64) { a.memOp(Op{}, OpLLGF, uint8(r), base, d) }

// LGH 16 位有符号加载
func (a *Assembler) LGH(r, base Reg, d int64) { a.memOp(Op{}, OpLGH, uint8(r), base, d) }

// LLGH 16 位无符号加载
func (a *Assembler) LLGH(r, base Reg, d int64) { a.memOp(Op{}, OpLLGH, uint8(r), base, d) }

// LGB 8 位有符号加载
func (a *Assembler) LGB(r, base Reg, d int64) { a.memOp(Op{}, OpLGB, uint8(r), base, d) }

// LLGC 8 位无符号加载
func (a *Assembler) LLGC(r, base Reg, d int64) { a.memOp(Op{}, OpLLGC, uint8(r), base, d) }

// ST 32 位存储
func (a *Assembler) ST(r, base Reg, d int64) { a.memOp(OpST, OpSTY, uint8(r), base, d) }

// STH 16 位存储
func (a *Assembler) STH(r, base Reg, d int64) { a.memOp(OpSTH, OpSTHY, uint8(r), base, d) }

// STC 8 位存储
func (a *Assembler) STC(r, base Reg, d int64) { a.memOp(OpSTC, OpSTCY, uint8(r), base, d) }

// LA 地址计算
func (a *Assembler) LA(r, base Reg, d int64) { a.memOp(OpLA, OpLAY, uint8(r), base, d) }

// LD 双精度加载
func (a *Assembler) LD(f FReg, base Reg, d int64) { a.memOp(OpLD, OpLDY, uint8(f), base, d) }

// STD 双精度存储
func (a *Assembler) STD(f FReg, base Reg, d int64) { a.memOp(OpSTD, OpSTDY, uint8(f), base, d) }

// LE 单精度加载
func (a *Assembler) LE(f FReg, base Reg, d int64) { a.memOp(OpLE, OpLEY, uint8(f), base, d) }

// STE 单精度存储
func (a *Assembler) STE(f FReg, base Reg, d int64) { a.memOp(OpSTE, OpSTEY, uint8(f), base, d) }

// STMG 存储多个寄存器 r1..r3
func (a *Assembler) STMG(r1, r3, base Reg, d int64) {
	a.RSY(OpSTMG, uint8(r1), uint8(r3), uint8(base), d)
}

// LMG 加载多个寄存器 r1..r3
func (a *Assembler) LMG(r1, r3, base Reg, d int64) {
	a.RSY(OpLMG, uint8(r1), uint8(r3), uint8(base), d)
}

// TM 测试存储字节中的位
func (a *Assembler) TM(base Reg, d int64, mask byte) { a.SI(OpTM, mask, uint8(base), d) }

// ============================================================================
// 分支
// ============================================================================

// BRC 16 位相对分支（位移以半字计）
func (a *Assembler) BRC(mask Cond, halfwords int16) { a.RI(OpBRC, uint8(mask), uint16(halfwords)) }

// BRCL 32 位相对分支
func (a *Assembler) BRCL(mask Cond, halfwords int32) { a.RIL(OpBRCL, uint8(mask), uint32(halfwords)) }

// BRASL 32 位相对调用
func (a *Assembler) BRASL(r Reg, halfwords int32) { a.RIL(OpBRASL, uint8(r), uint32(halfwords)) }

// LARL 装载相对地址
func (a *Assembler) LARL(r Reg, halfwords int32) { a.RIL(OpLARL, uint8(r), uint32(halfwords)) }

// BranchTo 跳转到标签：已绑定且在 16 位范围内的向后目标用 BRC，否则用 BRCL 并登记补丁
func (a *Assembler) BranchTo(mask Cond, label int) {
	if target, ok := a.lookupLabel(label); ok {
		disp := int64(target-a.Pos()) / 2
		if FitsInt16(disp) {
			a.BRC(mask, int16(disp))
			return
		}
		if FitsInt32(disp) {
			a.BRCL(mask, int32(disp))
			return
		}
	}
	a.patch(a.buf.Len(), codebuf.KindRel32, codebuf.LabelTarget(label))
	a.BRCL(mask, 0)
}

// BranchToTarget 跳转到任意补丁目标（固定 BRCL）
func (a *Assembler) BranchToTarget(mask Cond, t codebuf.Target) {
	a.patch(a.buf.Len(), codebuf.KindRel32, t)
	a.BRCL(mask, 0)
}

// CallLabel BRASL 调用本缓冲区内的标签
func (a *Assembler) CallLabel(r Reg, label int) {
	a.patch(a.buf.Len(), codebuf.KindRel32, codebuf.LabelTarget(label))
	a.BRASL(r, 0)
}

// LoadLabelAddr LARL 装载标签地址
func (a *Assembler) LoadLabelAddr(r Reg, label int) {
	a.patch(a.buf.Len(), codebuf.KindRel32, codebuf.LabelTarget(label))
	a.LARL(r, 0)
}

// CallTemplateLen 调用模板长度（不含对齐填充）
const CallTemplateLen = 14

// CallMaxLen 调用模板最长编码（含对齐填充）
const CallMaxLen = CallTemplateLen + 2

// Call 绝对地址调用模板：IIHF r14 / IILF r14 / BASR r14,r14
//
// 模板起始按 4 字节对齐，使 IILF 的立即数可以被一次 32 位写入原地改写。
// 返回模板起始位置（相对方法起始）。
func (a *Assembler) Call(t codebuf.Target) int {
	if a.Pos()%4 != 0 {
		a.NOPR()
	}
	start := a.Pos()
	a.LoadAbs(R14, t)
	a.BASR(R14, R14)
	return start
}

// IsCallTemplate 检查 code 中 off 处是否为调用模板
func IsCallTemplate(code []byte, off int) bool {
	if off < 0 || off+CallTemplateLen > len(code) {
		return false
	}
	return code[off] == 0xC0 && code[off+1] == 0xE8 &&
		code[off+6] == 0xC0 && code[off+7] == 0xE9 &&
		code[off+12] == 0x0D && code[off+13] == 0xEE
}

// ============================================================================
// 数据
// ============================================================================

// Quad 写入 8 字节常量
func (a *Assembler) Quad(v uint64) { a.buf.EmitU64(v) }

// QuadTarget 写入 8 字节地址槽位并登记补丁
func (a *Assembler) QuadTarget(t codebuf.Target) {
	a.patch(a.buf.Len(), codebuf.KindData64, t)
	a.buf.EmitU64(0)
}

// JumpTable 写入跳转表，表项 = 目标标签 - 表起始
func (a *Assembler) JumpTable(labels []int) {
	start := a.buf.Len()
	for _, l := range labels {
		a.buf.AddPatch(codebuf.Patch{
			Offset:    a.buf.Len(),
			Kind:      codebuf.KindTableSlot,
			Target:    codebuf.LabelTarget(l),
			TableBase: start,
		})
		a.buf.EmitU64(0)
	}
}
