package platform

import (
	"fmt"
	"strings"
)

// ============================================================================
// 解码器
// ============================================================================

// Inst 解码后的指令
type Inst struct {
	Op  Op
	Len int

	R1, R2, R3 uint8 // R3 在 RRF 中为 M3，在 RI/RIL 分支中 R1 为掩码
	X2, B2     uint8
	D          int64  // 位移（RXY/RSY 已符号扩展）
	I          int64  // 立即数（按格式宽度符号扩展）
	U          uint64 // 立即数原值
}

// opcode 类别：决定从哪些字节取操作码
const (
	classOneByte = iota + 1
	classTwoByte
	classSplit  // 首字节 + 末字节
	classNibble // 首字节 + 第二字节低 4 位
)

func classOf(b0 byte) int {
	switch b0 {
	case 0xB2, 0xB3, 0xB9:
		return classTwoByte
	case 0xE3, 0xEB, 0xED:
		return classSplit
	case 0xA5, 0xA7, 0xC0, 0xC2:
		return classNibble
	}
	return classOneByte
}

func classOfFormat(f Format) int {
	switch f {
	case FmtRRE, FmtRRF:
		return classTwoByte
	case FmtRXY, FmtRSY:
		return classSplit
	case FmtRI, FmtRIL:
		return classNibble
	}
	return classOneByte
}

var decodeTable map[uint32]Op

func init() {
	decodeTable = make(map[uint32]Op, len(AllOps))
	for _, op := range AllOps {
		key := uint32(classOfFormat(op.Fmt))<<16 | uint32(op.Code)
		if _, dup := decodeTable[key]; dup {
			panic("platform: duplicate opcode " + op.Name)
		}
		decodeTable[key] = op
	}
}

// Decode 解码 code 开头的一条指令
func Decode(code []byte) (Inst, error) {
	if len(code) < 2 {
		return Inst{}, fmt.Errorf("truncated instruction")
	}
	b0 := code[0]
	n := ILC(b0)
	if len(code) < n {
		return Inst{}, fmt.Errorf("truncated instruction %#02x: need %d bytes", b0, n)
	}
	class := classOf(b0)
	var code16 uint16
	switch class {
	case classOneByte:
		code16 = uint16(b0)
	case classTwoByte:
		code16 = uint16(b0)<<8 | uint16(code[1])
	case classSplit:
		code16 = uint16(b0)<<8 | uint16(code[5])
	case classNibble:
		code16 = uint16(b0)<<8 | uint16(code[1]&0x0F)
	}
	op, ok := decodeTable[uint32(class)<<16|uint32(code16)]
	if !ok {
		return Inst{}, fmt.Errorf("unknown opcode % x", code[:n])
	}

	in := Inst{Op: op, Len: n}
	switch op.Fmt {
	case FmtRR:
		in.R1, in.R2 = code[1]>>4, code[1]&0xF
	case FmtRRE:
		in.R1, in.R2 = code[3]>>4, code[3]&0xF
	case FmtRRF:
		in.R3 = code[2] >> 4
		in.R1, in.R2 = code[3]>>4, code[3]&0xF
	case FmtRX:
		in.R1, in.X2 = code[1]>>4, code[1]&0xF
		in.B2 = code[2] >> 4
		in.D = int64(code[2]&0xF)<<8 | int64(code[3])
	case FmtRS:
		in.R1, in.R3 = code[1]>>4, code[1]&0xF
		in.B2 = code[2] >> 4
		in.D = int64(code[2]&0xF)<<8 | int64(code[3])
	case FmtRXY, FmtRSY:
		if op.Fmt == FmtRXY {
			in.R1, in.X2 = code[1]>>4, code[1]&0xF
		} else {
			in.R1, in.R3 = code[1]>>4, code[1]&0xF
		}
		in.B2 = code[2] >> 4
		dl := int64(code[2]&0xF)<<8 | int64(code[3])
		dh := int64(int8(code[4]))
		in.D = dh<<12 | dl
	case FmtRI:
		in.R1 = code[1] >> 4
		u := uint16(code[2])<<8 | uint16(code[3])
		in.U = uint64(u)
		in.I = int64(int16(u))
	case FmtRIL:
		in.R1 = code[1] >> 4
		u := uint32(code[2])<<24 | uint32(code[3])<<16 | uint32(code[4])<<8 | uint32(code[5])
		in.U = uint64(u)
		in.I = int64(int32(u))
	case FmtSI:
		in.U = uint64(code[1])
		in.I = int64(code[1])
		in.B2 = code[2] >> 4
		in.D = int64(code[2]&0xF)<<8 | int64(code[3])
	}
	return in, nil
}

// IsBranch 是否为相对分支/调用
func (in Inst) IsBranch() bool {
	switch in.Op.Name {
	case "brc", "brcl", "bras", "brasl", "larl":
		return true
	}
	return false
}

// String 反汇编文本
func (in Inst) String() string {
	name := in.Op.Name
	switch in.Op.Fmt {
	case FmtRR, FmtRRE:
		if name == "bcr" {
			return fmt.Sprintf("bcr\t%d,%s", in.R1, Reg(in.R2))
		}
		if isFloatOp(name) {
			if name == "ldgr" {
				return fmt.Sprintf("%s\t%s,%s", name, FReg(in.R1), Reg(in.R2))
			}
			if name == "lgdr" {
				return fmt.Sprintf("%s\t%s,%s", name, Reg(in.R1), FReg(in.R2))
			}
			return fmt.Sprintf("%s\t%s,%s", name, FReg(in.R1), FReg(in.R2))
		}
		return fmt.Sprintf("%s\t%s,%s", name, Reg(in.R1), Reg(in.R2))
	case FmtRRF:
		if name == "cgdbr" || name == "cfdbr" {
			return fmt.Sprintf("%s\t%s,%d,%s", name, Reg(in.R1), in.R3, FReg(in.R2))
		}
		return fmt.Sprintf("%s\t%s,%d,%s", name, FReg(in.R1), in.R3, Reg(in.R2))
	case FmtRX, FmtRXY:
		r := Reg(in.R1).String()
		if isFloatOp(name) {
			r = FReg(in.R1).String()
		}
		if in.X2 != 0 {
			return fmt.Sprintf("%s\t%s,%d(%s,%s)", name, r, in.D, Reg(in.X2), Reg(in.B2))
		}
		return fmt.Sprintf("%s\t%s,%d(%s)", name, r, in.D, Reg(in.B2))
	case FmtRS, FmtRSY:
		if strings.HasSuffix(name, "mg") {
			return fmt.Sprintf("%s\t%s,%s,%d(%s)", name, Reg(in.R1), Reg(in.R3), in.D, Reg(in.B2))
		}
		if in.Op.Fmt == FmtRSY {
			return fmt.Sprintf("%s\t%s,%s,%d(%s)", name, Reg(in.R1), Reg(in.R3), in.D, Reg(in.B2))
		}
		return fmt.Sprintf("%s\t%s,%d(%s)", name, Reg(in.R1), in.D, Reg(in.B2))
	case FmtRI, FmtRIL:
		switch name {
		case "brc", "brcl":
			return fmt.Sprintf("%s\t%d,.%+#x", name, in.R1, in.I*2)
		case "bras", "brasl", "larl":
			return fmt.Sprintf("%s\t%s,.%+#x", name, Reg(in.R1), in.I*2)
		case "iihf", "iilf", "llihf", "llilf", "nilf", "oilf", "xilf", "clgfi", "clfi", "nill", "tmll":
			return fmt.Sprintf("%s\t%s,%#x", name, Reg(in.R1), in.U)
		}
		return fmt.Sprintf("%s\t%s,%d", name, Reg(in.R1), in.I)
	case FmtSI:
		return fmt.Sprintf("%s\t%d(%s),%#x", name, in.D, Reg(in.B2), in.U)
	}
	return name
}

func isFloatOp(name string) bool {
	switch name {
	case "ldr", "ler", "std", "ld", "ste", "le", "stdy", "ldy", "stey", "ley",
		"lpdbr", "ltdbr", "lcdbr", "ldebr", "cdbr", "adbr", "sdbr", "mdbr", "ddbr",
		"ledbr", "lzdr", "ldgr", "lgdr":
		return true
	}
	return false
}

// Disassemble 反汇编一段代码，base 为 code[0] 的地址
func Disassemble(code []byte, base uint64) ([]string, error) {
	var out []string
	for off := 0; off < len(code); {
		in, err := Decode(code[off:])
		if err != nil {
			return out, fmt.Errorf("at %#x: %w", base+uint64(off), err)
		}
		out = append(out, fmt.Sprintf("%#x:\t%s", base+uint64(off), in))
		off += in.Len
	}
	return out, nil
}
