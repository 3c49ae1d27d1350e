// exec_int.go - 定点、分支与存储访问指令
//
// 条件码约定：
//
//	算术    0 零  1 负  2 正  3 溢出
//	逻辑加  0 零无进位  1 非零无进位  2 零有进位  3 非零有进位
//	逻辑减  1 非零有借位  2 零无借位  3 非零无借位
//	比较    0 相等  1 小于  2 大于

package sim

import (
	"math"
	"math/bits"

	"github.com/tangzhangming/novajit/internal/jit/platform"
)

// ============================================================================
// 条件码
// ============================================================================

func ccSigned(v int64) uint8 {
	switch {
	case v == 0:
		return 0
	case v < 0:
		return 1
	}
	return 2
}

func ccArith(v int64, overflow bool) uint8 {
	if overflow {
		return 3
	}
	return ccSigned(v)
}

func ccLogical(nonzero, carry bool) uint8 {
	var cc uint8
	if carry {
		cc = 2
	}
	if nonzero {
		cc |= 1
	}
	return cc
}

func ccCompare(lt, gt bool) uint8 {
	switch {
	case lt:
		return 1
	case gt:
		return 2
	}
	return 0
}

func ccBool(nonzero bool) uint8 {
	if nonzero {
		return 1
	}
	return 0
}

func (c *CPU) add32(r uint8, a, b int32) {
	s := a + b
	c.setLow(r, uint32(s))
	c.CC = ccArith(int64(s), (a^s)&(b^s) < 0)
}

func (c *CPU) sub32(r uint8, a, b int32) {
	s := a - b
	c.setLow(r, uint32(s))
	c.CC = ccArith(int64(s), (a^b)&(a^s) < 0)
}

func (c *CPU) add64(r uint8, a, b int64) {
	s := a + b
	c.GPR[r] = uint64(s)
	c.CC = ccArith(s, (a^s)&(b^s) < 0)
}

func (c *CPU) sub64(r uint8, a, b int64) {
	s := a - b
	c.GPR[r] = uint64(s)
	c.CC = ccArith(s, (a^b)&(a^s) < 0)
}

// ============================================================================
// 32 位寄存器运算
// ============================================================================

func opLR(c *CPU, in *platform.Inst) error {
	c.setLow(in.R1, c.low(in.R2))
	return nil
}

func opAR(c *CPU, in *platform.Inst) error {
	c.add32(in.R1, int32(c.low(in.R1)), int32(c.low(in.R2)))
	return nil
}

func opSR(c *CPU, in *platform.Inst) error {
	c.sub32(in.R1, int32(c.low(in.R1)), int32(c.low(in.R2)))
	return nil
}

func opALR(c *CPU, in *platform.Inst) error {
	s, carry := bits.Add32(c.low(in.R1), c.low(in.R2), 0)
	c.setLow(in.R1, s)
	c.CC = ccLogical(s != 0, carry != 0)
	return nil
}

func opSLR(c *CPU, in *platform.Inst) error {
	s, borrow := bits.Sub32(c.low(in.R1), c.low(in.R2), 0)
	c.setLow(in.R1, s)
	c.CC = ccLogical(s != 0, borrow == 0)
	return nil
}

func opCR(c *CPU, in *platform.Inst) error {
	a, b := int32(c.low(in.R1)), int32(c.low(in.R2))
	c.CC = ccCompare(a < b, a > b)
	return nil
}

func opCLR(c *CPU, in *platform.Inst) error {
	a, b := c.low(in.R1), c.low(in.R2)
	c.CC = ccCompare(a < b, a > b)
	return nil
}

func opLTR(c *CPU, in *platform.Inst) error {
	v := c.low(in.R2)
	c.setLow(in.R1, v)
	c.CC = ccSigned(int64(int32(v)))
	return nil
}

func opLCR(c *CPU, in *platform.Inst) error {
	a := int32(c.low(in.R2))
	c.setLow(in.R1, uint32(-a))
	c.CC = ccArith(int64(-a), a == math.MinInt32)
	return nil
}

func opNR(c *CPU, in *platform.Inst) error {
	v := c.low(in.R1) & c.low(in.R2)
	c.setLow(in.R1, v)
	c.CC = ccBool(v != 0)
	return nil
}

func opOR(c *CPU, in *platform.Inst) error {
	v := c.low(in.R1) | c.low(in.R2)
	c.setLow(in.R1, v)
	c.CC = ccBool(v != 0)
	return nil
}

func opXR(c *CPU, in *platform.Inst) error {
	v := c.low(in.R1) ^ c.low(in.R2)
	c.setLow(in.R1, v)
	c.CC = ccBool(v != 0)
	return nil
}

func opMSR(c *CPU, in *platform.Inst) error {
	c.setLow(in.R1, uint32(int32(c.low(in.R1))*int32(c.low(in.R2))))
	return nil
}

// evenPair 检查偶奇寄存器对
func evenPair(r uint8) error {
	if r&1 != 0 {
		return &Interrupt{Kind: IntSpecification}
	}
	return nil
}

// opDR 32 位有符号除法：被除数为 r1:r1+1 的低 32 位拼接
func opDR(c *CPU, in *platform.Inst) error {
	if err := evenPair(in.R1); err != nil {
		return err
	}
	dividend := int64(uint64(c.low(in.R1))<<32 | uint64(c.low(in.R1+1)))
	d := int64(int32(c.low(in.R2)))
	if d == 0 {
		return &Interrupt{Kind: IntFixedDivide}
	}
	q := dividend / d
	if q < math.MinInt32 || q > math.MaxInt32 {
		return &Interrupt{Kind: IntFixedDivide}
	}
	c.setLow(in.R1, uint32(dividend%d))
	c.setLow(in.R1+1, uint32(q))
	return nil
}

func opDLR(c *CPU, in *platform.Inst) error {
	if err := evenPair(in.R1); err != nil {
		return err
	}
	dividend := uint64(c.low(in.R1))<<32 | uint64(c.low(in.R1+1))
	d := uint64(c.low(in.R2))
	if d == 0 || dividend/d > math.MaxUint32 {
		return &Interrupt{Kind: IntFixedDivide}
	}
	c.setLow(in.R1, uint32(dividend%d))
	c.setLow(in.R1+1, uint32(dividend/d))
	return nil
}

// ============================================================================
// 64 位寄存器运算
// ============================================================================

func opLPGR(c *CPU, in *platform.Inst) error {
	a := int64(c.GPR[in.R2])
	if a == math.MinInt64 {
		c.GPR[in.R1] = uint64(a)
		c.CC = 3
		return nil
	}
	if a < 0 {
		a = -a
	}
	c.GPR[in.R1] = uint64(a)
	c.CC = ccSigned(a)
	return nil
}

func opLTGR(c *CPU, in *platform.Inst) error {
	v := c.GPR[in.R2]
	c.GPR[in.R1] = v
	c.CC = ccSigned(int64(v))
	return nil
}

func opLCGR(c *CPU, in *platform.Inst) error {
	a := int64(c.GPR[in.R2])
	c.GPR[in.R1] = uint64(-a)
	c.CC = ccArith(-a, a == math.MinInt64)
	return nil
}

func opLGR(c *CPU, in *platform.Inst) error {
	c.GPR[in.R1] = c.GPR[in.R2]
	return nil
}

func opLGBR(c *CPU, in *platform.Inst) error {
	c.GPR[in.R1] = uint64(int64(int8(c.GPR[in.R2])))
	return nil
}

func opLGHR(c *CPU, in *platform.Inst) error {
	c.GPR[in.R1] = uint64(int64(int16(c.GPR[in.R2])))
	return nil
}

func opLGFR(c *CPU, in *platform.Inst) error {
	c.GPR[in.R1] = uint64(int64(int32(c.GPR[in.R2])))
	return nil
}

func opLLGFR(c *CPU, in *platform.Inst) error {
	c.GPR[in.R1] = uint64(uint32(c.GPR[in.R2]))
	return nil
}

func opLLGCR(c *CPU, in *platform.Inst) error {
	c.GPR[in.R1] = uint64(uint8(c.GPR[in.R2]))
	return nil
}

func opLLGHR(c *CPU, in *platform.Inst) error {
	c.GPR[in.R1] = uint64(uint16(c.GPR[in.R2]))
	return nil
}

func opAGR(c *CPU, in *platform.Inst) error {
	c.add64(in.R1, int64(c.GPR[in.R1]), int64(c.GPR[in.R2]))
	return nil
}

func opSGR(c *CPU, in *platform.Inst) error {
	c.sub64(in.R1, int64(c.GPR[in.R1]), int64(c.GPR[in.R2]))
	return nil
}

func opALGR(c *CPU, in *platform.Inst) error {
	s, carry := bits.Add64(c.GPR[in.R1], c.GPR[in.R2], 0)
	c.GPR[in.R1] = s
	c.CC = ccLogical(s != 0, carry != 0)
	return nil
}

func opALCGR(c *CPU, in *platform.Inst) error {
	var carryIn uint64
	if c.CC&2 != 0 {
		carryIn = 1
	}
	s, carry := bits.Add64(c.GPR[in.R1], c.GPR[in.R2], carryIn)
	c.GPR[in.R1] = s
	c.CC = ccLogical(s != 0, carry != 0)
	return nil
}

func opSLGR(c *CPU, in *platform.Inst) error {
	s, borrow := bits.Sub64(c.GPR[in.R1], c.GPR[in.R2], 0)
	c.GPR[in.R1] = s
	c.CC = ccLogical(s != 0, borrow == 0)
	return nil
}

func opMSGR(c *CPU, in *platform.Inst) error {
	c.GPR[in.R1] = uint64(int64(c.GPR[in.R1]) * int64(c.GPR[in.R2]))
	return nil
}

// divSigned64 r1 得余数，r1+1 得商，被除数取自 r1+1
func (c *CPU) divSigned64(r1 uint8, d int64) error {
	if err := evenPair(r1); err != nil {
		return err
	}
	dividend := int64(c.GPR[r1+1])
	if d == 0 || (dividend == math.MinInt64 && d == -1) {
		return &Interrupt{Kind: IntFixedDivide}
	}
	c.GPR[r1] = uint64(dividend % d)
	c.GPR[r1+1] = uint64(dividend / d)
	return nil
}

func opDSGR(c *CPU, in *platform.Inst) error {
	return c.divSigned64(in.R1, int64(c.GPR[in.R2]))
}

func opDSGFR(c *CPU, in *platform.Inst) error {
	return c.divSigned64(in.R1, int64(int32(c.GPR[in.R2])))
}

// opDLGR 128 位被除数 r1:r1+1 除以 r2
func opDLGR(c *CPU, in *platform.Inst) error {
	if err := evenPair(in.R1); err != nil {
		return err
	}
	hi, lo, d := c.GPR[in.R1], c.GPR[in.R1+1], c.GPR[in.R2]
	if d == 0 || hi >= d {
		return &Interrupt{Kind: IntFixedDivide}
	}
	q, rem := bits.Div64(hi, lo, d)
	c.GPR[in.R1] = rem
	c.GPR[in.R1+1] = q
	return nil
}

func opCGR(c *CPU, in *platform.Inst) error {
	a, b := int64(c.GPR[in.R1]), int64(c.GPR[in.R2])
	c.CC = ccCompare(a < b, a > b)
	return nil
}

func opCLGR(c *CPU, in *platform.Inst) error {
	a, b := c.GPR[in.R1], c.GPR[in.R2]
	c.CC = ccCompare(a < b, a > b)
	return nil
}

func opNGR(c *CPU, in *platform.Inst) error {
	c.GPR[in.R1] &= c.GPR[in.R2]
	c.CC = ccBool(c.GPR[in.R1] != 0)
	return nil
}

func opOGR(c *CPU, in *platform.Inst) error {
	c.GPR[in.R1] |= c.GPR[in.R2]
	c.CC = ccBool(c.GPR[in.R1] != 0)
	return nil
}

func opXGR(c *CPU, in *platform.Inst) error {
	c.GPR[in.R1] ^= c.GPR[in.R2]
	c.CC = ccBool(c.GPR[in.R1] != 0)
	return nil
}

// ============================================================================
// 分支
// ============================================================================

func opBASR(c *CPU, in *platform.Inst) error {
	target := c.GPR[in.R2]
	c.GPR[in.R1] = c.next
	if in.R2 != 0 {
		c.next = target
	}
	return nil
}

func opBCR(c *CPU, in *platform.Inst) error {
	if in.R2 != 0 && platform.Cond(in.R1).Taken(c.CC) {
		c.next = c.GPR[in.R2]
	}
	return nil
}

// opBRC BRC/BRCL：R1 为掩码
func opBRC(c *CPU, in *platform.Inst) error {
	if platform.Cond(in.R1).Taken(c.CC) {
		c.branch(in.I)
	}
	return nil
}

// opBRAS BRAS/BRASL
func opBRAS(c *CPU, in *platform.Inst) error {
	c.GPR[in.R1] = c.next
	c.branch(in.I)
	return nil
}

func opLARL(c *CPU, in *platform.Inst) error {
	c.GPR[in.R1] = c.pc + uint64(in.I*2)
	return nil
}

// ============================================================================
// 存储访问
// ============================================================================

func opLA(c *CPU, in *platform.Inst) error {
	c.GPR[in.R1] = c.addr(in)
	return nil
}

func opSTC(c *CPU, in *platform.Inst) error {
	return c.Mem.WriteU8(c.addr(in), uint8(c.GPR[in.R1]))
}

func opSTH(c *CPU, in *platform.Inst) error {
	return c.Mem.WriteU16(c.addr(in), uint16(c.GPR[in.R1]))
}

func opST(c *CPU, in *platform.Inst) error {
	return c.Mem.WriteU32(c.addr(in), c.low(in.R1))
}

func opSTG(c *CPU, in *platform.Inst) error {
	return c.Mem.WriteU64(c.addr(in), c.GPR[in.R1])
}

func opIC(c *CPU, in *platform.Inst) error {
	v, err := c.Mem.ReadU8(c.addr(in))
	if err != nil {
		return err
	}
	c.GPR[in.R1] = c.GPR[in.R1]&^0xFF | uint64(v)
	return nil
}

func opLH(c *CPU, in *platform.Inst) error {
	v, err := c.Mem.ReadU16(c.addr(in))
	if err != nil {
		return err
	}
	c.setLow(in.R1, uint32(int32(int16(v))))
	return nil
}

func opL(c *CPU, in *platform.Inst) error {
	v, err := c.Mem.ReadU32(c.addr(in))
	if err != nil {
		return err
	}
	c.setLow(in.R1, v)
	return nil
}

func opLG(c *CPU, in *platform.Inst) error {
	v, err := c.Mem.ReadU64(c.addr(in))
	if err != nil {
		return err
	}
	c.GPR[in.R1] = v
	return nil
}

func opLTG(c *CPU, in *platform.Inst) error {
	v, err := c.Mem.ReadU64(c.addr(in))
	if err != nil {
		return err
	}
	c.GPR[in.R1] = v
	c.CC = ccSigned(int64(v))
	return nil
}

func opAG(c *CPU, in *platform.Inst) error {
	v, err := c.Mem.ReadU64(c.addr(in))
	if err != nil {
		return err
	}
	c.add64(in.R1, int64(c.GPR[in.R1]), int64(v))
	return nil
}

func opLGF(c *CPU, in *platform.Inst) error {
	v, err := c.Mem.ReadU32(c.addr(in))
	if err != nil {
		return err
	}
	c.GPR[in.R1] = uint64(int64(int32(v)))
	return nil
}

func opLGH(c *CPU, in *platform.Inst) error {
	v, err := c.Mem.ReadU16(c.addr(in))
	if err != nil {
		return err
	}
	c.GPR[in.R1] = uint64(int64(int16(v)))
	return nil
}

func opLGB(c *CPU, in *platform.Inst) error {
	v, err := c.Mem.ReadU8(c.addr(in))
	if err != nil {
		return err
	}
	c.GPR[in.R1] = uint64(int64(int8(v)))
	return nil
}

func opLLGF(c *CPU, in *platform.Inst) error {
	v, err := c.Mem.ReadU32(c.addr(in))
	if err != nil {
		return err
	}
	c.GPR[in.R1] = uint64(v)
	return nil
}

func opLLGH(c *CPU, in *platform.Inst) error {
	v, err := c.Mem.ReadU16(c.addr(in))
	if err != nil {
		return err
	}
	c.GPR[in.R1] = uint64(v)
	return nil
}

func opLLGC(c *CPU, in *platform.Inst) error {
	v, err := c.Mem.ReadU8(c.addr(in))
	if err != nil {
		return err
	}
	c.GPR[in.R1] = uint64(v)
	return nil
}

func opCG(c *CPU, in *platform.Inst) error {
	v, err := c.Mem.ReadU64(c.addr(in))
	if err != nil {
		return err
	}
	a, b := int64(c.GPR[in.R1]), int64(v)
	c.CC = ccCompare(a < b, a > b)
	return nil
}

func opCLG(c *CPU, in *platform.Inst) error {
	b, err := c.Mem.ReadU64(c.addr(in))
	if err != nil {
		return err
	}
	a := c.GPR[in.R1]
	c.CC = ccCompare(a < b, a > b)
	return nil
}

// opLMG 装载 r1..r3（编号回绕）
func opLMG(c *CPU, in *platform.Inst) error {
	addr := c.reg(in.B2) + uint64(in.D)
	for r := in.R1; ; r = (r + 1) & 15 {
		v, err := c.Mem.ReadU64(addr)
		if err != nil {
			return err
		}
		c.GPR[r] = v
		addr += 8
		if r == in.R3 {
			return nil
		}
	}
}

func opSTMG(c *CPU, in *platform.Inst) error {
	addr := c.reg(in.B2) + uint64(in.D)
	for r := in.R1; ; r = (r + 1) & 15 {
		if err := c.Mem.WriteU64(addr, c.GPR[r]); err != nil {
			return err
		}
		addr += 8
		if r == in.R3 {
			return nil
		}
	}
}

// ============================================================================
// 移位
// ============================================================================

func opSRL(c *CPU, in *platform.Inst) error {
	c.setLow(in.R1, c.low(in.R1)>>c.shiftAmount(in))
	return nil
}

func opSLL(c *CPU, in *platform.Inst) error {
	c.setLow(in.R1, c.low(in.R1)<<c.shiftAmount(in))
	return nil
}

func opSRA(c *CPU, in *platform.Inst) error {
	v := int32(c.low(in.R1)) >> c.shiftAmount(in)
	c.setLow(in.R1, uint32(v))
	c.CC = ccSigned(int64(v))
	return nil
}

// shiftLeftArith 保留符号位的算术左移，width 为数值位宽（含符号位）
func shiftLeftArith(v int64, n uint, width uint) (int64, bool) {
	sign := v < 0
	overflow := false
	for i := uint(0); i < n; i++ {
		v <<= 1
		// 移入符号位的位与原符号不同
		if (v>>(width-1)&1 == 1) != sign {
			overflow = true
		}
	}
	mask := int64(-1) << (width - 1)
	v &^= mask
	if sign {
		v |= mask
	}
	return v, overflow
}

func opSLA(c *CPU, in *platform.Inst) error {
	v, ov := shiftLeftArith(int64(int32(c.low(in.R1))), c.shiftAmount(in), 32)
	c.setLow(in.R1, uint32(v))
	c.CC = ccArith(int64(int32(v)), ov)
	return nil
}

func (c *CPU) pair(r uint8) uint64 {
	return uint64(c.low(r))<<32 | uint64(c.low(r+1))
}

func (c *CPU) setPair(r uint8, v uint64) {
	c.setLow(r, uint32(v>>32))
	c.setLow(r+1, uint32(v))
}

func opSRDL(c *CPU, in *platform.Inst) error {
	if err := evenPair(in.R1); err != nil {
		return err
	}
	c.setPair(in.R1, c.pair(in.R1)>>c.shiftAmount(in))
	return nil
}

func opSRDA(c *CPU, in *platform.Inst) error {
	if err := evenPair(in.R1); err != nil {
		return err
	}
	v := int64(c.pair(in.R1)) >> c.shiftAmount(in)
	c.setPair(in.R1, uint64(v))
	c.CC = ccSigned(v)
	return nil
}

func opSRAG(c *CPU, in *platform.Inst) error {
	v := int64(c.GPR[in.R3]) >> c.shiftAmount(in)
	c.GPR[in.R1] = uint64(v)
	c.CC = ccSigned(v)
	return nil
}

func opSLAG(c *CPU, in *platform.Inst) error {
	v, ov := shiftLeftArith(int64(c.GPR[in.R3]), c.shiftAmount(in), 64)
	c.GPR[in.R1] = uint64(v)
	c.CC = ccArith(v, ov)
	return nil
}

func opSRLG(c *CPU, in *platform.Inst) error {
	c.GPR[in.R1] = c.GPR[in.R3] >> c.shiftAmount(in)
	return nil
}

func opSLLG(c *CPU, in *platform.Inst) error {
	c.GPR[in.R1] = c.GPR[in.R3] << c.shiftAmount(in)
	return nil
}

// ============================================================================
// 立即数
// ============================================================================

func opNILL(c *CPU, in *platform.Inst) error {
	c.GPR[in.R1] &= 0xFFFF_FFFF_FFFF_0000 | in.U
	c.CC = ccBool(c.GPR[in.R1]&0xFFFF != 0)
	return nil
}

// testMask TM/TMLL：0 选中位全 0，3 全 1，混合时 1（TMLL 最左选中位为 1 时 2）
func testMask(v, mask uint64, leftmost uint64) uint8 {
	sel := v & mask
	switch {
	case mask == 0 || sel == 0:
		return 0
	case sel == mask:
		return 3
	}
	if leftmost != 0 {
		top := uint64(1) << (63 - bits.LeadingZeros64(mask))
		if sel&top != 0 {
			return 2
		}
	}
	return 1
}

func opTMLL(c *CPU, in *platform.Inst) error {
	c.CC = testMask(c.GPR[in.R1]&0xFFFF, in.U, 1)
	return nil
}

func opLHI(c *CPU, in *platform.Inst) error {
	c.setLow(in.R1, uint32(int32(in.I)))
	return nil
}

func opLGHI(c *CPU, in *platform.Inst) error {
	c.GPR[in.R1] = uint64(in.I)
	return nil
}

func opAHI(c *CPU, in *platform.Inst) error {
	c.add32(in.R1, int32(c.low(in.R1)), int32(in.I))
	return nil
}

func opAGHI(c *CPU, in *platform.Inst) error {
	c.add64(in.R1, int64(c.GPR[in.R1]), in.I)
	return nil
}

func opMHI(c *CPU, in *platform.Inst) error {
	c.setLow(in.R1, uint32(int32(c.low(in.R1))*int32(in.I)))
	return nil
}

func opMGHI(c *CPU, in *platform.Inst) error {
	c.GPR[in.R1] = uint64(int64(c.GPR[in.R1]) * in.I)
	return nil
}

func opCHI(c *CPU, in *platform.Inst) error {
	a, b := int32(c.low(in.R1)), int32(in.I)
	c.CC = ccCompare(a < b, a > b)
	return nil
}

func opCGHI(c *CPU, in *platform.Inst) error {
	a := int64(c.GPR[in.R1])
	c.CC = ccCompare(a < in.I, a > in.I)
	return nil
}

func opLGFI(c *CPU, in *platform.Inst) error {
	c.GPR[in.R1] = uint64(in.I)
	return nil
}

func opXILF(c *CPU, in *platform.Inst) error {
	v := c.low(in.R1) ^ uint32(in.U)
	c.setLow(in.R1, v)
	c.CC = ccBool(v != 0)
	return nil
}

func opIIHF(c *CPU, in *platform.Inst) error {
	c.GPR[in.R1] = c.GPR[in.R1]&0xFFFFFFFF | in.U<<32
	return nil
}

func opIILF(c *CPU, in *platform.Inst) error {
	c.setLow(in.R1, uint32(in.U))
	return nil
}

func opNILF(c *CPU, in *platform.Inst) error {
	v := c.low(in.R1) & uint32(in.U)
	c.setLow(in.R1, v)
	c.CC = ccBool(v != 0)
	return nil
}

func opOILF(c *CPU, in *platform.Inst) error {
	v := c.low(in.R1) | uint32(in.U)
	c.setLow(in.R1, v)
	c.CC = ccBool(v != 0)
	return nil
}

func opLLIHF(c *CPU, in *platform.Inst) error {
	c.GPR[in.R1] = in.U << 32
	return nil
}

func opLLILF(c *CPU, in *platform.Inst) error {
	c.GPR[in.R1] = in.U
	return nil
}

func opMSGFI(c *CPU, in *platform.Inst) error {
	c.GPR[in.R1] = uint64(int64(c.GPR[in.R1]) * in.I)
	return nil
}

func opMSFI(c *CPU, in *platform.Inst) error {
	c.setLow(in.R1, uint32(int32(c.low(in.R1))*int32(in.I)))
	return nil
}

func opAGFI(c *CPU, in *platform.Inst) error {
	c.add64(in.R1, int64(c.GPR[in.R1]), in.I)
	return nil
}

func opAFI(c *CPU, in *platform.Inst) error {
	c.add32(in.R1, int32(c.low(in.R1)), int32(in.I))
	return nil
}

func opCGFI(c *CPU, in *platform.Inst) error {
	a := int64(c.GPR[in.R1])
	c.CC = ccCompare(a < in.I, a > in.I)
	return nil
}

func opCFI(c *CPU, in *platform.Inst) error {
	a, b := int32(c.low(in.R1)), int32(in.I)
	c.CC = ccCompare(a < b, a > b)
	return nil
}

func opCLGFI(c *CPU, in *platform.Inst) error {
	a := c.GPR[in.R1]
	c.CC = ccCompare(a < in.U, a > in.U)
	return nil
}

func opCLFI(c *CPU, in *platform.Inst) error {
	a, b := c.low(in.R1), uint32(in.U)
	c.CC = ccCompare(a < b, a > b)
	return nil
}

// ============================================================================
// 存储立即数（SI：B2/D 为第一操作数地址，U 为立即数）
// ============================================================================

func opTM(c *CPU, in *platform.Inst) error {
	v, err := c.Mem.ReadU8(c.reg(in.B2) + uint64(in.D))
	if err != nil {
		return err
	}
	c.CC = testMask(uint64(v), in.U, 0)
	return nil
}

func opMVI(c *CPU, in *platform.Inst) error {
	return c.Mem.WriteU8(c.reg(in.B2)+uint64(in.D), uint8(in.U))
}

func opCLI(c *CPU, in *platform.Inst) error {
	v, err := c.Mem.ReadU8(c.reg(in.B2) + uint64(in.D))
	if err != nil {
		return err
	}
	b := uint8(in.U)
	c.CC = ccCompare(v < b, v > b)
	return nil
}
