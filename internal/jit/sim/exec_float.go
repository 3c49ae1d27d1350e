// exec_float.go - 二进制浮点指令
//
// 长浮点占满 64 位浮点寄存器，短浮点占高 32 位。
// 浮点结果条件码：0 零  1 负  2 正  3 NaN；比较：3 无序。

package sim

import (
	"math"

	"github.com/tangzhangming/novajit/internal/jit/platform"
)

func ccFloat(v float64) uint8 {
	switch {
	case math.IsNaN(v):
		return 3
	case v == 0:
		return 0
	case v < 0:
		return 1
	}
	return 2
}

func (c *CPU) f(r uint8) float64 { return math.Float64frombits(c.FPR[r]) }

func (c *CPU) setF(r uint8, v float64) { c.FPR[r] = math.Float64bits(v) }

func opLDR(c *CPU, in *platform.Inst) error {
	c.FPR[in.R1] = c.FPR[in.R2]
	return nil
}

func opLER(c *CPU, in *platform.Inst) error {
	c.FPR[in.R1] = c.FPR[in.R1]&0xFFFFFFFF | c.FPR[in.R2]&^0xFFFFFFFF
	return nil
}

func opLPDBR(c *CPU, in *platform.Inst) error {
	v := math.Abs(c.f(in.R2))
	c.setF(in.R1, v)
	c.CC = ccFloat(v)
	return nil
}

func opLTDBR(c *CPU, in *platform.Inst) error {
	c.FPR[in.R1] = c.FPR[in.R2]
	c.CC = ccFloat(c.f(in.R1))
	return nil
}

func opLCDBR(c *CPU, in *platform.Inst) error {
	c.FPR[in.R1] = c.FPR[in.R2] ^ (1 << 63)
	c.CC = ccFloat(c.f(in.R1))
	return nil
}

func opLDEBR(c *CPU, in *platform.Inst) error {
	c.setF(in.R1, float64(math.Float32frombits(uint32(c.FPR[in.R2]>>32))))
	return nil
}

func opLEDBR(c *CPU, in *platform.Inst) error {
	v := float32(c.f(in.R2))
	c.FPR[in.R1] = c.FPR[in.R1]&0xFFFFFFFF | uint64(math.Float32bits(v))<<32
	return nil
}

func opCDBR(c *CPU, in *platform.Inst) error {
	a, b := c.f(in.R1), c.f(in.R2)
	if math.IsNaN(a) || math.IsNaN(b) {
		c.CC = 3
		return nil
	}
	c.CC = ccCompare(a < b, a > b)
	return nil
}

func opADBR(c *CPU, in *platform.Inst) error {
	v := c.f(in.R1) + c.f(in.R2)
	c.setF(in.R1, v)
	c.CC = ccFloat(v)
	return nil
}

func opSDBR(c *CPU, in *platform.Inst) error {
	v := c.f(in.R1) - c.f(in.R2)
	c.setF(in.R1, v)
	c.CC = ccFloat(v)
	return nil
}

func opMDBR(c *CPU, in *platform.Inst) error {
	c.setF(in.R1, c.f(in.R1)*c.f(in.R2))
	return nil
}

func opDDBR(c *CPU, in *platform.Inst) error {
	c.setF(in.R1, c.f(in.R1)/c.f(in.R2))
	return nil
}

func opLZDR(c *CPU, in *platform.Inst) error {
	c.FPR[in.R1] = 0
	return nil
}

func opCDFBR(c *CPU, in *platform.Inst) error {
	c.setF(in.R1, float64(int32(c.GPR[in.R2])))
	return nil
}

func opCDGBR(c *CPU, in *platform.Inst) error {
	c.setF(in.R1, float64(int64(c.GPR[in.R2])))
	return nil
}

func opLDGR(c *CPU, in *platform.Inst) error {
	c.FPR[in.R1] = c.GPR[in.R2]
	return nil
}

func opLGDR(c *CPU, in *platform.Inst) error {
	c.GPR[in.R1] = c.FPR[in.R2]
	return nil
}

// round 按 M3 舍入模式取整
func round(v float64, m3 uint8) float64 {
	switch m3 {
	case 1:
		return math.Round(v)
	case 5:
		return math.Trunc(v)
	case 6:
		return math.Ceil(v)
	case 7:
		return math.Floor(v)
	}
	return math.RoundToEven(v)
}

// toInt 浮点转定点，超出范围或 NaN 时 CC=3 并返回饱和值
func toInt(v float64, m3 uint8, min, max int64) (int64, uint8) {
	if math.IsNaN(v) {
		return min, 3
	}
	r := round(v, m3)
	switch {
	case r < float64(min):
		return min, 3
	case r >= float64(max)+1:
		return max, 3
	}
	return int64(r), ccFloat(v)
}

// opCFDBR R1 为通用寄存器，R2 为浮点寄存器，R3 为 M3
func opCFDBR(c *CPU, in *platform.Inst) error {
	v, cc := toInt(c.f(in.R2), in.R3, math.MinInt32, math.MaxInt32)
	c.setLow(in.R1, uint32(int32(v)))
	c.CC = cc
	return nil
}

func opCGDBR(c *CPU, in *platform.Inst) error {
	v, cc := toInt(c.f(in.R2), in.R3, math.MinInt64, math.MaxInt64)
	c.GPR[in.R1] = uint64(v)
	c.CC = cc
	return nil
}

func opSTD(c *CPU, in *platform.Inst) error {
	return c.Mem.WriteU64(c.addr(in), c.FPR[in.R1])
}

func opLD(c *CPU, in *platform.Inst) error {
	v, err := c.Mem.ReadU64(c.addr(in))
	if err != nil {
		return err
	}
	c.FPR[in.R1] = v
	return nil
}

func opSTE(c *CPU, in *platform.Inst) error {
	return c.Mem.WriteU32(c.addr(in), uint32(c.FPR[in.R1]>>32))
}

func opLE(c *CPU, in *platform.Inst) error {
	v, err := c.Mem.ReadU32(c.addr(in))
	if err != nil {
		return err
	}
	c.FPR[in.R1] = c.FPR[in.R1]&0xFFFFFFFF | uint64(v)<<32
	return nil
}
