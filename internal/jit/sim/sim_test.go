package sim

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tangzhangming/novajit/internal/jit/codebuf"
	"github.com/tangzhangming/novajit/internal/jit/platform"
)

const codeBase uint64 = 0x1000_0000

// load 汇编代码并装入可执行区域
func load(t *testing.T, fn func(a *platform.Assembler)) *CPU {
	t.Helper()
	buf := codebuf.New(256, 0)
	fn(platform.NewAssembler(buf))
	require.NoError(t, codebuf.Resolve(buf.Bytes(), codeBase, buf.Patches(), buf.Labels(), nil))

	mem := NewMemory()
	_, err := mem.Map(codeBase, 4096, ProtRX, "code")
	require.NoError(t, err)
	require.NoError(t, mem.Poke(codeBase, buf.Bytes()))
	c, err := NewCPU(mem, 0)
	require.NoError(t, err)
	return c
}

// TestDispatchCoversAllOps 测试每条可解码指令都有执行函数
func TestDispatchCoversAllOps(t *testing.T) {
	for _, op := range platform.AllOps {
		_, ok := dispatchTable[op]
		assert.True(t, ok, op.Name)
	}
}

// TestMemoryProtection 测试映射与保护属性
func TestMemoryProtection(t *testing.T) {
	mem := NewMemory()
	_, err := mem.Map(0x2000, 4096, ProtRW, "data")
	require.NoError(t, err)
	_, err = mem.Map(0x2800, 16, ProtRW, "overlap")
	assert.Error(t, err)

	require.NoError(t, mem.WriteU64(0x2008, 0x1122334455667788))
	v, err := mem.ReadU32(0x200C)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x55667788), v, "big-endian")

	require.NoError(t, mem.Protect(0x2000, ProtNone))
	_, err = mem.ReadU8(0x2000)
	var it *Interrupt
	require.ErrorAs(t, err, &it)
	assert.Equal(t, IntProtection, it.Kind)
	assert.Equal(t, uint64(0x2000), it.Addr)

	_, err = mem.ReadU64(0x2FFC)
	require.ErrorAs(t, err, &it)
	assert.Equal(t, IntProtection, it.Kind)
	assert.Equal(t, uint64(0x2FFC), it.Addr, "first inaccessible byte")

	_, err = mem.ReadU8(0x9000)
	require.ErrorAs(t, err, &it)
	assert.Equal(t, IntAddressing, it.Kind)

	assert.NoError(t, mem.Poke(0x2000, []byte{1}))
	require.NoError(t, mem.Unmap(0x2000))
	assert.Nil(t, mem.Lookup(0x2000))
}

// TestMemoryCrossRegion 测试越过区域末尾的访问按第一个不可访问字节报告
func TestMemoryCrossRegion(t *testing.T) {
	mem := NewMemory()
	_, err := mem.Map(0x2000, 4096, ProtRW, "data")
	require.NoError(t, err)

	var it *Interrupt
	_, err = mem.ReadU64(0x2FFC)
	require.ErrorAs(t, err, &it)
	assert.Equal(t, IntAddressing, it.Kind, "unmapped tail")
	assert.Equal(t, uint64(0x3000), it.Addr)

	_, err = mem.Map(0x3000, 4096, ProtNone, "guard")
	require.NoError(t, err)
	err = mem.WriteU64(0x2FFC, 1)
	require.ErrorAs(t, err, &it)
	assert.Equal(t, IntProtection, it.Kind, "guard page tail")
	assert.Equal(t, uint64(0x3000), it.Addr)
	assert.Equal(t, AccessWrite, it.Access)

	v, err := mem.ReadU32(0x2FFC)
	require.NoError(t, err)
	assert.Zero(t, v)
}

// TestMemoryProtectWhileReading 测试保护属性切换与读取并发
func TestMemoryProtectWhileReading(t *testing.T) {
	defer goleak.VerifyNone(t)
	mem := NewMemory()
	_, err := mem.Map(0x4000, 4096, ProtRead, "trigger")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			prot := ProtRead
			if i%2 == 0 {
				prot = ProtNone
			}
			assert.NoError(t, mem.Protect(0x4000, prot))
		}
	}()
	for i := 0; i < 1000; i++ {
		_, err := mem.ReadU64(0x4000)
		if err != nil {
			var it *Interrupt
			require.ErrorAs(t, err, &it)
			assert.Equal(t, IntProtection, it.Kind)
		}
	}
	<-done
	require.NoError(t, mem.Protect(0x4000, ProtRead))
	_, err = mem.ReadU64(0x4000)
	assert.NoError(t, err)
}

// TestCallFrameAndStackArgs 测试调用约定：寄存器参数与栈参数
func TestCallFrameAndStackArgs(t *testing.T) {
	c := load(t, func(a *platform.Assembler) {
		// r2 = r2 + r6 + 160(r15) + 168(r15)
		a.AGR(platform.R2, platform.R6)
		a.RXY(platform.OpAG, 2, 0, 15, 160)
		a.RXY(platform.OpAG, 2, 0, 15, 168)
		a.BR(platform.R14)
	})
	sp := c.GPR[platform.SP]
	got, err := c.Call(codeBase, 1, 0, 0, 0, 10, 100, 1000)
	require.NoError(t, err)
	assert.Equal(t, uint64(1111), got)
	assert.Equal(t, sp, c.GPR[platform.SP])
}

// TestArithmeticConditionCodes 测试算术与逻辑运算的条件码
func TestArithmeticConditionCodes(t *testing.T) {
	tests := []struct {
		name   string
		op     platform.Op
		a, b   uint64
		want   uint64
		wantCC uint8
	}{
		{"ar-overflow", platform.OpAR, math.MaxInt32, math.MaxInt32, 0xFFFFFFFE, 3},
		{"ar-negative", platform.OpAR, 1, 0xFFFFFFFE, 0xFFFFFFFF, 1},
		{"sr-zero", platform.OpSR, 5, 5, 0, 0},
		{"alr-carry", platform.OpALR, 0xFFFFFFFF, 1, 0, 2},
		{"slr-borrow", platform.OpSLR, 1, 2, 0xFFFFFFFF, 1},
		{"slr-equal", platform.OpSLR, 2, 2, 0, 2},
		{"agr-overflow", platform.OpAGR, math.MaxInt64, 1, 1 << 63, 3},
		{"sgr-positive", platform.OpSGR, 10, 3, 7, 2},
		{"algr-carry-nonzero", platform.OpALGR, math.MaxUint64, 2, 1, 3},
		{"slgr-borrow", platform.OpSLGR, 0, 1, math.MaxUint64, 1},
		{"ngr-zero", platform.OpNGR, 0xF0, 0x0F, 0, 0},
		{"xgr", platform.OpXGR, 0xFF, 0x0F, 0xF0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := load(t, func(a *platform.Assembler) {
				if tt.op.Fmt == platform.FmtRR {
					a.RR(tt.op, 2, 3)
				} else {
					a.RRE(tt.op, 2, 3)
				}
				a.BR(platform.R14)
			})
			got, err := c.Call(codeBase, tt.a, tt.b)
			require.NoError(t, err)
			if tt.op.Fmt == platform.FmtRR {
				got = uint64(uint32(got))
			}
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantCC, c.CC)
		})
	}
}

// TestBranchesAndLoops 测试条件分支与循环
func TestBranchesAndLoops(t *testing.T) {
	// 计算 1+2+...+n
	c := load(t, func(a *platform.Assembler) {
		a.LGHI(platform.R3, 0)
		a.Label(1)
		a.AGR(platform.R3, platform.R2)
		a.AGHI(platform.R2, -1)
		a.BranchTo(platform.CondGT, 1)
		a.LGR(platform.R2, platform.R3)
		a.BR(platform.R14)
	})
	got, err := c.Call(codeBase, 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(5050), got)
}

// TestDivide 测试除法指令与定点除法中断
func TestDivide(t *testing.T) {
	c := load(t, func(a *platform.Assembler) {
		a.LGR(platform.R1, platform.R2)
		a.RRE(platform.OpDSGR, 0, 3)
		a.LGR(platform.R2, platform.R1)
		a.LGR(platform.R3, platform.R0)
		a.BR(platform.R14)
	})
	q, err := c.Call(codeBase, uint64(^uint64(0)-99), 7) // -100 / 7
	require.NoError(t, err)
	assert.Equal(t, int64(-14), int64(q))
	assert.Equal(t, int64(-2), int64(c.GPR[3]))

	_, err = c.Call(codeBase, 1, 0)
	var it *Interrupt
	require.ErrorAs(t, err, &it)
	assert.Equal(t, IntFixedDivide, it.Kind)
	assert.Equal(t, codeBase+4, it.PC)
	assert.Equal(t, 4, it.ILC)
}

// TestShifts 测试移位
func TestShifts(t *testing.T) {
	c := load(t, func(a *platform.Assembler) {
		a.RSY(platform.OpSLAG, 4, 2, 0, 62)
		a.RSY(platform.OpSRAG, 2, 2, 3, 0)
		a.BR(platform.R14)
	})
	got, err := c.Call(codeBase, uint64(^uint64(7)), 1) // -8 >> 1
	require.NoError(t, err)
	assert.Equal(t, int64(-4), int64(got))
	assert.Equal(t, uint8(1), c.CC)
	assert.Equal(t, uint64(1<<63), c.GPR[4], "slag keeps the sign")
}

// TestFloatConversions 测试浮点运算、转换与短浮点布局
func TestFloatConversions(t *testing.T) {
	c := load(t, func(a *platform.Assembler) {
		a.RRE(platform.OpCDGBR, 0, 2)    // f0 = (double)r2
		a.RRE(platform.OpCDGBR, 2, 3)    // f2 = (double)r3
		a.RRE(platform.OpDDBR, 0, 2)     // f0 /= f2
		a.RRF(platform.OpCGDBR, 4, 5, 0) // r4 = trunc(f0)
		a.RRE(platform.OpLEDBR, 6, 0)    // f6 = (float)f0
		a.RRE(platform.OpCDBR, 0, 2)     // cc
		a.BR(platform.R14)
	})
	f, err := c.CallFloat(codeBase, uint64(^uint64(6)), 2) // -7 / 2
	require.NoError(t, err)
	assert.Equal(t, -3.5, f)
	assert.Equal(t, int64(-3), int64(c.GPR[4]))
	assert.Equal(t, float32(-3.5), c.F32(platform.F6))
	assert.Equal(t, uint8(1), c.CC)

	c.SetF64(platform.F0, math.NaN())
	v, cc := toInt(c.F64(platform.F0), 5, math.MinInt32, math.MaxInt32)
	assert.Equal(t, int64(math.MinInt32), v)
	assert.Equal(t, uint8(3), cc)
}

// TestHooks 测试钩子调用、返回与重定向
func TestHooks(t *testing.T) {
	c := load(t, func(a *platform.Assembler) {
		a.STMG(platform.R14, platform.R15, platform.SP, 112)
		a.AGHI(platform.SP, -160)
		a.LoadAbsValue(platform.R1, HookBase)
		a.BASR(platform.R14, platform.R1)
		a.AGHI(platform.R2, 1)
		a.AGHI(platform.SP, 160)
		a.LMG(platform.R14, platform.R15, platform.SP, 112)
		a.BR(platform.R14)
	})
	double := c.Symbol("double", func(c *CPU) error {
		c.GPR[2] *= 2
		return nil
	})
	require.Equal(t, HookBase, double)
	name, ok := c.HookName(double)
	require.True(t, ok)
	assert.Equal(t, "double", name)

	got, err := c.Call(codeBase, 20)
	require.NoError(t, err)
	assert.Equal(t, uint64(41), got)

	// 嵌套调用：钩子内部再次执行生成代码
	inner := c.Symbol("inner", func(c *CPU) error {
		v, err := c.Call(codeBase, 1)
		c.GPR[2] = v * 100
		return err
	})
	got, err = c.Call(inner)
	require.NoError(t, err)
	assert.Equal(t, uint64(300), got)

	// 重定向：钩子不返回而是跳入代码，r14 保持调用者的返回地址
	redirect := c.Symbol("redirect", func(c *CPU) error {
		c.GPR[2] = 5
		c.Jump(codeBase)
		return nil
	})
	got, err = c.Call(redirect)
	require.NoError(t, err)
	assert.Equal(t, uint64(11), got)
}

// TestInterruptHandlerSkips 测试中断处理函数跳过故障指令
func TestInterruptHandlerSkips(t *testing.T) {
	const page uint64 = 0x5000
	c := load(t, func(a *platform.Assembler) {
		a.LoadConst(platform.R1, int64(page))
		a.LG(platform.R0, platform.R1, 0)
		a.LGHI(platform.R2, 7)
		a.BR(platform.R14)
	})
	_, err := c.Mem.Map(page, 4096, ProtNone, "trigger")
	require.NoError(t, err)

	var faults []uint64
	c.OnInterrupt = func(c *CPU, it *Interrupt) bool {
		if it.Kind != IntProtection || it.Addr != page {
			return false
		}
		faults = append(faults, it.PC)
		c.PSW += uint64(it.ILC)
		return true
	}
	got, err := c.Call(codeBase)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), got)
	assert.Equal(t, []uint64{codeBase + 4}, faults)
}

// TestStepLimit 测试死循环被指令数上限终止
func TestStepLimit(t *testing.T) {
	c := load(t, func(a *platform.Assembler) {
		a.BRC(platform.CondAlways, 0)
	})
	c.MaxSteps = 1000
	_, err := c.Call(codeBase)
	assert.ErrorIs(t, err, ErrStepLimit)
}
