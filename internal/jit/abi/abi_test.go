package abi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tangzhangming/novajit/internal/errors"
	"github.com/tangzhangming/novajit/internal/jit/platform"
	"github.com/tangzhangming/novajit/internal/jit/types"
)

func ints(n int) []types.Param {
	out := make([]types.Param, n)
	for i := range out {
		out[i] = types.Param{Kind: types.TypeI4}
	}
	return out
}

// TestClassifySevenInts 测试 7 个整数参数：前 5 个进寄存器，后 2 个按顺序上栈
func TestClassifySevenInts(t *testing.T) {
	sig := &types.Signature{Params: ints(7), Ret: types.Param{Kind: types.TypeI4}}
	ci := Classify(sig, DefaultPolicy())

	require.Len(t, ci.Args, 7)
	for i := 0; i < 5; i++ {
		assert.Equal(t, ArgGeneral, ci.Args[i].Storage)
		assert.Equal(t, 2+i, ci.Args[i].Reg)
	}
	assert.Equal(t, ArgBase, ci.Args[5].Storage)
	assert.Equal(t, 160, ci.Args[5].Offset)
	assert.Equal(t, ArgBase, ci.Args[6].Storage)
	assert.Equal(t, 168, ci.Args[6].Offset)
	assert.Equal(t, 16, ci.Sizes.StackSize)
	assert.True(t, ci.HasStackArgs())
	assert.Equal(t, ArgGeneral, ci.Ret.Storage)
	assert.Equal(t, int(ReturnReg), ci.Ret.Reg)
}

// TestClassifyOddStruct 测试 3 字节结构体按地址传递
func TestClassifyOddStruct(t *testing.T) {
	sig := &types.Signature{
		Params: []types.Param{{Kind: types.TypeValueType, Size: 3, Align: 1}, {Kind: types.TypeI8}},
	}
	ci := Classify(sig, DefaultPolicy())
	require.Len(t, ci.Args, 2)
	assert.Equal(t, ArgStructByAddr, ci.Args[0].Storage)
	assert.Equal(t, 2, ci.Args[0].Reg)
	assert.Equal(t, 3, ci.Args[0].VTSize)
	assert.Equal(t, PtrSize, ci.Args[0].Size)
	// 地址只占一个整数槽位
	assert.Equal(t, 3, ci.Args[1].Reg)
	assert.Equal(t, 8, ci.Sizes.ParmSize)
}

// TestClassifyStructSizes 测试结构体大小分类
func TestClassifyStructSizes(t *testing.T) {
	tests := []struct {
		size int
		want ArgStorage
	}{
		{0, ArgStructByVal},
		{1, ArgStructByVal},
		{2, ArgStructByVal},
		{3, ArgStructByAddr},
		{4, ArgStructByVal},
		{6, ArgStructByAddr},
		{8, ArgStructByVal},
		{16, ArgStructByAddr},
	}
	for _, tt := range tests {
		sig := &types.Signature{Params: []types.Param{{Kind: types.TypeValueType, Size: tt.size, Align: 1}}}
		ci := Classify(sig, DefaultPolicy())
		assert.Equal(t, tt.want, ci.Args[0].Storage, "size %d", tt.size)
	}
}

// TestClassifyStructOnStack 测试整数寄存器用完后结构体地址上栈
func TestClassifyStructOnStack(t *testing.T) {
	params := append(ints(5), types.Param{Kind: types.TypeValueType, Size: 12, Align: 4})
	ci := Classify(&types.Signature{Params: params}, DefaultPolicy())
	last := ci.Args[5]
	assert.Equal(t, ArgStructByAddrOnStack, last.Storage)
	assert.Equal(t, 160, last.Offset)
	assert.False(t, last.InReg())
}

// TestClassifyFloats 测试浮点寄存器独立计数
func TestClassifyFloats(t *testing.T) {
	sig := &types.Signature{Params: []types.Param{
		{Kind: types.TypeR8}, {Kind: types.TypeI4}, {Kind: types.TypeR4},
		{Kind: types.TypeR8}, {Kind: types.TypeR8}, {Kind: types.TypeR8},
		{Kind: types.TypeValueType, Size: 8, Align: 8, SingleFloat: types.TypeR8},
	}, Ret: types.Param{Kind: types.TypeR8}}
	ci := Classify(sig, DefaultPolicy())

	assert.Equal(t, ArgFP, ci.Args[0].Storage)
	assert.Equal(t, 0, ci.Args[0].Reg)
	assert.Equal(t, 2, ci.Args[1].Reg)
	assert.Equal(t, ArgFPR4, ci.Args[2].Storage)
	assert.Equal(t, 2, ci.Args[2].Reg)
	assert.Equal(t, 4, ci.Args[3].Reg)
	assert.Equal(t, 6, ci.Args[4].Reg)
	assert.Equal(t, ArgBase, ci.Args[5].Storage)
	assert.Equal(t, 160, ci.Args[5].Offset)
	assert.True(t, ci.Args[5].IsFloat())
	// 单浮点字段结构体按浮点处理
	assert.Equal(t, ArgBase, ci.Args[6].Storage)
	assert.Equal(t, 168, ci.Args[6].Offset)
	assert.Equal(t, ArgFP, ci.Ret.Storage)
}

// TestClassifyVarargs 测试可变参数 cookie 的两种策略
func TestClassifyVarargs(t *testing.T) {
	sig := &types.Signature{
		Params:      []types.Param{{Kind: types.TypeI4}, {Kind: types.TypeI4}, {Kind: types.TypeR8}},
		Variadic:    true,
		SentinelPos: 1,
	}

	t.Run("on-stack", func(t *testing.T) {
		ci := Classify(sig, Policy{Varargs: VarargsOnStack})
		assert.Equal(t, 2, ci.Args[0].Reg)
		assert.Equal(t, ArgBase, ci.SigCookie.Storage)
		assert.Equal(t, 160, ci.SigCookie.Offset)
		assert.Equal(t, 168, ci.Args[1].Offset)
		assert.Equal(t, ArgBase, ci.Args[2].Storage)
		assert.Equal(t, 176, ci.Args[2].Offset)
	})

	t.Run("cookie-in-next-slot", func(t *testing.T) {
		ci := Classify(sig, Policy{Varargs: VarargsCookieInNextSlot})
		assert.Equal(t, ArgGeneral, ci.SigCookie.Storage)
		assert.Equal(t, 3, ci.SigCookie.Reg)
		assert.Equal(t, 4, ci.Args[1].Reg)
		assert.Equal(t, ArgFP, ci.Args[2].Storage)
	})

	t.Run("registers exhausted at boundary", func(t *testing.T) {
		s := &types.Signature{Params: append(ints(6), types.Param{Kind: types.TypeI4}), Variadic: true, SentinelPos: 6}
		ci := Classify(s, Policy{Varargs: VarargsCookieInNextSlot})
		assert.Equal(t, 160, ci.Args[5].Offset)
		assert.Equal(t, 168, ci.SigCookie.Offset)
		assert.Equal(t, 176, ci.Args[6].Offset)
	})

	t.Run("no params", func(t *testing.T) {
		ci := Classify(&types.Signature{Variadic: true}, DefaultPolicy())
		assert.Equal(t, 160, ci.SigCookie.Offset)
		assert.Empty(t, ci.Args)
	})

	t.Run("sentinel after last", func(t *testing.T) {
		ci := Classify(&types.Signature{Params: ints(2), Variadic: true, SentinelPos: 2},
			Policy{Varargs: VarargsCookieInNextSlot})
		assert.Equal(t, 4, ci.SigCookie.Reg)
	})
}

// TestClassifyVret 测试结构体返回值地址的位置
func TestClassifyVret(t *testing.T) {
	big := types.Param{Kind: types.TypeValueType, Size: 24, Align: 8}

	t.Run("after receiver", func(t *testing.T) {
		ci := Classify(&types.Signature{HasThis: true, Params: ints(1), Ret: big}, DefaultPolicy())
		require.True(t, ci.StructRet)
		assert.Equal(t, 2, ci.Args[0].Reg)
		assert.Equal(t, ArgStructByAddr, ci.Ret.Storage)
		assert.Equal(t, 3, ci.Ret.Reg)
		assert.Equal(t, 1, ci.VretArgIndex)
		assert.Equal(t, 4, ci.Args[1].Reg)
		assert.Equal(t, 24, ci.Sizes.RetStruct)
	})

	t.Run("receiver stays first without policy", func(t *testing.T) {
		ci := Classify(&types.Signature{HasThis: true, Params: ints(1), Ret: big}, Policy{})
		assert.Equal(t, 2, ci.Args[0].Reg)
		assert.Equal(t, 3, ci.Ret.Reg)
		assert.Equal(t, 1, ci.VretArgIndex)
		assert.Equal(t, 4, ci.Args[1].Reg)
	})

	t.Run("reference first param", func(t *testing.T) {
		sig := &types.Signature{Params: []types.Param{{Kind: types.TypeObject}, {Kind: types.TypeI4}}, Ret: big}
		ci := Classify(sig, DefaultPolicy())
		assert.Equal(t, 2, ci.Args[0].Reg)
		assert.Equal(t, 3, ci.Ret.Reg)
		assert.Equal(t, 4, ci.Args[1].Reg)

		ci = Classify(sig, Policy{})
		assert.Equal(t, 2, ci.Ret.Reg)
		assert.Equal(t, 0, ci.VretArgIndex)
		assert.Equal(t, 3, ci.Args[0].Reg)
	})

	t.Run("pinvoke with receiver", func(t *testing.T) {
		sig := &types.Signature{HasThis: true, PInvoke: true, Params: ints(1), Ret: big}
		ci := Classify(sig, DefaultPolicy())
		assert.Equal(t, 2, ci.Args[0].Reg, "this")
		assert.Equal(t, 3, ci.Ret.Reg, "vret")
		assert.Equal(t, 4, ci.Args[1].Reg)
		assert.Equal(t, 1, ci.VretArgIndex)
	})

	t.Run("pinvoke keeps vret before reference param", func(t *testing.T) {
		sig := &types.Signature{PInvoke: true, Params: []types.Param{{Kind: types.TypeObject}}, Ret: big}
		ci := Classify(sig, DefaultPolicy())
		assert.Equal(t, 2, ci.Ret.Reg)
		assert.Equal(t, 3, ci.Args[0].Reg)
	})

	t.Run("small struct in register", func(t *testing.T) {
		ci := Classify(&types.Signature{Ret: types.Param{Kind: types.TypeValueType, Size: 4}}, DefaultPolicy())
		assert.False(t, ci.StructRet)
		assert.Equal(t, ArgStructByVal, ci.Ret.Storage)
	})
}

// TestTailcallSupported 测试尾调用可行性判断
func TestTailcallSupported(t *testing.T) {
	sig := func(params ...types.Param) *types.Signature { return &types.Signature{Params: params} }
	big := types.Param{Kind: types.TypeValueType, Size: 24, Align: 8}
	r8 := types.Param{Kind: types.TypeR8}

	tests := []struct {
		name           string
		caller, callee *types.Signature
		want           bool
	}{
		{"registers only", sig(ints(2)...), sig(ints(4)...), true},
		{"floats", sig(), sig(r8, r8, r8, r8), true},
		{"struct by address in register", sig(), sig(big), true},
		{"small struct by value", sig(), sig(types.Param{Kind: types.TypeValueType, Size: 8}), true},
		{"callee argument in r6", sig(), sig(ints(5)...), false},
		{"caller argument in r6", sig(ints(5)...), sig(ints(1)...), false},
		{"callee stack arguments", sig(ints(7)...), sig(ints(7)...), false},
		{"float spills to stack", sig(), sig(r8, r8, r8, r8, r8), false},
		{"struct return takes r6", sig(), &types.Signature{Params: ints(4), Ret: big}, false},
		{"receiver and struct return", sig(), &types.Signature{HasThis: true, Params: ints(2), Ret: big}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TailcallSupported(tt.caller, tt.callee, DefaultPolicy()))
		})
	}
}

// TestClassifyDeterministic 测试分类结果只依赖输入
func TestClassifyDeterministic(t *testing.T) {
	sig := &types.Signature{
		HasThis: true,
		Params: []types.Param{
			{Kind: types.TypeI1}, {Kind: types.TypeR4}, {Kind: types.TypeValueType, Size: 3},
			{Kind: types.TypeTypedByRef}, {Kind: types.TypeI8}, {Kind: types.TypeU2}, {Kind: types.TypeString},
		},
		Ret:         types.Param{Kind: types.TypeValueType, Size: 40},
		Variadic:    true,
		SentinelPos: 5,
	}
	a := Classify(sig, DefaultPolicy())
	b := Classify(sig, DefaultPolicy())
	assert.Equal(t, a, b)
}

// TestClassifyUnknownTag 测试未知类型标签为致命错误
func TestClassifyUnknownTag(t *testing.T) {
	sig := &types.Signature{Params: []types.Param{{Kind: types.TypeKind(99)}}}
	defer func() {
		r := recover()
		require.NotNil(t, r)
		ie, ok := r.(*errors.InternalError)
		require.True(t, ok)
		assert.Equal(t, errors.J1002, ie.Code)
	}()
	Classify(sig, DefaultPolicy())
}

// TestLayoutBasic 测试帧布局的槽位分配
func TestLayoutBasic(t *testing.T) {
	m := &types.Method{
		Sig:    &types.Signature{Params: ints(7)},
		Locals: []types.Local{{Name: "a", Size: 4, Align: 4}, {Name: "b", Size: 16, Align: 8}},
		Flags:  types.FlagSaveLMF | types.FlagSeqPoints,
		// f8 和 f10
		UsedFPRegs: 1<<8 | 1<<10,
	}
	ci := Classify(m.Sig, DefaultPolicy())
	f := Layout(m, ci)

	assert.Equal(t, platform.SP, f.FrameReg)
	assert.True(t, f.UseBackChain)
	assert.Equal(t, 160, f.ParamArea)
	// 寄存器参数落地在出参区之后
	assert.Equal(t, VarLoc{Base: platform.SP, Offset: 160, Size: 4}, f.Args[0])
	assert.Equal(t, int64(176), f.Args[4].Offset)
	// 栈上参数右对齐
	assert.Equal(t, VarLoc{Base: BackChainReg, Offset: 164, Size: 4}, f.Args[5])
	assert.Equal(t, int64(172), f.Args[6].Offset)
	assert.Equal(t, int64(180), f.Locals[0].Offset)
	assert.Equal(t, int64(184), f.Locals[1].Offset)
	assert.True(t, HasVar(f.SSVarOffset))
	assert.True(t, HasVar(f.LMFOffset))
	assert.Zero(t, f.AllocSize%StackAlign)
	assert.Equal(t, 16, f.Shape.FPSize)
	assert.Equal(t, int64(f.AllocSize-16), f.FPSaveOffset())
	assert.LessOrEqual(t, f.LMFOffset+LMFSize, f.FPSaveOffset())
	require.NoError(t, f.Shape.Validate())
}

// TestLayoutFrameRegister 测试 localloc 或异常子句启用帧寄存器
func TestLayoutFrameRegister(t *testing.T) {
	m := &types.Method{Sig: &types.Signature{}, Clauses: []types.Clause{{Kind: types.ClauseFinally}}}
	f := Layout(m, Classify(m.Sig, DefaultPolicy()))
	assert.Equal(t, FrameReg, f.FrameReg)
	assert.False(t, f.UseBackChain)

	m = &types.Method{Sig: &types.Signature{}, Flags: types.FlagHasAlloca}
	f = Layout(m, Classify(m.Sig, DefaultPolicy()))
	assert.Equal(t, FrameReg, f.FrameReg)
}

// TestLayoutTrace 测试跟踪临时区下限
func TestLayoutTrace(t *testing.T) {
	m := &types.Method{Sig: &types.Signature{}, Flags: types.FlagTrace}
	f := Layout(m, Classify(m.Sig, DefaultPolicy()))
	assert.Equal(t, MinimalStackSize+TraceStackSize, f.AllocSize)

	m = &types.Method{Sig: &types.Signature{}}
	f = Layout(m, Classify(m.Sig, DefaultPolicy()))
	assert.Equal(t, MinimalStackSize, f.AllocSize)
}

// TestFrameShape 测试寄存器保存形状
func TestFrameShape(t *testing.T) {
	s := NewFrameShape(1<<8|1<<15|1<<2, 200, platform.SP, -1)
	gprs := s.GPRSaves()
	require.Len(t, gprs, 10)
	assert.Equal(t, SavedReg{Reg: 6, Offset: 48}, gprs[0])
	assert.Equal(t, SavedReg{Reg: 15, Offset: 120}, gprs[9])

	fprs := s.FPRSaves()
	require.Len(t, fprs, 2)
	assert.Equal(t, SavedReg{Reg: 8, Float: true, Offset: -16}, fprs[0])
	assert.Equal(t, SavedReg{Reg: 15, Float: true, Offset: -8}, fprs[1])
	assert.Equal(t, int64(184), s.SPRelative(-16))
	require.NoError(t, s.Validate())

	bad := NewFrameShape(0, 100, platform.SP, -1)
	assert.Error(t, bad.Validate())
}
