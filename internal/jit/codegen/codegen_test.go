package codegen

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tangzhangming/novajit/internal/errors"
	"github.com/tangzhangming/novajit/internal/jit/abi"
	"github.com/tangzhangming/novajit/internal/jit/codebuf"
	"github.com/tangzhangming/novajit/internal/jit/platform"
	"github.com/tangzhangming/novajit/internal/jit/types"
)

// ============================================================================
// 辅助函数
// ============================================================================

func inst(op types.Opcode, fn func(i *types.Inst)) *types.Inst {
	i := types.NewInst(op)
	if fn != nil {
		fn(i)
	}
	return i
}

func ret() *types.Inst { return types.NewInst(types.OP_RET) }

func method(sig *types.Signature, blocks ...[]*types.Inst) *types.Method {
	m := &types.Method{ID: 7, Name: "test", Sig: sig}
	for i, insts := range blocks {
		m.Blocks = append(m.Blocks, &types.Block{ID: i, Insts: insts})
	}
	return m
}

func compile(t *testing.T, m *types.Method) *Result {
	t.Helper()
	Prepare(m)
	frame := abi.Layout(m, abi.Classify(m.Sig, abi.DefaultPolicy()))
	res, err := Emit(m, frame, Options{})
	require.NoError(t, err)
	return res
}

// decode 解码 [from, to) 范围内的指令
func decode(t *testing.T, code []byte, from, to int) []platform.Inst {
	t.Helper()
	var out []platform.Inst
	for off := from; off < to; {
		in, err := platform.Decode(code[off:])
		require.NoError(t, err, "at %#x", off)
		out = append(out, in)
		off += in.Len
	}
	return out
}

func names(ins []platform.Inst) []string {
	out := make([]string, len(ins))
	for i, in := range ins {
		out[i] = in.Op.Name
	}
	return out
}

func texts(ins []platform.Inst) []string {
	out := make([]string, len(ins))
	for i, in := range ins {
		out[i] = in.String()
	}
	return out
}

func count(ss []string, s string) int {
	n := 0
	for _, x := range ss {
		if x == s {
			n++
		}
	}
	return n
}

func fatalCode(fn func()) (code string) {
	defer func() {
		if ie, ok := recover().(*errors.InternalError); ok {
			code = ie.Code
		}
	}()
	fn()
	return ""
}

// ============================================================================
// 序言与尾声
// ============================================================================

// TestEmitMinimalMethod 测试最小方法的序言和尾声
func TestEmitMinimalMethod(t *testing.T) {
	res := compile(t, method(&types.Signature{}, []*types.Inst{ret()}))

	ins := decode(t, res.Code, 0, len(res.Code))
	assert.Equal(t, []string{"stmg", "lgr", "aghi", "stg", "la", "lmg", "bcr"}, names(ins))
	assert.Equal(t, "aghi\t%r15,-160", ins[2].String())
	assert.Equal(t, "la\t%r15,160(%r15)", ins[4].String())
	assert.Equal(t, res.PrologLen, res.EpilogOffset, "ret in last position falls through")
	assert.Empty(t, res.Patches)
}

// TestPrologStoresArguments 测试参数寄存器落地
func TestPrologStoresArguments(t *testing.T) {
	sig := &types.Signature{Params: []types.Param{
		{Kind: types.TypeI1}, {Kind: types.TypeI8}, {Kind: types.TypeR8}, {Kind: types.TypeR4},
		{Kind: types.TypeValueType, Size: 3},
	}}
	res := compile(t, method(sig, []*types.Inst{ret()}))
	got := texts(decode(t, res.Code, 0, res.PrologLen))
	assert.Contains(t, got, "stc\t%r2,160(%r15)")
	assert.Contains(t, got, "stg\t%r3,168(%r15)")
	assert.Contains(t, got, "std\t%f0,176(%r15)")
	assert.Contains(t, got, "ste\t%f2,184(%r15)")
	// 按地址传递的结构体只保存地址
	assert.Contains(t, got, "stg\t%r4,192(%r15)")
}

// TestPrologFloatSaves 测试被调用者保存浮点寄存器的保存与恢复
func TestPrologFloatSaves(t *testing.T) {
	m := method(&types.Signature{}, []*types.Inst{ret()})
	m.UsedFPRegs = 1 << 8
	res := compile(t, m)
	alloc := res.Frame.AllocSize

	prolog := texts(decode(t, res.Code, 0, res.PrologLen))
	assert.Contains(t, prolog, "std\t%f8,"+itoa(alloc-8)+"(%r15)")
	epilog := texts(decode(t, res.Code, res.EpilogOffset, len(res.Code)))
	assert.Contains(t, epilog, "ldy\t%f8,-8(%r15)")
}

func itoa(v int) string { return strconv.Itoa(v) }

// TestPrologLMF 测试帧记录压入与出链
func TestPrologLMF(t *testing.T) {
	m := method(&types.Signature{Params: []types.Param{{Kind: types.TypeI8}}}, []*types.Inst{ret()})
	m.Flags = types.FlagSaveLMF
	res := compile(t, m)

	prolog := texts(decode(t, res.Code, 0, res.PrologLen))
	publish := indexOf(prolog, "stg\t%r13,0(%r2)")
	restore := indexOf(prolog, "lmg\t%r2,%r6,40(%r13)")
	require.NotEqual(t, -1, publish)
	require.NotEqual(t, -1, restore)
	assert.Less(t, publish, restore, "chain head is written last")
	assert.Equal(t, publish, restore-1)

	require.NotEmpty(t, res.CallSites)
	assert.Equal(t, SymGetLMFAddr, res.CallSites[0].Target.Name)

	epilog := texts(decode(t, res.Code, res.EpilogOffset, len(res.Code)))
	assert.Equal(t, "stg\t%r0,0(%r1)", epilog[3], "unlink: *lmfAddr = previous")
}

// TestPrologReloadsArgumentsAfterTrace 测试进入跟踪之后从槽位装回参数寄存器
func TestPrologReloadsArgumentsAfterTrace(t *testing.T) {
	sig := &types.Signature{Ret: types.Param{Kind: types.TypeI8}, Params: []types.Param{{Kind: types.TypeI8}, {Kind: types.TypeR8}}}
	m := method(sig, []*types.Inst{ret()})
	m.Flags = types.FlagTrace
	res := compile(t, m)

	require.NotEmpty(t, res.CallSites)
	enter := res.CallSites[0]
	require.Equal(t, SymTraceEnter, enter.Target.Name)
	after := texts(decode(t, res.Code, enter.Offset+platform.CallTemplateLen, res.PrologLen))
	require.Len(t, after, 2)
	assert.Regexp(t, `^lg\t%r2,\d+\(%r15\)$`, after[0])
	assert.Regexp(t, `^ld\t%f0,\d+\(%r15\)$`, after[1])
}

// TestPrologEpilogWithinBounds 测试序言与尾声不超过声明的最坏长度
func TestPrologEpilogWithinBounds(t *testing.T) {
	params := make([]types.Param, 0, 10)
	for i := 0; i < 7; i++ {
		params = append(params, types.Param{Kind: types.TypeI8})
	}
	params = append(params, types.Param{Kind: types.TypeR8}, types.Param{Kind: types.TypeR4})
	sig := &types.Signature{Ret: types.Param{Kind: types.TypeValueType, Size: 24}, Params: params}

	for _, flags := range []types.MethodFlags{
		0,
		types.FlagTrace,
		types.FlagSaveLMF | types.FlagSeqPoints,
		types.FlagSaveLMF | types.FlagSeqPoints | types.FlagSingleStep | types.FlagTrace | types.FlagNeedsRgctx | types.FlagHasAlloca,
	} {
		m := method(sig, []*types.Inst{ret()})
		m.Flags = flags
		m.UsedFPRegs = 0xFF00
		Prepare(m)
		frame := abi.Layout(m, abi.Classify(sig, abi.DefaultPolicy()))
		res, err := Emit(m, frame, Options{})
		require.NoError(t, err)

		e := &Emitter{m: m, frame: frame}
		assert.LessOrEqual(t, res.PrologLen, e.prologMaxLen(), "flags %#x", flags)
		assert.LessOrEqual(t, len(res.Code)-res.EpilogOffset, e.epilogMaxLen(), "flags %#x", flags)
	}
}

func indexOf(ss []string, s string) int {
	for i, x := range ss {
		if x == s {
			return i
		}
	}
	return -1
}

// ============================================================================
// 指令族
// ============================================================================

// TestCompareLookahead 测试比较指令根据下一条指令选择有符号或逻辑比较
func TestCompareLookahead(t *testing.T) {
	build := func(br types.Opcode) []string {
		m := method(&types.Signature{},
			[]*types.Inst{
				inst(types.OP_ICOMPARE, func(i *types.Inst) { i.Src1, i.Src2 = 2, 3 }),
				inst(br, func(i *types.Inst) { i.Target = 1 }),
			},
			[]*types.Inst{ret()},
		)
		res := compile(t, m)
		return names(decode(t, res.Code, res.PrologLen, res.EpilogOffset))
	}
	assert.Equal(t, "clr", build(types.OP_IBLT_UN)[0])
	assert.Equal(t, "cr", build(types.OP_IBLT)[0])
}

// TestOverflowSharesThrowSequence 测试同一异常类的检查点共用抛出序列
func TestOverflowSharesThrowSequence(t *testing.T) {
	add := func(src int) *types.Inst {
		return inst(types.OP_IADD_OVF, func(i *types.Inst) { i.Dst, i.Src1, i.Src2 = 2, 2, src })
	}
	res := compile(t, method(&types.Signature{}, []*types.Inst{add(3), add(4), ret()}))

	body := decode(t, res.Code, res.PrologLen, res.EpilogOffset)
	assert.Equal(t, []string{"lr", "ar", "brcl", "lgfr", "lr", "ar", "brcl", "lgfr"}, names(body))
	assert.Equal(t, uint8(platform.CondOV), body[2].R1)

	var throwSym int
	for _, p := range res.Patches {
		assert.NotEqual(t, codebuf.TargetException, p.Target.Kind)
		if p.Target.Kind == codebuf.TargetSymbol && p.Target.Name == SymThrowCorlib {
			throwSym++
		}
	}
	assert.Equal(t, 1, throwSym)

	// 第一个检查点的 BRCL 指向以 larl r14 开头的入口
	brcl := res.PrologLen + 4
	var site codebuf.Patch
	for _, p := range res.Patches {
		if p.Offset == brcl {
			site = p
		}
	}
	require.Equal(t, codebuf.TargetLabel, site.Target.Kind)
	entry := decode(t, res.Code, res.Labels[site.Target.Label], res.Labels[site.Target.Label]+6)
	assert.Equal(t, "larl", entry[0].Op.Name)
	assert.Equal(t, uint8(14), entry[0].R1)

	tail := names(decode(t, res.Code, res.Labels[site.Target.Label], len(res.Code)))
	assert.Equal(t, 2, count(tail, "larl"))
	assert.Equal(t, 1, count(tail, "lgfi"))
}

// TestDivisionChecks 测试除法的除零与溢出检查
func TestDivisionChecks(t *testing.T) {
	m := method(&types.Signature{}, []*types.Inst{
		inst(types.OP_IDIV, func(i *types.Inst) { i.Dst, i.Src1, i.Src2 = 2, 3, 4 }),
		inst(types.OP_IREM_UN, func(i *types.Inst) { i.Dst, i.Src1, i.Src2 = 2, 3, 4 }),
		ret(),
	})
	res := compile(t, m)
	all := decode(t, res.Code, res.PrologLen, len(res.Code))
	got := names(all)
	assert.Equal(t, 1, count(got, "dsgr"))
	assert.Equal(t, 1, count(got, "dlgr"))

	var tokens []int64
	for _, in := range all {
		if in.Op.Name == "lgfi" && in.R1 == 2 {
			tokens = append(tokens, in.I)
		}
	}
	assert.ElementsMatch(t, []int64{
		int64(ExceptionToken(ExcDivideByZero)), int64(ExceptionToken(ExcOverflow)),
	}, tokens)
}

// TestSetCC 测试比较结果物化
func TestSetCC(t *testing.T) {
	m := method(&types.Signature{}, []*types.Inst{
		inst(types.OP_FCOMPARE, func(i *types.Inst) { i.Src1, i.Src2 = 0, 2 }),
		inst(types.OP_CLT_UN, func(i *types.Inst) { i.Dst = 3 }),
		ret(),
	})
	res := compile(t, m)
	body := decode(t, res.Code, res.PrologLen, res.EpilogOffset)
	require.Equal(t, []string{"cdbr", "lghi", "brc", "lghi"}, names(body))
	assert.Equal(t, uint8(platform.CondLT|platform.CondUnordered), body[2].R1)
	assert.Equal(t, int64(4), body[2].I)
}

// TestSwitchTable 测试跳转表补丁
func TestSwitchTable(t *testing.T) {
	m := method(&types.Signature{},
		[]*types.Inst{inst(types.OP_SWITCH, func(i *types.Inst) {
			i.Src1 = 2
			i.Targets = []int{1, 2, 1}
		})},
		[]*types.Inst{ret()},
		[]*types.Inst{ret()},
	)
	res := compile(t, m)

	var slots []codebuf.Patch
	for _, p := range res.Patches {
		if p.Kind == codebuf.KindTableSlot {
			slots = append(slots, p)
		}
	}
	require.Len(t, slots, 3)
	for i, p := range slots {
		assert.Equal(t, slots[0].TableBase, p.TableBase)
		assert.Equal(t, p.TableBase+8*i, p.Offset)
	}
	assert.Equal(t, 1, slots[0].Target.Label)
	assert.Equal(t, 2, slots[1].Target.Label)

	require.NoError(t, codebuf.Resolve(res.Code, 0x10000, res.Patches, res.Labels, nil))
}

// TestSeqPointSlot 测试序列点槽位编码
func TestSeqPointSlot(t *testing.T) {
	m := method(&types.Signature{}, []*types.Inst{
		inst(types.OP_SEQ_POINT, func(i *types.Inst) { i.ILOffset = 12 }),
		ret(),
	})
	m.Flags = types.FlagSeqPoints | types.FlagSingleStep
	res := compile(t, m)

	require.Len(t, res.SeqPoints, 1)
	sp := res.SeqPoints[0]
	assert.Equal(t, 12, sp.ILOffset)
	assert.Equal(t, SeqPointNop[:], res.Code[sp.Offset:sp.Offset+6])
	require.GreaterOrEqual(t, sp.Probe, res.PrologLen)
	probe := texts(decode(t, res.Code, sp.Probe, sp.Offset))
	assert.Len(t, probe, 3)
	assert.Equal(t, "lg\t%r0,0(%r1)", probe[1])
}

// TestCallRecordsSite 测试调用模板与结果移动
func TestCallRecordsSite(t *testing.T) {
	m := method(&types.Signature{}, []*types.Inst{
		inst(types.OP_CALL, func(i *types.Inst) {
			i.Dst = 7
			i.Call = &types.CallTarget{Kind: types.CallMethod, Method: 3}
		}),
		ret(),
	})
	res := compile(t, m)
	require.Len(t, res.CallSites, 1)
	cs := res.CallSites[0]
	assert.Zero(t, cs.Offset%4)
	assert.True(t, platform.IsCallTemplate(res.Code, cs.Offset))
	assert.Equal(t, codebuf.TargetMethod, cs.Target.Kind)
	after := decode(t, res.Code, cs.Offset+platform.CallTemplateLen, cs.Offset+platform.CallTemplateLen+4)
	assert.Equal(t, "lgr\t%r7,%r2", after[0].String())
}

// TestHandlerVars 测试 finally 块保存与返回
func TestHandlerVars(t *testing.T) {
	m := method(&types.Signature{},
		[]*types.Inst{
			inst(types.OP_CALL_HANDLER, func(i *types.Inst) { i.Target = 1 }),
			ret(),
		},
		[]*types.Inst{
			types.NewInst(types.OP_START_HANDLER),
			types.NewInst(types.OP_ENDFINALLY),
		},
	)
	m.Clauses = []types.Clause{{Kind: types.ClauseFinally, TryStart: 0, TryEnd: 1, HandlerBlock: 1}}
	res := compile(t, m)

	off := res.Frame.HandlerVars[1]
	handler := texts(decode(t, res.Code, res.Labels[1], res.EpilogOffset))
	assert.Equal(t, []string{
		"stg\t%r14," + itoa(int(off)) + "(%r11)",
		"lg\t%r14," + itoa(int(off)) + "(%r11)",
		"bcr\t15,%r14",
	}, handler)

	require.Len(t, res.Clauses, 1)
	assert.Equal(t, res.Labels[1], res.Clauses[0].Handler)
	assert.Equal(t, res.PrologLen, res.Clauses[0].TryStart)
	assert.Equal(t, res.Labels[1], res.Clauses[0].TryEnd)
}

// TestFragmentsHonorMaxLen 测试代表性指令不超过声明的最坏长度
func TestFragmentsHonorMaxLen(t *testing.T) {
	sig := &types.Signature{Params: []types.Param{{Kind: types.TypeI8}}}
	insts := []*types.Inst{
		inst(types.OP_I8CONST, func(i *types.Inst) { i.Dst, i.Imm = 2, 0x123456789 }),
		inst(types.OP_R8CONST, func(i *types.Inst) { i.Dst, i.FImm = 2, 3.25 }),
		inst(types.OP_LDADDR, func(i *types.Inst) { i.Dst, i.Slot = 3, types.Slot{Kind: types.SlotArg} }),
		inst(types.OP_LOADI8_MEMBASE, func(i *types.Inst) { i.Dst, i.Base, i.Offset = 2, 3, 1 << 21 }),
		inst(types.OP_STOREI8_MEMBASE_IMM, func(i *types.Inst) { i.Base, i.Offset, i.Imm = 3, 1 << 21, -1 << 40 }),
		inst(types.OP_LDIV, func(i *types.Inst) { i.Dst, i.Src1, i.Src2 = 4, 4, 5 }),
		inst(types.OP_LAND_IMM, func(i *types.Inst) { i.Dst, i.Src1, i.Imm = 4, 5, 0x7FFF00000001 }),
		inst(types.OP_ISHR_UN, func(i *types.Inst) { i.Dst, i.Src1, i.Src2 = 4, 5, 6 }),
		inst(types.OP_LSUB_OVF_UN, func(i *types.Inst) { i.Dst, i.Src1, i.Src2 = 4, 5, 6 }),
		inst(types.OP_LCOMPARE_IMM, func(i *types.Inst) { i.Src1, i.Imm = 4, -1 << 40 }),
		inst(types.OP_FCONV_TO_I4, func(i *types.Inst) { i.Dst, i.Src1 = 4, 2 }),
		inst(types.OP_IMT_CALL, func(i *types.Inst) { i.Base, i.Offset, i.Imm, i.Dst = 2, 1 << 20, 1 << 40, 3 }),
		inst(types.OP_GENERIC_CLASS_INIT, func(i *types.Inst) {
			i.Src1, i.Offset, i.Imm = 4, 5000, 1
			i.Call = &types.CallTarget{Kind: types.CallClassInit}
		}),
		ret(),
	}
	m := method(sig, insts)
	frame := abi.Layout(m, abi.Classify(sig, abi.DefaultPolicy()))
	e := &Emitter{m: m, frame: frame, buf: codebuf.New(0, 0), nextLabel: LabelEpilog - 1}
	for i, ins := range insts {
		var next *types.Inst
		if i+1 < len(insts) {
			next = insts[i+1]
		}
		assert.NotPanics(t, func() {
			frag := e.EmitFragment(ins, next, 2)
			assert.LessOrEqual(t, len(frag.Code), MaxLen(ins), "%v", ins.Op)
		}, "%v", ins.Op)
	}
}

// TestInternalErrors 测试内部一致性错误
func TestInternalErrors(t *testing.T) {
	t.Run("unknown opcode", func(t *testing.T) {
		m := method(&types.Signature{}, []*types.Inst{{Op: types.Opcode(9999)}})
		code := fatalCode(func() { compile(t, m) })
		assert.Equal(t, errors.J1001, code)
	})
	t.Run("tail call through r6", func(t *testing.T) {
		m := method(&types.Signature{Params: []types.Param{
			{Kind: types.TypeI8}, {Kind: types.TypeI8}, {Kind: types.TypeI8}, {Kind: types.TypeI8}, {Kind: types.TypeI8},
		}}, []*types.Inst{inst(types.OP_TAILCALL, func(i *types.Inst) {
			i.Call = &types.CallTarget{Kind: types.CallMethod, Method: 1}
		})})
		assert.Equal(t, errors.J1005, fatalCode(func() { compile(t, m) }))
	})
	t.Run("buffer limit", func(t *testing.T) {
		m := method(&types.Signature{}, []*types.Inst{ret()})
		frame := abi.Layout(m, abi.Classify(m.Sig, abi.DefaultPolicy()))
		_, err := Emit(m, frame, Options{InitialSize: 16, MaxSize: 16})
		require.Error(t, err)
		assert.Equal(t, errors.J2001, errors.CodeOf(err))
	})
}

// TestExceptionTokens 测试异常类标记
func TestExceptionTokens(t *testing.T) {
	assert.Equal(t, int32(3), ExceptionToken(ExcOverflow))
	name, ok := ExceptionName(ExceptionToken(ExcNullReference))
	require.True(t, ok)
	assert.Equal(t, ExcNullReference, name)

	custom := ExceptionToken("My.CustomException")
	assert.Equal(t, custom, ExceptionToken("My.CustomException"))
	_, ok = ExceptionName(0)
	assert.False(t, ok)
}
