package debugtrap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tangzhangming/novajit/internal/errors"
	"github.com/tangzhangming/novajit/internal/jit/abi"
	"github.com/tangzhangming/novajit/internal/jit/codebuf"
	"github.com/tangzhangming/novajit/internal/jit/codecache"
	"github.com/tangzhangming/novajit/internal/jit/codegen"
	"github.com/tangzhangming/novajit/internal/jit/sim"
	"github.com/tangzhangming/novajit/internal/jit/types"
)

type fixture struct {
	cpu   *sim.CPU
	traps *Traps
	arena *codecache.Arena
	entry uint64
	res   *codegen.Result
}

// setup 编译一个带三个序列点的方法并装入模拟器
func setup(t *testing.T, flags types.MethodFlags) *fixture {
	t.Helper()
	mem := sim.NewMemory()
	region, err := codecache.NewSimRegion(mem, codecache.DefaultSimBase, 1<<16)
	require.NoError(t, err)
	arena := codecache.New(region)

	traps, err := New(NewSimPages(mem, DefaultSimPageBase), arena)
	require.NoError(t, err)
	t.Cleanup(func() { _ = traps.Close() })

	var insts []*types.Inst
	for _, il := range []int{0, 4, 9} {
		ins := types.NewInst(types.OP_SEQ_POINT)
		ins.ILOffset = il
		insts = append(insts, ins)
	}
	insts = append(insts, types.NewInst(types.OP_RET))
	m := &types.Method{ID: 1, Name: "stepper", Sig: &types.Signature{},
		Blocks: []*types.Block{{ID: 0, Insts: insts}}, Flags: flags}

	codegen.Prepare(m)
	frame := abi.Layout(m, abi.Classify(m.Sig, abi.DefaultPolicy()))
	res, err := codegen.Emit(m, frame, codegen.Options{})
	require.NoError(t, err)

	entry, err := arena.Alloc(len(res.Code), codecache.DefaultAlign)
	require.NoError(t, err)
	resolver := codebuf.ResolverFunc(func(tg codebuf.Target) (uint64, error) {
		if addr, ok := traps.Symbol(tg.Name); ok {
			return addr, nil
		}
		return 0, errors.Newf(errors.J3001, "%s", tg)
	})
	require.NoError(t, codebuf.Resolve(res.Code, entry, res.Patches, res.Labels, resolver))
	require.NoError(t, arena.Write(entry, res.Code))
	traps.Register(m.ID, entry, res.SeqPoints)

	cpu, err := sim.NewCPU(mem, 0)
	require.NoError(t, err)
	return &fixture{cpu: cpu, traps: traps, arena: arena, entry: entry, res: res}
}

type hit struct {
	kind Kind
	ip   uint64
}

func (f *fixture) run(t *testing.T) []hit {
	t.Helper()
	var hits []hit
	f.traps.Attach(f.cpu, func(k Kind, ip uint64) { hits = append(hits, hit{k, ip}) })
	sp := f.cpu.GPR[15]
	_, err := f.cpu.Call(f.entry)
	require.NoError(t, err)
	assert.Equal(t, sp-sim.MinFrame, f.cpu.LastReturnSP, "frame is balanced")
	return hits
}

// TestRunWithoutTraps 测试未启用时序列点不陷入
func TestRunWithoutTraps(t *testing.T) {
	f := setup(t, types.FlagSeqPoints|types.FlagSingleStep)
	assert.Empty(t, f.run(t))
	assert.Len(t, f.traps.Points(1), 3)
}

// TestSingleStepFaultsOncePerProbe 测试单步时每个探针恰好陷入一次
func TestSingleStepFaultsOncePerProbe(t *testing.T) {
	f := setup(t, types.FlagSeqPoints|types.FlagSingleStep)
	require.NoError(t, f.traps.StartSingleStep())
	require.True(t, f.traps.Stepping())

	hits := f.run(t)
	points := f.traps.Points(1)
	require.Len(t, hits, len(points))
	for i, p := range points {
		require.NotZero(t, p.Probe)
		assert.Equal(t, KindSingleStep, hits[i].kind)
		assert.Equal(t, p.Probe+6, hits[i].ip, "the load through the page faults")
	}
	assert.Equal(t, int64(3), f.traps.Hits())

	require.NoError(t, f.traps.StopSingleStep())
	assert.Empty(t, f.run(t))
}

// TestBreakpointToggle 测试断点设置与清除只改写一个字节
func TestBreakpointToggle(t *testing.T) {
	f := setup(t, types.FlagSeqPoints)
	p, ok := f.traps.Lookup(1, 4)
	require.True(t, ok)
	assert.Zero(t, p.Probe)

	require.NoError(t, f.traps.SetBreakpoint(p.Slot))
	slot, err := f.arena.Read(p.Slot, 6)
	require.NoError(t, err)
	assert.Equal(t, codegen.SeqPointTrap[:], slot)
	assert.True(t, f.traps.HasBreakpoint(p.Slot))

	hits := f.run(t)
	require.Equal(t, []hit{{KindBreakpoint, p.Slot}}, hits)

	require.NoError(t, f.traps.ClearBreakpoint(p.Slot))
	slot, err = f.arena.Read(p.Slot, 6)
	require.NoError(t, err)
	assert.Equal(t, codegen.SeqPointNop[:], slot)
	assert.Empty(t, f.run(t))

	err = f.traps.SetBreakpoint(f.entry)
	assert.Equal(t, errors.J1004, errors.CodeOf(err))
}

// TestClassify 测试故障地址分类
func TestClassify(t *testing.T) {
	f := setup(t, types.FlagSeqPoints)
	assert.Equal(t, KindBreakpoint, f.traps.Classify(f.traps.BPPage()))
	assert.Equal(t, KindSingleStep, f.traps.Classify(f.traps.SSPage()))
	assert.Equal(t, KindNone, f.traps.Classify(0x1234))
	assert.Equal(t, "single-step", KindSingleStep.String())

	addr, ok := f.traps.Symbol(codegen.SymBPTriggerPage)
	require.True(t, ok)
	assert.Equal(t, f.traps.BPPage(), addr)
}
