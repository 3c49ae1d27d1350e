package tramp

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tangzhangming/novajit/internal/errors"
	"github.com/tangzhangming/novajit/internal/jit/codebuf"
	"github.com/tangzhangming/novajit/internal/jit/codecache"
	"github.com/tangzhangming/novajit/internal/jit/platform"
	"github.com/tangzhangming/novajit/internal/jit/sim"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	dataBase   uint64 = 0x2000_0000
	threadBase uint64 = 0x2100_0000
)

type call struct {
	lmf, caller, payload uint64
	args                 [5]uint64
	head                 uint64
}

type env struct {
	cpu   *sim.CPU
	arena *codecache.Arena
	f     *Factory
	calls map[Kind][]call
	// 各回调的返回值
	compile func(payload uint64) uint64
	fetch   func(c call) uint64
	init    func(c call)
}

func newEnv(t *testing.T) *env {
	t.Helper()
	mem := sim.NewMemory()
	region, err := codecache.NewSimRegion(mem, codecache.DefaultSimBase, 1<<16)
	require.NoError(t, err)
	_, err = mem.Map(dataBase, 4096, sim.ProtRW, "data")
	require.NoError(t, err)
	_, err = mem.Map(threadBase, 4096, sim.ProtRW, "thread")
	require.NoError(t, err)
	cpu, err := sim.NewCPU(mem, 0)
	require.NoError(t, err)

	e := &env{cpu: cpu, arena: codecache.New(region), calls: make(map[Kind][]call)}
	hook := func(k Kind) sim.Hook {
		return func(c *sim.CPU) error {
			rec := call{lmf: c.GPR[2], caller: c.GPR[3], payload: c.GPR[4]}
			args, err := FrameArgs(c.Mem, rec.lmf)
			if err != nil {
				return err
			}
			rec.args = args
			if rec.head, err = c.Mem.ReadU64(threadBase); err != nil {
				return err
			}
			e.calls[k] = append(e.calls[k], rec)
			var ret uint64
			switch k {
			case KindJIT:
				ret = e.compile(rec.payload)
			case KindRgctxFetch:
				ret = e.fetch(rec)
			case KindClassInit:
				e.init(rec)
			}
			c.GPR[2] = ret
			return nil
		}
	}
	cb := Callbacks{
		Compile:    cpu.Symbol("compile", hook(KindJIT)),
		ClassInit:  cpu.Symbol("class_init", hook(KindClassInit)),
		RgctxFetch: cpu.Symbol("rgctx_fetch", hook(KindRgctxFetch)),
		GetLMFAddr: cpu.Symbol("get_lmf_addr", func(c *sim.CPU) error {
			c.GPR[2] = threadBase
			return nil
		}),
	}
	e.f, err = New(e.arena, cb)
	require.NoError(t, err)
	return e
}

// fn 汇编一段不需要重定位的代码并发布
func (e *env) fn(t *testing.T, emit func(a *platform.Assembler)) uint64 {
	t.Helper()
	buf := codebuf.New(64, 0)
	emit(platform.NewAssembler(buf))
	addr, err := e.arena.Publish(buf.Bytes(), codecache.DefaultAlign)
	require.NoError(t, err)
	return addr
}

// returns 返回常量的函数
func (e *env) returns(t *testing.T, v int16) uint64 {
	return e.fn(t, func(a *platform.Assembler) {
		a.LGHI(platform.R2, v)
		a.BR(platform.R14)
	})
}

// run 调用并检查栈平衡
func (e *env) run(t *testing.T, entry uint64, args ...uint64) uint64 {
	t.Helper()
	sp := e.cpu.GPR[15]
	v, err := e.cpu.Call(entry, args...)
	require.NoError(t, err)
	assert.Equal(t, sp-sim.MinFrame-stackArgs(len(args)), e.cpu.LastReturnSP, "unbalanced stack")
	return v
}

// stackArgs 第五个之后的整数参数在栈上占用的字节数
func stackArgs(n int) uint64 {
	if n <= 5 {
		return 0
	}
	return uint64(8 * (n - 5))
}

// ============================================================================
// 测试
// ============================================================================

// TestSpecificTemplate 测试特定蹦床由模板改写位移和负载得到
func TestSpecificTemplate(t *testing.T) {
	code, err := fillSpecific(specificTemplate(), 0x1000, 0x800, 0xDEADBEEF)
	require.NoError(t, err)
	require.Len(t, code, SpecificSize)
	in, err := platform.Decode(code)
	require.NoError(t, err)
	assert.Equal(t, platform.OpBRASL, in.Op)
	assert.Equal(t, int64(-0x400), in.I)
	assert.Equal(t, []byte{0, 0, 0, 0, 0xDE, 0xAD, 0xBE, 0xEF}, code[6:])

	_, err = fillSpecific(specificTemplate(), 0x1000, 0x1000+1<<33, 0)
	assert.Equal(t, errors.J3002, errors.CodeOf(err))
}

// TestJITTrampoline 测试懒编译蹦床保留参数并尾跳转到编译结果
func TestJITTrampoline(t *testing.T) {
	e := newEnv(t)
	add := e.fn(t, func(a *platform.Assembler) {
		a.AGR(platform.R2, platform.R3)
		a.AGR(platform.R2, platform.R6)
		a.BR(platform.R14)
	})
	e.compile = func(uint64) uint64 { return add }

	tr, err := e.f.Specific(KindJIT, 77)
	require.NoError(t, err)
	payload, err := e.f.Payload(tr)
	require.NoError(t, err)
	assert.Equal(t, uint64(77), payload)

	got := e.run(t, tr, 40, 2, 0, 0, 100)
	assert.Equal(t, uint64(142), got)

	require.Len(t, e.calls[KindJIT], 1)
	c := e.calls[KindJIT][0]
	assert.Equal(t, uint64(77), c.payload)
	assert.Equal(t, [5]uint64{40, 2, 0, 0, 100}, c.args)
	assert.Equal(t, c.lmf, c.head, "frame record is pushed during the callback")
	head, err := e.cpu.Mem.ReadU64(threadBase)
	require.NoError(t, err)
	assert.Zero(t, head, "frame record is unlinked after the callback")

	again, err := e.f.Specific(KindJIT, 77)
	require.NoError(t, err)
	assert.Equal(t, tr, again)
	assert.Equal(t, int64(1), e.f.Stats.Hits.Load())
}

// TestClassInitGate 测试初始化位置位后闸门直接返回
func TestClassInitGate(t *testing.T) {
	e := newEnv(t)
	vtable := dataBase + 0x100
	e.init = func(c call) {
		require.NoError(t, e.cpu.Mem.WriteU8(c.args[0]+9, 0x04))
	}
	gate, err := e.f.ClassInit(ClassInitGate{Offset: 9, Bit: 0x04}, 5)
	require.NoError(t, err)

	e.run(t, gate, vtable)
	e.run(t, gate, vtable)
	require.Len(t, e.calls[KindClassInit], 1)
	assert.Equal(t, uint64(5), e.calls[KindClassInit][0].payload)
	assert.Equal(t, vtable, e.calls[KindClassInit][0].args[0])
}

// TestRgctxFetch 测试槽位为空时经回调填充，之后走快路径
func TestRgctxFetch(t *testing.T) {
	e := newEnv(t)
	rgctx := dataBase + 0x200
	e.fetch = func(c call) uint64 {
		const v = 0xABCD
		require.NoError(t, e.cpu.Mem.WriteU64(c.args[0]+uint64(RgctxSlotOffset(c.payload)), v))
		return v
	}
	stub, err := e.f.RgctxFetch(3)
	require.NoError(t, err)

	assert.Equal(t, uint64(0xABCD), e.run(t, stub, rgctx))
	assert.Equal(t, uint64(0xABCD), e.run(t, stub, rgctx))
	assert.Len(t, e.calls[KindRgctxFetch], 1)
}

// TestIMT 测试线性与二分 IMT 桩
func TestIMT(t *testing.T) {
	tests := []struct {
		name string
		n    int
		fail bool
	}{
		{"linear", 3, false},
		{"linear-fail", 4, true},
		{"binary", 9, false},
		{"binary-fail", 11, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			var entries []IMTEntry
			for i := 0; i < tt.n; i++ {
				// 逆序给出，桩内按键排序
				key := uint64(0x1000_0000_0000 + (tt.n-i)*0x40)
				entries = append(entries, IMTEntry{Key: key, Target: e.returns(t, int16(tt.n-i))})
			}
			var fail uint64
			if tt.fail {
				fail = e.returns(t, -1)
			}
			thunk, err := e.f.IMT(entries, fail)
			require.NoError(t, err)

			for _, ent := range entries {
				e.cpu.GPR[9] = ent.Key
				got := e.run(t, thunk)
				want := (ent.Key - 0x1000_0000_0000) / 0x40
				assert.Equal(t, want, got, "key %#x", ent.Key)
			}
			if tt.fail {
				e.cpu.GPR[9] = 0x42
				assert.Equal(t, int64(-1), int64(e.run(t, thunk)))
			}

			again, err := e.f.IMT(entries, fail)
			require.NoError(t, err)
			assert.Equal(t, thunk, again)
		})
	}

	e := newEnv(t)
	_, err := e.f.IMT(nil, 0)
	assert.Equal(t, errors.J1005, errors.CodeOf(err))
}

// TestStaticRgctx 测试上下文经 r0 注入
func TestStaticRgctx(t *testing.T) {
	e := newEnv(t)
	target := e.fn(t, func(a *platform.Assembler) {
		a.LGR(platform.R2, platform.R0)
		a.BR(platform.R14)
	})
	tr, err := e.f.StaticRgctx(0x1122_3344_5566, target)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1122_3344_5566), e.run(t, tr))
}

// TestDelegates 测试委托调用桩
func TestDelegates(t *testing.T) {
	e := newEnv(t)
	l := DefaultDelegateLayout
	del := dataBase + 0x300
	sum := e.fn(t, func(a *platform.Assembler) {
		a.AGR(platform.R2, platform.R3)
		a.AGR(platform.R2, platform.R4)
		a.AGR(platform.R2, platform.R5)
		a.AGR(platform.R2, platform.R6)
		a.RXY(platform.OpAG, 2, 0, 15, 160)
		a.BR(platform.R14)
	})
	identity := e.fn(t, func(a *platform.Assembler) { a.BR(platform.R14) })

	t.Run("no target", func(t *testing.T) {
		require.NoError(t, e.cpu.Mem.WriteU64(del+uint64(l.MethodPtr), sum))
		stub, err := e.f.DelegateInvoke(l, false, 6)
		require.NoError(t, err)
		assert.Equal(t, uint64(21), e.run(t, stub, del, 1, 2, 3, 4, 5, 6))
		assert.Equal(t, uint64(5), e.cpu.GPR[6])
		assert.Equal(t, uint64(2), e.cpu.GPR[3])
	})
	t.Run("has target", func(t *testing.T) {
		require.NoError(t, e.cpu.Mem.WriteU64(del+uint64(l.MethodPtr), identity))
		require.NoError(t, e.cpu.Mem.WriteU64(del+uint64(l.Target), 0x1234))
		stub, err := e.f.DelegateInvoke(l, true, 0)
		require.NoError(t, err)
		assert.Equal(t, uint64(0x1234), e.run(t, stub, del))
	})
	t.Run("virtual", func(t *testing.T) {
		obj, vtable := dataBase+0x400, dataBase+0x500
		require.NoError(t, e.cpu.Mem.WriteU64(del+uint64(l.Target), obj))
		require.NoError(t, e.cpu.Mem.WriteU64(del+uint64(l.Method), 0x99))
		require.NoError(t, e.cpu.Mem.WriteU64(obj+uint64(l.VTable), vtable))
		require.NoError(t, e.cpu.Mem.WriteU64(vtable+16, e.returns(t, 7)))
		stub, err := e.f.DelegateVirtual(l, 16, true)
		require.NoError(t, err)
		assert.Equal(t, uint64(7), e.run(t, stub, del))
		assert.Equal(t, uint64(0x99), e.cpu.GPR[9])
	})
}

// TestConcurrentBuildPublishesOnce 测试并发构建同一蹦床只发布一个地址
func TestConcurrentBuildPublishesOnce(t *testing.T) {
	e := newEnv(t)
	const workers = 16
	addrs := make([]uint64, workers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			addr, err := e.f.Specific(KindJIT, 1234)
			assert.NoError(t, err)
			addrs[i] = addr
		}(i)
	}
	close(start)
	wg.Wait()

	for _, a := range addrs {
		assert.Equal(t, addrs[0], a)
	}
	assert.Equal(t, 1, e.f.Cache().Len())
	got, ok := e.f.Cache().Lookup(Key{Entry: EntrySpecific, Payload: 1234, Extra: uint64(KindJIT)})
	require.True(t, ok)
	assert.Equal(t, addrs[0], got)
}

// TestCachePublish 测试先发布者胜出与容量耗尽
func TestCachePublish(t *testing.T) {
	c := NewCache(16)
	k := Key{Entry: EntryStaticRgctx, Payload: 1}
	w, err := c.Publish(k, 0x100)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x100), w)
	w, err = c.Publish(k, 0x200)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x100), w, "first writer wins")

	_, err = c.Publish(k, 0)
	assert.Equal(t, errors.J1004, errors.CodeOf(err))

	for i := 2; i <= c.Cap(); i++ {
		_, err := c.Publish(Key{Entry: EntryStaticRgctx, Payload: uint64(i)}, 0x1000)
		require.NoError(t, err)
	}
	_, err = c.Publish(Key{Entry: EntryStaticRgctx, Payload: 999}, 0x1000)
	assert.Equal(t, errors.J2002, errors.CodeOf(err))

	n := 0
	c.Range(func(Key, uint64) bool { n++; return true })
	assert.Equal(t, c.Cap(), n)
}
