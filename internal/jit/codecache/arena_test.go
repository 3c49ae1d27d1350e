package codecache

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tangzhangming/novajit/internal/errors"
	"github.com/tangzhangming/novajit/internal/jit/codebuf"
	"github.com/tangzhangming/novajit/internal/jit/platform"
	"github.com/tangzhangming/novajit/internal/jit/sim"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newSimArena(t *testing.T, size int) (*Arena, *sim.Memory) {
	t.Helper()
	mem := sim.NewMemory()
	r, err := NewSimRegion(mem, DefaultSimBase, size)
	require.NoError(t, err)
	a := New(r)
	t.Cleanup(func() { _ = a.Close() })
	return a, mem
}

// TestAllocAlignment 测试分配对齐与游标推进
func TestAllocAlignment(t *testing.T) {
	a, _ := newSimArena(t, 4096)

	p1, err := a.Alloc(3, 1)
	require.NoError(t, err)
	assert.Equal(t, DefaultSimBase, p1)

	p2, err := a.Alloc(10, 8)
	require.NoError(t, err)
	assert.Equal(t, DefaultSimBase+8, p2)

	p3, err := a.Alloc(4, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultSimBase+24, p3)

	assert.Equal(t, 28, a.Used())
	assert.Equal(t, int64(3), a.Allocations())
	assert.True(t, a.Contains(p2+9))
	assert.False(t, a.Contains(DefaultSimBase+28))
}

// TestAllocExhaustion 测试代码区耗尽返回资源错误
func TestAllocExhaustion(t *testing.T) {
	a, _ := newSimArena(t, 64)
	_, err := a.Alloc(60, 8)
	require.NoError(t, err)
	_, err = a.Alloc(8, 8)
	require.Error(t, err)
	assert.Equal(t, errors.J2002, errors.CodeOf(err))
	assert.Equal(t, 60, a.Used())
}

// TestConcurrentAlloc 测试并发分配的地址互不重叠
func TestConcurrentAlloc(t *testing.T) {
	a, _ := newSimArena(t, 1<<16)

	const workers, per = 8, 64
	var (
		mu    sync.Mutex
		addrs []uint64
		wg    sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < per; i++ {
				p, err := a.Alloc(24, 8)
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				addrs = append(addrs, p)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, addrs, workers*per)
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	for i := 1; i < len(addrs); i++ {
		assert.GreaterOrEqual(t, addrs[i]-addrs[i-1], uint64(24))
	}
}

// TestPublishAndRead 测试发布代码并从模拟内存读回
func TestPublishAndRead(t *testing.T) {
	a, mem := newSimArena(t, 4096)
	code := []byte{0x07, 0xFE}
	addr, err := a.Publish(code, 8)
	require.NoError(t, err)

	got, err := a.Read(addr, 2)
	require.NoError(t, err)
	assert.Equal(t, code, got)

	raw, err := mem.Read(addr, 2)
	require.NoError(t, err, "code region is readable")
	assert.Equal(t, code, raw)
	assert.Error(t, mem.Write(addr, []byte{0}), "code region is not writable from simulated code")

	_, err = a.Read(addr+8, 4)
	assert.Equal(t, errors.J1004, errors.CodeOf(err))
}

// TestPatchCallSite 测试调用模板原地改写后模拟执行跳到新目标
func TestPatchCallSite(t *testing.T) {
	a, mem := newSimArena(t, 4096)

	buf := codebuf.New(64, 0)
	asm := platform.NewAssembler(buf)
	asm.STMG(platform.R14, platform.R15, platform.SP, 112)
	asm.AGHI(platform.SP, -160)
	site := asm.Call(codebuf.SymbolTarget("callee"))
	asm.AGHI(platform.SP, 160)
	asm.LMG(platform.R14, platform.R15, platform.SP, 112)
	asm.BR(platform.R14)

	cpu, err := sim.NewCPU(mem, 0)
	require.NoError(t, err)
	first := cpu.Symbol("first", func(c *sim.CPU) error { c.GPR[2] = 1; return nil })
	second := cpu.Symbol("second", func(c *sim.CPU) error { c.GPR[2] = 2; return nil })

	addr, err := a.Alloc(buf.Len(), 8)
	require.NoError(t, err)
	code := buf.Bytes()
	require.NoError(t, codebuf.Resolve(code, addr, buf.Patches(), buf.Labels(),
		codebuf.ResolverFunc(func(codebuf.Target) (uint64, error) { return first, nil })))
	require.NoError(t, a.Write(addr, code))

	got, err := cpu.Call(addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got)

	require.NoError(t, a.PatchCallSite(addr+uint64(site), second))
	got, err = cpu.Call(addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), got)

	err = a.PatchCallSite(addr, second)
	assert.Equal(t, errors.J1004, errors.CodeOf(err))
}
