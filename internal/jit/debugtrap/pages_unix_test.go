//go:build unix

package debugtrap

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tangzhangming/novajit/internal/errors"
	"github.com/tangzhangming/novajit/internal/jit/codecache"
)

// TestNativePages 测试本机触发页的分配与可读性切换
func TestNativePages(t *testing.T) {
	p := NewNativePages()
	addr, err := p.Alloc("test")
	require.NoError(t, err)
	assert.Zero(t, addr%uint64(p.PageSize()))

	require.NoError(t, p.SetReadable(addr, true))
	b := *(*byte)(unsafe.Pointer(uintptr(addr)))
	assert.Zero(t, b, "anonymous pages start zeroed")
	require.NoError(t, p.SetReadable(addr, false))

	err = p.SetReadable(addr+uint64(p.PageSize()), true)
	require.Error(t, err)
	assert.Equal(t, errors.J2004, errors.CodeOf(err))

	require.NoError(t, p.Close())
	assert.Error(t, p.SetReadable(addr, true), "closed pages are forgotten")
}

// TestTrapsOnNativePages 测试在本机触发页上切换单步状态
func TestTrapsOnNativePages(t *testing.T) {
	region, err := codecache.NewNativeRegion(4096)
	require.NoError(t, err)
	arena := codecache.New(region)
	defer arena.Close() //nolint:errcheck

	traps, err := New(NewNativePages(), arena)
	require.NoError(t, err)
	defer traps.Close() //nolint:errcheck

	assert.NotEqual(t, traps.SSPage(), traps.BPPage())
	assert.Equal(t, KindBreakpoint, traps.Classify(traps.BPPage()))
	assert.Equal(t, KindSingleStep, traps.Classify(traps.SSPage()))

	require.NoError(t, traps.StartSingleStep())
	assert.True(t, traps.Stepping())
	require.NoError(t, traps.StopSingleStep())
	assert.False(t, traps.Stepping())
}
