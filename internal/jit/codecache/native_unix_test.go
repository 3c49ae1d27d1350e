//go:build unix

package codecache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNativeRegion 测试本机可执行内存的分配与读写
func TestNativeRegion(t *testing.T) {
	r, err := NewNativeRegion(100)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, r.Size(), 100)
	assert.NotZero(t, r.Base())

	a := New(r)
	addr, err := a.Publish([]byte{0xA7, 0x29, 0x00, 0x2A, 0x07, 0xFE}, 8)
	require.NoError(t, err)
	assert.Equal(t, r.Base(), addr)

	got, err := a.Read(addr+4, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x07, 0xFE}, got)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
}
