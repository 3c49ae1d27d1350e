package jit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tangzhangming/novajit/internal/jit/abi"
	"github.com/tangzhangming/novajit/internal/jit/types"
)

// TestParseConfig 测试配置解析与默认值
func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
[backend]
max_method_size = 8192
trace = true

[abi]
varargs = "cookie-in-next-slot"
vret_after_receiver = false

[debug]
seq_points = true
`))
	require.NoError(t, err)
	assert.Equal(t, 8192, cfg.Backend.MaxMethodSize)
	assert.Equal(t, DefaultArenaSize, cfg.Backend.ArenaSize, "missing keys keep defaults")
	assert.True(t, cfg.Backend.Trace)
	assert.True(t, cfg.Debug.SeqPoints)
	assert.False(t, cfg.Debug.SingleStep)
	assert.Equal(t, abi.Policy{Varargs: abi.VarargsCookieInNextSlot}, cfg.Policy())
	assert.NotNil(t, cfg.Logger)

	assert.Equal(t, abi.DefaultPolicy(), DefaultConfig().Policy())
}

// TestParseConfigErrors 测试非法配置
func TestParseConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"syntax", "[backend\n"},
		{"policy", "[abi]\nvarargs = \"sideways\"\n"},
		{"size", "[backend]\nmax_method_size = 0\n"},
		{"arena", "[backend]\narena_size = 16\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

// TestLoadConfig 测试从文件加载
func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s390jit.toml")
	require.NoError(t, os.WriteFile(path, []byte("[debug]\nsingle_step = true\n"), 0o644))
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.True(t, cfg.Debug.SingleStep)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

// TestParseSignature 测试签名文本
func TestParseSignature(t *testing.T) {
	sig, err := ParseSignature("i8(this, i4, r8, valuetype:3, ..., i4)")
	require.NoError(t, err)
	assert.True(t, sig.HasThis)
	assert.True(t, sig.Variadic)
	assert.Equal(t, 3, sig.SentinelPos)
	require.Len(t, sig.Params, 4)
	assert.Equal(t, types.TypeValueType, sig.Params[2].Kind)
	assert.Equal(t, 3, sig.Params[2].Size)
	assert.Equal(t, types.TypeI8, sig.Ret.Kind)

	sig, err = ParseSignature("valuetype:8:8:r8()")
	require.NoError(t, err)
	assert.Equal(t, types.TypeR8, sig.Ret.SingleFloat)
	assert.Equal(t, 8, sig.Ret.Align)
	assert.Empty(t, sig.Params)

	sig, err = ParseSignature("void(genericinst:4, genericinst)")
	require.NoError(t, err)
	assert.True(t, sig.Params[0].IsValueType)
	assert.False(t, sig.Params[1].IsValueType)

	for _, bad := range []string{"i8", "i8(bogus)", "i8(i4, this)", "i8(..., ...)", "i4:3()", "void(valuetype)"} {
		_, err := ParseSignature(bad)
		assert.Error(t, err, bad)
	}
}

// TestParseMethods 测试 TOML 方法描述
func TestParseMethods(t *testing.T) {
	ms, err := ParseMethods([]byte(`
[[method]]
id = 3
sig = "i8(i8)"
flags = ["save_lmf", "trace"]
used_fp = [8, 9]

[[method.local]]
size = 16
align = 8

[[method.clause]]
kind = "catch"
try_start = 0
try_end = 1
handler = 1
class = "OverflowException"

[[method.block]]
id = 0
insts = [
  { op = "call", d = 2, call = "method:7" },
  { op = "loadi8_membase", d = 3, slot = "local:0", off = 8 },
  { op = "call", call = "sym:trace_enter" },
  { op = "call", call = "rgctx:2" },
  { op = "ibeq", target = 1 },
  { op = "ret", s1 = 2 },
]

[[method.block]]
id = 1
insts = [{ op = "start_handler" }, { op = "ret", s1 = 2 }]
`))
	require.NoError(t, err)
	require.Len(t, ms, 1)
	m := ms[0]
	assert.Equal(t, "method3", m.Name)
	assert.True(t, m.Has(types.FlagSaveLMF))
	assert.True(t, m.Has(types.FlagTrace))
	assert.Equal(t, uint16(0x300), m.UsedFPRegs)
	require.Len(t, m.Locals, 1)
	require.Len(t, m.Clauses, 1)
	assert.Equal(t, types.ClauseCatch, m.Clauses[0].Kind)
	assert.Equal(t, "OverflowException", m.Clauses[0].CatchClass)

	insts := m.Blocks[0].Insts
	assert.Equal(t, types.OP_CALL, insts[0].Op)
	assert.Equal(t, 2, insts[0].Dst)
	assert.Equal(t, types.NoReg, insts[0].Src1)
	assert.Equal(t, types.CallTarget{Kind: types.CallMethod, Method: 7}, *insts[0].Call)
	assert.Equal(t, types.Slot{Kind: types.SlotLocal, Index: 0}, insts[1].Slot)
	assert.Equal(t, int64(8), insts[1].Offset)
	assert.Equal(t, "trace_enter", insts[2].Call.Name)
	assert.Equal(t, types.CallTarget{Kind: types.CallRgctxFetch, Payload: 2}, *insts[3].Call)
	assert.Equal(t, 1, insts[4].Target)
	assert.Equal(t, -1, insts[5].Target)

	for _, bad := range []string{
		"[[method]]\nsig = \"i8(\"\n",
		"[[method]]\nsig = \"void()\"\nflags = [\"fast\"]\n",
		"[[method]]\nsig = \"void()\"\n[[method.block]]\nid = 0\ninsts = [{ op = \"frobnicate\" }]\n",
		"[[method]]\nsig = \"void()\"\n[[method.block]]\nid = 0\ninsts = [{ op = \"call\", call = \"method:x\" }]\n",
		"[[method]]\nsig = \"void()\"\n[[method.block]]\nid = 0\ninsts = [{ op = \"ldaddr\", slot = \"heap:1\" }]\n",
	} {
		_, err := ParseMethods([]byte(bad))
		assert.Error(t, err, bad)
	}
}
