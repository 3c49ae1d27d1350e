package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestOpcodeTableComplete 测试每个操作码都有名称和族
func TestOpcodeTableComplete(t *testing.T) {
	for op := Opcode(0); op < opcodeCount; op++ {
		require.True(t, op.Valid(), "opcode %d has no table entry", int(op))
		back, ok := ParseOpcode(op.String())
		require.True(t, ok)
		assert.Equal(t, op, back)
	}
	assert.False(t, Opcode(-1).Valid())
	assert.Equal(t, Family(-1), opcodeCount.Family())
}

// TestUnsignedConsumer 测试无符号比较消费者识别
func TestUnsignedConsumer(t *testing.T) {
	assert.True(t, OP_IBLT_UN.IsUnsignedConsumer())
	assert.True(t, OP_COND_EXC_GT_UN.IsUnsignedConsumer())
	assert.False(t, OP_IBLT.IsUnsignedConsumer())
	assert.False(t, OP_IBNE_UN.IsUnsignedConsumer())
}

// TestSignatureString 测试签名的文本形式
func TestSignatureString(t *testing.T) {
	sig := &Signature{
		HasThis:     true,
		Params:      []Param{{Kind: TypeI4}, {Kind: TypeValueType, Size: 3, Align: 1}, {Kind: TypeR8}},
		Ret:         Param{Kind: TypeVoid},
		Variadic:    true,
		SentinelPos: 2,
	}
	assert.Equal(t, "void (this, i4, valuetype[3], ..., r8)", sig.String())

	k, ok := ParseTypeKind("typedbyref")
	require.True(t, ok)
	assert.Equal(t, TypeTypedByRef, k)
	_, ok = ParseTypeKind("nope")
	assert.False(t, ok)
}

// TestParamStructSize 测试 PInvoke 结构体大小选择
func TestParamStructSize(t *testing.T) {
	p := Param{Kind: TypeValueType, Size: 12, NativeSize: 8}
	assert.Equal(t, 12, p.StructSize(false))
	assert.Equal(t, 8, p.StructSize(true))
	assert.True(t, p.IsStruct())
	assert.False(t, Param{Kind: TypeGenericInst}.IsStruct())
	assert.True(t, Param{Kind: TypeGenericInst, IsValueType: true}.IsStruct())
}
