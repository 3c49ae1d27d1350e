package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tangzhangming/novajit/internal/errors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const methods = `
[[method]]
id = 1
name = "caller"
sig = "i8(i8)"

[[method.block]]
id = 0
insts = [
  { op = "call", d = 2, call = "method:2" },
  { op = "ret", s1 = 2 },
]

[[method]]
id = 2
name = "inc"
sig = "i8(i8)"

[[method.block]]
id = 0
insts = [
  { op = "ladd_imm", d = 2, s1 = 2, imm = 1 },
  { op = "ret", s1 = 2 },
]
`

// execute 运行命令并返回输出
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCommand(newGlobalState())
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--no-color"}, args...))
	err := root.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// TestDisasm 测试十六进制反汇编
func TestDisasm(t *testing.T) {
	out, err := execute(t, "disasm", "--base", "0x1000", "eb6f f030 0024", "a7fbff60")
	require.NoError(t, err)
	assert.Contains(t, out, "0x1000:\tstmg\t%r6,%r15,48(%r15)")
	assert.Contains(t, out, "0x1006:\taghi\t%r15,-160")

	_, err = execute(t, "disasm", "zz")
	assert.Error(t, err)
}

// TestClassify 测试签名分类输出
func TestClassify(t *testing.T) {
	out, err := execute(t, "classify", "--frame", "i8(i8, i8, i8, i8, i8, i8, i8)")
	require.NoError(t, err)
	assert.Contains(t, out, "%r2")
	assert.Contains(t, out, "%r6")
	assert.Contains(t, out, "stack+160")
	assert.Contains(t, out, "stack+168")
	assert.Contains(t, out, "frame: alloc=")

	out, err = execute(t, "classify", "void(this, i4, ..., r8)")
	require.NoError(t, err)
	assert.Contains(t, out, "sentinel@1")
	assert.Contains(t, out, "cookie")

	_, err = execute(t, "classify", "i8(bogus)")
	assert.Error(t, err)
	_, err = execute(t, "classify", "--varargs", "sideways", "void()")
	assert.Error(t, err)
}

// TestCompile 测试编译输出
func TestCompile(t *testing.T) {
	path := writeFile(t, "methods.toml", methods)
	out, err := execute(t, "compile", "--frame", "--hex", path)
	require.NoError(t, err)
	assert.Contains(t, out, "caller")
	assert.Contains(t, out, "inc")
	assert.Contains(t, out, "stmg\t%r6,%r15,48(%r15)")
	assert.Contains(t, out, "relocations")
	assert.Contains(t, out, "compiled=2")

	out, err = execute(t, "compile", "-m", "inc", path)
	require.NoError(t, err)
	assert.NotContains(t, out, "caller")

	bad := writeFile(t, "bad.toml", "[[method]]\nid = 1\nsig = \"void()\"\n[[method.block]]\nid = 0\ninsts = [{ op = \"call\", call = \"sym:nowhere\" }, { op = \"ret\" }]\n")
	_, err = execute(t, "compile", bad)
	require.Error(t, err)
	assert.Equal(t, errors.J3001, errors.CodeOf(err))
}

// TestRun 测试在模拟器上执行
func TestRun(t *testing.T) {
	path := writeFile(t, "methods.toml", methods)
	out, err := execute(t, "run", "--trace", "--stats", path, "caller", "41")
	require.NoError(t, err)
	assert.Contains(t, out, "result 42 (0x2a)")
	assert.Contains(t, out, "trace enter caller")
	assert.Contains(t, out, "trace leave inc")
	assert.Contains(t, out, "patched=1")

	out, err = execute(t, "run", path, "inc", "-1")
	require.NoError(t, err)
	assert.Contains(t, out, "result 0 (0x0)")

	out, err = execute(t, "run", "--stats", path, "inc", "-5")
	require.NoError(t, err)
	assert.Contains(t, out, "result -4 (0xfffffffffffffffc)")
	assert.Contains(t, out, "patched=")

	_, err = execute(t, "run", path, "missing")
	assert.Error(t, err)
	_, err = execute(t, "run", path, "inc", "forty")
	assert.Error(t, err)
}

// TestTramp 测试蹦床输出
func TestTramp(t *testing.T) {
	out, err := execute(t, "tramp", "generic", "jit")
	require.NoError(t, err)
	assert.Contains(t, out, "generic jit")
	assert.Contains(t, out, "stmg\t%r6,%r15,48(%r15)")
	assert.Contains(t, out, "bcr\t15,%r1", "tail jump to the compiled code")

	out, err = execute(t, "tramp", "specific", "generic_class_init", "7")
	require.NoError(t, err)
	assert.Contains(t, out, "brasl\t%r1,")
	assert.Contains(t, out, ".quad 0x7")

	out, err = execute(t, "tramp", "rgctx", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "lg\t%r1,32(%r2)")

	out, err = execute(t, "tramp", "class-init", "--offset", "8", "--bit", "4", "9")
	require.NoError(t, err)
	assert.Contains(t, out, "tm\t8(%r2),0x4")

	out, err = execute(t, "tramp", "imt", "1=0x10000000", "2=0x10000100")
	require.NoError(t, err)
	assert.Contains(t, out, "imt 2 entries")

	_, err = execute(t, "tramp", "generic", "bogus")
	assert.Error(t, err)
	_, err = execute(t, "tramp", "imt", "1:2")
	assert.Error(t, err)
}
