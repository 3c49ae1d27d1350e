// exceptions.go - 越界异常抛出序列
//
// 生成代码中的检查（溢出、除零、空引用）条件成立时 BRCL 到方法末尾的
// 共享序列。每个检查点有一个 3 条指令的入口，把检查点之后的地址装入 r14
// 作为抛出位置；同一异常类的入口共用一段装载类标记并跳到 throw_corlib 的代码：
//
//	site1: larl r14,resume1
//	class: lgfi r2,token
//	       iihf/iilf r1,throw_corlib
//	       br   r1
//	site2: larl r14,resume2
//	       brcl class

package codegen

import (
	"sync"

	"github.com/tangzhangming/novajit/internal/jit/codebuf"
	"github.com/tangzhangming/novajit/internal/jit/platform"
)

// ============================================================================
// 异常类标记
// ============================================================================

// 核心库异常类
const (
	ExcArithmetic        = "ArithmeticException"
	ExcDivideByZero      = "DivideByZeroException"
	ExcOverflow          = "OverflowException"
	ExcNullReference     = "NullReferenceException"
	ExcIndexOutOfRange   = "IndexOutOfRangeException"
	ExcInvalidCast       = "InvalidCastException"
	ExcArrayTypeMismatch = "ArrayTypeMismatchException"
	ExcStackOverflow     = "StackOverflowException"
)

// exceptionTokens 异常类名与 throw_corlib 接收的类标记之间的映射
//
// 核心库异常使用固定标记，其它类名首次出现时分配新标记。
var exceptionTokens = struct {
	sync.RWMutex
	byName map[string]int32
	names  []string
}{
	byName: make(map[string]int32),
}

func init() {
	for _, name := range []string{
		ExcArithmetic, ExcDivideByZero, ExcOverflow, ExcNullReference,
		ExcIndexOutOfRange, ExcInvalidCast, ExcArrayTypeMismatch, ExcStackOverflow,
	} {
		ExceptionToken(name)
	}
}

// ExceptionToken 返回异常类的标记，未登记的类名分配新标记
func ExceptionToken(name string) int32 {
	exceptionTokens.RLock()
	tok, ok := exceptionTokens.byName[name]
	exceptionTokens.RUnlock()
	if ok {
		return tok
	}

	exceptionTokens.Lock()
	defer exceptionTokens.Unlock()
	if tok, ok := exceptionTokens.byName[name]; ok {
		return tok
	}
	tok = int32(len(exceptionTokens.names)) + 1
	exceptionTokens.byName[name] = tok
	exceptionTokens.names = append(exceptionTokens.names, name)
	return tok
}

// ExceptionName 由标记反查异常类名
func ExceptionName(tok int32) (string, bool) {
	exceptionTokens.RLock()
	defer exceptionTokens.RUnlock()
	i := int(tok) - 1
	if i < 0 || i >= len(exceptionTokens.names) {
		return "", false
	}
	return exceptionTokens.names[i], true
}

// ============================================================================
// 抛出序列
// ============================================================================

// 每个检查点入口的最坏长度：larl + (lgfi + iihf/iilf + br | brcl)
const excSiteMaxLen = 6 + 6 + 12 + 2

// emitExceptions 把全部异常补丁改写为标签并发射抛出序列
//
// 先在现有补丁上原地改写（此时不追加新补丁），再统一发射。
func (e *Emitter) emitExceptions() error {
	type site struct {
		label  int
		resume int
		name   string
	}
	var sites []site
	patches := e.buf.Patches()
	for i := range patches {
		p := &patches[i]
		if p.Target.Kind != codebuf.TargetException {
			continue
		}
		s := site{label: e.newLabel(), resume: e.newLabel(), name: p.Target.Name}
		// BRCL 之后的地址即抛出位置
		e.buf.BindAt(s.resume, p.Offset+p.Kind.Width())
		p.Target = codebuf.LabelTarget(s.label)
		sites = append(sites, s)
	}
	if len(sites) == 0 {
		return nil
	}

	if err := e.buf.Reserve(len(sites) * excSiteMaxLen); err != nil {
		return err
	}
	a := platform.NewAssembler(e.buf)
	classes := make(map[string]int)
	for _, s := range sites {
		a.Label(s.label)
		a.LoadLabelAddr(platform.R14, s.resume)
		if cl, ok := classes[s.name]; ok {
			a.BranchTo(platform.CondAlways, cl)
			continue
		}
		cl := e.newLabel()
		classes[s.name] = cl
		a.Label(cl)
		a.LGFI(platform.R2, ExceptionToken(s.name))
		a.LoadAbs(platform.R1, codebuf.SymbolTarget(SymThrowCorlib))
		a.BR(platform.R1)
	}
	return nil
}
