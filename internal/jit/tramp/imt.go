// imt.go - IMT 分发桩
//
// r9 携带接口方法键。键按升序排列后生成比较序列：
//
//	项数不超过 4 时线性比较：
//	  iihf/iilf r0,key ; cgr r0,r9 ; brcl ne,next
//	  iihf/iilf r1,target ; br r1
//	更多时按中位键二分：
//	  iihf/iilf r0,key[mid] ; cgr r9,r0 ; brcl ge,high
//
// 最后一项在没有失败蹦床时不再比较，直接跳转；有失败蹦床时
// 比较失败跳到失败蹦床。

package tramp

import (
	"sort"

	"github.com/tangzhangming/novajit/internal/errors"
	"github.com/tangzhangming/novajit/internal/jit/abi"
	"github.com/tangzhangming/novajit/internal/jit/codebuf"
	"github.com/tangzhangming/novajit/internal/jit/platform"
)

// IMTLinearMax 线性比较的最大项数
const IMTLinearMax = 4

// IMTEntry 一个接口方法键与实现地址
type IMTEntry struct {
	Key    uint64
	Target uint64
}

type imtEmitter struct {
	a      *platform.Assembler
	fail   uint64
	labels int
}

func (e *imtEmitter) newLabel() int {
	e.labels++
	return e.labels
}

// jump 无条件跳到绝对地址
func (e *imtEmitter) jump(target uint64) {
	e.a.LoadAbsValue(platform.R1, target)
	e.a.BR(platform.R1)
}

// emit 生成已排序的 entries 的比较序列
func (e *imtEmitter) emit(entries []IMTEntry) {
	if len(entries) > IMTLinearMax {
		mid := len(entries) / 2
		high := e.newLabel()
		e.a.LoadConst(platform.R0, int64(entries[mid].Key))
		e.a.CGR(abi.IMTReg, platform.R0)
		e.a.BranchTo(platform.CondGE, high)
		e.emit(entries[:mid])
		e.a.Label(high)
		e.emit(entries[mid:])
		return
	}
	for i, ent := range entries {
		last := i == len(entries)-1
		if last && e.fail == 0 {
			e.jump(ent.Target)
			return
		}
		next := e.newLabel()
		e.a.LoadConst(platform.R0, int64(ent.Key))
		e.a.CGR(platform.R0, abi.IMTReg)
		e.a.BranchTo(platform.CondNE, next)
		e.jump(ent.Target)
		e.a.Label(next)
		if last {
			e.jump(e.fail)
		}
	}
}

// EmitIMT 发射 IMT 分发桩，fail 为 0 表示不检查最后一项
func EmitIMT(a *platform.Assembler, entries []IMTEntry, fail uint64) error {
	if len(entries) == 0 {
		return errors.Newf(errors.J1005, "IMT thunk without entries")
	}
	sorted := append([]IMTEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Key == sorted[i-1].Key {
			return errors.Newf(errors.J1005, "duplicate IMT key %#x", sorted[i].Key)
		}
	}
	e := &imtEmitter{a: a, fail: fail}
	e.emit(sorted)
	return nil
}

// imtKey IMT 桩的缓存键：全部键、目标与失败蹦床的哈希
func imtKey(entries []IMTEntry, fail uint64) Key {
	k := Key{Entry: EntryIMT, Extra: fail}
	for _, e := range entries {
		k.Payload = Key{Entry: EntryIMT, Payload: k.Payload ^ e.Key, Extra: e.Target}.Hash()
	}
	return k
}

// IMT 返回 entries 对应的分发桩
func (f *Factory) IMT(entries []IMTEntry, fail uint64) (uint64, error) {
	sorted := append([]IMTEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })
	return f.cached(imtKey(sorted, fail), func() (uint64, error) {
		buf := codebuf.New(64*len(entries)+32, 0)
		if err := EmitIMT(platform.NewAssembler(buf), sorted, fail); err != nil {
			return 0, err
		}
		return f.publish("imt", buf)
	})
}
