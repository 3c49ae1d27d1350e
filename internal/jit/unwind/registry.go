package unwind

import (
	"sort"
	"sync"

	"github.com/tangzhangming/novajit/internal/errors"
	"github.com/tangzhangming/novajit/internal/jit/abi"
	"github.com/tangzhangming/novajit/internal/jit/codegen"
	"github.com/tangzhangming/novajit/internal/jit/types"
)

// ============================================================================
// 方法回溯信息
// ============================================================================

// Clause 以绝对地址表示的异常子句
type Clause struct {
	Kind       types.ClauseKind
	TryStart   uint64
	TryEnd     uint64
	Handler    uint64
	Filter     uint64
	CatchClass string
}

// Covers 子句的 try 范围是否覆盖 pc
func (c *Clause) Covers(pc uint64) bool {
	return pc >= c.TryStart && pc < c.TryEnd
}

// MethodInfo 已发布方法的回溯信息
type MethodInfo struct {
	ID      int
	Name    string
	Start   uint64
	End     uint64
	Shape   *abi.FrameShape
	Clauses []Clause
}

// NewMethodInfo 由发射结果和发布地址生成回溯信息
func NewMethodInfo(id int, name string, base uint64, res *codegen.Result) *MethodInfo {
	mi := &MethodInfo{
		ID:    id,
		Name:  name,
		Start: base,
		End:   base + uint64(len(res.Code)),
		Shape: res.Frame.Shape,
	}
	for _, c := range res.Clauses {
		cl := Clause{
			Kind:       c.Kind,
			TryStart:   base + uint64(c.TryStart),
			TryEnd:     base + uint64(c.TryEnd),
			Handler:    base + uint64(c.Handler),
			CatchClass: c.CatchClass,
		}
		if c.Filter >= 0 {
			cl.Filter = base + uint64(c.Filter)
		}
		mi.Clauses = append(mi.Clauses, cl)
	}
	return mi
}

// Contains 地址是否在方法代码范围内
func (m *MethodInfo) Contains(ip uint64) bool {
	return ip >= m.Start && ip < m.End
}

// ============================================================================
// 注册表
// ============================================================================

// Registry 按地址查询方法回溯信息
type Registry struct {
	mu      sync.RWMutex
	methods []*MethodInfo // 按 Start 排序
}

// NewRegistry 创建注册表
func NewRegistry() *Registry {
	return &Registry{}
}

// Register 登记方法，代码范围不得与已有方法重叠
func (r *Registry) Register(mi *MethodInfo) error {
	if err := mi.Shape.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	i := sort.Search(len(r.methods), func(i int) bool { return r.methods[i].Start >= mi.Start })
	if i > 0 && r.methods[i-1].End > mi.Start || i < len(r.methods) && r.methods[i].Start < mi.End {
		return errors.Newf(errors.J1006, "method %s [%#x,%#x) overlaps a registered method", mi.Name, mi.Start, mi.End)
	}
	r.methods = append(r.methods, nil)
	copy(r.methods[i+1:], r.methods[i:])
	r.methods[i] = mi
	return nil
}

// Lookup 查找包含 ip 的方法
func (r *Registry) Lookup(ip uint64) (*MethodInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i := sort.Search(len(r.methods), func(i int) bool { return r.methods[i].End > ip })
	if i < len(r.methods) && r.methods[i].Contains(ip) {
		return r.methods[i], true
	}
	return nil, false
}

// ByID 按方法 ID 查找
func (r *Registry) ByID(id int) (*MethodInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.methods {
		if m.ID == id {
			return m, true
		}
	}
	return nil, false
}

// Len 已登记的方法数
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.methods)
}
