// method_table.go - 方法表
//
// 方法表记录每个方法的 IR、编译状态、入口地址，以及已经改写为直接
// 调用入口的调用点。未编译的方法通过懒编译蹦床调用：蹦床回调编译方法
// 后改写调用者的调用模板，之后的调用不再经过蹦床。

package jit

import (
	"sort"
	"sync"

	"github.com/tangzhangming/novajit/internal/errors"
	"github.com/tangzhangming/novajit/internal/jit/codegen"
	"github.com/tangzhangming/novajit/internal/jit/types"
)

// ============================================================================
// 方法状态
// ============================================================================

// MethodState 方法编译状态
type MethodState int32

const (
	MethodPending MethodState = iota
	MethodCompiling
	MethodCompiled
	MethodFailed
)

func (s MethodState) String() string {
	switch s {
	case MethodPending:
		return "pending"
	case MethodCompiling:
		return "compiling"
	case MethodCompiled:
		return "compiled"
	case MethodFailed:
		return "failed"
	}
	return "unknown"
}

// MethodEntry 方法表项
type MethodEntry struct {
	Method *types.Method

	State  MethodState
	Entry  uint64
	Size   int
	Result *codegen.Result
	Err    error

	// PatchSites 已改写为直接调用本方法的调用模板地址
	PatchSites []uint64
}

// Name 方法名
func (e *MethodEntry) Name() string { return e.Method.Name }

// ============================================================================
// 方法表
// ============================================================================

// MethodTable 方法表
type MethodTable struct {
	mu     sync.RWMutex
	byID   map[int]*MethodEntry
	byName map[string]*MethodEntry
	byAddr map[uint64]*MethodEntry
}

// NewMethodTable 创建方法表
func NewMethodTable() *MethodTable {
	return &MethodTable{
		byID:   make(map[int]*MethodEntry),
		byName: make(map[string]*MethodEntry),
		byAddr: make(map[uint64]*MethodEntry),
	}
}

// Define 登记一个待编译方法，ID 不能重复
func (t *MethodTable) Define(m *types.Method) (*MethodEntry, error) {
	if m == nil || m.Sig == nil {
		return nil, errors.Newf(errors.J1005, "method without signature")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.byID[m.ID]; ok {
		return nil, errors.Newf(errors.J1005, "method id %d already defined as %s", m.ID, old.Name())
	}
	e := &MethodEntry{Method: m, State: MethodPending}
	t.byID[m.ID] = e
	if m.Name != "" {
		t.byName[m.Name] = e
	}
	return e, nil
}

// Get 按 ID 查找
func (t *MethodTable) Get(id int) (*MethodEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.byID[id]
	return e, ok
}

// ByName 按名称查找
func (t *MethodTable) ByName(name string) (*MethodEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.byName[name]
	return e, ok
}

// ByAddress 按入口地址查找
func (t *MethodTable) ByAddress(entry uint64) (*MethodEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.byAddr[entry]
	return e, ok
}

// Address 已编译方法的入口地址
func (t *MethodTable) Address(id int) (uint64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if e, ok := t.byID[id]; ok && e.State == MethodCompiled {
		return e.Entry, true
	}
	return 0, false
}

// StateOf 方法状态，未登记的方法返回 false
func (t *MethodTable) StateOf(id int) (MethodState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.byID[id]
	if !ok {
		return MethodPending, false
	}
	return e.State, true
}

// IDs 按升序返回全部方法 ID
func (t *MethodTable) IDs() []int {
	t.mu.RLock()
	ids := make([]int, 0, len(t.byID))
	for id := range t.byID {
		ids = append(ids, id)
	}
	t.mu.RUnlock()
	sort.Ints(ids)
	return ids
}

// Len 方法数
func (t *MethodTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byID)
}

// ============================================================================
// 状态转换（由编译器调用）
// ============================================================================

// begin 把待编译方法标记为编译中；已编译返回 false
func (t *MethodTable) begin(e *MethodEntry) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e.State == MethodCompiled {
		return false
	}
	e.State = MethodCompiling
	e.Err = nil
	return true
}

func (t *MethodTable) setCompiled(e *MethodEntry, entry uint64, res *codegen.Result) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e.State = MethodCompiled
	e.Entry = entry
	e.Size = len(res.Code)
	e.Result = res
	t.byAddr[entry] = e
}

func (t *MethodTable) setFailed(e *MethodEntry, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e.State = MethodFailed
	e.Err = err
}

func (t *MethodTable) addPatchSite(e *MethodEntry, site uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e.PatchSites = append(e.PatchSites, site)
}
