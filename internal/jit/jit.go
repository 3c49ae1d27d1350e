// Package jit 是 s390x 方法编译器的驱动
//
// 驱动把一个方法的 IR 依次交给分类器、帧布局、发射器，把结果解析补丁后
// 发布到可执行代码区，并登记展开信息与序列点。方法之间的调用在被调用者
// 尚未编译时指向懒编译蹦床；蹦床第一次被调用时编译目标方法，改写调用者
// 的调用模板，然后跳转到新代码。
package jit

import (
	"go.uber.org/atomic"

	"github.com/tangzhangming/novajit/internal/jit/tramp"
)

// Runtime 运行时回调与符号
//
// Callbacks 中的 Compile 回调应当调用 Compiler.LazyCompile，
// 回调约定见 tramp.Callbacks。
type Runtime interface {
	Callbacks() tramp.Callbacks
	// Symbol 解析生成代码引用的运行时符号（抛出桩、get_lmf_addr、跟踪钩子）
	Symbol(name string) (uint64, bool)
}

// Stats 编译统计
type Stats struct {
	Compiled     *atomic.Int64 // 编译成功的方法数
	Failed       *atomic.Int64 // 编译失败次数
	LazyCompiles *atomic.Int64 // 经蹦床触发的编译请求
	PatchedSites *atomic.Int64 // 改写为直接调用的调用点
	CodeBytes    *atomic.Int64 // 已发布的方法代码字节数
	CompileNanos *atomic.Int64 // 累计编译耗时
}

func newStats() Stats {
	return Stats{
		Compiled:     atomic.NewInt64(0),
		Failed:       atomic.NewInt64(0),
		LazyCompiles: atomic.NewInt64(0),
		PatchedSites: atomic.NewInt64(0),
		CodeBytes:    atomic.NewInt64(0),
		CompileNanos: atomic.NewInt64(0),
	}
}

// Snapshot 统计快照
type Snapshot struct {
	Compiled     int64
	Failed       int64
	LazyCompiles int64
	PatchedSites int64
	CodeBytes    int64
	CompileNanos int64
}

// Snapshot 读取当前统计
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Compiled:     s.Compiled.Load(),
		Failed:       s.Failed.Load(),
		LazyCompiles: s.LazyCompiles.Load(),
		PatchedSites: s.PatchedSites.Load(),
		CodeBytes:    s.CodeBytes.Load(),
		CompileNanos: s.CompileNanos.Load(),
	}
}
