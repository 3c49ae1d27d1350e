package errors

import (
	"sync"

	"go.uber.org/multierr"
)

// ============================================================================
// 错误报告器
// ============================================================================

// Reporter 收集批量操作（补丁解析、资源释放）中的多个错误
type Reporter struct {
	mu       sync.Mutex
	err      error
	warnings []string
}

// NewReporter 创建错误报告器
func NewReporter() *Reporter {
	return &Reporter{}
}

// Add 记录一个错误，nil 被忽略
func (r *Reporter) Add(err error) {
	if err == nil {
		return
	}
	r.mu.Lock()
	r.err = multierr.Append(r.err, err)
	r.mu.Unlock()
}

// Warn 记录警告
func (r *Reporter) Warn(msg string) {
	r.mu.Lock()
	r.warnings = append(r.warnings, msg)
	r.mu.Unlock()
}

// HasErrors 是否有错误
func (r *Reporter) HasErrors() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err != nil
}

// ErrorCount 错误数量
func (r *Reporter) ErrorCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(multierr.Errors(r.err))
}

// Errors 返回全部错误
func (r *Reporter) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return multierr.Errors(r.err)
}

// Warnings 返回全部警告
func (r *Reporter) Warnings() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.warnings...)
}

// Err 返回合并后的错误
func (r *Reporter) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Clear 清空
func (r *Reporter) Clear() {
	r.mu.Lock()
	r.err = nil
	r.warnings = nil
	r.mu.Unlock()
}
