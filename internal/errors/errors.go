package errors

import (
	stderrors "errors"
	"fmt"
)

// ============================================================================
// 错误类型
// ============================================================================

// InternalError 内部一致性错误，通过 panic 传播
type InternalError struct {
	Code    string
	Message string
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error[%s]: %s", e.Code, e.Message)
}

// BackendError 可恢复的后端错误（资源耗尽、链接失败）
type BackendError struct {
	Code    string
	Message string
	Cause   error
}

func (e *BackendError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("error[%s]: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("error[%s]: %s", e.Code, e.Message)
}

func (e *BackendError) Unwrap() error {
	return e.Cause
}

// Fatal 报告内部一致性错误并中止当前编译
func Fatal(code string, format string, args ...interface{}) {
	panic(&InternalError{Code: code, Message: fmt.Sprintf(format, args...)})
}

// Newf 创建后端错误
func Newf(code string, format string, args ...interface{}) error {
	return &BackendError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap 包装底层错误
func Wrap(code string, cause error, format string, args ...interface{}) error {
	if cause == nil {
		return nil
	}
	return &BackendError{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// CodeOf 提取错误码，非后端错误返回空串
func CodeOf(err error) string {
	var be *BackendError
	if stderrors.As(err, &be) {
		return be.Code
	}
	var ie *InternalError
	if stderrors.As(err, &ie) {
		return ie.Code
	}
	return ""
}

// Is 透传标准库 errors.Is
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As 透传标准库 errors.As
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}
