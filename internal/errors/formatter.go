package errors

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"go.uber.org/multierr"
)

// ============================================================================
// 格式化器
// ============================================================================

// Formatter 后端错误格式化器
type Formatter struct {
	ShowHints bool // 是否显示修复建议

	fatal   *color.Color
	error   *color.Color
	warning *color.Color
	detail  *color.Color
	hint    *color.Color
}

// NewFormatter 创建默认格式化器，是否着色由 color.NoColor 决定
func NewFormatter() *Formatter {
	return &Formatter{
		ShowHints: true,
		fatal:     color.New(color.FgRed, color.Bold),
		error:     color.New(color.FgRed),
		warning:   color.New(color.FgYellow),
		detail:    color.New(color.FgBlue),
		hint:      color.New(color.FgCyan),
	}
}

func (f *Formatter) levelColor(level Level) *color.Color {
	switch level {
	case LevelFatal:
		return f.fatal
	case LevelWarning:
		return f.warning
	default:
		return f.error
	}
}

// Format 格式化一个错误，聚合错误逐条展开
func (f *Formatter) Format(err error) string {
	if err == nil {
		return ""
	}
	var sb strings.Builder
	for _, e := range multierr.Errors(err) {
		f.formatOne(&sb, e)
	}
	return sb.String()
}

func (f *Formatter) formatOne(sb *strings.Builder, err error) {
	code := CodeOf(err)
	info, ok := GetErrorInfo(code)
	if !ok {
		fmt.Fprintf(sb, "%s: %v\n", f.error.Sprint("error"), err)
		return
	}

	// 头部: fatal[J1001] internal: unknown opcode
	fmt.Fprintf(sb, "%s %s: %s\n",
		f.levelColor(info.Level).Sprintf("%s[%s]", info.Level, code),
		info.Category, info.Message)
	fmt.Fprintf(sb, "  %s %s\n", f.detail.Sprint("-->"), detailOf(err))

	if f.ShowHints {
		for _, h := range Suggestions(code) {
			fmt.Fprintf(sb, "  %s %s\n", f.hint.Sprint("= help:"), h)
		}
	}
}

// detailOf 去掉错误码前缀后的消息
func detailOf(err error) string {
	var be *BackendError
	if As(err, &be) {
		if be.Cause != nil {
			return fmt.Sprintf("%s: %v", be.Message, be.Cause)
		}
		return be.Message
	}
	var ie *InternalError
	if As(err, &ie) {
		return ie.Message
	}
	return err.Error()
}

var defaultFormatter = NewFormatter()

// SetDefaultFormatter 设置默认格式化器
func SetDefaultFormatter(f *Formatter) {
	defaultFormatter = f
}

// Format 使用默认格式化器格式化错误
func Format(err error) string {
	return defaultFormatter.Format(err)
}
