// Package errors 提供 s390x 后端的错误分类
//
// 后端错误分三类：
//   - 内部一致性错误（J1xxx）：未知操作码、未知类型标签、代码缓冲越界等，
//     说明上游数据或后端自身有缺陷，直接中止编译（panic）
//   - 资源耗尽错误（J2xxx）：代码缓冲超过上限、代码区已满、触发页分配失败，
//     作为普通 error 返回给调用者
//   - 链接错误（J3xxx）：补丁目标无法解析或位移超出编码范围
package errors

// ============================================================================
// 错误级别
// ============================================================================

// Level 错误级别
type Level int

const (
	LevelFatal Level = iota // 致命，中止进程
	LevelError              // 可恢复错误
	LevelWarning            // 警告
)

func (l Level) String() string {
	switch l {
	case LevelFatal:
		return "fatal"
	case LevelError:
		return "error"
	case LevelWarning:
		return "warning"
	default:
		return "unknown"
	}
}

// ============================================================================
// 后端错误码 (J 开头)
// ============================================================================

const (
	// J1001-J1099: 内部一致性错误
	J1001 = "J1001" // 未知操作码
	J1002 = "J1002" // 未知参数类型标签
	J1003 = "J1003" // 指令长度超过声明的最坏情况
	J1004 = "J1004" // 补丁记录非法（偏移越界或类型错误）
	J1005 = "J1005" // 寄存器或操作数非法
	J1006 = "J1006" // 帧形状不一致

	// J2001-J2099: 资源耗尽
	J2001 = "J2001" // 代码缓冲超过最大方法大小
	J2002 = "J2002" // 可执行代码区已满
	J2003 = "J2003" // 触发页分配失败
	J2004 = "J2004" // 保护属性切换失败

	// J3001-J3099: 链接错误
	J3001 = "J3001" // 符号未解析
	J3002 = "J3002" // 位移超出编码范围
	J3003 = "J3003" // 标签未定义
)

// ErrorInfo 错误码信息
type ErrorInfo struct {
	Code     string // 错误码
	Level    Level  // 错误级别
	Message  string // 简要描述
	Category string // 错误分类
}

var backendErrors = map[string]ErrorInfo{
	J1001: {J1001, LevelFatal, "unknown opcode", "internal"},
	J1002: {J1002, LevelFatal, "unknown parameter type tag", "internal"},
	J1003: {J1003, LevelFatal, "code buffer overrun past declared worst-case bound", "internal"},
	J1004: {J1004, LevelFatal, "malformed patch record", "internal"},
	J1005: {J1005, LevelFatal, "invalid operand", "internal"},
	J1006: {J1006, LevelFatal, "inconsistent frame shape", "internal"},

	J2001: {J2001, LevelError, "code buffer exceeds maximum method size", "resource"},
	J2002: {J2002, LevelError, "executable arena exhausted", "resource"},
	J2003: {J2003, LevelError, "trigger page allocation failed", "resource"},
	J2004: {J2004, LevelError, "page protection change failed", "resource"},

	J3001: {J3001, LevelError, "unresolved symbol", "link"},
	J3002: {J3002, LevelError, "displacement out of range", "link"},
	J3003: {J3003, LevelError, "undefined label", "link"},
}

// GetErrorInfo 获取错误码信息
func GetErrorInfo(code string) (ErrorInfo, bool) {
	info, ok := backendErrors[code]
	return info, ok
}

// IsFatal 检查错误码是否为致命错误
func IsFatal(code string) bool {
	info, ok := backendErrors[code]
	return ok && info.Level == LevelFatal
}
