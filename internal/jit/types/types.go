// Package types 定义 s390x 后端共享的数据模型，用于避免循环导入
//
// 包括：
// - 方法签名（参数类型标签、结构体大小、varargs 哨兵）
// - 已完成寄存器分配的 IR 指令与基本块
// - 方法描述（局部变量、异常子句、帧标志）
package types

import "fmt"

// ============================================================================
// 参数类型标签
// ============================================================================

// TypeKind 参数/返回值类型标签
type TypeKind int

const (
	TypeVoid TypeKind = iota
	TypeI1
	TypeU1
	TypeBool
	TypeChar
	TypeI2
	TypeU2
	TypeI4
	TypeU4
	TypeI8
	TypeU8
	TypeI   // native int
	TypeU   // native unsigned int
	TypePtr // 非托管指针 / 函数指针
	TypeObject
	TypeString
	TypeArray
	TypeByRef
	TypeR4
	TypeR8
	TypeValueType  // 值类型结构体
	TypeTypedByRef // TypedReference
	TypeGenericInst

	typeKindCount
)

var typeKindNames = [...]string{
	TypeVoid:        "void",
	TypeI1:          "i1",
	TypeU1:          "u1",
	TypeBool:        "bool",
	TypeChar:        "char",
	TypeI2:          "i2",
	TypeU2:          "u2",
	TypeI4:          "i4",
	TypeU4:          "u4",
	TypeI8:          "i8",
	TypeU8:          "u8",
	TypeI:           "i",
	TypeU:           "u",
	TypePtr:         "ptr",
	TypeObject:      "object",
	TypeString:      "string",
	TypeArray:       "array",
	TypeByRef:       "byref",
	TypeR4:          "r4",
	TypeR8:          "r8",
	TypeValueType:   "valuetype",
	TypeTypedByRef:  "typedbyref",
	TypeGenericInst: "genericinst",
}

func (k TypeKind) String() string {
	if k >= 0 && k < typeKindCount {
		return typeKindNames[k]
	}
	return fmt.Sprintf("type(%d)", int(k))
}

// Valid 是否为已知类型标签
func (k TypeKind) Valid() bool {
	return k >= 0 && k < typeKindCount
}

// ParseTypeKind 按名称解析类型标签
func ParseTypeKind(name string) (TypeKind, bool) {
	for i, n := range typeKindNames {
		if n == name {
			return TypeKind(i), true
		}
	}
	return TypeVoid, false
}

// IsReference 是否为托管引用类型
func (k TypeKind) IsReference() bool {
	switch k {
	case TypeObject, TypeString, TypeArray:
		return true
	}
	return false
}

// IsFloat 是否为浮点类型
func (k TypeKind) IsFloat() bool {
	return k == TypeR4 || k == TypeR8
}

// ============================================================================
// 签名
// ============================================================================

// Param 参数（或返回值）类型
type Param struct {
	Kind TypeKind

	// 以下字段仅对 TypeValueType / TypeGenericInst 有意义
	Size  int // 托管大小
	Align int
	// NativeSize PInvoke 封送后的大小，0 表示与 Size 相同
	NativeSize int
	// SingleFloat 结构体仅包含一个 float/double 字段时为该字段类型
	SingleFloat TypeKind
	// IsValueType GenericInst 是否实例化为值类型
	IsValueType bool
}

// IsStruct 是否按结构体处理
func (p Param) IsStruct() bool {
	switch p.Kind {
	case TypeValueType, TypeTypedByRef:
		return true
	case TypeGenericInst:
		return p.IsValueType
	}
	return false
}

// StructSize 返回结构体的传参大小
func (p Param) StructSize(pinvoke bool) int {
	if pinvoke && p.NativeSize != 0 {
		return p.NativeSize
	}
	return p.Size
}

// Signature 方法签名，作为分类器的只读输入
type Signature struct {
	Params  []Param
	Ret     Param
	HasThis bool
	// Variadic 为真时 SentinelPos 是第一个可变参数的下标
	Variadic    bool
	SentinelPos int
	// PInvoke 原生调用，只影响结构体大小的计算
	PInvoke bool
}

// ParamCount 形参个数（不含 this）
func (s *Signature) ParamCount() int {
	return len(s.Params)
}

func (s *Signature) String() string {
	out := s.Ret.Kind.String() + " ("
	if s.HasThis {
		out += "this"
		if len(s.Params) > 0 {
			out += ", "
		}
	}
	for i, p := range s.Params {
		if i > 0 {
			out += ", "
		}
		if s.Variadic && i == s.SentinelPos {
			out += "..., "
		}
		out += p.Kind.String()
		if p.IsStruct() {
			out += fmt.Sprintf("[%d]", p.Size)
		}
	}
	if s.Variadic && s.SentinelPos == len(s.Params) {
		if len(s.Params) > 0 || s.HasThis {
			out += ", "
		}
		out += "..."
	}
	return out + ")"
}
