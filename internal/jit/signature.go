// signature.go - 签名文本格式
//
// 签名写作 "返回类型(参数, ...)"，例如
//
//	i8(this, i4, r8, valuetype:3, ..., i4)
//
// this 只能出现在第一个位置；"..." 标记可变参数的开始（哨兵位置）。
// 结构体参数写作 valuetype:大小[:对齐][:r4|r8]，最后一项表示只含一个
// 浮点字段；genericinst:大小 为值类型实例，单独的 genericinst 为引用实例。

package jit

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tangzhangming/novajit/internal/jit/types"
)

// ParseSignature 解析签名文本
func ParseSignature(s string) (*types.Signature, error) {
	s = strings.TrimSpace(s)
	open := strings.IndexByte(s, '(')
	if open < 0 || !strings.HasSuffix(s, ")") {
		return nil, fmt.Errorf("signature %q: expected ret(params)", s)
	}
	ret, err := ParseParam(s[:open])
	if err != nil {
		return nil, fmt.Errorf("signature %q: return: %w", s, err)
	}
	sig := &types.Signature{Ret: ret}
	body := strings.TrimSpace(s[open+1 : len(s)-1])
	if body == "" {
		return sig, nil
	}
	for i, field := range strings.Split(body, ",") {
		field = strings.TrimSpace(field)
		switch field {
		case "this":
			if i != 0 {
				return nil, fmt.Errorf("signature %q: this must come first", s)
			}
			sig.HasThis = true
			continue
		case "...":
			if sig.Variadic {
				return nil, fmt.Errorf("signature %q: duplicate sentinel", s)
			}
			sig.Variadic = true
			sig.SentinelPos = len(sig.Params)
			continue
		}
		p, err := ParseParam(field)
		if err != nil {
			return nil, fmt.Errorf("signature %q: param %d: %w", s, i, err)
		}
		sig.Params = append(sig.Params, p)
	}
	return sig, nil
}

// ParseParam 解析单个参数类型
func ParseParam(s string) (types.Param, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	kind, ok := types.ParseTypeKind(parts[0])
	if !ok {
		return types.Param{}, fmt.Errorf("unknown type %q", parts[0])
	}
	p := types.Param{Kind: kind}
	rest := parts[1:]
	switch kind {
	case types.TypeValueType, types.TypeGenericInst, types.TypeTypedByRef:
	default:
		if len(rest) > 0 {
			return p, fmt.Errorf("type %s takes no size", kind)
		}
		return p, nil
	}
	if len(rest) == 0 {
		if kind == types.TypeValueType {
			return p, fmt.Errorf("valuetype needs a size")
		}
		return p, nil
	}
	size, err := strconv.Atoi(rest[0])
	if err != nil || size < 0 {
		return p, fmt.Errorf("bad struct size %q", rest[0])
	}
	p.Size, p.Align = size, 1
	p.IsValueType = kind == types.TypeGenericInst
	for _, r := range rest[1:] {
		switch r {
		case "r4":
			p.SingleFloat = types.TypeR4
		case "r8":
			p.SingleFloat = types.TypeR8
		default:
			align, err := strconv.Atoi(r)
			if err != nil || align <= 0 {
				return p, fmt.Errorf("bad struct attribute %q", r)
			}
			p.Align = align
		}
	}
	return p, nil
}
