// methodfile.go - TOML 方法描述
//
// 方法描述供命令行工具与测试使用，IR 指令写作内联表：
//
//	[[method]]
//	id = 1
//	name = "add"
//	sig = "i8(i8, i8)"
//
//	[[method.block]]
//	id = 0
//	insts = [
//	  { op = "ladd", d = 2, s1 = 2, s2 = 3 },
//	  { op = "ret", s1 = 2 },
//	]
//
// 调用目标写作 method:ID、sym:名称、abs:地址、rgctx:槽位、classinit:负载；
// 槽位写作 arg:下标 或 local:下标。

package jit

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/tangzhangming/novajit/internal/jit/types"
)

// MethodFile 方法描述文件
type MethodFile struct {
	Methods []MethodSpec `toml:"method"`
}

// MethodSpec 一个方法
type MethodSpec struct {
	ID        int          `toml:"id"`
	Name      string       `toml:"name"`
	Sig       string       `toml:"sig"`
	Flags     []string     `toml:"flags"`
	UsedFP    []int        `toml:"used_fp"`
	ParamArea int          `toml:"param_area"`
	SpillArea int          `toml:"spill_area"`
	Locals    []LocalSpec  `toml:"local"`
	Clauses   []ClauseSpec `toml:"clause"`
	Blocks    []BlockSpec  `toml:"block"`
}

// LocalSpec 局部变量
type LocalSpec struct {
	Name  string `toml:"name"`
	Size  int    `toml:"size"`
	Align int    `toml:"align"`
}

// ClauseSpec 异常子句，范围以基本块 ID 表示
type ClauseSpec struct {
	Kind     string `toml:"kind"`
	TryStart int    `toml:"try_start"`
	TryEnd   int    `toml:"try_end"`
	Handler  int    `toml:"handler"`
	Filter   int    `toml:"filter"`
	Class    string `toml:"class"`
}

// BlockSpec 基本块
type BlockSpec struct {
	ID    int        `toml:"id"`
	Insts []InstSpec `toml:"insts"`
}

// InstSpec 指令，未出现的寄存器字段为 NoReg
type InstSpec struct {
	Op        string  `toml:"op"`
	Dst       *int    `toml:"d"`
	Src1      *int    `toml:"s1"`
	Src2      *int    `toml:"s2"`
	Base      *int    `toml:"b"`
	Offset    int64   `toml:"off"`
	Slot      string  `toml:"slot"`
	Imm       int64   `toml:"imm"`
	FImm      float64 `toml:"fimm"`
	Target    *int    `toml:"target"`
	Targets   []int   `toml:"targets"`
	Call      string  `toml:"call"`
	Exception string  `toml:"exc"`
	IL        int     `toml:"il"`
}

var flagNames = map[string]types.MethodFlags{
	"alloca":      types.FlagHasAlloca,
	"save_lmf":    types.FlagSaveLMF,
	"seq_points":  types.FlagSeqPoints,
	"needs_rgctx": types.FlagNeedsRgctx,
	"trace":       types.FlagTrace,
	"single_step": types.FlagSingleStep,
}

var clauseKinds = map[string]types.ClauseKind{
	"catch":   types.ClauseCatch,
	"filter":  types.ClauseFilter,
	"finally": types.ClauseFinally,
	"fault":   types.ClauseFault,
}

// LoadMethods 从文件加载方法描述
func LoadMethods(path string) ([]*types.Method, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read method file: %w", err)
	}
	return ParseMethods(data)
}

// ParseMethods 解析 TOML 方法描述
func ParseMethods(data []byte) ([]*types.Method, error) {
	var f MethodFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse method file: %w", err)
	}
	out := make([]*types.Method, 0, len(f.Methods))
	for i := range f.Methods {
		m, err := f.Methods[i].Build()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// Build 转换为 IR 方法
func (s *MethodSpec) Build() (*types.Method, error) {
	name := s.Name
	if name == "" {
		name = fmt.Sprintf("method%d", s.ID)
	}
	sig, err := ParseSignature(s.Sig)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	m := &types.Method{
		ID:        s.ID,
		Name:      name,
		Sig:       sig,
		ParamArea: s.ParamArea,
		SpillArea: s.SpillArea,
	}
	for _, fl := range s.Flags {
		f, ok := flagNames[fl]
		if !ok {
			return nil, fmt.Errorf("%s: unknown flag %q", name, fl)
		}
		m.Flags |= f
	}
	for _, r := range s.UsedFP {
		if r < 0 || r > 15 {
			return nil, fmt.Errorf("%s: bad float register %d", name, r)
		}
		m.UsedFPRegs |= 1 << uint(r)
	}
	for _, l := range s.Locals {
		m.Locals = append(m.Locals, types.Local{Name: l.Name, Size: l.Size, Align: l.Align})
	}
	for _, c := range s.Clauses {
		kind, ok := clauseKinds[c.Kind]
		if !ok {
			return nil, fmt.Errorf("%s: unknown clause kind %q", name, c.Kind)
		}
		m.Clauses = append(m.Clauses, types.Clause{
			Kind:         kind,
			TryStart:     c.TryStart,
			TryEnd:       c.TryEnd,
			HandlerBlock: c.Handler,
			FilterBlock:  c.Filter,
			CatchClass:   c.Class,
		})
	}
	for _, b := range s.Blocks {
		blk := &types.Block{ID: b.ID}
		for j := range b.Insts {
			ins, err := b.Insts[j].Build()
			if err != nil {
				return nil, fmt.Errorf("%s: B%d[%d]: %w", name, b.ID, j, err)
			}
			blk.Insts = append(blk.Insts, ins)
		}
		m.Blocks = append(m.Blocks, blk)
	}
	return m, nil
}

// Build 转换为 IR 指令
func (s *InstSpec) Build() (*types.Inst, error) {
	op, ok := types.ParseOpcode(s.Op)
	if !ok {
		return nil, fmt.Errorf("unknown opcode %q", s.Op)
	}
	ins := types.NewInst(op)
	reg := func(dst *int, v *int) {
		if v != nil {
			*dst = *v
		}
	}
	reg(&ins.Dst, s.Dst)
	reg(&ins.Src1, s.Src1)
	reg(&ins.Src2, s.Src2)
	reg(&ins.Base, s.Base)
	reg(&ins.Target, s.Target)
	ins.Offset = s.Offset
	ins.Imm = s.Imm
	ins.FImm = s.FImm
	ins.Targets = s.Targets
	ins.Exception = s.Exception
	ins.ILOffset = s.IL

	if s.Slot != "" {
		slot, err := parseSlot(s.Slot)
		if err != nil {
			return nil, err
		}
		ins.Slot = slot
	}
	if s.Call != "" {
		ct, err := parseCallTarget(s.Call)
		if err != nil {
			return nil, err
		}
		ins.Call = ct
	}
	return ins, nil
}

func parseSlot(s string) (types.Slot, error) {
	kind, idx, ok := strings.Cut(s, ":")
	n, err := strconv.Atoi(idx)
	if !ok || err != nil {
		return types.Slot{}, fmt.Errorf("bad slot %q", s)
	}
	switch kind {
	case "arg":
		return types.Slot{Kind: types.SlotArg, Index: n}, nil
	case "local":
		return types.Slot{Kind: types.SlotLocal, Index: n}, nil
	}
	return types.Slot{}, fmt.Errorf("bad slot kind %q", kind)
}

func parseCallTarget(s string) (*types.CallTarget, error) {
	kind, val, ok := strings.Cut(s, ":")
	if !ok {
		return nil, fmt.Errorf("bad call target %q", s)
	}
	if kind == "sym" {
		return &types.CallTarget{Kind: types.CallSymbol, Name: val}, nil
	}
	n, err := strconv.ParseUint(val, 0, 64)
	if err != nil {
		return nil, fmt.Errorf("bad call target %q: %w", s, err)
	}
	switch kind {
	case "method":
		return &types.CallTarget{Kind: types.CallMethod, Method: int(n)}, nil
	case "abs":
		return &types.CallTarget{Kind: types.CallAbs, Addr: n}, nil
	case "rgctx":
		return &types.CallTarget{Kind: types.CallRgctxFetch, Payload: n}, nil
	case "classinit":
		return &types.CallTarget{Kind: types.CallClassInit, Payload: n}, nil
	}
	return nil, fmt.Errorf("bad call target kind %q", kind)
}
