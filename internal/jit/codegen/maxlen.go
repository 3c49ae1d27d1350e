package codegen

import (
	"github.com/tangzhangming/novajit/internal/jit/platform"
	"github.com/tangzhangming/novajit/internal/jit/types"
)

// ============================================================================
// 最坏情况长度
// ============================================================================

// 每族的最坏编码长度
//
// 存储访问最长 platform.MemMaxLen 字节（装载位移 + RXY），间接槽位还要
// 多一次 LG 取地址；常量装载最长 12 字节；调用模板最长 16 字节。
var familyMaxLen = [...]int{
	types.FamilyMisc:     16,
	types.FamilyConst:    16,
	types.FamilyMove:     2*platform.MemMaxLen + 4,
	types.FamilyLoad:     2 * platform.MemMaxLen,
	types.FamilyStore:    12 + 2*platform.MemMaxLen,
	types.FamilyALU:      16,
	types.FamilyALUImm:   28,
	types.FamilyShift:    24,
	types.FamilyOverflow: 20,
	types.FamilyConv:     12,
	types.FamilyFloat:    12,
	types.FamilyCompare:  16,
	types.FamilySetCC:    12,
	types.FamilyBranch:   12,
	types.FamilyCondExc:  6,
	types.FamilyCall:     40,
	types.FamilyEH:       28,
}

// MaxLen 指令的最坏编码长度
//
// 发射前按此值预留缓冲区，实际发射超过此值是内部错误。
func MaxLen(ins *types.Inst) int {
	switch ins.Op {
	case types.OP_SEQ_POINT:
		return 3*platform.MemMaxLen + 6
	case types.OP_LOCALLOC:
		return 48
	case types.OP_ARGLIST:
		return 2 * platform.MemMaxLen
	case types.OP_IDIV, types.OP_IDIV_UN, types.OP_IREM, types.OP_IREM_UN,
		types.OP_LDIV, types.OP_LDIV_UN, types.OP_LREM, types.OP_LREM_UN:
		return 64
	case types.OP_SWITCH:
		return 48 + 8*len(ins.Targets)
	case types.OP_TAILCALL:
		return 512
	case types.OP_GENERIC_CLASS_INIT:
		return 52
	}
	fam := ins.Op.Family()
	if fam < 0 || int(fam) >= len(familyMaxLen) {
		return 0
	}
	return familyMaxLen[fam]
}
