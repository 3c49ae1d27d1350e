package types

import "fmt"

// ============================================================================
// IR 操作码
// ============================================================================

// Opcode 寄存器分配之后的 IR 操作码
//
// 操作数均为物理寄存器编号：整数操作使用 GPR 0-15，浮点操作使用 FPR 0-15。
type Opcode int

const (
	OP_NOP Opcode = iota
	OP_NOT_REACHED
	OP_MEMORY_BARRIER
	OP_SEQ_POINT
	OP_DUMMY_USE

	// 常量与移动
	OP_ICONST
	OP_I8CONST
	OP_R8CONST
	OP_R4CONST
	OP_ADDR_CONST // 符号/方法地址，需要补丁
	OP_MOVE
	OP_FMOVE
	OP_LDADDR // 取局部变量/参数槽地址

	// 内存加载（Dst = *(Base+Offset)）
	OP_LOADI1_MEMBASE
	OP_LOADU1_MEMBASE
	OP_LOADI2_MEMBASE
	OP_LOADU2_MEMBASE
	OP_LOADI4_MEMBASE
	OP_LOADU4_MEMBASE
	OP_LOADI8_MEMBASE
	OP_LOADR4_MEMBASE
	OP_LOADR8_MEMBASE

	// 内存存储（*(Base+Offset) = Src1 / Imm）
	OP_STOREI1_MEMBASE_REG
	OP_STOREI2_MEMBASE_REG
	OP_STOREI4_MEMBASE_REG
	OP_STOREI8_MEMBASE_REG
	OP_STORER4_MEMBASE_REG
	OP_STORER8_MEMBASE_REG
	OP_STOREI4_MEMBASE_IMM
	OP_STOREI8_MEMBASE_IMM

	// 32 位整数运算
	OP_IADD
	OP_ISUB
	OP_IMUL
	OP_IDIV
	OP_IDIV_UN
	OP_IREM
	OP_IREM_UN
	OP_IAND
	OP_IOR
	OP_IXOR
	OP_INEG
	OP_INOT
	OP_ISHL
	OP_ISHR
	OP_ISHR_UN
	OP_IADD_IMM
	OP_ISUB_IMM
	OP_IMUL_IMM
	OP_IAND_IMM
	OP_IOR_IMM
	OP_IXOR_IMM
	OP_ISHL_IMM
	OP_ISHR_IMM
	OP_ISHR_UN_IMM

	// 64 位整数运算
	OP_LADD
	OP_LSUB
	OP_LMUL
	OP_LDIV
	OP_LDIV_UN
	OP_LREM
	OP_LREM_UN
	OP_LAND
	OP_LOR
	OP_LXOR
	OP_LNEG
	OP_LNOT
	OP_LSHL
	OP_LSHR
	OP_LSHR_UN
	OP_LADD_IMM
	OP_LSUB_IMM
	OP_LMUL_IMM
	OP_LAND_IMM
	OP_LOR_IMM
	OP_LXOR_IMM
	OP_LSHL_IMM
	OP_LSHR_IMM
	OP_LSHR_UN_IMM

	// 带溢出检查的运算
	OP_IADD_OVF
	OP_IADD_OVF_UN
	OP_ISUB_OVF
	OP_ISUB_OVF_UN
	OP_LADD_OVF
	OP_LADD_OVF_UN
	OP_LSUB_OVF
	OP_LSUB_OVF_UN

	// 类型转换
	OP_ICONV_TO_I1
	OP_ICONV_TO_U1
	OP_ICONV_TO_I2
	OP_ICONV_TO_U2
	OP_SEXT_I4
	OP_ZEXT_I4
	OP_LCONV_TO_R8
	OP_ICONV_TO_R8
	OP_FCONV_TO_I8
	OP_FCONV_TO_I4
	OP_RCONV_TO_R8
	OP_FCONV_TO_R4

	// 浮点运算
	OP_FADD
	OP_FSUB
	OP_FMUL
	OP_FDIV
	OP_FNEG

	// 比较（设置条件码，由后续指令消费）
	OP_ICOMPARE
	OP_ICOMPARE_IMM
	OP_LCOMPARE
	OP_LCOMPARE_IMM
	OP_FCOMPARE

	// 比较结果物化为 0/1
	OP_CEQ
	OP_CLT
	OP_CLT_UN
	OP_CGT
	OP_CGT_UN

	// 条件分支
	OP_IBEQ
	OP_IBNE_UN
	OP_IBLT
	OP_IBLT_UN
	OP_IBGT
	OP_IBGT_UN
	OP_IBGE
	OP_IBGE_UN
	OP_IBLE
	OP_IBLE_UN
	OP_FBEQ
	OP_FBNE_UN
	OP_FBLT
	OP_FBLT_UN
	OP_FBGT
	OP_FBGT_UN
	OP_FBGE
	OP_FBLE

	// 条件异常
	OP_COND_EXC_EQ
	OP_COND_EXC_NE_UN
	OP_COND_EXC_LT
	OP_COND_EXC_LT_UN
	OP_COND_EXC_GT
	OP_COND_EXC_GT_UN
	OP_COND_EXC_GE
	OP_COND_EXC_GE_UN
	OP_COND_EXC_LE
	OP_COND_EXC_LE_UN
	OP_COND_EXC_OV
	OP_COND_EXC_NO
	OP_COND_EXC_C
	OP_COND_EXC_NC

	// 控制流
	OP_BR
	OP_SWITCH
	OP_RET // 跳转到方法尾声

	// 调用
	OP_CALL
	OP_FCALL
	OP_CALL_REG
	OP_CALL_MEMBASE
	OP_IMT_CALL // Imm 为 IMT 键，经 vtable 槽位调用
	OP_TAILCALL
	OP_GENERIC_CLASS_INIT

	// 异常处理
	OP_THROW
	OP_RETHROW
	OP_START_HANDLER
	OP_ENDFINALLY
	OP_ENDFILTER
	OP_CALL_HANDLER

	// 杂项
	OP_CHECK_THIS
	OP_LOCALLOC
	OP_ARGLIST

	opcodeCount
)

// Family 操作码族，每族对应一个发射函数
type Family int

const (
	FamilyMisc Family = iota
	FamilyConst
	FamilyMove
	FamilyLoad
	FamilyStore
	FamilyALU
	FamilyALUImm
	FamilyShift
	FamilyOverflow
	FamilyConv
	FamilyFloat
	FamilyCompare
	FamilySetCC
	FamilyBranch
	FamilyCondExc
	FamilyCall
	FamilyEH
	familyCount
)

var familyNames = [...]string{
	FamilyMisc:     "misc",
	FamilyConst:    "const",
	FamilyMove:     "move",
	FamilyLoad:     "load",
	FamilyStore:    "store",
	FamilyALU:      "alu",
	FamilyALUImm:   "alu-imm",
	FamilyShift:    "shift",
	FamilyOverflow: "overflow",
	FamilyConv:     "conv",
	FamilyFloat:    "float",
	FamilyCompare:  "compare",
	FamilySetCC:    "setcc",
	FamilyBranch:   "branch",
	FamilyCondExc:  "cond-exc",
	FamilyCall:     "call",
	FamilyEH:       "eh",
}

func (f Family) String() string {
	if f >= 0 && f < familyCount {
		return familyNames[f]
	}
	return fmt.Sprintf("family(%d)", int(f))
}

type opInfo struct {
	name   string
	family Family
}

var opTable = [...]opInfo{
	OP_NOP:            {"nop", FamilyMisc},
	OP_NOT_REACHED:    {"not_reached", FamilyMisc},
	OP_MEMORY_BARRIER: {"memory_barrier", FamilyMisc},
	OP_SEQ_POINT:      {"seq_point", FamilyMisc},
	OP_DUMMY_USE:      {"dummy_use", FamilyMisc},

	OP_ICONST:     {"iconst", FamilyConst},
	OP_I8CONST:    {"i8const", FamilyConst},
	OP_R8CONST:    {"r8const", FamilyConst},
	OP_R4CONST:    {"r4const", FamilyConst},
	OP_ADDR_CONST: {"addr_const", FamilyConst},
	OP_MOVE:       {"move", FamilyMove},
	OP_FMOVE:      {"fmove", FamilyMove},
	OP_LDADDR:     {"ldaddr", FamilyMove},

	OP_LOADI1_MEMBASE: {"loadi1_membase", FamilyLoad},
	OP_LOADU1_MEMBASE: {"loadu1_membase", FamilyLoad},
	OP_LOADI2_MEMBASE: {"loadi2_membase", FamilyLoad},
	OP_LOADU2_MEMBASE: {"loadu2_membase", FamilyLoad},
	OP_LOADI4_MEMBASE: {"loadi4_membase", FamilyLoad},
	OP_LOADU4_MEMBASE: {"loadu4_membase", FamilyLoad},
	OP_LOADI8_MEMBASE: {"loadi8_membase", FamilyLoad},
	OP_LOADR4_MEMBASE: {"loadr4_membase", FamilyLoad},
	OP_LOADR8_MEMBASE: {"loadr8_membase", FamilyLoad},

	OP_STOREI1_MEMBASE_REG: {"storei1_membase_reg", FamilyStore},
	OP_STOREI2_MEMBASE_REG: {"storei2_membase_reg", FamilyStore},
	OP_STOREI4_MEMBASE_REG: {"storei4_membase_reg", FamilyStore},
	OP_STOREI8_MEMBASE_REG: {"storei8_membase_reg", FamilyStore},
	OP_STORER4_MEMBASE_REG: {"storer4_membase_reg", FamilyStore},
	OP_STORER8_MEMBASE_REG: {"storer8_membase_reg", FamilyStore},
	OP_STOREI4_MEMBASE_IMM: {"storei4_membase_imm", FamilyStore},
	OP_STOREI8_MEMBASE_IMM: {"storei8_membase_imm", FamilyStore},

	OP_IADD:        {"iadd", FamilyALU},
	OP_ISUB:        {"isub", FamilyALU},
	OP_IMUL:        {"imul", FamilyALU},
	OP_IDIV:        {"idiv", FamilyALU},
	OP_IDIV_UN:     {"idiv_un", FamilyALU},
	OP_IREM:        {"irem", FamilyALU},
	OP_IREM_UN:     {"irem_un", FamilyALU},
	OP_IAND:        {"iand", FamilyALU},
	OP_IOR:         {"ior", FamilyALU},
	OP_IXOR:        {"ixor", FamilyALU},
	OP_INEG:        {"ineg", FamilyALU},
	OP_INOT:        {"inot", FamilyALU},
	OP_ISHL:        {"ishl", FamilyShift},
	OP_ISHR:        {"ishr", FamilyShift},
	OP_ISHR_UN:     {"ishr_un", FamilyShift},
	OP_IADD_IMM:    {"iadd_imm", FamilyALUImm},
	OP_ISUB_IMM:    {"isub_imm", FamilyALUImm},
	OP_IMUL_IMM:    {"imul_imm", FamilyALUImm},
	OP_IAND_IMM:    {"iand_imm", FamilyALUImm},
	OP_IOR_IMM:     {"ior_imm", FamilyALUImm},
	OP_IXOR_IMM:    {"ixor_imm", FamilyALUImm},
	OP_ISHL_IMM:    {"ishl_imm", FamilyShift},
	OP_ISHR_IMM:    {"ishr_imm", FamilyShift},
	OP_ISHR_UN_IMM: {"ishr_un_imm", FamilyShift},

	OP_LADD:        {"ladd", FamilyALU},
	OP_LSUB:        {"lsub", FamilyALU},
	OP_LMUL:        {"lmul", FamilyALU},
	OP_LDIV:        {"ldiv", FamilyALU},
	OP_LDIV_UN:     {"ldiv_un", FamilyALU},
	OP_LREM:        {"lrem", FamilyALU},
	OP_LREM_UN:     {"lrem_un", FamilyALU},
	OP_LAND:        {"land", FamilyALU},
	OP_LOR:         {"lor", FamilyALU},
	OP_LXOR:        {"lxor", FamilyALU},
	OP_LNEG:        {"lneg", FamilyALU},
	OP_LNOT:        {"lnot", FamilyALU},
	OP_LSHL:        {"lshl", FamilyShift},
	OP_LSHR:        {"lshr", FamilyShift},
	OP_LSHR_UN:     {"lshr_un", FamilyShift},
	OP_LADD_IMM:    {"ladd_imm", FamilyALUImm},
	OP_LSUB_IMM:    {"lsub_imm", FamilyALUImm},
	OP_LMUL_IMM:    {"lmul_imm", FamilyALUImm},
	OP_LAND_IMM:    {"land_imm", FamilyALUImm},
	OP_LOR_IMM:     {"lor_imm", FamilyALUImm},
	OP_LXOR_IMM:    {"lxor_imm", FamilyALUImm},
	OP_LSHL_IMM:    {"lshl_imm", FamilyShift},
	OP_LSHR_IMM:    {"lshr_imm", FamilyShift},
	OP_LSHR_UN_IMM: {"lshr_un_imm", FamilyShift},

	OP_IADD_OVF:    {"iadd_ovf", FamilyOverflow},
	OP_IADD_OVF_UN: {"iadd_ovf_un", FamilyOverflow},
	OP_ISUB_OVF:    {"isub_ovf", FamilyOverflow},
	OP_ISUB_OVF_UN: {"isub_ovf_un", FamilyOverflow},
	OP_LADD_OVF:    {"ladd_ovf", FamilyOverflow},
	OP_LADD_OVF_UN: {"ladd_ovf_un", FamilyOverflow},
	OP_LSUB_OVF:    {"lsub_ovf", FamilyOverflow},
	OP_LSUB_OVF_UN: {"lsub_ovf_un", FamilyOverflow},

	OP_ICONV_TO_I1: {"iconv_to_i1", FamilyConv},
	OP_ICONV_TO_U1: {"iconv_to_u1", FamilyConv},
	OP_ICONV_TO_I2: {"iconv_to_i2", FamilyConv},
	OP_ICONV_TO_U2: {"iconv_to_u2", FamilyConv},
	OP_SEXT_I4:     {"sext_i4", FamilyConv},
	OP_ZEXT_I4:     {"zext_i4", FamilyConv},
	OP_LCONV_TO_R8: {"lconv_to_r8", FamilyConv},
	OP_ICONV_TO_R8: {"iconv_to_r8", FamilyConv},
	OP_FCONV_TO_I8: {"fconv_to_i8", FamilyConv},
	OP_FCONV_TO_I4: {"fconv_to_i4", FamilyConv},
	OP_RCONV_TO_R8: {"rconv_to_r8", FamilyConv},
	OP_FCONV_TO_R4: {"fconv_to_r4", FamilyConv},

	OP_FADD: {"fadd", FamilyFloat},
	OP_FSUB: {"fsub", FamilyFloat},
	OP_FMUL: {"fmul", FamilyFloat},
	OP_FDIV: {"fdiv", FamilyFloat},
	OP_FNEG: {"fneg", FamilyFloat},

	OP_ICOMPARE:     {"icompare", FamilyCompare},
	OP_ICOMPARE_IMM: {"icompare_imm", FamilyCompare},
	OP_LCOMPARE:     {"lcompare", FamilyCompare},
	OP_LCOMPARE_IMM: {"lcompare_imm", FamilyCompare},
	OP_FCOMPARE:     {"fcompare", FamilyCompare},

	OP_CEQ:    {"ceq", FamilySetCC},
	OP_CLT:    {"clt", FamilySetCC},
	OP_CLT_UN: {"clt_un", FamilySetCC},
	OP_CGT:    {"cgt", FamilySetCC},
	OP_CGT_UN: {"cgt_un", FamilySetCC},

	OP_IBEQ:    {"ibeq", FamilyBranch},
	OP_IBNE_UN: {"ibne_un", FamilyBranch},
	OP_IBLT:    {"iblt", FamilyBranch},
	OP_IBLT_UN: {"iblt_un", FamilyBranch},
	OP_IBGT:    {"ibgt", FamilyBranch},
	OP_IBGT_UN: {"ibgt_un", FamilyBranch},
	OP_IBGE:    {"ibge", FamilyBranch},
	OP_IBGE_UN: {"ibge_un", FamilyBranch},
	OP_IBLE:    {"ible", FamilyBranch},
	OP_IBLE_UN: {"ible_un", FamilyBranch},
	OP_FBEQ:    {"fbeq", FamilyBranch},
	OP_FBNE_UN: {"fbne_un", FamilyBranch},
	OP_FBLT:    {"fblt", FamilyBranch},
	OP_FBLT_UN: {"fblt_un", FamilyBranch},
	OP_FBGT:    {"fbgt", FamilyBranch},
	OP_FBGT_UN: {"fbgt_un", FamilyBranch},
	OP_FBGE:    {"fbge", FamilyBranch},
	OP_FBLE:    {"fble", FamilyBranch},

	OP_COND_EXC_EQ:    {"cond_exc_eq", FamilyCondExc},
	OP_COND_EXC_NE_UN: {"cond_exc_ne_un", FamilyCondExc},
	OP_COND_EXC_LT:    {"cond_exc_lt", FamilyCondExc},
	OP_COND_EXC_LT_UN: {"cond_exc_lt_un", FamilyCondExc},
	OP_COND_EXC_GT:    {"cond_exc_gt", FamilyCondExc},
	OP_COND_EXC_GT_UN: {"cond_exc_gt_un", FamilyCondExc},
	OP_COND_EXC_GE:    {"cond_exc_ge", FamilyCondExc},
	OP_COND_EXC_GE_UN: {"cond_exc_ge_un", FamilyCondExc},
	OP_COND_EXC_LE:    {"cond_exc_le", FamilyCondExc},
	OP_COND_EXC_LE_UN: {"cond_exc_le_un", FamilyCondExc},
	OP_COND_EXC_OV:    {"cond_exc_ov", FamilyCondExc},
	OP_COND_EXC_NO:    {"cond_exc_no", FamilyCondExc},
	OP_COND_EXC_C:     {"cond_exc_c", FamilyCondExc},
	OP_COND_EXC_NC:    {"cond_exc_nc", FamilyCondExc},

	OP_BR:     {"br", FamilyBranch},
	OP_SWITCH: {"switch", FamilyBranch},
	OP_RET:    {"ret", FamilyBranch},

	OP_CALL:               {"call", FamilyCall},
	OP_FCALL:              {"fcall", FamilyCall},
	OP_CALL_REG:           {"call_reg", FamilyCall},
	OP_CALL_MEMBASE:       {"call_membase", FamilyCall},
	OP_IMT_CALL:           {"imt_call", FamilyCall},
	OP_TAILCALL:           {"tailcall", FamilyCall},
	OP_GENERIC_CLASS_INIT: {"generic_class_init", FamilyCall},

	OP_THROW:         {"throw", FamilyEH},
	OP_RETHROW:       {"rethrow", FamilyEH},
	OP_START_HANDLER: {"start_handler", FamilyEH},
	OP_ENDFINALLY:    {"endfinally", FamilyEH},
	OP_ENDFILTER:     {"endfilter", FamilyEH},
	OP_CALL_HANDLER:  {"call_handler", FamilyEH},

	OP_CHECK_THIS: {"check_this", FamilyMisc},
	OP_LOCALLOC:   {"localloc", FamilyMisc},
	OP_ARGLIST:    {"arglist", FamilyMisc},
}

// Valid 是否为已知操作码
func (op Opcode) Valid() bool {
	return op >= 0 && op < opcodeCount && opTable[op].name != ""
}

func (op Opcode) String() string {
	if op.Valid() {
		return opTable[op].name
	}
	return fmt.Sprintf("op(%d)", int(op))
}

// Family 返回操作码所属的族
func (op Opcode) Family() Family {
	if op.Valid() {
		return opTable[op].family
	}
	return -1
}

var opByName map[string]Opcode

func init() {
	opByName = make(map[string]Opcode, opcodeCount)
	for i := Opcode(0); i < opcodeCount; i++ {
		if opTable[i].name != "" {
			opByName[opTable[i].name] = i
		}
	}
}

// ParseOpcode 按名称解析操作码
func ParseOpcode(name string) (Opcode, bool) {
	op, ok := opByName[name]
	return op, ok
}

// IsUnsignedConsumer 指令是否以无符号方式消费前一条比较的条件码
//
// 比较指令根据下一条指令选择有符号或逻辑比较。
func (op Opcode) IsUnsignedConsumer() bool {
	switch op {
	case OP_IBLT_UN, OP_IBGT_UN, OP_IBGE_UN, OP_IBLE_UN,
		OP_CLT_UN, OP_CGT_UN,
		OP_COND_EXC_LT_UN, OP_COND_EXC_GT_UN, OP_COND_EXC_GE_UN, OP_COND_EXC_LE_UN:
		return true
	}
	return false
}

// Is32Bit 整数运算是否只作用于低 32 位
func (op Opcode) Is32Bit() bool {
	switch op {
	case OP_IADD, OP_ISUB, OP_IMUL, OP_IDIV, OP_IDIV_UN, OP_IREM, OP_IREM_UN,
		OP_IAND, OP_IOR, OP_IXOR, OP_INEG, OP_INOT, OP_ISHL, OP_ISHR, OP_ISHR_UN,
		OP_IADD_IMM, OP_ISUB_IMM, OP_IMUL_IMM, OP_IAND_IMM, OP_IOR_IMM, OP_IXOR_IMM,
		OP_ISHL_IMM, OP_ISHR_IMM, OP_ISHR_UN_IMM,
		OP_IADD_OVF, OP_IADD_OVF_UN, OP_ISUB_OVF, OP_ISUB_OVF_UN,
		OP_ICOMPARE, OP_ICOMPARE_IMM:
		return true
	}
	return false
}
