// generic.go - 通用蹦床
//
// 入口：r1 = 特定蹦床中负载常量的地址，r14 = 调用者返回地址。
//
//	stmg  r6,r15,48(r15)
//	lg    r7,0(r1)              负载
//	lgr   r1,r15
//	aghi  r15,-496
//	stg   r1,0(r15)             back chain
//	la    r13,160(r15)          帧记录
//	stmg  r0,r15,gregs(r13)
//	stmg  r2,r6,pregs(r13)
//	std   f0..f15,fregs(r13)
//	stg   r1,sp(r13) / stg r14,ip(r13) / stg r7,method(r13)
//	lgr   r8,r14
//	（get_lmf_addr 后压入帧记录）
//	lgr r2,r13 / lgr r3,r8 / lgr r4,r7
//	basr  回调
//	lgr   r1,r2
//	（帧记录出链）
//	JIT：lmg r2,r6,pregs(r13)，ld f0/f2/f4/f6，lg r0,gregs(r13)
//	其它：lgr r2,r1
//	aghi  r15,496
//	lmg   r6,r14,48(r15)
//	br    r1（JIT） / br r14
//
// 帧记录的 IP 与 SP 记为调用者的返回地址和 SP，回溯经它直接回到调用者。

package tramp

import (
	"github.com/tangzhangming/novajit/internal/jit/abi"
	"github.com/tangzhangming/novajit/internal/jit/platform"
)

const (
	// GenericFrameSize 通用蹦床帧大小
	GenericFrameSize = abi.MinimalStackSize + abi.LMFSize
	// genericLMFOffset 帧记录在蹦床帧中的偏移
	genericLMFOffset = abi.MinimalStackSize
)

// EmitGeneric 发射 k 种类的通用蹦床
func EmitGeneric(a *platform.Assembler, k Kind, callback, getLMFAddr uint64) {
	lmf := platform.R13

	a.STMG(platform.R6, platform.R15, platform.SP, abi.RegSaveOffset)
	a.LG(platform.R7, platform.R1, 0)
	a.LGR(platform.R1, platform.SP)
	a.AGHI(platform.SP, -GenericFrameSize)
	a.STG(platform.R1, platform.SP, 0)

	a.LA(lmf, platform.SP, genericLMFOffset)
	a.STMG(platform.R0, platform.R15, lmf, abi.LMFGRegs)
	a.STMG(platform.R2, platform.R6, lmf, abi.LMFPRegs)
	for f := platform.F0; f <= platform.F15; f++ {
		a.STD(f, lmf, abi.LMFFRegs+int64(f)*8)
	}
	a.STG(platform.R1, lmf, abi.LMFSP)
	a.STG(platform.R14, lmf, abi.LMFIP)
	a.STG(platform.R7, lmf, abi.LMFMethod)
	a.LGR(platform.R8, platform.R14)

	if getLMFAddr != 0 {
		a.LoadAbsValue(platform.R1, getLMFAddr)
		a.BASR(platform.R14, platform.R1)
		a.STG(platform.R2, lmf, abi.LMFAddr)
		a.LG(platform.R0, platform.R2, 0)
		a.STG(platform.R0, lmf, abi.LMFPrevious)
		a.STG(lmf, platform.R2, 0)
	}

	a.LGR(platform.R2, lmf)
	a.LGR(platform.R3, platform.R8)
	a.LGR(platform.R4, platform.R7)
	a.LoadAbsValue(platform.R1, callback)
	a.BASR(platform.R14, platform.R1)
	a.LGR(platform.R1, platform.R2)

	if getLMFAddr != 0 {
		a.LG(platform.R0, lmf, abi.LMFPrevious)
		a.LG(platform.R3, lmf, abi.LMFAddr)
		a.STG(platform.R0, platform.R3, 0)
	}

	if k.tailJump() {
		a.LMG(platform.R2, platform.R6, lmf, abi.LMFPRegs)
		for _, f := range abi.ArgFRegs {
			a.LD(f, lmf, abi.LMFFRegs+int64(f)*8)
		}
		a.LG(platform.R0, lmf, abi.LMFGRegs)
	} else {
		a.LGR(platform.R2, platform.R1)
	}
	a.AGHI(platform.SP, GenericFrameSize)
	a.LMG(platform.R6, platform.R14, platform.SP, abi.RegSaveOffset)
	if k.tailJump() {
		a.BR(platform.R1)
	} else {
		a.BR(platform.R14)
	}
}

// ============================================================================
// 回调参数
// ============================================================================

// Reader 读取蹦床帧的内存接口
type Reader interface {
	ReadU64(addr uint64) (uint64, error)
}

// FrameArgs 从回调收到的帧记录地址读取入口时的 r2..r6
func FrameArgs(mem Reader, lmf uint64) ([abi.LMFNumPRegs]uint64, error) {
	var out [abi.LMFNumPRegs]uint64
	for i := range out {
		v, err := mem.ReadU64(lmf + abi.LMFPRegs + uint64(i)*8)
		if err != nil {
			return out, err
		}
		out[i] = v
	}
	return out, nil
}
