// epilog.go - 方法尾声
//
//	（跟踪）
//	帧记录出链：*lmfAddr = previous
//	la    r15,alloc(fp)         恢复入口 SP
//	ld    f8..f15               相对入口 SP 的负偏移
//	lmg   r6,r14,48(r15)
//	br    r14

package codegen

import (
	"github.com/tangzhangming/novajit/internal/errors"
	"github.com/tangzhangming/novajit/internal/jit/abi"
	"github.com/tangzhangming/novajit/internal/jit/codebuf"
	"github.com/tangzhangming/novajit/internal/jit/platform"
	"github.com/tangzhangming/novajit/internal/jit/types"
)

// 跟踪调用期间暂存返回值的位置
const (
	traceSaveGPR = abi.MinimalStackSize
	traceSaveFPR = abi.MinimalStackSize + 8
)

// teardownMaxLen 出链与恢复的最坏长度
func (e *Emitter) teardownMaxLen() int {
	n := platform.MemMaxLen + len(e.frame.Shape.FPRSaves())*platform.MemMaxLen
	if e.frame.Shape.HasLMF() {
		n += 4 * platform.MemMaxLen
	}
	return n
}

// epilogMaxLen 尾声的最坏长度
func (e *Emitter) epilogMaxLen() int {
	n := e.teardownMaxLen() + 6 + 2
	if e.m.Has(types.FlagTrace) {
		n += 5*platform.MemMaxLen + loadConstMaxLen + callMaxLen
	}
	return n
}

func (e *Emitter) emitEpilog() error {
	max := e.epilogMaxLen()
	if err := e.buf.Reserve(max); err != nil {
		return err
	}
	start := e.buf.Len()
	a := platform.NewAssembler(e.buf)

	if e.m.Has(types.FlagTrace) {
		a.STG(abi.ReturnReg, platform.SP, traceSaveGPR)
		a.STD(abi.FReturnReg, platform.SP, traceSaveFPR)
		a.LoadConst(platform.R2, int64(e.m.ID))
		a.LG(platform.R3, platform.SP, traceSaveGPR)
		e.call(a, codebuf.SymbolTarget(SymTraceLeave))
		a.LG(abi.ReturnReg, platform.SP, traceSaveGPR)
		a.LD(abi.FReturnReg, platform.SP, traceSaveFPR)
	}

	e.emitTeardown(a)
	a.LMG(platform.R6, platform.R14, platform.SP, abi.RegSaveOffset)
	a.BR(abi.LinkReg)
	if n := e.buf.Len() - start; n > max {
		errors.Fatal(errors.J1003, "%s: epilogue emitted %d bytes, declared worst case %d", e.m.Name, n, max)
	}
	return nil
}

// emitTeardown 帧记录出链、恢复 SP 与浮点寄存器（尾声与尾调用共用）
func (e *Emitter) emitTeardown(a *platform.Assembler) {
	f := e.frame
	fr := f.FrameReg
	if f.Shape.HasLMF() {
		a.LA(platform.R1, fr, f.LMFOffset)
		a.LG(platform.R0, platform.R1, abi.LMFPrevious)
		a.LG(platform.R1, platform.R1, abi.LMFAddr)
		a.STG(platform.R0, platform.R1, 0)
	}
	a.LA(platform.SP, fr, int64(f.AllocSize))
	for _, s := range f.Shape.FPRSaves() {
		a.LD(platform.FReg(s.Reg), platform.SP, s.Offset)
	}
}
