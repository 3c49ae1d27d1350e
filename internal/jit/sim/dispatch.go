package sim

import "github.com/tangzhangming/novajit/internal/jit/platform"

// ============================================================================
// 分派表
// ============================================================================

// execFunc 指令执行函数
type execFunc func(c *CPU, in *platform.Inst) error

// dispatchTable 指令描述到执行函数的映射
var dispatchTable = make(map[platform.Op]execFunc, len(platform.AllOps))

func init() {
	// 32 位算术与逻辑
	dispatchTable[platform.OpLR] = opLR
	dispatchTable[platform.OpAR] = opAR
	dispatchTable[platform.OpSR] = opSR
	dispatchTable[platform.OpALR] = opALR
	dispatchTable[platform.OpSLR] = opSLR
	dispatchTable[platform.OpCR] = opCR
	dispatchTable[platform.OpCLR] = opCLR
	dispatchTable[platform.OpLTR] = opLTR
	dispatchTable[platform.OpLCR] = opLCR
	dispatchTable[platform.OpNR] = opNR
	dispatchTable[platform.OpOR] = opOR
	dispatchTable[platform.OpXR] = opXR
	dispatchTable[platform.OpDR] = opDR
	dispatchTable[platform.OpMSR] = opMSR
	dispatchTable[platform.OpDLR] = opDLR

	// 分支
	dispatchTable[platform.OpBASR] = opBASR
	dispatchTable[platform.OpBCR] = opBCR
	dispatchTable[platform.OpBRC] = opBRC
	dispatchTable[platform.OpBRAS] = opBRAS
	dispatchTable[platform.OpBRCL] = opBRC
	dispatchTable[platform.OpBRASL] = opBRAS
	dispatchTable[platform.OpLARL] = opLARL

	// 64 位算术与逻辑
	dispatchTable[platform.OpLPGR] = opLPGR
	dispatchTable[platform.OpLTGR] = opLTGR
	dispatchTable[platform.OpLCGR] = opLCGR
	dispatchTable[platform.OpLGR] = opLGR
	dispatchTable[platform.OpLGBR] = opLGBR
	dispatchTable[platform.OpLGHR] = opLGHR
	dispatchTable[platform.OpAGR] = opAGR
	dispatchTable[platform.OpSGR] = opSGR
	dispatchTable[platform.OpALGR] = opALGR
	dispatchTable[platform.OpSLGR] = opSLGR
	dispatchTable[platform.OpALCGR] = opALCGR
	dispatchTable[platform.OpMSGR] = opMSGR
	dispatchTable[platform.OpDSGR] = opDSGR
	dispatchTable[platform.OpDSGFR] = opDSGFR
	dispatchTable[platform.OpDLGR] = opDLGR
	dispatchTable[platform.OpLGFR] = opLGFR
	dispatchTable[platform.OpLLGFR] = opLLGFR
	dispatchTable[platform.OpLLGCR] = opLLGCR
	dispatchTable[platform.OpLLGHR] = opLLGHR
	dispatchTable[platform.OpCGR] = opCGR
	dispatchTable[platform.OpCLGR] = opCLGR
	dispatchTable[platform.OpNGR] = opNGR
	dispatchTable[platform.OpOGR] = opOGR
	dispatchTable[platform.OpXGR] = opXGR

	// 存储访问
	dispatchTable[platform.OpLA] = opLA
	dispatchTable[platform.OpLAY] = opLA
	dispatchTable[platform.OpSTC] = opSTC
	dispatchTable[platform.OpSTCY] = opSTC
	dispatchTable[platform.OpSTH] = opSTH
	dispatchTable[platform.OpSTHY] = opSTH
	dispatchTable[platform.OpST] = opST
	dispatchTable[platform.OpSTY] = opST
	dispatchTable[platform.OpSTG] = opSTG
	dispatchTable[platform.OpIC] = opIC
	dispatchTable[platform.OpLH] = opLH
	dispatchTable[platform.OpL] = opL
	dispatchTable[platform.OpLY] = opL
	dispatchTable[platform.OpLG] = opLG
	dispatchTable[platform.OpLTG] = opLTG
	dispatchTable[platform.OpAG] = opAG
	dispatchTable[platform.OpLGF] = opLGF
	dispatchTable[platform.OpLGH] = opLGH
	dispatchTable[platform.OpLGB] = opLGB
	dispatchTable[platform.OpLLGF] = opLLGF
	dispatchTable[platform.OpLLGH] = opLLGH
	dispatchTable[platform.OpLLGC] = opLLGC
	dispatchTable[platform.OpCG] = opCG
	dispatchTable[platform.OpCLG] = opCLG
	dispatchTable[platform.OpLMG] = opLMG
	dispatchTable[platform.OpSTMG] = opSTMG

	// 移位
	dispatchTable[platform.OpSRL] = opSRL
	dispatchTable[platform.OpSLL] = opSLL
	dispatchTable[platform.OpSRA] = opSRA
	dispatchTable[platform.OpSLA] = opSLA
	dispatchTable[platform.OpSRDL] = opSRDL
	dispatchTable[platform.OpSRDA] = opSRDA
	dispatchTable[platform.OpSRAG] = opSRAG
	dispatchTable[platform.OpSLAG] = opSLAG
	dispatchTable[platform.OpSRLG] = opSRLG
	dispatchTable[platform.OpSLLG] = opSLLG

	// 立即数
	dispatchTable[platform.OpNILL] = opNILL
	dispatchTable[platform.OpTMLL] = opTMLL
	dispatchTable[platform.OpLHI] = opLHI
	dispatchTable[platform.OpLGHI] = opLGHI
	dispatchTable[platform.OpAHI] = opAHI
	dispatchTable[platform.OpAGHI] = opAGHI
	dispatchTable[platform.OpMHI] = opMHI
	dispatchTable[platform.OpMGHI] = opMGHI
	dispatchTable[platform.OpCHI] = opCHI
	dispatchTable[platform.OpCGHI] = opCGHI
	dispatchTable[platform.OpLGFI] = opLGFI
	dispatchTable[platform.OpXILF] = opXILF
	dispatchTable[platform.OpIIHF] = opIIHF
	dispatchTable[platform.OpIILF] = opIILF
	dispatchTable[platform.OpNILF] = opNILF
	dispatchTable[platform.OpOILF] = opOILF
	dispatchTable[platform.OpLLIHF] = opLLIHF
	dispatchTable[platform.OpLLILF] = opLLILF
	dispatchTable[platform.OpMSGFI] = opMSGFI
	dispatchTable[platform.OpMSFI] = opMSFI
	dispatchTable[platform.OpAGFI] = opAGFI
	dispatchTable[platform.OpAFI] = opAFI
	dispatchTable[platform.OpCGFI] = opCGFI
	dispatchTable[platform.OpCFI] = opCFI
	dispatchTable[platform.OpCLGFI] = opCLGFI
	dispatchTable[platform.OpCLFI] = opCLFI

	// 存储立即数
	dispatchTable[platform.OpTM] = opTM
	dispatchTable[platform.OpMVI] = opMVI
	dispatchTable[platform.OpCLI] = opCLI

	// 浮点
	dispatchTable[platform.OpLDR] = opLDR
	dispatchTable[platform.OpLER] = opLER
	dispatchTable[platform.OpLPDBR] = opLPDBR
	dispatchTable[platform.OpLTDBR] = opLTDBR
	dispatchTable[platform.OpLCDBR] = opLCDBR
	dispatchTable[platform.OpLDEBR] = opLDEBR
	dispatchTable[platform.OpLEDBR] = opLEDBR
	dispatchTable[platform.OpCDBR] = opCDBR
	dispatchTable[platform.OpADBR] = opADBR
	dispatchTable[platform.OpSDBR] = opSDBR
	dispatchTable[platform.OpMDBR] = opMDBR
	dispatchTable[platform.OpDDBR] = opDDBR
	dispatchTable[platform.OpLZDR] = opLZDR
	dispatchTable[platform.OpCDFBR] = opCDFBR
	dispatchTable[platform.OpCDGBR] = opCDGBR
	dispatchTable[platform.OpCFDBR] = opCFDBR
	dispatchTable[platform.OpCGDBR] = opCGDBR
	dispatchTable[platform.OpLDGR] = opLDGR
	dispatchTable[platform.OpLGDR] = opLGDR
	dispatchTable[platform.OpSTD] = opSTD
	dispatchTable[platform.OpSTDY] = opSTD
	dispatchTable[platform.OpLD] = opLD
	dispatchTable[platform.OpLDY] = opLD
	dispatchTable[platform.OpSTE] = opSTE
	dispatchTable[platform.OpSTEY] = opSTE
	dispatchTable[platform.OpLE] = opLE
	dispatchTable[platform.OpLEY] = opLE
}
