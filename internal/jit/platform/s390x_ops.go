package platform

// ============================================================================
// 指令格式
// ============================================================================

// Format 指令格式
type Format uint8

const (
	FmtRR  Format = iota // 2 字节：op R1 R2
	FmtRRE               // 4 字节：op16 00 R1 R2
	FmtRRF               // 4 字节：op16 M3 0 R1 R2
	FmtRX                // 4 字节：op R1 X2 B2 D2(12)
	FmtRXY               // 6 字节：op R1 X2 B2 DL2(12) DH2(8) op
	FmtRS                // 4 字节：op R1 R3 B2 D2(12)
	FmtRSY               // 6 字节：op R1 R3 B2 DL2 DH2 op
	FmtRI                // 4 字节：op R1 op4 I2(16)
	FmtRIL               // 6 字节：op R1 op4 I2(32)
	FmtSI                // 4 字节：op I2(8) B1 D1(12)
)

// Len 格式对应的指令长度
func (f Format) Len() int {
	switch f {
	case FmtRR:
		return 2
	case FmtRXY, FmtRSY, FmtRIL:
		return 6
	}
	return 4
}

// Op 指令描述
//
// Code 的含义随格式不同：
//   - RR/RX/RS/SI：首字节
//   - RRE/RRF：前两字节
//   - RXY/RSY：首字节<<8 | 末字节
//   - RI/RIL：首字节<<8 | 第二字节低 4 位
type Op struct {
	Name string
	Fmt  Format
	Code uint16
}

// Valid 是否为有效指令描述
func (o Op) Valid() bool { return o.Name != "" }

// ============================================================================
// 指令表
// ============================================================================

var (
	// RR
	OpLR   = Op{"lr", FmtRR, 0x18}
	OpAR   = Op{"ar", FmtRR, 0x1A}
	OpSR   = Op{"sr", FmtRR, 0x1B}
	OpALR  = Op{"alr", FmtRR, 0x1E}
	OpSLR  = Op{"slr", FmtRR, 0x1F}
	OpCR   = Op{"cr", FmtRR, 0x19}
	OpCLR  = Op{"clr", FmtRR, 0x15}
	OpLTR  = Op{"ltr", FmtRR, 0x12}
	OpLCR  = Op{"lcr", FmtRR, 0x13}
	OpNR   = Op{"nr", FmtRR, 0x14}
	OpOR   = Op{"or", FmtRR, 0x16}
	OpXR   = Op{"xr", FmtRR, 0x17}
	OpDR   = Op{"dr", FmtRR, 0x1D}
	OpBASR = Op{"basr", FmtRR, 0x0D}
	OpBCR  = Op{"bcr", FmtRR, 0x07}
	OpLDR  = Op{"ldr", FmtRR, 0x28}
	OpLER  = Op{"ler", FmtRR, 0x38}

	// RRE
	OpLPGR  = Op{"lpgr", FmtRRE, 0xB900}
	OpLTGR  = Op{"ltgr", FmtRRE, 0xB902}
	OpLCGR  = Op{"lcgr", FmtRRE, 0xB903}
	OpLGR   = Op{"lgr", FmtRRE, 0xB904}
	OpLGBR  = Op{"lgbr", FmtRRE, 0xB906}
	OpLGHR  = Op{"lghr", FmtRRE, 0xB907}
	OpAGR   = Op{"agr", FmtRRE, 0xB908}
	OpSGR   = Op{"sgr", FmtRRE, 0xB909}
	OpALGR  = Op{"algr", FmtRRE, 0xB90A}
	OpSLGR  = Op{"slgr", FmtRRE, 0xB90B}
	OpMSGR  = Op{"msgr", FmtRRE, 0xB90C}
	OpDSGR  = Op{"dsgr", FmtRRE, 0xB90D}
	OpLGFR  = Op{"lgfr", FmtRRE, 0xB914}
	OpLLGFR = Op{"llgfr", FmtRRE, 0xB916}
	OpDSGFR = Op{"dsgfr", FmtRRE, 0xB91D}
	OpCGR   = Op{"cgr", FmtRRE, 0xB920}
	OpCLGR  = Op{"clgr", FmtRRE, 0xB921}
	OpNGR   = Op{"ngr", FmtRRE, 0xB980}
	OpOGR   = Op{"ogr", FmtRRE, 0xB981}
	OpXGR   = Op{"xgr", FmtRRE, 0xB982}
	OpLLGCR = Op{"llgcr", FmtRRE, 0xB984}
	OpLLGHR = Op{"llghr", FmtRRE, 0xB985}
	OpDLGR  = Op{"dlgr", FmtRRE, 0xB987}
	OpALCGR = Op{"alcgr", FmtRRE, 0xB988}
	OpDLR   = Op{"dlr", FmtRRE, 0xB997}
	OpMSR   = Op{"msr", FmtRRE, 0xB252}

	OpLPDBR = Op{"lpdbr", FmtRRE, 0xB310}
	OpLTDBR = Op{"ltdbr", FmtRRE, 0xB312}
	OpLCDBR = Op{"lcdbr", FmtRRE, 0xB313}
	OpLDEBR = Op{"ldebr", FmtRRE, 0xB304}
	OpCDBR  = Op{"cdbr", FmtRRE, 0xB319}
	OpADBR  = Op{"adbr", FmtRRE, 0xB31A}
	OpSDBR  = Op{"sdbr", FmtRRE, 0xB31B}
	OpMDBR  = Op{"mdbr", FmtRRE, 0xB31C}
	OpDDBR  = Op{"ddbr", FmtRRE, 0xB31D}
	OpLEDBR = Op{"ledbr", FmtRRE, 0xB344}
	OpLZDR  = Op{"lzdr", FmtRRE, 0xB375}
	OpCDFBR = Op{"cdfbr", FmtRRE, 0xB395}
	OpCDGBR = Op{"cdgbr", FmtRRE, 0xB3A5}
	OpLDGR  = Op{"ldgr", FmtRRE, 0xB3C1}
	OpLGDR  = Op{"lgdr", FmtRRE, 0xB3CD}

	// RRF（M3 为舍入模式）
	OpCFDBR = Op{"cfdbr", FmtRRF, 0xB399}
	OpCGDBR = Op{"cgdbr", FmtRRF, 0xB3A9}

	// RX
	OpSTH = Op{"sth", FmtRX, 0x40}
	OpLA  = Op{"la", FmtRX, 0x41}
	OpSTC = Op{"stc", FmtRX, 0x42}
	OpIC  = Op{"ic", FmtRX, 0x43}
	OpLH  = Op{"lh", FmtRX, 0x48}
	OpST  = Op{"st", FmtRX, 0x50}
	OpL   = Op{"l", FmtRX, 0x58}
	OpSTD = Op{"std", FmtRX, 0x60}
	OpLD  = Op{"ld", FmtRX, 0x68}
	OpSTE = Op{"ste", FmtRX, 0x70}
	OpLE  = Op{"le", FmtRX, 0x78}

	// RXY
	OpLTG  = Op{"ltg", FmtRXY, 0xE302}
	OpLG   = Op{"lg", FmtRXY, 0xE304}
	OpAG   = Op{"ag", FmtRXY, 0xE308}
	OpLGF  = Op{"lgf", FmtRXY, 0xE314}
	OpLGH  = Op{"lgh", FmtRXY, 0xE315}
	OpLLGF = Op{"llgf", FmtRXY, 0xE316}
	OpCG   = Op{"cg", FmtRXY, 0xE320}
	OpCLG  = Op{"clg", FmtRXY, 0xE321}
	OpSTG  = Op{"stg", FmtRXY, 0xE324}
	OpSTY  = Op{"sty", FmtRXY, 0xE350}
	OpLY   = Op{"ly", FmtRXY, 0xE358}
	OpSTHY = Op{"sthy", FmtRXY, 0xE370}
	OpLAY  = Op{"lay", FmtRXY, 0xE371}
	OpSTCY = Op{"stcy", FmtRXY, 0xE372}
	OpLGB  = Op{"lgb", FmtRXY, 0xE377}
	OpLLGC = Op{"llgc", FmtRXY, 0xE390}
	OpLLGH = Op{"llgh", FmtRXY, 0xE391}
	OpLEY  = Op{"ley", FmtRXY, 0xED64}
	OpLDY  = Op{"ldy", FmtRXY, 0xED65}
	OpSTEY = Op{"stey", FmtRXY, 0xED66}
	OpSTDY = Op{"stdy", FmtRXY, 0xED67}

	// RS
	OpSRL  = Op{"srl", FmtRS, 0x88}
	OpSLL  = Op{"sll", FmtRS, 0x89}
	OpSRA  = Op{"sra", FmtRS, 0x8A}
	OpSLA  = Op{"sla", FmtRS, 0x8B}
	OpSRDL = Op{"srdl", FmtRS, 0x8C}
	OpSRDA = Op{"srda", FmtRS, 0x8E}

	// RSY
	OpLMG  = Op{"lmg", FmtRSY, 0xEB04}
	OpSRAG = Op{"srag", FmtRSY, 0xEB0A}
	OpSLAG = Op{"slag", FmtRSY, 0xEB0B}
	OpSRLG = Op{"srlg", FmtRSY, 0xEB0C}
	OpSLLG = Op{"sllg", FmtRSY, 0xEB0D}
	OpSTMG = Op{"stmg", FmtRSY, 0xEB24}

	// RI
	OpNILL = Op{"nill", FmtRI, 0xA507}
	OpTMLL = Op{"tmll", FmtRI, 0xA701}
	OpBRC  = Op{"brc", FmtRI, 0xA704}
	OpBRAS = Op{"bras", FmtRI, 0xA705}
	OpLHI  = Op{"lhi", FmtRI, 0xA708}
	OpLGHI = Op{"lghi", FmtRI, 0xA709}
	OpAHI  = Op{"ahi", FmtRI, 0xA70A}
	OpAGHI = Op{"aghi", FmtRI, 0xA70B}
	OpMHI  = Op{"mhi", FmtRI, 0xA70C}
	OpMGHI = Op{"mghi", FmtRI, 0xA70D}
	OpCHI  = Op{"chi", FmtRI, 0xA70E}
	OpCGHI = Op{"cghi", FmtRI, 0xA70F}

	// RIL
	OpLARL  = Op{"larl", FmtRIL, 0xC000}
	OpLGFI  = Op{"lgfi", FmtRIL, 0xC001}
	OpBRCL  = Op{"brcl", FmtRIL, 0xC004}
	OpBRASL = Op{"brasl", FmtRIL, 0xC005}
	OpXILF  = Op{"xilf", FmtRIL, 0xC007}
	OpIIHF  = Op{"iihf", FmtRIL, 0xC008}
	OpIILF  = Op{"iilf", FmtRIL, 0xC009}
	OpNILF  = Op{"nilf", FmtRIL, 0xC00B}
	OpOILF  = Op{"oilf", FmtRIL, 0xC00D}
	OpLLIHF = Op{"llihf", FmtRIL, 0xC00E}
	OpLLILF = Op{"llilf", FmtRIL, 0xC00F}
	OpMSGFI = Op{"msgfi", FmtRIL, 0xC200}
	OpMSFI  = Op{"msfi", FmtRIL, 0xC201}
	OpAGFI  = Op{"agfi", FmtRIL, 0xC208}
	OpAFI   = Op{"afi", FmtRIL, 0xC209}
	OpCGFI  = Op{"cgfi", FmtRIL, 0xC20C}
	OpCFI   = Op{"cfi", FmtRIL, 0xC20D}
	OpCLGFI = Op{"clgfi", FmtRIL, 0xC20E}
	OpCLFI  = Op{"clfi", FmtRIL, 0xC20F}

	// SI
	OpTM  = Op{"tm", FmtSI, 0x91}
	OpMVI = Op{"mvi", FmtSI, 0x92}
	OpCLI = Op{"cli", FmtSI, 0x95}
)

// AllOps 全部指令描述，用于解码
var AllOps = []Op{
	OpLR, OpAR, OpSR, OpALR, OpSLR, OpCR, OpCLR, OpLTR, OpLCR, OpNR, OpOR, OpXR, OpDR,
	OpBASR, OpBCR, OpLDR, OpLER,

	OpLPGR, OpLTGR, OpLCGR, OpLGR, OpLGBR, OpLGHR, OpAGR, OpSGR, OpALGR, OpSLGR, OpMSGR,
	OpDSGR, OpLGFR, OpLLGFR, OpDSGFR, OpCGR, OpCLGR, OpNGR, OpOGR, OpXGR, OpLLGCR,
	OpLLGHR, OpDLGR, OpALCGR, OpDLR, OpMSR,
	OpLPDBR, OpLTDBR, OpLCDBR, OpLDEBR, OpCDBR, OpADBR, OpSDBR, OpMDBR, OpDDBR, OpLEDBR,
	OpLZDR, OpCDFBR, OpCDGBR, OpLDGR, OpLGDR,
	OpCFDBR, OpCGDBR,

	OpSTH, OpLA, OpSTC, OpIC, OpLH, OpST, OpL, OpSTD, OpLD, OpSTE, OpLE,

	OpLTG, OpLG, OpAG, OpLGF, OpLGH, OpLLGF, OpCG, OpCLG, OpSTG, OpSTY, OpLY, OpSTHY,
	OpLAY, OpSTCY, OpLGB, OpLLGC, OpLLGH, OpLEY, OpLDY, OpSTEY, OpSTDY,

	OpSRL, OpSLL, OpSRA, OpSLA, OpSRDL, OpSRDA,
	OpLMG, OpSRAG, OpSLAG, OpSRLG, OpSLLG, OpSTMG,

	OpNILL, OpTMLL, OpBRC, OpBRAS, OpLHI, OpLGHI, OpAHI, OpAGHI, OpMHI, OpMGHI, OpCHI, OpCGHI,

	OpLARL, OpLGFI, OpBRCL, OpBRASL, OpXILF, OpIIHF, OpIILF, OpNILF, OpOILF, OpLLIHF,
	OpLLILF, OpMSGFI, OpMSFI, OpAGFI, OpAFI, OpCGFI, OpCFI, OpCLGFI, OpCLFI,

	OpTM, OpMVI, OpCLI,
}
