package abi

import (
	"fmt"
	"math/bits"

	"github.com/tangzhangming/novajit/internal/errors"
	"github.com/tangzhangming/novajit/internal/jit/platform"
)

// ============================================================================
// 帧形状
// ============================================================================

// SavedReg 一个被保存的寄存器，Offset 相对方法入口时的 SP
type SavedReg struct {
	Reg    uint8
	Float  bool
	Offset int64
}

func (s SavedReg) String() string {
	if s.Float {
		return fmt.Sprintf("%s@%d", platform.FReg(s.Reg), s.Offset)
	}
	return fmt.Sprintf("%s@%d", platform.Reg(s.Reg), s.Offset)
}

// FrameShape 寄存器保存布局
//
// 序言、尾声和栈回溯共用同一份描述：r6..r15 保存在调用者帧的
// 48 字节处，使用到的 f8..f15 保存在入口 SP 之下（本帧顶部）。
type FrameShape struct {
	Saved []SavedReg
	// AllocSize 序言中 SP 的下移量
	AllocSize int
	// FPSize 浮点寄存器保存区大小
	FPSize   int
	FrameReg platform.Reg
	// LMFOffset 帧记录相对新 SP 的偏移，-1 表示没有
	LMFOffset int64
}

// NewFrameShape 根据使用到的浮点寄存器和帧大小生成形状
func NewFrameShape(usedFP uint16, allocSize int, frameReg platform.Reg, lmfOffset int64) *FrameShape {
	fpMask := usedFP & 0xFF00
	fpSize := bits.OnesCount16(fpMask) * 8
	s := &FrameShape{
		AllocSize: allocSize,
		FPSize:    fpSize,
		FrameReg:  frameReg,
		LMFOffset: lmfOffset,
	}
	for r := platform.R6; r <= platform.R15; r++ {
		s.Saved = append(s.Saved, SavedReg{Reg: uint8(r), Offset: RegSaveOffset + int64(r-platform.R6)*8})
	}
	off := -int64(fpSize)
	for f := 8; f < 16; f++ {
		if fpMask&(1<<f) == 0 {
			continue
		}
		s.Saved = append(s.Saved, SavedReg{Reg: uint8(f), Float: true, Offset: off})
		off += 8
	}
	return s
}

// GPRSaves 通用寄存器保存项
func (s *FrameShape) GPRSaves() []SavedReg {
	var out []SavedReg
	for _, r := range s.Saved {
		if !r.Float {
			out = append(out, r)
		}
	}
	return out
}

// FPRSaves 浮点寄存器保存项
func (s *FrameShape) FPRSaves() []SavedReg {
	var out []SavedReg
	for _, r := range s.Saved {
		if r.Float {
			out = append(out, r)
		}
	}
	return out
}

// SPRelative 把相对入口 SP 的偏移换算为相对新 SP 的偏移
func (s *FrameShape) SPRelative(entryOffset int64) int64 {
	return entryOffset + int64(s.AllocSize)
}

// HasLMF 是否压入帧记录
func (s *FrameShape) HasLMF() bool {
	return s.LMFOffset >= 0
}

// Validate 检查形状的一致性
func (s *FrameShape) Validate() error {
	if s.AllocSize%StackAlign != 0 || s.AllocSize < MinimalStackSize {
		return errors.Newf(errors.J1006, "frame size %d is not a valid s390x frame", s.AllocSize)
	}
	if s.FPSize > s.AllocSize-MinimalStackSize {
		return errors.Newf(errors.J1006, "fp save area %d does not fit frame %d", s.FPSize, s.AllocSize)
	}
	seen := make(map[int64]bool)
	for _, r := range s.Saved {
		if seen[r.Offset] {
			return errors.Newf(errors.J1006, "duplicate save slot at %d", r.Offset)
		}
		seen[r.Offset] = true
		if r.Float && (r.Offset >= 0 || r.Offset < -int64(s.FPSize)) {
			return errors.Newf(errors.J1006, "fp save slot %s outside save area", r)
		}
	}
	if s.HasLMF() && s.LMFOffset+LMFSize > int64(s.AllocSize-s.FPSize) {
		return errors.Newf(errors.J1006, "frame record at %d overlaps fp save area", s.LMFOffset)
	}
	return nil
}
