package unwind

import (
	"github.com/tangzhangming/novajit/internal/errors"
	"github.com/tangzhangming/novajit/internal/jit/abi"
)

// ============================================================================
// 帧记录
// ============================================================================

// FrameRecord 帧记录（LMF）的内容
type FrameRecord struct {
	Addr     uint64
	Previous uint64
	LMFAddr  uint64
	Method   uint64
	SP       uint64
	IP       uint64
	PRegs    [abi.LMFNumPRegs]uint64
	GRegs    [16]uint64
	FRegs    [16]uint64
}

// ReadFrameRecord 读取 addr 处的帧记录
func ReadFrameRecord(mem Memory, addr uint64) (*FrameRecord, error) {
	r := &FrameRecord{Addr: addr}
	fields := []struct {
		off int
		dst *uint64
	}{
		{abi.LMFPrevious, &r.Previous},
		{abi.LMFAddr, &r.LMFAddr},
		{abi.LMFMethod, &r.Method},
		{abi.LMFSP, &r.SP},
		{abi.LMFIP, &r.IP},
	}
	for _, f := range fields {
		v, err := mem.ReadU64(addr + uint64(f.off))
		if err != nil {
			return nil, err
		}
		*f.dst = v
	}
	read := func(base int, dst []uint64) error {
		for i := range dst {
			v, err := mem.ReadU64(addr + uint64(base+8*i))
			if err != nil {
				return err
			}
			dst[i] = v
		}
		return nil
	}
	if err := read(abi.LMFPRegs, r.PRegs[:]); err != nil {
		return nil, err
	}
	if err := read(abi.LMFGRegs, r.GRegs[:]); err != nil {
		return nil, err
	}
	if err := read(abi.LMFFRegs, r.FRegs[:]); err != nil {
		return nil, err
	}
	return r, nil
}

// Context 帧记录保存的托管上下文
func (r *FrameRecord) Context() Context {
	c := Context{GPR: r.GRegs, FPR: r.FRegs, IP: r.IP}
	c.GPR[15] = r.SP
	return c
}

// ============================================================================
// 线程块
// ============================================================================

// maxChain 帧记录链表长度上限，超过视为链表损坏
const maxChain = 1 << 16

// Thread 线程块，Head 是链表头指针所在的地址（get_lmf_addr 的返回值）
type Thread struct {
	Head uint64
}

// Top 当前链表头，0 表示空
func (t *Thread) Top(mem Memory) (uint64, error) {
	return mem.ReadU64(t.Head)
}

// Records 从链表头开始的全部帧记录
func (t *Thread) Records(mem Memory) ([]*FrameRecord, error) {
	var out []*FrameRecord
	addr, err := t.Top(mem)
	if err != nil {
		return nil, err
	}
	for addr != 0 {
		if len(out) >= maxChain {
			return nil, errors.Newf(errors.J1006, "frame record chain at %#x does not terminate", t.Head)
		}
		r, err := ReadFrameRecord(mem, addr)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
		addr = r.Previous
	}
	return out, nil
}

// Depth 链表长度
func (t *Thread) Depth(mem Memory) (int, error) {
	rs, err := t.Records(mem)
	return len(rs), err
}

// Unlink 弹出 addr 处的帧记录：*lmfAddr = previous
func Unlink(mem Memory, addr uint64) error {
	r, err := ReadFrameRecord(mem, addr)
	if err != nil {
		return err
	}
	return mem.WriteU64(r.LMFAddr, r.Previous)
}
