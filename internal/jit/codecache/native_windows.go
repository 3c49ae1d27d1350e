//go:build windows

// native_windows.go - Windows 平台可执行内存
//
// 使用 VirtualAlloc 分配 PAGE_EXECUTE_READWRITE 内存

package codecache

import (
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/tangzhangming/novajit/internal/errors"
)

const pageSize = 4096

// NativeRegion 本机可执行内存
type NativeRegion struct {
	mu   sync.Mutex
	addr uintptr
	mem  []byte
}

// NewNativeRegion 分配 size 字节（向上对齐到页）的可执行内存
func NewNativeRegion(size int) (*NativeRegion, error) {
	if size <= 0 {
		size = pageSize
	}
	size = (size + pageSize - 1) &^ (pageSize - 1)

	addr, err := windows.VirtualAlloc(0, uintptr(size),
		windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_EXECUTE_READWRITE)
	if err != nil {
		return nil, errors.Wrap(errors.J2002, err, "VirtualAlloc %d bytes", size)
	}
	mem := unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
	return &NativeRegion{addr: addr, mem: mem}, nil
}

func (r *NativeRegion) Base() uint64 { return uint64(r.addr) }

func (r *NativeRegion) Size() int { return len(r.mem) }

func (r *NativeRegion) WriteAt(p []byte, off int) error {
	if err := checkRange(r, off, len(p)); err != nil {
		return err
	}
	r.mu.Lock()
	copy(r.mem[off:], p)
	r.mu.Unlock()
	return nil
}

func (r *NativeRegion) ReadAt(p []byte, off int) error {
	if err := checkRange(r, off, len(p)); err != nil {
		return err
	}
	r.mu.Lock()
	copy(p, r.mem[off:])
	r.mu.Unlock()
	return nil
}

func (r *NativeRegion) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mem == nil {
		return nil
	}
	err := windows.VirtualFree(r.addr, 0, windows.MEM_RELEASE)
	r.mem, r.addr = nil, 0
	return err
}
