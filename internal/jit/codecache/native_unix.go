//go:build unix

// native_unix.go - Unix 平台可执行内存
//
// 使用 mmap 分配 RWX 匿名内存。调用点改写与蹦床发布都发生在
// 其他线程可能正在执行的代码上，因此不在写入时切换保护属性。

package codecache

import (
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/tangzhangming/novajit/internal/errors"
)

// NativeRegion 本机可执行内存
type NativeRegion struct {
	mu  sync.Mutex
	mem []byte
}

// NewNativeRegion 分配 size 字节（向上对齐到页）的可执行内存
func NewNativeRegion(size int) (*NativeRegion, error) {
	if size <= 0 {
		size = unix.Getpagesize()
	}
	page := unix.Getpagesize()
	size = (size + page - 1) &^ (page - 1)

	mem, err := unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC,
		unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, errors.Wrap(errors.J2002, err, "mmap %d bytes", size)
	}
	return &NativeRegion{mem: mem}, nil
}

func (r *NativeRegion) Base() uint64 {
	return uint64(uintptr(unsafe.Pointer(&r.mem[0])))
}

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
	err := unix.Munmap(r.mem)
	r.mem = nil
	return err
}
