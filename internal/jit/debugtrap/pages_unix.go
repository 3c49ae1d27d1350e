//go:build unix

package debugtrap

import (
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/tangzhangming/novajit/internal/errors"
)

// NativePages 以 mmap/mprotect 实现的触发页
type NativePages struct {
	mu    sync.Mutex
	pages map[uint64][]byte
}

// NewNativePages 创建本机触发页提供者
func NewNativePages() *NativePages {
	return &NativePages{pages: make(map[uint64][]byte)}
}

func (p *NativePages) Alloc(name string) (uint64, error) {
	mem, err := unix.Mmap(-1, 0, unix.Getpagesize(), unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return 0, errors.Wrap(errors.J2003, err, "mmap trigger page %s", name)
	}
	addr := uint64(uintptr(unsafe.Pointer(&mem[0])))
	p.mu.Lock()
	p.pages[addr] = mem
	p.mu.Unlock()
	return addr, nil
}

func (p *NativePages) SetReadable(addr uint64, readable bool) error {
	p.mu.Lock()
	mem, ok := p.pages[addr]
	p.mu.Unlock()
	if !ok {
		return errors.Newf(errors.J2004, "no trigger page at %#x", addr)
	}
	prot := unix.PROT_NONE
	if readable {
		prot = unix.PROT_READ
	}
	if err := unix.Mprotect(mem, prot); err != nil {
		return errors.Wrap(errors.J2004, err, "mprotect %#x", addr)
	}
	return nil
}

func (p *NativePages) PageSize() int { return unix.Getpagesize() }

func (p *NativePages) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	rep := errors.NewReporter()
	for addr, mem := range p.pages {
		rep.Add(unix.Munmap(mem))
		delete(p.pages, addr)
	}
	return rep.Err()
}
