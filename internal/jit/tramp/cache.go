// cache.go - 蹦床缓存
//
// 固定大小的开放寻址槽位表，以 xxhash(种类, 负载, 附加值) 为键。
// 槽位先以 CAS 认领哈希，再写入键的其余部分，最后以 CAS 发布地址；
// 读者看到哈希相同但地址尚未发布时等待发布完成再比较完整的键。

package tramp

import (
	"encoding/binary"
	"fmt"
	"runtime"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/atomic"

	"github.com/tangzhangming/novajit/internal/errors"
)

// Entry 缓存项种类
type Entry int

const (
	EntrySpecific   Entry = iota // 特定蹦床，Payload 为负载，Extra 为通用蹦床种类
	EntryIMT                     // IMT 桩，Payload 为键集合的哈希
	EntryClassInit               // 类初始化闸门
	EntryRgctxFetch              // rgctx 取槽快路径
	EntryStaticRgctx             // 上下文注入
	EntryDelegate                // 委托调用桩
)

var entryNames = [...]string{"specific", "imt", "class_init", "rgctx_fetch", "static_rgctx", "delegate"}

func (e Entry) String() string {
	if e >= 0 && int(e) < len(entryNames) {
		return entryNames[e]
	}
	return fmt.Sprintf("entry(%d)", int(e))
}

// Key 缓存键
type Key struct {
	Entry   Entry
	Payload uint64
	Extra   uint64
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%#x/%#x", k.Entry, k.Payload, k.Extra)
}

// Hash 键的 64 位哈希，0 保留为空槽位
func (k Key) Hash() uint64 {
	var b [24]byte
	binary.LittleEndian.PutUint64(b[0:], uint64(k.Entry))
	binary.LittleEndian.PutUint64(b[8:], k.Payload)
	binary.LittleEndian.PutUint64(b[16:], k.Extra)
	h := xxhash.Sum64(b[:])
	if h == 0 {
		h = 1
	}
	return h
}

type slot struct {
	hash    *atomic.Uint64
	entry   *atomic.Int64
	payload *atomic.Uint64
	extra   *atomic.Uint64
	addr    *atomic.Uint64
}

func (s *slot) key() Key {
	return Key{Entry: Entry(s.entry.Load()), Payload: s.payload.Load(), Extra: s.extra.Load()}
}

// waitAddr 等待认领者发布地址
func (s *slot) waitAddr() uint64 {
	for {
		if a := s.addr.Load(); a != 0 {
			return a
		}
		runtime.Gosched()
	}
}

// Cache 并发槽位表
type Cache struct {
	slots []slot
	mask  uint64
	used  *atomic.Int64
}

// NewCache 创建至少 n 个槽位的缓存
func NewCache(n int) *Cache {
	size := 16
	for size < n {
		size <<= 1
	}
	c := &Cache{slots: make([]slot, size), mask: uint64(size - 1), used: atomic.NewInt64(0)}
	for i := range c.slots {
		c.slots[i] = slot{
			hash:    atomic.NewUint64(0),
			entry:   atomic.NewInt64(0),
			payload: atomic.NewUint64(0),
			extra:   atomic.NewUint64(0),
			addr:    atomic.NewUint64(0),
		}
	}
	return c
}

// Len 已发布的项数
func (c *Cache) Len() int { return int(c.used.Load()) }

// Cap 槽位数
func (c *Cache) Cap() int { return len(c.slots) }

// Lookup 查找已发布的地址
func (c *Cache) Lookup(k Key) (uint64, bool) {
	h := k.Hash()
	for i := uint64(0); i <= c.mask; i++ {
		s := &c.slots[(h+i)&c.mask]
		switch s.hash.Load() {
		case 0:
			return 0, false
		case h:
			addr := s.waitAddr()
			if s.key() == k {
				return addr, true
			}
		}
	}
	return 0, false
}

// Publish 发布 k 对应的地址，返回最终胜出的地址
//
// 已有其它地址发布时保留已有值，调用者丢弃自己的结果。
func (c *Cache) Publish(k Key, addr uint64) (uint64, error) {
	if addr == 0 {
		return 0, errors.Newf(errors.J1004, "publish %s with null address", k)
	}
	h := k.Hash()
	for i := uint64(0); i <= c.mask; i++ {
		s := &c.slots[(h+i)&c.mask]
		for {
			cur := s.hash.Load()
			if cur == 0 {
				if !s.hash.CAS(0, h) {
					continue
				}
				s.entry.Store(int64(k.Entry))
				s.payload.Store(k.Payload)
				s.extra.Store(k.Extra)
				s.addr.Store(addr)
				c.used.Inc()
				return addr, nil
			}
			if cur == h {
				winner := s.waitAddr()
				if s.key() == k {
					return winner, nil
				}
			}
			break
		}
	}
	return 0, errors.Newf(errors.J2002, "trampoline cache full (%d slots)", len(c.slots))
}

// Range 遍历已发布的项
func (c *Cache) Range(fn func(k Key, addr uint64) bool) {
	for i := range c.slots {
		s := &c.slots[i]
		if s.hash.Load() == 0 {
			continue
		}
		addr := s.addr.Load()
		if addr == 0 {
			continue
		}
		if !fn(s.key(), addr) {
			return
		}
	}
}
