// specific.go - 特定蹦床
//
//	brasl r1,generic        r1 = 负载常量的地址
//	.quad payload
//
// 由固定模板复制得到，只改写 BRASL 的位移和常量。

package tramp

import (
	"encoding/binary"

	"github.com/tangzhangming/novajit/internal/errors"
	"github.com/tangzhangming/novajit/internal/jit/codebuf"
	"github.com/tangzhangming/novajit/internal/jit/platform"
)

const (
	// SpecificSize 特定蹦床长度
	SpecificSize = 6 + 8
	specificDisp = 2 // BRASL 的 32 位位移
	specificData = 6 // 负载常量
)

// specificTemplate 位移和负载为 0 的模板
func specificTemplate() []byte {
	buf := codebuf.New(SpecificSize, SpecificSize)
	a := platform.NewAssembler(buf)
	a.BRASL(platform.R1, 0)
	a.Quad(0)
	return append([]byte(nil), buf.Bytes()...)
}

// fillSpecific 把模板实例化到 site
func fillSpecific(tmpl []byte, site, generic, payload uint64) ([]byte, error) {
	delta := int64(generic - site)
	if delta%2 != 0 || delta/2 < -1<<31 || delta/2 >= 1<<31 {
		return nil, errors.Newf(errors.J3002, "generic trampoline %#x out of BRASL range from %#x", generic, site)
	}
	code := append([]byte(nil), tmpl...)
	binary.BigEndian.PutUint32(code[specificDisp:], uint32(int32(delta/2)))
	binary.BigEndian.PutUint64(code[specificData:], payload)
	return code, nil
}

// Specific 返回 (k, payload) 的特定蹦床，不存在时创建
func (f *Factory) Specific(k Kind, payload uint64) (uint64, error) {
	generic := f.Generic(k)
	if generic == 0 {
		return 0, errors.Newf(errors.J3001, "no %s callback configured", k)
	}
	key := Key{Entry: EntrySpecific, Payload: payload, Extra: uint64(k)}
	return f.cached(key, func() (uint64, error) {
		return f.buildSpecific(generic, payload)
	})
}

func (f *Factory) buildSpecific(generic, payload uint64) (uint64, error) {
	site, err := f.arena.Alloc(SpecificSize, 8)
	if err != nil {
		return 0, err
	}
	code, err := fillSpecific(f.template, site, generic, payload)
	if err != nil {
		return 0, err
	}
	if err := f.arena.Write(site, code); err != nil {
		return 0, err
	}
	f.Stats.Built.Inc()
	f.Stats.Bytes.Add(SpecificSize)
	return site, nil
}

// Payload 读出特定蹦床中的负载
func (f *Factory) Payload(tramp uint64) (uint64, error) {
	b, err := f.arena.Read(tramp+specificData, 8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}
