// s390jit - s390x 方法编译器命令行工具
//
// 子命令:
//
//	classify  显示签名的参数分类
//	compile   编译 TOML 方法描述并输出反汇编
//	run       编译并在模拟器上执行方法
//	tramp     输出蹦床与桩代码
//	disasm    反汇编十六进制机器码
package main

import (
	"fmt"
	"os"

	"github.com/tangzhangming/novajit/internal/errors"
)

func main() {
	gs := newGlobalState()
	if err := newRootCommand(gs).Execute(); err != nil {
		fmt.Fprint(os.Stderr, errors.Format(err))
		os.Exit(1)
	}
}
