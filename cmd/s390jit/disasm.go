// disasm.go - disasm 子命令

package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tangzhangming/novajit/internal/jit/platform"
)

func getCmdDisasm(gs *globalState) *cobra.Command {
	var base uint64
	cmd := &cobra.Command{
		Use:     "disasm <hex>...",
		Short:   "Disassemble s390x machine code",
		Example: `  s390jit disasm "eb6f f030 0024" a7fb ff60`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			text := strings.Join(strings.Fields(strings.Join(args, " ")), "")
			code, err := hex.DecodeString(text)
			if err != nil {
				return fmt.Errorf("bad hex input: %w", err)
			}
			lines, err := platform.Disassemble(code, base)
			for _, l := range lines {
				fmt.Fprintln(gs.stdout, l)
			}
			return err
		},
	}
	cmd.Flags().Uint64Var(&base, "base", 0, "address of the first byte")
	return cmd
}
