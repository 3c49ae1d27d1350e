// tramp.go - tramp 子命令

package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tangzhangming/novajit/internal/jit"
	"github.com/tangzhangming/novajit/internal/jit/codebuf"
	"github.com/tangzhangming/novajit/internal/jit/platform"
	"github.com/tangzhangming/novajit/internal/jit/tramp"
)

var trampKinds = []tramp.Kind{tramp.KindJIT, tramp.KindClassInit, tramp.KindRgctxFetch}

func parseKind(s string) (tramp.Kind, error) {
	for _, k := range trampKinds {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown trampoline kind %q (want jit, generic_class_init or rgctx_fetch)", s)
}

func parseU64(s string) (uint64, error) {
	return strconv.ParseUint(s, 0, 64)
}

func getCmdTramp(gs *globalState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tramp",
		Short: "Print trampolines and stubs",
		Long: `Print the code of trampolines and stubs as they are generated
for the simulator host.`,
	}
	cmd.AddCommand(
		getCmdTrampGeneric(gs),
		getCmdTrampSpecific(gs),
		getCmdTrampClassInit(gs),
		getCmdTrampRgctx(gs),
		getCmdTrampIMT(gs),
	)
	return cmd
}

// withHost 创建空宿主，蹦床需要它的回调地址
func withHost(gs *globalState, fn func(h *jit.SimHost) error) error {
	cfg, err := gs.loadConfig()
	if err != nil {
		return err
	}
	h, err := jit.NewSimHost(cfg)
	if err != nil {
		return err
	}
	defer h.Close() //nolint:errcheck
	return fn(h)
}

// assemble 在代码区下一个空闲地址处汇编并解析补丁，不发布
func assemble(h *jit.SimHost, fn func(a *platform.Assembler) error) ([]byte, uint64, error) {
	buf := codebuf.New(128, 0)
	if err := fn(platform.NewAssembler(buf)); err != nil {
		return nil, 0, err
	}
	base := h.Arena.Base() + uint64(h.Arena.Used())
	code := buf.Bytes()
	if err := codebuf.Resolve(code, base, buf.Patches(), buf.Labels(), nil); err != nil {
		return nil, 0, err
	}
	return code, base, nil
}

func printCode(gs *globalState, title string, code []byte, base uint64) {
	fmt.Fprintf(gs.stdout, "%s %s\n", heading(title), dim(fmt.Sprintf("addr=%#x size=%d", base, len(code))))
	lines, err := platform.Disassemble(code, base)
	for _, l := range lines {
		fmt.Fprintf(gs.stdout, "  %s\n", l)
	}
	if err != nil {
		fmt.Fprintf(gs.stdout, "  %s\n", dim(err.Error()))
	}
}

func getCmdTrampGeneric(gs *globalState) *cobra.Command {
	return &cobra.Command{
		Use:   "generic <kind>",
		Short: "Print a generic trampoline",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			k, err := parseKind(args[0])
			if err != nil {
				return err
			}
			return withHost(gs, func(h *jit.SimHost) error {
				cb := h.Callbacks()
				target := map[tramp.Kind]uint64{
					tramp.KindJIT:        cb.Compile,
					tramp.KindClassInit:  cb.ClassInit,
					tramp.KindRgctxFetch: cb.RgctxFetch,
				}[k]
				code, base, err := assemble(h, func(a *platform.Assembler) error {
					tramp.EmitGeneric(a, k, target, cb.GetLMFAddr)
					return nil
				})
				if err != nil {
					return err
				}
				printCode(gs, "generic "+k.String(), code, base)
				return nil
			})
		},
	}
}

func getCmdTrampSpecific(gs *globalState) *cobra.Command {
	return &cobra.Command{
		Use:   "specific <kind> <payload>",
		Short: "Print a specific trampoline",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			k, err := parseKind(args[0])
			if err != nil {
				return err
			}
			payload, err := parseU64(args[1])
			if err != nil {
				return err
			}
			return withHost(gs, func(h *jit.SimHost) error {
				addr, err := h.Compiler.Tramps().Specific(k, payload)
				if err != nil {
					return err
				}
				code, err := h.Arena.Read(addr, tramp.SpecificSize)
				if err != nil {
					return err
				}
				printCode(gs, "specific "+k.String(), code[:tramp.SpecificSize-8], addr)
				fmt.Fprintf(gs.stdout, "  %#x:\t.quad %#x\n", addr+tramp.SpecificSize-8, payload)
				return nil
			})
		},
	}
}

func getCmdTrampClassInit(gs *globalState) *cobra.Command {
	var gate tramp.ClassInitGate
	cmd := &cobra.Command{
		Use:   "class-init <payload>",
		Short: "Print a generic class init gate",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			payload, err := parseU64(args[0])
			if err != nil {
				return err
			}
			return withHost(gs, func(h *jit.SimHost) error {
				generic := h.Compiler.Tramps().Generic(tramp.KindClassInit)
				code, base, err := assemble(h, func(a *platform.Assembler) error {
					tramp.EmitClassInitGate(a, gate, generic, payload)
					return nil
				})
				if err != nil {
					return err
				}
				printCode(gs, "class init gate", code, base)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&gate.Offset, "offset", 0, "offset of the initialized flag byte in the vtable")
	cmd.Flags().Uint8Var(&gate.Bit, "bit", 1, "initialized bit")
	return cmd
}

func getCmdTrampRgctx(gs *globalState) *cobra.Command {
	return &cobra.Command{
		Use:   "rgctx <slot>",
		Short: "Print an rgctx fetch stub",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			slot, err := parseU64(args[0])
			if err != nil {
				return err
			}
			return withHost(gs, func(h *jit.SimHost) error {
				generic := h.Compiler.Tramps().Generic(tramp.KindRgctxFetch)
				code, base, err := assemble(h, func(a *platform.Assembler) error {
					tramp.EmitRgctxFetch(a, slot, generic)
					return nil
				})
				if err != nil {
					return err
				}
				printCode(gs, fmt.Sprintf("rgctx fetch slot %d", slot), code, base)
				return nil
			})
		},
	}
}

func getCmdTrampIMT(gs *globalState) *cobra.Command {
	var fail uint64
	cmd := &cobra.Command{
		Use:   "imt <key=target>...",
		Short: "Print an IMT dispatch stub",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			entries := make([]tramp.IMTEntry, 0, len(args))
			for _, arg := range args {
				k, t, ok := strings.Cut(arg, "=")
				if !ok {
					return fmt.Errorf("bad IMT entry %q, want key=target", arg)
				}
				key, err := parseU64(k)
				if err != nil {
					return err
				}
				target, err := parseU64(t)
				if err != nil {
					return err
				}
				entries = append(entries, tramp.IMTEntry{Key: key, Target: target})
			}
			return withHost(gs, func(h *jit.SimHost) error {
				code, base, err := assemble(h, func(a *platform.Assembler) error {
					return tramp.EmitIMT(a, entries, fail)
				})
				if err != nil {
					return err
				}
				printCode(gs, fmt.Sprintf("imt %d entries", len(entries)), code, base)
				return nil
			})
		},
	}
	cmd.Flags().Uint64Var(&fail, "fail", 0, "address to jump to when no key matches")
	return cmd
}
