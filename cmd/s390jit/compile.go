// compile.go - compile 子命令

package main

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tangzhangming/novajit/internal/jit"
	"github.com/tangzhangming/novajit/internal/jit/platform"
)

type compileOptions struct {
	methods []string
	hex     bool
	frame   bool
	patches bool
}

func getCmdCompile(gs *globalState) *cobra.Command {
	opts := &compileOptions{}
	cmd := &cobra.Command{
		Use:   "compile <methods.toml>",
		Short: "Compile methods and print their machine code",
		Long: `Compile every method of a TOML method file and print the resulting
machine code, relocations and sequence points.

  Methods are compiled in id order; calls to methods that are not yet
  compiled go through lazy-compile trampolines.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			h, err := loadHost(gs, args[0], nil)
			if err != nil {
				return err
			}
			defer h.Close() //nolint:errcheck
			if err := h.Compiler.CompileAll(); err != nil {
				return err
			}
			return printMethods(gs, h, opts)
		},
	}
	flags := cmd.Flags()
	flags.StringSliceVarP(&opts.methods, "method", "m", nil, "only print the named methods")
	flags.BoolVar(&opts.hex, "hex", false, "print a hex dump of the code")
	flags.BoolVar(&opts.frame, "frame", false, "print the frame layout")
	flags.BoolVar(&opts.patches, "patches", true, "print relocations")
	return cmd
}

// loadHost 读取配置与方法文件，创建模拟器宿主并定义全部方法
func loadHost(gs *globalState, path string, tweak func(*jit.Config)) (*jit.SimHost, error) {
	cfg, err := gs.loadConfig()
	if err != nil {
		return nil, err
	}
	if tweak != nil {
		tweak(cfg)
	}
	ms, err := jit.LoadMethods(path)
	if err != nil {
		return nil, err
	}
	h, err := jit.NewSimHost(cfg)
	if err != nil {
		return nil, err
	}
	if err := h.Compiler.Define(ms...); err != nil {
		h.Close() //nolint:errcheck
		return nil, err
	}
	return h, nil
}

func selected(names []string, name string) bool {
	if len(names) == 0 {
		return true
	}
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

func printMethods(gs *globalState, h *jit.SimHost, opts *compileOptions) error {
	w := gs.stdout
	for _, id := range h.Compiler.Methods().IDs() {
		e, _ := h.Compiler.Methods().Get(id)
		if !selected(opts.methods, e.Name()) {
			continue
		}
		fmt.Fprintf(w, "%s %s\n", heading(e.Name()),
			dim(fmt.Sprintf("id=%d entry=%#x size=%d state=%s", id, e.Entry, e.Size, e.State)))
		if e.Result == nil {
			continue
		}
		code, err := h.Arena.Read(e.Entry, e.Size)
		if err != nil {
			return err
		}
		if opts.frame {
			fmt.Fprint(w, e.Result.Frame.Dump())
		}
		if opts.hex {
			fmt.Fprint(w, hex.Dump(code))
		}
		lines, err := platform.Disassemble(code, e.Entry)
		for _, l := range lines {
			fmt.Fprintf(w, "  %s\n", l)
		}
		if err != nil {
			// 跳转表与内嵌常量不是指令
			fmt.Fprintf(w, "  %s\n", dim(err.Error()))
		}
		if opts.patches && len(e.Result.Patches) > 0 {
			fmt.Fprintf(w, "  %s\n", heading("relocations"))
			for _, p := range e.Result.Patches {
				fmt.Fprintf(w, "    %s\n", p)
			}
		}
		if len(e.Result.SeqPoints) > 0 {
			fmt.Fprintf(w, "  %s\n", heading("sequence points"))
			for _, sp := range e.Result.SeqPoints {
				fmt.Fprintf(w, "    il=%d slot=+%#x probe=%d\n", sp.ILOffset, sp.Offset, sp.Probe)
			}
		}
		fmt.Fprintln(w)
	}
	printStats(gs, h)
	return nil
}

func printStats(gs *globalState, h *jit.SimHost) {
	s := h.Compiler.Stats.Snapshot()
	fmt.Fprintf(gs.stdout, "%s compiled=%d failed=%d lazy=%d patched=%d bytes=%d time=%s arena=%d/%d\n",
		heading("stats"), s.Compiled, s.Failed, s.LazyCompiles, s.PatchedSites, s.CodeBytes,
		time.Duration(s.CompileNanos), h.Arena.Used(), h.Arena.Size())
}
