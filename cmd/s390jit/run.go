// run.go - run 子命令

package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tangzhangming/novajit/internal/jit"
)

func getCmdRun(gs *globalState) *cobra.Command {
	var (
		trace     bool
		seqPoints bool
		stats     bool
	)
	cmd := &cobra.Command{
		Use:   "run <methods.toml> <method> [args...]",
		Short: "Compile and execute a method on the simulator",
		Long: `Compile and execute a method on the s390x simulator.

  Integer arguments are passed in r2-r6 and on the stack; they accept
  any Go integer literal (42, -1, 0x2a). Flags go before the file name;
  everything after it is taken literally. Callees are compiled lazily
  on first call.`,
		Example: `  s390jit run examples.toml add 1 2
  s390jit run --trace examples.toml fib 20`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			vals, err := parseArgs(args[2:])
			if err != nil {
				return err
			}
			h, err := loadHost(gs, args[0], func(cfg *jit.Config) {
				cfg.Backend.Trace = cfg.Backend.Trace || trace
				cfg.Debug.SeqPoints = cfg.Debug.SeqPoints || seqPoints
			})
			if err != nil {
				return err
			}
			defer h.Close() //nolint:errcheck

			ret, err := h.CallName(args[1], vals...)
			for _, ev := range h.Traces() {
				dir := "enter"
				if ev.Leave {
					dir = "leave"
				}
				fmt.Fprintf(gs.stdout, "%s %s %s\n", dim("trace"), dir, ev.Method)
			}
			for _, ev := range h.Trapped() {
				fmt.Fprintf(gs.stdout, "%s %s at %#x\n", dim("trap"), ev.Kind, ev.IP)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(gs.stdout, "%s %d (%#x)\n", good("result"), int64(ret), ret)
			if stats {
				printStats(gs, h)
			}
			return nil
		},
	}
	flags := cmd.Flags()
	// 负数参数不能被当成短选项
	flags.SetInterspersed(false)
	flags.BoolVar(&trace, "trace", false, "call the trace hooks on method entry and exit")
	flags.BoolVar(&seqPoints, "seq-points", false, "emit sequence points")
	flags.BoolVar(&stats, "stats", false, "print compiler statistics")
	return cmd
}

func parseArgs(args []string) ([]uint64, error) {
	vals := make([]uint64, len(args))
	for i, a := range args {
		v, err := strconv.ParseInt(a, 0, 64)
		if err != nil {
			u, uerr := strconv.ParseUint(a, 0, 64)
			if uerr != nil {
				return nil, fmt.Errorf("argument %d: %w", i, err)
			}
			v = int64(u)
		}
		vals[i] = uint64(v)
	}
	return vals, nil
}
