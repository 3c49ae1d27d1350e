// classify.go - classify 子命令

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tangzhangming/novajit/internal/jit"
	"github.com/tangzhangming/novajit/internal/jit/abi"
	"github.com/tangzhangming/novajit/internal/jit/types"
)

func getCmdClassify(gs *globalState) *cobra.Command {
	var (
		pinvoke bool
		frame   bool
	)
	cmd := &cobra.Command{
		Use:   "classify <signature>",
		Short: "Show where each argument of a signature is passed",
		Long: `Show where each argument of a signature is passed.

  Signatures are written as ret(params), for example:

    s390jit classify "i8(this, i4, r8, valuetype:3, ..., i4)"`,
		Example: `  s390jit classify "void(i8, i8, i8, i8, i8, i8, i8)"
  s390jit classify --frame "valuetype:24(this, r4)"`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := gs.loadConfig()
			if err != nil {
				return err
			}
			sig, err := jit.ParseSignature(args[0])
			if err != nil {
				return err
			}
			sig.PInvoke = pinvoke
			ci := abi.Classify(sig, cfg.Policy())
			printCallInfo(gs, sig, ci)
			if frame {
				fmt.Fprintln(gs.stdout)
				fmt.Fprint(gs.stdout, abi.Layout(&types.Method{Sig: sig}, ci).Dump())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&pinvoke, "pinvoke", false, "classify as a native (pinvoke) call")
	cmd.Flags().BoolVar(&frame, "frame", false, "also show the frame layout of an empty method")
	return cmd
}

func printCallInfo(gs *globalState, sig *types.Signature, ci *abi.CallInfo) {
	w := gs.stdout
	fmt.Fprintf(w, "%s %s\n", heading("call info"), dim(fmt.Sprintf("(varargs=%s)", sigVarargs(sig))))
	for i := range ci.Args {
		name := fmt.Sprintf("arg%d", i)
		if sig.HasThis && i == 0 {
			name = "this"
		}
		fmt.Fprintf(w, "  %-7s %s\n", name, &ci.Args[i])
	}
	if ci.Variadic {
		fmt.Fprintf(w, "  %-7s %s\n", "cookie", &ci.SigCookie)
	}
	if ci.StructRet {
		fmt.Fprintf(w, "  %-7s %s vret-index=%d\n", "ret", &ci.Ret, ci.VretArgIndex)
	} else {
		fmt.Fprintf(w, "  %-7s %s\n", "ret", &ci.Ret)
	}
	fmt.Fprintf(w, "  stack=%d parm=%d code=%d ret-struct=%d\n",
		ci.Sizes.StackSize, ci.Sizes.ParmSize, ci.Sizes.CodeSize, ci.Sizes.RetStruct)
}

func sigVarargs(sig *types.Signature) string {
	if !sig.Variadic {
		return "none"
	}
	return fmt.Sprintf("sentinel@%d", sig.SentinelPos)
}
