// root.go - 根命令与全局选项

package main

import (
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tangzhangming/novajit/internal/jit"
)

// globalState 各子命令共享的状态
type globalState struct {
	stdout io.Writer

	configPath string
	verbose    bool
	noColor    bool
	varargs    string

	logger *zap.Logger
}

func newGlobalState() *globalState {
	return &globalState{stdout: os.Stdout, logger: zap.NewNop()}
}

func newRootCommand(gs *globalState) *cobra.Command {
	root := &cobra.Command{
		Use:           "s390jit",
		Short:         "s390x method compiler",
		Long:          "Compile IR methods to s390x machine code and run them on the built-in simulator.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			gs.stdout = cmd.OutOrStdout()
			if gs.noColor {
				color.NoColor = true
			}
			if gs.verbose {
				l, err := zap.NewDevelopment()
				if err != nil {
					return err
				}
				gs.logger = l
			}
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&gs.configPath, "config", "c", "", "backend config file (TOML)")
	flags.BoolVarP(&gs.verbose, "verbose", "v", false, "enable debug logging")
	flags.BoolVar(&gs.noColor, "no-color", false, "disable colored output")
	flags.StringVar(&gs.varargs, "varargs", "", "override abi.varargs policy")

	root.AddCommand(
		getCmdClassify(gs),
		getCmdCompile(gs),
		getCmdRun(gs),
		getCmdTramp(gs),
		getCmdDisasm(gs),
	)
	return root
}

// loadConfig 读取配置文件并应用命令行覆盖
func (gs *globalState) loadConfig() (*jit.Config, error) {
	cfg := jit.DefaultConfig()
	if gs.configPath != "" {
		var err error
		if cfg, err = jit.LoadConfig(gs.configPath); err != nil {
			return nil, err
		}
	}
	if gs.varargs != "" {
		cfg.ABI.Varargs = gs.varargs
	}
	cfg.Logger = gs.logger
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var (
	heading = color.New(color.FgCyan, color.Bold).SprintFunc()
	dim     = color.New(color.Faint).SprintFunc()
	good    = color.New(color.FgGreen).SprintFunc()
)
