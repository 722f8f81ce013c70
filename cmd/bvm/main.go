// Command bvm loads and executes a single BRKT binary.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"brkt/internal/bvm"
	"brkt/internal/config"
)

var configPath string

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "bvm [file]",
		Short:         "Execute a BRKT bytecode binary",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runBVM,
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to a bvm.toml tunables file")
	return cmd
}

func runBVM(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "usage: bvm [file]")
		return nil
	}

	cfg := config.Default()
	if configPath != "" {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), "failed to load config:", err)
			os.Exit(bvm.ExitCode(err))
		}
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	path := args[0]
	bin, err := os.ReadFile(path)
	if err != nil {
		logger.Error("failed to read program", zap.String("path", path), zap.Error(err))
		os.Exit(bvm.ExitCode(bvm.ErrFileRead))
	}

	prog, err := bvm.Load(bin)
	if err != nil {
		logger.Error("failed to load program", zap.String("path", path), zap.Error(err))
		os.Exit(bvm.ExitCode(err))
	}

	vm, err := bvm.NewWithOptions(prog, bvm.Options{
		StackCapacity: cfg.VM.StackCapacity,
		EnvCapacity:   cfg.VM.EnvCapacity,
		FrameCapacity: cfg.VM.FrameCapacity,
		DisableGC:     cfg.VM.DisableGC,
	})
	if err != nil {
		logger.Error("failed to initialize vm", zap.String("build_id", prog.BuildID.String()), zap.Error(err))
		os.Exit(bvm.ExitCode(err))
	}

	runErr := vm.Run()
	exitCode := bvm.ExitCode(runErr)

	if runErr != nil {
		logger.Error("run failed",
			zap.String("build_id", prog.BuildID.String()),
			zap.Int("pc", vm.ProgramCounter()),
			zap.Int("exit_code", exitCode),
			zap.Error(runErr),
		)
	} else {
		logger.Info("run finished",
			zap.String("build_id", prog.BuildID.String()),
			zap.Bool("halted", vm.Halted()),
		)
	}

	if exitCode != 0 {
		os.Exit(exitCode)
	}
	return nil
}

func newLogger(logCfg config.Logging) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.DisableStacktrace = true

	var level zapcore.Level
	if err := level.UnmarshalText([]byte(logCfg.Level)); err == nil {
		cfg.Level = zap.NewAtomicLevelAt(level)
	}

	if !logCfg.JSON {
		cfg.Encoding = "console"
	}

	return cfg.Build()
}
