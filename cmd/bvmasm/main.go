// Command bvmasm assembles a textual mnemonic listing into a BRKT binary.
package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"brkt/internal/asm"
)

var outPath string

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "bvmasm [source]",
		Short:         "Assemble a textual listing into a BRKT binary",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runAssemble,
	}
	cmd.Flags().StringVarP(&outPath, "output", "o", "", "output path (default: input path with .bvm extension)")
	return cmd
}

func runAssemble(cmd *cobra.Command, args []string) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer logger.Sync()

	srcPath := args[0]
	source, err := os.ReadFile(srcPath)
	if err != nil {
		logger.Error("failed to read source", zap.String("path", srcPath), zap.Error(err))
		os.Exit(2)
	}

	bin, err := asm.Assemble(string(source))
	if err != nil {
		logger.Error("failed to assemble", zap.String("path", srcPath), zap.Error(err))
		os.Exit(1)
	}

	dst := outPath
	if dst == "" {
		dst = destPathFor(srcPath)
	}

	if err := os.WriteFile(dst, bin, 0o644); err != nil {
		logger.Error("failed to write output", zap.String("path", dst), zap.Error(err))
		os.Exit(2)
	}

	logger.Info("assembled", zap.String("source", srcPath), zap.String("output", dst), zap.Int("bytes", len(bin)))
	return nil
}

func destPathFor(srcPath string) string {
	for i := len(srcPath) - 1; i >= 0 && srcPath[i] != '/'; i-- {
		if srcPath[i] == '.' {
			return srcPath[:i] + ".bvm"
		}
	}
	return srcPath + ".bvm"
}
