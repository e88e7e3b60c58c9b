package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chazu/bcir/asm"
	"github.com/chazu/bcir/flow"
)

func newAsmCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "asm [snapshot]",
		Short: "Assemble a graph snapshot into a container",
		Long: `Assemble a CBOR graph snapshot, as written by "bcir dis --snapshot", into a
container. Jump widths, exception ranges and an automatic max stack are
recomputed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := a.load(args[0], true)
			if err != nil {
				return err
			}
			for _, is := range flow.Validate(g) {
				a.logger.Warn(is.String())
			}

			out, err := asm.New(a.cfg.AsmOptions()).Assemble(g)
			if err != nil {
				return err
			}
			if output == "" {
				_, err = cmd.OutOrStdout().Write(out.Bytes)
				return err
			}
			if err := os.WriteFile(output, out.Bytes, 0o644); err != nil {
				return fmt.Errorf("cannot write %s: %w", output, err)
			}
			a.logger.Info("assembled", "file", output, "bytes", len(out.Bytes), "passes", out.Passes, "max-stack", out.Image.MaxStack)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default: standard output)")
	return cmd
}
