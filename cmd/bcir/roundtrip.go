package main

import (
	"bytes"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chazu/bcir/asm"
	"github.com/chazu/bcir/disasm"
)

func newRoundtripCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "roundtrip [file...]",
		Short: "Check that disassembling and reassembling reproduces each file",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			asmr := asm.New(a.cfg.AsmOptions())
			failed := 0
			for _, path := range args {
				data, err := readInput(path)
				if err != nil {
					return err
				}
				g, err := disasm.Disassemble(data, a.profile)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				out, err := asmr.Assemble(g)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				if off := firstDiff(data, out.Bytes); off >= 0 {
					failed++
					fmt.Fprintf(cmd.OutOrStdout(), "%s: differs at byte %d (%d bytes in, %d out)\n", path, off, len(data), len(out.Bytes))
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d bytes, %d passes)\n", path, len(data), out.Passes)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files did not round trip", failed, len(args))
			}
			return nil
		},
	}
}

// firstDiff returns the first offset where x and y differ, or -1.
func firstDiff(x, y []byte) int {
	if bytes.Equal(x, y) {
		return -1
	}
	n := min(len(x), len(y))
	for i := 0; i < n; i++ {
		if x[i] != y[i] {
			return i
		}
	}
	return n
}
