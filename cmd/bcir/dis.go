package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/chazu/bcir/cfg"
	"github.com/chazu/bcir/disasm"
)

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	return data, nil
}

// load disassembles a container, or unmarshals a snapshot when snapshot is
// set.
func (a *app) load(path string, snapshot bool) (*cfg.Graph, error) {
	data, err := readInput(path)
	if err != nil {
		return nil, err
	}
	if snapshot {
		g, err := cfg.UnmarshalSnapshot(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return g, nil
	}
	g, err := disasm.Disassemble(data, a.profile)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	a.logger.Debug("disassembled", "file", path, "profile", g.Profile.Tag, "blocks", g.Len())
	return g, nil
}

func newDisCmd(a *app) *cobra.Command {
	var snapshot string
	var quiet bool
	cmd := &cobra.Command{
		Use:   "dis [file]",
		Short: "Disassemble a container into a listing",
		Long: `Disassemble a container and print its control-flow graph with the offset
every instruction assembles at. Use - to read standard input.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := a.load(args[0], false)
			if err != nil {
				return err
			}
			if snapshot != "" {
				data, err := cfg.MarshalSnapshot(g)
				if err != nil {
					return err
				}
				if err := os.WriteFile(snapshot, data, 0o644); err != nil {
					return fmt.Errorf("cannot write %s: %w", snapshot, err)
				}
				a.logger.Info("wrote snapshot", "file", snapshot, "bytes", len(data))
			}
			if quiet {
				return nil
			}
			name := filepath.Base(args[0])
			if args[0] == "-" {
				name = ""
			}
			listing, err := disasm.Listing(g, name)
			if err != nil {
				return err
			}
			_, err = io.WriteString(cmd.OutOrStdout(), listing)
			return err
		},
	}
	cmd.Flags().StringVarP(&snapshot, "snapshot", "s", "", "Also write the graph as a CBOR snapshot to this file")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Skip the listing")
	return cmd
}
