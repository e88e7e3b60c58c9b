package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chazu/bcir/flow"
)

func newValidateCmd(a *app) *cobra.Command {
	var snapshot bool
	cmd := &cobra.Command{
		Use:   "validate [file...]",
		Short: "Check stack consistency of containers or snapshots",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			failed := 0
			for _, path := range args {
				g, err := a.load(path, snapshot)
				if err != nil {
					return err
				}
				res, issues := flow.Analyze(g)
				for _, is := range issues {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", path, is)
				}
				bad := flow.HasErrors(issues) || (a.cfg.Validate.FailOnWarning && len(issues) > 0)
				if bad {
					failed++
					continue
				}
				if res != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: ok, max stack %d\n", path, res.MaxStack)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files failed validation", failed, len(args))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&snapshot, "snapshot", false, "Inputs are CBOR graph snapshots")
	return cmd
}
