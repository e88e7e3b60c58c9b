package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/chazu/bcir/format"
)

func newProfilesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "List registered format profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TAG\tVERSION\tJUMPS\tEXCEPTIONS\tDESCRIPTION")
			for _, tag := range format.Tags() {
				p, err := format.ProfileFor(tag)
				if err != nil {
					return err
				}
				exc := "inline"
				if p.ExceptionTable {
					exc = "table"
				}
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n", p.Tag, p.Number, p.Jumps, exc, p.Description)
			}
			return w.Flush()
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show [tag]",
		Short: "Print the opcode table of a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := format.ProfileFor(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "; Profile: %s (%s)\n", p.Tag, p.Description)
			fmt.Fprintf(out, "; Version: %d, %s jumps in %d-byte steps\n", p.Number, p.Jumps, p.JumpUnit)
			fmt.Fprintf(out, "; Prefix: %s, fallthrough jump: %s\n\n", p.ExtendedArg().Name, p.FallthroughJump().Name)

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CODE\tNAME\tARG\tFLOW\tCACHES\tPOP\tPUSH")
			for _, d := range p.Ops() {
				pop, push := fmt.Sprint(d.Pop), fmt.Sprint(d.Push)
				if d.PopArg != 0 {
					pop += fmt.Sprintf("+%d*arg", d.PopArg)
				}
				if d.PushArg != 0 {
					push += fmt.Sprintf("+%d*arg", d.PushArg)
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%s\t%s\n", d.Code, d.Name, d.Arg, d.Flow, d.Caches, pop, push)
			}
			return w.Flush()
		},
	})
	return cmd
}
