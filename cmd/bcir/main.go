// bcir - disassemble, edit-check and reassemble stack VM code containers
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/log"
	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/bcir/config"
)

// app holds the state shared by all subcommands of one invocation.
type app struct {
	cfg    *config.Config
	logger *log.Logger

	configDir string
	profile   string
	maxPasses int
	debug     bool
}

func main() {
	root := newRootCmd()
	if !term.IsTerminal(os.Stdout.Fd()) {
		// Plain cobra when piped, so listings are not restyled.
		if err := root.Execute(); err != nil {
			os.Exit(1)
		}
		return
	}
	if err := fang.Execute(context.Background(), root, fang.WithNotifySignal(os.Interrupt)); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "bcir",
		Short: "Edit compiled stack VM code as a control-flow graph",
		Long: `bcir disassembles stack VM code containers into a control-flow graph,
checks stack consistency and reassembles graphs into byte-identical containers.`,
		Example: `
# Print a listing
bcir dis prog.svmc

# Save an editable snapshot and assemble it again
bcir dis --snapshot prog.cbor prog.svmc
bcir asm -o out.svmc prog.cbor
  `,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd.ErrOrStderr())
		},
	}
	root.PersistentFlags().StringVarP(&a.configDir, "config", "C", "", "Directory to search for bcir.toml (default: working directory)")
	root.PersistentFlags().StringVarP(&a.profile, "profile", "p", "", "Profile tag (default: from config, else the container's version)")
	root.PersistentFlags().IntVar(&a.maxPasses, "max-passes", 0, "Layout passes before assembly gives up")
	root.PersistentFlags().BoolVarP(&a.debug, "debug", "d", false, "Debug logging")

	root.AddCommand(
		newDisCmd(a),
		newAsmCmd(a),
		newValidateCmd(a),
		newRoundtripCmd(a),
		newProfilesCmd(a),
	)
	return root
}

// setup loads configuration, configures library logging and registers
// extra profiles.
func (a *app) setup(stderr io.Writer) error {
	dir := a.configDir
	if dir == "" {
		dir = "."
	}
	cfg, err := config.FindAndLoad(dir)
	if err != nil {
		return err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if a.maxPasses > 0 {
		cfg.Assembler.MaxPasses = a.maxPasses
	}
	if a.profile == "" {
		a.profile = cfg.Profiles.Default
	}
	a.cfg = cfg

	a.logger = log.NewWithOptions(stderr, log.Options{Prefix: "bcir"})
	level := cfg.Log.Level
	if a.debug {
		level = "debug"
		a.logger.SetLevel(log.DebugLevel)
	}
	verbosity, err := config.Verbosity(level)
	if err != nil {
		return err
	}
	if cfg.Log.File != "" {
		commonlog.Configure(verbosity, &cfg.Log.File)
	} else {
		commonlog.Configure(verbosity, nil)
	}

	tags, err := cfg.LoadProfiles()
	if err != nil {
		return fmt.Errorf("loading profiles: %w", err)
	}
	if len(tags) > 0 {
		a.logger.Debug("registered profiles", "tags", tags)
	}
	if cfg.Dir != "" {
		a.logger.Debug("using config", "dir", cfg.Dir)
	}
	return nil
}
