package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/awnumar/memguard"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tusharlock10/antidebug"
	"github.com/tusharlock10/antidebug/internal/config"
	"github.com/tusharlock10/antidebug/internal/logging"
	"github.com/tusharlock10/antidebug/internal/probe"
)

// version is set at build time via -ldflags "-X main.version=<version>"
var version string

// exitError carries a process exit status through cobra without printing.
type exitError struct{ code int }

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

type app struct {
	cfg *config.Config
	log zerolog.Logger
}

func main() {
	if probe.Requested() {
		os.Exit(probe.Run())
	}
	os.Exit(run())
}

func run() int {
	defer memguard.Purge()

	a := &app{log: zerolog.Nop()}
	root := newRootCmd(a)
	if err := root.Execute(); err != nil {
		var ee exitError
		if errors.As(err, &ee) {
			return ee.code
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "antidebug",
		Short:         "Detect and deny debugger attachment",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.Flags())
		},
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "Path to a YAML, TOML or JSON config file")
	pf.String("log-level", "", "Log level (debug, info, warn, error)")
	pf.String("log-format", "", "Log format (console, json)")

	root.AddCommand(
		newCheckCmd(a),
		newDenyCmd(a),
		newWatchCmd(a),
		newProbeCmd(a),
		newTargetCmd(),
	)
	return root
}

// setup loads the configuration, installs the logger and performs the
// startup denial when configured.
func (a *app) setup(flags *pflag.FlagSet) error {
	path, _ := flags.GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		cfg.Log.Format, _ = flags.GetString("log-format")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	cfg.Version = version
	a.cfg = cfg

	a.log = logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	antidebug.SetLogger(a.log)

	if !cfg.DenyOnStart {
		return nil
	}
	if err := antidebug.DenyAttach(); err != nil {
		return fmt.Errorf("startup denial: %w", err)
	}
	if cfg.Harden {
		if err := antidebug.Harden(); err != nil {
			return fmt.Errorf("harden: %w", err)
		}
	}
	return nil
}

func (a *app) signalContext() (context.Context, context.CancelFunc) {
	return setupSignalHandler(a.log)
}
