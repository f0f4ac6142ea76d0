package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tusharlock10/antidebug"
	"github.com/tusharlock10/antidebug/internal/tracerinfo"
)

// exitDebuggerPresent is the status of check when a debugger is attached.
const exitDebuggerPresent = 3

type checkReport struct {
	Present bool             `json:"present"`
	Tracer  *tracerinfo.Info `json:"tracer,omitempty"`
}

func newCheckCmd(_ *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Report whether a debugger is attached",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rep := checkReport{Present: antidebug.IsDebuggerPresent()}
			if rep.Present {
				if info, ok := tracerinfo.Current(cmd.Context()); ok {
					rep.Tracer = &info
				}
			}

			out := cmd.OutOrStdout()
			if asJSON {
				if err := json.NewEncoder(out).Encode(rep); err != nil {
					return err
				}
			} else {
				switch {
				case !rep.Present:
					fmt.Fprintln(out, "no debugger attached")
				case rep.Tracer != nil:
					fmt.Fprintf(out, "debugger attached: %s (pid %d)\n", rep.Tracer.Name, rep.Tracer.PID)
				default:
					fmt.Fprintln(out, "debugger attached")
				}
			}

			if rep.Present {
				return exitError{exitDebuggerPresent}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	return cmd
}
