package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tusharlock10/antidebug"
	"github.com/tusharlock10/antidebug/internal/probe"
)

type probeReport struct {
	Pid          int    `json:"pid"`
	AttachBefore string `json:"attach_before"`
	Deny         string `json:"deny"`
	AttachAfter  string `json:"attach_after"`
	DetectAfter  bool   `json:"detect_after"`
	Protected    bool   `json:"protected"`
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return err.Error()
}

func newProbeCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Start a target process and verify that denial blocks attachment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("locate executable: %w", err)
			}
			t, err := probe.Start(cmd.Context(), exe, []string{"target"})
			if err != nil {
				return fmt.Errorf("start target: %w", err)
			}
			defer t.Close()

			rep := probeReport{Pid: t.Pid()}
			rep.AttachBefore = outcome(probe.Attach(cmd.Context(), exe, t.Pid()))

			denyErr := t.Deny()
			rep.Deny = outcome(denyErr)
			if denyErr != nil && !errors.Is(denyErr, antidebug.ErrAlreadyDenied) {
				a.log.Warn().Err(denyErr).Int("pid", rep.Pid).Msg("Target could not deny attachment")
			}

			afterErr := probe.Attach(cmd.Context(), exe, t.Pid())
			rep.AttachAfter = outcome(afterErr)
			rep.Protected = denyErr == nil && afterErr != nil
			if rep.DetectAfter, err = t.Check(); err != nil {
				return fmt.Errorf("query target: %w", err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return json.NewEncoder(out).Encode(rep)
			}
			fmt.Fprintf(out, "target pid:     %d\n", rep.Pid)
			fmt.Fprintf(out, "attach before:  %s\n", rep.AttachBefore)
			fmt.Fprintf(out, "deny:           %s\n", rep.Deny)
			fmt.Fprintf(out, "attach after:   %s\n", rep.AttachAfter)
			fmt.Fprintf(out, "detected after: %t\n", rep.DetectAfter)
			fmt.Fprintf(out, "protected:      %t\n", rep.Protected)
			if !rep.Protected {
				return exitError{1}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	return cmd
}

func newTargetCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "target",
		Short:  "Serve as a probe target",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if !probe.Requested() {
				return errors.New("target must be started by probe")
			}
			if code := probe.Run(); code != 0 {
				return exitError{code}
			}
			return nil
		},
	}
}
