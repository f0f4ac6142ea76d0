package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tusharlock10/antidebug"
	"github.com/tusharlock10/antidebug/internal/process"
)

// attachFailures are the messages gdb and lldb print when attaching fails.
var attachFailures = []string{
	"Operation not permitted",
	"Could not attach",
	"error: attach failed",
	"unable to attach",
}

func newDenyCmd(a *app) *cobra.Command {
	var (
		harden       bool
		debugger     string
		expectAttach bool
	)
	cmd := &cobra.Command{
		Use:   "deny",
		Short: "Deny debugger attachment, optionally verifying it with a real debugger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()

			err := antidebug.DenyAttach()
			switch {
			case err == nil:
				fmt.Fprintln(out, "attachment denied")
			case errors.Is(err, antidebug.ErrAlreadyDenied):
				fmt.Fprintln(out, "attachment already denied")
			default:
				return err
			}
			if harden {
				if err := antidebug.Harden(); err != nil {
					return fmt.Errorf("harden: %w", err)
				}
			}

			if debugger == "" {
				return nil
			}
			attached, output, err := runDebugger(debugger, os.Getpid())
			if err != nil {
				return err
			}
			a.log.Debug().Str("debugger", debugger).Str("output", output).Msg("Debugger finished")
			fmt.Fprintf(out, "%s attached: %t\n", debugger, attached)
			if attached != expectAttach {
				return fmt.Errorf("%s attach result %t, expected %t", debugger, attached, expectAttach)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.BoolVar(&harden, "harden", false, "Also disable core dumps and mark the process non-dumpable")
	f.StringVar(&debugger, "debugger", "", "Try to attach gdb or lldb to this process afterwards")
	f.BoolVar(&expectAttach, "expect-attach", false, "Expect the debugger attach to succeed")
	return cmd
}

func debuggerArgs(name string, pid int) ([]string, error) {
	p := strconv.Itoa(pid)
	switch name {
	case "gdb":
		return []string{"-p", p, "--batch", "-ex", "detach", "-ex", "quit"}, nil
	case "lldb":
		return []string{"-p", p, "--batch", "-o", "detach", "-o", "quit"}, nil
	default:
		return nil, fmt.Errorf("unknown debugger %q (want gdb or lldb)", name)
	}
}

// runDebugger runs the debugger in batch mode against pid and reports whether
// it managed to attach.
func runDebugger(name string, pid int) (bool, string, error) {
	args, err := debuggerArgs(name, pid)
	if err != nil {
		return false, "", err
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return false, "", fmt.Errorf("find %s: %w", name, err)
	}

	var buf bytes.Buffer
	m, err := process.Launch(path, args, nil, process.WithOutput(&buf, &buf))
	if err != nil {
		return false, "", err
	}
	waitErr := m.Wait()
	output := buf.String()
	return attachSucceeded(waitErr, output), output, nil
}

func attachSucceeded(waitErr error, output string) bool {
	if waitErr != nil {
		return false
	}
	for _, msg := range attachFailures {
		if strings.Contains(output, msg) {
			return false
		}
	}
	return true
}
