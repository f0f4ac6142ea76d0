package main

import (
	"github.com/spf13/cobra"

	"github.com/tusharlock10/antidebug/internal/config"
	"github.com/tusharlock10/antidebug/monitor"
)

func newWatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Check for debuggers in the background until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, cancel := a.signalContext()
			defer cancel()

			mc := a.cfg.Monitor
			opts := []monitor.Option{
				monitor.WithLogger(a.log),
				monitor.WithInterval(mc.MinInterval.Duration, mc.MaxInterval.Duration),
				monitor.WithNotifyRate(mc.NotifyEvery.Duration, 1),
			}
			if mc.Action == config.ActionExit {
				opts = append(opts, monitor.WithExit(mc.ExitCode, mc.ExitMaxDelay.Duration))
			}

			a.log.Info().
				Dur("min_interval", mc.MinInterval.Duration).
				Dur("max_interval", mc.MaxInterval.Duration).
				Str("action", string(mc.Action)).
				Msg("Watching for debuggers")
			monitor.New(opts...).Run(ctx)
			return nil
		},
	}
}
