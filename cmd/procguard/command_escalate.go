package main

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/tiancaiamao/procguard/pkg/proc"
)

func newEscalateCmd(opts *rootOptions) *cobra.Command {
	var grace time.Duration

	cmd := &cobra.Command{
		Use:   "escalate <pid>",
		Short: "Send SIGTERM, then SIGKILL if the process survives the grace period",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := strconv.Atoi(args[0])
			if err != nil || pid <= 0 {
				return fmt.Errorf("invalid pid %q", args[0])
			}

			if grace <= 0 {
				cfg, err := opts.loadConfig()
				if err != nil {
					return err
				}
				grace = cfg.GracePeriodDuration()
			}

			esc := proc.NewEscalator(nil, grace, slog.Default())
			out := <-esc.Start(cmd.Context(), pid)
			if !out.Success() {
				return out.Err
			}

			if out.KillSent {
				fmt.Fprintf(cmd.OutOrStdout(), "sent SIGTERM and SIGKILL to %d\n", pid)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "sent SIGTERM to %d, exited within %s\n", pid, grace)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&grace, "grace", 0, "wait between SIGTERM and SIGKILL (default from config)")
	return cmd
}
