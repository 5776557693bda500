package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tiancaiamao/procguard/pkg/proc"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var profile string

	cmd := &cobra.Command{
		Use:   "run [--profile name] -- <command> [args...]",
		Short: "Wait for a slot, then run a command under it",
		Long: "run registers itself with the daemon before spawning the command, " +
			"holds the slot while the command runs and releases it when the command exits.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			var limits *proc.Limits
			if profile != "" {
				p, err := cfg.Profile(profile)
				if err != nil {
					return err
				}
				l := p.Limits()
				limits = &l
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			c, err := opts.dial(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			pid := int32(os.Getpid())
			if err := acquireSlot(ctx, c, pid, args[0], args[1:]); err != nil {
				return fmt.Errorf("failed to obtain a slot: %w", err)
			}
			defer func() {
				uctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
				defer cancel()
				if _, err := c.Unregister(uctx, pid); err != nil {
					slog.Warn("failed to unregister", "pid", pid, "error", err)
				}
			}()

			child := exec.Command(args[0], args[1:]...)
			child.Stdin = os.Stdin
			child.Stdout = cmd.OutOrStdout()
			child.Stderr = cmd.ErrOrStderr()
			if err := child.Start(); err != nil {
				return err
			}

			if limits != nil {
				if err := proc.ApplyLimits(child.Process.Pid, *limits); err != nil {
					slog.Warn("failed to apply profile limits", "profile", profile, "pid", child.Process.Pid, "error", err)
				}
			}

			// Terminate the child with escalation if we are interrupted.
			done := make(chan struct{})
			defer close(done)
			go func() {
				select {
				case <-ctx.Done():
					esc := proc.NewEscalator(nil, cfg.GracePeriodDuration(), slog.Default())
					<-esc.Start(context.Background(), child.Process.Pid)
				case <-done:
				}
			}()

			return child.Wait()
		},
	}
	cmd.Flags().StringVar(&profile, "profile", "", "resource profile to apply to the command (see 'procguard profiles')")
	return cmd
}
