package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/tiancaiamao/procguard/pkg/client"
)

func parsePid(s string) (int32, error) {
	pid, err := strconv.ParseInt(s, 10, 32)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid %q", s)
	}
	return int32(pid), nil
}

// acquireSlot registers pid and waits for its slot. If the wait ends
// without an answer the registration is withdrawn, so the daemon never
// admits a pid nobody is waiting for.
func acquireSlot(ctx context.Context, c *client.Client, pid int32, command string, args []string) error {
	err := c.Register(ctx, pid, command, args)
	if err == nil || errors.Is(err, client.ErrRejected) {
		return err
	}

	wctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if _, uerr := c.Unregister(wctx, pid); uerr != nil {
		slog.Warn("failed to withdraw registration", "pid", pid, "error", uerr)
	}
	return err
}

func newRegisterCmd(opts *rootOptions) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "register <pid> <command> [args...]",
		Short: "Register a process and wait for a slot",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := parsePid(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			c, err := opts.dial(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			if err := acquireSlot(ctx, c, pid, args[1], args[2:]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered %d\n", pid)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "give up waiting for a slot after this long (0 = wait forever)")
	return cmd
}

func newUnregisterCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "unregister <pid>",
		Short: "Release the slot held by a process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := parsePid(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), dialTimeout)
			defer cancel()

			c, err := opts.dial(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			released, err := c.Unregister(ctx, pid)
			if err != nil {
				return err
			}
			if released {
				fmt.Fprintf(cmd.OutOrStdout(), "unregistered %d\n", pid)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%d was not registered\n", pid)
			}
			return nil
		},
	}
}
