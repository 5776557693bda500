package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tiancaiamao/procguard/pkg/router"
)

func newRouteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "route <prompt...>",
		Short: "Classify a prompt into a task category",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), router.DetectTaskType(strings.Join(args, " ")))
			return nil
		},
	}
}
