package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newProfilesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List resource profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tMEM(MB)\tPROCS\tCPU(s)\tNICE")
			for _, name := range cfg.ProfileNames() {
				p := cfg.Profiles[name]
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\n", name, p.MaxMemMB, p.MaxProcs, p.CPULimitSec, p.Nice)
			}
			return w.Flush()
		},
	}
}
