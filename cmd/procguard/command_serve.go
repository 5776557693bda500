package main

import (
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tiancaiamao/procguard/pkg/config"
	"github.com/tiancaiamao/procguard/pkg/daemon"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var httpAddr string
	var debug bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the admission control daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if httpAddr != "" {
				cfg.HTTPAddr = httpAddr
			}
			if cfg.Log == nil {
				cfg.Log = config.DefaultLogConfig()
			}
			if debug {
				cfg.Log.Level = "debug"
			}

			log, err := cfg.Log.CreateLogger()
			if err != nil {
				return err
			}
			defer log.Close()
			slog.SetDefault(log.Logger)

			watchPath := ""
			if path, ok := opts.resolveConfigPath(); ok {
				watchPath = path
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			d := daemon.New(cfg, watchPath, log)
			return d.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&httpAddr, "http", "", "enable debug HTTP server on address (e.g. ':6060')")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")
	return cmd
}
