package main

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tiancaiamao/procguard/pkg/client"
	"github.com/tiancaiamao/procguard/pkg/config"
)

const dialTimeout = 5 * time.Second

type rootOptions struct {
	configPath string
	socketPath string
}

func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "procguard",
		Short:         "Admission control and supervision for spawned processes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default ~/.procguard/config.json)")
	root.PersistentFlags().StringVar(&opts.socketPath, "socket", "", "control socket path (overrides config)")

	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newRegisterCmd(opts))
	root.AddCommand(newUnregisterCmd(opts))
	root.AddCommand(newStatusCmd(opts))
	root.AddCommand(newRunCmd(opts))
	root.AddCommand(newEscalateCmd(opts))
	root.AddCommand(newRouteCmd())
	root.AddCommand(newProfilesCmd(opts))

	return root
}

// resolveConfigPath returns the config file to use, and whether it exists.
func (o *rootOptions) resolveConfigPath() (string, bool) {
	path := o.configPath
	if path == "" {
		p, err := config.GetDefaultConfigPath()
		if err != nil {
			return "", false
		}
		path = p
	}
	_, err := os.Stat(path)
	return path, err == nil
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	path, _ := o.resolveConfigPath()
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if o.socketPath != "" {
		cfg.SocketPath = o.socketPath
	}
	return cfg, nil
}

func (o *rootOptions) dial(ctx context.Context) (*client.Client, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	return client.Dial(dctx, cfg.SocketPath)
}
