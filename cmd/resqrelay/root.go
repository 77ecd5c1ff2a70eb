package main

import (
	"context"
	"fmt"

	"github.com/skobkin/resqrelay/internal/app"
	"github.com/spf13/cobra"
)

type globalFlags struct {
	dataDir  string
	config   string
	logLevel string
}

func (f globalFlags) options() app.Options {
	return app.Options{DataDir: f.dataDir, ConfigFile: f.config, LogLevel: f.logLevel}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "resqrelay",
		Short:         "Offline emergency relay over mesh radio, gateway link and cloud",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.dataDir, "data-dir", "", "directory for config, database and logs (default: user config dir)")
	root.PersistentFlags().StringVar(&flags.config, "config", "", "config file path")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override log level: debug|info|warn|error")

	root.AddCommand(
		newRunCmd(flags),
		newSendCmd(flags),
		newMessagesCmd(flags),
		newIdentityCmd(flags),
		newVersionCmd(),
	)

	return root
}

// withRuntime initializes storage and logging only, runs fn and closes.
func withRuntime(ctx context.Context, flags *globalFlags, fn func(rt *app.Runtime) error) error {
	rt, err := app.Initialize(ctx, flags.options())
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	return fn(rt)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", app.Name, app.BuildVersionWithDate())
			return err
		},
	}
}
