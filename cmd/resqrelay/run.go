package main

import (
	"fmt"
	"log/slog"

	"github.com/skobkin/resqrelay/internal/app"
	"github.com/spf13/cobra"
)

func newRunCmd(flags *globalFlags) *cobra.Command {
	var noAPI, noNotify bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the relay daemon until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := app.Initialize(cmd.Context(), flags.options())
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			if err := rt.StartRelay(app.RelayOptions{
				API:           !noAPI,
				Notifications: !noNotify,
				InstanceLock:  true,
			}); err != nil {
				return fmt.Errorf("start relay: %w", err)
			}

			<-cmd.Context().Done()
			slog.Info("shutting down")

			return nil
		},
	}
	cmd.Flags().BoolVar(&noAPI, "no-api", false, "do not serve the local HTTP API")
	cmd.Flags().BoolVar(&noNotify, "no-notify", false, "disable desktop notifications")

	return cmd
}
