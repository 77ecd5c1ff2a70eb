package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/skobkin/resqrelay/internal/app"
	"github.com/skip2/go-qrcode"
	"github.com/skobkin/resqrelay/internal/domain"
	"github.com/spf13/cobra"
)

func newMessagesCmd(flags *globalFlags) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "messages",
		Short: "List stored messages, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := domain.MessageStatus(strings.ToUpper(strings.TrimSpace(status)))
			if filter != "" && !filter.Valid() {
				return fmt.Errorf("unknown status %q", status)
			}

			return withRuntime(cmd.Context(), flags, func(rt *app.Runtime) error {
				var (
					list []domain.DistressMessage
					err  error
				)
				if filter != "" {
					list, err = rt.MessageRepo.ListByStatus(cmd.Context(), filter)
				} else {
					list, err = rt.MessageRepo.ListAll(cmd.Context())
				}
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tCREATED\tLOCATION\tMESSAGE")
				for _, m := range list {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
						m.ID, m.Category, m.Status, m.CreatedAt.Local().Format(time.DateTime), formatLocation(m.Location), m.Text)
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().StringVarP(&status, "status", "s", "", "only PENDING|DELIVERED|RELAYED|ACKNOWLEDGED")

	return cmd
}

func newIdentityCmd(flags *globalFlags) *cobra.Command {
	var withQR bool
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Print this device's mesh sender id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd.Context(), flags, func(rt *app.Runtime) error {
				id, err := rt.SettingsRepo.DeviceID(cmd.Context())
				if err != nil {
					return err
				}
				if withQR {
					art, err := identityQR(id)
					if err != nil {
						return err
					}
					fmt.Fprint(cmd.OutOrStdout(), art)
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), id.Hex())
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&withQR, "qr", false, "also print the id as a terminal QR code")

	return cmd
}

// identityQR renders "resqrelay:<hex>" so a rescuer can scan which device
// authored messages prefixed with that id.
func identityQR(id domain.DeviceID) (string, error) {
	qr, err := qrcode.New(app.Name+":"+id.Hex(), qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("render identity qr: %w", err)
	}

	return qr.ToSmallString(false), nil
}

func formatLocation(c *domain.Coordinates) string {
	if c == nil {
		return "-"
	}

	return fmt.Sprintf("%.5f,%.5f", c.Latitude, c.Longitude)
}
