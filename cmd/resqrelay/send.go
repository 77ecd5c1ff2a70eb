package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/skobkin/resqrelay/internal/app"
	"github.com/skobkin/resqrelay/internal/domain"
	"github.com/skobkin/resqrelay/internal/platform"
	"github.com/spf13/cobra"
)

const (
	connectivityWait = 5 * time.Second
	daemonTimeout    = 10 * time.Second
)

func newSendCmd(flags *globalFlags) *cobra.Command {
	var (
		category string
		message  string
		linger   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Submit one distress message",
		Long: "Submit one distress message. When a daemon already runs, the message is " +
			"handed to its API; otherwise the relay starts in-process and keeps " +
			"broadcasting for --linger or until the gateway queue drains.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, err := domain.ParseCategory(category)
			if err != nil {
				return fmt.Errorf("--type: %w", err)
			}

			return withRuntime(cmd.Context(), flags, func(rt *app.Runtime) error {
				err := rt.StartRelay(app.RelayOptions{InstanceLock: true})
				if errors.Is(err, platform.ErrInstanceAlreadyRunning) {
					if pid, ok := platform.InstanceOwner(app.Name, rt.Paths.RootDir); ok {
						fmt.Fprintf(cmd.ErrOrStderr(), "relay pid %d owns %s, handing over to its API\n", pid, rt.Paths.RootDir)
					}
					id, postErr := postToDaemon(cmd.Context(), rt.CurrentConfig().API.Listen, cat, message)
					if postErr != nil {
						return fmt.Errorf("daemon is running but its API refused the message: %w", postErr)
					}
					_, err := fmt.Fprintln(cmd.OutOrStdout(), id)
					return err
				}
				if err != nil {
					return fmt.Errorf("start relay: %w", err)
				}

				if change, ok := rt.WaitConnectivity(connectivityWait); ok {
					fmt.Fprintf(cmd.ErrOrStderr(), "connectivity: %s\n", change.Class)
				}
				id, err := rt.Engine.Submit(cmd.Context(), cat, message)
				if err != nil {
					return err
				}
				rt.Engine.WaitIdle()
				fmt.Fprintln(cmd.OutOrStdout(), id)

				lingerUntilDrained(cmd.Context(), rt, linger)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&category, "type", "t", string(domain.CategoryGeneral), "category: MEDICAL|RESCUE|FOOD|TRAPPED|GENERAL|OTHER")
	cmd.Flags().StringVarP(&message, "message", "m", "", "message text (14 bytes reach the mesh)")
	cmd.Flags().DurationVar(&linger, "linger", 30*time.Second, "how long to keep broadcasting after submit")

	return cmd
}

func lingerUntilDrained(ctx context.Context, rt *app.Runtime, linger time.Duration) {
	if linger <= 0 {
		return
	}
	deadline := time.NewTimer(linger)
	defer deadline.Stop()
	tick := time.NewTicker(250 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			return
		case <-tick.C:
			// With no gateway the full linger keeps the advertisement on air.
			if rt.Gateway != nil && rt.Gateway.QueueLen() == 0 {
				return
			}
		}
	}
}

func postToDaemon(ctx context.Context, listen string, category domain.Category, text string) (string, error) {
	body, err := json.Marshal(map[string]string{"type": string(category), "message": text})
	if err != nil {
		return "", err
	}
	url := "http://" + strings.TrimPrefix(listen, "http://") + "/api/messages"

	ctx, cancel := context.WithTimeout(ctx, daemonTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	var out struct {
		ID    string `json:"id"`
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	_ = json.Unmarshal(raw, &out)
	if resp.StatusCode != http.StatusAccepted {
		if out.Error == "" {
			out.Error = strings.TrimSpace(string(raw))
		}
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, out.Error)
	}

	return out.ID, nil
}
