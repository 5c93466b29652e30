// Command playground is the terminal client for the linux playground
// API: start a session, watch its countdown, stop it.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sathwik-git/linux-playground/pkg/client"
	"github.com/Sathwik-git/linux-playground/pkg/countdown"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand(logger)
	if err := root.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			os.Exit(130)
		}
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func newRootCommand(logger *slog.Logger) *cobra.Command {
	var (
		serverURL string
		token     string
	)

	root := &cobra.Command{
		Use:           "playground",
		Short:         "Start and stop ephemeral linux playground sessions",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Playground API base URL")
	root.PersistentFlags().StringVar(&token, "token", os.Getenv("PLAYGROUND_TOKEN"), "API bearer token")

	newClient := func() *client.Client {
		return client.New(serverURL, client.Credentials{Token: token})
	}

	root.AddCommand(
		newStartCommand(logger, newClient),
		newStopCommand(newClient),
		newStatusCommand(newClient),
	)
	return root
}

func newStartCommand(logger *slog.Logger, newClient func() *client.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start a session and watch its countdown until the lease ends",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			api := newClient()

			fmt.Fprintln(cmd.OutOrStdout(), "Starting session, this can take a few minutes...")
			view, err := api.CreateSession(ctx)
			if err != nil {
				return fmt.Errorf("failed to start session: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Session %s ready\n", view.SessionID)
			fmt.Fprintf(cmd.OutOrStdout(), "Terminal endpoint: %s\n", view.Endpoint)
			fmt.Fprintf(cmd.OutOrStdout(), "Lease ends at %s\n", view.EndTime.Local().Format(time.Kitchen))

			reporter := countdown.New(view.EndTime,
				func() {
					fmt.Fprintln(cmd.OutOrStdout(), "\nWarning: 5 minutes remaining")
				},
				func() {
					fmt.Fprintln(cmd.OutOrStdout(), "\nLease ended, stopping session")
					stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
					defer cancel()
					if err := api.TerminateByEndpoint(stopCtx, view.Endpoint); err != nil {
						logger.Warn("terminate at lease end failed", "error", err)
					}
				},
			)
			defer reporter.Stop()

			go printRemaining(ctx, cmd, reporter)

			// Blocks until the countdown hits zero or the user
			// interrupts. An interrupt leaves the session running;
			// the server lease still reclaims it.
			reporter.Run(ctx)
			return nil
		},
	}
}

func printRemaining(ctx context.Context, cmd *cobra.Command, reporter *countdown.Reporter) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fmt.Fprintf(cmd.OutOrStdout(), "\rTime remaining: %s ", countdown.FormatRemaining(reporter.Remaining()))
		case <-ctx.Done():
			return
		}
	}
}

func newStopCommand(newClient func() *client.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <endpoint>",
		Args:  cobra.ExactArgs(1),
		Short: "Stop the session that owns the given endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient().TerminateByEndpoint(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("failed to stop session: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Session terminated")
			return nil
		},
	}
}

func newStatusCommand(newClient func() *client.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "status [session-id]",
		Args:  cobra.MaximumNArgs(1),
		Short: "Show one session, or all of your sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			api := newClient()

			if len(args) == 1 {
				sess, err := api.GetSession(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s\n", sess.ID, sess.State, sess.Endpoint)
				return nil
			}

			sessions, err := api.ListSessions(cmd.Context())
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No sessions")
				return nil
			}
			for _, sess := range sessions {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s\n", sess.ID, sess.State, sess.Endpoint)
			}
			return nil
		},
	}
}
