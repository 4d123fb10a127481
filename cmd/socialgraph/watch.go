package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mindlog/social_layer/internal/config"
	"github.com/mindlog/social_layer/internal/notifications"
	"github.com/mindlog/social_layer/internal/session"
	"github.com/mindlog/social_layer/supabase/client"
)

var watchToken string

var watchUnreadCmd = &cobra.Command{
	Use:   "watch-unread",
	Short: "Sign in with an access token and print the unread notification count as it changes",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Backend != config.BackendSupabase {
			return fmt.Errorf("watch-unread requires BACKEND=supabase (got %q)", cfg.Backend)
		}
		if watchToken == "" {
			watchToken = os.Getenv("SUPABASE_ACCESS_TOKEN")
		}
		if watchToken == "" {
			return fmt.Errorf("an access token is required (--token or SUPABASE_ACCESS_TOKEN)")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		openCtx, cancel := withTimeout(cfg.Tunables.BackendTimeout)
		b, err := openBackend(openCtx, cfg, nil, log)
		cancel()
		if err != nil {
			return err
		}
		defer b.Close()

		apiKey := cfg.Supabase.AnonKey
		if apiKey == "" {
			apiKey = cfg.Supabase.APIKey()
		}
		rt := client.NewRealtimeClient(cfg.Supabase.URL, apiKey)
		rt.SetHeartbeat(cfg.Tunables.RealtimeHeartbeat)
		connectCtx, cancel := withTimeout(cfg.Tunables.BackendTimeout)
		err = rt.Connect(connectCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("realtime connect: %w", err)
		}
		defer rt.Disconnect()

		var verifier *session.Verifier
		if cfg.Supabase.JWTSecret != "" {
			verifier = session.NewVerifier(cfg.Supabase.JWTSecret, session.Audience)
		}
		sessions := session.NewManager(verifier)

		tracker := notifications.NewTracker(b, notifications.NewRealtimeFeed(rt), nil, log)
		defer tracker.Close()

		out := cmd.OutOrStdout()
		tracker.Subscribe(func(s notifications.State) {
			switch {
			case s.UserID == "":
				fmt.Fprintln(out, "signed out")
			case !s.Loaded:
				fmt.Fprintf(out, "%s: loading\n", s.UserID)
			default:
				fmt.Fprintf(out, "%s: %d unread\n", s.UserID, s.Count)
			}
		})
		unbind := tracker.BindSession(ctx, sessions)
		defer unbind()

		if verifier != nil {
			if _, err := sessions.SignIn(watchToken); err != nil {
				return err
			}
		} else {
			userID, err := session.UnverifiedSubject(watchToken)
			if err != nil {
				return err
			}
			log.WithContext(ctx).Warn("SUPABASE_JWT_SECRET not set; trusting the token subject without verification")
			sessions.SignInAs(userID, watchToken)
		}

		select {
		case <-ctx.Done():
		case <-rt.Done():
			return fmt.Errorf("realtime connection closed")
		}
		sessions.SignOut()
		return nil
	},
}

func init() {
	watchUnreadCmd.Flags().StringVar(&watchToken, "token", "", "Supabase access token of the user to watch")
}
