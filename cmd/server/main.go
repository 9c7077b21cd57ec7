package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/jobchat-server/internal/app"
	"github.com/vovakirdan/jobchat-server/internal/auth"
	"github.com/vovakirdan/jobchat-server/internal/config"
	applog "github.com/vovakirdan/jobchat-server/internal/log"
	"github.com/vovakirdan/jobchat-server/internal/session"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "jobchat-server",
		Short:         "Real-time job messaging and read receipts",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log level")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP, websocket and socket.io server",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runServe(cmd.Context(), opts)
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Create the schema and, in listen mode, the notification triggers",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runMigrate(cmd.Context(), opts)
			},
		},
		newTokenCmd(opts),
		newWatchCmd(opts),
	)
	return root
}

// setup loads configuration and builds the process logger.
func setup(opts *rootOptions) (*config.Config, *zerolog.Logger, error) {
	bootLog := applog.New("info")
	cfg, path, err := config.Load(bootLog, opts.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	logger := applog.NewWithFormat(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	logger.Debug().Str("config", path).Msg("configuration loaded")
	return &cfg, logger, nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func runServe(parent context.Context, opts *rootOptions) error {
	cfg, logger, err := setup(opts)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(parent)
	defer stop()

	application, err := app.New(cfg, logger)
	if err != nil {
		return err
	}

	logger.Info().Str("addr", cfg.Addr).Str("driver", cfg.Database.Driver).Msg("starting jobchat server")
	if err := application.Run(ctx); err != nil {
		return fmt.Errorf("server exited with error: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

func runMigrate(parent context.Context, opts *rootOptions) error {
	cfg, logger, err := setup(opts)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, stop := signalContext(parent)
	defer stop()

	st, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	logger.Info().Msg("migration complete")
	return st.Close()
}

func newTokenCmd(opts *rootOptions) *cobra.Command {
	var id auth.Identity

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a signed token for a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := setup(opts)
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return auth.ErrMissingSecret
			}
			token, err := auth.GenerateToken(&auth.JWTConfig{
				Secret:   []byte(cfg.JWTSecret),
				Issuer:   cfg.JWTIssuer,
				Audience: cfg.JWTAudience,
				TTL:      cfg.JWTTTL,
			}, id)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&id.UserID, "user", "", "user id (token subject)")
	cmd.Flags().StringVar(&id.Name, "name", "", "display name")
	cmd.Flags().StringVar(&id.Role, "role", "", "user role")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newWatchCmd(opts *rootOptions) *cobra.Command {
	var (
		server string
		token  string
		userID string
		jobID  string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow a job conversation as a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(opts)
			if err != nil {
				return err
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			base := strings.TrimRight(server, "/")
			wsURL := "ws" + strings.TrimPrefix(base, "http") + "/ws"
			apiUser := userID
			if token != "" {
				apiUser = ""
			}

			m := session.New(session.Config{
				UserID:               userID,
				JobID:                jobID,
				MaxReconnectAttempts: cfg.Client.MaxReconnectAttempts,
				ReconnectDelay:       cfg.Client.ReconnectDelay,
				ReconnectDelayMax:    cfg.Client.ReconnectDelayMax,
				PollInterval:         cfg.Client.PollInterval,
			}, &session.WSDialer{URL: wsURL, Token: token},
				session.NewAPIClient(base, token, apiUser),
				applog.Component(logger, "session"))

			out := cmd.OutOrStdout()
			m.OnUpdate(func(u session.Update) {
				switch {
				case u.Message != nil:
					read := " "
					if u.Message.IsRead {
						read = "✓"
					}
					fmt.Fprintf(out, "[%s] %s %s -> %s: %s\n", read, u.Message.CreatedAt.Format("15:04:05"),
						u.Message.SenderID, u.Message.ReceiverID, u.Message.Content)
				case u.Receipt != nil:
					fmt.Fprintf(out, "read by %s\n", u.Receipt.ReadBy)
				case u.Polled > 0:
					fmt.Fprintf(out, "polled %d new message(s)\n", u.Polled)
				default:
					fmt.Fprintf(out, "state: %s\n", u.State)
				}
			})

			if err := m.Start(ctx); err != nil {
				return err
			}
			<-ctx.Done()
			m.Stop()
			return nil
		},
	}
	cmd.Flags().StringVar(&server, "server", "http://localhost:8080", "server base URL")
	cmd.Flags().StringVar(&token, "token", "", "bearer token")
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().StringVar(&jobID, "job", "", "job id")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("job")
	return cmd
}
