package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/eventrelay/internal/config"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "event-relay",
		Short: "FHIR event relay: Event Grid notifications to real-time subscribers",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(clientURLCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the relay HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func clientURLCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client-url",
		Short: "Print a Web PubSub client access URL for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, _ := cmd.Flags().GetString("user")
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			chans, err := buildChannels(cfg, logger)
			if err != nil {
				return err
			}
			info, err := chans.webPubSubNegotiator.Negotiate(cmd.Context(), user)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), info.URL)
			return nil
		},
	}
	cmd.Flags().String("user", "defaultUser", "user id to issue the URL for")
	return cmd
}

func tokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Print an access token for the FHIR service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			creds, closeCreds, err := buildCredentials(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer closeCreds()

			token, err := creds.GetAccessToken(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func loadConfig() (*config.Config, zerolog.Logger, error) {
	logger := newLogger(os.Getenv("ENV"))
	cfg, err := config.Load()
	if err != nil {
		return nil, logger, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, logger, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, logger, nil
}

func runServer() error {
	cfg, logger, err := loadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	ctx := context.Background()
	creds, closeCreds, err := buildCredentials(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up credentials")
	}
	defer closeCreds()

	chans, err := buildChannels(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up delivery channels")
	}

	e := newServer(cfg, creds, chans, logger)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().
			Str("addr", addr).
			Str("channel_mode", cfg.ChannelMode).
			Str("token_cache", cfg.TokenCache).
			Msg("starting event relay")
		if err := e.Start(addr); err != nil {
			logger.Info().Err(err).Msg("server stopped accepting connections")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
