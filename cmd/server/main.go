package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marketchat/marketchat-server/internal/app"
	"github.com/marketchat/marketchat-server/internal/archive"
	"github.com/marketchat/marketchat-server/internal/config"
	"github.com/marketchat/marketchat-server/internal/log"
	"github.com/marketchat/marketchat-server/internal/store/sqlite"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:           "marketchat",
		Short:         "Encrypted customer-vendor chat server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat server",
		RunE: func(cmd *cobra.Command, args []string) error {
			bootstrap := log.New("info")
			cfg, path, err := config.Load(bootstrap, configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			logger := log.New(cfg.LogLevel)
			logger.Info().Str("config", path).Str("addr", cfg.Addr).Msg("starting marketchat server")

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := app.New(cfg, logger)
			if err != nil {
				return err
			}
			if err := application.Run(ctx); err != nil {
				return err
			}
			logger.Info().Msg("server stopped")
			return nil
		},
	}

	var olderThanDays int
	archiveCmd := &cobra.Command{
		Use:   "archive",
		Short: "Move aged messages to cold storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			bootstrap := log.New("info")
			cfg, _, err := config.Load(bootstrap, configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger := log.New(cfg.LogLevel)

			st, err := sqlite.New(cfg.DatabasePath)
			if err != nil {
				return fmt.Errorf("init store: %w", err)
			}
			defer st.Close()

			archiver, err := archive.New(st, cfg.ArchiveDatabasePath, logger)
			if err != nil {
				return fmt.Errorf("init archiver: %w", err)
			}
			defer archiver.Close()

			res, err := archiver.Archive(cmd.Context(), olderThanDays)
			if err != nil {
				return err
			}
			stats, err := archiver.Stats(cmd.Context())
			if err != nil {
				return err
			}

			logger.Info().
				Int("archived", res.Archived).
				Int("pruned", res.Pruned).
				Int("active", stats.ActiveCount).
				Int("cold", stats.ArchivedCount).
				Msg("archive pass complete")
			return nil
		},
	}
	archiveCmd.Flags().IntVar(&olderThanDays, "older-than-days", 90, "archive messages older than this many days")

	root.AddCommand(serve, archiveCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
