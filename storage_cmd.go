package main

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/elma1989/join/config"
	"github.com/elma1989/join/storage"
)

var initStorageCmd = &cobra.Command{
	Use:   "init-storage",
	Short: "Create the tables and the retry queue",
	Long: `Create every table and the retry queue named in the configuration.
Existing tables and queues are left alone, so the command can run on every
deploy.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Read(configPath)
		if err != nil {
			return err
		}
		configureLogging(cfg)
		if cfg.Storage.ConnectionString == "" {
			return errors.New("storage.connection_string is required")
		}
		ctx := cmd.Context()
		var tables []string
		for _, name := range tablesOf(cfg.Storage) {
			tables = append(tables, name)
		}
		if err := storage.CreateTables(ctx, cfg.Storage.ConnectionString, tables); err != nil {
			return fmt.Errorf("create tables: %w", err)
		}
		if err := storage.CreateQueues(ctx, cfg.Storage.ConnectionString, []string{cfg.Storage.RetryQueue}); err != nil {
			return fmt.Errorf("create queues: %w", err)
		}
		log.WithFields(log.Fields{"tables": tables, "queue": cfg.Storage.RetryQueue}).Info("storage initialized")
		return nil
	},
}

var replayWritesCmd = &cobra.Command{
	Use:   "replay-writes",
	Short: "Replay subtask writes parked by best-effort saves",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		configureLogging(cfg)
		logger := log.StandardLogger()
		b, err := openBackend(cfg, logger)
		if err != nil {
			return err
		}
		defer b.Close()

		n, err := b.retry.Drain(cmd.Context(), b.tasks.ApplyPending)
		logger.WithField("writes", n).Info("replayed parked writes")
		return err
	},
}
