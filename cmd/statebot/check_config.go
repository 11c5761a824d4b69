package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/memohai/statebot/internal/config"
	"github.com/memohai/statebot/internal/journal"
)

func newCheckConfigCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Load and validate the configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := resolveConfigPath(*configPath)
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: ok\n", path)
			fmt.Fprintf(out, "storage: %s\n", storageSummary(cfg.Storage))
			fmt.Fprintf(out, "journal: %s\n", journalSummary(cfg.Journal))
			enabled := 0
			for _, ch := range cfg.Channels {
				if !ch.Disabled {
					enabled++
				}
			}
			fmt.Fprintf(out, "channels: %d configured, %d enabled\n", len(cfg.Channels), enabled)
			return nil
		},
	}
}

func storageSummary(cfg config.StorageConfig) string {
	if cfg.Local != nil {
		return "local " + cfg.Local.Folder
	}
	if cfg.Mongo.URI != "" {
		return "mongo (uri) database " + cfg.Mongo.Database
	}
	return fmt.Sprintf("mongo %s:%d database %s", cfg.Mongo.Address, cfg.Mongo.Port, cfg.Mongo.Database)
}

func journalSummary(cfg config.JournalConfig) string {
	if !cfg.Enabled {
		return "disabled"
	}
	collection := cfg.Collection
	if collection == "" {
		collection = journal.DefaultCollection
	}
	return fmt.Sprintf("%s level %s, prune %s keeping %s", collection, cfg.Level, cfg.PruneSchedule, cfg.Retention)
}
