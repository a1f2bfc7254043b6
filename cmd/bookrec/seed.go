package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"bookrec/internal/store"
)

func newSeedCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <file.yaml>",
		Short: "Load books, users and reviews from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			defer logger.Sync()

			db, err := store.Open(cfg.Database.Path)
			if err != nil {
				return err
			}
			defer db.Close()

			stats, err := store.SeedFromFile(cmd.Context(), db, args[0])
			if err != nil {
				return err
			}

			logger.Info("seed complete",
				zap.String("file", args[0]),
				zap.String("db_path", cfg.Database.Path),
				zap.Int("books", stats.Books),
				zap.Int("users", stats.Users),
				zap.Int("reviews", stats.Reviews),
			)
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d books, %d users, %d reviews\n", stats.Books, stats.Users, stats.Reviews)
			return nil
		},
	}
}
