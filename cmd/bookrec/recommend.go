package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"bookrec/internal/recommend"
)

func newRecommendCmd(configPath *string) *cobra.Command {
	var opts recommend.Options

	cmd := &cobra.Command{
		Use:   "recommend <user-id>",
		Short: "Print recommendations for one user as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			defer logger.Sync()

			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			list, err := a.recommender.Recommend(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(list)
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", recommend.DefaultLimit, "maximum number of recommendations")
	cmd.Flags().StringVar(&opts.Genre, "genre", "", "only recommend books in this genre")
	cmd.Flags().BoolVar(&opts.ForceRefresh, "refresh", false, "ignore cached results")

	return cmd
}
