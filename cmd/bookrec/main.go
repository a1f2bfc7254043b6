package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "bookrec",
		Short:         "Personalized book recommendations",
		Long:          "Serves and computes book recommendations from a reader's favorites and reviews.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", os.Getenv("BOOKREC_CONFIG"), "path to a YAML config file")

	root.AddCommand(newServeCmd(&configPath))
	root.AddCommand(newRecommendCmd(&configPath))
	root.AddCommand(newSeedCmd(&configPath))

	return root
}
