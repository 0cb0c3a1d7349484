package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

type rootOptions struct {
	configPath string
	logLevel   string
}

func main() {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "tender-harvester",
		Short:         "Harvest tenders and their documents from the e-procurement API",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "configs/config.yaml", "Path to YAML config")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override observability.log_level (debug, info, warn, error)")

	rootCmd.AddCommand(harvestCmd(opts))
	rootCmd.AddCommand(detailsCmd(opts))
	rootCmd.AddCommand(documentsCmd(opts))
	rootCmd.AddCommand(filterCmd(opts))
	rootCmd.AddCommand(historyCmd(opts))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if errors.Is(err, context.Canceled) {
			os.Exit(130)
		}
		os.Exit(1)
	}
}
